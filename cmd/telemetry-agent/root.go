// telemetry-agent interprets predictive-maintenance model output for vehicles
// and fleet cohorts.
//
// Usage:
//
//	telemetry-agent interpret vin <VIN> [--strict] [--no-fallback] [--format=json|ascii|markdown]
//	telemetry-agent interpret cohort <COHORT_ID>
//	telemetry-agent cohorts
//	telemetry-agent approve --subject-id=<VIN> --decision=APPROVED --actor=<name>
//	telemetry-agent approvals [--subject-type=VIN] [--subject-id=<id>]
//	telemetry-agent reference [codes...]
//	telemetry-agent mart import --dsn=<path>
//	telemetry-agent status
//	telemetry-agent serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

// cfg is loaded once by the root pre-run hook.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "telemetry-agent",
	Short: "Evidence-backed interpretation of vehicle telemetry model output",
	Long: "telemetry-agent turns Machine Health, Maintenance Prediction and Failure Impact\n" +
		"model output into risk levels, recommendations and narratives for a VIN or cohort.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.configPath, "config", "c", os.Getenv("TELEMETRY_AGENT_CONFIG"), "Path to YAML or JSON config file")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	pf.StringVar(&rootFlags.logFormat, "log-format", "", "Override log format (text, json)")

	rootCmd.AddCommand(interpretCmd)
	rootCmd.AddCommand(cohortsCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(referenceCmd)
	rootCmd.AddCommand(martCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}
	if rootFlags.logLevel != "" {
		c.Log.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		c.Log.Format = rootFlags.logFormat
	}
	logging.Init(logging.ParseLevel(c.Log.Level), c.Log.Format, cmd.ErrOrStderr())
	logging.New("cli").Debug("configuration loaded", "summary", c.Summary())
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
