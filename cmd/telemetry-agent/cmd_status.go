package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nneupane1/telemetry-agent/internal/format"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

var statusFlags struct {
	output string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, capability probes and pipeline layout",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusFlags.output, "format", "f", "ascii", "Output format: ascii, markdown")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	mode, err := format.ParseMode(statusFlags.output)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(a *app) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Config:  %s\n\n", cfg.Summary())

		caps := a.engine.Capabilities()
		fmt.Fprintln(out, format.Capabilities([]format.Capability{
			{Name: "graph pipeline", Available: caps.Graph, Cause: caps.GraphCause},
			{Name: "sequential fallback", Available: caps.AllowFallback},
			{Name: "generative narrative", Available: caps.Generative, Cause: caps.GenerativeCause},
		}, mode))

		for _, t := range []telemetry.SubjectType{telemetry.SubjectVIN, telemetry.SubjectCohort} {
			name, stages, err := a.engine.Stages(t)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, format.Pipeline(name, stages, mode))
		}
		return nil
	})
}
