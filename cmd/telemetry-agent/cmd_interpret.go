package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nneupane1/telemetry-agent/internal/format"
	"github.com/nneupane1/telemetry-agent/internal/interpret"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

var interpretFlags struct {
	strict     bool
	noFallback bool
	timeoutMS  int
	mode       string
	output     string
}

var interpretCmd = &cobra.Command{
	Use:   "interpret",
	Short: "Interpret a vehicle or a cohort",
}

var interpretVINCmd = &cobra.Command{
	Use:   "vin <VIN>",
	Short: "Interpret the telemetry of one vehicle",
	Args:  cobra.ExactArgs(1),
	RunE:  runInterpret(telemetry.SubjectVIN),
}

var interpretCohortCmd = &cobra.Command{
	Use:   "cohort <COHORT_ID>",
	Short: "Interpret a fleet cohort",
	Args:  cobra.ExactArgs(1),
	RunE:  runInterpret(telemetry.SubjectCohort),
}

func init() {
	f := interpretCmd.PersistentFlags()
	f.BoolVar(&interpretFlags.strict, "strict", false, "Abort on the first invalid row instead of skipping it")
	f.BoolVar(&interpretFlags.noFallback, "no-fallback", false, "Fail instead of falling back to the sequential pipeline")
	f.IntVar(&interpretFlags.timeoutMS, "timeout-ms", 0, "Generative narrative timeout in milliseconds (0 = configured default)")
	f.StringVar(&interpretFlags.mode, "mode", "", "Force a pipeline runner: graph or sequential")
	f.StringVarP(&interpretFlags.output, "format", "f", "ascii", "Output format: json, ascii, markdown")

	interpretCmd.AddCommand(interpretVINCmd)
	interpretCmd.AddCommand(interpretCohortCmd)
}

func interpretOptions() (interpret.Options, error) {
	opts := interpret.DefaultOptions(cfg)
	opts.StrictValidation = opts.StrictValidation || interpretFlags.strict
	opts.AllowFallback = !interpretFlags.noFallback
	if interpretFlags.timeoutMS < 0 {
		return opts, fmt.Errorf("--timeout-ms must not be negative")
	}
	if interpretFlags.timeoutMS > 0 {
		opts.NarrativeTimeoutMS = interpretFlags.timeoutMS
	}
	switch m := interpretation.ExecutionMode(strings.ToLower(interpretFlags.mode)); m {
	case "":
	case interpretation.ModeGraph, interpretation.ModeSequential:
		opts.Mode = m
	default:
		return opts, fmt.Errorf("unknown --mode %q (want graph or sequential)", interpretFlags.mode)
	}
	return opts, nil
}

// runInterpret builds the RunE of one interpret subcommand. The subject type
// is bound here rather than read back from the command value.
func runInterpret(subject telemetry.SubjectType) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		out, err := parseOutput(interpretFlags.output)
		if err != nil {
			return err
		}
		opts, err := interpretOptions()
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(a *app) error {
			var res *interpretation.Interpretation
			if subject == telemetry.SubjectCohort {
				res, err = a.engine.InterpretCohort(cmd.Context(), args[0], opts)
			} else {
				res, err = a.engine.InterpretVIN(cmd.Context(), args[0], opts)
			}
			if err != nil {
				return err
			}
			return writeInterpretation(cmd.OutOrStdout(), res, out)
		})
	}
}

func writeInterpretation(w io.Writer, res *interpretation.Interpretation, out outputFormat) error {
	if out.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err := fmt.Fprintln(w, format.Interpretation(res, out.mode))
	return err
}
