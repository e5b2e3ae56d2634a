package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nneupane1/telemetry-agent/internal/format"
)

var cohortsFlags struct {
	output string
}

var cohortsCmd = &cobra.Command{
	Use:   "cohorts",
	Short: "List the cohorts available in the mart",
	Args:  cobra.NoArgs,
	RunE:  runCohorts,
}

func init() {
	cohortsCmd.Flags().StringVarP(&cohortsFlags.output, "format", "f", "ascii", "Output format: json, ascii, markdown")
}

func runCohorts(cmd *cobra.Command, _ []string) error {
	out, err := parseOutput(cohortsFlags.output)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(a *app) error {
		cohorts, err := a.engine.ListCohorts(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if out.json {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(cohorts)
		}
		fmt.Fprintln(w, format.Cohorts(cohorts, out.mode))
		return nil
	})
}
