package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nneupane1/telemetry-agent/internal/format"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/reference"
)

var referenceFlags struct {
	dir    string
	output string
}

var referenceCmd = &cobra.Command{
	Use:   "reference [codes...]",
	Short: "Load the reference dictionaries and show how signal codes resolve",
	Long: `Loads ref_hi_catalog, ref_hi_family_map and ref_confidence_map from the
reference directory and prints the merged entries. With no arguments every
known code is listed; unknown codes show their fallback resolution.`,
	RunE: runReference,
}

func init() {
	f := referenceCmd.Flags()
	f.StringVar(&referenceFlags.dir, "dir", "", "Reference directory (default: data.reference_dir from config)")
	f.StringVarP(&referenceFlags.output, "format", "f", "ascii", "Output format: json, ascii, markdown")
}

func runReference(cmd *cobra.Command, args []string) error {
	out, err := parseOutput(referenceFlags.output)
	if err != nil {
		return err
	}
	dir := referenceFlags.dir
	if dir == "" {
		dir = cfg.Data.ReferenceDir
	}
	set, err := reference.LoadDir(dir)
	if err != nil {
		return err
	}
	codes := args
	if len(codes) == 0 {
		codes = set.Codes()
	}
	entries := make([]reference.Entry, len(codes))
	for i, code := range codes {
		entries[i] = set.Resolve(code)
	}

	w := cmd.OutOrStdout()
	if out.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	tb := format.NewTable(out.mode)
	tb.Title(fmt.Sprintf("%d codes from %s", set.Len(), dir))
	tb.Header("Code", "Label", "Family", "Known", "Own bands")
	for _, e := range entries {
		tb.Row(e.Code, format.Truncate(e.Label, 50), interpretation.FamilyTitle(e.Family), format.BoolMark(e.Known), len(e.Bands))
	}
	tb.Columns(format.ColumnConfig{Number: 4, Align: format.AlignCenter}, format.ColumnConfig{Number: 5, Align: format.AlignRight})
	fmt.Fprintln(w, tb.String())
	return nil
}
