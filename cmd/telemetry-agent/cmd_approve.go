package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nneupane1/telemetry-agent/internal/display"
	"github.com/nneupane1/telemetry-agent/internal/format"
	"github.com/nneupane1/telemetry-agent/internal/interpret"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/store"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

var approveFlags struct {
	subjectType string
	subjectID   string
	decision    string
	comment     string
	actor       string
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Record an operator decision on an interpretation",
	Long: `Appends an APPROVED, REJECTED or NEEDS_REVIEW decision to the approval ledger.
Decisions are an audit trail only; they never change later interpretations.

With the default in-memory ledger the record is lost when the command exits.
Set data.ledger_driver to sqlite or postgres to keep it.`,
	Args: cobra.NoArgs,
	RunE: runApprove,
}

var approvalsFlags struct {
	subjectType string
	subjectID   string
	limit       int
	output      string
}

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List recorded operator decisions, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runApprovals,
}

func init() {
	f := approveCmd.Flags()
	f.StringVar(&approveFlags.subjectType, "subject-type", string(telemetry.SubjectVIN), "VIN or COHORT")
	f.StringVar(&approveFlags.subjectID, "subject-id", "", "VIN or cohort id (required)")
	f.StringVar(&approveFlags.decision, "decision", "", "APPROVED, REJECTED or NEEDS_REVIEW (required)")
	f.StringVar(&approveFlags.comment, "comment", "", "Free-text justification")
	f.StringVar(&approveFlags.actor, "actor", "", "Operator recording the decision (required)")
	_ = approveCmd.MarkFlagRequired("subject-id")
	_ = approveCmd.MarkFlagRequired("decision")
	_ = approveCmd.MarkFlagRequired("actor")

	lf := approvalsCmd.Flags()
	lf.StringVar(&approvalsFlags.subjectType, "subject-type", "", "Restrict to VIN or COHORT")
	lf.StringVar(&approvalsFlags.subjectID, "subject-id", "", "Restrict to one subject")
	lf.IntVar(&approvalsFlags.limit, "limit", 0, "Maximum number of records (0 = all)")
	lf.StringVarP(&approvalsFlags.output, "format", "f", "ascii", "Output format: json, ascii, markdown")
}

func runApprove(cmd *cobra.Command, _ []string) error {
	if cfg.Data.LedgerDriver == "" || cfg.Data.LedgerDriver == store.DriverMemory {
		logging.New("cli").Warn("approval ledger is in-memory; the record will not persist")
	}
	return withApp(cmd.Context(), func(a *app) error {
		rec, err := a.engine.RecordApproval(cmd.Context(), interpret.ApprovalRequest{
			SubjectType: telemetry.SubjectType(strings.ToUpper(approveFlags.subjectType)),
			SubjectID:   approveFlags.subjectID,
			Decision:    interpretation.Decision(approveFlags.decision),
			Comment:     approveFlags.comment,
			Actor:       approveFlags.actor,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s %s (id=%s)\n",
			display.Decision(rec.Decision), rec.SubjectType, rec.SubjectID, rec.ID)
		return nil
	})
}

func runApprovals(cmd *cobra.Command, _ []string) error {
	out, err := parseOutput(approvalsFlags.output)
	if err != nil {
		return err
	}
	f := store.Filter{
		SubjectType: telemetry.SubjectType(strings.ToUpper(approvalsFlags.subjectType)),
		SubjectID:   strings.TrimSpace(approvalsFlags.subjectID),
		Limit:       approvalsFlags.limit,
	}
	if f.SubjectType == telemetry.SubjectVIN {
		f.SubjectID = telemetry.NormalizeVIN(f.SubjectID)
	}
	return withApp(cmd.Context(), func(a *app) error {
		records, err := a.engine.ListApprovals(cmd.Context(), f)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if out.json {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}
		if len(records) == 0 {
			fmt.Fprintln(w, "No approvals recorded.")
			return nil
		}
		fmt.Fprintln(w, format.Approvals(records, out.mode))
		return nil
	})
}
