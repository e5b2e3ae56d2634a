package interpret

import (
	"context"
	"fmt"
	"strings"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/store"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// ApprovalRequest is an operator decision before the engine stamps it.
type ApprovalRequest struct {
	SubjectType telemetry.SubjectType   `json:"subject_type"`
	SubjectID   string                  `json:"subject_id"`
	Decision    interpretation.Decision `json:"decision"`
	Comment     string                  `json:"comment,omitempty"`
	Actor       string                  `json:"actor"`
}

// RecordApproval stamps req with an id, the current time and the model
// version, and appends it to the ledger. The engine never reads the ledger
// back while interpreting.
func (e *Engine) RecordApproval(ctx context.Context, req ApprovalRequest) (interpretation.ApprovalRecord, error) {
	id := strings.TrimSpace(req.SubjectID)
	if req.SubjectType == telemetry.SubjectVIN {
		id = telemetry.NormalizeVIN(id)
	}
	subject := telemetry.Subject{Type: req.SubjectType, ID: id}
	if !e.validator.ValidSubject(subject.Type, subject.ID) {
		return interpretation.ApprovalRecord{}, &InvalidSubjectError{Subject: subject}
	}
	rec := interpretation.ApprovalRecord{
		ID:           e.newID(),
		SubjectType:  subject.Type,
		SubjectID:    subject.ID,
		Decision:     interpretation.Decision(strings.ToUpper(strings.TrimSpace(string(req.Decision)))),
		Comment:      strings.TrimSpace(req.Comment),
		Actor:        strings.TrimSpace(req.Actor),
		Timestamp:    e.now().UTC(),
		ModelVersion: e.cfg.ModelVersion,
	}
	if err := e.ledger.AppendApproval(ctx, rec); err != nil {
		return interpretation.ApprovalRecord{}, fmt.Errorf("record approval: %w", err)
	}
	e.logger.Info("approval recorded", "id", rec.ID, "subject", subject.String(),
		"decision", string(rec.Decision), "actor", rec.Actor)
	return rec, nil
}

// ListApprovals reads the ledger for operators. Interpretation never calls it.
func (e *Engine) ListApprovals(ctx context.Context, f store.Filter) ([]interpretation.ApprovalRecord, error) {
	return e.ledger.ListApprovals(ctx, f)
}
