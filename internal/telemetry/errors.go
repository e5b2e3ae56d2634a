package telemetry

import (
	"errors"
	"fmt"
)

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonMissingField      Reason = "missing_field"
	ReasonInvalidSubject    Reason = "invalid_subject"
	ReasonSubjectMismatch   Reason = "subject_mismatch"
	ReasonInvalidSource     Reason = "invalid_source_model"
	ReasonInvalidSignalCode Reason = "invalid_signal_code"
	ReasonInvalidConfidence Reason = "invalid_confidence"
	ReasonConfidenceRange   Reason = "confidence_out_of_range"
	ReasonInvalidTimestamp  Reason = "invalid_timestamp"
	ReasonFutureTimestamp   Reason = "future_timestamp"
	ReasonSchemaViolation   Reason = "schema_violation"
)

// ErrValidation matches every *ValidationError via errors.Is.
var ErrValidation = errors.New("telemetry: validation failed")

// Rejection records why a row was excluded in lenient mode.
type Rejection struct {
	Index  int    `json:"index"`
	RowID  string `json:"row_id"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// ValidationError aborts a strict-mode load. It names the first offending row.
type ValidationError struct {
	Subject Subject
	Rejection
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("telemetry: invalid row %s for %s: %s", e.RowID, e.Subject, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
