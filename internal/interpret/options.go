package interpret

import (
	"fmt"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// Options are the per-request choices of a caller.
type Options struct {
	// StrictValidation aborts on the first invalid row. A configuration that
	// already demands strict validation cannot be relaxed per request.
	StrictValidation bool `json:"strict_validation"`
	// AllowFallback permits the sequential runner to stand in for the graph.
	// It narrows the configured permission and never widens it.
	AllowFallback bool `json:"allow_fallback"`
	// NarrativeTimeoutMS bounds the generative narrative. Zero uses the
	// configured provider timeout.
	NarrativeTimeoutMS int `json:"narrative_timeout_ms"`
	// Mode forces a runner. Empty lets the mode-selection policy decide.
	Mode interpretation.ExecutionMode `json:"mode,omitempty"`
}

// DefaultOptions returns the options a request gets when the caller has no
// preference.
func DefaultOptions(cfg config.Config) Options {
	return Options{
		StrictValidation:   cfg.Features.StrictValidation,
		AllowFallback:      true,
		NarrativeTimeoutMS: int(cfg.LLM.Timeout.Milliseconds()),
	}
}

// InvalidSubjectError rejects a request whose subject id has the wrong
// shape. It matches telemetry.ErrValidation.
type InvalidSubjectError struct {
	Subject telemetry.Subject
}

func (e *InvalidSubjectError) Error() string {
	return fmt.Sprintf("interpret: invalid %s id %q", e.Subject.Type, e.Subject.ID)
}

func (e *InvalidSubjectError) Is(target error) bool { return target == telemetry.ErrValidation }
