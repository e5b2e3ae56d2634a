package orchestrate

import (
	"errors"
	"fmt"
)

var (
	// ErrOrchestrationUnavailable matches every *OrchestrationUnavailableError.
	ErrOrchestrationUnavailable = errors.New("orchestrate: orchestration unavailable")
	// ErrInterpretationFailed matches every *InterpretationFailedError.
	ErrInterpretationFailed = errors.New("orchestrate: interpretation failed")
	// ErrGraphDisabled is the unavailability cause when the graph runtime is
	// switched off by configuration.
	ErrGraphDisabled = errors.New("graph runtime disabled")
)

// Stage error phases.
const (
	PhaseExecute = "execute"
	PhaseMerge   = "merge"
	PhaseResult  = "result"
)

// StageError attributes a runner failure to a stage.
type StageError struct {
	Stage string
	Phase string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s): %v", e.Stage, e.Phase, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// OrchestrationUnavailableError means the graph runtime could not serve the
// request and fallback was not permitted. No stage output is returned.
type OrchestrationUnavailableError struct {
	Cause error
}

func (e *OrchestrationUnavailableError) Error() string {
	return fmt.Sprintf("orchestrate: orchestration unavailable: %v", e.Cause)
}

func (e *OrchestrationUnavailableError) Unwrap() error { return e.Cause }

func (e *OrchestrationUnavailableError) Is(target error) bool {
	return target == ErrOrchestrationUnavailable
}

// InterpretationFailedError means the sequential runner failed. Nothing runs
// beneath it.
type InterpretationFailedError struct {
	Stage string
	Phase string
	Cause error
}

func (e *InterpretationFailedError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("orchestrate: interpretation failed (%s): %v", e.Phase, e.Cause)
	}
	return fmt.Sprintf("orchestrate: interpretation failed at stage %s (%s): %v", e.Stage, e.Phase, e.Cause)
}

func (e *InterpretationFailedError) Unwrap() error { return e.Cause }

func (e *InterpretationFailedError) Is(target error) bool {
	return target == ErrInterpretationFailed
}
