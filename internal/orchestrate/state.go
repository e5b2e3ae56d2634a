package orchestrate

import (
	"errors"
	"fmt"

	"github.com/nneupane1/telemetry-agent/internal/evidence"
	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// ErrStageConflict reports a delta that writes a field another stage already
// wrote.
var ErrStageConflict = errors.New("orchestrate: stage output already set")

// Input is what a pipeline run starts from.
type Input struct {
	Subject  telemetry.Subject
	Evidence []evidence.Evidence
	// Description is the cohort's catalogue description, if any.
	Description string
}

// Branch is the output of one per-source stage.
type Branch struct {
	Source   telemetry.SourceModel
	Evidence []evidence.Evidence
	Stats    *evidence.SourceStats // nil when the source reported nothing
}

// Summary is the joined view of all branches.
type Summary struct {
	Evidence []evidence.Evidence
	Family   string
	Signals  []evidence.SignalStats
	Cohort   *interpretation.CohortDetail
}

type Recommendations struct {
	Items []interpretation.Recommendation
}

type Consolidation struct {
	EvidenceSummary evidence.Summary
	RiskLevel       interpretation.RiskLevel
}

// Findings is the structured result of a pipeline: everything an
// Interpretation needs except the narrative.
type Findings struct {
	Subject         telemetry.Subject
	RiskLevel       interpretation.RiskLevel
	Family          string
	Evidence        []evidence.Evidence
	Recommendations []interpretation.Recommendation
	EvidenceSummary evidence.Summary
	Cohort          *interpretation.CohortDetail
}

// State accumulates stage outputs. Every field is written at most once and
// stages only read what earlier stages wrote.
type State struct {
	Input           Input
	Branches        map[telemetry.SourceModel]Branch
	Summary         *Summary
	Recommendations *Recommendations
	Consolidation   *Consolidation
	Findings        *Findings
}

// Delta is what a stage contributes. Unset fields contribute nothing.
type Delta struct {
	Branch          *Branch
	Summary         *Summary
	Recommendations *Recommendations
	Consolidation   *Consolidation
	Findings        *Findings
}

// NewState starts a run. The input evidence is copied and put into
// canonical order so both runners see the same sequence.
func NewState(in Input) *State {
	ev := make([]evidence.Evidence, len(in.Evidence))
	copy(ev, in.Evidence)
	evidence.Sort(ev)
	in.Evidence = ev
	return &State{Input: in, Branches: make(map[telemetry.SourceModel]Branch)}
}

// Apply merges d into s.
func (s *State) Apply(d Delta) error {
	if d.Branch != nil {
		if _, dup := s.Branches[d.Branch.Source]; dup {
			return fmt.Errorf("%w: branch %s", ErrStageConflict, d.Branch.Source)
		}
	}
	if d.Summary != nil && s.Summary != nil {
		return fmt.Errorf("%w: summary", ErrStageConflict)
	}
	if d.Recommendations != nil && s.Recommendations != nil {
		return fmt.Errorf("%w: recommendations", ErrStageConflict)
	}
	if d.Consolidation != nil && s.Consolidation != nil {
		return fmt.Errorf("%w: consolidation", ErrStageConflict)
	}
	if d.Findings != nil && s.Findings != nil {
		return fmt.Errorf("%w: findings", ErrStageConflict)
	}

	if d.Branch != nil {
		s.Branches[d.Branch.Source] = *d.Branch
	}
	if d.Summary != nil {
		s.Summary = d.Summary
	}
	if d.Recommendations != nil {
		s.Recommendations = d.Recommendations
	}
	if d.Consolidation != nil {
		s.Consolidation = d.Consolidation
	}
	if d.Findings != nil {
		s.Findings = d.Findings
	}
	return nil
}
