// Package telemetry defines the mart row shapes consumed by the interpreter
// and validates them before they are turned into evidence.
package telemetry

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SourceModel identifies the upstream predictive model that emitted a row.
type SourceModel string

const (
	MachineHealth         SourceModel = "MH"
	MaintenancePrediction SourceModel = "MP"
	FailureImpact         SourceModel = "FIM"
)

// SourceModels lists the models in canonical order. Every ordered output of
// the interpreter follows this order.
var SourceModels = []SourceModel{MachineHealth, MaintenancePrediction, FailureImpact}

// Valid reports whether m is one of the known models.
func (m SourceModel) Valid() bool {
	switch m {
	case MachineHealth, MaintenancePrediction, FailureImpact:
		return true
	}
	return false
}

// SubjectType is the interpretation scope.
type SubjectType string

const (
	SubjectVIN    SubjectType = "VIN"
	SubjectCohort SubjectType = "COHORT"
)

// Subject names the vehicle or cohort being interpreted.
type Subject struct {
	Type SubjectType `json:"type"`
	ID   string      `json:"id"`
}

func (s Subject) String() string { return fmt.Sprintf("%s %s", s.Type, s.ID) }

var (
	// VINPattern is the 17-character VIN shape (I, O and Q are never used).
	VINPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)
	// DefaultCohortPattern accepts non-empty identifier-like cohort names.
	DefaultCohortPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{2,128}$`)
)

// NormalizeVIN trims and upper-cases a VIN candidate.
func NormalizeVIN(vin string) string { return strings.ToUpper(strings.TrimSpace(vin)) }

// RawRow is one mart row as delivered by a row source, before validation.
type RawRow map[string]any

// Canonical raw row keys. Anything else is carried into Row.Extra.
const (
	KeyRowID       = "row_id"
	KeySubjectID   = "subject_id"
	KeySourceModel = "source_model"
	KeySignalCode  = "signal_code"
	KeyConfidence  = "confidence"
	KeyObservedAt  = "observed_at"
	KeyExtraFields = "extra_fields"
)

var canonicalKeys = map[string]bool{
	KeyRowID: true, KeySubjectID: true, KeySourceModel: true, KeySignalCode: true,
	KeyConfidence: true, KeyObservedAt: true, KeyExtraFields: true,
}

// Row is a validated, immutable telemetry observation.
type Row struct {
	ID          string         `json:"row_id"`
	SubjectID   string         `json:"subject_id"`
	SourceModel SourceModel    `json:"source_model"`
	SignalCode  string         `json:"signal_code"`
	Confidence  float64        `json:"confidence"`
	ObservedAt  time.Time      `json:"observed_at"`
	Extra       map[string]any `json:"extra_fields,omitempty"`
}

// rowID returns the row's own id or a positional fallback.
func (r RawRow) rowID(index int) string {
	if v, ok := r[KeyRowID]; ok && v != nil {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return fmt.Sprintf("row[%d]", index)
}
