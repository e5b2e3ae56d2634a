// Package evidence turns validated telemetry rows into resolved, labelled
// Evidence and aggregates it per source model and per signal.
package evidence

import (
	"math"
	"sort"
	"time"

	"github.com/nneupane1/telemetry-agent/internal/reference"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// Evidence is one resolved signal observation. It is a value type; copies are
// independent.
type Evidence struct {
	SourceModel       telemetry.SourceModel `json:"source_model"`
	SignalCode        string                `json:"signal_code"`
	SignalDescription string                `json:"signal_description"`
	Family            string                `json:"family"`
	Confidence        float64               `json:"confidence"`
	ConfidenceBand    string                `json:"confidence_band"`
	ObservedAt        time.Time             `json:"observed_at"`
	RowID             string                `json:"row_id"`
}

// Snapshotter hands out the reference Set a request resolves against.
// *reference.Resolver implements it.
type Snapshotter interface {
	Snapshot() *reference.Set
}

// Assembler converts rows into Evidence using one reference snapshot per call.
type Assembler struct {
	refs Snapshotter
}

func NewAssembler(refs Snapshotter) *Assembler {
	return &Assembler{refs: refs}
}

// Assemble resolves every row. The result is in canonical order: source
// model, then observation time, then signal code, then row id.
func (a *Assembler) Assemble(rows []telemetry.Row) []Evidence {
	return AssembleWith(a.refs.Snapshot(), rows)
}

// AssembleWith resolves rows against a pinned Set.
func AssembleWith(set *reference.Set, rows []telemetry.Row) []Evidence {
	out := make([]Evidence, 0, len(rows))
	for _, r := range rows {
		entry := set.Resolve(r.SignalCode)
		out = append(out, Evidence{
			SourceModel:       r.SourceModel,
			SignalCode:        r.SignalCode,
			SignalDescription: entry.Label,
			Family:            entry.Family,
			Confidence:        r.Confidence,
			ConfidenceBand:    set.ConfidenceLabel(r.SignalCode, r.Confidence),
			ObservedAt:        r.ObservedAt,
			RowID:             r.ID,
		})
	}
	Sort(out)
	return out
}

// Sort orders evidence canonically in place.
func Sort(ev []Evidence) {
	sort.SliceStable(ev, func(i, j int) bool {
		a, b := ev[i], ev[j]
		if ra, rb := sourceRank(a.SourceModel), sourceRank(b.SourceModel); ra != rb {
			return ra < rb
		}
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		if a.SignalCode != b.SignalCode {
			return a.SignalCode < b.SignalCode
		}
		return a.RowID < b.RowID
	})
}

// ByConfidence orders evidence strongest first. Ties keep canonical order.
func ByConfidence(ev []Evidence) []Evidence {
	out := append([]Evidence(nil), ev...)
	Sort(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// FilterSource returns the evidence emitted by one source model.
func FilterSource(ev []Evidence, source telemetry.SourceModel) []Evidence {
	var out []Evidence
	for _, e := range ev {
		if e.SourceModel == source {
			out = append(out, e)
		}
	}
	return out
}

// Codes returns the distinct signal codes in ev, sorted.
func Codes(ev []Evidence) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range ev {
		if !seen[e.SignalCode] {
			seen[e.SignalCode] = true
			out = append(out, e.SignalCode)
		}
	}
	sort.Strings(out)
	return out
}

// Round4 rounds to four decimal places. Every derived confidence is rounded
// so that results compare exactly across execution modes.
func Round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func sourceRank(m telemetry.SourceModel) int {
	for i, s := range telemetry.SourceModels {
		if s == m {
			return i
		}
	}
	return len(telemetry.SourceModels)
}
