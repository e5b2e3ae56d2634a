package evidence

import (
	"sort"
	"time"

	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// SourceStats aggregates the evidence of one source model.
type SourceStats struct {
	Count          int            `json:"count"`
	MeanConfidence float64        `json:"mean_confidence"`
	MaxConfidence  float64        `json:"max_confidence"`
	FirstSeen      time.Time      `json:"first_seen"`
	LastSeen       time.Time      `json:"last_seen"`
	Signals        map[string]int `json:"signals"`
}

// Summary maps each source model that produced evidence to its stats.
type Summary map[telemetry.SourceModel]SourceStats

// Clone returns a deep copy.
func (s Summary) Clone() Summary {
	if s == nil {
		return nil
	}
	out := make(Summary, len(s))
	for k, v := range s {
		signals := make(map[string]int, len(v.Signals))
		for code, n := range v.Signals {
			signals[code] = n
		}
		v.Signals = signals
		out[k] = v
	}
	return out
}

// Consolidate groups evidence by source model. Sources without evidence are
// absent from the result.
func Consolidate(ev []Evidence) Summary {
	out := make(Summary)
	sums := make(map[telemetry.SourceModel]float64)
	for _, e := range ev {
		st, ok := out[e.SourceModel]
		if !ok {
			st = SourceStats{FirstSeen: e.ObservedAt, LastSeen: e.ObservedAt, Signals: make(map[string]int)}
		}
		st.Count++
		sums[e.SourceModel] += e.Confidence
		if e.Confidence > st.MaxConfidence {
			st.MaxConfidence = e.Confidence
		}
		if e.ObservedAt.Before(st.FirstSeen) {
			st.FirstSeen = e.ObservedAt
		}
		if e.ObservedAt.After(st.LastSeen) {
			st.LastSeen = e.ObservedAt
		}
		st.Signals[e.SignalCode]++
		out[e.SourceModel] = st
	}
	for src, st := range out {
		st.MeanConfidence = Round4(sums[src] / float64(st.Count))
		st.MaxConfidence = Round4(st.MaxConfidence)
		out[src] = st
	}
	return out
}

// SignalStats aggregates all observations of one signal code.
type SignalStats struct {
	SignalCode     string                  `json:"signal_code"`
	Description    string                  `json:"description"`
	Family         string                  `json:"family"`
	Count          int                     `json:"count"`
	MaxConfidence  float64                 `json:"max_confidence"`
	MeanConfidence float64                 `json:"mean_confidence"`
	Sources        []telemetry.SourceModel `json:"sources"`
}

// BySignal aggregates evidence per signal code, sorted by code.
func BySignal(ev []Evidence) []SignalStats {
	index := make(map[string]int)
	var out []SignalStats
	var sums []float64
	for _, e := range ev {
		i, ok := index[e.SignalCode]
		if !ok {
			i = len(out)
			index[e.SignalCode] = i
			out = append(out, SignalStats{SignalCode: e.SignalCode, Description: e.SignalDescription, Family: e.Family})
			sums = append(sums, 0)
		}
		st := &out[i]
		st.Count++
		sums[i] += e.Confidence
		if e.Confidence > st.MaxConfidence {
			st.MaxConfidence = e.Confidence
		}
		if !containsSource(st.Sources, e.SourceModel) {
			st.Sources = append(st.Sources, e.SourceModel)
		}
	}
	for i := range out {
		out[i].MeanConfidence = Round4(sums[i] / float64(out[i].Count))
		out[i].MaxConfidence = Round4(out[i].MaxConfidence)
		sort.SliceStable(out[i].Sources, func(a, b int) bool {
			return sourceRank(out[i].Sources[a]) < sourceRank(out[i].Sources[b])
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SignalCode < out[b].SignalCode })
	return out
}

func containsSource(list []telemetry.SourceModel, m telemetry.SourceModel) bool {
	for _, s := range list {
		if s == m {
			return true
		}
	}
	return false
}
