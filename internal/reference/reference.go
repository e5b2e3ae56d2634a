// Package reference resolves telemetry signal codes into human-readable
// labels, failure families and confidence descriptors.
//
// Dictionaries are merged once into an immutable Set. A Resolver holds the
// current Set behind an atomic pointer; Reload swaps in a fresh Set so
// concurrent readers never observe a partially updated dictionary.
package reference

import (
	"sort"
	"sync/atomic"
)

const (
	// FamilyUnclassified tags codes that no dictionary knows about.
	FamilyUnclassified = "UNCLASSIFIED"
	// FamilyUnknown tags catalogued codes that have no family mapping.
	FamilyUnknown = "UNKNOWN"
	// NoDescription is the label for codes that only appear in the family map.
	NoDescription = "No description available"
	// UnmappedConfidence describes a confidence that falls in no band.
	UnmappedConfidence = "unmapped confidence"
)

// Band maps a closed confidence interval to a descriptor.
type Band struct {
	Min   float64 `yaml:"min" json:"min"`
	Max   float64 `yaml:"max" json:"max"`
	Label string  `yaml:"label" json:"label"`
}

func (b Band) contains(c float64) bool { return b.Min <= c && c <= b.Max }

// Entry is the merged reference data for one signal code.
type Entry struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Family string `json:"family"`
	Bands  []Band `json:"bands,omitempty"` // per-code table; overrides the global bands
	Known  bool   `json:"known"`
}

// Patch is one dictionary layer's contribution for a code. Empty fields leave
// the value from earlier layers untouched.
type Patch struct {
	Label  string
	Family string
	Bands  []Band
}

// Layer is a named dictionary source. Layers are merged in order; later
// layers override earlier ones field by field.
type Layer struct {
	Name    string
	Patches map[string]Patch
	Bands   []Band // global confidence bands contributed by this layer
}

// Set is an immutable merged reference dictionary.
type Set struct {
	entries map[string]Entry
	bands   []Band
	codes   []string
}

// Merge folds layers into a Set. Resolution order is the slice order:
// pass catalog, family map, confidence map so that the narrowest scope wins.
func Merge(layers ...Layer) *Set {
	s := &Set{entries: make(map[string]Entry)}
	for _, layer := range layers {
		for code, p := range layer.Patches {
			e, ok := s.entries[code]
			if !ok {
				e = Entry{Code: code, Known: true}
			}
			if p.Label != "" {
				e.Label = p.Label
			}
			if p.Family != "" {
				e.Family = p.Family
			}
			if len(p.Bands) > 0 {
				e.Bands = append([]Band(nil), p.Bands...)
			}
			s.entries[code] = e
		}
		if len(layer.Bands) > 0 {
			s.bands = append([]Band(nil), layer.Bands...)
		}
	}
	for code, e := range s.entries {
		if e.Label == "" {
			e.Label = NoDescription
		}
		if e.Family == "" {
			e.Family = FamilyUnknown
		}
		s.entries[code] = e
		s.codes = append(s.codes, code)
	}
	sort.Strings(s.codes)
	return s
}

// Resolve returns the entry for code. Unknown codes never fail: they echo the
// raw code as the label and are tagged UNCLASSIFIED.
func (s *Set) Resolve(code string) Entry {
	if s != nil {
		if e, ok := s.entries[code]; ok {
			return e
		}
	}
	return Entry{Code: code, Label: code, Family: FamilyUnclassified}
}

// ConfidenceLabel maps a confidence to a descriptor, preferring the code's
// own band table over the global one.
func (s *Set) ConfidenceLabel(code string, confidence float64) string {
	if s == nil {
		return UnmappedConfidence
	}
	if e, ok := s.entries[code]; ok && len(e.Bands) > 0 {
		if l, ok := bandLabel(e.Bands, confidence); ok {
			return l
		}
	}
	if l, ok := bandLabel(s.bands, confidence); ok {
		return l
	}
	return UnmappedConfidence
}

// Codes returns all known codes in sorted order.
func (s *Set) Codes() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.codes...)
}

// Len is the number of known codes.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func bandLabel(bands []Band, c float64) (string, bool) {
	for _, b := range bands {
		if b.contains(c) && b.Label != "" {
			return b.Label, true
		}
	}
	return "", false
}

// Resolver serves lookups from the current Set. It is safe for concurrent use.
type Resolver struct {
	current atomic.Pointer[Set]
}

// NewResolver returns a Resolver serving set. A nil set resolves every code
// through the unknown-code fallback.
func NewResolver(set *Set) *Resolver {
	r := &Resolver{}
	if set == nil {
		set = Merge()
	}
	r.current.Store(set)
	return r
}

// Snapshot pins the current Set. Requests resolve against one snapshot for
// their whole lifetime.
func (r *Resolver) Snapshot() *Set { return r.current.Load() }

// Resolve looks code up in the current Set.
func (r *Resolver) Resolve(code string) Entry { return r.Snapshot().Resolve(code) }

// Reload atomically replaces the served Set.
func (r *Resolver) Reload(set *Set) {
	if set == nil {
		return
	}
	r.current.Store(set)
}
