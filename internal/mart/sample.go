package mart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// sampleFile is the on-disk shape of a sample mart export.
//
//	{"vins":    [{"vin": "...", "mh": [...], "mp": [...], "fim": [...]}],
//	 "cohorts": [{"cohort_id": "...", "description": "...", "vin_count": 3, "mh": [...], ...}]}
type sampleFile struct {
	VINs    []sampleSubject `json:"vins"`
	Cohorts []sampleSubject `json:"cohorts"`
}

type sampleSubject struct {
	VIN         string             `json:"vin"`
	CohortID    string             `json:"cohort_id"`
	Description string             `json:"description"`
	VINCount    int                `json:"vin_count"`
	MH          []telemetry.RawRow `json:"mh"`
	MP          []telemetry.RawRow `json:"mp"`
	FIM         []telemetry.RawRow `json:"fim"`
}

func (s sampleSubject) rows(id string) []telemetry.RawRow {
	var out []telemetry.RawRow
	for _, g := range []struct {
		model telemetry.SourceModel
		rows  []telemetry.RawRow
	}{
		{telemetry.MachineHealth, s.MH},
		{telemetry.MaintenancePrediction, s.MP},
		{telemetry.FailureImpact, s.FIM},
	} {
		for _, r := range g.rows {
			out = append(out, fill(r, id, g.model))
		}
	}
	return out
}

// SampleSource serves rows from a local JSON export. The file is parsed on
// first use and cached; a parse failure is retried on the next call.
type SampleSource struct {
	path string
	opts options

	mu      sync.Mutex
	vins    map[string]sampleSubject
	cohorts map[string]sampleSubject
}

func NewSampleSource(path string, opts ...Option) *SampleSource {
	return &SampleSource{path: path, opts: newOptions(opts)}
}

// NewSampleSourceFromBytes parses data immediately. Used by tests and by
// importers that already hold the export in memory.
func NewSampleSourceFromBytes(data []byte, opts ...Option) (*SampleSource, error) {
	s := &SampleSource{opts: newOptions(opts)}
	if err := s.parse(data); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SampleSource) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vins != nil {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: read sample file: %v", ErrSource, err)
	}
	return s.parse(data)
}

func (s *SampleSource) parse(data []byte) error {
	var f sampleFile
	// Exports written on Windows carry a byte-order mark.
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("%w: parse sample file: %v", ErrSource, err)
	}
	vins := make(map[string]sampleSubject, len(f.VINs))
	for i, v := range f.VINs {
		id := telemetry.NormalizeVIN(v.VIN)
		if id == "" {
			return fmt.Errorf("%w: sample vins[%d] has no vin", ErrSource, i)
		}
		vins[id] = v
	}
	cohorts := make(map[string]sampleSubject, len(f.Cohorts))
	for i, c := range f.Cohorts {
		id := strings.TrimSpace(c.CohortID)
		if id == "" {
			return fmt.Errorf("%w: sample cohorts[%d] has no cohort_id", ErrSource, i)
		}
		cohorts[id] = c
	}
	s.vins, s.cohorts = vins, cohorts
	logging.New("mart").Debug("sample mart loaded", "path", s.path, "vins", len(vins), "cohorts", len(cohorts))
	return nil
}

func (s *SampleSource) LoadRows(ctx context.Context, subject telemetry.Subject, windowDays int) ([]telemetry.RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	var (
		entry sampleSubject
		found bool
		id    string
	)
	switch subject.Type {
	case telemetry.SubjectVIN:
		id = telemetry.NormalizeVIN(subject.ID)
		entry, found = s.vins[id]
	case telemetry.SubjectCohort:
		id = strings.TrimSpace(subject.ID)
		entry, found = s.cohorts[id]
	default:
		return nil, fmt.Errorf("mart: unknown subject type %q", subject.Type)
	}
	if !found {
		return nil, nil
	}

	now := s.opts.now()
	var out []telemetry.RawRow
	for _, r := range entry.rows(id) {
		if within(r, now, windowDays) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *SampleSource) ListCohorts(ctx context.Context) ([]Cohort, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	out := make([]Cohort, 0, len(s.cohorts))
	for id, c := range s.cohorts {
		out = append(out, Cohort{ID: id, Description: c.Description, VINCount: c.VINCount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *SampleSource) Describe(ctx context.Context, cohortID string) (Cohort, bool, error) {
	if err := s.load(); err != nil {
		return Cohort{}, false, err
	}
	id := strings.TrimSpace(cohortID)
	c, ok := s.cohorts[id]
	if !ok {
		return Cohort{}, false, nil
	}
	return Cohort{ID: id, Description: c.Description, VINCount: c.VINCount}, true, nil
}

func (s *SampleSource) Close() error { return nil }
