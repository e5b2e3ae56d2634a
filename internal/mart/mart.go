// Package mart reads telemetry rows and cohort listings from the data marts.
//
// Sources hand back raw rows. Field checks are left to the telemetry
// validator; a source only fills the subject and source model it already
// knows from where a row was stored and drops rows outside the look-back
// window.
package mart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nneupane1/telemetry-agent/internal/config"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// ErrSource wraps every failure to read a mart.
var ErrSource = errors.New("mart: source unavailable")

// Cohort is one entry of the cohort catalogue.
type Cohort struct {
	ID          string `json:"cohort_id"`
	Description string `json:"description,omitempty"`
	VINCount    int    `json:"vin_count,omitempty"`
}

// Source is the row-source collaborator of the interpreter.
type Source interface {
	// LoadRows returns the rows for subject observed within the last
	// windowDays days. A window of zero or less disables the filter. An
	// unknown subject yields no rows and no error.
	LoadRows(ctx context.Context, subject telemetry.Subject, windowDays int) ([]telemetry.RawRow, error)
	// ListCohorts returns the catalogue sorted by id.
	ListCohorts(ctx context.Context) ([]Cohort, error)
	// Describe returns the catalogue entry for a cohort id.
	Describe(ctx context.Context, cohortID string) (Cohort, bool, error)
	Close() error
}

// Option configures a Source.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock injects the time the look-back window is measured from.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open builds the source named by the data configuration.
func Open(cfg config.Data, opts ...Option) (Source, error) {
	switch cfg.Source {
	case config.SourceSample:
		return NewSampleSource(cfg.SampleFile, opts...), nil
	case config.SourceSQLite, config.SourcePostgres:
		s, err := OpenSQL(cfg.Source, cfg.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("mart: unknown source %q", cfg.Source)
}

// fill sets subject_id and source_model on a row that does not carry them
// and maps the legacy column names used by older mart exports.
func fill(raw telemetry.RawRow, subjectID string, model telemetry.SourceModel) telemetry.RawRow {
	out := make(telemetry.RawRow, len(raw)+2)
	for k, v := range raw {
		out[k] = v
	}
	alias(out, "hi_code", telemetry.KeySignalCode)
	alias(out, "trigger_time", telemetry.KeyObservedAt)
	if _, ok := out[telemetry.KeySubjectID]; !ok {
		out[telemetry.KeySubjectID] = subjectID
	}
	if _, ok := out[telemetry.KeySourceModel]; !ok && model != "" {
		out[telemetry.KeySourceModel] = string(model)
	}
	return out
}

func alias(row telemetry.RawRow, legacy, key string) {
	v, ok := row[legacy]
	if !ok {
		return
	}
	if _, has := row[key]; !has {
		row[key] = v
	}
	delete(row, legacy)
}

// within reports whether raw falls inside the window ending at now. Rows
// whose timestamp cannot be read are kept so the validator can reject them
// with a reason.
func within(raw telemetry.RawRow, now time.Time, windowDays int) bool {
	if windowDays <= 0 {
		return true
	}
	ts, ok := telemetry.ParseTime(raw[telemetry.KeyObservedAt])
	if !ok {
		return true
	}
	return !ts.Before(now.AddDate(0, 0, -windowDays))
}
