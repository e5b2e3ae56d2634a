package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/metrics"
)

// Mode selects how invalid rows are handled.
type Mode string

const (
	// Strict aborts the whole load on the first invalid row.
	Strict Mode = "strict"
	// Lenient drops invalid rows and continues with the rest.
	Lenient Mode = "lenient"
)

// ModeFor maps a strict flag to a Mode.
func ModeFor(strict bool) Mode {
	if strict {
		return Strict
	}
	return Lenient
}

const rowSchemaURL = "mem://telemetry/row.schema.json"

// rowSchema is the structural contract every row must satisfy after the
// field-level checks. It sees the canonical values those checks produced
// (upper-case source model, trimmed code, numeric confidence), so it only
// adds bounds the field checks do not cover.
const rowSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["subject_id", "source_model", "signal_code", "confidence", "observed_at"],
  "properties": {
    "row_id":       {"type": ["string", "number"]},
    "subject_id":   {"type": "string", "minLength": 1, "maxLength": 128},
    "source_model": {"enum": ["MH", "MP", "FIM"]},
    "signal_code":  {"type": "string", "minLength": 1, "maxLength": 64},
    "confidence":   {"type": "number", "minimum": 0, "maximum": 1},
    "observed_at":  {"type": "string", "minLength": 1},
    "extra_fields": {"type": ["object", "null"]}
  }
}`

var signalCodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// Validator checks raw mart rows. It holds no per-request state.
type Validator struct {
	now           func() time.Time
	skew          time.Duration
	cohortPattern *regexp.Regexp
	schema        *jsonschema.Schema
	metrics       *metrics.Metrics
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock injects the time source used for future-timestamp checks.
func WithClock(now func() time.Time) Option { return func(v *Validator) { v.now = now } }

// WithClockSkew sets how far in the future observed_at may be.
func WithClockSkew(d time.Duration) Option { return func(v *Validator) { v.skew = d } }

// WithCohortPattern overrides the cohort id shape.
func WithCohortPattern(re *regexp.Regexp) Option {
	return func(v *Validator) {
		if re != nil {
			v.cohortPattern = re
		}
	}
}

// WithMetrics records accepted and rejected rows.
func WithMetrics(m *metrics.Metrics) Option { return func(v *Validator) { v.metrics = m } }

// NewValidator compiles the row schema and applies options.
func NewValidator(opts ...Option) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(rowSchemaURL, strings.NewReader(rowSchema)); err != nil {
		return nil, fmt.Errorf("add row schema: %w", err)
	}
	schema, err := compiler.Compile(rowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile row schema: %w", err)
	}
	v := &Validator{
		now:           time.Now,
		skew:          5 * time.Minute,
		cohortPattern: DefaultCohortPattern,
		schema:        schema,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ValidSubject reports whether id has the shape required for the subject type.
func (v *Validator) ValidSubject(t SubjectType, id string) bool {
	switch t {
	case SubjectVIN:
		return VINPattern.MatchString(NormalizeVIN(id))
	case SubjectCohort:
		return v.cohortPattern.MatchString(strings.TrimSpace(id))
	}
	return false
}

// Validate converts rows for subject into typed Rows.
//
// In Lenient mode invalid rows are returned as rejections and the valid rows
// continue. In Strict mode the first invalid row aborts the load with a
// *ValidationError and no rows are returned.
func (v *Validator) Validate(subject Subject, rows []RawRow, mode Mode) ([]Row, []Rejection, error) {
	logger := logging.New("validator")
	valid := make([]Row, 0, len(rows))
	var rejected []Rejection

	for i, raw := range rows {
		row, rej := v.check(subject, i, raw)
		if rej == nil {
			valid = append(valid, row)
			continue
		}
		v.metrics.Rejected(string(rej.Reason))
		logger.Warn("telemetry row rejected",
			"subject", subject.String(), "row_id", rej.RowID, "reason", string(rej.Reason), "detail", rej.Detail, "mode", string(mode))
		if mode == Strict {
			return nil, nil, &ValidationError{Subject: subject, Rejection: *rej}
		}
		rejected = append(rejected, *rej)
	}

	v.metrics.Accepted(len(valid))
	return valid, rejected, nil
}

func (v *Validator) check(subject Subject, index int, raw RawRow) (Row, *Rejection) {
	id := raw.rowID(index)
	reject := func(reason Reason, format string, args ...any) (Row, *Rejection) {
		return Row{}, &Rejection{Index: index, RowID: id, Reason: reason, Detail: fmt.Sprintf(format, args...)}
	}

	for _, key := range []string{KeySubjectID, KeySourceModel, KeySignalCode, KeyConfidence, KeyObservedAt} {
		if val, ok := raw[key]; !ok || val == nil {
			return reject(ReasonMissingField, "%s", key)
		}
	}

	subjectID, ok := raw[KeySubjectID].(string)
	if !ok {
		return reject(ReasonInvalidSubject, "subject_id must be a string")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subject.Type == SubjectVIN {
		subjectID = NormalizeVIN(subjectID)
	}
	if !v.ValidSubject(subject.Type, subjectID) {
		return reject(ReasonInvalidSubject, "%q", subjectID)
	}
	if !sameSubject(subject, subjectID) {
		return reject(ReasonSubjectMismatch, "row belongs to %q", subjectID)
	}

	sourceStr, _ := raw[KeySourceModel].(string)
	source := SourceModel(strings.ToUpper(strings.TrimSpace(sourceStr)))
	if !source.Valid() {
		return reject(ReasonInvalidSource, "%v", raw[KeySourceModel])
	}

	code, _ := raw[KeySignalCode].(string)
	code = strings.TrimSpace(code)
	if !signalCodePattern.MatchString(code) {
		return reject(ReasonInvalidSignalCode, "%v", raw[KeySignalCode])
	}

	confidence, ok := toFloat(raw[KeyConfidence])
	if !ok || math.IsNaN(confidence) {
		return reject(ReasonInvalidConfidence, "%v", raw[KeyConfidence])
	}
	if confidence < 0 || confidence > 1 {
		return reject(ReasonConfidenceRange, "%v", confidence)
	}

	observedAt, ok := ParseTime(raw[KeyObservedAt])
	if !ok {
		return reject(ReasonInvalidTimestamp, "%v", raw[KeyObservedAt])
	}
	if observedAt.After(v.now().Add(v.skew)) {
		return reject(ReasonFutureTimestamp, "%s", observedAt.Format(time.RFC3339))
	}

	doc := jsonValue(raw)
	doc[KeySubjectID] = subjectID
	doc[KeySourceModel] = string(source)
	doc[KeySignalCode] = code
	doc[KeyConfidence] = confidence
	doc[KeyObservedAt] = observedAt.UTC().Format(time.RFC3339Nano)
	if err := v.schema.Validate(doc); err != nil {
		return reject(ReasonSchemaViolation, "%s", schemaDetail(err))
	}

	extra := make(map[string]any)
	if nested, ok := raw[KeyExtraFields].(map[string]any); ok {
		for k, val := range nested {
			extra[k] = val
		}
	}
	for k, val := range raw {
		if !canonicalKeys[k] {
			extra[k] = val
		}
	}
	if len(extra) == 0 {
		extra = nil
	}

	return Row{
		ID:          id,
		SubjectID:   subjectID,
		SourceModel: source,
		SignalCode:  code,
		Confidence:  confidence,
		ObservedAt:  observedAt.UTC(),
		Extra:       extra,
	}, nil
}

func sameSubject(s Subject, rowSubject string) bool {
	if s.Type == SubjectVIN {
		return NormalizeVIN(s.ID) == rowSubject
	}
	return strings.TrimSpace(s.ID) == rowSubject
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ParseTime reads an observed_at value: a non-zero time.Time or a string in
// one of the accepted layouts. Layouts without a zone are taken as UTC.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// jsonValue converts a raw row into the value space the schema validator
// understands (JSON objects, strings, float64 numbers).
func jsonValue(raw RawRow) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(t)
	case RawRow:
		return jsonValue(t)
	case map[string]any:
		return jsonValue(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

func schemaDetail(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		return fmt.Sprintf("%s: %s", leaf.InstanceLocation, leaf.Message)
	}
	return err.Error()
}
