package mart

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/nneupane1/telemetry-agent/internal/logging"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

const martSchema = `
CREATE TABLE IF NOT EXISTS telemetry_rows (
	row_id       TEXT,
	subject_type TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	source_model TEXT NOT NULL,
	signal_code  TEXT,
	confidence   DOUBLE PRECISION,
	observed_at  TEXT,
	extra_fields TEXT
);
CREATE INDEX IF NOT EXISTS idx_telemetry_rows_subject ON telemetry_rows(subject_type, subject_id);
CREATE TABLE IF NOT EXISTS cohorts (
	cohort_id   TEXT PRIMARY KEY,
	description TEXT,
	vin_count   INTEGER NOT NULL DEFAULT 0
);
`

// SQLSource reads the telemetry_rows and cohorts tables of a SQLite or
// PostgreSQL mart.
type SQLSource struct {
	db     *sql.DB
	driver string
	opts   options
}

// OpenSQL connects to a mart and makes sure its tables exist.
func OpenSQL(driver, dsn string, opts ...Option) (*SQLSource, error) {
	if dsn == "" {
		return nil, fmt.Errorf("mart: %s source requires a dsn", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSource, driver, err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrSource, driver, err)
	}
	s := &SQLSource{db: db, driver: driver, opts: newOptions(opts)}
	if _, err := db.Exec(martSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: create mart tables: %v", ErrSource, err)
	}
	return s, nil
}

func (s *SQLSource) arg(n int) string {
	if s.driver == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (s *SQLSource) args(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = s.arg(i + 1)
	}
	return strings.Join(p, ", ")
}

func (s *SQLSource) Close() error { return s.db.Close() }

func (s *SQLSource) LoadRows(ctx context.Context, subject telemetry.Subject, windowDays int) ([]telemetry.RawRow, error) {
	id := strings.TrimSpace(subject.ID)
	if subject.Type == telemetry.SubjectVIN {
		id = telemetry.NormalizeVIN(id)
	}
	q := "SELECT row_id, subject_id, source_model, signal_code, confidence, observed_at, extra_fields FROM telemetry_rows WHERE subject_type = " +
		s.arg(1) + " AND subject_id = " + s.arg(2) + " ORDER BY observed_at, row_id"
	rows, err := s.db.QueryContext(ctx, q, string(subject.Type), id)
	if err != nil {
		return nil, fmt.Errorf("%w: query rows: %v", ErrSource, err)
	}
	defer rows.Close()

	now := s.opts.now()
	var out []telemetry.RawRow
	for rows.Next() {
		var (
			rowID, signal, observed, extra sql.NullString
			subjectID, model               string
			confidence                     sql.NullFloat64
		)
		if err := rows.Scan(&rowID, &subjectID, &model, &signal, &confidence, &observed, &extra); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", ErrSource, err)
		}
		raw := telemetry.RawRow{
			telemetry.KeySubjectID:   subjectID,
			telemetry.KeySourceModel: model,
		}
		if rowID.Valid {
			raw[telemetry.KeyRowID] = rowID.String
		}
		if signal.Valid {
			raw[telemetry.KeySignalCode] = signal.String
		}
		if confidence.Valid {
			raw[telemetry.KeyConfidence] = confidence.Float64
		}
		if observed.Valid {
			raw[telemetry.KeyObservedAt] = observed.String
		}
		if extra.Valid && extra.String != "" {
			var m map[string]any
			if err := json.Unmarshal([]byte(extra.String), &m); err != nil {
				// Leave the broken payload for the validator to reject.
				raw[telemetry.KeyExtraFields] = extra.String
			} else {
				raw[telemetry.KeyExtraFields] = m
			}
		}
		if within(raw, now, windowDays) {
			out = append(out, raw)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read rows: %v", ErrSource, err)
	}
	logging.New("mart").Debug("mart rows loaded", "subject", subject.String(), "rows", len(out))
	return out, nil
}

func (s *SQLSource) ListCohorts(ctx context.Context) ([]Cohort, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT cohort_id, description, vin_count FROM cohorts ORDER BY cohort_id")
	if err != nil {
		return nil, fmt.Errorf("%w: query cohorts: %v", ErrSource, err)
	}
	defer rows.Close()
	var out []Cohort
	for rows.Next() {
		var (
			c    Cohort
			desc sql.NullString
		)
		if err := rows.Scan(&c.ID, &desc, &c.VINCount); err != nil {
			return nil, fmt.Errorf("%w: scan cohort: %v", ErrSource, err)
		}
		c.Description = desc.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLSource) Describe(ctx context.Context, cohortID string) (Cohort, bool, error) {
	var (
		c    Cohort
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, "SELECT cohort_id, description, vin_count FROM cohorts WHERE cohort_id = "+s.arg(1),
		strings.TrimSpace(cohortID)).Scan(&c.ID, &desc, &c.VINCount)
	if err == sql.ErrNoRows {
		return Cohort{}, false, nil
	}
	if err != nil {
		return Cohort{}, false, fmt.Errorf("%w: describe cohort: %v", ErrSource, err)
	}
	c.Description = desc.String
	return c, true, nil
}

// Insert stores rows for subject. Missing subject and source columns are
// filled from the arguments.
func (s *SQLSource) Insert(ctx context.Context, subject telemetry.Subject, model telemetry.SourceModel, raws []telemetry.RawRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO telemetry_rows(row_id, subject_type, subject_id, source_model, signal_code, confidence, observed_at, extra_fields) VALUES("+s.args(8)+")")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range raws {
		r = fill(r, subject.ID, model)
		var extra any
		if v, ok := r[telemetry.KeyExtraFields]; ok && v != nil {
			b, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("row %d: encode extra_fields: %w", i, err)
			}
			extra = string(b)
		}
		if _, err := stmt.ExecContext(ctx,
			text(r[telemetry.KeyRowID]), string(subject.Type), fmt.Sprint(r[telemetry.KeySubjectID]),
			fmt.Sprint(r[telemetry.KeySourceModel]), text(r[telemetry.KeySignalCode]),
			number(r[telemetry.KeyConfidence]), timestamp(r[telemetry.KeyObservedAt]), extra,
		); err != nil {
			return fmt.Errorf("row %d: insert: %w", i, err)
		}
	}
	return tx.Commit()
}

// PutCohort inserts or replaces a catalogue entry.
func (s *SQLSource) PutCohort(ctx context.Context, c Cohort) error {
	q := "INSERT INTO cohorts(cohort_id, description, vin_count) VALUES(" + s.args(3) +
		") ON CONFLICT(cohort_id) DO UPDATE SET description = excluded.description, vin_count = excluded.vin_count"
	if _, err := s.db.ExecContext(ctx, q, c.ID, c.Description, c.VINCount); err != nil {
		return fmt.Errorf("put cohort %s: %w", c.ID, err)
	}
	return nil
}

// Import copies every subject of a sample export into the mart.
func (s *SQLSource) Import(ctx context.Context, src *SampleSource) (int, error) {
	if err := src.load(); err != nil {
		return 0, err
	}
	n := 0
	put := func(subject telemetry.Subject, e sampleSubject) error {
		for _, g := range []struct {
			model telemetry.SourceModel
			rows  []telemetry.RawRow
		}{
			{telemetry.MachineHealth, e.MH},
			{telemetry.MaintenancePrediction, e.MP},
			{telemetry.FailureImpact, e.FIM},
		} {
			if err := s.Insert(ctx, subject, g.model, g.rows); err != nil {
				return fmt.Errorf("import %s: %w", subject, err)
			}
			n += len(g.rows)
		}
		return nil
	}

	for _, id := range sortedKeys(src.vins) {
		if err := put(telemetry.Subject{Type: telemetry.SubjectVIN, ID: id}, src.vins[id]); err != nil {
			return n, err
		}
	}
	for _, id := range sortedKeys(src.cohorts) {
		c := src.cohorts[id]
		if err := s.PutCohort(ctx, Cohort{ID: id, Description: c.Description, VINCount: c.VINCount}); err != nil {
			return n, err
		}
		if err := put(telemetry.Subject{Type: telemetry.SubjectCohort, ID: id}, c); err != nil {
			return n, err
		}
	}
	return n, nil
}

func sortedKeys(m map[string]sampleSubject) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func text(v any) any {
	if v == nil {
		return nil
	}
	return fmt.Sprint(v)
}

func number(v any) any {
	switch n := v.(type) {
	case float64, int, int64:
		return n
	}
	return nil
}

func timestamp(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return t
	}
	return nil
}
