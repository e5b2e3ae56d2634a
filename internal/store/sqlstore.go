package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// Ledger drivers accepted by OpenDriver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// SqlStore implements Store with SQLite or PostgreSQL.
type SqlStore struct {
	db *sql.DB
	d  dialect
}

// OpenDriver opens the ledger named by a configuration driver string.
func OpenDriver(driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemStore(), nil
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unknown ledger driver %q", driver)
	}
	var (
		s   *SqlStore
		err error
	)
	if driver == DriverPostgres {
		s, err = OpenPostgres(dsn)
	} else {
		if dsn == "" {
			dsn = DefaultDBPath
		}
		s, err = Open(dsn)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens or creates a SQLite ledger at path and runs migrations.
// Creates the parent directory if it does not exist.
func Open(path string) (*SqlStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newSqlStore(db, sqliteDialect)
}

// OpenMemory opens an in-memory SQLite ledger for testing.
func OpenMemory() (*SqlStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open memory sqlite: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return newSqlStore(db, sqliteDialect)
}

// OpenPostgres opens a PostgreSQL ledger and runs migrations.
func OpenPostgres(dsn string) (*SqlStore, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres ledger requires a dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newSqlStore(db, postgresDialect)
}

func newSqlStore(db *sql.DB, d dialect) (*SqlStore, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.driver, err)
	}
	s := &SqlStore{db: db, d: d}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	var tableCount int
	if err := s.db.QueryRow(s.d.tableExists).Scan(&tableCount); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableCount == 0 {
		return s.freshInstall()
	}

	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		// schema_version exists but is empty: treat as v1.
		v = schemaVersionV1
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES("+s.d.arg(1)+")", v); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}

	switch v {
	case currentSchemaVersion:
		return nil
	case schemaVersionV1:
		return s.migrateV1ToV2()
	default:
		return fmt.Errorf("unknown schema version %d", v)
	}
}

func (s *SqlStore) freshInstall() error {
	if _, err := s.db.Exec(s.d.schemaV2()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES("+s.d.arg(1)+")", currentSchemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// migrateV1ToV2 runs inside a transaction so a failed migration leaves the
// v1 ledger untouched.
func (s *SqlStore) migrateV1ToV2() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migrateV1ToV2); err != nil {
		return fmt.Errorf("v1→v2 migration: %w", err)
	}
	if _, err := tx.Exec("UPDATE schema_version SET version = "+s.d.arg(1), schemaVersionV2); err != nil {
		return fmt.Errorf("bump schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SqlStore) Close() error {
	return s.db.Close()
}

func (s *SqlStore) AppendApproval(ctx context.Context, rec interpretation.ApprovalRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM approvals WHERE id = "+s.d.arg(1), rec.ID).Scan(&n); err != nil {
		return fmt.Errorf("check approval id: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO approvals(id, subject_type, subject_id, decision, comment, actor, recorded_at, model_version) VALUES("+s.d.args(8)+")",
		rec.ID, string(rec.SubjectType), rec.SubjectID, string(rec.Decision), rec.Comment, rec.Actor,
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.ModelVersion,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approval: %w", err)
	}
	return nil
}

func (s *SqlStore) ListApprovals(ctx context.Context, f Filter) ([]interpretation.ApprovalRecord, error) {
	var where []string
	var args []any
	if f.SubjectType != "" {
		args = append(args, string(f.SubjectType))
		where = append(where, "subject_type = "+s.d.arg(len(args)))
	}
	if f.SubjectID != "" {
		args = append(args, f.SubjectID)
		where = append(where, "subject_id = "+s.d.arg(len(args)))
	}
	q := "SELECT id, subject_type, subject_id, decision, comment, actor, recorded_at, model_version FROM approvals"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []interpretation.ApprovalRecord
	for rows.Next() {
		var (
			r                     interpretation.ApprovalRecord
			subjectType, decision string
			recordedAt            string
			comment, modelVersion sql.NullString
		)
		if err := rows.Scan(&r.ID, &subjectType, &r.SubjectID, &decision, &comment, &r.Actor, &recordedAt, &modelVersion); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("approval %s: parse recorded_at: %w", r.ID, err)
		}
		r.SubjectType = telemetry.SubjectType(subjectType)
		r.Decision = interpretation.Decision(decision)
		r.Comment = nullStr(comment)
		r.ModelVersion = nullStr(modelVersion)
		r.Timestamp = ts
		out = append(out, r)
	}
	return out, rows.Err()
}
