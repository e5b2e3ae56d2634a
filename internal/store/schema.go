package store

import (
	"fmt"
	"strconv"
)

// schemaVersionV1 is the original approvals table.
const schemaVersionV1 = 1

// schemaVersionV2 adds the model version stamp to each approval.
const schemaVersionV2 = 2

// currentSchemaVersion is the target schema version for this build.
const currentSchemaVersion = schemaVersionV2

// dialect holds the SQL differences between the supported drivers.
type dialect struct {
	driver      string
	seqColumn   string
	tableExists string
}

var (
	sqliteDialect = dialect{
		driver:      "sqlite",
		seqColumn:   "seq INTEGER PRIMARY KEY AUTOINCREMENT",
		tableExists: "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	}
	postgresDialect = dialect{
		driver:      "postgres",
		seqColumn:   "seq BIGSERIAL PRIMARY KEY",
		tableExists: "SELECT COUNT(*) FROM information_schema.tables WHERE table_name='schema_version'",
	}
)

// arg returns the n-th (1-based) bind placeholder.
func (d dialect) arg(n int) string {
	if d.driver == "postgres" {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// args returns n comma-separated placeholders.
func (d dialect) args(n int) string {
	s := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			s += ", "
		}
		s += d.arg(i)
	}
	return s
}

// schemaV1 is kept for migration tests and detection of old ledgers.
func (d dialect) schemaV1() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS approvals (
	%s,
	id           TEXT NOT NULL UNIQUE,
	subject_type TEXT NOT NULL,
	subject_id   TEXT NOT NULL,
	decision     TEXT NOT NULL,
	comment      TEXT,
	actor        TEXT NOT NULL,
	recorded_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approvals_subject ON approvals(subject_type, subject_id);
`, d.seqColumn)
}

// schemaV2 is the fresh-install DDL.
func (d dialect) schemaV2() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS approvals (
	%s,
	id            TEXT NOT NULL UNIQUE,
	subject_type  TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	decision      TEXT NOT NULL,
	comment       TEXT,
	actor         TEXT NOT NULL,
	recorded_at   TEXT NOT NULL,
	model_version TEXT
);
CREATE INDEX IF NOT EXISTS idx_approvals_subject ON approvals(subject_type, subject_id);
`, d.seqColumn)
}

const migrateV1ToV2 = `ALTER TABLE approvals ADD COLUMN model_version TEXT`
