// Package store persists operator approval decisions. The ledger is
// append-only: records are never updated or deleted, and the interpreter
// itself never reads them back.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
	"github.com/nneupane1/telemetry-agent/internal/telemetry"
)

// DefaultDBPath is the default relative path for the SQLite ledger.
const DefaultDBPath = ".telemetry-agent/approvals.db"

var (
	// ErrInvalidRecord rejects records missing required fields.
	ErrInvalidRecord = errors.New("store: invalid approval record")
	// ErrDuplicateRecord rejects a second record with an existing id.
	ErrDuplicateRecord = errors.New("store: duplicate approval record")
)

// Filter narrows ListApprovals. Zero values match everything.
type Filter struct {
	SubjectType telemetry.SubjectType
	SubjectID   string
	Limit       int
}

func (f Filter) match(r interpretation.ApprovalRecord) bool {
	if f.SubjectType != "" && r.SubjectType != f.SubjectType {
		return false
	}
	if f.SubjectID != "" && r.SubjectID != f.SubjectID {
		return false
	}
	return true
}

// Store is the approval ledger. Implementations are safe for concurrent use.
type Store interface {
	AppendApproval(ctx context.Context, rec interpretation.ApprovalRecord) error
	// ListApprovals returns matching records oldest first.
	ListApprovals(ctx context.Context, f Filter) ([]interpretation.ApprovalRecord, error)
	Close() error
}

// Validate checks the fields every ledger entry must carry.
func Validate(rec interpretation.ApprovalRecord) error {
	switch {
	case strings.TrimSpace(rec.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	case rec.SubjectType != telemetry.SubjectVIN && rec.SubjectType != telemetry.SubjectCohort:
		return fmt.Errorf("%w: unknown subject type %q", ErrInvalidRecord, rec.SubjectType)
	case strings.TrimSpace(rec.SubjectID) == "":
		return fmt.Errorf("%w: subject id is required", ErrInvalidRecord)
	case !rec.Decision.Valid():
		return fmt.Errorf("%w: unknown decision %q", ErrInvalidRecord, rec.Decision)
	case strings.TrimSpace(rec.Actor) == "":
		return fmt.Errorf("%w: actor is required", ErrInvalidRecord)
	case rec.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidRecord)
	}
	return nil
}
