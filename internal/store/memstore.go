package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nneupane1/telemetry-agent/internal/interpretation"
)

// MemStore implements Store in memory. Used for local runs and tests.
type MemStore struct {
	mu      sync.RWMutex
	records []interpretation.ApprovalRecord
	ids     map[string]bool
}

func NewMemStore() *MemStore {
	return &MemStore{ids: make(map[string]bool)}
}

func (s *MemStore) AppendApproval(_ context.Context, rec interpretation.ApprovalRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[rec.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
	}
	rec.Timestamp = rec.Timestamp.UTC()
	s.ids[rec.ID] = true
	s.records = append(s.records, rec)
	return nil
}

func (s *MemStore) ListApprovals(_ context.Context, f Filter) ([]interpretation.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []interpretation.ApprovalRecord
	for _, r := range s.records {
		if !f.match(r) {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemStore) Close() error { return nil }
