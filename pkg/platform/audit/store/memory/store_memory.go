package memory

import (
	"context"
	"slices"
	"sync"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/sentinel"
)

// InMemoryStore keeps records in insertion order. It serves tests and single-node
// deployments without DATABASE_URL.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []audit.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *InMemoryStore) Append(ctx context.Context, record audit.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, copyRecord(record))
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return copyRecord(r), nil
		}
	}
	return audit.Record{}, sentinel.ErrNotFound
}

// Query returns matching records, most recent timestamp first. Records with equal
// timestamps keep insertion order.
func (s *InMemoryStore) Query(_ context.Context, q audit.Query) ([]audit.Record, error) {
	q = q.Normalize()

	s.mu.RLock()
	matched := make([]audit.Record, 0)
	for _, r := range s.records {
		if q.Matches(r) {
			matched = append(matched, copyRecord(r))
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b audit.Record) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	if q.Offset >= len(matched) {
		return []audit.Record{}, nil
	}
	end := min(q.Offset+q.Limit, len(matched))
	return matched[q.Offset:end], nil
}

// All returns every record in insertion order.
func (s *InMemoryStore) All() []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Record, len(s.records))
	for i, r := range s.records {
		out[i] = copyRecord(r)
	}
	return out
}

func copyRecord(r audit.Record) audit.Record {
	r.Metadata = audit.CloneMetadata(r.Metadata)
	r.ChangedFields = slices.Clone(r.ChangedFields)
	r.ChangesBefore = slices.Clone(r.ChangesBefore)
	r.ChangesAfter = slices.Clone(r.ChangesAfter)
	return r
}
