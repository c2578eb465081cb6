package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/sentinel"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id string, offset time.Duration, mutate func(*audit.Record)) audit.Record {
	r := audit.Record{
		ID:        id,
		Action:    "login",
		Category:  audit.CategoryAuth,
		Severity:  audit.SeverityLow,
		Result:    audit.ResultSuccess,
		RequestID: "req-" + id,
		Timestamp: base.Add(offset),
	}
	if mutate != nil {
		mutate(&r)
	}
	return r
}

func seed(t *testing.T, s *InMemoryStore, records ...audit.Record) {
	t.Helper()
	for _, r := range records {
		require.NoError(t, s.Append(context.Background(), r))
	}
}

func TestInMemoryStore_AppendAndGet(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s, record("a", 0, func(r *audit.Record) {
		r.Metadata = map[string]any{"k": "v"}
	}))

	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "req-a", got.RequestID)

	got.Metadata["k"] = "mutated"
	again, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Metadata["k"], "stored records are immutable")

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_NestedMetadataIsCopied(t *testing.T) {
	s := NewInMemoryStore()
	client := map[string]any{"browser": "Firefox", "tags": []any{"desktop"}}
	appended := record("a", 0, func(r *audit.Record) {
		r.Metadata = map[string]any{"client": client}
	})
	seed(t, s, appended)

	// the caller keeps mutating its own event after Append
	client["browser"] = "Chrome"

	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	got.Metadata["client"].(map[string]any)["browser"] = "Safari"
	got.Metadata["client"].(map[string]any)["tags"].([]any)[0] = "mobile"

	again, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	nested := again.Metadata["client"].(map[string]any)
	assert.Equal(t, "Firefox", nested["browser"])
	assert.Equal(t, []any{"desktop"}, nested["tags"])
}

func TestInMemoryStore_AppendHonoursCancelledContext(t *testing.T) {
	s := NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Append(ctx, record("a", 0, nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestInMemoryStore_Query(t *testing.T) {
	s := NewInMemoryStore()
	seed(t, s,
		record("1", 1*time.Minute, func(r *audit.Record) { r.UserID = "u1" }),
		record("2", 2*time.Minute, func(r *audit.Record) {
			r.UserID = "u2"
			r.Category = audit.CategoryPayment
			r.Severity = audit.SeverityHigh
			r.Result = audit.ResultFailure
		}),
		record("3", 3*time.Minute, func(r *audit.Record) {
			r.UserID = "u1"
			r.Action = "delete_user"
			r.Category = audit.CategoryUserManagement
			r.Severity = audit.SeverityCritical
			r.TargetType = "user"
			r.TargetID = "u9"
		}),
		record("4", 4*time.Minute, func(r *audit.Record) { r.RequestID = "shared" }),
	)

	ids := func(records []audit.Record) []string {
		out := make([]string, 0, len(records))
		for _, r := range records {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name  string
		query audit.Query
		want  []string
	}{
		{name: "no filters orders by timestamp desc", query: audit.Query{}, want: []string{"4", "3", "2", "1"}},
		{name: "user", query: audit.Query{UserID: "u1"}, want: []string{"3", "1"}},
		{name: "single category", query: audit.Query{Categories: []audit.Category{audit.CategoryPayment}}, want: []string{"2"}},
		{
			name:  "many severities",
			query: audit.Query{Severities: []audit.Severity{audit.SeverityHigh, audit.SeverityCritical}},
			want:  []string{"3", "2"},
		},
		{
			name:  "inclusive date range",
			query: audit.Query{StartDate: base.Add(2 * time.Minute), EndDate: base.Add(3 * time.Minute)},
			want:  []string{"3", "2"},
		},
		{name: "target", query: audit.Query{TargetType: "user", TargetID: "u9"}, want: []string{"3"}},
		{name: "action", query: audit.Query{Action: "delete_user"}, want: []string{"3"}},
		{name: "request id", query: audit.Query{RequestID: "shared"}, want: []string{"4"}},
		{name: "limit", query: audit.Query{Limit: 2}, want: []string{"4", "3"}},
		{name: "limit and offset", query: audit.Query{Limit: 2, Offset: 2}, want: []string{"2", "1"}},
		{name: "offset past end", query: audit.Query{Offset: 10}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestInMemoryStore_ConcurrentAppend(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Append(context.Background(), record(fmt.Sprint(i), 0, nil)))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	s.Clear()
	assert.Equal(t, 0, s.Len())
}
