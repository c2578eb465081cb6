package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/audit/store/memory"
	"ozhi/pkg/platform/sentinel"
)

type memoryStore struct {
	*memory.InMemoryStore
	migrated bool
	released bool
}

func (m *memoryStore) EnsureSchema(context.Context) error {
	m.migrated = true
	return nil
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *memoryStore {
	t.Helper()
	s := &memoryStore{InMemoryStore: memory.NewInMemoryStore()}
	for i, r := range []audit.Record{
		{ID: "1", Action: "login", Category: audit.CategoryAuth, Severity: audit.SeverityLow, Result: audit.ResultSuccess, UserID: "u1", RequestID: "a", Timestamp: base},
		{ID: "2", Action: "login", Category: audit.CategoryAuth, Severity: audit.SeverityHigh, Result: audit.ResultFailure, UserID: "u1", RequestID: "b", Timestamp: base.Add(time.Hour)},
		{ID: "3", Action: "refund", Category: audit.CategoryPayment, Severity: audit.SeverityLow, Result: audit.ResultSuccess, UserID: "u2", RequestID: "c", Timestamp: base.Add(2 * time.Hour)},
	} {
		require.NoError(t, s.Append(context.Background(), r), "seed %d", i)
	}
	return s
}

func execute(t *testing.T, store *memoryStore, args ...string) (string, error) {
	t.Helper()
	open := func(context.Context, string) (Store, func() error, error) {
		return store, func() error { store.released = true; return nil }, nil
	}
	cmd := newRootCmd(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--database-url", "postgres://test"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeLines(t *testing.T, out string) []audit.Record {
	t.Helper()
	var records []audit.Record
	sc := bufio.NewScanner(bytes.NewBufferString(out))
	for sc.Scan() {
		var r audit.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		records = append(records, r)
	}
	return records
}

func TestMigrate(t *testing.T) {
	store := newTestStore(t)
	out, err := execute(t, store, "migrate")
	require.NoError(t, err)
	assert.True(t, store.migrated)
	assert.True(t, store.released)
	assert.Contains(t, out, "up to date")
}

func TestQuery(t *testing.T) {
	t.Run("json lines newest first", func(t *testing.T) {
		out, err := execute(t, newTestStore(t), "query", "--user-id", "u1")
		require.NoError(t, err)
		records := decodeLines(t, out)
		require.Len(t, records, 2)
		assert.Equal(t, "2", records[0].ID)
		assert.Equal(t, "1", records[1].ID)
	})

	t.Run("category and severity lists", func(t *testing.T) {
		out, err := execute(t, newTestStore(t), "query", "--category", "auth,payment", "--severity", "low")
		require.NoError(t, err)
		assert.Len(t, decodeLines(t, out), 2)
	})

	t.Run("date range and pagination", func(t *testing.T) {
		out, err := execute(t, newTestStore(t), "query",
			"--start-date", base.Add(30*time.Minute).Format(time.RFC3339),
			"--limit", "1", "--offset", "1",
		)
		require.NoError(t, err)
		records := decodeLines(t, out)
		require.Len(t, records, 1)
		assert.Equal(t, "2", records[0].ID)
	})

	t.Run("invalid filters", func(t *testing.T) {
		_, err := execute(t, newTestStore(t), "query", "--category", "nope")
		assert.ErrorContains(t, err, `unknown category "nope"`)

		_, err = execute(t, newTestStore(t), "query", "--end-date", "tomorrow")
		assert.ErrorContains(t, err, "invalid --end-date")
	})
}

func TestQueryFlags_Since(t *testing.T) {
	now := base.Add(3 * time.Hour)
	q, err := queryFlags{since: time.Hour, startDate: "2020-01-01T00:00:00Z"}.toQuery(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), q.StartDate)
}

func TestGet(t *testing.T) {
	out, err := execute(t, newTestStore(t), "get", "3")
	require.NoError(t, err)
	var r audit.Record
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "refund", r.Action)

	_, err = execute(t, newTestStore(t), "get", "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	_, err = execute(t, newTestStore(t), "get")
	assert.Error(t, err)
}

func TestOpenPostgres_RequiresURL(t *testing.T) {
	_, _, err := openPostgres(context.Background(), "")
	assert.ErrorContains(t, err, "database URL is required")
}
