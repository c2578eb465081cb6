package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/audit/store/memory"
	"ozhi/pkg/testutil"
)

func newTrackAuditor(t *testing.T) (*audit.Auditor, *memory.InMemoryStore) {
	t.Helper()
	store := memory.NewInMemoryStore()
	a, err := audit.New(store)
	require.NoError(t, err)
	return a, store
}

func TestTrack_Success(t *testing.T) {
	a, store := newTrackAuditor(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := testutil.ScopedContext("r1", now)

	got, err := audit.Track(ctx, a, "create_invoice", audit.CategoryInvoice, map[string]any{"amount": 10},
		func(context.Context) (string, error) { return "inv-1", nil })

	require.NoError(t, err)
	assert.Equal(t, "inv-1", got)

	records := store.All()
	require.Len(t, records, 1)
	assert.Equal(t, audit.ResultSuccess, records[0].Result)
	assert.Equal(t, audit.SeverityLow, records[0].Severity)
	assert.Equal(t, map[string]any{"amount": 10}, records[0].Metadata["args"])
	assert.True(t, now.Equal(records[0].Timestamp))
}

func TestTrack_Failure(t *testing.T) {
	a, store := newTrackAuditor(t)
	ctx := audit.WithContext(context.Background(), audit.Context{RequestID: "r1"})
	cause := errors.New("card declined")

	_, err := audit.Track(ctx, a, "charge", audit.CategoryPayment, nil,
		func(context.Context) (int, error) { return 0, cause })

	assert.ErrorIs(t, err, cause)

	records := store.All()
	require.Len(t, records, 1)
	assert.Equal(t, audit.ResultFailure, records[0].Result)
	assert.Equal(t, audit.SeverityMedium, records[0].Severity)
	assert.Equal(t, "card declined", records[0].Error)
	assert.Nil(t, records[0].Metadata)
}

func TestTrack_AuditFailureIsJoined(t *testing.T) {
	a, _ := newTrackAuditor(t)

	got, err := audit.Track(context.Background(), a, "charge", audit.CategoryPayment, nil,
		func(context.Context) (int, error) { return 42, nil })

	assert.Equal(t, 42, got)
	assert.ErrorIs(t, err, audit.ErrMissingContext)
}
