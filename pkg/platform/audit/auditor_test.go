package audit_test

//go:generate mockgen -source=record.go -destination=mocks/mocks.go -package=mocks Sink,Store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/audit/mocks"
	"ozhi/pkg/platform/audit/store/memory"
)

// =============================================================================
// Auditor Test Suite
// =============================================================================
// Justification for unit tests: Log is the single entry point of the pipeline.
// Tests pin the ordering of merge, pre-hooks, classification, persistence and
// post-hooks, and the error each failure mode surfaces.

type AuditorSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *memory.InMemoryStore
	metrics *audit.Metrics
	auditor *audit.Auditor
	now     time.Time
}

func TestAuditorSuite(t *testing.T) {
	suite.Run(t, new(AuditorSuite))
}

func (s *AuditorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = memory.NewInMemoryStore()
	s.metrics = audit.NewMetrics(prometheus.NewRegistry())
	s.now = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	var err error
	s.auditor, err = audit.New(s.store,
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		audit.WithMetrics(s.metrics),
		audit.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *AuditorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *AuditorSuite) scoped(c audit.Context) context.Context {
	return audit.WithContext(context.Background(), c)
}

func (s *AuditorSuite) TestNew() {
	s.Run("nil sink returns error", func() {
		_, err := audit.New(nil)
		s.Error(err)
		s.Contains(err.Error(), "audit sink is required")
	})

	s.Run("valid sink returns auditor", func() {
		a, err := audit.New(mocks.NewMockSink(s.ctrl))
		s.NoError(err)
		s.NotNil(a)
	})
}

func (s *AuditorSuite) TestLog_MissingContext() {
	s.Run("no scope and no override", func() {
		called := false
		s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "spy", Before: func(_ context.Context, e audit.Event) (audit.Decision, error) {
			called = true
			return audit.Continue(e), nil
		}}))

		err := s.auditor.Log(context.Background(), audit.Input{Action: "login", Category: audit.CategoryAuth, Result: audit.ResultSuccess})

		s.ErrorIs(err, audit.ErrMissingContext)
		s.False(called, "no plugin may run without a context")
		s.Equal(0, s.store.Len())
	})

	s.Run("override without request id", func() {
		err := s.auditor.Log(context.Background(), audit.Input{
			Action:   "login",
			Category: audit.CategoryAuth,
			Result:   audit.ResultSuccess,
			Context:  &audit.Context{UserID: "u1"},
		})
		s.ErrorIs(err, audit.ErrMissingContext)
	})

	s.Run("override with request id is enough", func() {
		err := s.auditor.Log(context.Background(), audit.Input{
			Action:   "nightly_export",
			Category: audit.CategorySystem,
			Result:   audit.ResultSuccess,
			Context:  &audit.Context{RequestID: "job-1"},
		})
		s.NoError(err)

		records, _ := s.store.Query(context.Background(), audit.Query{RequestID: "job-1"})
		s.Len(records, 1)
		s.Equal(s.now, records[0].Timestamp, "missing timestamp is filled from the clock")
	})
}

func (s *AuditorSuite) TestLog_CriticalDeleteUser() {
	ctx := s.scoped(audit.Context{RequestID: "r1", UserID: "u1", Timestamp: s.now})

	err := s.auditor.Log(ctx, audit.Input{
		Action:   "delete_user",
		Category: audit.CategoryUserManagement,
		Result:   audit.ResultSuccess,
		Target:   &audit.Target{Type: "user", ID: "u2"},
	})
	s.Require().NoError(err)

	records := s.store.All()
	s.Require().Len(records, 1)
	s.Equal(audit.SeverityCritical, records[0].Severity)
	s.Equal("u1", records[0].UserID)
	s.Equal("r1", records[0].RequestID)
	s.NotEmpty(records[0].ID)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Logged.WithLabelValues("user_management", "critical")))
}

func (s *AuditorSuite) TestLog_OverrideMerge() {
	ctx := s.scoped(audit.Context{
		RequestID: "r1",
		UserID:    "ambient-user",
		IPAddress: "10.0.0.1",
		Timestamp: s.now,
		Metadata:  map[string]any{"path": "/a", "method": "GET"},
	})

	err := s.auditor.Log(ctx, audit.Input{
		Action:   "impersonate",
		Category: audit.CategoryAuth,
		Result:   audit.ResultSuccess,
		Context:  &audit.Context{UserID: "admin", Metadata: map[string]any{"method": "POST"}},
		Metadata: map[string]any{"reason": "support"},
	})
	s.Require().NoError(err)

	r := s.store.All()[0]
	s.Equal("admin", r.UserID)
	s.Equal("10.0.0.1", r.IPAddress)
	s.Equal("r1", r.RequestID)
	s.Equal(map[string]any{"path": "/a", "method": "POST", "reason": "support"}, r.Metadata)
}

func (s *AuditorSuite) TestLog_ExplicitSeverityIsKept() {
	ctx := s.scoped(audit.Context{RequestID: "r1"})

	err := s.auditor.Log(ctx, audit.Input{
		Action:   "delete_user",
		Category: audit.CategoryUserManagement,
		Result:   audit.ResultSuccess,
		Severity: audit.SeverityLow,
	})
	s.Require().NoError(err)
	s.Equal(audit.SeverityLow, s.store.All()[0].Severity)
}

func (s *AuditorSuite) TestLog_PreHookSeverityIsNotOverwritten() {
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "escalate", Before: func(_ context.Context, e audit.Event) (audit.Decision, error) {
		e.Severity = audit.SeverityHigh
		return audit.Continue(e), nil
	}}))

	err := s.auditor.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "view", Category: audit.CategoryDataAccess, Result: audit.ResultSuccess,
	})
	s.Require().NoError(err)
	s.Equal(audit.SeverityHigh, s.store.All()[0].Severity)
}

func (s *AuditorSuite) TestLog_Cancel() {
	var afterCalls atomic.Int32
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "veto", Before: func(context.Context, audit.Event) (audit.Decision, error) {
		return audit.Cancel(), nil
	}}))
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "notify", After: func(context.Context, audit.Event) error {
		afterCalls.Add(1)
		return nil
	}}))

	err := s.auditor.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "charge", Category: audit.CategoryPayment, Result: audit.ResultSuccess,
	})

	s.NoError(err)
	s.Equal(0, s.store.Len())
	s.Equal(int32(0), afterCalls.Load())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Cancelled.WithLabelValues("veto")))
}

func (s *AuditorSuite) TestLog_PreHookFailure() {
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "broken", Before: func(context.Context, audit.Event) (audit.Decision, error) {
		return audit.Decision{}, errors.New("lookup failed")
	}}))

	err := s.auditor.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "login", Category: audit.CategoryAuth, Result: audit.ResultSuccess,
	})

	var hookErr *audit.PluginHookError
	s.Require().ErrorAs(err, &hookErr)
	s.Equal("broken", hookErr.Plugin)
	s.Equal(audit.HookBefore, hookErr.Hook)
	s.Equal(0, s.store.Len())
}

func (s *AuditorSuite) TestLog_PreHookMayNotProduceInvalidEvent() {
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "eraser", Before: func(_ context.Context, e audit.Event) (audit.Decision, error) {
		e.Context.RequestID = ""
		return audit.Continue(e), nil
	}}))

	err := s.auditor.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "login", Category: audit.CategoryAuth, Result: audit.ResultSuccess,
	})

	s.True(audit.IsValidationError(err))
	s.Equal(0, s.store.Len())
}

func (s *AuditorSuite) TestLog_InvalidInput() {
	err := s.auditor.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "login", Category: "bogus", Result: audit.ResultSuccess,
	})
	s.True(audit.IsValidationError(err))
}

func (s *AuditorSuite) TestLog_PostHookFailureIsSwallowed() {
	var seenID string
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "flaky", After: func(context.Context, audit.Event) error {
		return errors.New("webhook down")
	}}))
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "recorder", After: func(_ context.Context, e audit.Event) error {
		seenID = e.ID
		return nil
	}}))

	err := s.auditor.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "login", Category: audit.CategoryAuth, Result: audit.ResultSuccess,
	})

	s.NoError(err)
	s.Equal(s.store.All()[0].ID, seenID, "post-hooks see the persisted id")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.HookFailures.WithLabelValues("flaky", "after")))
}

func (s *AuditorSuite) TestLog_PersistenceFailure() {
	sink := mocks.NewMockSink(s.ctrl)
	a, err := audit.New(sink, audit.WithMetrics(audit.NewMetrics(prometheus.NewRegistry())))
	s.Require().NoError(err)

	afterCalled := false
	s.Require().NoError(a.Register(audit.Hooks{PluginName: "after", After: func(context.Context, audit.Event) error {
		afterCalled = true
		return nil
	}}))

	cause := errors.New("connection refused")
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).Return(cause)

	err = a.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "charge", Category: audit.CategoryPayment, Result: audit.ResultSuccess,
	})

	var persistErr *audit.PersistenceError
	s.Require().ErrorAs(err, &persistErr)
	s.ErrorIs(err, cause)
	s.Equal("r1", persistErr.RequestID)
	s.False(afterCalled)
}

func (s *AuditorSuite) TestLog_UnencodableMetadataIsPersistenceFailure() {
	sink := mocks.NewMockSink(s.ctrl)
	a, err := audit.New(sink)
	s.Require().NoError(err)

	afterCalled := false
	s.Require().NoError(a.Register(audit.Hooks{PluginName: "after", After: func(context.Context, audit.Event) error {
		afterCalled = true
		return nil
	}}))
	sink.EXPECT().Append(gomock.Any(), gomock.Any()).Times(0)

	err = a.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "login", Category: audit.CategoryAuth, Result: audit.ResultSuccess,
		Metadata: map[string]any{"f": func() {}},
	})

	var persistErr *audit.PersistenceError
	s.Require().ErrorAs(err, &persistErr)
	s.ErrorContains(err, "encode metadata")
	s.False(afterCalled)
}

func (s *AuditorSuite) TestLog_CallerMapsAreNotMutated() {
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "mutator", Before: func(_ context.Context, e audit.Event) (audit.Decision, error) {
		e.Metadata["added"] = true
		e.Target.Metadata["added"] = true
		return audit.Continue(e), nil
	}}))

	meta := map[string]any{"k": "v"}
	target := &audit.Target{Type: "user", ID: "u2", Metadata: map[string]any{}}
	err := s.auditor.Log(s.scoped(audit.Context{RequestID: "r1"}), audit.Input{
		Action: "view", Category: audit.CategoryDataAccess, Result: audit.ResultSuccess,
		Metadata: meta, Target: target,
	})

	s.Require().NoError(err)
	s.NotContains(meta, "added")
	s.NotContains(target.Metadata, "added")
}

func (s *AuditorSuite) TestInitialize() {
	s.Require().NoError(s.auditor.Register(audit.Hooks{PluginName: "stream", Init: func(context.Context) error {
		return errors.New("broker unreachable")
	}}))

	var initErr *audit.PluginInitError
	s.Require().ErrorAs(s.auditor.Initialize(context.Background()), &initErr)
	s.Equal("stream", initErr.Plugin)
	s.Equal([]string{"stream"}, s.auditor.Plugins())
}
