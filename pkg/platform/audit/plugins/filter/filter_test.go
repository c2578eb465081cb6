package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	audit "ozhi/pkg/platform/audit"
	"ozhi/pkg/platform/audit/plugins/notification"
	"ozhi/pkg/platform/audit/plugins/notification/mocks"
	"ozhi/pkg/platform/audit/store/memory"
	"ozhi/pkg/testutil"
)

func TestRule_Matches(t *testing.T) {
	refund := audit.Event{
		Action:   "refund",
		Category: audit.CategoryPayment,
		Target:   &audit.Target{Type: "blocked_account", ID: "a1"},
	}

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{"empty rule matches nothing", Rule{}, false},
		{"category", Rule{Categories: []audit.Category{audit.CategoryPayment}}, true},
		{"other category", Rule{Categories: []audit.Category{audit.CategoryAuth}}, false},
		{"category and target", Rule{Categories: []audit.Category{audit.CategoryPayment}, TargetTypes: []string{"blocked_account"}}, true},
		{"target mismatch", Rule{TargetTypes: []string{"invoice"}}, false},
		{"action", Rule{Actions: []string{"charge", "refund"}}, true},
		{"all dimensions must match", Rule{Categories: []audit.Category{audit.CategoryPayment}, Actions: []string{"charge"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(refund))
		})
	}

	t.Run("target rule needs a target", func(t *testing.T) {
		assert.False(t, Rule{TargetTypes: []string{"blocked_account"}}.Matches(audit.Event{Category: audit.CategoryPayment}))
	})
}

func TestPlugin_BlockedAccountScenario(t *testing.T) {
	testutil.Given(t, "an auditor with a blocked_account filter and a notifier", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		notifier := mocks.NewMockNotifier(ctrl) // no expectations: any call fails the test

		notify, err := notification.New(notifier, notification.WithThreshold(audit.SeverityLow))
		require.NoError(t, err)

		store := memory.NewInMemoryStore()
		auditor, err := audit.New(store)
		require.NoError(t, err)
		require.NoError(t, auditor.Register(New(WithRule(Rule{
			Categories:  []audit.Category{audit.CategoryPayment},
			TargetTypes: []string{"blocked_account"},
		}))))
		require.NoError(t, auditor.Register(notify))

		ctx := audit.WithContext(context.Background(), audit.Context{RequestID: "r3"})

		testutil.When(t, "a payment against a blocked account is logged", func(t *testing.T) {
			err := auditor.Log(ctx, audit.Input{
				Action:   "charge",
				Category: audit.CategoryPayment,
				Result:   audit.ResultSuccess,
				Target:   &audit.Target{Type: "blocked_account", ID: "acct_9"},
			})

			testutil.Then(t, "nothing is persisted and no one is notified", func(t *testing.T) {
				require.NoError(t, err)
				assert.Zero(t, store.Len())
			})
		})
	})
}

func TestPlugin_Sampling(t *testing.T) {
	sampler := NewSampler(1, map[string]float64{"heartbeat": 0.25})
	sampler.random = func() float64 { return 0.5 }

	p := New(WithSampler(sampler))
	ctx := context.Background()

	d, err := p.BeforeAudit(ctx, audit.Event{Action: "heartbeat", Result: audit.ResultSuccess})
	require.NoError(t, err)
	assert.True(t, d.Cancelled())

	d, err = p.BeforeAudit(ctx, audit.Event{Action: "heartbeat", Result: audit.ResultFailure})
	require.NoError(t, err)
	assert.False(t, d.Cancelled(), "failures bypass sampling")

	d, err = p.BeforeAudit(ctx, audit.Event{Action: "login", Result: audit.ResultSuccess})
	require.NoError(t, err)
	assert.False(t, d.Cancelled())
	assert.Equal(t, "login", d.Event().Action)
}

func TestSampler(t *testing.T) {
	rates := map[string]float64{"never": -1, "half": 0.5, "always": 7}
	s := NewSampler(0.1, rates)

	tests := []struct {
		action string
		rate   float64
	}{
		{"never", 0},
		{"half", 0.5},
		{"always", 1},
		{"other", 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			assert.Equal(t, tt.rate, s.Rate(tt.action))
		})
	}
	assert.Equal(t, 7.0, rates["always"], "caller map is not clamped in place")

	s.random = func() float64 { return 0.3 }
	assert.True(t, s.Keep("always"))
	assert.False(t, s.Keep("never"))
	assert.True(t, s.Keep("half"))
	assert.False(t, s.Keep("other"))
}
