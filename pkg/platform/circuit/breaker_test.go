package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_Defaults(t *testing.T) {
	b := New("kafka")
	assert.Equal(t, "kafka", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())

	for range 4 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen(), "default threshold is five failures")
	b.RecordFailure()
	assert.True(t, b.IsOpen())
	assert.Equal(t, "open", b.State().String())
}

// outcomes: 'f' failure, 's' success.
func TestBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		outcomes  string
		open      bool
		opened    int
		closed    int
	}{
		{name: "below failure threshold", failures: 3, successes: 1, outcomes: "ff", open: false},
		{name: "opens at threshold", failures: 3, successes: 1, outcomes: "fff", open: true, opened: 1},
		{name: "success resets failure streak", failures: 3, successes: 1, outcomes: "ffsff", open: false},
		{name: "extra failures while open report no change", failures: 1, successes: 1, outcomes: "fff", open: true, opened: 1},
		{name: "closes after success streak", failures: 1, successes: 2, outcomes: "fss", open: false, opened: 1, closed: 1},
		{name: "failure breaks success streak", failures: 1, successes: 3, outcomes: "fssfss", open: true, opened: 1},
		{name: "reopens after closing", failures: 1, successes: 1, outcomes: "fsf", open: true, opened: 2, closed: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("test", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))
			var opened, closed int
			for _, o := range tt.outcomes {
				var change StateChange
				switch o {
				case 'f':
					useFallback, c := b.RecordFailure()
					assert.Equal(t, b.IsOpen(), useFallback)
					change = c
				case 's':
					usePrimary, c := b.RecordSuccess()
					assert.Equal(t, !b.IsOpen(), usePrimary)
					change = c
				}
				if change.Opened {
					opened++
				}
				if change.Closed {
					closed++
				}
			}
			assert.Equal(t, tt.open, b.IsOpen())
			assert.Equal(t, tt.opened, opened, "open transitions")
			assert.Equal(t, tt.closed, closed, "close transitions")
		})
	}
}

func TestBreaker_IgnoresNonPositiveThresholds(t *testing.T) {
	b := New("test", WithFailureThreshold(0), WithSuccessThreshold(-1))
	require.Equal(t, 5, b.failureThreshold)
	require.Equal(t, 3, b.successThreshold)
}

func TestBreaker_Reset(t *testing.T) {
	b := New("test", WithFailureThreshold(1), WithSuccessThreshold(5))
	b.RecordFailure()
	b.RecordSuccess()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	// counters were cleared too
	_, change := b.RecordFailure()
	assert.True(t, change.Opened)
}

func TestBreaker_Concurrent(t *testing.T) {
	b := New("test", WithFailureThreshold(50))
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
	}
	wg.Wait()
	assert.True(t, b.IsOpen())
}
