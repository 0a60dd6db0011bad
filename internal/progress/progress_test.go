package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_Bands(t *testing.T) {
	tests := []struct {
		phase   Phase
		attempt int
		max     int
		want    int
	}{
		{PhaseQueued, 0, 0, 0},
		{PhaseUploading, 0, 2, 10},
		{PhaseUploading, 1, 2, 17},
		{PhaseUploading, 2, 2, 25},
		{PhaseSubmitting, 0, 0, 30},
		{PhaseSubmitted, 0, 0, 40},
		{PhasePolling, 0, 180, 40},
		{PhasePolling, 90, 180, 67},
		{PhasePolling, 180, 180, 95},
		{PhasePolling, 500, 180, 95},
		{PhaseSucceeded, 0, 0, 100},
		{Phase("bogus"), 1, 1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Report(tt.phase, tt.attempt, tt.max), "%s %d/%d", tt.phase, tt.attempt, tt.max)
	}
}

func TestReport_PollingNeverReaches100(t *testing.T) {
	for max := 1; max <= 240; max++ {
		for attempt := 0; attempt <= max+5; attempt++ {
			require.LessOrEqual(t, Report(PhasePolling, attempt, max), 95)
		}
	}
}

func TestTracker_Monotonic(t *testing.T) {
	tr := NewTracker()
	var seen []int

	seen = append(seen, tr.Set(PhaseSubmitting, 0, 0))
	seen = append(seen, tr.Set(PhaseSubmitted, 0, 0))
	for i := 1; i <= 10; i++ {
		seen = append(seen, tr.Set(PhasePolling, i, 10))
	}
	// A late upload report must not move progress back.
	seen = append(seen, tr.Set(PhaseUploading, 1, 1))
	assert.Equal(t, 95, tr.Current())

	tr.Succeed()
	seen = append(seen, tr.Current())

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 100, seen[len(seen)-1])
	for _, v := range seen[:len(seen)-1] {
		assert.Less(t, v, 100)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Equal(t, PhaseSucceeded, tr.phase)
}

func TestTracker_Subscribe(t *testing.T) {
	tr := NewTracker()
	tr.Set(PhaseSubmitted, 0, 0)

	ch, cancel := tr.Subscribe()
	defer cancel()
	assert.Equal(t, 40, <-ch)

	tr.Set(PhasePolling, 1, 2)
	tr.Set(PhasePolling, 2, 2)
	// Only the latest value is buffered.
	assert.Equal(t, 95, <-ch)

	tr.Succeed()
	assert.Equal(t, 100, <-ch)

	tr.Close()
	_, ok := <-ch
	assert.False(t, ok)

	tr.Set(PhaseQueued, 0, 0)
	assert.Equal(t, 100, tr.Current())
}

func TestTracker_SubscribeAfterClose(t *testing.T) {
	tr := NewTracker()
	tr.Succeed()
	tr.Close()

	ch, cancel := tr.Subscribe()
	defer cancel()
	assert.Equal(t, 100, <-ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestTracker_Unsubscribe(t *testing.T) {
	tr := NewTracker()
	ch, cancel := tr.Subscribe()
	<-ch
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	tr.Set(PhaseSubmitted, 0, 0)
	tr.Close()
}

func TestTracker_ConcurrentReaders(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		ch, _ := tr.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1
			for v := range ch {
				assert.GreaterOrEqual(t, v, last)
				last = v
			}
			assert.Equal(t, 100, last)
		}()
	}

	for i := 0; i <= 100; i++ {
		tr.Set(PhasePolling, i, 100)
	}
	tr.Succeed()
	tr.Close()
	wg.Wait()
}
