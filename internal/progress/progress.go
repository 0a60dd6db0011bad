// Package progress maps the phases of a generation job to a 0-100 value.
//
// Bands: queued 0, uploading 10-25, submitting 30, submitted 40,
// polling 40-95, succeeded 100. Only an observed success reaches 100.
package progress

import "sync"

// Phase is a step of a generation job.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseUploading  Phase = "uploading"
	PhaseSubmitting Phase = "submitting"
	PhaseSubmitted  Phase = "submitted"
	PhasePolling    Phase = "polling"
	PhaseSucceeded  Phase = "succeeded"
)

const (
	uploadStart = 10
	uploadEnd   = 25
	submitting  = 30
	submitted   = 40
	pollingEnd  = 95
	complete    = 100
)

// Report returns the progress for a phase. attempt and maxAttempts scale the
// uploading and polling bands; they are ignored for other phases.
func Report(phase Phase, attempt, maxAttempts int) int {
	switch phase {
	case PhaseQueued:
		return 0
	case PhaseUploading:
		return scale(uploadStart, uploadEnd, attempt, maxAttempts)
	case PhaseSubmitting:
		return submitting
	case PhaseSubmitted:
		return submitted
	case PhasePolling:
		return scale(submitted, pollingEnd, attempt, maxAttempts)
	case PhaseSucceeded:
		return complete
	default:
		return 0
	}
}

func scale(lo, hi, n, total int) int {
	if total <= 0 || n <= 0 {
		return lo
	}
	if n >= total {
		return hi
	}
	return lo + (hi-lo)*n/total
}

// Tracker holds the monotonic progress of one job and fans it out to
// subscribers. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	current int
	phase   Phase
	subs    map[int]chan int
	nextSub int
	closed  bool
}

// NewTracker returns a tracker at 0 in the queued phase.
func NewTracker() *Tracker {
	return &Tracker{phase: PhaseQueued, subs: make(map[int]chan int)}
}

// Set records a phase change and returns the resulting progress. The value
// never decreases; PhaseSucceeded is the only way to reach 100.
func (t *Tracker) Set(phase Phase, attempt, maxAttempts int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return t.current
	}
	v := Report(phase, attempt, maxAttempts)
	if phase != PhaseSucceeded && v > pollingEnd {
		v = pollingEnd
	}
	t.phase = phase
	if v > t.current {
		t.current = v
		t.publish(v)
	}
	return t.current
}

// Succeed marks the job as complete.
func (t *Tracker) Succeed() {
	t.Set(PhaseSucceeded, 0, 0)
}

// Current returns the latest progress value.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Subscribe returns a channel that receives the latest progress value.
// Slow readers skip intermediate values but never see a value go down.
// The channel is closed by Close or by the returned cancel function.
func (t *Tracker) Subscribe() (<-chan int, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan int, 1)
	if t.closed {
		ch <- t.current
		close(ch)
		return ch, func() {}
	}

	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.current

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription. Later updates are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

// publish must be called with t.mu held.
func (t *Tracker) publish(v int) {
	for _, ch := range t.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}
