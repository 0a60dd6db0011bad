// Package poller drives a vendor status endpoint until the extractor reports
// a terminal outcome or the attempt budget runs out.
//
// Transient problems (fetch errors, non-2xx responses, bodies without a usable
// signal) keep the loop going and are only logged. An explicit vendor failure
// ends it at once, whatever attempts remain.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/mediagen-api/internal/extract"
	"github.com/maauso/mediagen-api/internal/provider"
)

// Static errors for polling outcomes.
var (
	// ErrProviderFailure matches every *ProviderFailureError.
	ErrProviderFailure = errors.New("poller: provider reported failure")
	// ErrTimeout matches every *TimeoutError.
	ErrTimeout = errors.New("poller: timed out")
	// ErrCancelled is returned when the caller abandons the job.
	ErrCancelled = errors.New("poller: cancelled")
	// ErrNoStatusURL is returned when Run is called without a URL to poll.
	ErrNoStatusURL = errors.New("poller: status URL is required")
)

// ProviderFailureError is an explicit failure reported by the vendor.
type ProviderFailureError struct {
	Message string
}

func (e *ProviderFailureError) Error() string {
	if e.Message == "" {
		return "poller: provider reported failure"
	}
	return "poller: provider reported failure: " + e.Message
}

// Is makes errors.Is(err, ErrProviderFailure) match.
func (e *ProviderFailureError) Is(target error) bool { return target == ErrProviderFailure }

// TimeoutError reports an exhausted attempt budget. LastCause is the last
// transient error seen, possibly extract.ErrParseExhausted.
type TimeoutError struct {
	Attempts  int
	Budget    time.Duration
	LastCause error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("Timeout after %s (%d attempts)", e.Budget, e.Attempts)
	if e.LastCause != nil {
		msg += ": last error: " + e.LastCause.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.LastCause }

// Is makes errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// FetchFunc performs one status request. A non-nil error is transient.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Tick describes one finished poll attempt.
type Tick struct {
	Attempt     int
	MaxAttempts int
	StatusURL   string
	Result      extract.Result
	// Err is the transient fetch error of this tick, if any.
	Err error
}

// Poller polls a status URL under a provider's policy and rules.
type Poller struct {
	Policy provider.PollPolicy
	Rules  extract.Rules
	Fetch  FetchFunc

	sleep  Sleeper
	logger *slog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithSleeper replaces the wall-clock sleep between ticks.
func WithSleeper(s Sleeper) Option {
	return func(p *Poller) {
		p.sleep = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// New creates a Poller. Each job gets its own instance.
func New(policy provider.PollPolicy, rules extract.Rules, fetch FetchFunc, opts ...Option) *Poller {
	p := &Poller{
		Policy: policy,
		Rules:  rules,
		Fetch:  fetch,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run polls statusURL until success, explicit failure, budget exhaustion or
// cancellation. observe, when non-nil, is called after every tick from the
// calling goroutine.
//
// Success returns the extracted result and a nil error. Failure returns the
// extracted result with a *ProviderFailureError. Exhaustion returns a
// *TimeoutError and cancellation an error matching ErrCancelled.
func (p *Poller) Run(ctx context.Context, statusURL string, observe func(Tick)) (extract.Result, error) {
	if statusURL == "" {
		return extract.Result{}, ErrNoStatusURL
	}
	maxAttempts := p.Policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	url := statusURL
	var lastCause error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, cancelled(err)
		}

		tick := Tick{Attempt: attempt, MaxAttempts: maxAttempts, StatusURL: url}

		body, err := p.Fetch(ctx, url)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return extract.Result{}, cancelled(ctxErr)
			}
			lastCause = err
			tick.Err = err
			p.logger.Warn("status poll failed",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		} else {
			res := extract.Extract(p.Rules, body)
			tick.Result = res
			p.logger.Debug("status polled",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("outcome", res.Kind.String()),
			)

			switch res.Kind {
			case extract.Success:
				notify(observe, tick)
				return res, nil
			case extract.Failure:
				notify(observe, tick)
				return res, &ProviderFailureError{Message: res.Message}
			default:
				if res.StatusURL != "" && res.StatusURL != url {
					url = res.StatusURL
				}
				if res.Reason != nil {
					lastCause = res.Reason
				}
			}
		}

		notify(observe, tick)

		if attempt == maxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return extract.Result{}, cancelled(err)
		}
		if err := p.sleep(ctx, NextInterval(p.Policy, attempt-1)); err != nil {
			return extract.Result{}, cancelled(err)
		}
	}

	return extract.Result{}, &TimeoutError{
		Attempts:  maxAttempts,
		Budget:    Budget(p.Policy),
		LastCause: lastCause,
	}
}

func notify(observe func(Tick), t Tick) {
	if observe != nil {
		observe(t)
	}
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
