// Package generation ties the provider router, transport, extractor and
// poller into one engine that turns a request into a single result URL.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/mediagen-api/internal/extract"
	"github.com/maauso/mediagen-api/internal/poller"
	"github.com/maauso/mediagen-api/internal/progress"
	"github.com/maauso/mediagen-api/internal/provider"
	"github.com/maauso/mediagen-api/internal/transport"
)

// ErrNoStatusURL is returned when a submission yields neither a result nor
// anything to poll.
var ErrNoStatusURL = errors.New("generation: submission returned no result and no status URL")

// Request is one generation request. It is not modified once submitted.
type Request struct {
	Prompt          string
	Model           string
	Width           int
	Height          int
	DurationSeconds float64
	ReferenceImages []transport.Image
	Extra           map[string]any
}

// Handle identifies a submitted vendor job.
type Handle struct {
	// TaskID is vendor-assigned, or a local UUIDv4 when the vendor returns none.
	TaskID      string
	StatusURL   string
	SubmittedAt time.Time
}

// Result is a successful generation.
type Result struct {
	URL            string
	Model          string
	Kind           provider.Kind
	Handle         Handle
	Cost           *float64
	ResolvedWidth  int
	ResolvedHeight int
	// Attempts is the number of status polls performed; zero when the
	// submission response carried the result.
	Attempts int
}

// Submitted is an accepted submission waiting to be awaited.
type Submitted struct {
	Model  string
	Kind   provider.Kind
	Handle Handle

	profile provider.Profile
	initial extract.Result
}

// Pending reports whether the submission response left the outcome open, so
// that Await has to poll.
func (s Submitted) Pending() bool {
	return !s.initial.Terminal()
}

// Transport is the vendor I/O the engine needs.
type Transport interface {
	Submit(ctx context.Context, p provider.Profile, sub transport.Submission) (transport.Response, error)
	Fetch(ctx context.Context, p provider.Profile, url string) (transport.Response, error)
}

// Engine runs generations against any registered provider profile.
type Engine struct {
	router     *provider.Router
	transport  Transport
	logger     *slog.Logger
	pollerOpts []poller.Option
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithPollerOptions adds options applied to every poller the engine creates.
func WithPollerOptions(opts ...poller.Option) EngineOption {
	return func(e *Engine) {
		e.pollerOpts = append(e.pollerOpts, opts...)
	}
}

// WithClock sets the clock used for submission timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine.
func NewEngine(router *provider.Router, t Transport, opts ...EngineOption) *Engine {
	e := &Engine{
		router:    router,
		transport: t,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Router returns the engine's provider router.
func (e *Engine) Router() *provider.Router {
	return e.router
}

// Generate submits req and waits for its single terminal outcome. tracker may
// be nil.
func (e *Engine) Generate(ctx context.Context, req Request, tracker *progress.Tracker) (Result, error) {
	sub, err := e.Submit(ctx, req, tracker)
	if err != nil {
		return Result{}, err
	}
	return e.Await(ctx, sub, tracker)
}

// Submit resolves the model and submits the job, uploading reference images
// first when the provider requires it.
func (e *Engine) Submit(ctx context.Context, req Request, tracker *progress.Tracker) (Submitted, error) {
	if tracker == nil {
		tracker = progress.NewTracker()
	}

	p, err := e.router.Resolve(req.Model)
	if err != nil {
		return Submitted{}, err
	}

	sub := transport.Submission{
		Prompt:          req.Prompt,
		Width:           req.Width,
		Height:          req.Height,
		DurationSeconds: req.DurationSeconds,
		Images:          req.ReferenceImages,
		Extra:           req.Extra,
	}
	if n := len(req.ReferenceImages); n > 0 && p.RequiresUpload() {
		tracker.Set(progress.PhaseUploading, 0, n)
		sub.OnUpload = func(done, total int) {
			tracker.Set(progress.PhaseUploading, done, total)
			if done == total {
				tracker.Set(progress.PhaseSubmitting, 0, 0)
			}
		}
	} else {
		tracker.Set(progress.PhaseSubmitting, 0, 0)
	}

	resp, err := e.transport.Submit(ctx, p, sub)
	if err != nil {
		return Submitted{}, err
	}
	tracker.Set(progress.PhaseSubmitted, 0, 0)

	initial := extract.Extract(p.Rules, resp.Body)
	handle := Handle{
		TaskID:      initial.TaskID,
		StatusURL:   initial.StatusURL,
		SubmittedAt: e.now(),
	}
	if handle.TaskID == "" {
		handle.TaskID = uuid.NewString()
	}

	e.logger.Info("generation submitted",
		slog.String("model", p.ID),
		slog.String("task_id", handle.TaskID),
		slog.String("status_url", handle.StatusURL),
		slog.String("outcome", initial.Kind.String()),
	)

	return Submitted{
		Model:   p.ID,
		Kind:    p.Kind,
		Handle:  handle,
		profile: p,
		initial: initial,
	}, nil
}

// Await returns the outcome of a submission, polling when the submission
// response did not already settle it.
func (e *Engine) Await(ctx context.Context, sub Submitted, tracker *progress.Tracker) (Result, error) {
	if tracker == nil {
		tracker = progress.NewTracker()
	}

	switch sub.initial.Kind {
	case extract.Success:
		tracker.Succeed()
		return e.result(sub, sub.initial, 0), nil
	case extract.Failure:
		return Result{}, &poller.ProviderFailureError{Message: sub.initial.Message}
	}

	if sub.Handle.StatusURL == "" {
		return Result{}, fmt.Errorf("%w (model %s)", ErrNoStatusURL, sub.Model)
	}
	return e.poll(ctx, sub, tracker)
}

// Resume polls a job submitted earlier, identified by its model and handle.
func (e *Engine) Resume(ctx context.Context, model string, handle Handle, tracker *progress.Tracker) (Result, error) {
	p, err := e.router.Resolve(model)
	if err != nil {
		return Result{}, err
	}
	if handle.StatusURL == "" {
		return Result{}, fmt.Errorf("%w (model %s)", ErrNoStatusURL, p.ID)
	}
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	return e.poll(ctx, Submitted{
		Model:   p.ID,
		Kind:    p.Kind,
		Handle:  handle,
		profile: p,
	}, tracker)
}

func (e *Engine) poll(ctx context.Context, sub Submitted, tracker *progress.Tracker) (Result, error) {
	p := sub.profile
	fetch := func(ctx context.Context, url string) ([]byte, error) {
		resp, err := e.transport.Fetch(ctx, p, url)
		return resp.Body, err
	}

	opts := append([]poller.Option{poller.WithLogger(e.logger.With(
		slog.String("model", p.ID),
		slog.String("task_id", sub.Handle.TaskID),
	))}, e.pollerOpts...)
	pl := poller.New(p.Poll, p.Rules, fetch, opts...)

	attempts := 0
	res, err := pl.Run(ctx, sub.Handle.StatusURL, func(t poller.Tick) {
		attempts = t.Attempt
		if !t.Result.Terminal() {
			tracker.Set(progress.PhasePolling, t.Attempt, t.MaxAttempts)
		}
	})
	if err != nil {
		e.logger.Warn("generation did not succeed",
			slog.String("model", p.ID),
			slog.String("task_id", sub.Handle.TaskID),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()),
		)
		return Result{}, err
	}

	tracker.Succeed()
	return e.result(sub, res, attempts), nil
}

func (e *Engine) result(sub Submitted, res extract.Result, attempts int) Result {
	return Result{
		URL:            res.URL,
		Model:          sub.Model,
		Kind:           sub.Kind,
		Handle:         sub.Handle,
		Cost:           res.Cost,
		ResolvedWidth:  res.Width,
		ResolvedHeight: res.Height,
		Attempts:       attempts,
	}
}
