package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/generation"
	"github.com/maauso/mediagen-api/internal/media"
	"github.com/maauso/mediagen-api/internal/poller"
	"github.com/maauso/mediagen-api/internal/progress"
	"github.com/maauso/mediagen-api/internal/provider"
	"github.com/maauso/mediagen-api/internal/storage"
	"github.com/maauso/mediagen-api/internal/transport"
)

// Generator runs generations. *generation.Engine implements it.
type Generator interface {
	Submit(ctx context.Context, req generation.Request, tracker *progress.Tracker) (generation.Submitted, error)
	Await(ctx context.Context, sub generation.Submitted, tracker *progress.Tracker) (generation.Result, error)
}

// Models resolves and lists model ids. *provider.Router implements it.
type Models interface {
	Resolve(modelID string) (provider.Profile, error)
	Models() []string
}

// Downloader fetches a result for archiving. *transport.HTTPClient implements it.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, string, error)
}

// Archive copies successful results into storage. Prober is optional.
type Archive struct {
	Storage    storage.Storage
	Downloader Downloader
	Prober     media.Prober
}

// Input contains the parameters of a generation job.
type Input struct {
	Prompt          string
	Model           string
	Width           int
	Height          int
	DurationSeconds float64
	ReferenceImages []transport.Image
	Extra           map[string]any
}

func (in Input) request() generation.Request {
	return generation.Request{
		Prompt:          in.Prompt,
		Model:           in.Model,
		Width:           in.Width,
		Height:          in.Height,
		DurationSeconds: in.DurationSeconds,
		ReferenceImages: in.ReferenceImages,
		Extra:           in.Extra,
	}
}

// ModelInfo describes a model that jobs can run against.
type ModelInfo struct {
	ID   string
	Kind provider.Kind
}

// Service runs generation jobs in the background. It keeps the job state
// machine in step with the engine, archives results when configured and
// records them in the catalog.
type Service struct {
	repo    Repository
	engine  Generator
	models  Models
	catalog catalog.Repository
	archive *Archive
	logger  *slog.Logger

	// mu serializes job updates and guards active.
	mu     sync.Mutex
	active map[string]*run
}

// run is the live state of a job that has not reached a terminal status.
type run struct {
	tracker *progress.Tracker
	cancel  context.CancelFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

// WithCatalog sets the catalog successful results are recorded in.
func WithCatalog(c catalog.Repository) ServiceOption {
	return func(s *Service) {
		s.catalog = c
	}
}

// WithArchive enables archiving of successful results.
func WithArchive(a Archive) ServiceOption {
	return func(s *Service) {
		s.archive = &a
	}
}

// NewService creates a new Service. Without WithCatalog results are recorded
// in an in-memory catalog with the default caps.
func NewService(repo Repository, engine Generator, models Models, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		engine: engine,
		models: models,
		active: make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.catalog == nil {
		s.catalog = catalog.NewMemoryRepository(catalog.DefaultCaps())
	}
	return s
}

// Models lists the models jobs can run against, sorted by id.
func (s *Service) Models() []ModelInfo {
	ids := s.models.Models()
	out := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		p, err := s.models.Resolve(id)
		if err != nil {
			continue
		}
		out = append(out, ModelInfo{ID: p.ID, Kind: p.Kind})
	}
	return out
}

// CreateJob validates input, creates a new job and persists it.
// The job is created in QUEUED status, ready for processing.
func (s *Service) CreateJob(ctx context.Context, input Input) (*Job, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, transport.ErrEmptyPrompt
	}
	if input.Width < 0 || input.Height < 0 || (input.Width == 0) != (input.Height == 0) {
		return nil, fmt.Errorf("%w: %dx%d", transport.ErrInvalidDimensions, input.Width, input.Height)
	}
	p, err := s.models.Resolve(input.Model)
	if err != nil {
		return nil, err
	}

	job := New()
	job.Model = p.ID
	job.Kind = p.Kind
	job.Prompt = input.Prompt
	job.Width = input.Width
	job.Height = input.Height
	job.DurationSeconds = input.DurationSeconds
	job.ReferenceImages = len(input.ReferenceImages)

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("model", job.Model),
		slog.Int("width", input.Width),
		slog.Int("height", input.Height),
		slog.Int("reference_images", job.ReferenceImages),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.active[job.ID] = &run{tracker: progress.NewTracker()}

	return job, nil
}

// ProcessExistingJob runs a job created by CreateJob until it reaches a
// terminal status and returns the final job. The returned error is the
// reason a job failed or timed out; a cancelled job returns no error.
func (s *Service) ProcessExistingJob(ctx context.Context, jobID string, input Input) (*Job, error) {
	store := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r, current, err := s.attach(store, jobID, cancel)
	if err != nil || r == nil {
		return current, err
	}
	defer s.detach(jobID, r)

	logger := s.logger.With(slog.String("job_id", jobID), slog.String("model", input.Model))

	sub, err := s.engine.Submit(ctx, input.request(), r.tracker)
	if err != nil {
		return s.finish(store, jobID, err)
	}

	current, err = s.update(store, jobID, func(j *Job) error {
		return j.MarkSubmitted(sub.Handle.TaskID, sub.Handle.StatusURL)
	})
	if err != nil {
		return s.abandoned(store, jobID, current, err)
	}

	if sub.Pending() {
		if current, err = s.update(store, jobID, (*Job).StartPolling); err != nil {
			return s.abandoned(store, jobID, current, err)
		}
	}

	res, err := s.engine.Await(ctx, sub, r.tracker)
	if err != nil {
		return s.finish(store, jobID, err)
	}

	out := s.collect(ctx, current, res)
	if ctx.Err() != nil {
		s.discardArchive(store, out.ArchiveRef)
		return s.finish(store, jobID, ctx.Err())
	}

	out.MediaID, err = s.record(store, current, out)
	if err != nil {
		logger.Warn("failed to record media in catalog", slog.String("error", err.Error()))
	}

	final, err := s.update(store, jobID, func(j *Job) error { return j.Succeed(out) })
	if err != nil {
		return s.abandoned(store, jobID, final, err)
	}

	logger.Info("job succeeded",
		slog.String("result_url", out.ResultURL),
		slog.String("archive_ref", out.ArchiveRef),
		slog.Int("attempts", out.Attempts),
	)
	return final, nil
}

// GetJob retrieves a job by ID with its live progress.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.overlay(j)
	return j, nil
}

// ListJobs returns the jobs matching filter, newest first.
func (s *Service) ListJobs(ctx context.Context, filter Filter) ([]*Job, error) {
	jobs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		s.overlay(j)
	}
	return jobs, nil
}

// Cancel abandons a job. The vendor job is not cancelled; polling stops and
// the job becomes CANCELLED. Returns ErrInvalidTransition for terminal jobs.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.updateLocked(ctx, id, (*Job).Cancel)
	if err != nil {
		return j, err
	}
	if r, ok := s.active[id]; ok {
		if r.cancel != nil {
			r.cancel()
		} else {
			r.tracker.Close()
			delete(s.active, id)
		}
	}

	s.logger.Info("job cancelled", slog.String("job_id", id))
	return j, nil
}

// Subscribe streams the progress of a job. The channel holds the latest
// value and is closed when the job ends or stop is called.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan int, func(), error) {
	s.mu.Lock()
	r, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		ch, stop := r.tracker.Subscribe()
		return ch, stop, nil
	}

	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan int, 1)
	ch <- j.Progress
	close(ch)
	return ch, func() {}, nil
}

// ListMedia returns catalog records of kind, newest first.
func (s *Service) ListMedia(ctx context.Context, kind catalog.Kind, limit int) ([]catalog.Record, error) {
	return s.catalog.List(ctx, kind, limit)
}

// DeleteMedia removes a catalog record and its archived copy.
func (s *Service) DeleteMedia(ctx context.Context, id string) error {
	rec, err := s.catalog.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		return err
	}
	s.forget(ctx, rec)
	return nil
}

// attach registers the cancel function of a starting job. It returns a nil
// run and the current job when the job already ended.
func (s *Service) attach(ctx context.Context, id string, cancel context.CancelFunc) (*run, *Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if j.IsTerminal() {
		return nil, j, nil
	}
	r, ok := s.active[id]
	if !ok {
		r = &run{tracker: progress.NewTracker()}
		s.active[id] = r
	}
	r.cancel = cancel
	return r, j, nil
}

func (s *Service) detach(id string, r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.tracker.Close()
	if s.active[id] == r {
		delete(s.active, id)
	}
}

// update applies fn to the stored job and saves it with the live progress.
func (s *Service) update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(ctx, id, fn)
}

func (s *Service) updateLocked(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return j, err
	}
	if r, ok := s.active[id]; ok {
		j.UpdateProgress(r.tracker.Current())
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) overlay(j *Job) {
	s.mu.Lock()
	r, ok := s.active[j.ID]
	s.mu.Unlock()
	if ok && !j.IsTerminal() {
		j.UpdateProgress(r.tracker.Current())
	}
}

// finish moves a job to the terminal status matching cause.
func (s *Service) finish(ctx context.Context, id string, cause error) (*Job, error) {
	status, code := classify(cause)

	var timeout *poller.TimeoutError
	j, err := s.update(ctx, id, func(j *Job) error {
		if errors.As(cause, &timeout) {
			j.SetAttempts(timeout.Attempts)
		}
		switch status {
		case StatusCancelled:
			return j.Cancel()
		case StatusTimedOut:
			return j.Timeout(cause.Error())
		default:
			return j.Fail(code, cause.Error())
		}
	})
	if err != nil {
		return s.abandoned(ctx, id, j, err)
	}

	if status == StatusCancelled {
		s.logger.Info("job cancelled", slog.String("job_id", id))
		return j, nil
	}
	s.logger.Warn("job did not succeed",
		slog.String("job_id", id),
		slog.String("status", string(status)),
		slog.String("code", code),
		slog.String("error", cause.Error()),
	)
	return j, cause
}

// abandoned handles a rejected transition. A job cancelled while it was being
// processed is not an error.
func (s *Service) abandoned(ctx context.Context, id string, j *Job, err error) (*Job, error) {
	if errors.Is(err, ErrInvalidTransition) && j != nil && j.IsTerminal() {
		s.logger.Debug("job ended while processing",
			slog.String("job_id", id),
			slog.String("status", string(j.Status)),
		)
		return j, nil
	}
	s.logger.Error("failed to update job",
		slog.String("job_id", id),
		slog.String("error", err.Error()),
	)
	return j, fmt.Errorf("update job %s: %w", id, err)
}

// classify maps a generation error to a terminal status and error code.
func classify(err error) (Status, string) {
	switch {
	case errors.Is(err, poller.ErrCancelled), errors.Is(err, context.Canceled):
		return StatusCancelled, CodeCancelled
	case errors.Is(err, poller.ErrTimeout):
		return StatusTimedOut, CodeTimeout
	case errors.Is(err, poller.ErrProviderFailure):
		return StatusFailed, CodeProviderFailure
	case errors.Is(err, transport.ErrEmptyPrompt):
		return StatusFailed, CodeEmptyPrompt
	case errors.Is(err, transport.ErrInvalidDimensions):
		return StatusFailed, CodeInvalidRequest
	case errors.Is(err, provider.ErrUnknownModel):
		return StatusFailed, CodeUnknownModel
	case errors.Is(err, provider.ErrUnconfigured):
		return StatusFailed, CodeUnconfigured
	case errors.Is(err, transport.ErrUpload):
		return StatusFailed, CodeUploadFailed
	case errors.Is(err, transport.ErrTransport):
		return StatusFailed, CodeTransportError
	case errors.Is(err, generation.ErrNoStatusURL):
		return StatusFailed, CodeNoStatusURL
	default:
		return StatusFailed, CodeInternal
	}
}

// collect builds the outcome of a successful generation, archiving the
// result when configured. Archive failures keep the vendor URL.
func (s *Service) collect(ctx context.Context, j *Job, res generation.Result) Outcome {
	out := Outcome{
		ResultURL: res.URL,
		Cost:      res.Cost,
		Width:     res.ResolvedWidth,
		Height:    res.ResolvedHeight,
		Attempts:  res.Attempts,
	}
	if s.archive == nil {
		return out
	}

	ref, info, err := s.archiveResult(ctx, j, res.URL)
	if err != nil {
		s.logger.Warn("failed to archive result",
			slog.String("job_id", j.ID),
			slog.String("url", res.URL),
			slog.String("error", err.Error()),
		)
		return out
	}
	out.ArchiveRef = ref
	if info.Width > 0 && info.Height > 0 {
		out.Width = info.Width
		out.Height = info.Height
	}
	out.DurationSeconds = info.DurationSeconds
	return out
}

func (s *Service) archiveResult(ctx context.Context, j *Job, resultURL string) (string, media.Info, error) {
	body, contentType, err := s.archive.Downloader.Download(ctx, resultURL)
	if err != nil {
		return "", media.Info{}, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = body.Close() }()

	tmp, err := s.archive.Storage.SaveTemp(ctx, "result", body)
	if err != nil {
		return "", media.Info{}, fmt.Errorf("save temp: %w", err)
	}
	defer func() {
		if err := s.archive.Storage.CleanupTemp(context.WithoutCancel(ctx), []string{tmp}); err != nil {
			s.logger.Warn("failed to cleanup temp file", slog.String("path", tmp), slog.String("error", err.Error()))
		}
	}()

	var info media.Info
	if s.archive.Prober != nil {
		if info, err = s.archive.Prober.Probe(ctx, tmp); err != nil {
			s.logger.Warn("failed to probe result",
				slog.String("job_id", j.ID),
				slog.String("error", err.Error()),
			)
			info = media.Info{}
		}
	}

	key := path.Join(archiveDir(j.Kind), j.ID+resultExtension(resultURL, contentType, j.Kind))
	ref, err := s.archive.Storage.Publish(ctx, key, tmp)
	if err != nil {
		return "", media.Info{}, fmt.Errorf("publish: %w", err)
	}
	return ref, info, nil
}

// record saves the result in the catalog and discards what the save evicted.
func (s *Service) record(ctx context.Context, j *Job, out Outcome) (string, error) {
	rec := catalog.Record{
		ID:              uuid.NewString(),
		JobID:           j.ID,
		URL:             out.ResultURL,
		Prompt:          j.Prompt,
		IsVideo:         j.Kind == provider.KindVideo,
		Model:           j.Model,
		Width:           out.Width,
		Height:          out.Height,
		DurationSeconds: out.DurationSeconds,
	}
	if rec.DurationSeconds == 0 && rec.IsVideo {
		rec.DurationSeconds = j.DurationSeconds
	}
	if out.ArchiveRef != "" {
		rec.URL = out.ArchiveRef
		rec.IsLocalRef = !strings.HasPrefix(out.ArchiveRef, "http")
	}

	evicted, err := s.catalog.Save(ctx, rec)
	if err != nil {
		return "", err
	}
	for _, old := range evicted {
		s.logger.Info("evicting media from catalog",
			slog.String("media_id", old.ID),
			slog.String("job_id", old.JobID),
		)
		s.forget(ctx, old)
	}
	return rec.ID, nil
}

// forget removes the archived copy of a record and detaches it from its job.
func (s *Service) forget(ctx context.Context, rec catalog.Record) {
	s.discardArchive(ctx, rec.URL)
	if rec.JobID == "" {
		return
	}
	_, err := s.update(ctx, rec.JobID, func(j *Job) error {
		if j.MediaID == rec.ID {
			j.ClearMedia()
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		s.logger.Warn("failed to detach media from job",
			slog.String("job_id", rec.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// discardArchive removes an archived copy. References that do not belong to
// the archive are ignored.
func (s *Service) discardArchive(ctx context.Context, ref string) {
	if s.archive == nil || ref == "" {
		return
	}
	if err := s.archive.Storage.Remove(ctx, ref); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to remove archived media",
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
	}
}

func archiveDir(kind provider.Kind) string {
	if kind == provider.KindImage {
		return "images"
	}
	return "videos"
}

// resultExtension picks the archive file extension from the result URL,
// then the content type, then the media kind.
func resultExtension(resultURL, contentType string, kind provider.Kind) string {
	if u, err := url.Parse(resultURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if kind == provider.KindImage {
		return ".png"
	}
	return ".mp4"
}
