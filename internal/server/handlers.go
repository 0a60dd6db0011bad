package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/job"
	"github.com/maauso/mediagen-api/internal/provider"
	"github.com/maauso/mediagen-api/internal/transport"
)

// maxRequestBody bounds request bodies, which may carry inline images.
const maxRequestBody = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.Service
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	keepAlive          time.Duration
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateGeneration only creates the job and returns immediately
// without starting background processing.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithKeepAlive sets the interval of comment lines sent on idle event streams.
// Non-positive values keep the default.
func WithKeepAlive(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
		keepAlive:          15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Models handles GET /models requests.
func (h *Handlers) Models(w http.ResponseWriter, r *http.Request) {
	models := h.service.Models()
	resp := ModelListResponse{Models: make([]ModelResponse, 0, len(models))}
	for _, m := range models {
		resp.Models = append(resp.Models, ModelResponse{ID: m.ID, Kind: string(m.Kind)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateGeneration handles POST /generations requests.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req CreateGenerationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	images, err := decodeImages(req.ReferenceImages)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_IMAGE")
		return
	}

	input := job.Input{
		Prompt:          req.Prompt,
		Model:           req.Model,
		Width:           req.Width,
		Height:          req.Height,
		DurationSeconds: req.DurationSeconds,
		ReferenceImages: images,
		Extra:           req.Extra,
	}

	// Create job first (synchronously)
	createdJob, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrUnknownModel):
			writeError(w, http.StatusBadRequest, err.Error(), "UNKNOWN_MODEL")
		case errors.Is(err, transport.ErrEmptyPrompt), errors.Is(err, transport.ErrInvalidDimensions):
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		default:
			h.logger.Error("failed to create job",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		}
		return
	}

	// Start processing in background with a detached context
	// Use context.WithoutCancel to prevent cancellation when the request ends
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string, inp job.Input) {
			_, processErr := h.service.ProcessExistingJob(ctx, jobID, inp)
			if processErr != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), createdJob.ID, input)
	}

	h.logger.Info("job created",
		slog.String("job_id", createdJob.ID),
		slog.String("model", createdJob.Model),
	)

	writeJSON(w, http.StatusAccepted, CreateGenerationResponse{
		ID:     createdJob.ID,
		Status: string(createdJob.Status),
		Model:  createdJob.Model,
		Kind:   string(createdJob.Kind),
	})
}

// ListGenerations handles GET /generations requests.
func (h *Handlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	filter, code, err := parseJobFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), code)
		return
	}

	jobs, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}
	resp := GenerationListResponse{Generations: make([]GenerationResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Generations = append(resp.Generations, toGenerationResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseJobFilter reads ?status=a,b&model=&kind=&limit= and returns the error
// code to report when a value is invalid.
func parseJobFilter(r *http.Request) (job.Filter, string, error) {
	q := r.URL.Query()
	filter := job.Filter{Model: strings.TrimSpace(q.Get("model"))}

	if raw := q.Get("status"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			st, err := job.ParseStatus(name)
			if err != nil {
				return job.Filter{}, "INVALID_STATUS", err
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	switch kind := provider.Kind(strings.ToLower(q.Get("kind"))); kind {
	case "":
	case provider.KindImage, provider.KindVideo:
		filter.Kind = kind
	default:
		return job.Filter{}, "INVALID_KIND", fmt.Errorf("kind must be image or video, got %q", q.Get("kind"))
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return job.Filter{}, "INVALID_LIMIT", errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, "", nil
}

// GetGeneration handles GET /generations/{id} requests.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	foundJob, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.jobError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, toGenerationResponse(foundJob))
}

// CancelGeneration handles DELETE /generations/{id} requests.
func (h *Handlers) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	cancelled, err := h.service.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
			return
		}
		h.jobError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, toGenerationResponse(cancelled))
}

// Events handles GET /generations/{id}/events requests. It streams progress
// as server-sent events and ends with a "done" event carrying the job.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "STREAMING_UNSUPPORTED")
		return
	}

	ch, stop, err := h.service.Subscribe(r.Context(), jobID)
	if err != nil {
		h.jobError(w, jobID, err)
		return
	}
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case v, open := <-ch:
			if !open {
				final, err := h.service.GetJob(context.WithoutCancel(r.Context()), jobID)
				if err == nil {
					_ = writeEvent(w, "done", toGenerationResponse(final))
					flusher.Flush()
				}
				return
			}
			if err := writeEvent(w, "progress", ProgressEvent{ID: jobID, Progress: v}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ListMedia handles GET /media requests.
func (h *Handlers) ListMedia(w http.ResponseWriter, r *http.Request) {
	kind, err := catalog.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_KIND")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "INVALID_LIMIT")
			return
		}
	}

	records, err := h.service.ListMedia(r.Context(), kind, limit)
	if err != nil {
		h.logger.Error("failed to list media", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list media", "MEDIA_FETCH_FAILED")
		return
	}
	resp := MediaListResponse{Media: make([]MediaResponse, 0, len(records))}
	for _, rec := range records {
		resp.Media = append(resp.Media, toMediaResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteMedia handles DELETE /media/{id} requests.
func (h *Handlers) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	mediaID := r.PathValue("id")
	if mediaID == "" {
		writeError(w, http.StatusBadRequest, "media ID is required", "MISSING_MEDIA_ID")
		return
	}

	if err := h.service.DeleteMedia(r.Context(), mediaID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "media not found", "MEDIA_NOT_FOUND")
			return
		}
		h.logger.Error("failed to delete media",
			slog.String("media_id", mediaID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete media", "MEDIA_DELETE_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) jobError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, job.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
		return
	}
	h.logger.Error("failed to get job",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
}

// decodeImages converts request images. Inline data may be plain base64 or
// a data URI.
func decodeImages(in []ReferenceImage) ([]transport.Image, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]transport.Image, 0, len(in))
	for i, ri := range in {
		if ri.Data == "" {
			out = append(out, transport.Image{URL: ri.URL})
			continue
		}
		if strings.HasPrefix(ri.Data, "data:") {
			img, err := transport.ParseDataURI(ri.Data)
			if err != nil {
				return nil, fmt.Errorf("reference image %d: %w", i, err)
			}
			out = append(out, img)
			continue
		}
		data, err := base64.StdEncoding.DecodeString(ri.Data)
		if err != nil || len(data) == 0 {
			return nil, fmt.Errorf("reference image %d: invalid base64 data", i)
		}
		out = append(out, transport.Image{Data: data, MIME: ri.MIME})
	}
	return out, nil
}

// writeEvent writes one server-sent event with a JSON payload.
func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
