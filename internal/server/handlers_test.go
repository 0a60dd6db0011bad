package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/generation"
	"github.com/maauso/mediagen-api/internal/job"
	"github.com/maauso/mediagen-api/internal/progress"
	"github.com/maauso/mediagen-api/internal/provider"
)

// trackerArg passes the live tracker through the mock. Its String method keeps
// testify from formatting the tracker's fields while jobs update it.
type trackerArg struct{ *progress.Tracker }

func (trackerArg) String() string { return "*progress.Tracker" }

// mockGenerator implements job.Generator for testing.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Submit(ctx context.Context, req generation.Request, tracker *progress.Tracker) (generation.Submitted, error) {
	args := m.Called(ctx, req, trackerArg{tracker})
	return args.Get(0).(generation.Submitted), args.Error(1)
}

func (m *mockGenerator) Await(ctx context.Context, sub generation.Submitted, tracker *progress.Tracker) (generation.Result, error) {
	args := m.Called(ctx, sub, trackerArg{tracker})
	return args.Get(0).(generation.Result), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T, opts ...HandlerOption) (*Handlers, *job.Service, *mockGenerator) {
	t.Helper()
	router, err := provider.NewRouter(provider.Builtin(provider.BuiltinConfig{})...)
	require.NoError(t, err)

	gen := &mockGenerator{}
	svc := job.NewService(job.NewMemoryRepository(), gen, router,
		job.WithLogger(testLogger()),
		job.WithCatalog(catalog.NewMemoryRepository(catalog.DefaultCaps())),
	)
	opts = append([]HandlerOption{WithAsyncProcessing(false)}, opts...)
	return NewHandlers(svc, testLogger(), opts...), svc, gen
}

func postGeneration(t *testing.T, h *Handlers, body any) *httptest.ResponseRecorder {
	t.Helper()
	bodyJSON, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/generations", bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.CreateGeneration(rec, req)
	return rec
}

// completeJob runs a created job to success through the mocked engine.
func completeJob(t *testing.T, svc *job.Service, gen *mockGenerator, id string, input job.Input) *job.Job {
	t.Helper()
	gen.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Return(generation.Submitted{
			Model:  input.Model,
			Kind:   provider.KindVideo,
			Handle: generation.Handle{TaskID: "task-1", StatusURL: "https://vendor.example/status/1"},
		}, nil).Once()
	gen.On("Await", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			args.Get(2).(trackerArg).Tracker.Succeed()
		}).
		Return(generation.Result{
			URL:      "https://vendor.example/out.mp4",
			Model:    input.Model,
			Kind:     provider.KindVideo,
			Attempts: 2,
		}, nil).Once()

	final, err := svc.ProcessExistingJob(context.Background(), id, input)
	require.NoError(t, err)
	require.Equal(t, job.StatusSucceeded, final.Status)
	return final
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestModels(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.Models(rec, httptest.NewRequest(http.MethodGet, "/models", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ModelListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Models)

	kinds := map[string]string{}
	for _, m := range resp.Models {
		kinds[m.ID] = m.Kind
	}
	assert.Equal(t, "video", kinds[provider.ModelSora2])
	assert.Equal(t, "image", kinds[provider.ModelFluxImage])
}

func TestCreateGeneration_Success(t *testing.T) {
	h, svc, _ := newTestHandlers(t)

	rec := postGeneration(t, h, CreateGenerationRequest{
		Prompt:          "sunset over ocean",
		Model:           provider.ModelSora2,
		DurationSeconds: 8,
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateGenerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "QUEUED", resp.Status)
	assert.Equal(t, provider.ModelSora2, resp.Model)
	assert.Equal(t, "video", resp.Kind)

	stored, err := svc.GetJob(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "sunset over ocean", stored.Prompt)
}

func TestCreateGeneration_ReferenceImages(t *testing.T) {
	h, svc, _ := newTestHandlers(t)

	raw := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\nfake"))
	rec := postGeneration(t, h, CreateGenerationRequest{
		Prompt: "animate this",
		Model:  provider.ModelSora2,
		ReferenceImages: []ReferenceImage{
			{Data: raw, MIME: "image/png"},
			{Data: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg"))},
			{URL: "https://cdn.example/ref.png"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateGenerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	stored, err := svc.GetJob(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ReferenceImages)
}

func TestCreateGeneration_InvalidJSON(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/generations", strings.NewReader("{invalid json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.CreateGeneration(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestCreateGeneration_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body CreateGenerationRequest
		code string
	}{
		{
			name: "missing prompt",
			body: CreateGenerationRequest{Model: provider.ModelSora2},
			code: "VALIDATION_ERROR",
		},
		{
			name: "missing model",
			body: CreateGenerationRequest{Prompt: "a cat"},
			code: "VALIDATION_ERROR",
		},
		{
			name: "whitespace prompt",
			body: CreateGenerationRequest{Prompt: "   ", Model: provider.ModelSora2},
			code: "VALIDATION_ERROR",
		},
		{
			name: "width without height",
			body: CreateGenerationRequest{Prompt: "a cat", Model: provider.ModelFluxImage, Width: 512},
			code: "VALIDATION_ERROR",
		},
		{
			name: "negative duration",
			body: CreateGenerationRequest{Prompt: "a cat", Model: provider.ModelSora2, DurationSeconds: -1},
			code: "VALIDATION_ERROR",
		},
		{
			name: "image without data or url",
			body: CreateGenerationRequest{Prompt: "a cat", Model: provider.ModelSora2, ReferenceImages: []ReferenceImage{{}}},
			code: "VALIDATION_ERROR",
		},
		{
			name: "bad base64 image",
			body: CreateGenerationRequest{Prompt: "a cat", Model: provider.ModelSora2, ReferenceImages: []ReferenceImage{{Data: "!!not-base64!!"}}},
			code: "INVALID_IMAGE",
		},
		{
			name: "unknown model",
			body: CreateGenerationRequest{Prompt: "a cat", Model: "no-such-model"},
			code: "UNKNOWN_MODEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandlers(t)

			rec := postGeneration(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestCreateGeneration_AsyncProcessing(t *testing.T) {
	h, svc, gen := newTestHandlers(t, WithAsyncProcessing(true))

	gen.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Return(generation.Submitted{}, generation.ErrNoStatusURL)

	rec := postGeneration(t, h, CreateGenerationRequest{Prompt: "a cat", Model: provider.ModelSora2})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateGenerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Eventually(t, func() bool {
		j, err := svc.GetJob(context.Background(), resp.ID)
		return err == nil && j.Status == job.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	j, err := svc.GetJob(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, job.CodeNoStatusURL, j.ErrorCode)
}

func TestGetGeneration_Success(t *testing.T) {
	h, svc, gen := newTestHandlers(t)
	input := job.Input{Prompt: "sunset", Model: provider.ModelSora2, DurationSeconds: 8}

	created, err := svc.CreateJob(context.Background(), input)
	require.NoError(t, err)
	completeJob(t, svc, gen, created.ID, input)

	req := httptest.NewRequest(http.MethodGet, "/generations/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	h.GetGeneration(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp GenerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, created.ID, resp.ID)
	assert.Equal(t, "SUCCEEDED", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "https://vendor.example/out.mp4", resp.ResultURL)
	assert.Equal(t, "task-1", resp.TaskID)
	assert.Equal(t, 2, resp.Attempts)
	assert.NotEmpty(t, resp.MediaID)
	assert.NotNil(t, resp.SubmittedAt)
	assert.NotNil(t, resp.CompletedAt)
}

func TestGetGeneration_NotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/generations/nonexistent", nil)
	req.SetPathValue("id", "nonexistent")
	rec := httptest.NewRecorder()

	h.GetGeneration(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "JOB_NOT_FOUND", resp.Code)
}

func TestGetGeneration_MissingID(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/generations/", nil)
	rec := httptest.NewRecorder()

	h.GetGeneration(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListGenerations(t *testing.T) {
	h, svc, _ := newTestHandlers(t)
	ctx := context.Background()

	first, err := svc.CreateJob(ctx, job.Input{Prompt: "one", Model: provider.ModelSora2})
	require.NoError(t, err)
	second, err := svc.CreateJob(ctx, job.Input{Prompt: "two", Model: provider.ModelFluxImage})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ListGenerations(rec, httptest.NewRequest(http.MethodGet, "/generations", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp GenerationListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Generations, 2)

	ids := []string{resp.Generations[0].ID, resp.Generations[1].ID}
	assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestListGenerations_Filter(t *testing.T) {
	h, svc, gen := newTestHandlers(t)
	ctx := context.Background()

	videoInput := job.Input{Prompt: "one", Model: provider.ModelSora2}
	video, err := svc.CreateJob(ctx, videoInput)
	require.NoError(t, err)
	completeJob(t, svc, gen, video.ID, videoInput)
	image, err := svc.CreateJob(ctx, job.Input{Prompt: "two", Model: provider.ModelFluxImage})
	require.NoError(t, err)

	list := func(query string) []string {
		rec := httptest.NewRecorder()
		h.ListGenerations(rec, httptest.NewRequest(http.MethodGet, "/generations"+query, nil))
		require.Equal(t, http.StatusOK, rec.Code, query)
		var resp GenerationListResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		ids := make([]string, 0, len(resp.Generations))
		for _, g := range resp.Generations {
			ids = append(ids, g.ID)
		}
		return ids
	}

	assert.Equal(t, []string{video.ID}, list("?status=succeeded"))
	assert.Equal(t, []string{image.ID}, list("?status=QUEUED,POLLING"))
	assert.Equal(t, []string{image.ID}, list("?kind=image"))
	assert.Equal(t, []string{video.ID}, list("?model="+provider.ModelSora2))
	assert.Len(t, list("?limit=1"), 1)
}

func TestListGenerations_BadQuery(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	tests := []struct {
		query string
		code  string
	}{
		{"?status=done", "INVALID_STATUS"},
		{"?kind=audio", "INVALID_KIND"},
		{"?limit=-1", "INVALID_LIMIT"},
		{"?limit=many", "INVALID_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ListGenerations(rec, httptest.NewRequest(http.MethodGet, "/generations"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestCancelGeneration(t *testing.T) {
	h, svc, _ := newTestHandlers(t)

	created, err := svc.CreateJob(context.Background(), job.Input{Prompt: "a cat", Model: provider.ModelSora2})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/generations/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	h.CancelGeneration(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp GenerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "CANCELLED", resp.Status)
	assert.Equal(t, job.CodeCancelled, resp.ErrorCode)

	// A second cancel conflicts with the terminal state.
	rec = httptest.NewRecorder()
	h.CancelGeneration(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelGeneration_NotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodDelete, "/generations/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.CancelGeneration(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_FinishedJob(t *testing.T) {
	h, svc, gen := newTestHandlers(t)
	input := job.Input{Prompt: "sunset", Model: provider.ModelSora2}

	created, err := svc.CreateJob(context.Background(), input)
	require.NoError(t, err)
	completeJob(t, svc, gen, created.ID, input)

	req := httptest.NewRequest(http.MethodGet, "/generations/"+created.ID+"/events", nil)
	req.SetPathValue("id", created.ID)
	rec := httptest.NewRecorder()

	h.Events(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseEvents(t, rec.Body.String())
	require.Len(t, events, 2)

	assert.Equal(t, "progress", events[0].name)
	var p ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &p))
	assert.Equal(t, 100, p.Progress)

	assert.Equal(t, "done", events[1].name)
	var done GenerationResponse
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &done))
	assert.Equal(t, "SUCCEEDED", done.Status)
}

func TestEvents_NonPositiveKeepAliveKeepsDefault(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		h, svc, gen := newTestHandlers(t, WithKeepAlive(d))
		assert.Equal(t, 15*time.Second, h.keepAlive)

		input := job.Input{Prompt: "sunset", Model: provider.ModelSora2}
		created, err := svc.CreateJob(context.Background(), input)
		require.NoError(t, err)
		completeJob(t, svc, gen, created.ID, input)

		req := httptest.NewRequest(http.MethodGet, "/generations/"+created.ID+"/events", nil)
		req.SetPathValue("id", created.ID)
		rec := httptest.NewRecorder()

		assert.NotPanics(t, func() { h.Events(rec, req) })
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestEvents_NotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/generations/missing/events", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()

	h.Events(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type sseEvent struct {
	name string
	data string
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestListMedia(t *testing.T) {
	h, svc, gen := newTestHandlers(t)
	input := job.Input{Prompt: "sunset", Model: provider.ModelSora2}

	created, err := svc.CreateJob(context.Background(), input)
	require.NoError(t, err)
	final := completeJob(t, svc, gen, created.ID, input)

	rec := httptest.NewRecorder()
	h.ListMedia(rec, httptest.NewRequest(http.MethodGet, "/media?kind=video&limit=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp MediaListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Media, 1)
	assert.Equal(t, final.MediaID, resp.Media[0].ID)
	assert.Equal(t, created.ID, resp.Media[0].JobID)
	assert.True(t, resp.Media[0].IsVideo)
	assert.Equal(t, "https://vendor.example/out.mp4", resp.Media[0].URL)

	rec = httptest.NewRecorder()
	h.ListMedia(rec, httptest.NewRequest(http.MethodGet, "/media?kind=image", nil))
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.Media)
}

func TestListMedia_BadQuery(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.ListMedia(rec, httptest.NewRequest(http.MethodGet, "/media?kind=audio", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ListMedia(rec, httptest.NewRequest(http.MethodGet, "/media?limit=-3", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMedia(t *testing.T) {
	h, svc, gen := newTestHandlers(t)
	input := job.Input{Prompt: "sunset", Model: provider.ModelSora2}

	created, err := svc.CreateJob(context.Background(), input)
	require.NoError(t, err)
	final := completeJob(t, svc, gen, created.ID, input)

	req := httptest.NewRequest(http.MethodDelete, "/media/"+final.MediaID, nil)
	req.SetPathValue("id", final.MediaID)
	rec := httptest.NewRecorder()

	h.DeleteMedia(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, err := svc.GetJob(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MediaID)

	rec = httptest.NewRecorder()
	h.DeleteMedia(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Integration(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	// Test health endpoint
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Test create then fetch through the mux
	body, _ := json.Marshal(CreateGenerationRequest{Prompt: "a cat", Model: provider.ModelFluxImage})
	req = httptest.NewRequest(http.MethodPost, "/generations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created CreateGenerationResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	req = httptest.NewRequest(http.MethodGet, "/generations/"+created.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Test wrong method
	req = httptest.NewRequest(http.MethodPut, "/generations", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/generations", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}

func TestLoggingMiddleware_Flush(t *testing.T) {
	handler := LoggingMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok)
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware_AfterHeaders(t *testing.T) {
	handler := RecoveryMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late panic")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}
