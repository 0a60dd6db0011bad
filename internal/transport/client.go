// Package transport performs the HTTP exchanges with generation vendors:
// optional image pre-upload, job submission, status fetches and result
// downloads. It knows nothing about a vendor beyond its provider.Profile.
package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/maauso/mediagen-api/internal/extract"
	"github.com/maauso/mediagen-api/internal/provider"
)

// Static errors for transport operations.
var (
	// ErrEmptyPrompt is returned when a submission has a blank prompt.
	ErrEmptyPrompt = errors.New("transport: prompt is required")
	// ErrInvalidDimensions is returned when width or height is negative or only one is set.
	ErrInvalidDimensions = errors.New("transport: invalid dimensions")
	// ErrInvalidImage is returned when a reference image carries neither data nor URL.
	ErrInvalidImage = errors.New("transport: invalid image")
	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("transport: request failed")
	// ErrUpload matches every *UploadError.
	ErrUpload = errors.New("transport: upload failed")
	// ErrNoHandle is returned when an upload response carries no handle.
	ErrNoHandle = errors.New("transport: upload response has no handle")
)

const maxResponseBytes = 32 << 20

// HTTPClient talks to vendors over HTTP using explicit credentials.
type HTTPClient struct {
	creds      provider.Credentials
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithTimeout sets the per-request timeout used when a profile does not set one.
func WithTimeout(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(hc *HTTPClient) {
		hc.logger = l
	}
}

// WithClock sets the clock used to sign time-bound auth tokens.
func WithClock(now func() time.Time) ClientOption {
	return func(hc *HTTPClient) {
		hc.now = now
	}
}

// NewClient creates a vendor HTTP client.
func NewClient(creds provider.Credentials, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		creds:      creds,
		httpClient: &http.Client{},
		timeout:    60 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Submit uploads reference images when the profile requires it and posts the
// generation job. Upload handles keep the order of sub.Images.
func (c *HTTPClient) Submit(ctx context.Context, p provider.Profile, sub Submission) (Response, error) {
	if strings.TrimSpace(sub.Prompt) == "" {
		return Response{}, ErrEmptyPrompt
	}
	if sub.Width < 0 || sub.Height < 0 || (sub.Width == 0) != (sub.Height == 0) {
		return Response{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, sub.Width, sub.Height)
	}
	if p.Submit.URL == "" {
		return Response{}, fmt.Errorf("%w: %s has no submit endpoint", provider.ErrUnconfigured, p.ID)
	}

	images, err := c.resolveImages(ctx, p, sub.Images, sub.OnUpload)
	if err != nil {
		return Response{}, err
	}

	body, err := provider.BuildBody(p.Body, provider.BodyInput{
		Prompt:          sub.Prompt,
		Width:           sub.Width,
		Height:          sub.Height,
		DurationSeconds: sub.DurationSeconds,
		Images:          images,
		Extra:           sub.Extra,
	})
	if err != nil {
		return Response{}, err
	}

	c.logger.Debug("submitting generation",
		slog.String("model", p.ID),
		slog.String("url", p.Submit.URL),
		slog.Int("images", len(images)),
	)

	return c.do(ctx, p, p.Submit.Method, p.Submit.URL, "application/json", body)
}

// Fetch requests a status URL. Non-2xx responses are returned together with
// a *TransportError carrying the body.
func (c *HTTPClient) Fetch(ctx context.Context, p provider.Profile, url string) (Response, error) {
	return c.do(ctx, p, http.MethodGet, url, "", nil)
}

// Download opens the result at url without vendor authentication. The caller
// must close the returned body.
func (c *HTTPClient) Download(ctx context.Context, url string) (io.ReadCloser, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, "", fmt.Errorf("transport: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, "", &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, "", &TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, resp.Header.Get("Content-Type"), nil
}

// resolveImages turns reference images into the strings embedded in the body:
// upload handles, URLs or encoded data.
func (c *HTTPClient) resolveImages(ctx context.Context, p provider.Profile, images []Image, onUpload func(done, total int)) ([]string, error) {
	if len(images) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(images))
	for i, img := range images {
		if len(img.Data) == 0 && img.URL == "" {
			return nil, &UploadError{Index: i, Err: ErrInvalidImage}
		}
		if len(img.Data) == 0 {
			out = append(out, img.URL)
			continue
		}
		if p.RequiresUpload() {
			handle, err := c.upload(ctx, p, img)
			if err != nil {
				return nil, &UploadError{Index: i, Err: err}
			}
			out = append(out, handle)
			if onUpload != nil {
				onUpload(i+1, len(images))
			}
			continue
		}
		switch p.Body.ImageEncoding {
		case provider.ImageBase64:
			out = append(out, base64.StdEncoding.EncodeToString(img.Data))
		case provider.ImageURL:
			return nil, &UploadError{Index: i, Err: fmt.Errorf("%w: %s accepts image URLs only", ErrInvalidImage, p.ID)}
		default:
			out = append(out, img.DataURI())
		}
	}
	return out, nil
}

func (c *HTTPClient) upload(ctx context.Context, p provider.Profile, img Image) (string, error) {
	spec := p.Upload
	var (
		body        []byte
		contentType string
	)
	switch spec.Encoding {
	case provider.UploadMultipart:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile(spec.Field, "image"+extensionFor(img.ContentType()))
		if err != nil {
			return "", fmt.Errorf("transport: create form file: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return "", fmt.Errorf("transport: write form file: %w", err)
		}
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("transport: close multipart: %w", err)
		}
		body, contentType = buf.Bytes(), w.FormDataContentType()
	default:
		var err error
		body, err = json.Marshal(map[string]string{spec.Field: img.DataURI()})
		if err != nil {
			return "", fmt.Errorf("transport: marshal upload: %w", err)
		}
		contentType = "application/json"
	}

	resp, err := c.do(ctx, p, spec.Endpoint.Method, spec.Endpoint.URL, contentType, body)
	if err != nil {
		return "", err
	}
	handle := extract.Field(resp.Body, spec.HandleFields)
	if handle == "" {
		return "", ErrNoHandle
	}
	return handle, nil
}

// do performs one authenticated request bounded by the profile's request timeout.
func (c *HTTPClient) do(ctx context.Context, p provider.Profile, method, url, contentType string, body []byte) (Response, error) {
	timeout := p.Poll.RequestTimeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return Response{}, fmt.Errorf("transport: create request: %w", err)
	}

	name, value, err := provider.AuthHeader(p.Auth, c.creds, c.now())
	if err != nil {
		return Response{}, err
	}
	if name != "" {
		req.Header.Set(name, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, &TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	out := Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &TransportError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return out, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func extensionFor(mime string) string {
	switch {
	case strings.Contains(mime, "png"):
		return ".png"
	case strings.Contains(mime, "webp"):
		return ".webp"
	case strings.Contains(mime, "gif"):
		return ".gif"
	default:
		return ".jpg"
	}
}
