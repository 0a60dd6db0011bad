// Package server provides the HTTP server for the media generation API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/job"
)

// CreateGenerationRequest is the HTTP request body for starting a generation.
type CreateGenerationRequest struct {
	// Prompt is the generation prompt.
	Prompt string `json:"prompt" validate:"required,max=4000"`
	// Model is the provider model id, see GET /models.
	Model string `json:"model" validate:"required"`
	// Width and Height are optional; both or neither must be set.
	Width  int `json:"width" validate:"required_with=Height,omitempty,min=1,max=8192"`
	Height int `json:"height" validate:"required_with=Width,omitempty,min=1,max=8192"`
	// DurationSeconds is the requested video duration.
	DurationSeconds float64 `json:"duration_seconds" validate:"omitempty,gt=0,lte=120"`
	// ReferenceImages are sent in order to image-to-image and image-to-video models.
	ReferenceImages []ReferenceImage `json:"reference_images" validate:"omitempty,max=8,dive"`
	// Extra holds provider-specific options copied into the request body.
	Extra map[string]any `json:"extra,omitempty"`
}

// ReferenceImage is an input image given either inline or by URL.
type ReferenceImage struct {
	// URL is a public http(s) URL of the image.
	URL string `json:"url,omitempty" validate:"required_without=Data,omitempty,url"`
	// Data is base64 image data or a data URI.
	Data string `json:"data,omitempty" validate:"required_without=URL"`
	// MIME is the content type of Data; detected when empty.
	MIME string `json:"mime,omitempty"`
}

// CreateGenerationResponse is the HTTP response after creating a generation.
type CreateGenerationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Model  string `json:"model"`
	Kind   string `json:"kind"`
}

// GenerationResponse is the HTTP response for getting generation details.
type GenerationResponse struct {
	ID       string `json:"id"`
	Model    string `json:"model"`
	Kind     string `json:"kind"`
	Prompt   string `json:"prompt"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	// Error and ErrorCode are set for failed, timed out and cancelled generations.
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	TaskID    string `json:"task_id,omitempty"`
	StatusURL string `json:"status_url,omitempty"`
	Attempts  int    `json:"attempts"`

	// ResultURL is the vendor URL of the generated media.
	ResultURL string `json:"result_url,omitempty"`
	// ArchiveURL is the archived copy, when archiving is enabled.
	ArchiveURL      string   `json:"archive_url,omitempty"`
	MediaID         string   `json:"media_id,omitempty"`
	Cost            *float64 `json:"cost,omitempty"`
	Width           int      `json:"width,omitempty"`
	Height          int      `json:"height,omitempty"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GenerationListResponse is the HTTP response for listing generations.
type GenerationListResponse struct {
	Generations []GenerationResponse `json:"generations"`
}

// ProgressEvent is the payload of a progress server-sent event.
type ProgressEvent struct {
	ID       string `json:"id"`
	Progress int    `json:"progress"`
}

// ModelResponse describes an available model.
type ModelResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// ModelListResponse is the HTTP response for GET /models.
type ModelListResponse struct {
	Models []ModelResponse `json:"models"`
}

// MediaResponse is a generated media record.
type MediaResponse struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id,omitempty"`
	URL             string    `json:"url"`
	Prompt          string    `json:"prompt"`
	Timestamp       time.Time `json:"timestamp"`
	IsVideo         bool      `json:"is_video"`
	Model           string    `json:"model"`
	Width           int       `json:"width,omitempty"`
	Height          int       `json:"height,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	IsLocalRef      bool      `json:"is_local_ref"`
}

// MediaListResponse is the HTTP response for GET /media.
type MediaListResponse struct {
	Media []MediaResponse `json:"media"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toGenerationResponse(j *job.Job) GenerationResponse {
	resp := GenerationResponse{
		ID:              j.ID,
		Model:           j.Model,
		Kind:            string(j.Kind),
		Prompt:          j.Prompt,
		Status:          string(j.Status),
		Progress:        j.Progress,
		Error:           j.Error,
		ErrorCode:       j.ErrorCode,
		TaskID:          j.TaskID,
		StatusURL:       j.StatusURL,
		Attempts:        j.Attempts,
		ResultURL:       j.ResultURL,
		ArchiveURL:      j.ArchiveRef,
		MediaID:         j.MediaID,
		Cost:            j.Cost,
		Width:           j.ResolvedWidth,
		Height:          j.ResolvedHeight,
		DurationSeconds: j.ResolvedDuration,
		CreatedAt:       j.CreatedAt,
	}
	if !j.SubmittedAt.IsZero() {
		t := j.SubmittedAt
		resp.SubmittedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

func toMediaResponse(r catalog.Record) MediaResponse {
	return MediaResponse{
		ID:              r.ID,
		JobID:           r.JobID,
		URL:             r.URL,
		Prompt:          r.Prompt,
		Timestamp:       r.Timestamp,
		IsVideo:         r.IsVideo,
		Model:           r.Model,
		Width:           r.Width,
		Height:          r.Height,
		DurationSeconds: r.DurationSeconds,
		IsLocalRef:      r.IsLocalRef,
	}
}
