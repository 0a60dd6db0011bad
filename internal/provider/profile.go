// Package provider describes the third-party generation services this API can
// drive. Each supported model is a Profile: static data telling the generic
// transport and poller how to authenticate, shape requests, parse responses
// and pace status checks.
package provider

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/maauso/mediagen-api/internal/extract"
)

// Static errors for provider configuration.
var (
	// ErrUnknownModel is returned when no profile matches a model id.
	ErrUnknownModel = errors.New("provider: unknown model")
	// ErrUnconfigured is returned when a credential or endpoint a profile needs is absent.
	ErrUnconfigured = errors.New("provider: not configured")
	// ErrInvalidProfile is returned when a profile definition is malformed.
	ErrInvalidProfile = errors.New("provider: invalid profile")
)

// Kind is the media kind a profile produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Auth schemes.
const (
	AuthNone         = "none"
	AuthBearer       = "bearer"
	AuthAPIKeyHeader = "header"
	AuthKlingJWT     = "kling-jwt"
)

// Upload encodings.
const (
	UploadJSON      = "json"
	UploadMultipart = "multipart"
)

// Image encodings used when reference images are embedded directly in the submission body.
const (
	ImageDataURI = "data-uri"
	ImageBase64  = "base64"
	ImageURL     = "url"
)

// Endpoint is an HTTP endpoint.
type Endpoint struct {
	URL    string `yaml:"url"`
	Method string `yaml:"method"`
}

// UploadSpec describes the separate image-upload call some providers require
// before a job can be submitted.
type UploadSpec struct {
	Endpoint Endpoint `yaml:"endpoint"`
	// Encoding is UploadJSON (data URI in a JSON field) or UploadMultipart.
	Encoding string `yaml:"encoding"`
	// Field is the JSON field or multipart form field carrying the image.
	Field string `yaml:"field"`
	// HandleFields locate the returned handle (a UUID or URL) in the upload response.
	HandleFields []string `yaml:"handle_fields"`
}

// AuthSpec describes how the Authorization header is built.
type AuthSpec struct {
	Scheme string `yaml:"scheme"`
	// Header overrides the header name for AuthAPIKeyHeader (default "Authorization").
	Header string `yaml:"header"`
	// Credential names the credential holding the key (or access key for Kling).
	Credential string `yaml:"credential"`
	// SecretCredential names the credential holding the Kling secret key.
	SecretCredential string `yaml:"secret_credential"`
}

// BodySpec describes the JSON submission body. Field names may be dotted
// paths to nest values ("parameters.size").
type BodySpec struct {
	// Model is the upstream model name sent to the vendor.
	Model            string `yaml:"model"`
	ModelField       string `yaml:"model_field"`
	PromptField      string `yaml:"prompt_field"`
	WidthField       string `yaml:"width_field"`
	HeightField      string `yaml:"height_field"`
	SizeField        string `yaml:"size_field"`
	AspectRatioField string `yaml:"aspect_ratio_field"`
	DurationField    string `yaml:"duration_field"`
	DurationAsString bool   `yaml:"duration_as_string"`
	ImagesField      string `yaml:"images_field"`
	// SingleImage sends only the first reference image as a scalar.
	SingleImage bool `yaml:"single_image"`
	// ImageEncoding applies to images embedded without a prior upload.
	ImageEncoding string `yaml:"image_encoding"`
	// Wrap nests every field under this key ("input").
	Wrap   string         `yaml:"wrap"`
	Static map[string]any `yaml:"static"`
}

// PollPolicy paces the status loop. RequestTimeout bounds each vendor call;
// zero falls back to the transport client's timeout.
type PollPolicy struct {
	Interval       time.Duration `yaml:"interval"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	MaxInterval    time.Duration `yaml:"max_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Profile is the static configuration for one supported model.
type Profile struct {
	ID     string        `yaml:"id"`
	Kind   Kind          `yaml:"kind"`
	Submit Endpoint      `yaml:"submit"`
	Upload *UploadSpec   `yaml:"upload"`
	Auth   AuthSpec      `yaml:"auth"`
	Body   BodySpec      `yaml:"body"`
	Rules  extract.Rules `yaml:"rules"`
	Poll   PollPolicy    `yaml:"poll"`
}

// RequiresUpload reports whether reference images must be uploaded before submission.
func (p Profile) RequiresUpload() bool {
	return p.Upload != nil
}

// Validate fills defaults and checks the profile. It compiles text rules.
func (p *Profile) Validate() error {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidProfile)
	}
	switch p.Kind {
	case KindImage, KindVideo:
	case "":
		p.Kind = KindVideo
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidProfile, p.ID, p.Kind)
	}

	if p.Submit.Method == "" {
		p.Submit.Method = "POST"
	}

	switch p.Auth.Scheme {
	case "":
		p.Auth.Scheme = AuthBearer
	case AuthNone, AuthBearer, AuthAPIKeyHeader, AuthKlingJWT:
	default:
		return fmt.Errorf("%w: %s: unknown auth scheme %q", ErrInvalidProfile, p.ID, p.Auth.Scheme)
	}
	if p.Auth.Scheme != AuthNone && p.Auth.Credential == "" {
		return fmt.Errorf("%w: %s: auth credential is required", ErrInvalidProfile, p.ID)
	}
	if p.Auth.Scheme == AuthKlingJWT && p.Auth.SecretCredential == "" {
		return fmt.Errorf("%w: %s: kling-jwt needs a secret credential", ErrInvalidProfile, p.ID)
	}

	if p.Upload != nil {
		if p.Upload.Endpoint.Method == "" {
			p.Upload.Endpoint.Method = "POST"
		}
		switch p.Upload.Encoding {
		case "":
			p.Upload.Encoding = UploadJSON
		case UploadJSON, UploadMultipart:
		default:
			return fmt.Errorf("%w: %s: unknown upload encoding %q", ErrInvalidProfile, p.ID, p.Upload.Encoding)
		}
		if p.Upload.Field == "" {
			p.Upload.Field = "image"
		}
		if len(p.Upload.HandleFields) == 0 {
			return fmt.Errorf("%w: %s: upload needs handle fields", ErrInvalidProfile, p.ID)
		}
	}

	switch p.Body.ImageEncoding {
	case "":
		p.Body.ImageEncoding = ImageDataURI
	case ImageDataURI, ImageBase64, ImageURL:
	default:
		return fmt.Errorf("%w: %s: unknown image encoding %q", ErrInvalidProfile, p.ID, p.Body.ImageEncoding)
	}
	if p.Body.PromptField == "" {
		p.Body.PromptField = "prompt"
	}
	if p.Body.ModelField == "" {
		p.Body.ModelField = "model"
	}

	if err := p.Rules.Compile(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.ID, err)
	}

	return p.Poll.normalize(p.ID)
}

func (p *PollPolicy) normalize(id string) error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: %s: max_attempts must be positive", ErrInvalidProfile, id)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: %s: interval must be positive", ErrInvalidProfile, id)
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}
	if p.MaxInterval < p.Interval {
		p.MaxInterval = p.Interval
	}
	if p.RequestTimeout < 0 {
		return fmt.Errorf("%w: %s: request_timeout must not be negative", ErrInvalidProfile, id)
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	c := p
	if p.Upload != nil {
		u := *p.Upload
		u.HandleFields = append([]string(nil), p.Upload.HandleFields...)
		c.Upload = &u
	}
	if p.Body.Static != nil {
		c.Body.Static = maps.Clone(p.Body.Static)
	}
	c.Rules = p.Rules.Clone()
	return c
}
