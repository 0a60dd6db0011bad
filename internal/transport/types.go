package transport

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Image is a reference image attached to a submission. Either Data or URL
// must be set; URL-only images are passed to the vendor as-is.
type Image struct {
	Data []byte
	// MIME is sniffed from Data when empty.
	MIME string
	URL  string
}

// ContentType returns the image MIME type.
func (i Image) ContentType() string {
	if i.MIME != "" {
		return i.MIME
	}
	if len(i.Data) > 0 {
		return http.DetectContentType(i.Data)
	}
	return "application/octet-stream"
}

// DataURI renders the image as a base64 data URI.
func (i Image) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", i.ContentType(), base64.StdEncoding.EncodeToString(i.Data))
}

// ParseDataURI decodes a "data:<mime>;base64,<payload>" string. Plain base64
// without the prefix is accepted too.
func ParseDataURI(s string) (Image, error) {
	mime := ""
	payload := s
	if strings.HasPrefix(s, "data:") {
		header, rest, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return Image{}, fmt.Errorf("%w: unsupported data URI", ErrInvalidImage)
		}
		mime = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		payload = rest
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return Image{Data: data, MIME: mime}, nil
}

// Submission is the vendor-independent content of a generation request.
type Submission struct {
	Prompt          string
	Width           int
	Height          int
	DurationSeconds float64
	Images          []Image
	Extra           map[string]any
	// OnUpload, when set, is called after each pre-submission upload with the
	// number of images uploaded so far.
	OnUpload func(done, total int)
}

// Response is a raw vendor response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// TransportError reports a failed HTTP exchange. StatusCode is zero when no
// response was received.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("transport: %v", e.Err)
	case e.Body != "":
		return fmt.Sprintf("transport: status %d: %s", e.StatusCode, truncate(e.Body, 512))
	default:
		return fmt.Sprintf("transport: status %d", e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) match.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// UploadError reports a failed pre-upload of the reference image at Index.
type UploadError struct {
	Index int
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("transport: upload image %d: %v", e.Index, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUpload) match.
func (e *UploadError) Is(target error) bool { return target == ErrUpload }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
