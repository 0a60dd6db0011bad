package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BodyInput carries the request values a BodySpec maps into a submission body.
type BodyInput struct {
	Prompt          string
	Width           int
	Height          int
	DurationSeconds float64
	// Images are already-resolved references: upload handles, URLs or encoded data.
	Images []string
	Extra  map[string]any
}

// BuildBody renders the JSON submission body for spec.
// Static values are applied first, then caller extras, then request fields.
func BuildBody(spec BodySpec, in BodyInput) ([]byte, error) {
	root := map[string]any{}
	target := root
	if spec.Wrap != "" {
		target = map[string]any{}
		root[spec.Wrap] = target
	}

	for k, v := range spec.Static {
		setPath(target, k, v)
	}
	for k, v := range in.Extra {
		setPath(target, k, v)
	}

	if spec.Model != "" {
		setPath(target, defaultString(spec.ModelField, "model"), spec.Model)
	}
	setPath(target, defaultString(spec.PromptField, "prompt"), in.Prompt)

	if in.Width > 0 && in.Height > 0 {
		if spec.WidthField != "" {
			setPath(target, spec.WidthField, in.Width)
		}
		if spec.HeightField != "" {
			setPath(target, spec.HeightField, in.Height)
		}
		if spec.SizeField != "" {
			setPath(target, spec.SizeField, fmt.Sprintf("%dx%d", in.Width, in.Height))
		}
		if spec.AspectRatioField != "" {
			setPath(target, spec.AspectRatioField, AspectRatio(in.Width, in.Height))
		}
	}

	if spec.DurationField != "" && in.DurationSeconds > 0 {
		if spec.DurationAsString {
			setPath(target, spec.DurationField, strconv.FormatFloat(in.DurationSeconds, 'f', -1, 64))
		} else {
			setPath(target, spec.DurationField, in.DurationSeconds)
		}
	}

	if spec.ImagesField != "" && len(in.Images) > 0 {
		if spec.SingleImage {
			setPath(target, spec.ImagesField, in.Images[0])
		} else {
			setPath(target, spec.ImagesField, append([]string(nil), in.Images...))
		}
	}

	body, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal body: %w", err)
	}
	return body, nil
}

// AspectRatio reduces width and height to a "W:H" ratio.
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	g := gcd(width, height)
	return fmt.Sprintf("%d:%d", width/g, height/g)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func setPath(m map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = v
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
