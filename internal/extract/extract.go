package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrParseExhausted marks a response in which no rule found any usable signal.
// It is not terminal; the job keeps polling until its attempt budget runs out.
var ErrParseExhausted = errors.New("extract: no extraction rule matched")

// ErrNoResultURL marks a finished job whose body carries no usable result URL.
var ErrNoResultURL = errors.New("extract: completed without result URL")

// Kind is the outcome category of a single extraction.
type Kind int

const (
	// NeedsPolling means the job is still running, or the response carried no usable signal.
	NeedsPolling Kind = iota
	// Success means a result URL was found.
	Success
	// Failure means the provider reported an explicit failure.
	Failure
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "needs_polling"
	}
}

// Result is the outcome of extracting one response body.
type Result struct {
	Kind Kind
	// URL is the result media URL (Success only).
	URL string
	// StatusURL is a newly discovered URL to poll (NeedsPolling only, optional).
	StatusURL string
	// TaskID is the vendor task id, when present.
	TaskID string
	// Message is the provider failure message (Failure only).
	Message string
	// Cost, Width and Height are optional success metadata.
	Cost   *float64
	Width  int
	Height int
	// Reason is ErrParseExhausted when nothing in the body could be used, or
	// ErrNoResultURL when a finished status came without a result URL.
	Reason error
}

// Terminal reports whether the result ends a job.
func (r Result) Terminal() bool {
	return r.Kind == Success || r.Kind == Failure
}

// Extract applies rules to a raw response body.
func Extract(rules Rules, body []byte) Result {
	doc, ok := parseStructured(body)
	if !ok {
		return scanText(rules.TextRules, string(body))
	}

	taskID := firstString(doc, rules.TaskIDFields)

	// An explicit failure wins over anything else in the body.
	status, hasStatus := firstValue(doc, rules.StatusFields)
	statusText := scalarString(status)
	if hasStatus && rules.isFailure(statusText) {
		msg := firstString(doc, rules.ErrorFields)
		if msg == "" {
			msg = fmt.Sprintf("provider reported status %q", statusText)
		}
		return Result{Kind: Failure, TaskID: taskID, Message: msg}
	}

	if u := firstURL(doc, rules.ResultFields); u != "" {
		return success(doc, rules, u, taskID)
	}

	// A finished job never gets a URL later, so stop polling it.
	if hasStatus && rules.isSuccess(statusText) {
		if u := matchTextFields(doc, rules); u != "" {
			return success(doc, rules, u, taskID)
		}
		return Result{
			Kind:    Failure,
			TaskID:  taskID,
			Message: fmt.Sprintf("provider reported status %q without a result URL", statusText),
			Reason:  ErrNoResultURL,
		}
	}

	if u := firstURL(doc, rules.StatusURLFields); u != "" {
		return Result{Kind: NeedsPolling, StatusURL: u, TaskID: taskID}
	}
	if rules.StatusURLTemplate != "" && taskID != "" {
		u := strings.ReplaceAll(rules.StatusURLTemplate, "{id}", url.PathEscape(taskID))
		return Result{Kind: NeedsPolling, StatusURL: u, TaskID: taskID}
	}

	if u := matchTextFields(doc, rules); u != "" {
		return success(doc, rules, u, taskID)
	}

	res := Result{Kind: NeedsPolling, TaskID: taskID}
	if !hasStatus && taskID == "" {
		res.Reason = ErrParseExhausted
	}
	return res
}

// Field returns the first non-empty scalar found at paths in a JSON body.
func Field(body []byte, paths []string) string {
	doc, ok := parseStructured(body)
	if !ok {
		return ""
	}
	return firstString(doc, paths)
}

// TrimURL strips trailing punctuation picked up when a URL is scraped from prose.
func TrimURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), ",;)]}>.\"'")
}

func success(doc any, rules Rules, u, taskID string) Result {
	res := Result{Kind: Success, URL: u, TaskID: taskID}
	if cost, ok := firstNumber(doc, rules.CostFields); ok {
		res.Cost = &cost
	}
	if w, ok := firstNumber(doc, rules.WidthFields); ok && w > 0 {
		res.Width = int(w)
	}
	if h, ok := firstNumber(doc, rules.HeightFields); ok && h > 0 {
		res.Height = int(h)
	}
	return res
}

func matchTextFields(doc any, rules Rules) string {
	for _, field := range rules.TextFields {
		text := firstString(doc, []string{field})
		if text == "" {
			continue
		}
		if u := matchRules(rules.TextRules, text); u != "" {
			return u
		}
	}
	return ""
}

func scanText(rules []Rule, text string) Result {
	if u := matchRules(rules, text); u != "" {
		return Result{Kind: Success, URL: u}
	}
	return Result{Kind: NeedsPolling, Reason: ErrParseExhausted}
}

func matchRules(rules []Rule, text string) string {
	for _, r := range rules {
		if u := r.match(text); isHTTP(u) {
			return u
		}
	}
	return ""
}

// parseStructured decodes body as a JSON object or array. Bare JSON scalars
// are treated as free text.
func parseStructured(body []byte) (any, bool) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}
	switch doc.(type) {
	case map[string]any, []any:
		return doc, true
	default:
		return nil, false
	}
}

func isHTTP(s string) bool {
	return len(s) >= 4 && strings.EqualFold(s[:4], "http")
}
