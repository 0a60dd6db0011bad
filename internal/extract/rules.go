// Package extract inspects raw provider responses and decides whether a
// generation job has succeeded, failed, or still needs polling.
//
// Extraction is pure: it performs no I/O and keeps no state between calls.
// The order in which rules are applied is fixed:
//
//  1. an explicit failure status in structured data
//  2. a result URL field in structured data
//  3. a finished status with no result URL, which fails the job
//  4. a status URL field (or status URL template) in structured data
//  5. regular-expression scan of free text
//  6. otherwise, keep polling
package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRule is returned when a text rule cannot be compiled.
var ErrInvalidRule = errors.New("extract: invalid text rule")

// Rule is a single free-text extraction pattern. Group selects the capture
// group holding the URL; 0 means the whole match.
type Rule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Group   int    `yaml:"group" json:"group"`

	re *regexp.Regexp
}

// NewRule compiles a rule and panics if the pattern is invalid.
// It is meant for statically known patterns.
func NewRule(pattern string, group int) Rule {
	r := Rule{Pattern: pattern, Group: group}
	if err := r.Compile(); err != nil {
		panic(err)
	}
	return r
}

// Compile compiles the rule's pattern. It is safe to call more than once.
func (r *Rule) Compile() error {
	if r.re != nil {
		return nil
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidRule, r.Pattern, err)
	}
	if r.Group < 0 || r.Group > re.NumSubexp() {
		return fmt.Errorf("%w: %q has no capture group %d", ErrInvalidRule, r.Pattern, r.Group)
	}
	r.re = re
	return nil
}

// match returns the captured URL, or "" if the rule does not match.
func (r Rule) match(text string) string {
	re := r.re
	if re == nil {
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			return ""
		}
		re = compiled
	}
	m := re.FindStringSubmatch(text)
	if m == nil || r.Group >= len(m) {
		return ""
	}
	return TrimURL(m[r.Group])
}

// Rules is the per-provider extraction configuration. Field lists hold
// dotted JSON paths ("data.task_result.videos.0.url") tried in order.
type Rules struct {
	// StatusFields locate the provider's job status value.
	StatusFields []string `yaml:"status_fields" json:"status_fields"`
	// FailureValues are status values (case-insensitive) that end the job.
	FailureValues []string `yaml:"failure_values" json:"failure_values"`
	// SuccessValues are status values (case-insensitive) that mean the vendor
	// finished. Such a status without a result URL is a failure.
	SuccessValues []string `yaml:"success_values" json:"success_values"`
	// ErrorFields locate a human-readable failure message.
	ErrorFields []string `yaml:"error_fields" json:"error_fields"`
	// ResultFields locate the final media URL.
	ResultFields []string `yaml:"result_fields" json:"result_fields"`
	// StatusURLFields locate a URL to poll for the job status.
	StatusURLFields []string `yaml:"status_url_fields" json:"status_url_fields"`
	// StatusURLTemplate builds a status URL from the task id; "{id}" is replaced.
	StatusURLTemplate string `yaml:"status_url_template" json:"status_url_template"`
	// TaskIDFields locate the vendor-assigned task id.
	TaskIDFields []string `yaml:"task_id_fields" json:"task_id_fields"`
	// TextFields locate JSON strings holding free text to scan with TextRules.
	TextFields []string `yaml:"text_fields" json:"text_fields"`
	// TextRules are applied, most specific first, to free-text bodies.
	TextRules []Rule `yaml:"text_rules" json:"text_rules"`
	// CostFields, WidthFields and HeightFields are optional success metadata.
	CostFields   []string `yaml:"cost_fields" json:"cost_fields"`
	WidthFields  []string `yaml:"width_fields" json:"width_fields"`
	HeightFields []string `yaml:"height_fields" json:"height_fields"`
}

// DefaultFailureValues are used when a profile does not list its own.
var DefaultFailureValues = []string{"failed", "error"}

// Compile compiles every text rule.
func (r *Rules) Compile() error {
	for i := range r.TextRules {
		if err := r.TextRules[i].Compile(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the rules.
func (r Rules) Clone() Rules {
	c := r
	c.StatusFields = cloneStrings(r.StatusFields)
	c.FailureValues = cloneStrings(r.FailureValues)
	c.SuccessValues = cloneStrings(r.SuccessValues)
	c.ErrorFields = cloneStrings(r.ErrorFields)
	c.ResultFields = cloneStrings(r.ResultFields)
	c.StatusURLFields = cloneStrings(r.StatusURLFields)
	c.TaskIDFields = cloneStrings(r.TaskIDFields)
	c.TextFields = cloneStrings(r.TextFields)
	c.CostFields = cloneStrings(r.CostFields)
	c.WidthFields = cloneStrings(r.WidthFields)
	c.HeightFields = cloneStrings(r.HeightFields)
	if r.TextRules != nil {
		c.TextRules = make([]Rule, len(r.TextRules))
		copy(c.TextRules, r.TextRules)
	}
	return c
}

func (r Rules) isFailure(status string) bool {
	values := r.FailureValues
	if len(values) == 0 {
		values = DefaultFailureValues
	}
	return matchStatus(values, status)
}

func (r Rules) isSuccess(status string) bool {
	return matchStatus(r.SuccessValues, status)
}

func matchStatus(values []string, status string) bool {
	status = strings.TrimSpace(status)
	if status == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(status, strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
