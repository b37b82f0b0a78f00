package assessment

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// FailureKind classifies why no assessment could be produced.
type FailureKind string

const (
	// ParseFailure indicates that no tier produced a usable record.
	ParseFailure FailureKind = "parse_failure"
	// SchemaViolation indicates a descriptor the pipeline cannot honour.
	SchemaViolation FailureKind = "schema_violation"
	// UpstreamError wraps model or network failures raised around the pipeline.
	UpstreamError FailureKind = "upstream_error"
)

// MaxExcerptRunes bounds the raw text carried by a Failure.
const MaxExcerptRunes = 500

// Failure is returned instead of an Assessment. It is never paired with a
// partial result.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	Message    string      `json:"message"`
	RawExcerpt string      `json:"raw_excerpt"`
	Tier       string      `json:"tier,omitempty"`

	cause error
}

func (f *Failure) Error() string {
	if f.Tier != "" {
		return fmt.Sprintf("%s at %s: %s", f.Kind, f.Tier, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.cause
}

// Excerpt returns at most MaxExcerptRunes runes of raw, marking the cut.
func Excerpt(raw string) string {
	if utf8.RuneCountInString(raw) <= MaxExcerptRunes {
		return raw
	}
	var b strings.Builder
	n := 0
	for _, r := range raw {
		if n == MaxExcerptRunes-1 {
			break
		}
		b.WriteRune(r)
		n++
	}
	b.WriteRune('…')
	return b.String()
}

// Upstream wraps a failure of the model call or document fetch so callers can
// report it alongside pipeline failures.
func Upstream(err error, raw string) *Failure {
	if err == nil {
		return nil
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	return &Failure{
		Kind:       UpstreamError,
		Message:    err.Error(),
		RawExcerpt: Excerpt(raw),
		cause:      err,
	}
}

// AsFailure extracts the Failure carried by err, if any.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

func newFailure(kind FailureKind, tier, message, raw string, cause error) *Failure {
	return &Failure{
		Kind:       kind,
		Message:    message,
		RawExcerpt: Excerpt(raw),
		Tier:       tier,
		cause:      cause,
	}
}
