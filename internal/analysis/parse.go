package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	MinConfidence     = 0.7
	DefaultConfidence = 0.8
	MaxConfidence     = 1.0
)

// ParseError is returned when backend content cannot be turned into a Result.
type ParseError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Stage, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Stage, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type wireResult struct {
	Type       string          `json:"type"`
	Severity   string          `json:"severity"`
	Message    string          `json:"message"`
	Confidence confidenceValue `json:"confidence"`
}

// confidenceValue accepts a number, a numeric string or nothing at all.
type confidenceValue struct {
	value float64
	set   bool
}

func (c *confidenceValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			c.value, c.set = f, true
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	c.value, c.set = f, true
	return nil
}

// Parse turns the content returned by an inference backend into a Result.
//
// The attempts run in a fixed order:
//  1. the content is a JSON object with type, severity and message (a JSON string holding
//     such an object is unwrapped once);
//  2. a JSON object is extracted from surrounding formatting (markdown fences, prose);
//  3. content with no JSON-looking body becomes the message of a general warning.
//
// Content that looks structured but is malformed, or lacks a required field, is a
// *ParseError rather than a message, so callers fall back instead of narrating garbage.
func Parse(content []byte) (Result, error) {
	return parse(strings.TrimSpace(string(content)), 0)
}

func parse(text string, depth int) (Result, error) {
	if text == "" {
		return Result{}, &ParseError{Stage: "input", Reason: "empty content"}
	}

	if json.Valid([]byte(text)) {
		return parseJSON([]byte(text), depth)
	}

	looksStructured := strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[")

	if body, fenced, ok := extractBody(text); ok {
		var w wireResult
		err := json.Unmarshal([]byte(body), &w)
		if err == nil {
			return w.toResult()
		}
		if fenced || looksStructured {
			return Result{}, &ParseError{Stage: "extracted", Reason: "malformed object", Err: err}
		}
		// braces inside prose, not a payload
	}

	if looksStructured {
		return Result{}, &ParseError{Stage: "structured", Reason: "malformed JSON"}
	}

	return Normalize(Result{
		Kind:     KindGeneral,
		Severity: SeverityWarning,
		Message:  text,
	}), nil
}

func parseJSON(data []byte, depth int) (Result, error) {
	switch data[0] {
	case '{':
		var w wireResult
		if err := json.Unmarshal(data, &w); err != nil {
			return Result{}, &ParseError{Stage: "structured", Reason: "malformed object", Err: err}
		}
		return w.toResult()
	case '"':
		if depth > 0 {
			return Result{}, &ParseError{Stage: "structured", Reason: "string nested in string"}
		}
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return Result{}, &ParseError{Stage: "structured", Reason: "malformed string", Err: err}
		}
		return parse(strings.TrimSpace(inner), depth+1)
	default:
		return Result{}, &ParseError{Stage: "structured", Reason: "unexpected JSON value"}
	}
}

// extractBody finds a JSON object inside fenced or prose-wrapped text.
func extractBody(text string) (body string, fenced bool, ok bool) {
	if start := strings.Index(text, "```"); start >= 0 {
		rest := text[start+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
			rest = rest[nl+1:]
		} else {
			rest = strings.TrimPrefix(strings.TrimPrefix(rest, "json"), "JSON")
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, "{") {
			return rest, true, true
		}
	}

	open := strings.IndexByte(text, '{')
	closing := strings.LastIndexByte(text, '}')
	if open >= 0 && closing > open {
		return text[open : closing+1], false, true
	}
	return "", false, false
}

func (w wireResult) toResult() (Result, error) {
	kind := strings.ToLower(strings.TrimSpace(w.Type))
	severity := strings.ToLower(strings.TrimSpace(w.Severity))
	message := strings.TrimSpace(w.Message)

	switch {
	case kind == "":
		return Result{}, &ParseError{Stage: "fields", Reason: "missing type"}
	case severity == "":
		return Result{}, &ParseError{Stage: "fields", Reason: "missing severity"}
	case message == "":
		return Result{}, &ParseError{Stage: "fields", Reason: "missing message"}
	}

	r := Result{
		Kind:     Kind(kind),
		Severity: Severity(severity),
		Message:  message,
	}
	if !r.Kind.Valid() {
		r.Kind = KindGeneral
	}
	if !r.Severity.Valid() {
		r.Severity = SeverityWarning
	}
	if w.Confidence.set {
		r.Confidence = w.Confidence.value
	}
	return Normalize(r), nil
}

// Normalize applies the confidence invariant: a missing or too-low confidence means
// "assume moderate confidence", and nothing exceeds 1.
func Normalize(r Result) Result {
	switch {
	case math.IsNaN(r.Confidence) || r.Confidence < MinConfidence:
		r.Confidence = DefaultConfidence
	case r.Confidence > MaxConfidence:
		r.Confidence = MaxConfidence
	}
	return r
}
