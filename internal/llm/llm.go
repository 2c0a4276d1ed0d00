package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Completer is the language-model capability used by every reduction stage.
// There is one implementation per backend; the backend is chosen at startup.
type Completer interface {
	// Complete sends one prompt and returns the model's text response.
	Complete(ctx context.Context, req Request) (string, error)

	// Name returns the backend identifier (e.g. "ollama").
	Name() string

	// Model returns the default model identifier.
	Model() string
}

// Request is a single completion request.
type Request struct {
	System string // Optional system instruction.
	Prompt string

	// Optional overrides of the backend defaults.
	Model       string
	Temperature *float64 // nil leaves the backend default; 0 is a valid setting.
	MaxTokens   int
}

// Float returns a pointer to v, for Request.Temperature.
func Float(v float64) *float64 { return &v }

// CallError is a failed model call.
type CallError struct {
	Backend   string
	Model     string
	Retryable bool // False when retrying the same prompt cannot help (auth, bad request).
	Err       error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s model %s: %v", e.Backend, e.Model, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed call is worth repeating. Errors that
// are not CallErrors (timeouts, transport failures) are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Retryable
	}
	return true
}

func callError(backend, model string, retryable bool, err error) *CallError {
	return &CallError{Backend: backend, Model: model, Retryable: retryable, Err: err}
}

var (
	thinkTagRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeBlockRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
)

// Clean strips reasoning blocks and an enclosing code fence from a model
// response and trims surrounding whitespace.
func Clean(s string) string {
	s = thinkTagRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func modelOr(req Request, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}
