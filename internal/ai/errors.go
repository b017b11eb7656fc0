package ai

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrorCode classifies adapter failures so callers can decide whether a
// retry makes sense.
type ErrorCode string

const (
	CodeContextTooLarge ErrorCode = "context_too_large"
	CodeRateLimited     ErrorCode = "rate_limited"
	CodeBudgetExceeded  ErrorCode = "budget_exceeded"
	CodeToolNotFound    ErrorCode = "tool_not_found"
	CodeTimeout         ErrorCode = "timeout"
	CodeParseError      ErrorCode = "parse_error"
	CodeAPIError        ErrorCode = "api_error"
)

// Error wraps a model CLI failure with a classification code.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ai: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
// A missing binary or an over-large context will fail the same way every
// time.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeToolNotFound, CodeContextTooLarge, CodeBudgetExceeded:
		return false
	}
	return true
}

// classify maps an exec failure plus its output onto an error code.
func classify(err error, output string) *Error {
	if errors.Is(err, exec.ErrNotFound) {
		return &Error{Code: CodeToolNotFound, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Err: err}
	}

	low := strings.ToLower(output)
	switch {
	case strings.Contains(low, "context") && (strings.Contains(low, "too large") || strings.Contains(low, "length exceeded")):
		return &Error{Code: CodeContextTooLarge, Err: err}
	case strings.Contains(low, "rate limit") || strings.Contains(low, "429") || strings.Contains(low, "overloaded"):
		return &Error{Code: CodeRateLimited, Err: err}
	case strings.Contains(low, "budget") || strings.Contains(low, "quota exceeded") || strings.Contains(low, "credit"):
		return &Error{Code: CodeBudgetExceeded, Err: err}
	case strings.Contains(low, "executable file not found") || strings.Contains(low, "command not found"):
		return &Error{Code: CodeToolNotFound, Err: err}
	}
	return &Error{Code: CodeAPIError, Err: err}
}
