// Package faults defines the error taxonomy shared by the pipeline and the
// HTTP surface. Every failure is tagged with a category that maps to an HTTP
// status and carries a human-readable hint for the caller.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Category is the machine-readable classification of a failure.
type Category string

const (
	// Validation marks malformed or missing request fields. User-correctable.
	Validation Category = "ValidationError"
	// Dependency marks an unreachable or timed-out downstream service.
	// Retryable by the caller.
	Dependency Category = "DependencyUnavailable"
	// Configuration marks missing startup configuration. Fatal; the process
	// does not serve traffic.
	Configuration Category = "ConfigurationError"
	// NonCritical marks an absorbed failure that never surfaces as an HTTP
	// error, only as an informational flag in the result.
	NonCritical Category = "NonCriticalFailure"
	// Internal is the fallback for untagged errors.
	Internal Category = "InternalError"
)

// Fault tags an error with a category and a hint. It wraps the underlying
// cause so errors.Is/As keep working through it.
type Fault struct {
	category Category
	hint     string
	err      error
}

func (f *Fault) Error() string { return f.err.Error() }

func (f *Fault) Unwrap() error { return f.err }

// Wrap builds a categorized error that includes component and operation
// context. The hint should tell the caller what to check; it may be empty.
func Wrap(category Category, component, operation, hint string, err error) error {
	detail := buildDetail(component, operation)
	if err != nil {
		return &Fault{category: category, hint: hint, err: fmt.Errorf("%s: %w", detail, err)}
	}
	return &Fault{category: category, hint: hint, err: errors.New(detail)}
}

// New builds a categorized error from a plain message.
func New(category Category, hint, message string) error {
	return &Fault{category: category, hint: hint, err: errors.New(message)}
}

// CategoryOf reports the category tagged on err, or Internal when untagged.
func CategoryOf(err error) Category {
	var f *Fault
	if errors.As(err, &f) {
		return f.category
	}
	return Internal
}

// HintOf reports the hint tagged on err, or empty when untagged.
func HintOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.hint
	}
	return ""
}

// Is reports whether err carries the given category.
func Is(err error, category Category) bool {
	return CategoryOf(err) == category
}

// HTTPStatus maps an error to the status code the API should return.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case Validation:
		return http.StatusBadRequest
	case Dependency:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(component, operation string) string {
	parts := make([]string, 0, 2)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
