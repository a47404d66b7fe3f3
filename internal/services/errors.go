package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks structural problems in a manifest or spec. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrProvider marks a failed asset generator call. Retried per policy.
	ErrProvider = errors.New("provider error")
	// ErrRender marks a failed encode-tool invocation. Fatal for the run.
	ErrRender = errors.New("render error")
	// ErrConfiguration marks missing or inconsistent configuration. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing run or resource.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks a failure worth retrying that has no better classification.
	ErrTransient = errors.New("transient failure")
	// ErrCancelled marks user-initiated termination.
	ErrCancelled = errors.New("cancelled")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsRetryable reports whether the retry policy may reattempt the operation.
// Retry versus fail is a function of the marker alone.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrRender),
		errors.Is(err, ErrCancelled):
		return false
	case errors.Is(err, ErrProvider), errors.Is(err, ErrTransient):
		return true
	default:
		// Unclassified errors are treated as transient so a flaky collaborator
		// cannot permanently fail a run on its first hiccup.
		return true
	}
}

// Kind returns the taxonomy label for an error, or "unknown".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrProvider):
		return "provider"
	case errors.Is(err, ErrRender):
		return "render"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

// Message extracts the human-readable portion of a wrapped error for
// persistence in run metadata and logs.
func Message(err error) string {
	if err == nil {
		return ""
	}
	text := err.Error()
	for _, marker := range []error{ErrValidation, ErrProvider, ErrRender, ErrConfiguration, ErrNotFound, ErrTransient, ErrCancelled} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(text, prefix) {
			return strings.TrimPrefix(text, prefix)
		}
	}
	return text
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
