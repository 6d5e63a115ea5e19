package errorsx

import (
	"errors"
	"fmt"
)

// Pipeline sentinel errors.
var (
	// ErrProbeFailed is returned when media metadata extraction fails.
	ErrProbeFailed = errors.New("media probe failed")
	// ErrTransformFailed is returned when a corrective transform stage fails.
	ErrTransformFailed = errors.New("transform failed")
	// ErrClassifierUnavailable is returned when the classifier circuit is open.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	// ErrMalwareDetected is returned when the antivirus scan flags a file.
	ErrMalwareDetected = errors.New("malware detected")
	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")
)

// New creates a new error with the given message.
func New(msg string) error {
	return errors.New(msg)
}

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
