package logx

import "fmt"

// NewError builds an error from a plain message, matching the teacher's
// kernel/utils/errors.go (kept for call sites that want a named constructor
// rather than a bare fmt.Errorf).
func NewError(msg string) error { return fmt.Errorf("%s", msg) }

// WrapError attaches context to err using %w, preserving errors.Is/As.
func WrapError(err error, msg string) error {
	if err == nil {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// TimeoutError reports that operation did not complete in time. The runtime
// has no built-in cancellation beyond KERNEL_ABORT (spec.md §5), and no
// package in this module currently calls it.
func TimeoutError(operation string) error {
	return fmt.Errorf("%s: operation timed out", operation)
}
