package cli

import (
	"errors"
	"fmt"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitTestFailure = 1
	ExitRuntime     = 2
)

// RuntimeError is an operational failure: bad configuration, unreachable
// nodes, a broken build.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// TestFailureError reports a completed run with failing or unresolved tests
type TestFailureError struct {
	Failed     int
	Unresolved int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %d failed, %d unresolved", e.Failed, e.Unresolved)
}

// ExitCode maps err to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var testErr *TestFailureError
	if errors.As(err, &testErr) {
		return ExitTestFailure
	}
	return ExitRuntime
}
