package logging

import (
	"errors"
	"fmt"
)

// OperationError is a failure meant for the person running the tool. It
// carries the command log captured while the failure happened.
type OperationError struct {
	Message string
	Log     *CommandLog
	Err     error
}

// NewOperationError wraps err with a readable message and the command log.
func NewOperationError(message string, log *CommandLog, err error) *OperationError {
	return &OperationError{Message: message, Log: log, Err: err}
}

// Errorf builds an OperationError without an underlying cause.
func Errorf(log *CommandLog, format string, args ...interface{}) *OperationError {
	return &OperationError{Message: fmt.Sprintf(format, args...), Log: log}
}

func (e *OperationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if path := e.Log.Path(); path != "" {
		msg += fmt.Sprintf(" (log: %s)", path)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// LogOf returns the command log attached to err, if any.
func LogOf(err error) *CommandLog {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Log
	}
	return nil
}
