package eventloop

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop that is already running.
	ErrLoopAlreadyRunning = errors.New("eventloop: loop is already running")

	// ErrLoopTerminated is returned when work is submitted to a loop whose Run has returned.
	ErrLoopTerminated = errors.New("eventloop: loop has been terminated")
)

// PanicError carries a value recovered from a panicking task, continuation
// or Go function.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the recovered value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Cause returns the recovered value, unwrapping it when it was an error.
func (e *PanicError) Cause() any {
	return e.Value
}

var (
	errSelfResolution = errors.New("eventloop: future resolved with itself")
	errNilRejection   = errors.New("eventloop: future rejected with nil error")
)
