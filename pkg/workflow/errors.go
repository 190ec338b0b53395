package workflow

import (
	"fmt"
	"strconv"
)

// TransportError reports a failure to open or read a stream: a non-success
// status, a network error, or a body that ended before the done frame.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg += ": HTTP " + strconv.Itoa(e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeWarning describes a frame that was skipped. It is reported, never returned.
type DecodeWarning struct {
	Line string
	Err  error
}

func (w *DecodeWarning) Error() string {
	return fmt.Sprintf("skipping frame %q: %v", w.Line, w.Err)
}

func (w *DecodeWarning) Unwrap() error { return w.Err }

// FallbackError is returned when the one-shot request made after a failed
// stream also failed.
type FallbackError struct {
	Err error
}

func (e *FallbackError) Error() string {
	return "fallback query: " + e.Err.Error()
}

func (e *FallbackError) Unwrap() error { return e.Err }
