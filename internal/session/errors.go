package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnexpectedTermination reports that the client process exited before
// the quit payload was sent.
var ErrUnexpectedTermination = errors.New("process exited before quit was issued")

// SpawnError reports that the client process could not be launched.
type SpawnError struct {
	Argv []string
	Err  error
}

func (e *SpawnError) Error() string {
	name := "client"
	if len(e.Argv) > 0 {
		name = e.Argv[0]
	}
	return fmt.Sprintf("spawn %s: %v", name, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// WriteError reports a failed write to the client's input stream.
type WriteError struct {
	Len     int // bytes requested
	Written int // bytes accepted before the failure
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %d bytes (%d written): %v", e.Len, e.Written, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// TimeoutError reports that a suspension point exceeded its bound or was
// canceled. Err is context.DeadlineExceeded or context.Canceled.
type TimeoutError struct {
	Op    string
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	if errors.Is(e.Err, context.Canceled) {
		return fmt.Sprintf("%s canceled", e.Op)
	}
	if e.After > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout reports true, matching net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// Kind names the taxonomy entry for err: SpawnError, WriteError,
// TimeoutError or UnexpectedTermination. Unknown errors yield "Error".
func Kind(err error) string {
	var (
		spawnErr   *SpawnError
		writeErr   *WriteError
		timeoutErr *TimeoutError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &spawnErr):
		return "SpawnError"
	case errors.As(err, &writeErr):
		return "WriteError"
	case errors.As(err, &timeoutErr):
		return "TimeoutError"
	case errors.Is(err, ErrUnexpectedTermination):
		return "UnexpectedTermination"
	default:
		return "Error"
	}
}

// ctxTimeout converts a context error into a TimeoutError for op.
func ctxTimeout(op string, after time.Duration, err error) error {
	return &TimeoutError{Op: op, After: after, Err: err}
}

func quoteArgv(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			parts[i] = fmt.Sprintf("%q", a)
			continue
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
