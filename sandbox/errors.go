package sandbox

import (
	"context"
	"fmt"
	"time"
)

// Exit codes the worker uses to report failure before any pixel
// output. The worker binary and the host share this table; it is the
// only structured channel available once the stream never started.
const (
	ExitUnsupportedFormat = 10
	ExitCorruptedDocument = 11
	ExitPageLimit         = 12
	ExitPageSize          = 13
	ExitRenderFailure     = 14
)

// Cause enumerates the human-meaningful reasons a worker can fail
// before producing a page count.
type Cause int

const (
	CauseUnknown Cause = iota
	CauseUnsupportedFormat
	CauseCorruptedDocument
	CausePageLimit
	CausePageSize
	CauseRenderFailure
	CauseCrashed
	CauseResourceLimit
	CauseNotLaunchable
)

func (c Cause) String() string {
	switch c {
	case CauseUnsupportedFormat:
		return "the document format is not supported"
	case CauseCorruptedDocument:
		return "the document appears to be corrupted or invalid"
	case CausePageLimit:
		return "the document has too many pages"
	case CausePageSize:
		return "a page in the document is too large"
	case CauseRenderFailure:
		return "the worker could not render the document"
	case CauseCrashed:
		return "the worker crashed"
	case CauseResourceLimit:
		return "the worker was killed by a resource limit"
	case CauseNotLaunchable:
		return "the worker command could not be executed"
	}
	return "unknown"
}

// WorkerError is the structured diagnosis reconstructed from a worker
// exit code. It is the session's primary user-facing error when the
// protocol never got off the ground.
type WorkerError struct {
	Code  int
	Cause Cause
}

func (e *WorkerError) Error() string {
	if e.Cause == CauseUnknown {
		return fmt.Sprintf("worker failed with exit code %d", e.Code)
	}
	return fmt.Sprintf("%s (exit code %d)", e.Cause, e.Code)
}

// Diagnose maps a worker exit code to a WorkerError. Unmapped codes
// fall back to CauseUnknown so every exit status yields a usable,
// never-panicking diagnosis.
func Diagnose(code int) *WorkerError {
	e := &WorkerError{Code: code}
	switch code {
	case ExitUnsupportedFormat:
		e.Cause = CauseUnsupportedFormat
	case ExitCorruptedDocument:
		e.Cause = CauseCorruptedDocument
	case ExitPageLimit:
		e.Cause = CausePageLimit
	case ExitPageSize:
		e.Cause = CausePageSize
	case ExitRenderFailure:
		e.Cause = CauseRenderFailure
	case 126, 127:
		// Shell convention: command found but not executable / not
		// found.
		e.Cause = CauseNotLaunchable
	case 128 + 9: // SIGKILL, typically the sandbox memory/CPU limit
		e.Cause = CauseResourceLimit
	case 128 + 11, 128 + 6, 128 + 4: // SIGSEGV, SIGABRT, SIGILL
		e.Cause = CauseCrashed
	}
	return e
}

// exitWaitLimit bounds how long the diagnoser waits for the worker's
// exit status. The worker is already exiting or exited when the
// diagnoser runs; this is a backstop, not a budget.
const exitWaitLimit = 10 * time.Second

// DiagnoseExit waits (bounded) for w to exit and returns the
// WorkerError for its exit code. If the status cannot be collected in
// time the diagnosis is CauseUnknown with code -1.
func DiagnoseExit(ctx context.Context, w Worker) *WorkerError {
	ctx, cancel := context.WithTimeout(ctx, exitWaitLimit)
	defer cancel()
	code, err := w.Wait(ctx)
	if err != nil {
		return &WorkerError{Code: -1, Cause: CauseUnknown}
	}
	return Diagnose(code)
}
