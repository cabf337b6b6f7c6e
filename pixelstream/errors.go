package pixelstream

import (
	"errors"
	"fmt"
)

// ErrEmptyResult reports that the worker declared zero pages. The zero
// value is a protocol-level failure signal, never a valid success; it
// is exported so callers can surface it by name instead of masking it
// as a generic failure.
var ErrEmptyResult = errors.New("worker reported zero pages")

// ShortReadError reports that fewer bytes than required arrived before
// the read's deadline, or that the stream ended early. It is fatal to
// the read that produced it.
type ShortReadError struct {
	Expected int
	Got      int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read: expected %d bytes, got %d", e.Expected, e.Got)
}

// PageLimitError reports that the declared page count exceeds the
// session's ceiling. Both values come from untrusted input.
type PageLimitError struct {
	Pages int
	Limit int
}

func (e *PageLimitError) Error() string {
	return fmt.Sprintf("worker declared %d pages, limit is %d", e.Pages, e.Limit)
}

// PageSizeError reports a page header whose dimensions are zero or
// exceed the session's ceiling.
type PageSizeError struct {
	Page          int
	Width, Height int
	Limit         int
}

func (e *PageSizeError) Error() string {
	if e.Width == 0 || e.Height == 0 {
		return fmt.Sprintf("page %d is %dx%d pixels, dimensions must be positive", e.Page, e.Width, e.Height)
	}
	return fmt.Sprintf("page %d is %dx%d pixels, limit is %d per side", e.Page, e.Width, e.Height, e.Limit)
}

// Stage identifies where in the protocol a stream failure occurred.
type Stage int

const (
	// StagePageCount covers the initial page-count header. A failure
	// here usually means the worker died before producing output, so
	// the session diagnoses it from the worker's exit code.
	StagePageCount Stage = iota
	// StagePageHeader covers a page's width/height fields.
	StagePageHeader
	// StagePageBuffer covers a page's pixel buffer.
	StagePageBuffer
)

func (s Stage) String() string {
	switch s {
	case StagePageCount:
		return "page count"
	case StagePageHeader:
		return "page header"
	case StagePageBuffer:
		return "page buffer"
	}
	return "unknown"
}

// StreamError wraps a decode failure with the protocol stage it
// occurred in. Once a header or buffer read fails the stream is
// desynchronized and the session cannot recover.
type StreamError struct {
	Stage Stage
	Page  int // 1-based page being decoded; 0 for the page-count stage
	Err   error
}

func (e *StreamError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("reading %s for page %d: %v", e.Stage, e.Page, e.Err)
	}
	return fmt.Sprintf("reading %s: %v", e.Stage, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// FailedBeforePageCount reports whether err is a stream failure at the
// page-count boundary, the only failure the session may explain by
// consulting the worker's exit status.
func FailedBeforePageCount(err error) bool {
	var se *StreamError
	return errors.As(err, &se) && se.Stage == StagePageCount
}
