// Package budget bounds the total wall-clock time a conversion session
// may spend waiting on its isolated worker. A Budget is an absolute
// monotonic deadline: it is computed once from the input size, tightened
// once the page count is known, and every blocking read in the session
// takes a fresh snapshot of the remaining time immediately before the
// read.
package budget

import "time"

const (
	// PerMiB is the processing allowance per MiB of input.
	PerMiB = 30 * time.Second
	// PerPage is the processing allowance per rendered page.
	PerPage = 30 * time.Second
	// Min is the floor for any estimate, covering fixed per-document
	// overhead regardless of size.
	Min = 60 * time.Second
	// StartupAllowance covers worker cold start, which is budgeted
	// separately from per-byte processing. Disposable sandboxes can
	// take minutes to boot.
	StartupAllowance = 5 * time.Minute
)

// Estimate returns the time allowance for converting sizeBytes of
// input. If pages > 0 the estimate additionally accounts for per-page
// rendering cost. The result grows monotonically with both arguments
// and never falls below Min.
func Estimate(sizeBytes int64, pages int) time.Duration {
	mib := float64(sizeBytes) / (1 << 20)
	d := time.Duration(mib * float64(PerMiB))
	if d < Min {
		d = Min
	}
	if pages > 0 {
		d += time.Duration(pages) * PerPage
	}
	return d
}

// Budget is an absolute deadline with a remaining-time accessor. It is
// owned by a single control goroutine; it is not safe for concurrent
// mutation.
type Budget struct {
	deadline time.Time
}

// New starts a budget for an input of sizeBytes with the worker
// startup allowance included, page count not yet known.
func New(sizeBytes int64) *Budget {
	return &Budget{deadline: time.Now().Add(Estimate(sizeBytes, 0) + StartupAllowance)}
}

// Rescale restarts the budget with a page-count-aware estimate. Called
// once, after the page-count header has been decoded; the startup
// allowance no longer applies because the worker is demonstrably
// running.
func (b *Budget) Rescale(sizeBytes int64, pages int) {
	b.deadline = time.Now().Add(Estimate(sizeBytes, pages))
}

// Remaining returns the time left before the deadline, clamped to
// zero. A zero return means immediate expiry, never "no timeout".
func (b *Budget) Remaining() time.Duration {
	d := time.Until(b.deadline)
	if d < 0 {
		return 0
	}
	return d
}
