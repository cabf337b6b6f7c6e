package pixelstream

import (
	"context"
	"fmt"
	"io"

	"github.com/garrettr/dangerzone/budget"
	"github.com/garrettr/dangerzone/observability"
)

const (
	// MaxPages caps the page-count header. The field is attacker
	// controlled; without a cap a hostile worker can keep the session
	// busy for its entire budget.
	MaxPages = 10000
	// MaxPageSide caps page width and height. A 16-bit dimension pair
	// otherwise admits pages approaching 200 MB per buffer.
	MaxPageSide = 10000
)

// Sink persists one fully received page. A page reaches the sink only
// with its exact width*height*3 byte buffer; partial pages never do.
type Sink interface {
	WritePage(index, width, height int, rgb []byte) error
}

// Progress receives per-page and end-of-stream checkpoints:
// isError, a human-readable message, and a percentage in [0, 100].
type Progress func(isError bool, text string, percentage float64)

// Decoder consumes the worker's pixel stream: a page-count header
// followed by (width, height, buffer) records. Every byte is treated
// as adversarial; every read is bounded by the session budget.
type Decoder struct {
	reader    *Reader
	budget    *budget.Budget
	sink      Sink
	progress  Progress
	logger    observability.Logger
	sizeBytes int64
	// ocrPending halves the progress range: decoding covers 0-50 and
	// the OCR-bearing assembly stage covers the rest.
	ocrPending bool

	percentage float64
}

// DecoderConfig carries the session parameters the decoder needs.
type DecoderConfig struct {
	// SizeBytes is the input document size, used to rescale the
	// budget once the page count is known.
	SizeBytes int64
	// OCRPending reports whether an OCR stage will consume the second
	// half of the progress range.
	OCRPending bool
	Progress   Progress
	Logger     observability.Logger
}

// NewDecoder builds a decoder over src, drawing read timeouts from b
// and persisting pages into sink.
func NewDecoder(src Source, b *budget.Budget, sink Sink, cfg DecoderConfig) *Decoder {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	progress := cfg.Progress
	if progress == nil {
		progress = func(bool, string, float64) {}
	}
	return &Decoder{
		reader:     NewReader(src),
		budget:     b,
		sink:       sink,
		progress:   progress,
		logger:     logger,
		sizeBytes:  cfg.SizeBytes,
		ocrPending: cfg.OCRPending,
	}
}

// Percentage returns the accumulated progress percentage.
func (d *Decoder) Percentage() float64 { return d.percentage }

// Decode runs the protocol to completion and returns the number of
// pages persisted. On failure the returned error is a StreamError
// identifying the stage; FailedBeforePageCount selects the failures a
// caller may explain via the worker's exit status. Any error from ctx
// aborts between reads; budget expiry is the only mid-read
// cancellation.
func (d *Decoder) Decode(ctx context.Context) (int, error) {
	pages, err := d.readPageCount()
	if err != nil {
		return 0, err
	}

	perPage := 100.0 / float64(pages)
	if d.ocrPending {
		perPage = 50.0 / float64(pages)
	}

	// The worker has produced its header, so cold start is over;
	// restart the clock with a page-aware ceiling.
	d.budget.Rescale(d.sizeBytes, pages)

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return page - 1, err
		}
		if err := d.readPage(page); err != nil {
			return page - 1, err
		}
		d.percentage += perPage
		d.progress(false, fmt.Sprintf("Converting page %d/%d to pixels", page, pages), d.percentage)
	}

	// Nothing after the final page is ever trusted or interpreted.
	if c, ok := d.reader.src.(io.Closer); ok {
		c.Close()
	}
	d.progress(false, "Converted document to pixels", d.percentage)
	d.logger.Info("pixel stream fully consumed", observability.Int("pages", pages))
	return pages, nil
}

func (d *Decoder) readPageCount() (int, error) {
	n, err := d.reader.ReadUint16(d.budget.Remaining())
	if err != nil {
		return 0, &StreamError{Stage: StagePageCount, Err: err}
	}
	if n == 0 {
		return 0, &StreamError{Stage: StagePageCount, Err: ErrEmptyResult}
	}
	if int(n) > MaxPages {
		return 0, &StreamError{Stage: StagePageCount, Err: &PageLimitError{Pages: int(n), Limit: MaxPages}}
	}
	return int(n), nil
}

func (d *Decoder) readPage(page int) error {
	width, err := d.reader.ReadUint16(d.budget.Remaining())
	if err != nil {
		return &StreamError{Stage: StagePageHeader, Page: page, Err: err}
	}
	height, err := d.reader.ReadUint16(d.budget.Remaining())
	if err != nil {
		return &StreamError{Stage: StagePageHeader, Page: page, Err: err}
	}
	if width == 0 || height == 0 || int(width) > MaxPageSide || int(height) > MaxPageSide {
		return &StreamError{
			Stage: StagePageHeader,
			Page:  page,
			Err:   &PageSizeError{Page: page, Width: int(width), Height: int(height), Limit: MaxPageSide},
		}
	}

	// Three interleaved 8-bit channels per pixel, row-major, no
	// padding.
	untrustedPixels, err := d.reader.ReadExact(int(width)*int(height)*3, d.budget.Remaining())
	if err != nil {
		return &StreamError{Stage: StagePageBuffer, Page: page, Err: err}
	}
	if err := d.sink.WritePage(page, int(width), int(height), untrustedPixels); err != nil {
		return fmt.Errorf("persist page %d: %w", page, err)
	}
	return nil
}
