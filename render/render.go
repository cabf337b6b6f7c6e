// Package render rasterizes untrusted documents into per-page RGB
// pixel buffers. It runs only inside the isolated worker; the host
// never calls it on untrusted input.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gen2brain/go-fitz"

	"github.com/garrettr/dangerzone/observability"
)

// Limits shared with the host-side protocol decoder. A document that
// exceeds them is refused before any pixel output.
const (
	MaxPages = 10000
	MaxSide  = 10000
)

var (
	// ErrUnsupportedFormat reports input whose format the worker
	// cannot rasterize.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrCorruptedDocument reports input that claims a supported
	// format but cannot be opened.
	ErrCorruptedDocument = errors.New("corrupted or invalid document")
	// ErrTooManyPages reports a document over the page ceiling.
	ErrTooManyPages = errors.New("document has too many pages")
	// ErrPageTooLarge reports a rendered page over the dimension
	// ceiling.
	ErrPageTooLarge = errors.New("page dimensions too large")
)

// Options configures a Rasterizer.
type Options struct {
	// DPI is the rendering resolution; zero uses 150.
	DPI    float64
	Logger observability.Logger
}

// Rasterizer renders documents page by page.
type Rasterizer struct {
	dpi    float64
	logger observability.Logger
}

// New builds a Rasterizer.
func New(opts Options) *Rasterizer {
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 150
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Rasterizer{dpi: dpi, logger: logger}
}

// Sink receives the rasterized output in wire order: the page count
// once, then every page with its dimensions and RGB24 buffer (3
// interleaved channels, row-major, no padding).
type Sink interface {
	PageCount(n int) error
	Page(width, height int, rgb []byte) error
}

// Render rasterizes doc into sink and returns the number of pages
// emitted. Markdown and HTML inputs are normalized (and stripped of
// active content) before rasterization.
func (r *Rasterizer) Render(ctx context.Context, doc []byte, sink Sink) (int, error) {
	kind := Sniff(doc)
	if kind == KindUnknown {
		return 0, ErrUnsupportedFormat
	}

	prepared, ext, err := prepare(doc, kind)
	if err != nil {
		return 0, err
	}

	// MuPDF selects its handler from the file extension; stage the
	// bytes under the sniffed one.
	tmp, err := stageTemp(prepared, ext)
	if err != nil {
		return 0, fmt.Errorf("stage document: %w", err)
	}
	defer os.Remove(tmp)

	d, err := fitz.New(tmp)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptedDocument, err)
	}
	defer d.Close()

	pages := d.NumPage()
	if pages == 0 {
		return 0, fmt.Errorf("%w: no pages", ErrCorruptedDocument)
	}
	if pages > MaxPages {
		return 0, fmt.Errorf("%w: %d pages", ErrTooManyPages, pages)
	}
	r.logger.Debug("rendering document",
		observability.String("kind", string(kind)),
		observability.Int("pages", pages))

	if err := sink.PageCount(pages); err != nil {
		return 0, err
	}
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		img, err := d.ImageDPI(i, r.dpi)
		if err != nil {
			return i, fmt.Errorf("render page %d: %w", i+1, err)
		}
		b := img.Bounds()
		width, height := b.Dx(), b.Dy()
		if width > MaxSide || height > MaxSide {
			return i, fmt.Errorf("%w: page %d is %dx%d", ErrPageTooLarge, i+1, width, height)
		}
		if err := sink.Page(width, height, rgb24(img.Pix, img.Stride, width, height)); err != nil {
			return i, err
		}
	}
	return pages, nil
}

// rgb24 drops the alpha channel and any row padding from an RGBA
// pixel buffer.
func rgb24(pix []byte, stride, width, height int) []byte {
	out := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		row := pix[y*stride:]
		for x := 0; x < width; x++ {
			o := (y*width + x) * 3
			i := x * 4
			out[o+0] = row[i+0]
			out[o+1] = row[i+1]
			out[o+2] = row[i+2]
		}
	}
	return out
}

func stageTemp(doc []byte, ext string) (string, error) {
	f, err := os.CreateTemp("", "render-*"+ext)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(doc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// prepare converts inputs MuPDF cannot consume directly and picks the
// staging extension.
func prepare(doc []byte, kind Kind) ([]byte, string, error) {
	switch kind {
	case KindMarkdown:
		converted, err := markdownToHTML(doc)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrCorruptedDocument, err)
		}
		stripped, err := stripActiveContent(converted)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrCorruptedDocument, err)
		}
		return stripped, ".html", nil
	case KindHTML:
		stripped, err := stripActiveContent(doc)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrCorruptedDocument, err)
		}
		return stripped, ".html", nil
	default:
		return doc, kind.ext(), nil
	}
}
