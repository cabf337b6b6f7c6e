package assembly

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/garrettr/dangerzone/ocr"
	"github.com/garrettr/dangerzone/staging"
)

func stagePage(t *testing.T, a *staging.Area, index, w, h int) {
	t.Helper()
	rgb := bytes.Repeat([]byte{200, 200, 200}, w*h)
	if err := a.WritePage(index, w, h, rgb); err != nil {
		t.Fatal(err)
	}
}

func TestConvertProducesPDF(t *testing.T) {
	a := staging.Open(t.TempDir())
	stagePage(t, a, 1, 40, 60)
	stagePage(t, a, 2, 30, 30)

	out := filepath.Join(t.TempDir(), "safe.pdf")
	c := &Converter{Staging: a}
	if err := c.Convert(context.Background(), "", out, nil); err != nil {
		t.Fatalf("convert: %v", err)
	}

	n, err := api.PageCountFile(out)
	if err != nil {
		t.Fatalf("page count: %v", err)
	}
	if n != 2 {
		t.Fatalf("output has %d pages, want 2", n)
	}
}

func TestConvertFailsWithoutPages(t *testing.T) {
	a := staging.Open(t.TempDir())
	c := &Converter{Staging: a}
	out := filepath.Join(t.TempDir(), "safe.pdf")
	if err := c.Convert(context.Background(), "", out, nil); err == nil {
		t.Fatal("expected error for empty staging area")
	}
}

type fakeEngine struct {
	calls []int
	text  string
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	f.calls = append(f.calls, in.PageIndex)
	return ocr.Result{InputID: in.ID, PageIndex: in.PageIndex, PlainText: f.text}, nil
}

func TestConvertWithOCRDrivesProgressTo100(t *testing.T) {
	a := staging.Open(t.TempDir())
	stagePage(t, a, 1, 20, 20)
	stagePage(t, a, 2, 20, 20)

	engine := &fakeEngine{text: "recognized text"}
	c := &Converter{Staging: a, Engine: engine}

	var pcts []float64
	progress := func(isErr bool, text string, pct float64) {
		if isErr {
			t.Fatalf("unexpected error progress: %s", text)
		}
		pcts = append(pcts, pct)
	}

	out := filepath.Join(t.TempDir(), "safe.pdf")
	if err := c.Convert(context.Background(), "eng", out, progress); err != nil {
		t.Fatalf("convert: %v", err)
	}

	if len(engine.calls) != 2 || engine.calls[0] != 1 || engine.calls[1] != 2 {
		t.Fatalf("ocr calls = %v, want pages 1 and 2 in order", engine.calls)
	}
	if len(pcts) != 2 {
		t.Fatalf("progress events = %d, want 2", len(pcts))
	}
	if pcts[0] != 75 || pcts[1] != 100 {
		t.Fatalf("progress = %v, want [75 100]", pcts)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestRGBImageRoundTrip(t *testing.T) {
	rgb := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 9, 9, 9,
	}
	img := rgbImage(2, 2, rgb)
	if got := img.Pix[0]; got != 255 {
		t.Fatalf("first pixel R = %d, want 255", got)
	}
	if got := img.Pix[3]; got != 255 {
		t.Fatalf("alpha = %d, want opaque", got)
	}
	if got := img.Pix[4*3+2]; got != 9 {
		t.Fatalf("last pixel B = %d, want 9", got)
	}
}

func TestDownscaleBoundsDimensions(t *testing.T) {
	img := rgbImage(200, 100, bytes.Repeat([]byte{1, 2, 3}, 200*100))
	dst := downscale(img, 100)
	b := dst.Bounds()
	if b.Dx() != 100 || b.Dy() != 50 {
		t.Fatalf("downscale produced %dx%d, want 100x50", b.Dx(), b.Dy())
	}
}

func TestDownscaleNeverUpscales(t *testing.T) {
	img := rgbImage(10, 10, bytes.Repeat([]byte{1, 2, 3}, 100))
	dst := downscale(img, 100)
	if b := dst.Bounds(); b.Dx() != 10 || b.Dy() != 10 {
		t.Fatalf("downscale grew image to %dx%d", b.Dx(), b.Dy())
	}
}
