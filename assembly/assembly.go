// Package assembly turns a session's staged pixel pages into the
// final, trusted PDF. By the time this stage runs every buffer has
// been length-checked against its dimensions; the pixels themselves
// are untrusted content but are only ever re-encoded, never parsed as
// a document format.
package assembly

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/garrettr/dangerzone/observability"
	"github.com/garrettr/dangerzone/ocr"
	"github.com/garrettr/dangerzone/staging"
)

// MaxSide is the largest page dimension, in pixels, carried into the
// output PDF. The PDF format caps page sides at 14400 points; larger
// pages are downscaled preserving aspect ratio.
const MaxSide = 14400

// ocrDPI is the resolution hint handed to the OCR engine for staged
// page images.
const ocrDPI = 150

// Progress receives assembly checkpoints: isError, a human-readable
// message, and a percentage in [0, 100].
type Progress func(isError bool, text string, percentage float64)

// Converter assembles staged pages into a PDF.
type Converter struct {
	Staging *staging.Area
	// Engine recognizes page text when an OCR language is requested.
	// Nil uses ocr.DefaultEngine.
	Engine ocr.Engine
	Logger observability.Logger
	// Parallelism bounds concurrent page encodes; zero uses
	// GOMAXPROCS.
	Parallelism int
}

// Convert reads every staged page, encodes it, and writes a single
// PDF to outFile. When ocrLang is non-empty each page is additionally
// recognized and its text stamped invisibly onto the page, driving
// progress from 50 to 100; without OCR the pixel-decoding stage
// already owns the full progress range and assembly reports no
// percentages.
func (c *Converter) Convert(ctx context.Context, ocrLang, outFile string, progress Progress) error {
	logger := c.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	if progress == nil {
		progress = func(bool, string, float64) {}
	}

	pages, err := c.Staging.Pages()
	if err != nil {
		return fmt.Errorf("assembly: %w", err)
	}
	if len(pages) == 0 {
		return fmt.Errorf("assembly: no staged pages")
	}

	pngFiles, err := c.encodePages(ctx, pages)
	if err != nil {
		return err
	}

	if err := api.ImportImagesFile(pngFiles, outFile, nil, nil); err != nil {
		return fmt.Errorf("assembly: import pages: %w", err)
	}
	logger.Info("assembled pages into PDF",
		observability.Int("pages", len(pages)),
		observability.String("output", outFile))

	if ocrLang == "" {
		return nil
	}
	return c.recognizePages(ctx, ocrLang, outFile, pages, pngFiles, progress)
}

// encodePages converts raw RGB24 buffers to PNG files next to the
// staged pages, in parallel. Encoding dominates assembly time on
// multi-page documents.
func (c *Converter) encodePages(ctx context.Context, pages []staging.Page) ([]string, error) {
	parallelism := c.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	files := make([]string, len(pages))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, p := range pages {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, rgb, err := c.Staging.ReadPage(p.Index)
			if err != nil {
				return fmt.Errorf("assembly: %w", err)
			}
			img := rgbImage(p.Width, p.Height, rgb)
			if p.Width > MaxSide || p.Height > MaxSide {
				img = downscale(img, MaxSide)
			}
			path := filepath.Join(c.Staging.Path(), fmt.Sprintf("page-%d.png", p.Index))
			if err := writePNG(path, img); err != nil {
				return fmt.Errorf("assembly: encode page %d: %w", p.Index, err)
			}
			files[i] = path
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Converter) recognizePages(ctx context.Context, lang, outFile string, pages []staging.Page, pngFiles []string, progress Progress) error {
	engine := c.Engine
	if engine == nil {
		engine = ocr.DefaultEngine()
	}

	percentage := 50.0
	perPage := 50.0 / float64(len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(pngFiles[i])
		if err != nil {
			return fmt.Errorf("assembly: %w", err)
		}
		res, err := engine.Recognize(ctx, ocr.InputFromPage(p.Index, data,
			ocr.WithLanguages(lang), ocr.WithDPI(ocrDPI)))
		if err != nil {
			return fmt.Errorf("assembly: ocr page %d: %w", p.Index, err)
		}
		if res.PlainText != "" {
			if err := stampText(outFile, p.Index, res.PlainText); err != nil {
				return fmt.Errorf("assembly: stamp page %d: %w", p.Index, err)
			}
		}
		percentage += perPage
		progress(false, fmt.Sprintf("Converting page %d/%d from pixels to PDF", i+1, len(pages)), percentage)
	}
	return nil
}

// stampText overlays recognized text on one page at near-zero opacity
// so the output is searchable without altering its appearance.
func stampText(outFile string, page int, text string) error {
	desc := "font:Helvetica, points:9, pos:c, op:0.01, fillcolor:#ffffff"
	return api.AddTextWatermarksFile(outFile, outFile, []string{strconv.Itoa(page)}, true, text, desc, nil)
}

// rgbImage wraps a raw RGB24 buffer as an opaque NRGBA image.
func rgbImage(width, height int, rgb []byte) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[i*4+0] = rgb[i*3+0]
		img.Pix[i*4+1] = rgb[i*3+1]
		img.Pix[i*4+2] = rgb[i*3+2]
		img.Pix[i*4+3] = 0xFF
	}
	return img
}

// downscale shrinks img so both sides fit limit, preserving aspect
// ratio. It never upscales.
func downscale(img *image.NRGBA, limit int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := float64(limit) / float64(w)
	if s := float64(limit) / float64(h); s < scale {
		scale = s
	}
	if scale >= 1 {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
