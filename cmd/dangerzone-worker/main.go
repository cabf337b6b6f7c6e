// Command dangerzone-worker is the sandboxed half of the conversion
// pipeline. It reads one untrusted document from stdin, rasterizes it,
// and writes the pixel stream to stdout: a big-endian uint16 page
// count, then each page as uint16 width, uint16 height, and
// width*height*3 bytes of RGB. Diagnostics go to stderr; failures are
// reported through the exit code alone.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/garrettr/dangerzone/observability"
	"github.com/garrettr/dangerzone/render"
	"github.com/garrettr/dangerzone/sandbox"
)

// maxBundleSize caps the dev-mode code bundle read ahead of the
// document.
const maxBundleSize = 64 << 20

type options struct {
	dev bool
	dpi float64
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dangerzone-worker: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "dangerzone-worker: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: dangerzone-worker [flags] < document > pixelstream\n")
		flag.PrintDefaults()
	}
	flag.BoolVar(&opts.dev, "dev", false, "Expect a length-prefixed code bundle ahead of the document")
	flag.Float64Var(&opts.dpi, "dpi", 150, "Rendering resolution")
	flag.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected arguments")
	}
	return opts, nil
}

func run(opts options) error {
	logger := observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	stdin := bufio.NewReader(os.Stdin)
	if opts.dev {
		// The bundle carries interpreter code for workers that need
		// it; a compiled worker consumes the framing and moves on.
		bundle, err := sandbox.ReadBundle(stdin, maxBundleSize)
		if err != nil {
			return fmt.Errorf("read code bundle: %w", err)
		}
		logger.Debug("code bundle received", observability.Int("bytes", len(bundle)))
	}

	doc, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	logger.Info("document received", observability.Int("bytes", len(doc)))

	out := bufio.NewWriter(os.Stdout)
	r := render.New(render.Options{DPI: opts.dpi, Logger: logger})
	pages, err := r.Render(context.Background(), doc, &wireSink{w: out, logger: logger})
	if err != nil {
		return err
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("flush pixel stream: %w", err)
	}
	logger.Info("document rendered", observability.Int("pages", pages))
	return nil
}

// wireSink serializes rasterized pages in wire order.
type wireSink struct {
	w      *bufio.Writer
	total  int
	done   int
	logger observability.Logger
}

func (s *wireSink) PageCount(n int) error {
	s.total = n
	return writeUint16(s.w, uint16(n))
}

func (s *wireSink) Page(width, height int, rgb []byte) error {
	if err := writeUint16(s.w, uint16(width)); err != nil {
		return err
	}
	if err := writeUint16(s.w, uint16(height)); err != nil {
		return err
	}
	if _, err := s.w.Write(rgb); err != nil {
		return err
	}
	s.done++
	s.logger.Debug("page rendered",
		observability.Int("page", s.done),
		observability.Int("of", s.total),
		observability.Int("width", width),
		observability.Int("height", height))
	return nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// exitCode maps a failure onto the wire contract's exit codes so the
// host can name the cause without trusting any worker output.
func exitCode(err error) int {
	switch {
	case errors.Is(err, render.ErrUnsupportedFormat):
		return sandbox.ExitUnsupportedFormat
	case errors.Is(err, render.ErrCorruptedDocument):
		return sandbox.ExitCorruptedDocument
	case errors.Is(err, render.ErrTooManyPages):
		return sandbox.ExitPageLimit
	case errors.Is(err, render.ErrPageTooLarge):
		return sandbox.ExitPageSize
	default:
		return sandbox.ExitRenderFailure
	}
}
