package conversion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/garrettr/dangerzone/assembly"
	"github.com/garrettr/dangerzone/budget"
	"github.com/garrettr/dangerzone/observability"
	"github.com/garrettr/dangerzone/ocr"
	"github.com/garrettr/dangerzone/pixelstream"
	"github.com/garrettr/dangerzone/sandbox"
	"github.com/garrettr/dangerzone/staging"
)

// ErrSessionActive reports that another conversion session is already
// running. The final output path and the worker supervisor are
// process-wide resources, so the ceiling is exactly one session at a
// time.
var ErrSessionActive = errors.New("another conversion is already in progress")

// sessionGate enforces the one-session ceiling.
var sessionGate atomic.Bool

// ProgressFunc receives conversion checkpoints for a document:
// whether the checkpoint is an error, a human-readable message, and a
// percentage in [0, 100].
type ProgressFunc func(doc *Document, isError bool, text string, percentage float64)

// Options configures a Converter.
type Options struct {
	// WorkerCommand is the argv used to launch the isolated worker,
	// e.g. a qrexec client invocation or a dangerzone-worker binary.
	WorkerCommand []string
	// DevWorkerCommand replaces WorkerCommand in dev mode, where the
	// worker expects a teleported code bundle ahead of the document.
	DevWorkerCommand []string
	// Dev enables the sidecar teleport.
	Dev bool
	// SidecarDir is the code directory teleported in dev mode.
	SidecarDir string
	// OCRLanguage requests a searchable PDF in the given language;
	// empty disables OCR.
	OCRLanguage string
	// StagingRoot hosts the per-session staging directories; empty
	// uses the system temp directory.
	StagingRoot string
	// Launcher overrides the exec-based launcher, for tests and
	// alternative supervisors.
	Launcher sandbox.Launcher
	// Engine recognizes page text when OCRLanguage is set; nil uses
	// the process default.
	Engine   ocr.Engine
	Logger   observability.Logger
	Progress ProgressFunc
}

// Converter runs conversion sessions.
type Converter struct {
	opts   Options
	logger observability.Logger
}

// New builds a Converter.
func New(opts Options) *Converter {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}
	return &Converter{opts: opts, logger: logger}
}

// Convert runs one full session: launch the worker, stream the
// document in, decode the pixel stream into staging, assemble the
// safe PDF, and move it to doc.OutputPath. Every failure aborts the
// session; nothing is retried.
func (c *Converter) Convert(ctx context.Context, doc *Document) error {
	if !sessionGate.CompareAndSwap(false, true) {
		return ErrSessionActive
	}
	defer sessionGate.Store(false)

	logger := c.logger.With(observability.String("doc", doc.Name()))

	area, err := staging.New(c.opts.StagingRoot)
	if err != nil {
		return err
	}
	defer area.Remove()
	// The directory is fresh, but reset anyway: staging state must
	// provably belong to this session.
	if err := area.Reset(); err != nil {
		return err
	}

	input, err := os.Open(doc.InputPath)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer input.Close()
	info, err := input.Stat()
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	size := info.Size()

	worker, err := c.launch(ctx)
	if err != nil {
		c.report(doc, true, "Failed to start the conversion sandbox", 0)
		return err
	}
	defer reap(worker)

	// Feed the worker concurrently so a worker that renders while
	// reading cannot deadlock against a full pipe.
	go c.feed(worker.Stdin(), input, logger)

	b := budget.New(size)
	decoder := pixelstream.NewDecoder(worker.Stdout(), b, area, pixelstream.DecoderConfig{
		SizeBytes:  size,
		OCRPending: c.opts.OCRLanguage != "",
		Logger:     logger,
		Progress: func(isErr bool, text string, pct float64) {
			c.report(doc, isErr, text, pct)
		},
	})

	pages, err := decoder.Decode(ctx)
	if err != nil {
		return c.failDecode(ctx, doc, worker, decoder, err)
	}
	logger.Info("document converted to pixels",
		observability.Int("pages", pages),
		observability.Int64("size", size))

	if c.opts.Dev {
		c.captureDebugLog(worker, logger)
	}

	outFile := filepath.Join(area.Path(), "safe-output.pdf")
	asm := &assembly.Converter{
		Staging: area,
		Engine:  c.opts.Engine,
		Logger:  logger,
	}
	err = asm.Convert(ctx, c.opts.OCRLanguage, outFile, func(isErr bool, text string, pct float64) {
		c.report(doc, isErr, text, pct)
	})
	if err != nil {
		c.report(doc, true, "Failed to assemble the safe PDF", decoder.Percentage())
		return err
	}

	if err := moveFile(outFile, doc.OutputPath); err != nil {
		return fmt.Errorf("place output: %w", err)
	}
	c.report(doc, false, "Safe PDF created", 100)
	return nil
}

func (c *Converter) launch(ctx context.Context) (sandbox.Worker, error) {
	if c.opts.Launcher != nil {
		return c.opts.Launcher.Start(ctx)
	}
	command := c.opts.WorkerCommand
	if c.opts.Dev && len(c.opts.DevWorkerCommand) > 0 {
		command = c.opts.DevWorkerCommand
	}
	l := &sandbox.ExecLauncher{Command: command, Logger: c.logger}
	return l.Start(ctx)
}

// feed writes the sidecar bundle (dev mode) and the document to the
// worker's stdin, then closes it so the worker sees EOF.
func (c *Converter) feed(stdin io.WriteCloser, input io.Reader, logger observability.Logger) {
	defer stdin.Close()
	if c.opts.Dev && c.opts.SidecarDir != "" {
		if err := sandbox.Teleport(stdin, c.opts.SidecarDir); err != nil {
			logger.Error("sidecar teleport failed", observability.Error("err", err))
			return
		}
	}
	if _, err := io.Copy(stdin, input); err != nil {
		// The worker may legitimately stop reading (e.g. it already
		// failed); the decoder will surface the real error.
		logger.Debug("document transmission interrupted", observability.Error("err", err))
	}
}

func (c *Converter) failDecode(ctx context.Context, doc *Document, worker sandbox.Worker, decoder *pixelstream.Decoder, err error) error {
	if !pixelstream.FailedBeforePageCount(err) {
		// The stream desynchronized mid-protocol; there is nothing
		// meaningful to learn from the exit code.
		c.report(doc, true, "Conversion failed: pixel stream interrupted", decoder.Percentage())
		return err
	}
	if errors.Is(err, pixelstream.ErrEmptyResult) {
		c.report(doc, true, "Conversion failed: the document produced no pages", decoder.Percentage())
		return err
	}
	// No page count ever arrived: the worker most likely died before
	// producing output, so its exit code is the best diagnosis.
	diag := sandbox.DiagnoseExit(ctx, worker)
	c.report(doc, true, "Conversion failed: "+diag.Error(), decoder.Percentage())
	return diag
}

// captureDebugLog drains the worker's stderr, best effort, and logs a
// sanitized copy. Dev mode only; the text is untrusted and never
// parsed.
func (c *Converter) captureDebugLog(worker sandbox.Worker, logger observability.Logger) {
	r := pixelstream.NewReader(worker.Stderr())
	untrusted, err := r.ReadUpTo(MaxLogChars, budget.Estimate(MaxLogChars, 0))
	if err != nil || len(untrusted) == 0 {
		return
	}
	logger.Info("worker debug output", observability.String("log", sanitizeText(untrusted)))
}

func (c *Converter) report(doc *Document, isError bool, text string, percentage float64) {
	if c.opts.Progress != nil {
		c.opts.Progress(doc, isError, text, percentage)
	}
}

// reap collects the worker's exit status, bounded, so no zombie is
// left behind. Forcible termination belongs to the supervisor, not
// the protocol layer.
func reap(w sandbox.Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.Wait(ctx)
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
