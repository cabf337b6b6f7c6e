package conversion

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/garrettr/dangerzone/pixelstream"
	"github.com/garrettr/dangerzone/sandbox"
)

// fakeWorker speaks the worker side of the protocol from a test
// script over real pipes.
type fakeWorker struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
	code             int
	done             chan struct{}
}

func newFakeWorker(t *testing.T, code int, script func(stdin io.Reader, stdout, stderr io.Writer)) *fakeWorker {
	t.Helper()
	w := &fakeWorker{code: code, done: make(chan struct{})}
	var err error
	if w.stdinR, w.stdinW, err = os.Pipe(); err != nil {
		t.Fatal(err)
	}
	if w.stdoutR, w.stdoutW, err = os.Pipe(); err != nil {
		t.Fatal(err)
	}
	if w.stderrR, w.stderrW, err = os.Pipe(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		for _, f := range []*os.File{w.stdinR, w.stdinW, w.stdoutR, w.stdoutW, w.stderrR, w.stderrW} {
			f.Close()
		}
	})
	go func() {
		defer close(w.done)
		defer w.stdoutW.Close()
		defer w.stderrW.Close()
		script(w.stdinR, w.stdoutW, w.stderrW)
	}()
	return w
}

func (w *fakeWorker) Stdin() io.WriteCloser  { return w.stdinW }
func (w *fakeWorker) Stdout() sandbox.Stream { return w.stdoutR }
func (w *fakeWorker) Stderr() sandbox.Stream { return w.stderrR }
func (w *fakeWorker) Kill() error            { return nil }

func (w *fakeWorker) Wait(ctx context.Context) (int, error) {
	select {
	case <-w.done:
		return w.code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

type fakeLauncher struct {
	w       *fakeWorker
	started chan struct{}
}

func (l *fakeLauncher) Start(ctx context.Context) (sandbox.Worker, error) {
	if l.started != nil {
		close(l.started)
	}
	return l.w, nil
}

func writeU16(w io.Writer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.Write(b[:])
}

// writeOnePageStream emits a valid single-page 2x2 stream.
func writeOnePageStream(stdout io.Writer) {
	writeU16(stdout, 1)
	writeU16(stdout, 2)
	writeU16(stdout, 2)
	stdout.Write(bytes.Repeat([]byte{128, 128, 128}, 4))
}

type event struct {
	err  bool
	text string
	pct  float64
}

func testDocument(t *testing.T) *Document {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(in, []byte("untrusted content"), 0o600); err != nil {
		t.Fatal(err)
	}
	doc, err := NewDocument(in, filepath.Join(dir, "report-safe.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestConvertSuccess(t *testing.T) {
	worker := newFakeWorker(t, 0, func(stdin io.Reader, stdout, stderr io.Writer) {
		io.Copy(io.Discard, stdin)
		writeOnePageStream(stdout)
	})

	var events []event
	c := New(Options{
		Launcher:    &fakeLauncher{w: worker},
		StagingRoot: t.TempDir(),
		Progress: func(doc *Document, isErr bool, text string, pct float64) {
			events = append(events, event{isErr, text, pct})
		},
	})

	doc := testDocument(t)
	if err := c.Convert(context.Background(), doc); err != nil {
		t.Fatalf("convert: %v", err)
	}

	n, err := api.PageCountFile(doc.OutputPath)
	if err != nil {
		t.Fatalf("output page count: %v", err)
	}
	if n != 1 {
		t.Fatalf("output has %d pages, want 1", n)
	}

	if len(events) == 0 {
		t.Fatal("no progress reported")
	}
	last := events[len(events)-1]
	if last.err || last.text != "Safe PDF created" || last.pct != 100 {
		t.Fatalf("final event = %+v", last)
	}
	prev := -1.0
	for _, ev := range events {
		if ev.err {
			t.Fatalf("unexpected error event: %+v", ev)
		}
		if ev.pct < prev {
			t.Fatalf("progress went backwards: %v after %v", ev.pct, prev)
		}
		prev = ev.pct
	}
}

func TestConvertEmptyResult(t *testing.T) {
	worker := newFakeWorker(t, 0, func(stdin io.Reader, stdout, stderr io.Writer) {
		io.Copy(io.Discard, stdin)
		writeU16(stdout, 0)
	})

	var sawError bool
	c := New(Options{
		Launcher:    &fakeLauncher{w: worker},
		StagingRoot: t.TempDir(),
		Progress: func(doc *Document, isErr bool, text string, pct float64) {
			if isErr {
				sawError = true
			}
		},
	})

	err := c.Convert(context.Background(), testDocument(t))
	if !errors.Is(err, pixelstream.ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", err)
	}
	if !sawError {
		t.Fatal("empty result not reported through progress")
	}
}

func TestConvertDiagnosesWorkerDeath(t *testing.T) {
	// The worker dies after one byte of the page count with the exit
	// code of a SIGKILLed process.
	worker := newFakeWorker(t, 137, func(stdin io.Reader, stdout, stderr io.Writer) {
		stdout.Write([]byte{0x00})
	})

	c := New(Options{
		Launcher:    &fakeLauncher{w: worker},
		StagingRoot: t.TempDir(),
	})

	err := c.Convert(context.Background(), testDocument(t))
	var diag *sandbox.WorkerError
	if !errors.As(err, &diag) {
		t.Fatalf("err = %v, want WorkerError", err)
	}
	if diag.Cause != sandbox.CauseResourceLimit {
		t.Fatalf("cause = %v (code %d), want CauseResourceLimit", diag.Cause, diag.Code)
	}
}

func TestConvertStreamDesyncIsNotDiagnosed(t *testing.T) {
	worker := newFakeWorker(t, 137, func(stdin io.Reader, stdout, stderr io.Writer) {
		io.Copy(io.Discard, stdin)
		writeU16(stdout, 2)
		writeU16(stdout, 1) // half a page header, then death
	})

	c := New(Options{
		Launcher:    &fakeLauncher{w: worker},
		StagingRoot: t.TempDir(),
	})

	err := c.Convert(context.Background(), testDocument(t))
	var diag *sandbox.WorkerError
	if errors.As(err, &diag) {
		t.Fatalf("mid-stream desync diagnosed from exit code: %v", err)
	}
	var se *pixelstream.StreamError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StreamError", err)
	}
}

func TestConvertDevTeleportsSidecarFirst(t *testing.T) {
	sidecar := t.TempDir()
	if err := os.WriteFile(filepath.Join(sidecar, "worker.py"), []byte("code"), 0o644); err != nil {
		t.Fatal(err)
	}

	checked := make(chan error, 1)
	worker := newFakeWorker(t, 0, func(stdin io.Reader, stdout, stderr io.Writer) {
		// Wire order: uint32 length, bundle, then the document.
		blob, err := sandbox.ReadBundle(stdin, 1<<20)
		if err != nil {
			checked <- err
			return
		}
		if _, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob))); err != nil {
			checked <- err
			return
		}
		docBytes, err := io.ReadAll(stdin)
		if err != nil {
			checked <- err
			return
		}
		if string(docBytes) != "untrusted content" {
			checked <- errors.New("document bytes did not follow the bundle")
			return
		}
		checked <- nil
		writeOnePageStream(stdout)
		stderr.Write([]byte("render ok\n"))
	})

	c := New(Options{
		Launcher:    &fakeLauncher{w: worker},
		StagingRoot: t.TempDir(),
		Dev:         true,
		SidecarDir:  sidecar,
	})

	if err := c.Convert(context.Background(), testDocument(t)); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if err := <-checked; err != nil {
		t.Fatalf("worker-side check: %v", err)
	}
}

func TestConvertRefusesConcurrentSessions(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	worker := newFakeWorker(t, 0, func(stdin io.Reader, stdout, stderr io.Writer) {
		<-release
		io.Copy(io.Discard, stdin)
		writeOnePageStream(stdout)
	})

	c := New(Options{
		Launcher:    &fakeLauncher{w: worker, started: started},
		StagingRoot: t.TempDir(),
	})

	doc := testDocument(t)
	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Convert(context.Background(), doc) }()

	<-started
	second := New(Options{
		Launcher:    &fakeLauncher{w: worker},
		StagingRoot: t.TempDir(),
	})
	if err := second.Convert(context.Background(), testDocument(t)); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second session err = %v, want ErrSessionActive", err)
	}

	close(release)
	select {
	case err := <-firstDone:
		if err != nil {
			t.Fatalf("first session: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("first session did not finish")
	}

	// The gate must be released for the next session.
	worker2 := newFakeWorker(t, 0, func(stdin io.Reader, stdout, stderr io.Writer) {
		io.Copy(io.Discard, stdin)
		writeOnePageStream(stdout)
	})
	third := New(Options{
		Launcher:    &fakeLauncher{w: worker2},
		StagingRoot: t.TempDir(),
	})
	if err := third.Convert(context.Background(), testDocument(t)); err != nil {
		t.Fatalf("third session: %v", err)
	}
}
