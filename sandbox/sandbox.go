package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/garrettr/dangerzone/observability"
)

// Stream is a readable pipe end that supports read deadlines, as
// required for budget-bounded reads of untrusted output.
type Stream interface {
	io.ReadCloser
	SetReadDeadline(t time.Time) error
}

// Worker is a running isolated worker. Stdin carries the document
// (and, in dev mode, the sidecar bundle first); Stdout carries the
// pixel stream; Stderr carries best-effort diagnostics.
type Worker interface {
	Stdin() io.WriteCloser
	Stdout() Stream
	Stderr() Stream
	// Wait blocks until the worker exits or ctx is done, and returns
	// the exit code. Termination by signal is reported shell-style as
	// 128+signal. Wait may be called more than once.
	Wait(ctx context.Context) (int, error)
	// Kill forcibly terminates the worker. The protocol layer itself
	// never calls it; teardown belongs to the supervisor.
	Kill() error
}

// Launcher starts isolated workers.
type Launcher interface {
	Start(ctx context.Context) (Worker, error)
}

// ExecLauncher starts the worker as a subprocess of the given argv,
// e.g. ["/usr/bin/qrexec-client-vm", "@dispvm:dz-dvm", "dz.Convert"]
// on Qubes, or a dangerzone-worker binary path for local use. Pipes
// are created explicitly so the host ends support read deadlines.
type ExecLauncher struct {
	Command []string
	Logger  observability.Logger
}

func (l *ExecLauncher) Start(ctx context.Context) (Worker, error) {
	if len(l.Command) == 0 {
		return nil, fmt.Errorf("sandbox: empty worker command")
	}
	logger := l.Logger
	if logger == nil {
		logger = observability.NopLogger{}
	}

	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: stdin pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		return nil, fmt.Errorf("sandbox: stdout pipe: %w", err)
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, fmt.Errorf("sandbox: stderr pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, l.Command[0], l.Command[1:]...)
	cmd.Stdin = stdinRead
	cmd.Stdout = stdoutWrite
	cmd.Stderr = stderrWrite

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinRead, stdinWrite, stdoutRead, stdoutWrite, stderrRead, stderrWrite} {
			f.Close()
		}
		return nil, fmt.Errorf("sandbox: start %s: %w", l.Command[0], err)
	}
	logger.Debug("worker started",
		observability.String("command", l.Command[0]),
		observability.Int("pid", cmd.Process.Pid))

	// The child holds its own copies of these ends.
	stdinRead.Close()
	stdoutWrite.Close()
	stderrWrite.Close()

	return &process{
		cmd:    cmd,
		stdin:  stdinWrite,
		stdout: stdoutRead,
		stderr: stderrRead,
	}, nil
}

type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	stderr *os.File

	waitOnce sync.Once
	waitCh   chan struct{}
	exitCode int
	waitErr  error
}

func (p *process) Stdin() io.WriteCloser { return p.stdin }
func (p *process) Stdout() Stream        { return p.stdout }
func (p *process) Stderr() Stream        { return p.stderr }

func (p *process) Wait(ctx context.Context) (int, error) {
	p.waitOnce.Do(func() {
		p.waitCh = make(chan struct{})
		go func() {
			defer close(p.waitCh)
			err := p.cmd.Wait()
			if err == nil {
				p.exitCode = 0
				return
			}
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				p.exitCode = -1
				p.waitErr = err
				return
			}
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				p.exitCode = 128 + int(ws.Signal())
				return
			}
			p.exitCode = exitErr.ExitCode()
		}()
	})
	select {
	case <-p.waitCh:
		return p.exitCode, p.waitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (p *process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
