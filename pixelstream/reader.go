package pixelstream

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"
)

// Source is a byte stream that supports read deadlines. Pipe ends
// returned by os.Pipe satisfy it; the runtime's poller turns each
// deadline into a genuine non-blocking wait, so no caller ever spins
// or blocks past its budget.
type Source interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

var _ Source = (*os.File)(nil)

// Reader accumulates framed byte counts from an untrusted Source
// within caller-supplied timeouts. Bytes are consumed irreversibly in
// arrival order; there is no peeking or pushback.
type Reader struct {
	src Source
}

// NewReader wraps src. The Reader does not own src; closing the
// stream remains the caller's responsibility.
func NewReader(src Source) *Reader {
	return &Reader{src: src}
}

// ReadExact reads exactly n bytes within timeout. If the deadline
// expires or the stream ends with fewer bytes accumulated, it returns
// a ShortReadError carrying the partial count.
func (r *Reader) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	buf, got, err := r.read(n, timeout)
	if err != nil {
		return nil, &ShortReadError{Expected: n, Got: got}
	}
	return buf, nil
}

// ReadUpTo reads at most n bytes within timeout, tolerating short
// results. It is used only for best-effort diagnostic capture; the
// protocol proper always requires exact counts.
func (r *Reader) ReadUpTo(n int, timeout time.Duration) ([]byte, error) {
	buf, got, err := r.read(n, timeout)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, err
	}
	return buf[:got], nil
}

// ReadUint16 reads a 2-byte big-endian unsigned integer within
// timeout.
func (r *Reader) ReadUint16(timeout time.Duration) (uint16, error) {
	buf, err := r.ReadExact(2, timeout)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (r *Reader) read(n int, timeout time.Duration) ([]byte, int, error) {
	buf := make([]byte, n)
	if err := r.src.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return buf, 0, err
	}
	got := 0
	for got < n {
		m, err := r.src.Read(buf[got:])
		got += m
		if err != nil {
			return buf, got, err
		}
	}
	return buf, got, nil
}
