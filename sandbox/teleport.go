package sandbox

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Teleport bundles the code artifacts under dir into an in-memory zip
// archive and writes it to w as a 4-byte big-endian length prefix
// followed by the archive bytes. A development host uses it to send
// worker code to a sandbox image that does not have it installed,
// over the same channel as the document, ahead of the document bytes.
// Production configurations never call it.
func Teleport(w io.Writer, dir string) error {
	blob, err := bundle(dir)
	if err != nil {
		return fmt.Errorf("sandbox: bundle %s: %w", dir, err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(blob)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("sandbox: write bundle length: %w", err)
	}
	if _, err := w.Write(blob); err != nil {
		return fmt.Errorf("sandbox: write bundle: %w", err)
	}
	return nil
}

func bundle(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = f.Write(data)
		return err
	})
	if err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadBundle consumes a teleported bundle from r: the 4-byte
// big-endian length, then that many archive bytes. The worker side
// calls it before reading the document. The length is untrusted;
// maxSize bounds the allocation.
func ReadBundle(r io.Reader, maxSize uint32) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("sandbox: read bundle length: %w", err)
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxSize {
		return nil, fmt.Errorf("sandbox: bundle of %d bytes exceeds limit %d", size, maxSize)
	}
	blob := make([]byte, size)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, fmt.Errorf("sandbox: read bundle: %w", err)
	}
	return blob, nil
}
