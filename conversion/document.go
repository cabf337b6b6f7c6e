package conversion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is one untrusted input and the location its safe PDF will
// be written to. A document takes part in exactly one session at a
// time.
type Document struct {
	InputPath  string
	OutputPath string
}

// NewDocument validates the input path and derives the output path if
// out is empty: "<input without extension>-safe.pdf" next to the
// input.
func NewDocument(in, out string) (*Document, error) {
	info, err := os.Stat(in)
	if err != nil {
		return nil, fmt.Errorf("input document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("input document %s is a directory", in)
	}
	if out == "" {
		base := strings.TrimSuffix(in, filepath.Ext(in))
		out = base + "-safe.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(out), ".pdf") {
		return nil, fmt.Errorf("output path %s must end in .pdf", out)
	}
	return &Document{InputPath: in, OutputPath: out}, nil
}

// Name returns the document's base name for progress messages and
// logs.
func (d *Document) Name() string {
	return filepath.Base(d.InputPath)
}
