package render

import (
	"bytes"
	"unicode/utf8"
)

// Kind is a sniffed input format.
type Kind string

const (
	KindUnknown  Kind = ""
	KindPDF      Kind = "pdf"
	KindEPUB     Kind = "epub"
	KindXPS      Kind = "xps"
	KindPNG      Kind = "png"
	KindJPEG     Kind = "jpeg"
	KindGIF      Kind = "gif"
	KindTIFF     Kind = "tiff"
	KindBMP      Kind = "bmp"
	KindHTML     Kind = "html"
	KindMarkdown Kind = "markdown"
)

func (k Kind) ext() string {
	switch k {
	case KindPDF:
		return ".pdf"
	case KindEPUB:
		return ".epub"
	case KindXPS:
		return ".xps"
	case KindPNG:
		return ".png"
	case KindJPEG:
		return ".jpg"
	case KindGIF:
		return ".gif"
	case KindTIFF:
		return ".tif"
	case KindBMP:
		return ".bmp"
	case KindHTML, KindMarkdown:
		return ".html"
	}
	return ""
}

// Sniff classifies untrusted document bytes by magic number. Text
// without a recognized magic is treated as Markdown, the only plain
// text format the worker renders; anything unclassifiable is
// KindUnknown and must be refused.
func Sniff(doc []byte) Kind {
	switch {
	case bytes.HasPrefix(doc, []byte("%PDF-")):
		return KindPDF
	case bytes.HasPrefix(doc, []byte("PK\x03\x04")):
		// Zip container. Office formats also match, but the worker
		// only handles EPUB; MuPDF rejects the rest downstream.
		return KindEPUB
	case bytes.HasPrefix(doc, []byte{0x89, 'P', 'N', 'G'}):
		return KindPNG
	case bytes.HasPrefix(doc, []byte{0xFF, 0xD8, 0xFF}):
		return KindJPEG
	case bytes.HasPrefix(doc, []byte("GIF8")):
		return KindGIF
	case bytes.HasPrefix(doc, []byte("II*\x00")), bytes.HasPrefix(doc, []byte("MM\x00*")):
		return KindTIFF
	case bytes.HasPrefix(doc, []byte("BM")):
		return KindBMP
	}

	if looksLikeHTML(doc) {
		return KindHTML
	}
	if isText(doc) {
		return KindMarkdown
	}
	return KindUnknown
}

func looksLikeHTML(doc []byte) bool {
	head := bytes.ToLower(bytes.TrimLeft(doc, " \t\r\n"))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

// isText reports whether doc is valid UTF-8 with no NUL bytes,
// checking at most the first 8 KiB.
func isText(doc []byte) bool {
	if len(doc) == 0 {
		return false
	}
	sample := doc
	if len(sample) > 8192 {
		sample = sample[:8192]
		// A rune may be split at the boundary; drop at most 3 bytes.
		for i := 0; i < 3 && !utf8.Valid(sample); i++ {
			sample = sample[:len(sample)-1]
		}
	}
	return utf8.Valid(sample) && !bytes.ContainsRune(sample, 0)
}
