package render

import (
	"bytes"
	"testing"
)

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		doc  []byte
		want Kind
	}{
		{"pdf", []byte("%PDF-1.7\n%âãÏÓ"), KindPDF},
		{"zip container", []byte("PK\x03\x04rest"), KindEPUB},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A}, KindPNG},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, KindJPEG},
		{"gif", []byte("GIF89a"), KindGIF},
		{"tiff le", []byte("II*\x00"), KindTIFF},
		{"tiff be", []byte("MM\x00*"), KindTIFF},
		{"bmp", []byte("BMxxxx"), KindBMP},
		{"html doctype", []byte("  \n<!DOCTYPE HTML><html></html>"), KindHTML},
		{"html tag", []byte("<HTML><body>x</body></HTML>"), KindHTML},
		{"markdown", []byte("# Title\n\nSome *text*.\n"), KindMarkdown},
		{"binary garbage", []byte{0x00, 0x01, 0x02, 0xFE}, KindUnknown},
		{"empty", nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.doc); got != tt.want {
				t.Fatalf("Sniff(%q…) = %q, want %q", truncate(tt.doc), got, tt.want)
			}
		})
	}
}

func truncate(b []byte) []byte {
	if len(b) > 8 {
		return b[:8]
	}
	return b
}

func TestSniffLargeTextInput(t *testing.T) {
	doc := bytes.Repeat([]byte("lorem ipsum dolor sit amet\n"), 1000)
	if got := Sniff(doc); got != KindMarkdown {
		t.Fatalf("Sniff(large text) = %q, want markdown", got)
	}
}

func TestSniffRejectsTextWithNUL(t *testing.T) {
	if got := Sniff([]byte("looks like text\x00but is not")); got != KindUnknown {
		t.Fatalf("Sniff(text with NUL) = %q, want unknown", got)
	}
}
