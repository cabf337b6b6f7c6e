package ocr

import "context"

// ImageFormat identifies the content type of an OCR input image.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
)

// Input encapsulates a single page image submitted for OCR.
type Input struct {
	// ID is an optional caller-provided identifier that is echoed
	// back in the corresponding Result.
	ID string
	// Image is the encoded image payload in the format specified by
	// Format.
	Image []byte
	// Format declares the image content type (e.g., image/png).
	Format ImageFormat
	// PageIndex links the input back to the 1-based page it was
	// decoded from.
	PageIndex int
	// DPI carries the effective dots-per-inch for the image.
	// Providers such as Tesseract use this for scaling and layout
	// heuristics; zero means unknown.
	DPI int
	// Languages is a list of language hints (e.g., "eng", "deu") that
	// providers can use to select trained data.
	Languages []string
	// Metadata allows callers to pass through engine-specific knobs
	// (e.g., "tessedit_pageseg_mode" for Tesseract) without
	// hard-coding them into the API surface.
	Metadata map[string]string
}

// Result captures OCR output for a single page image. The text comes
// from pixels the worker produced from an attacker-controlled
// document: it is stamped into the output PDF and logged, never fed
// into decision logic.
type Result struct {
	// InputID mirrors the Input.ID that produced this result.
	InputID string
	// PageIndex mirrors the Input.PageIndex.
	PageIndex int
	// PlainText contains the linearized text extracted from the image.
	PlainText string
	// Confidence is the provider's mean word confidence in [0, 1],
	// zero if unknown.
	Confidence float64
	// Language indicates the dominant language detected, if known.
	Language string
}

// Engine is the simplest OCR provider contract: one image in, one
// result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}

// BatchEngine handles multiple images in a single call, enabling
// providers that amortize setup costs or remote round-trips.
type BatchEngine interface {
	Engine
	RecognizeBatch(ctx context.Context, inputs []Input) ([]Result, error)
}
