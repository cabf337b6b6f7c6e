package ocr

// Package ocr defines the abstraction for plugging OCR engines into
// the PDF-assembly stage. When a conversion requests a searchable
// output, each staged page image is recognized by an Engine and the
// text is stamped into the assembled PDF. The interfaces are small
// and provider-agnostic so engines can be backed by native libraries
// or remote services without leaking provider concerns into the
// pipeline.
