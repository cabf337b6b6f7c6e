// Package conversion orchestrates one document-to-safe-PDF session:
// it launches the isolated worker, streams the untrusted document in,
// decodes the adversarial pixel stream into session staging, hands
// the staged pages to PDF assembly, and reports progress at every
// checkpoint. Exactly one session runs at a time.
package conversion
