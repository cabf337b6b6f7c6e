// Package pixelstream implements the host side of the untrusted
// pixel-stream protocol spoken between a conversion session and its
// isolated worker.
//
// The worker renders an attacker-controlled document and writes, on
// its stdout: a big-endian uint16 page count, then for each page a
// uint16 width, a uint16 height, and width*height*3 raw RGB bytes.
// The host treats every byte as adversarial: reads are exact-count
// and deadline-bounded, declared sizes are capped, a zero page count
// is a named failure, and once the declared pages are consumed the
// stream is closed so trailing bytes are never interpreted.
package pixelstream
