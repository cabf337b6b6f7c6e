// Package sandbox launches and supervises the isolated worker process
// that renders untrusted documents, and interprets its exit status
// when the pixel-stream protocol never gets off the ground.
//
// The package does not implement the isolation boundary itself; it
// speaks to whatever supervisor command the platform provides (a
// qrexec client, a container runtime, or the bundled worker binary
// directly) through plain byte pipes.
package sandbox
