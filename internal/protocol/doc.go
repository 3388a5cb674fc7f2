// Package protocol owns the chat wire envelope and its tolerant decoder.
//
// Ownership boundary:
// - message envelope and pathname derivation
// - encode (absent fields omitted)
// - decode of single objects, newline-delimited objects and arrays
package protocol
