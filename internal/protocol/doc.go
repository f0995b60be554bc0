// Package protocol owns the wire contract and parsing primitives.
//
// Ownership boundary:
// - frame primitives (length prefix, JSON header, payload slicing)
// - request/response payload shapes
// - frame limits
//
// Payload encryption lives in internal/crypt; protocol only sees the
// ciphertext as opaque bytes.
package protocol
