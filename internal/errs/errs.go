// Package errs defines the sentinel error kinds used across the facilitator
// core, and a helper for attaching operation/entity context to them the way
// an error chain would in the original Rust implementation.
package errs

import (
	"errors"
	"fmt"
)

// Kinds of fatal error the core can raise. Each is a sentinel so callers can
// test for it with errors.Is, and each wraps whatever underlying error (I/O,
// decode, crypto) actually triggered it.
var (
	ErrTransport           = errors.New("transport")
	ErrCodec               = errors.New("codec")
	ErrMalformedHeader     = errors.New("malformed header")
	ErrMalformedPacket     = errors.New("malformed packet")
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrDigestMismatch      = errors.New("packet file digest mismatch")
	ErrParameterMismatch   = errors.New("parameter mismatch")
	ErrTruncatedBatch      = errors.New("truncated batch")
	ErrUUIDMisalignment    = errors.New("uuid misalignment")
	ErrDecryptionFailed    = errors.New("decryption failed")
	ErrCryptoInit          = errors.New("crypto initialization failed")
)

// Wrap annotates err with kind and a "operation on entity" context string,
// preserving err in the chain so errors.Is(result, kind) and
// errors.Is(result, err) both succeed.
func Wrap(kind error, entity, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s %s: %w: %w", kind, entity, operation, err, kind)
}

// New builds a fresh error of the given kind with context, with no
// underlying cause.
func New(kind error, entity, operation, msg string) error {
	return fmt.Errorf("%s: %s %s: %s: %w", kind, entity, operation, msg, kind)
}
