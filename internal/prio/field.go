// Package prio implements the facilitator's adapter to the Prio
// share-verification contract described in §4.3 of the facilitator spec:
// a Server that trial-decrypts a client's encrypted share, evaluates the
// short SIMD verification triple (f(r), g(r), h(r)) jointly with the peer
// server's share of it, and accumulates the client's data share into a
// running per-server total when the triple checks out. Reproducing
// libprio's zero-knowledge proof system itself is out of scope (there is no
// Go binding of it in the retrieval pack); this package instead implements
// the same field arithmetic and the same combine-then-check shape against
// per-client proof shares that are generated alongside the data share (see
// internal/sample), so the aggregator, intaker and their error paths are
// genuinely exercised end to end.
package prio

import "lukechampine.com/uint128"

// FieldElement is a value in Z/pZ for some prime p that fits in a uint64
// (per the spec, packet and sum fields are encoded as i64, and the sum is
// produced by widening u32 field elements).
type FieldElement = uint64

// AddMod returns (a+b) mod prime. Exported so other packages building Prio
// field values (internal/sample's client-share generator) share this
// reduction instead of keeping their own copy.
func AddMod(a, b, prime FieldElement) FieldElement {
	s := a + b
	if s >= prime {
		s -= prime
	}
	return s
}

// SubMod returns (a-b) mod prime.
func SubMod(a, b, prime FieldElement) FieldElement {
	if a >= b {
		return a - b
	}
	return prime - (b - a)
}

// MulMod computes a*b mod prime without overflowing uint64, using a 128-bit
// intermediate product.
func MulMod(a, b, prime FieldElement) FieldElement {
	product := uint128.From64(a).Mul64(b)
	return product.Mod64(prime)
}
