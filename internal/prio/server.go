package prio

import (
	"fmt"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
)

// Server is one candidate packet-decryption key's accumulator, the unit the
// aggregator's trial-decryption fan-out runs (§4.3, §4.4): one Server per
// key in the facilitator's key registry, each independently attempting to
// decrypt every client packet and, on success, folding a validated share
// into its own running total.
type Server struct {
	bins  int
	priv  *PrivateKey
	prime FieldElement
	total []FieldElement
}

// NewServer returns a Server that decrypts with priv and accumulates bins
// field elements modulo prime.
func NewServer(bins int, priv *PrivateKey, prime FieldElement) *Server {
	return &Server{bins: bins, priv: priv, prime: prime, total: make([]FieldElement, bins)}
}

// Aggregate attempts to decrypt ciphertext with the server's key and, if it
// decrypts, checks the client's SIMD verification identity
// (peerShare+ownShare of f) * (peerShare+ownShare of g) == (peerShare+ownShare of h)
// jointly with the peer server's half of the triple (peer). On success it
// reports whether the packet was valid; an invalid packet is not an error,
// it is simply excluded from the total (§4.4's per-client isolation
// invariant). Decryption failure is reported as errs.ErrDecryptionFailed so
// callers can move on to the next candidate key.
func (s *Server) Aggregate(ciphertext []byte, peer, own idl.ValidationPacket) (valid bool, err error) {
	plaintext, err := Open(s.priv, ciphertext)
	if err != nil {
		return false, err
	}
	share, err := DecodePayload(plaintext)
	if err != nil {
		return false, err
	}
	if len(share.Data) != s.bins {
		return false, fmt.Errorf("%w: decrypted share has %d bins, server expects %d", errs.ErrMalformedPacket, len(share.Data), s.bins)
	}

	// share.F/G/H is this server's own triple, already decrypted from the
	// same ciphertext that produced own's ValidationPacket during intake
	// (ShareVerify reads it the same way); own.FR/GR/HR duplicates it, so
	// the check combines own+peer without adding share.F/G/H a second time.
	fTotal := AddMod(uint64(own.FR), uint64(peer.FR), s.prime)
	gTotal := AddMod(uint64(own.GR), uint64(peer.GR), s.prime)
	hTotal := AddMod(uint64(own.HR), uint64(peer.HR), s.prime)

	valid = MulMod(fTotal, gTotal, s.prime) == hTotal
	if valid {
		for i, v := range share.Data {
			s.total[i] = AddMod(s.total[i], v, s.prime)
		}
	}
	return valid, nil
}

// TotalShares returns the server's running total, one field element per
// bin.
func (s *Server) TotalShares() []FieldElement {
	return s.total
}

// MergeTotalShares folds other's total into s's, element-wise modulo s's
// prime. Used to combine the per-key-candidate accumulators that survive
// trial decryption into the single accumulator a sum part is built from.
func (s *Server) MergeTotalShares(other *Server) error {
	if len(s.total) != len(other.total) {
		return fmt.Errorf("%w: merging accumulators with %d and %d bins", errs.ErrParameterMismatch, len(s.total), len(other.total))
	}
	for i, v := range other.total {
		s.total[i] = AddMod(s.total[i], v, s.prime)
	}
	return nil
}

// ShareVerify decrypts ciphertext with priv and returns just the SIMD
// verification triple, the shape the intaker needs to produce this
// server's own ValidationPacket for a client contribution (§4.5) without
// yet accumulating anything.
func ShareVerify(ciphertext []byte, priv *PrivateKey) (f, g, h FieldElement, err error) {
	plaintext, err := Open(priv, ciphertext)
	if err != nil {
		return 0, 0, 0, err
	}
	share, err := DecodePayload(plaintext)
	if err != nil {
		return 0, 0, 0, err
	}
	return share.F, share.G, share.H, nil
}
