package prio

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// PrivateKey is a server's packet-decryption key: an ECDH P-256 scalar,
// carried on the wire as standard base64 of the raw scalar bytes.
type PrivateKey struct {
	key *ecdh.PrivateKey
}

// PublicKey is the corresponding ECDH P-256 point.
type PublicKey struct {
	key *ecdh.PublicKey
}

// GenerateKey creates a fresh packet-decryption keypair, used by the sample
// generator and by tests.
func GenerateKey() (*PrivateKey, error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate ecdh key: %v", errs.ErrCryptoInit, err)
	}
	return &PrivateKey{key: key}, nil
}

// ParsePrivateKey decodes a standard-base64-encoded raw P-256 scalar.
func ParsePrivateKey(encoded string) (*PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64 private key: %v", errs.ErrCryptoInit, err)
	}
	key, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse ecdh private key: %v", errs.ErrCryptoInit, err)
	}
	return &PrivateKey{key: key}, nil
}

// Public returns the public half of priv.
func (priv *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: priv.key.PublicKey()}
}

// Marshal returns the base64 encoding used to persist or exchange priv.
func (priv *PrivateKey) Marshal() string {
	return base64.StdEncoding.EncodeToString(priv.key.Bytes())
}

// ParsePublicKey decodes a standard-base64-encoded uncompressed P-256 point.
func ParsePublicKey(encoded string) (*PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64 public key: %v", errs.ErrCryptoInit, err)
	}
	key, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse ecdh public key: %v", errs.ErrCryptoInit, err)
	}
	return &PublicKey{key: key}, nil
}

// Marshal returns the base64 encoding used to persist or exchange pub.
func (pub *PublicKey) Marshal() string {
	return base64.StdEncoding.EncodeToString(pub.key.Bytes())
}
