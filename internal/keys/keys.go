// Package keys manages the facilitator's batch signing and packet
// decryption key material: parsing PEM-armored keys from CLI/config,
// building the public-key registries the envelope package verifies
// signatures against, and an optional Secret Manager-backed source for
// deployments that keep private key material out of CLI args.
package keys

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
	"github.com/letsencrypt/prio-facilitator/internal/prio"
)

// BatchSigningKey ties a signing private key to the identifier peers use to
// look up its public half in a manifest's batch-signing-public-keys map.
type BatchSigningKey struct {
	Identifier string
	Key        *ecdsa.PrivateKey
}

// ParseBatchSigningPrivateKey decodes a PKCS8 ECDSA private key, given either
// PEM-armored or as standard base64 of the DER bytes.
func ParseBatchSigningPrivateKey(identifier string, pemBytes []byte) (BatchSigningKey, error) {
	var der []byte
	if block, _ := pem.Decode(pemBytes); block != nil {
		der = block.Bytes
	} else if raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(pemBytes))); err == nil {
		der = raw
	} else {
		return BatchSigningKey{}, fmt.Errorf("%w: batch signing key %q is neither PEM nor base64", errs.ErrCryptoInit, identifier)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return BatchSigningKey{}, fmt.Errorf("%w: parse pkcs8 batch signing key %q: %v", errs.ErrCryptoInit, identifier, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return BatchSigningKey{}, fmt.Errorf("%w: batch signing key %q is not ECDSA", errs.ErrCryptoInit, identifier)
	}
	return BatchSigningKey{Identifier: identifier, Key: key}, nil
}

// ParseBatchSigningPublicKey decodes a PEM-armored PKIX ECDSA public key, as
// found in a fetched manifest's BatchSigningPublicKey.PublicKey field.
func ParseBatchSigningPublicKey(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in batch signing public key", errs.ErrCryptoInit)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parse pkix batch signing public key: %v", errs.ErrCryptoInit, err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: batch signing public key is not ECDSA", errs.ErrCryptoInit)
	}
	return key, nil
}

// Registry holds the key material one facilitator process needs: its own
// batch signing key, the public keys it trusts for verifying peers'
// headers, and the packet decryption keys the aggregator trial-decrypts
// with.
type Registry struct {
	Signing             BatchSigningKey
	TrustedSigningKeys   map[string]*ecdsa.PublicKey
	PacketDecryptionKeys []*prio.PrivateKey
}

// NewRegistry builds a Registry directly from parsed key material, as
// assembled by the CLI from flags or manifests.
func NewRegistry(signing BatchSigningKey, trusted map[string]*ecdsa.PublicKey, decryption []*prio.PrivateKey) *Registry {
	return &Registry{Signing: signing, TrustedSigningKeys: trusted, PacketDecryptionKeys: decryption}
}
