package prio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// hkdfInfo binds derived keys to this scheme; it has no cross-version
// meaning and exists only to domain-separate the derivation.
const hkdfInfo = "prio-facilitator packet encryption v1"

const nonceSize = 12

// Seal encrypts plaintext to pub using an ephemeral-static ECDH exchange
// (P-256), an HKDF-SHA256-derived AES-256-GCM key, and a random nonce. The
// output is the raw bytes ephemeralPublicPoint || nonce || ciphertext, as
// stored in IngestionDataSharePacket.EncryptedPayload.
func Seal(pub *PublicKey, plaintext []byte) ([]byte, error) {
	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate ephemeral key: %v", errs.ErrCryptoInit, err)
	}
	shared, err := ephemeral.ECDH(pub.key)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", errs.ErrCryptoInit, err)
	}

	aead, err := newAEAD(shared, ephemeral.PublicKey().Bytes(), pub.key.Bytes())
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", errs.ErrCryptoInit, err)
	}

	ephemeralBytes := ephemeral.PublicKey().Bytes()
	out := make([]byte, 0, len(ephemeralBytes)+nonceSize+len(plaintext)+aead.Overhead())
	out = append(out, ephemeralBytes...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Open reverses Seal. A tampered ciphertext, a key mismatch, or a malformed
// envelope all surface as errs.ErrDecryptionFailed, which callers use to
// drive key-trial fan-out (§4.3/§4.5).
func Open(priv *PrivateKey, envelope []byte) ([]byte, error) {
	pointLen := len(priv.Public().key.Bytes())
	if len(envelope) < pointLen+nonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than ephemeral point + nonce", errs.ErrDecryptionFailed)
	}
	ephemeralBytes := envelope[:pointLen]
	nonce := envelope[pointLen : pointLen+nonceSize]
	ciphertext := envelope[pointLen+nonceSize:]

	ephemeralPub, err := ecdh.P256().NewPublicKey(ephemeralBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ephemeral point: %v", errs.ErrDecryptionFailed, err)
	}
	shared, err := priv.key.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", errs.ErrDecryptionFailed, err)
	}

	aead, err := newAEAD(shared, ephemeralBytes, priv.key.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed: %v", errs.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func newAEAD(shared, ephemeralBytes, staticBytes []byte) (cipher.AEAD, error) {
	salt := append(append([]byte{}, ephemeralBytes...), staticBytes...)
	kdf := hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", errs.ErrCryptoInit, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new aes cipher: %v", errs.ErrCryptoInit, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: new gcm: %v", errs.ErrCryptoInit, err)
	}
	return aead, nil
}
