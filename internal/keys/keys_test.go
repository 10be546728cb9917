package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func pemEncodePrivate(t *testing.T, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func pemEncodePublic(t *testing.T, key *ecdsa.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestParseBatchSigningPrivateKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	parsed, err := ParseBatchSigningPrivateKey("key-1", pemEncodePrivate(t, key))
	require.NoError(t, err)
	require.Equal(t, "key-1", parsed.Identifier)
	require.True(t, key.Equal(parsed.Key))
}

func TestParseBatchSigningPrivateKeyRejectsGarbage(t *testing.T) {
	_, err := ParseBatchSigningPrivateKey("key-1", []byte("not pem"))
	require.Error(t, err)
}

func TestParseBatchSigningPublicKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	parsed, err := ParseBatchSigningPublicKey(pemEncodePublic(t, &key.PublicKey))
	require.NoError(t, err)
	require.True(t, key.PublicKey.Equal(parsed))
}

func TestParseBatchSigningPublicKeyRejectsGarbage(t *testing.T) {
	_, err := ParseBatchSigningPublicKey([]byte("not pem"))
	require.Error(t, err)
}

func TestNewRegistry(t *testing.T) {
	signing := BatchSigningKey{Identifier: "key-1"}
	trusted := map[string]*ecdsa.PublicKey{}
	r := NewRegistry(signing, trusted, nil)
	require.Equal(t, "key-1", r.Signing.Identifier)
	require.NotNil(t, r.TrustedSigningKeys)
}
