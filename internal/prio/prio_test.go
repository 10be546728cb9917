package prio

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
)

const testPrime FieldElement = 4293918721 // a 32-bit NTT-friendly prime, as libprio uses

func TestSealOpenRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	share := Share{Data: []uint64{1, 2, 3}, F: 7, G: 11, H: 77}
	ciphertext, err := Seal(priv.Public(), EncodePayload(share))
	require.NoError(t, err)

	plaintext, err := Open(priv, ciphertext)
	require.NoError(t, err)

	got, err := DecodePayload(plaintext)
	require.NoError(t, err)
	require.Equal(t, share, got)
}

func TestOpenWrongKeyFails(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, err := Seal(priv.Public(), EncodePayload(Share{Data: []uint64{1}, F: 1, G: 1, H: 1}))
	require.NoError(t, err)

	_, err = Open(other, ciphertext)
	require.ErrorIs(t, err, errs.ErrDecryptionFailed)
}

func TestServerAggregateValidShare(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	srv := NewServer(2, priv, testPrime)

	// Client picks f, g with f*g = h mod p, and splits each additively
	// between the two servers.
	f := FieldElement(5)
	g := FieldElement(9)
	h := MulMod(f, g, testPrime)

	ownF, peerF := FieldElement(2), SubMod(f, 2, testPrime)
	ownG, peerG := FieldElement(4), SubMod(g, 4, testPrime)
	ownH, peerH := FieldElement(10), SubMod(h, 10, testPrime)

	share := Share{Data: []uint64{3, 4}, F: ownF, G: ownG, H: ownH}
	ciphertext, err := Seal(priv.Public(), EncodePayload(share))
	require.NoError(t, err)

	own := idl.ValidationPacket{FR: int64(ownF), GR: int64(ownG), HR: int64(ownH)}
	peer := idl.ValidationPacket{FR: int64(peerF), GR: int64(peerG), HR: int64(peerH)}

	valid, err := srv.Aggregate(ciphertext, peer, own)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, []FieldElement{3, 4}, srv.TotalShares())
}

func TestServerAggregateInvalidShareExcluded(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	srv := NewServer(1, priv, testPrime)

	share := Share{Data: []uint64{9}, F: 1, G: 1, H: 1}
	ciphertext, err := Seal(priv.Public(), EncodePayload(share))
	require.NoError(t, err)

	// Combined triple is f=1, g=1, h=2, and 1*1 != 2.
	own := idl.ValidationPacket{FR: 1, GR: 1, HR: 1}
	peer := idl.ValidationPacket{FR: 0, GR: 0, HR: 1}

	valid, err := srv.Aggregate(ciphertext, peer, own)
	require.NoError(t, err)
	require.False(t, valid)
	require.Equal(t, []FieldElement{0}, srv.TotalShares())
}

func TestMergeTotalShares(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	a := NewServer(2, priv, testPrime)
	b := NewServer(2, priv, testPrime)
	a.total = []FieldElement{1, 2}
	b.total = []FieldElement{3, 4}

	require.NoError(t, a.MergeTotalShares(b))
	require.Equal(t, []FieldElement{4, 6}, a.TotalShares())
}

func TestMergeTotalSharesBinMismatch(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	a := NewServer(2, priv, testPrime)
	b := NewServer(3, priv, testPrime)

	err = a.MergeTotalShares(b)
	require.Error(t, err)
}
