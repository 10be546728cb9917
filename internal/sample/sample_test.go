package sample

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/letsencrypt/prio-facilitator/internal/batch"
	"github.com/letsencrypt/prio-facilitator/internal/envelope"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
	"github.com/letsencrypt/prio-facilitator/internal/prio"
	"github.com/letsencrypt/prio-facilitator/internal/transport"
)

func TestWriteIngestionBatchesProducesAlignedShares(t *testing.T) {
	ctx := context.Background()
	phaTransport := transport.NewLocalTransport(t.TempDir())
	facilitatorTransport := transport.NewLocalTransport(t.TempDir())

	phaKey, err := prio.GenerateKey()
	require.NoError(t, err)
	facilitatorKey, err := prio.GenerateKey()
	require.NoError(t, err)
	signingKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	g := &Generator{
		Bins:                           3,
		Prime:                          4293918721,
		Epsilon:                        0.25,
		NumberOfServers:                2,
		PHAPacketEncryptionKey:         phaKey.Public(),
		FacilitatorPacketEncryptionKey: facilitatorKey.Public(),
	}

	batchID := uuid.New()
	batchDate := time.Now()
	err = g.WriteIngestionBatches(ctx, "test-aggregation", batchID, batchDate, 3, phaTransport, facilitatorTransport, signingKey, "key-1")
	require.NoError(t, err)

	locator := batch.NewIngestion("test-aggregation", batchID, batchDate)
	pubKeys := map[string]*ecdsa.PublicKey{"key-1": &signingKey.PublicKey}

	phaReader := envelope.NewBatchReader(ctx, phaTransport, locator, idl.IngestionHeaderSchema, idl.IngestionDataSharePacketSchema)
	phaHeaderNative, err := phaReader.Header(pubKeys)
	require.NoError(t, err)
	phaHeader, err := idl.IngestionHeaderFromNative(phaHeaderNative)
	require.NoError(t, err)

	facilitatorReader := envelope.NewBatchReader(ctx, facilitatorTransport, locator, idl.IngestionHeaderSchema, idl.IngestionDataSharePacketSchema)
	facilitatorHeaderNative, err := facilitatorReader.Header(pubKeys)
	require.NoError(t, err)
	facilitatorHeader, err := idl.IngestionHeaderFromNative(facilitatorHeaderNative)
	require.NoError(t, err)

	require.Equal(t, phaHeader.BatchUUID, facilitatorHeader.BatchUUID)
	require.NotEqual(t, phaHeader.PacketFileDigest, facilitatorHeader.PacketFileDigest)

	phaPackets, err := phaReader.PacketFileReader(phaHeader.PacketFileDigest)
	require.NoError(t, err)
	defer phaPackets.Close()
	facilitatorPackets, err := facilitatorReader.PacketFileReader(facilitatorHeader.PacketFileDigest)
	require.NoError(t, err)
	defer facilitatorPackets.Close()

	var phaUUIDs, facilitatorUUIDs []uuid.UUID
	for {
		phaNative, phaOk, err := phaPackets.Next()
		require.NoError(t, err)
		facilitatorNative, facilitatorOk, err := facilitatorPackets.Next()
		require.NoError(t, err)
		require.Equal(t, phaOk, facilitatorOk)
		if !phaOk {
			break
		}

		phaPacket, err := idl.IngestionDataSharePacketFromNative(phaNative)
		require.NoError(t, err)
		facilitatorPacket, err := idl.IngestionDataSharePacketFromNative(facilitatorNative)
		require.NoError(t, err)
		require.Equal(t, phaPacket.UUID, facilitatorPacket.UUID)

		phaPlaintext, err := prio.Open(phaKey, phaPacket.EncryptedPayload)
		require.NoError(t, err)
		phaShare, err := prio.DecodePayload(phaPlaintext)
		require.NoError(t, err)

		facilitatorPlaintext, err := prio.Open(facilitatorKey, facilitatorPacket.EncryptedPayload)
		require.NoError(t, err)
		facilitatorShare, err := prio.DecodePayload(facilitatorPlaintext)
		require.NoError(t, err)

		require.Len(t, phaShare.Data, 3)
		require.Len(t, facilitatorShare.Data, 3)

		phaUUIDs = append(phaUUIDs, phaPacket.UUID)
		facilitatorUUIDs = append(facilitatorUUIDs, facilitatorPacket.UUID)
	}
	require.Equal(t, phaUUIDs, facilitatorUUIDs)
	require.Len(t, phaUUIDs, 3)
}
