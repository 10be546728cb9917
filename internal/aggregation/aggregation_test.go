package aggregation

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/letsencrypt/prio-facilitator/internal/batch"
	"github.com/letsencrypt/prio-facilitator/internal/envelope"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
	"github.com/letsencrypt/prio-facilitator/internal/prio"
	"github.com/letsencrypt/prio-facilitator/internal/transport"
)

const testPrime prio.FieldElement = 4293918721

func addMod(a, b prio.FieldElement) prio.FieldElement {
	s := a + b
	if s >= testPrime {
		s -= testPrime
	}
	return s
}

func subMod(a, b prio.FieldElement) prio.FieldElement {
	if a >= b {
		return a - b
	}
	return testPrime - (b - a)
}

func mulMod(a, b prio.FieldElement) prio.FieldElement {
	return prio.FieldElement(uint128.From64(uint64(a)).Mul64(uint64(b)).Mod64(uint64(testPrime)))
}

func randField(t *testing.T) prio.FieldElement {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(uint64(testPrime)))
	require.NoError(t, err)
	return prio.FieldElement(n.Uint64())
}

// fixture is one test client's one-hot measurement vector, additively split
// between "own" (this server) and "peer" (the other server).
type fixture struct {
	id        uuid.UUID
	data      []prio.FieldElement
	ownF, ownG, ownH   prio.FieldElement
	peerF, peerG, peerH prio.FieldElement
}

func buildFixture(t *testing.T, bins, binIndex int) fixture {
	t.Helper()
	data := make([]prio.FieldElement, bins)
	data[binIndex] = 1

	f := randField(t)
	g := randField(t)
	h := mulMod(f, g)

	ownF := randField(t)
	ownG := randField(t)
	ownH := randField(t)

	return fixture{
		id:    uuid.New(),
		data:  data,
		ownF:  ownF,
		ownG:  ownG,
		ownH:  ownH,
		peerF: subMod(f, ownF),
		peerG: subMod(g, ownG),
		peerH: subMod(h, ownH),
	}
}

func writeIngestionBatch(t *testing.T, tr transport.Transport, locator batch.Locator, signingKey *ecdsa.PrivateKey, keyID string, decryptionKey *prio.PrivateKey, bins int, fixtures []fixture) {
	t.Helper()
	ctx := context.Background()
	writer := envelope.NewBatchWriter(ctx, tr, locator, idl.IngestionDataSharePacketSchema)

	digest, err := writer.PacketFileWriter(func(sink *envelope.PacketSink) error {
		for _, f := range fixtures {
			share := prio.Share{Data: toUint64(f.data), F: uint64(f.ownF), G: uint64(f.ownG), H: uint64(f.ownH)}
			ciphertext, err := prio.Seal(decryptionKey.Public(), prio.EncodePayload(share))
			if err != nil {
				return err
			}
			packet := idl.IngestionDataSharePacket{UUID: f.id, EncryptedPayload: ciphertext, RPit: 1}
			if err := sink.Append(packet.ToNative()); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	header := idl.IngestionHeader{
		BatchUUID:        locator.BatchID,
		Name:             "test-aggregation",
		Bins:             int32(bins),
		Prime:            int64(testPrime),
		NumberOfServers:  2,
		PacketFileDigest: digest,
	}
	sig, err := writer.PutHeader(header.ToNative(), idl.IngestionHeaderSchema, signingKey)
	require.NoError(t, err)
	require.NoError(t, writer.PutSignature(sig, keyID))
}

func writeValidationBatch(t *testing.T, tr transport.Transport, locator batch.Locator, signingKey *ecdsa.PrivateKey, keyID string, bins int, fixtures []fixture, own bool, corruptIndex int) {
	t.Helper()
	ctx := context.Background()
	writer := envelope.NewBatchWriter(ctx, tr, locator, idl.ValidationPacketSchema)

	digest, err := writer.PacketFileWriter(func(sink *envelope.PacketSink) error {
		for i, f := range fixtures {
			fr, gr, hr := f.peerF, f.peerG, f.peerH
			if own {
				fr, gr, hr = f.ownF, f.ownG, f.ownH
			}
			if i == corruptIndex {
				fr = addMod(fr, 1)
			}
			packet := idl.ValidationPacket{UUID: f.id, FR: int64(fr), GR: int64(gr), HR: int64(hr)}
			if err := sink.Append(packet.ToNative()); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	header := idl.ValidationHeader{
		BatchUUID:        locator.BatchID,
		Name:             "test-aggregation",
		Bins:             int32(bins),
		Prime:            int64(testPrime),
		NumberOfServers:  2,
		PacketFileDigest: digest,
	}
	sig, err := writer.PutHeader(header.ToNative(), idl.ValidationHeaderSchema, signingKey)
	require.NoError(t, err)
	require.NoError(t, writer.PutSignature(sig, keyID))
}

func toUint64(xs []prio.FieldElement) []uint64 {
	out := make([]uint64, len(xs))
	for i, x := range xs {
		out[i] = uint64(x)
	}
	return out
}

// TestGenerateSumPartConcreteScenario reproduces the bins=3 scenario: three
// valid one-hot contributions plus one whose peer validation share was
// tampered with, expecting sum=[1,1,1] and the tampered UUID rejected.
func TestGenerateSumPartConcreteScenario(t *testing.T) {
	ctx := context.Background()
	const bins = 3

	ingestionTransport := transport.NewLocalTransport(t.TempDir())
	ownTransport := transport.NewLocalTransport(t.TempDir())
	peerTransport := transport.NewLocalTransport(t.TempDir())
	outputTransport := transport.NewLocalTransport(t.TempDir())

	ingestionKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ownKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	peerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	outputKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	decryptionKey, err := prio.GenerateKey()
	require.NoError(t, err)

	batchID := uuid.New()
	batchDate := time.Now()
	ingestionLocator := batch.NewIngestion("test-aggregation", batchID, batchDate)
	ownLocator := batch.NewValidation("test-aggregation", batchID, batchDate, true)
	peerLocator := batch.NewValidation("test-aggregation", batchID, batchDate, false)

	fixtures := []fixture{
		buildFixture(t, bins, 0),
		buildFixture(t, bins, 1),
		buildFixture(t, bins, 2),
		buildFixture(t, bins, 0),
	}
	const corruptIndex = 3

	writeIngestionBatch(t, ingestionTransport, ingestionLocator, ingestionKey, "ingestion-key", decryptionKey, bins, fixtures)
	writeValidationBatch(t, ownTransport, ownLocator, ownKey, "own-key", bins, fixtures, true, -1)
	writeValidationBatch(t, peerTransport, peerLocator, peerKey, "peer-key", bins, fixtures, false, corruptIndex)

	aggregator := &Aggregator{
		IngestionTransport:      ingestionTransport,
		IngestionPubKeys:        map[string]*ecdsa.PublicKey{"ingestion-key": &ingestionKey.PublicKey},
		OwnValidationTransport:  ownTransport,
		OwnValidationPubKeys:    map[string]*ecdsa.PublicKey{"own-key": &ownKey.PublicKey},
		PeerValidationTransport: peerTransport,
		PeerValidationPubKeys:   map[string]*ecdsa.PublicKey{"peer-key": &peerKey.PublicKey},
		OutputTransport:         outputTransport,
		SigningKey:              outputKey,
		KeyIdentifier:           "default-batch-signing-key-id",
		IsFirst:                 true,
		DecryptionKeys:          []*prio.PrivateKey{decryptionKey},
	}

	start := batchDate.Add(-time.Minute)
	end := batchDate.Add(time.Minute)
	sumPart, err := aggregator.GenerateSumPart(ctx, "test-aggregation", start, end, []BatchRef{{BatchID: batchID, BatchDate: batchDate}})
	require.NoError(t, err)

	require.Equal(t, []int64{1, 1, 1}, sumPart.Sum)
	require.Equal(t, int64(3), sumPart.TotalIndividualClients)
	require.Equal(t, []uuid.UUID{batchID}, sumPart.BatchUUIDs)

	sumLocator := batch.NewSum("test-aggregation", start, end)
	reader := envelope.NewBatchReader(ctx, outputTransport, sumLocator, idl.SumPartSchema, idl.InvalidPacketSchema)
	_, err = reader.Header(map[string]*ecdsa.PublicKey{"default-batch-signing-key-id": &outputKey.PublicKey})
	require.NoError(t, err)

	packets, err := reader.PacketFileReader(sumPart.PacketFileDigest)
	require.NoError(t, err)
	defer packets.Close()

	var invalid []uuid.UUID
	for {
		native, ok, err := packets.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		id, err := uuid.Parse(native["uuid"].(string))
		require.NoError(t, err)
		invalid = append(invalid, id)
	}
	require.Equal(t, []uuid.UUID{fixtures[corruptIndex].id}, invalid)
}

func TestGenerateSumPartRejectsEmptyBatchList(t *testing.T) {
	aggregator := &Aggregator{}
	_, err := aggregator.GenerateSumPart(context.Background(), "test-aggregation", time.Now(), time.Now(), nil)
	require.Error(t, err)
}

// fakeLedger reports a fixed set of batch IDs as already seen, letting a
// test exercise the ledger-skip path deterministically.
type fakeLedger struct {
	alreadySeen map[string]bool
	recorded    []string
}

func (f *fakeLedger) Seen(_ context.Context, _, batchID string) (bool, error) {
	return f.alreadySeen[batchID], nil
}

func (f *fakeLedger) Record(_ context.Context, _, batchID string) error {
	f.recorded = append(f.recorded, batchID)
	return nil
}

// TestGenerateSumPartExcludesLedgerSkippedBatches verifies that a batch the
// ledger already reports as seen contributes neither to sum nor to
// BatchUUIDs, so a sealed sum part never names a batch whose shares it did
// not actually include.
func TestGenerateSumPartExcludesLedgerSkippedBatches(t *testing.T) {
	ctx := context.Background()
	const bins = 2

	ingestionKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ownKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	peerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	outputKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	decryptionKey, err := prio.GenerateKey()
	require.NoError(t, err)

	ingestionTransport := transport.NewLocalTransport(t.TempDir())
	ownTransport := transport.NewLocalTransport(t.TempDir())
	peerTransport := transport.NewLocalTransport(t.TempDir())
	outputTransport := transport.NewLocalTransport(t.TempDir())

	skippedID := uuid.New()
	includedID := uuid.New()
	batchDate := time.Now()

	for _, id := range []uuid.UUID{skippedID, includedID} {
		ingestionLocator := batch.NewIngestion("test-aggregation", id, batchDate)
		ownLocator := batch.NewValidation("test-aggregation", id, batchDate, true)
		peerLocator := batch.NewValidation("test-aggregation", id, batchDate, false)
		fixtures := []fixture{buildFixture(t, bins, 0)}
		fixtures[0].id = id

		writeIngestionBatch(t, ingestionTransport, ingestionLocator, ingestionKey, "ingestion-key", decryptionKey, bins, fixtures)
		writeValidationBatch(t, ownTransport, ownLocator, ownKey, "own-key", bins, fixtures, true, -1)
		writeValidationBatch(t, peerTransport, peerLocator, peerKey, "peer-key", bins, fixtures, false, -1)
	}

	fake := &fakeLedger{alreadySeen: map[string]bool{skippedID.String(): true}}
	aggregator := &Aggregator{
		IngestionTransport:      ingestionTransport,
		IngestionPubKeys:        map[string]*ecdsa.PublicKey{"ingestion-key": &ingestionKey.PublicKey},
		OwnValidationTransport:  ownTransport,
		OwnValidationPubKeys:    map[string]*ecdsa.PublicKey{"own-key": &ownKey.PublicKey},
		PeerValidationTransport: peerTransport,
		PeerValidationPubKeys:   map[string]*ecdsa.PublicKey{"peer-key": &peerKey.PublicKey},
		OutputTransport:         outputTransport,
		SigningKey:              outputKey,
		KeyIdentifier:           "default-batch-signing-key-id",
		IsFirst:                 true,
		DecryptionKeys:          []*prio.PrivateKey{decryptionKey},
		Ledger:                  fake,
	}

	start := batchDate.Add(-time.Minute)
	end := batchDate.Add(time.Minute)
	sumPart, err := aggregator.GenerateSumPart(ctx, "test-aggregation", start, end, []BatchRef{
		{BatchID: skippedID, BatchDate: batchDate},
		{BatchID: includedID, BatchDate: batchDate},
	})
	require.NoError(t, err)

	require.Equal(t, []uuid.UUID{includedID}, sumPart.BatchUUIDs)
	require.Equal(t, []string{includedID.String()}, fake.recorded)
	require.Equal(t, []int64{1, 0}, sumPart.Sum)
}
