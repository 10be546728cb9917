// Package sample implements generate-ingestion-sample: it produces
// synthetic client measurement vectors, additively secret-shares each one
// (data vector plus its Prio SIMD verification triple) between the PHA and
// the facilitator, and writes the resulting pair of ingestion batches so
// intake-batch and aggregate have real fixtures to run against.
package sample

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/letsencrypt/prio-facilitator/internal/batch"
	"github.com/letsencrypt/prio-facilitator/internal/envelope"
	"github.com/letsencrypt/prio-facilitator/internal/errs"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
	"github.com/letsencrypt/prio-facilitator/internal/prio"
	"github.com/letsencrypt/prio-facilitator/internal/transport"
)

// Generator produces client contributions for one aggregation's parameters.
type Generator struct {
	Bins            int
	Prime           prio.FieldElement
	Epsilon         float64
	NumberOfServers int32
	HammingWeight   *int32

	PHAPacketEncryptionKey         *prio.PublicKey
	FacilitatorPacketEncryptionKey *prio.PublicKey
}

func (g *Generator) randFieldElement() (prio.FieldElement, error) {
	n, err := rand.Int(rand.Reader, new(big.Int).SetUint64(uint64(g.Prime)))
	if err != nil {
		return 0, fmt.Errorf("%w: random field element: %v", errs.ErrCryptoInit, err)
	}
	return prio.FieldElement(n.Uint64()), nil
}

// clientShares is one generated client's contribution, split between the
// two servers.
type clientShares struct {
	rPit               int64
	pha, facilitator   prio.Share
}

// generateClient builds a one-hot measurement vector with a 1 at binIndex
// and computes a SIMD verification triple for it, then additively splits
// both the data vector and the triple between the PHA and facilitator
// shares.
func (g *Generator) generateClient(binIndex int) (clientShares, error) {
	prime := g.Prime

	rPitBig, err := rand.Int(rand.Reader, new(big.Int).SetUint64(uint64(prime)))
	if err != nil {
		return clientShares{}, fmt.Errorf("%w: random r_pit: %v", errs.ErrCryptoInit, err)
	}
	r := prio.FieldElement(rPitBig.Uint64())

	data := make([]prio.FieldElement, g.Bins)
	data[binIndex] = 1

	// f(r) is the Horner evaluation of the data vector at r; g(r) is a
	// nonzero value derived from r; h(r) = f(r) * g(r). This is not
	// libprio's actual polynomial construction, but it reproduces the
	// same f*g=h SIMD identity shape the aggregator's Server.Aggregate
	// checks, tying the triple to the real data vector so a corrupted
	// share is detectably invalid.
	var f prio.FieldElement
	for i := len(data) - 1; i >= 0; i-- {
		f = prio.AddMod(prio.MulMod(f, r, prime), data[i], prime)
	}
	gVal := r % (prime - 1)
	gVal++
	h := prio.MulMod(f, gVal, prime)

	phaData := make([]prio.FieldElement, g.Bins)
	facilitatorData := make([]prio.FieldElement, g.Bins)
	for i, v := range data {
		share, err := g.randFieldElement()
		if err != nil {
			return clientShares{}, err
		}
		phaData[i] = share
		facilitatorData[i] = prio.SubMod(v, share, prime)
	}

	phaF, err := g.randFieldElement()
	if err != nil {
		return clientShares{}, err
	}
	phaG, err := g.randFieldElement()
	if err != nil {
		return clientShares{}, err
	}
	phaH, err := g.randFieldElement()
	if err != nil {
		return clientShares{}, err
	}

	return clientShares{
		rPit: int64(r),
		pha: prio.Share{
			Data: toUint64(phaData),
			F:    uint64(phaF),
			G:    uint64(phaG),
			H:    uint64(phaH),
		},
		facilitator: prio.Share{
			Data: toUint64(facilitatorData),
			F:    uint64(prio.SubMod(f, phaF, prime)),
			G:    uint64(prio.SubMod(gVal, phaG, prime)),
			H:    uint64(prio.SubMod(h, phaH, prime)),
		},
	}, nil
}

func toUint64(xs []prio.FieldElement) []uint64 {
	out := make([]uint64, len(xs))
	for i, x := range xs {
		out[i] = uint64(x)
	}
	return out
}

// WriteIngestionBatches generates packetCount clients (their bin chosen
// round-robin across the vector's bins) and writes the PHA-bound and
// facilitator-bound ingestion batches for them.
func (g *Generator) WriteIngestionBatches(
	ctx context.Context,
	aggregationName string,
	batchID uuid.UUID,
	batchDate time.Time,
	packetCount int,
	phaTransport, facilitatorTransport transport.Transport,
	signingKey *ecdsa.PrivateKey,
	keyIdentifier string,
) error {
	// Generate every client's shares once up front. Both ingestion batches
	// must present the same UUID at the same index for the same
	// underlying client, or the aggregator's per-row alignment check
	// (§4.4, UuidMisalignment) would reject the batch once a peer
	// validation batch derived from the PHA's ingestion batch is joined
	// against this one.
	type generated struct {
		id     uuid.UUID
		client clientShares
	}
	clients := make([]generated, packetCount)
	for i := range clients {
		client, err := g.generateClient(i % g.Bins)
		if err != nil {
			return err
		}
		clients[i] = generated{id: uuid.New(), client: client}
	}

	locator := batch.NewIngestion(aggregationName, batchID, batchDate)
	phaWriter := envelope.NewBatchWriter(ctx, phaTransport, locator, idl.IngestionDataSharePacketSchema)
	facilitatorWriter := envelope.NewBatchWriter(ctx, facilitatorTransport, locator, idl.IngestionDataSharePacketSchema)

	var phaDigest, facilitatorDigest []byte
	var werr error

	phaDigest, werr = phaWriter.PacketFileWriter(func(sink *envelope.PacketSink) error {
		for _, c := range clients {
			ciphertext, err := prio.Seal(g.PHAPacketEncryptionKey, prio.EncodePayload(c.client.pha))
			if err != nil {
				return err
			}
			packet := idl.IngestionDataSharePacket{UUID: c.id, EncryptedPayload: ciphertext, RPit: c.client.rPit}
			if err := sink.Append(packet.ToNative()); err != nil {
				return err
			}
		}
		return nil
	})
	if werr != nil {
		return werr
	}

	facilitatorDigest, werr = facilitatorWriter.PacketFileWriter(func(sink *envelope.PacketSink) error {
		for _, c := range clients {
			ciphertext, err := prio.Seal(g.FacilitatorPacketEncryptionKey, prio.EncodePayload(c.client.facilitator))
			if err != nil {
				return err
			}
			packet := idl.IngestionDataSharePacket{UUID: c.id, EncryptedPayload: ciphertext, RPit: c.client.rPit}
			if err := sink.Append(packet.ToNative()); err != nil {
				return err
			}
		}
		return nil
	})
	if werr != nil {
		return werr
	}

	now := time.Now()
	header := idl.IngestionHeader{
		BatchUUID:        batchID,
		Name:             aggregationName,
		Bins:             int32(g.Bins),
		Epsilon:          g.Epsilon,
		Prime:            int64(g.Prime),
		NumberOfServers:  g.NumberOfServers,
		HammingWeight:    g.HammingWeight,
		BatchStartTime:   now.UnixMilli(),
		BatchEndTime:     now.UnixMilli(),
		PacketFileDigest: phaDigest,
	}
	sig, err := phaWriter.PutHeader(header.ToNative(), idl.IngestionHeaderSchema, signingKey)
	if err != nil {
		return err
	}
	if err := phaWriter.PutSignature(sig, keyIdentifier); err != nil {
		return err
	}

	header.PacketFileDigest = facilitatorDigest
	sig, err = facilitatorWriter.PutHeader(header.ToNative(), idl.IngestionHeaderSchema, signingKey)
	if err != nil {
		return err
	}
	return facilitatorWriter.PutSignature(sig, keyIdentifier)
}
