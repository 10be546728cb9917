// Package aggregation implements the aggregator (§4.4), the hard part of
// the facilitator core: it streams three aligned batches in lock-step,
// validates each client's contribution via the Prio server pool, and emits
// a signed sum-part batch.
package aggregation

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/google/uuid"

	"github.com/letsencrypt/prio-facilitator/internal/batch"
	"github.com/letsencrypt/prio-facilitator/internal/envelope"
	"github.com/letsencrypt/prio-facilitator/internal/errs"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
	"github.com/letsencrypt/prio-facilitator/internal/ledger"
	"github.com/letsencrypt/prio-facilitator/internal/notify"
	"github.com/letsencrypt/prio-facilitator/internal/prio"
	"github.com/letsencrypt/prio-facilitator/internal/transport"
)

// BatchRef names one input batch by id and date, the unit generate_sum_part
// iterates over.
type BatchRef struct {
	BatchID   uuid.UUID
	BatchDate time.Time
}

// Aggregator holds the three input transports/key-maps, the output
// transport/signing key, the candidate decryption keys, and the optional
// ambient ledger/notifier.
type Aggregator struct {
	IngestionTransport      transport.Transport
	IngestionPubKeys        map[string]*ecdsa.PublicKey
	OwnValidationTransport  transport.Transport
	OwnValidationPubKeys    map[string]*ecdsa.PublicKey
	PeerValidationTransport transport.Transport
	PeerValidationPubKeys   map[string]*ecdsa.PublicKey

	OutputTransport transport.Transport
	SigningKey      *ecdsa.PrivateKey
	KeyIdentifier   string
	IsFirst         bool

	DecryptionKeys []*prio.PrivateKey

	Ledger   ledger.Ledger
	Notifier notify.Notifier
}

func (a *Aggregator) ledger() ledger.Ledger {
	if a.Ledger != nil {
		return a.Ledger
	}
	return ledger.Noop{}
}

func (a *Aggregator) notifier() notify.Notifier {
	if a.Notifier != nil {
		return a.Notifier
	}
	return notify.Noop{}
}

// GenerateSumPart reads every batch in batches, validates and accumulates
// their contributions, and writes a signed sum-part batch spanning
// [aggregationStart, aggregationEnd]. No output is published if any step
// fails.
func (a *Aggregator) GenerateSumPart(ctx context.Context, aggregationName string, aggregationStart, aggregationEnd time.Time, batches []BatchRef) (idl.SumPart, error) {
	if len(batches) == 0 {
		return idl.SumPart{}, errs.New(errs.ErrParameterMismatch, "aggregation", "generate sum part", "no input batches")
	}

	firstLocator := batch.NewIngestion(aggregationName, batches[0].BatchID, batches[0].BatchDate)
	firstReader := envelope.NewBatchReader(ctx, a.IngestionTransport, firstLocator, idl.IngestionHeaderSchema, idl.IngestionDataSharePacketSchema)
	firstHeaderNative, err := firstReader.Header(a.IngestionPubKeys)
	if err != nil {
		return idl.SumPart{}, err
	}
	firstHeader, err := idl.IngestionHeaderFromNative(firstHeaderNative)
	if err != nil {
		return idl.SumPart{}, errs.Wrap(errs.ErrMalformedHeader, "ingestion header", "convert", err)
	}

	prime := prio.FieldElement(firstHeader.Prime)
	servers := make([]*prio.Server, len(a.DecryptionKeys))
	for i, key := range a.DecryptionKeys {
		servers[i] = prio.NewServer(int(firstHeader.Bins), key, prime)
	}

	sumLocator := batch.NewSum(aggregationName, aggregationStart, aggregationEnd)
	writer := envelope.NewBatchWriter(ctx, a.OutputTransport, sumLocator, idl.InvalidPacketSchema)

	var invalidUUIDs []uuid.UUID
	var includedBatches []BatchRef
	digest, err := writer.PacketFileWriter(func(sink *envelope.PacketSink) error {
		for _, ref := range batches {
			seen, err := a.ledger().Seen(ctx, aggregationName, ref.BatchID.String())
			if err != nil {
				return err
			}
			if seen {
				continue
			}
			if err := a.aggregateShare(ctx, aggregationName, ref, servers, &invalidUUIDs); err != nil {
				return err
			}
			includedBatches = append(includedBatches, ref)
		}
		if len(includedBatches) == 0 {
			return errs.New(errs.ErrParameterMismatch, "aggregation", "generate sum part", "every input batch was already recorded in the ledger")
		}
		for _, id := range invalidUUIDs {
			if err := sink.Append(idl.InvalidPacket{UUID: id}.ToNative()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return idl.SumPart{}, err
	}

	accumulator := prio.NewServer(int(firstHeader.Bins), a.DecryptionKeys[0], prime)
	for _, s := range servers {
		if err := accumulator.MergeTotalShares(s); err != nil {
			return idl.SumPart{}, err
		}
	}
	totals := accumulator.TotalShares()
	sum := make([]int64, len(totals))
	for i, v := range totals {
		sum[i] = int64(uint32(v))
	}

	batchUUIDs := make([]uuid.UUID, len(includedBatches))
	for i, ref := range includedBatches {
		batchUUIDs[i] = ref.BatchID
	}

	sumPart := idl.SumPart{
		BatchUUIDs:             batchUUIDs,
		Name:                   firstHeader.Name,
		Bins:                   firstHeader.Bins,
		Epsilon:                firstHeader.Epsilon,
		Prime:                  firstHeader.Prime,
		NumberOfServers:        firstHeader.NumberOfServers,
		HammingWeight:          firstHeader.HammingWeight,
		Sum:                    sum,
		AggregationStartTime:   aggregationStart.UTC().UnixMilli(),
		AggregationEndTime:     aggregationEnd.UTC().UnixMilli(),
		PacketFileDigest:       digest,
		TotalIndividualClients: int64(len(totals)),
	}

	sig, err := writer.PutHeader(sumPart.ToNative(), idl.SumPartSchema, a.SigningKey)
	if err != nil {
		return idl.SumPart{}, err
	}
	if err := writer.PutSignature(sig, a.KeyIdentifier); err != nil {
		return idl.SumPart{}, err
	}

	for _, ref := range includedBatches {
		if err := a.ledger().Record(ctx, aggregationName, ref.BatchID.String()); err != nil {
			return idl.SumPart{}, err
		}
	}

	completionUUIDs := make([]string, len(batchUUIDs))
	for i, id := range batchUUIDs {
		completionUUIDs[i] = id.String()
	}
	if err := a.notifier().Notify(ctx, notify.Completion{
		AggregationName:        aggregationName,
		BatchUUIDs:             completionUUIDs,
		TotalIndividualClients: sumPart.TotalIndividualClients,
	}); err != nil {
		return idl.SumPart{}, err
	}

	return sumPart, nil
}

// aggregateShare validates and accumulates every packet triple belonging to
// one input batch, appending rejected UUIDs to invalidUUIDs.
func (a *Aggregator) aggregateShare(ctx context.Context, aggregationName string, ref BatchRef, servers []*prio.Server, invalidUUIDs *[]uuid.UUID) error {
	ingestionLocator := batch.NewIngestion(aggregationName, ref.BatchID, ref.BatchDate)
	ownLocator := batch.NewValidation(aggregationName, ref.BatchID, ref.BatchDate, a.IsFirst)
	peerLocator := batch.NewValidation(aggregationName, ref.BatchID, ref.BatchDate, !a.IsFirst)

	ingestionReader := envelope.NewBatchReader(ctx, a.IngestionTransport, ingestionLocator, idl.IngestionHeaderSchema, idl.IngestionDataSharePacketSchema)
	ownReader := envelope.NewBatchReader(ctx, a.OwnValidationTransport, ownLocator, idl.ValidationHeaderSchema, idl.ValidationPacketSchema)
	peerReader := envelope.NewBatchReader(ctx, a.PeerValidationTransport, peerLocator, idl.ValidationHeaderSchema, idl.ValidationPacketSchema)

	ingestionHeaderNative, err := ingestionReader.Header(a.IngestionPubKeys)
	if err != nil {
		return err
	}
	ingestionHeader, err := idl.IngestionHeaderFromNative(ingestionHeaderNative)
	if err != nil {
		return errs.Wrap(errs.ErrMalformedHeader, "ingestion header", "convert", err)
	}

	ownHeaderNative, err := ownReader.Header(a.OwnValidationPubKeys)
	if err != nil {
		return err
	}
	ownHeader, err := idl.ValidationHeaderFromNative(ownHeaderNative)
	if err != nil {
		return errs.Wrap(errs.ErrMalformedHeader, "own validation header", "convert", err)
	}

	peerHeaderNative, err := peerReader.Header(a.PeerValidationPubKeys)
	if err != nil {
		return err
	}
	peerHeader, err := idl.ValidationHeaderFromNative(peerHeaderNative)
	if err != nil {
		return errs.Wrap(errs.ErrMalformedHeader, "peer validation header", "convert", err)
	}

	if !peerHeader.CheckParameters(ownHeader) {
		return errs.New(errs.ErrParameterMismatch, "validation headers", "check parameters", "own and peer validation headers disagree")
	}
	if !ingestionHeader.CheckParameters(peerHeader) {
		return errs.New(errs.ErrParameterMismatch, "headers", "check parameters", "ingestion and validation headers disagree")
	}

	ingestionPackets, err := ingestionReader.PacketFileReader(ingestionHeader.PacketFileDigest)
	if err != nil {
		return err
	}
	defer ingestionPackets.Close()
	ownPackets, err := ownReader.PacketFileReader(ownHeader.PacketFileDigest)
	if err != nil {
		return err
	}
	defer ownPackets.Close()
	peerPackets, err := peerReader.PacketFileReader(peerHeader.PacketFileDigest)
	if err != nil {
		return err
	}
	defer peerPackets.Close()

	for {
		ingestionNative, ingestionOk, err := ingestionPackets.Next()
		if err != nil {
			return err
		}
		ownNative, ownOk, err := ownPackets.Next()
		if err != nil {
			return err
		}
		peerNative, peerOk, err := peerPackets.Next()
		if err != nil {
			return err
		}

		if !ingestionOk && !ownOk && !peerOk {
			return nil
		}
		if ingestionOk != ownOk || ownOk != peerOk {
			return errs.New(errs.ErrTruncatedBatch, "batch", "read triple", "input packet files have different lengths")
		}

		ingestionPacket, err := idl.IngestionDataSharePacketFromNative(ingestionNative)
		if err != nil {
			return errs.Wrap(errs.ErrMalformedPacket, "ingestion packet", "convert", err)
		}
		ownPacket, err := idl.ValidationPacketFromNative(ownNative)
		if err != nil {
			return errs.Wrap(errs.ErrMalformedPacket, "own validation packet", "convert", err)
		}
		peerPacket, err := idl.ValidationPacketFromNative(peerNative)
		if err != nil {
			return errs.Wrap(errs.ErrMalformedPacket, "peer validation packet", "convert", err)
		}

		if ingestionPacket.UUID != ownPacket.UUID || ownPacket.UUID != peerPacket.UUID {
			return errs.New(errs.ErrUUIDMisalignment, "batch", "align triple", "ingestion/own/peer packet uuids do not match")
		}

		var lastErr error
		handled := false
		for _, srv := range servers {
			valid, err := srv.Aggregate(ingestionPacket.EncryptedPayload, peerPacket, ownPacket)
			if err != nil {
				lastErr = err
				continue
			}
			handled = true
			if !valid {
				*invalidUUIDs = append(*invalidUUIDs, ingestionPacket.UUID)
			}
			break
		}
		if !handled {
			return errs.Wrap(errs.ErrDecryptionFailed, "packet", "failed to validate packets", lastErr)
		}
	}
}
