// Package intake implements the intaker (§4.5): the aggregator's simpler
// sibling, which turns one ingestion batch into this server's own
// validation batch by trial-decrypting every packet and extracting its
// Prio verification triple.
package intake

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/letsencrypt/prio-facilitator/internal/batch"
	"github.com/letsencrypt/prio-facilitator/internal/envelope"
	"github.com/letsencrypt/prio-facilitator/internal/errs"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
	"github.com/letsencrypt/prio-facilitator/internal/prio"
	"github.com/letsencrypt/prio-facilitator/internal/transport"
)

// Intaker reads one ingestion batch and emits this server's validation
// batch for it.
type Intaker struct {
	IngestionTransport transport.Transport
	IngestionPubKeys   map[string]*ecdsa.PublicKey

	OutputTransport transport.Transport
	SigningKey      *ecdsa.PrivateKey
	KeyIdentifier   string
	IsFirst         bool

	DecryptionKeys []*prio.PrivateKey
}

// Result summarises one intake run.
type Result struct {
	ValidCount   int
	InvalidUUIDs []uuid.UUID
}

// Intake reads the ingestion batch named by batchID/batchDate and writes
// this server's validation batch for it.
func (in *Intaker) Intake(ctx context.Context, aggregationName string, batchID uuid.UUID, batchDate time.Time) (Result, error) {
	ingestionLocator := batch.NewIngestion(aggregationName, batchID, batchDate)
	reader := envelope.NewBatchReader(ctx, in.IngestionTransport, ingestionLocator, idl.IngestionHeaderSchema, idl.IngestionDataSharePacketSchema)

	headerNative, err := reader.Header(in.IngestionPubKeys)
	if err != nil {
		return Result{}, err
	}
	header, err := idl.IngestionHeaderFromNative(headerNative)
	if err != nil {
		return Result{}, errs.Wrap(errs.ErrMalformedHeader, "ingestion header", "convert", err)
	}

	packetReader, err := reader.PacketFileReader(header.PacketFileDigest)
	if err != nil {
		return Result{}, err
	}
	defer packetReader.Close()

	validationLocator := batch.NewValidation(aggregationName, batchID, batchDate, in.IsFirst)
	writer := envelope.NewBatchWriter(ctx, in.OutputTransport, validationLocator, idl.ValidationPacketSchema)

	var result Result
	digest, err := writer.PacketFileWriter(func(sink *envelope.PacketSink) error {
		for {
			native, ok, err := packetReader.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			packet, err := idl.IngestionDataSharePacketFromNative(native)
			if err != nil {
				return errs.Wrap(errs.ErrMalformedPacket, "ingestion packet", "convert", err)
			}

			validated, err := in.verifyShare(packet)
			if err != nil {
				glog.Warningf("intake %s: packet %s failed share_verify under every candidate key: %v", aggregationName, packet.UUID, err)
				result.InvalidUUIDs = append(result.InvalidUUIDs, packet.UUID)
				continue
			}
			if err := sink.Append(validated.ToNative()); err != nil {
				return err
			}
			result.ValidCount++
		}
	})
	if err != nil {
		return Result{}, err
	}

	validationHeader := idl.ValidationHeader{
		BatchUUID:        header.BatchUUID,
		Name:             header.Name,
		Bins:             header.Bins,
		Prime:            header.Prime,
		NumberOfServers:  header.NumberOfServers,
		HammingWeight:    header.HammingWeight,
		BatchStartTime:   header.BatchStartTime,
		BatchEndTime:     header.BatchEndTime,
		PacketFileDigest: digest,
	}
	sig, err := writer.PutHeader(validationHeader.ToNative(), idl.ValidationHeaderSchema, in.SigningKey)
	if err != nil {
		return Result{}, err
	}
	if err := writer.PutSignature(sig, in.KeyIdentifier); err != nil {
		return Result{}, err
	}
	return result, nil
}

// verifyShare attempts share_verify under each candidate decryption key in
// order, returning the first success.
func (in *Intaker) verifyShare(packet idl.IngestionDataSharePacket) (idl.ValidationPacket, error) {
	var lastErr error
	for _, key := range in.DecryptionKeys {
		f, g, h, err := prio.ShareVerify(packet.EncryptedPayload, key)
		if err != nil {
			lastErr = err
			continue
		}
		return idl.ValidationPacket{UUID: packet.UUID, FR: int64(f), GR: int64(g), HR: int64(h)}, nil
	}
	if lastErr == nil {
		lastErr = errs.ErrDecryptionFailed
	}
	return idl.ValidationPacket{}, errs.Wrap(errs.ErrDecryptionFailed, "packet", "share_verify", lastErr)
}
