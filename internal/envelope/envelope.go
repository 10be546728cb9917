// Package envelope implements the signed-batch envelope: the triple of
// header, content-hashed packet file and detached signature that makes up
// one batch, and the digest/signature invariants binding the three
// together (§4.2 and §7 of the facilitator spec).
package envelope

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/linkedin/goavro/v2"

	"github.com/letsencrypt/prio-facilitator/internal/batch"
	"github.com/letsencrypt/prio-facilitator/internal/codec"
	"github.com/letsencrypt/prio-facilitator/internal/errs"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
	"github.com/letsencrypt/prio-facilitator/internal/transport"
)

func signatureNative(sig []byte, keyID string) map[string]interface{} {
	return map[string]interface{}{
		"batch_header_signature": sig,
		"key_identifier":         keyID,
	}
}

// sign computes an ECDSA P-256/SHA-256 ASN.1 DER signature over header
// bytes.
func sign(key *ecdsa.PrivateKey, headerBytes []byte) ([]byte, error) {
	digest := sha256.Sum256(headerBytes)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: sign header: %v", errs.ErrCryptoInit, err)
	}
	return sig, nil
}

// verify checks an ECDSA P-256/SHA-256 ASN.1 DER signature over header
// bytes.
func verify(pub *ecdsa.PublicKey, headerBytes, sig []byte) bool {
	digest := sha256.Sum256(headerBytes)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// encodeSingleRecord serialises one Avro record in plain Avro binary
// encoding, without an object container (headers and SumPart are
// single-record files).
func encodeSingleRecord(schema string, native map[string]interface{}) ([]byte, error) {
	avroCodec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: new codec: %v", errs.ErrCodec, err)
	}
	var buf []byte
	buf, err = avroCodec.BinaryFromNative(buf, native)
	if err != nil {
		return nil, fmt.Errorf("%w: encode record: %v", errs.ErrCodec, err)
	}
	return buf, nil
}

func decodeSingleRecord(schema string, data []byte) (map[string]interface{}, error) {
	c, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: new codec: %v", errs.ErrCodec, err)
	}
	native, _, err := c.NativeFromBinary(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode record: %v", errs.ErrCodec, err)
	}
	m, ok := native.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: record was %T, not a record", errs.ErrMalformedHeader, native)
	}
	return m, nil
}

// PacketSink is handed to the function passed to BatchWriter.PacketFileWriter;
// callers append zero or more packets to it.
type PacketSink struct {
	w *codec.Writer
}

// Append writes one native Avro record to the packet file.
func (s *PacketSink) Append(native map[string]interface{}) error {
	if err := s.w.Append(native); err != nil {
		return fmt.Errorf("%w: append packet: %v", errs.ErrCodec, err)
	}
	return nil
}

// BatchWriter writes the header/packet-file/signature triple for one batch.
type BatchWriter struct {
	ctx       context.Context
	transport transport.Transport
	locator   batch.Locator
	packetSchema string
}

// NewBatchWriter returns a BatchWriter that writes the batch named by
// locator through t, encoding its packet file against packetSchema.
func NewBatchWriter(ctx context.Context, t transport.Transport, locator batch.Locator, packetSchema string) *BatchWriter {
	return &BatchWriter{ctx: ctx, transport: t, locator: locator, packetSchema: packetSchema}
}

// PacketFileWriter opens the packet object, lets fn append zero or more
// packets to it, and returns the SHA-256 digest of the bytes written on a
// clean close. No object is published if fn or the close fails.
func (w *BatchWriter) PacketFileWriter(fn func(sink *PacketSink) error) ([]byte, error) {
	out, err := w.transport.Put(w.ctx, w.locator.PacketKey())
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "packet file", "open for write", err)
	}
	// out is closed only on success: closing a transport writer publishes
	// the object, so the failure paths below leave it unclosed.

	ocfWriter, err := codec.NewWriter(out, w.packetSchema)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodec, "packet file", "new writer", err)
	}

	if err := fn(&PacketSink{w: ocfWriter}); err != nil {
		return nil, err
	}

	if err := out.Close(); err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "packet file", "close", err)
	}
	return ocfWriter.Digest(), nil
}

// PutHeader serialises headerNative (which must already carry the correct
// packet_file_digest) against headerSchema, writes it, and returns the
// signature over the serialised bytes.
func (w *BatchWriter) PutHeader(headerNative map[string]interface{}, headerSchema string, signingKey *ecdsa.PrivateKey) ([]byte, error) {
	headerBytes, err := encodeSingleRecord(headerSchema, headerNative)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodec, "header", "encode", err)
	}

	out, err := w.transport.Put(w.ctx, w.locator.HeaderKey())
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "header", "open for write", err)
	}
	if _, err := out.Write(headerBytes); err != nil {
		out.Close()
		return nil, errs.Wrap(errs.ErrTransport, "header", "write", err)
	}
	if err := out.Close(); err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "header", "close", err)
	}

	sig, err := sign(signingKey, headerBytes)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// PutSignature writes the detached signature envelope.
func (w *BatchWriter) PutSignature(sig []byte, keyIdentifier string) error {
	native := signatureNative(sig, keyIdentifier)
	sigBytes, err := encodeSingleRecord(idl.SignatureSchema, native)
	if err != nil {
		return errs.Wrap(errs.ErrCodec, "signature", "encode", err)
	}
	out, err := w.transport.Put(w.ctx, w.locator.SignatureKey())
	if err != nil {
		return errs.Wrap(errs.ErrTransport, "signature", "open for write", err)
	}
	if _, err := out.Write(sigBytes); err != nil {
		out.Close()
		return errs.Wrap(errs.ErrTransport, "signature", "write", err)
	}
	if err := out.Close(); err != nil {
		return errs.Wrap(errs.ErrTransport, "signature", "close", err)
	}
	return nil
}
