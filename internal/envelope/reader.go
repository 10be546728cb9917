package envelope

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"

	"github.com/letsencrypt/prio-facilitator/internal/batch"
	"github.com/letsencrypt/prio-facilitator/internal/codec"
	"github.com/letsencrypt/prio-facilitator/internal/errs"
	"github.com/letsencrypt/prio-facilitator/internal/idl"
	"github.com/letsencrypt/prio-facilitator/internal/transport"
)

// BatchReader reads the header/packet-file/signature triple for one batch.
type BatchReader struct {
	ctx          context.Context
	transport    transport.Transport
	locator      batch.Locator
	headerSchema string
	packetSchema string
}

// NewBatchReader returns a BatchReader for the batch named by locator,
// decoding its header against headerSchema and its packet file against
// packetSchema.
func NewBatchReader(ctx context.Context, t transport.Transport, locator batch.Locator, headerSchema, packetSchema string) *BatchReader {
	return &BatchReader{ctx: ctx, transport: t, locator: locator, headerSchema: headerSchema, packetSchema: packetSchema}
}

// Header reads the header and signature objects, verifies the signature
// against the public key named by the signature's key_identifier in
// pubKeys, and returns the decoded header as a native Avro record.
func (r *BatchReader) Header(pubKeys map[string]*ecdsa.PublicKey) (map[string]interface{}, error) {
	headerBytes, err := r.readAll(r.locator.HeaderKey())
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "header", "read", err)
	}

	sigBytes, err := r.readAll(r.locator.SignatureKey())
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "signature", "read", err)
	}
	sigNative, err := decodeSingleRecord(idl.SignatureSchema, sigBytes)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodec, "signature", "decode", err)
	}
	keyID := sigNative["key_identifier"].(string)
	sig := sigNative["batch_header_signature"].([]byte)

	pub, ok := pubKeys[keyID]
	if !ok {
		return nil, errs.New(errs.ErrSignatureVerification, "header", "verify", fmt.Sprintf("no public key for key id %q", keyID))
	}
	if !verify(pub, headerBytes, sig) {
		return nil, errs.New(errs.ErrSignatureVerification, "header", "verify", fmt.Sprintf("signature invalid under key id %q", keyID))
	}

	native, err := decodeSingleRecord(r.headerSchema, headerBytes)
	if err != nil {
		return nil, errs.Wrap(errs.ErrMalformedHeader, "header", "decode", err)
	}
	return native, nil
}

func (r *BatchReader) readAll(key string) ([]byte, error) {
	rc, err := r.transport.Get(r.ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PacketReader streams native Avro records from a batch's packet file,
// verifying the accumulated digest against expectedDigest once EOF is
// reached.
type PacketReader struct {
	closer         io.Closer
	r              *codec.Reader
	expectedDigest []byte
	done           bool
}

// PacketFileReader opens the packet object belonging to the header
// previously returned by Header (expectedDigest is that header's
// packet_file_digest).
func (r *BatchReader) PacketFileReader(expectedDigest []byte) (*PacketReader, error) {
	rc, err := r.transport.Get(r.ctx, r.locator.PacketKey())
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "packet file", "open for read", err)
	}
	ocfReader, err := codec.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, errs.Wrap(errs.ErrCodec, "packet file", "new reader", err)
	}
	return &PacketReader{closer: rc, r: ocfReader, expectedDigest: expectedDigest}, nil
}

// Next returns the next native record, or ok=false at EOF. Once all three
// readers in a triple have reached EOF together, the digest has already
// been verified as each reader hits it independently.
func (p *PacketReader) Next() (native map[string]interface{}, ok bool, err error) {
	native, ok, err = p.r.Next()
	if err != nil {
		return nil, false, errs.Wrap(errs.ErrMalformedPacket, "packet file", "read", err)
	}
	if ok {
		return native, true, nil
	}
	if !p.done {
		p.done = true
		if !bytes.Equal(p.r.Digest(), p.expectedDigest) {
			return nil, false, errs.New(errs.ErrDigestMismatch, "packet file", "verify", "packet file digest does not match header")
		}
	}
	return nil, false, nil
}

// Close releases the underlying stream.
func (p *PacketReader) Close() error {
	return p.closer.Close()
}
