package codec

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/linkedin/goavro/v2"
)

// Writer appends native Avro records to an Avro object container while
// hashing the exact bytes written, so the caller can bind the resulting
// digest into a header's packet_file_digest field.
type Writer struct {
	ocf    *goavro.OCFWriter
	hasher hash.Hash
}

// NewWriter wraps w with an OCF writer for schema and a SHA-256 hasher over
// everything subsequently written to it.
func NewWriter(w io.Writer, schema string) (*Writer, error) {
	hasher := sha256.New()
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:      io.MultiWriter(w, hasher),
		Schema: schema,
	})
	if err != nil {
		return nil, fmt.Errorf("new OCF writer: %w", err)
	}
	return &Writer{ocf: ocf, hasher: hasher}, nil
}

// Append writes one native record.
func (w *Writer) Append(native map[string]interface{}) error {
	return w.ocf.Append([]interface{}{native})
}

// Digest returns the SHA-256 digest of all bytes written so far. It may be
// called only after the underlying file has been fully written; the caller
// is responsible for ensuring the destination transport object has been
// flushed/closed before trusting the digest as "published".
func (w *Writer) Digest() []byte {
	return w.hasher.Sum(nil)
}

// Reader reads native Avro records from an object container while hashing
// the exact bytes read, so the caller can verify the digest against a
// header's packet_file_digest field once EOF is reached.
type Reader struct {
	ocf    *goavro.OCFReader
	hasher hash.Hash
	tee    io.Reader
}

// NewReader wraps r with an OCF reader and a SHA-256 hasher over everything
// subsequently read from it.
func NewReader(r io.Reader) (*Reader, error) {
	hasher := sha256.New()
	tee := io.TeeReader(r, hasher)
	ocf, err := goavro.NewOCFReader(tee)
	if err != nil {
		return nil, fmt.Errorf("new OCF reader: %w", err)
	}
	return &Reader{ocf: ocf, hasher: hasher, tee: tee}, nil
}

// Next returns the next native record, or ok=false at EOF.
func (r *Reader) Next() (native map[string]interface{}, ok bool, err error) {
	if !r.ocf.Scan() {
		if err := r.ocf.Err(); err != nil {
			return nil, false, fmt.Errorf("scan OCF record: %w", err)
		}
		// goavro's scanner can stop once it has consumed the last block
		// without necessarily draining trailing bytes; make sure the
		// digest covers the whole underlying stream.
		io.Copy(io.Discard, r.tee)
		return nil, false, nil
	}
	v, err := r.ocf.Read()
	if err != nil {
		return nil, false, fmt.Errorf("read OCF record: %w", err)
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false, fmt.Errorf("OCF record was %T, not a record", v)
	}
	return m, true, nil
}

// Digest returns the SHA-256 digest of all bytes read so far. Only
// meaningful once Next has returned ok=false (EOF), since io.TeeReader only
// sees bytes actually consumed.
func (r *Reader) Digest() []byte {
	return r.hasher.Sum(nil)
}
