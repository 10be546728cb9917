package prio

import (
	"encoding/binary"
	"fmt"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// Share is the plaintext one server decrypts out of a client's encrypted
// payload: that server's additive share of the data vector and of the three
// SIMD verification values f(r), g(r), h(r).
type Share struct {
	Data []uint64
	F    uint64
	G    uint64
	H    uint64
}

// EncodePayload serialises a share as bins-count(u32 BE) || data[i](u64 BE)*
// || f || g || h (u64 BE each), the plaintext layout sealed into
// IngestionDataSharePacket.EncryptedPayload.
func EncodePayload(s Share) []byte {
	buf := make([]byte, 4+8*len(s.Data)+24)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(s.Data)))
	off := 4
	for _, v := range s.Data {
		binary.BigEndian.PutUint64(buf[off:off+8], v)
		off += 8
	}
	binary.BigEndian.PutUint64(buf[off:off+8], s.F)
	binary.BigEndian.PutUint64(buf[off+8:off+16], s.G)
	binary.BigEndian.PutUint64(buf[off+16:off+24], s.H)
	return buf
}

// DecodePayload reverses EncodePayload.
func DecodePayload(buf []byte) (Share, error) {
	if len(buf) < 4 {
		return Share{}, fmt.Errorf("%w: payload shorter than bin count header", errs.ErrMalformedPacket)
	}
	bins := int(binary.BigEndian.Uint32(buf[0:4]))
	want := 4 + 8*bins + 24
	if len(buf) != want {
		return Share{}, fmt.Errorf("%w: payload length %d does not match %d bins", errs.ErrMalformedPacket, len(buf), bins)
	}
	off := 4
	data := make([]uint64, bins)
	for i := range data {
		data[i] = binary.BigEndian.Uint64(buf[off : off+8])
		off += 8
	}
	return Share{
		Data: data,
		F:    binary.BigEndian.Uint64(buf[off : off+8]),
		G:    binary.BigEndian.Uint64(buf[off+8 : off+16]),
		H:    binary.BigEndian.Uint64(buf[off+16 : off+24]),
	}, nil
}
