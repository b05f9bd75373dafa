package index

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Meta holds the two counters the façade maintains alongside the
// tree: Size counts live records, Nodes counts every node id ever
// minted (monotone, never decremented). It is persisted through the
// same staging/commit cycle as node payloads, under the reserved key
// "meta" inside cmt/ and dat/, exactly as VTree._meta in the original
// design.
type Meta struct {
	Size  uint64
	Nodes uint64
}

const metaPayloadLength = 16

func encodeMeta(m Meta) []byte {
	buf := make([]byte, metaPayloadLength)
	binary.BigEndian.PutUint64(buf[0:8], m.Size)
	binary.BigEndian.PutUint64(buf[8:16], m.Nodes)
	return buf
}

func decodeMeta(b []byte) (Meta, error) {
	if len(b) != metaPayloadLength {
		return Meta{}, errors.Wrapf(ErrMalformedPayload, "meta: want %d bytes, got %d", metaPayloadLength, len(b))
	}
	return Meta{
		Size:  binary.BigEndian.Uint64(b[0:8]),
		Nodes: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}
