package index

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Node payload format: a tag byte distinguishing a leaf from an
// internal node, a count, then that many fixed-dimension vectors
// each followed by either a length-prefixed payload (leaf) or a
// length-prefixed node id (internal). This is the "self-describing"
// format spec.md §4.2 requires: the tag alone is enough to tell a
// reader which of records/children follows, without inspecting
// emptiness of the other.
const (
	nodeTagLeaf     byte = 0
	nodeTagInternal byte = 1
)

func encodeNode(n *node) []byte {
	var buf bytes.Buffer
	switch n.kind {
	case kindLeaf:
		buf.WriteByte(nodeTagLeaf)
		writeUvarint(&buf, uint64(len(n.records)))
		for _, r := range n.records {
			writeVector(&buf, r.Key)
			writeUvarint(&buf, uint64(len(r.Payload)))
			buf.Write(r.Payload)
		}
	case kindInternal:
		buf.WriteByte(nodeTagInternal)
		writeUvarint(&buf, uint64(len(n.children)))
		for _, c := range n.children {
			writeVector(&buf, c.pivot)
			writeUvarint(&buf, uint64(len(c.nid)))
			buf.WriteString(c.nid)
		}
	}
	return buf.Bytes()
}

func decodeNode(dimension int, id string, payload []byte) (*node, error) {
	r := bytes.NewReader(payload)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "node %s: missing tag: %v", id, err)
	}
	switch tag {
	case nodeTagLeaf:
		count, err := readUvarint(r)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedPayload, "node %s: record count: %v", id, err)
		}
		records := make([]Record, 0, count)
		for i := uint64(0); i < count; i++ {
			key, err := readVector(r, dimension)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedPayload, "node %s: record %d key: %v", id, i, err)
			}
			plen, err := readUvarint(r)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedPayload, "node %s: record %d payload length: %v", id, i, err)
			}
			payload := make([]byte, plen)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, errors.Wrapf(ErrMalformedPayload, "node %s: record %d payload: %v", id, i, err)
			}
			records = append(records, Record{Key: key, Payload: payload})
		}
		return &node{id: id, kind: kindLeaf, records: records}, nil
	case nodeTagInternal:
		count, err := readUvarint(r)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedPayload, "node %s: child count: %v", id, err)
		}
		children := make([]child, 0, count)
		for i := uint64(0); i < count; i++ {
			pivot, err := readVector(r, dimension)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedPayload, "node %s: child %d pivot: %v", id, i, err)
			}
			nlen, err := readUvarint(r)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedPayload, "node %s: child %d id length: %v", id, i, err)
			}
			nidBytes := make([]byte, nlen)
			if _, err := io.ReadFull(r, nidBytes); err != nil {
				return nil, errors.Wrapf(ErrMalformedPayload, "node %s: child %d id: %v", id, i, err)
			}
			children = append(children, child{pivot: pivot, nid: string(nidBytes)})
		}
		return &node{id: id, kind: kindInternal, children: children}, nil
	default:
		return nil, errors.Wrapf(ErrMalformedPayload, "node %s: unknown tag %d", id, tag)
	}
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeVector(buf *bytes.Buffer, v []float64) {
	var tmp [8]byte
	for _, f := range v {
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(f))
		buf.Write(tmp[:])
	}
}

func readVector(r *bytes.Reader, dimension int) ([]float64, error) {
	v := make([]float64, dimension)
	var tmp [8]byte
	for i := 0; i < dimension; i++ {
		if _, err := io.ReadFull(r, tmp[:]); err != nil {
			return nil, err
		}
		v[i] = math.Float64frombits(binary.BigEndian.Uint64(tmp[:]))
	}
	return v, nil
}
