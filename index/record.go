package index

import "github.com/nicolagi/vtree/vector"

// Record is the unit of storage: a key vector, which participates in
// distance computations, plus an opaque payload returned unmodified
// by queries and removes.
type Record struct {
	Key     vector.Vector
	Payload []byte
}
