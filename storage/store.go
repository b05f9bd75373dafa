// Package storage provides the key-value backends the node store (C2,
// index.NodeStore) is built on: byte blobs on disk, which hold the
// staging (cmt) and committed (dat) areas the index's two-phase commit
// protocol promotes between, plus an optional asynchronous mirror to a
// remote store for disaster recovery of committed node files.
package storage

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/nicolagi/vtree/config"
)

// ErrNotFound is returned by Get (and wrapped by Delete) when a key
// has no associated value.
var ErrNotFound = errors.New("not found")

// Key names a blob within a store. Node ids mint Keys via RandomKey;
// the meta counters and the commit sentinel use fixed, reserved Keys.
type Key string

// Value is the opaque payload associated with a Key.
type Value []byte

// Store is the minimal interface the node store and its backends
// implement.
type Store interface {
	Get(Key) (Value, error)
	Put(Key, Value) error
	Delete(Key) error
}

// Enumerable is a Store that can also be asked whether it holds a
// given key and can be walked key by key. The staging and committed
// areas of the node store are both Enumerable, since commit needs to
// list everything currently staged.
type Enumerable interface {
	Store
	Contains(Key) (bool, error)
	ForEach(func(Key) error) error
}

// NewStore builds the backend named by c.Storage: "disk" (a flat
// DiskStore rooted at c.RootDirectoryPath), "null" (discards
// everything), or "s3" (the disaster-recovery mirror target). Mirrors
// the teacher's own storage.NewStore dispatcher, extended with the
// "null" case this module uses for testing.
func NewStore(c config.C) (Store, error) {
	switch c.Storage {
	case "disk":
		return NewFlatDiskStore(c.RootDirectoryPath()), nil
	case "null":
		return NullStore{}, nil
	case "s3":
		return NewS3Store(c)
	default:
		return nil, errorf("NewStore", "%q: not implemented", c.Storage)
	}
}

func errorf(typeMethod, format string, a ...interface{}) error {
	return fmt.Errorf("storage."+typeMethod+": "+format, a...)
}

// RandomKey generates a random sequence of length bytes and renders
// it as a hex-encoded Key (double the requested byte length in
// characters). This is the node id minting primitive spec.md §4.5
// calls for: "any scheme with the [uniqueness] property is
// acceptable."
func RandomKey(length uint8) (Key, error) {
	if length == 0 {
		return "", nil
	}
	b := make([]byte, length)
	n, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	if n != int(length) {
		return "", fmt.Errorf("key of length %d required, got only %d bytes", length, n)
	}
	return Key(fmt.Sprintf("%02x", b)), nil
}
