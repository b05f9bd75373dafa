// DiskStore is a key-value store on the local filesystem. By
// default (NewDiskStore) it shards files into two-hex-character
// subdirectories to keep any one directory's entry count down under
// high key cardinality. NewFlatDiskStore opts out of sharding, keeping
// the literal key as the file name directly under dir; the node store
// (package index) uses this mode for dat/ and cmt/, and dat/ is also
// the fast store of the optional S3 mirror, since spec.md §6 names the
// literal paths dat/<nid> and cmt/<nid>.
package storage

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

const (
	diskStoreDirPerm  = 0700
	diskStoreFilePerm = 0600
)

type DiskStore struct {
	dir  string
	flat bool
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// NewFlatDiskStore returns a DiskStore whose file names are exactly
// the keys passed to Get/Put/Delete, with no subdirectory sharding.
func NewFlatDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir, flat: true}
}

func (s *DiskStore) Get(k Key) (Value, error) {
	b, err := os.ReadFile(s.pathFor(k))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%q: %w", k, ErrNotFound)
	}
	return b, err
}

// Put writes the value atomically: it writes to a temporary sibling
// file, then renames it into place, so a concurrent Get never
// observes a partial write.
func (s *DiskStore) Put(k Key, v Value) error {
	p := s.pathFor(k)
	tmp := p + ".new"
	err := os.WriteFile(tmp, v, diskStoreFilePerm)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err = os.MkdirAll(path.Dir(tmp), diskStoreDirPerm); err != nil {
			return err
		}
		if err = os.WriteFile(tmp, v, diskStoreFilePerm); err != nil {
			return err
		}
	}
	return syscall.Rename(tmp, p)
}

func (s *DiskStore) Delete(k Key) error {
	err := os.Remove(s.pathFor(k))
	if err != nil {
		perr, ok := err.(*os.PathError)
		if ok {
			serr, ok := perr.Err.(syscall.Errno)
			if ok && serr == syscall.ENOENT {
				return errors.Wrapf(ErrNotFound, "could not delete %v", k)
			}
		}
	}
	return err
}

func (s *DiskStore) ForEach(cb func(Key) error) error {
	var kk []Key
	err := filepath.Walk(s.dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			kk = append(kk, Key(path.Base(p)))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range kk {
		if err := cb(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *DiskStore) Contains(k Key) (bool, error) {
	_, err := os.Stat(s.pathFor(k))
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

func (s *DiskStore) pathFor(key Key) string {
	k := string(key)
	if s.flat || len(k) < 2 {
		return path.Join(s.dir, k)
	}
	return path.Join(s.dir, k[:2], k)
}
