package index

import (
	"os"
	"path/filepath"

	"github.com/nicolagi/vtree/config"
	"github.com/nicolagi/vtree/storage"
	"github.com/pkg/errors"
)

const (
	metaKey      = storage.Key("meta")
	commitKey    = storage.Key("commit")
	storeDirPerm = 0700
)

// NodeStore is the node store (C2): two directories, dat/ for
// committed state and cmt/ for the current staging cycle,
// implementing spec.md §4.2's load/save/commit protocol. Built on
// storage.NewFlatDiskStore (kept, adapted from the teacher's
// storage.DiskStore): node ids are opaque random tokens, not content
// hashes, so the file name for a node is exactly its id, unsharded.
type NodeStore struct {
	dat *storage.DiskStore
	cmt *storage.DiskStore

	// mirror asynchronously replicates every promoted node file to a
	// remote store for disaster recovery, when cfg.Storage == "paired".
	// It is never consulted on the read path: dat/+cmt/ remain the sole
	// source of truth for recovery, per SPEC_FULL.md §4.2.
	mirror *storage.Paired
}

func newNodeStore(root string, cfg config.C) (*NodeStore, error) {
	datDir := filepath.Join(root, "dat")
	cmtDir := filepath.Join(root, "cmt")
	for _, dir := range []string{datDir, cmtDir} {
		if err := os.MkdirAll(dir, storeDirPerm); err != nil {
			return nil, errors.Wrapf(err, "index: mkdir %q", dir)
		}
	}
	s := &NodeStore{
		dat: storage.NewFlatDiskStore(datDir),
		cmt: storage.NewFlatDiskStore(cmtDir),
	}
	if cfg.Storage == "paired" {
		slow, err := storage.NewS3Store(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "index: configuring S3 mirror")
		}
		mirror, err := storage.NewPaired(s.dat, slow, filepath.Join(root, "mirror.log"))
		if err != nil {
			return nil, errors.Wrap(err, "index: configuring replication log")
		}
		s.mirror = mirror
	}
	if err := s.recover(); err != nil {
		return nil, errors.Wrap(err, "index: recovering staged commit")
	}
	return s, nil
}

// load returns the payload for nid, searching cmt/ before dat/, and
// storage.ErrNotFound if neither area has it (the caller materializes
// a fresh empty leaf in that case, per spec.md §4.2).
func (s *NodeStore) load(nid string) ([]byte, error) {
	k := storage.Key(nid)
	b, err := s.cmt.Get(k)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return s.dat.Get(k)
}

// save writes payload into the staging area, atomically.
func (s *NodeStore) save(nid string, payload []byte) error {
	return s.cmt.Put(storage.Key(nid), payload)
}

// exists reports whether nid is present anywhere on disk, staged or
// committed, for id-minting collision checks.
func (s *NodeStore) exists(nid string) (bool, error) {
	k := storage.Key(nid)
	ok, err := s.cmt.Contains(k)
	if err != nil || ok {
		return ok, err
	}
	return s.dat.Contains(k)
}

func (s *NodeStore) loadMeta() (Meta, error) {
	b, err := s.dat.Get(metaKey)
	if errors.Is(err, storage.ErrNotFound) {
		return Meta{Nodes: 1}, nil
	}
	if err != nil {
		return Meta{}, err
	}
	return decodeMeta(b)
}

func (s *NodeStore) saveMeta(m Meta) error {
	return s.cmt.Put(metaKey, encodeMeta(m))
}

// commit implements spec.md §4.2's commit protocol: write the updated
// meta counters, create the sentinel, then promote. It does not
// flush dirty nodes itself — callers combine Index.Flush and
// Index.Commit, exactly as VTree.commit and VTree.flush are distinct
// operations in original_source/vtree.py.
func (s *NodeStore) commit(m Meta) error {
	if err := s.saveMeta(m); err != nil {
		return errors.Wrap(err, "writing staged meta")
	}
	if err := s.cmt.Put(commitKey, nil); err != nil {
		return errors.Wrap(err, "writing commit sentinel")
	}
	return s.promote()
}

// promote moves every file in cmt/ except the sentinel into dat/,
// overwriting, then removes everything left in cmt/ including the
// sentinel. Re-running promote on an already-promoted (or partially
// promoted) staging area is safe: Get/Put/Delete on an absent key is
// idempotent from the caller's point of view once missing files are
// tolerated, which recover() does by scanning what's actually there.
func (s *NodeStore) promote() error {
	var keys []storage.Key
	if err := s.cmt.ForEach(func(k storage.Key) error {
		if k != commitKey {
			keys = append(keys, k)
		}
		return nil
	}); err != nil {
		return errors.Wrap(err, "listing staged files")
	}
	for _, k := range keys {
		v, err := s.cmt.Get(k)
		if err != nil {
			return errors.Wrapf(err, "reading staged %q", k)
		}
		if s.mirror != nil {
			// Paired.Put writes dat/ (its fast store) synchronously and
			// enqueues asynchronous propagation to the S3 mirror.
			if err := s.mirror.Put(k, v); err != nil {
				return errors.Wrapf(err, "promoting %q", k)
			}
		} else if err := s.dat.Put(k, v); err != nil {
			return errors.Wrapf(err, "promoting %q", k)
		}
		if err := s.cmt.Delete(k); err != nil {
			return errors.Wrapf(err, "clearing staged %q", k)
		}
	}
	if err := s.cmt.Delete(commitKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return errors.Wrap(err, "clearing commit sentinel")
	}
	return nil
}

// recover runs at Open: if the commit sentinel survived a crash,
// the commit was decided and promote resumes it; otherwise any
// partial staging is discarded, since roll-forward without the
// sentinel is unsafe per spec.md §4.2.
func (s *NodeStore) recover() error {
	committed, err := s.cmt.Contains(commitKey)
	if err != nil {
		return err
	}
	if committed {
		return s.promote()
	}
	var keys []storage.Key
	if err := s.cmt.ForEach(func(k storage.Key) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.cmt.Delete(k); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}
