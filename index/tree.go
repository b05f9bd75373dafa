package index

import (
	"math/rand"
	"sync"
	"time"

	"github.com/nicolagi/vtree/config"
	"github.com/nicolagi/vtree/storage"
	"github.com/nicolagi/vtree/vector"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// rootID is the one reserved node id: it always resolves, materialized
// lazily as an empty leaf the first time it's requested and nothing has
// been written yet, per spec.md §4.1.
const rootID = "0"

// Index is the façade (C5): root management, node id minting, meta
// counters, and the bulk flush/commit cycle. It owns a NodeStore and a
// nodeCache and is the only type callers of this package interact
// with directly.
type Index struct {
	cfg   config.C
	store *NodeStore
	cache *nodeCache
	rng   *rand.Rand

	mu   sync.Mutex
	meta Meta

	insertsSinceFlush uint32

	closeOnce sync.Once
	stopFlush chan struct{}
	flushDone chan struct{}
}

// Open creates dat/ and cmt/ under root if missing, recovers any
// interrupted commit, and loads the meta counters. The returned Index
// is ready for Insert/Remove/Query immediately.
func Open(root string, cfg config.C) (*Index, error) {
	store, err := newNodeStore(root, cfg)
	if err != nil {
		return nil, err
	}
	meta, err := store.loadMeta()
	if err != nil {
		return nil, errors.Wrap(err, "index: loading meta")
	}
	ix := &Index{
		cfg:   cfg,
		store: store,
		cache: newNodeCache(int(cfg.MaxCacheSize)),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		meta:  meta,
	}
	if cfg.AutoFlushInterval > 0 {
		ix.stopFlush = make(chan struct{})
		ix.flushDone = make(chan struct{})
		go ix.flushPeriodically()
	}
	log.WithFields(log.Fields{
		"root":      root,
		"dimension": cfg.Dimension,
		"size":      meta.Size,
		"nodes":     meta.Nodes,
	}).Info("index opened")
	return ix, nil
}

// getNode resolves nid through the cache, falling back to the store
// on miss. A store miss on any id materializes a fresh empty leaf
// rather than failing: this is how the reserved root id and newly
// minted split children both bootstrap, per spec.md §4.2 ("if neither
// area contains nid, return an empty leaf"), mirroring
// VTree._getNode/VNode._load in original_source/vtree.py, which make
// no distinction between the root id and any other not-yet-persisted
// id.
func (ix *Index) getNode(nid string) (*node, error) {
	if n, ok := ix.cache.get(nid); ok {
		return n, nil
	}
	payload, err := ix.store.load(nid)
	if errors.Is(err, storage.ErrNotFound) {
		n := newNode(ix, nid)
		ix.cache.put(nid, n)
		return n, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "index: loading node %s", nid)
	}
	n, err := decodeNode(ix.cfg.Dimension, nid, payload)
	if err != nil {
		return nil, err
	}
	n.ix = ix
	ix.cache.put(nid, n)
	return n, nil
}

// newNodeID mints a random hex token, redrawing on the (astronomically
// unlikely) collision against any node id already known to the cache
// or either storage area, and advances Meta.Nodes.
func (ix *Index) newNodeID() (string, error) {
	for {
		k, err := storage.RandomKey(16)
		if err != nil {
			return "", errors.Wrap(err, "index: minting node id")
		}
		nid := string(k)
		if nid == rootID || ix.cache.contains(nid) {
			continue
		}
		exists, err := ix.store.exists(nid)
		if err != nil {
			return "", err
		}
		if exists {
			continue
		}
		ix.mu.Lock()
		ix.meta.Nodes++
		ix.mu.Unlock()
		return nid, nil
	}
}

// Insert validates key against the index dimension, appends it as a
// new record rooted through the tree, and increments Size.
func (ix *Index) Insert(key vector.Vector, payload []byte) error {
	if err := key.Validate(ix.cfg.Dimension); err != nil {
		return err
	}
	root, err := ix.getNode(rootID)
	if err != nil {
		return err
	}
	if err := root.insert(Record{Key: key, Payload: payload}); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.meta.Size++
	ix.mu.Unlock()
	return ix.afterMutation()
}

// Remove finds and deletes the first record whose key is all-close to
// key, decrementing Size on success. ok is false, with a nil error, if
// no matching record exists.
func (ix *Index) Remove(key vector.Vector) (Record, bool, error) {
	if err := key.Validate(ix.cfg.Dimension); err != nil {
		return Record{}, false, err
	}
	root, err := ix.getNode(rootID)
	if err != nil {
		return Record{}, false, err
	}
	rec, ok, err := root.remove(key)
	if err != nil || !ok {
		return Record{}, false, err
	}
	ix.mu.Lock()
	ix.meta.Size--
	ix.mu.Unlock()
	if err := ix.afterMutation(); err != nil {
		return rec, true, err
	}
	return rec, true, nil
}

// afterMutation triggers a count-based auto-flush once AutoFlushEvery
// inserts/removes have accumulated since the last count-triggered
// flush (an explicit Flush does not reset the count). Zero disables
// this (the cadence is then purely whatever the caller or the optional
// ticker does).
func (ix *Index) afterMutation() error {
	if ix.cfg.AutoFlushEvery == 0 {
		return nil
	}
	ix.insertsSinceFlush++
	if ix.insertsSinceFlush < ix.cfg.AutoFlushEvery {
		return nil
	}
	ix.insertsSinceFlush = 0
	return ix.Flush()
}

// Query returns a best-first approximate nearest-neighbor cursor
// rooted at the tree's current root.
func (ix *Index) Query(key vector.Vector) *Cursor {
	return &Cursor{stream: newQueryNodeStream(ix, rootID, key)}
}

// FlatQuery returns an exhaustive, exactly-ordered cursor over every
// record in the index, for validating Query's approximate ordering
// against ground truth.
func (ix *Index) FlatQuery(key vector.Vector) (*Cursor, error) {
	s, err := newFlatNodeStream(ix, rootID, key)
	if err != nil {
		return nil, err
	}
	return &Cursor{stream: s}, nil
}

// Flush writes every dirty node to the staging area and persists the
// current meta counters there too. It does not commit: the staged
// files are not visible after a crash until Commit runs.
func (ix *Index) Flush() error {
	if err := ix.cache.flushDirty(ix.store); err != nil {
		return errors.Wrap(err, "index: flushing dirty nodes")
	}
	ix.mu.Lock()
	meta := ix.meta
	ix.mu.Unlock()
	if err := ix.store.saveMeta(meta); err != nil {
		return errors.Wrap(err, "index: staging meta")
	}
	return nil
}

// Commit writes the commit sentinel and promotes the current staging
// cycle to dat/. It does not flush dirty nodes first — Flush and
// Commit are separate, caller-sequenced operations, exactly as
// VTree.flush and VTree.commit are distinct in
// original_source/vtree.py. A caller wanting durability of in-memory
// mutations calls Flush then Commit.
func (ix *Index) Commit() error {
	ix.mu.Lock()
	meta := ix.meta
	ix.mu.Unlock()
	return ix.store.commit(meta)
}

// Close stops the optional auto-flush ticker, if running, and waits
// for it to exit.
func (ix *Index) Close() error {
	ix.closeOnce.Do(func() {
		if ix.stopFlush != nil {
			close(ix.stopFlush)
			<-ix.flushDone
		}
	})
	return nil
}

// flushPeriodically is the auto-flush ticker, grounded on
// tree.Tree.trimPeriodically's goroutine shape: wake on a fixed
// interval, flush, and exit cleanly when Close closes stopFlush.
func (ix *Index) flushPeriodically() {
	defer close(ix.flushDone)
	t := time.NewTicker(ix.cfg.AutoFlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := ix.Flush(); err != nil {
				log.WithError(err).Warn("periodic flush failed")
			}
		case <-ix.stopFlush:
			return
		}
	}
}
