package index

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// nodeCache is the two-generation LRU (C3): a "hot" generation for
// newly touched nodes, a "warm" generation holding what was hot
// before the last rotation, and a dirty set that survives eviction
// from either generation. Grounded on VTree._cache/_dirty in
// original_source/vtree.py, with the concurrency-safety the teacher's
// tree package gets for free from its single in-process Tree value:
// an auto-flush ticker (see Index) can call flushDirty concurrently
// with a foreground Insert/Remove touching the cache, so access is
// guarded by a mutex, unlike the reference design's single-threaded
// assumption.
type nodeCache struct {
	maxSize int

	mu    sync.Mutex
	hot   map[string]*node
	warm  map[string]*node
	dirty map[string]*node
}

func newNodeCache(maxSize int) *nodeCache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &nodeCache{
		maxSize: maxSize,
		hot:     make(map[string]*node),
		warm:    make(map[string]*node),
		dirty:   make(map[string]*node),
	}
}

// get probes dirty, then hot, then warm, promoting a warm hit to hot.
// Every hit (including dirty and hot hits) re-touches hot, mirroring
// VTree._getNode's unconditional self._cache[0][nid]=ret.
func (c *nodeCache) get(nid string) (*node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.dirty[nid]; ok {
		c.touch(nid, n)
		return n, true
	}
	if n, ok := c.hot[nid]; ok {
		c.touch(nid, n)
		return n, true
	}
	if n, ok := c.warm[nid]; ok {
		c.touch(nid, n)
		return n, true
	}
	return nil, false
}

// contains reports presence in any generation or the dirty set,
// without the touch/rotation side effects of get. Used for node id
// minting collision checks.
func (c *nodeCache) contains(nid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dirty[nid]; ok {
		return true
	}
	if _, ok := c.hot[nid]; ok {
		return true
	}
	_, ok := c.warm[nid]
	return ok
}

// put installs a freshly loaded or minted node into the cache.
func (c *nodeCache) put(nid string, n *node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch(nid, n)
}

// touch must be called with mu held. It installs n into hot, and
// rotates generations if hot now exceeds maxSize: the current hot
// generation is demoted to warm, the previous warm generation is
// evicted wholesale, and a fresh empty hot generation is installed.
func (c *nodeCache) touch(nid string, n *node) {
	c.hot[nid] = n
	if len(c.hot) > c.maxSize {
		c.warm = c.hot
		c.hot = make(map[string]*node, c.maxSize)
	}
}

func (c *nodeCache) markDirty(n *node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[n.id] = n
}

// flushDirty writes every dirty node to store concurrently, bounded
// by a semaphore, grounded on tree.Tree.grow's use of errgroup with a
// capacity-32 channel for parallel child loads (here applied to
// parallel dirty-node writes instead). It completes before returning,
// preserving the single-writer contract: the dirty set is fully
// drained or the flush fails outright.
func (c *nodeCache) flushDirty(store *NodeStore) error {
	c.mu.Lock()
	pending := make([]*node, 0, len(c.dirty))
	for _, n := range c.dirty {
		pending = append(pending, n)
	}
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	sem := make(chan struct{}, 32)
	g, _ := errgroup.WithContext(context.Background())
	for _, n := range pending {
		n := n
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			return store.save(n.id, encodeNode(n))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	for _, n := range pending {
		delete(c.dirty, n.id)
	}
	c.mu.Unlock()
	return nil
}
