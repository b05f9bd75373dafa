package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeCacheGetPutRoundTrip(t *testing.T) {
	c := newNodeCache(8)
	n := &node{id: "a", kind: kindLeaf}
	c.put("a", n)
	got, ok := c.get("a")
	assert.True(t, ok)
	assert.Same(t, n, got)
}

func TestNodeCacheMissReportsFalse(t *testing.T) {
	c := newNodeCache(8)
	_, ok := c.get("nowhere")
	assert.False(t, ok)
}

func TestNodeCacheRotatesHotToWarmOnOverflow(t *testing.T) {
	c := newNodeCache(2)
	c.put("a", &node{id: "a"})
	c.put("b", &node{id: "b"})
	c.put("c", &node{id: "c"}) // overflow: hot {a,b,c} exceeds 2 and is demoted whole to warm

	_, cInWarm := c.warm["c"]
	assert.True(t, cInWarm)
	_, aInWarm := c.warm["a"]
	_, bInWarm := c.warm["b"]
	assert.True(t, aInWarm)
	assert.True(t, bInWarm)

	// A warm hit promotes back to hot.
	got, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.id)
	_, stillHot := c.hot["a"]
	assert.True(t, stillHot)
}

func TestNodeCacheDirtySurvivesRotation(t *testing.T) {
	c := newNodeCache(1)
	n := &node{id: "a", kind: kindLeaf}
	c.put("a", n)
	c.markDirty(n)

	c.put("b", &node{id: "b"}) // overflow: rotates a out of hot into warm

	_, inHot := c.hot["a"]
	assert.False(t, inHot)

	_, ok := c.get("a")
	assert.True(t, ok, "dirty entries must survive generation eviction")
}

func TestNodeCacheContainsHasNoSideEffects(t *testing.T) {
	c := newNodeCache(8)
	c.put("a", &node{id: "a"})
	assert.True(t, c.contains("a"))
	assert.False(t, c.contains("missing"))
}

func TestNodeCacheFlushDirtyWritesAndClears(t *testing.T) {
	store, cleanup := scratchNodeStore(t)
	defer cleanup()

	c := newNodeCache(8)
	n := &node{id: "a", kind: kindLeaf, records: []Record{{Key: []float64{1, 0}}}}
	c.put("a", n)
	c.markDirty(n)

	require.NoError(t, c.flushDirty(store))

	_, ok := c.dirty["a"]
	assert.False(t, ok)
	payload, err := store.load("a")
	require.NoError(t, err)
	assert.NotEmpty(t, payload)
}

func TestNodeCacheFlushDirtyNoOpWhenClean(t *testing.T) {
	store, cleanup := scratchNodeStore(t)
	defer cleanup()
	c := newNodeCache(8)
	require.NoError(t, c.flushDirty(store))
}
