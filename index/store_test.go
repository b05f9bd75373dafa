package index

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/nicolagi/vtree/config"
	"github.com/nicolagi/vtree/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scratchNodeStore(t *testing.T) (*NodeStore, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "vtree-store-test-")
	require.NoError(t, err)
	s, err := newNodeStore(dir, config.Default(2))
	require.NoError(t, err)
	return s, func() { os.RemoveAll(dir) }
}

func TestNodeStoreSaveLoadPrefersStaged(t *testing.T) {
	s, cleanup := scratchNodeStore(t)
	defer cleanup()

	require.NoError(t, s.save("n1", []byte("staged")))
	got, err := s.load("n1")
	require.NoError(t, err)
	assert.Equal(t, []byte("staged"), []byte(got))

	require.NoError(t, s.dat.Put(storage.Key("n1"), []byte("committed")))
	got, err = s.load("n1")
	require.NoError(t, err)
	assert.Equal(t, []byte("staged"), []byte(got), "cmt/ must shadow dat/ until promoted")
}

func TestNodeStoreLoadMissingReturnsNotFound(t *testing.T) {
	s, cleanup := scratchNodeStore(t)
	defer cleanup()
	_, err := s.load("nowhere")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNodeStoreCommitPromotesAndClearsStaging(t *testing.T) {
	s, cleanup := scratchNodeStore(t)
	defer cleanup()

	require.NoError(t, s.save("n1", []byte("v1")))
	require.NoError(t, s.commit(Meta{Size: 1, Nodes: 2}))

	ok, err := s.cmt.Contains(storage.Key("n1"))
	require.NoError(t, err)
	assert.False(t, ok, "staging must be empty after commit")

	got, err := s.dat.Get(storage.Key("n1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), []byte(got))

	m, err := s.loadMeta()
	require.NoError(t, err)
	assert.Equal(t, Meta{Size: 1, Nodes: 2}, m)
}

func TestNodeStoreRecoverPromotesAfterSentinel(t *testing.T) {
	s, cleanup := scratchNodeStore(t)
	defer cleanup()

	require.NoError(t, s.save("n1", []byte("v1")))
	require.NoError(t, s.saveMeta(Meta{Size: 1, Nodes: 2}))
	require.NoError(t, s.cmt.Put(commitKey, nil))

	require.NoError(t, s.recover())

	got, err := s.dat.Get(storage.Key("n1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), []byte(got))
	ok, err := s.cmt.Contains(commitKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeStoreRecoverDiscardsWithoutSentinel(t *testing.T) {
	s, cleanup := scratchNodeStore(t)
	defer cleanup()

	require.NoError(t, s.save("n1", []byte("v1")))
	require.NoError(t, s.recover())

	_, err := s.dat.Get(storage.Key("n1"))
	require.ErrorIs(t, err, storage.ErrNotFound)
	ok, err := s.cmt.Contains(storage.Key("n1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNodeStoreLoadMetaDefaultsOnFreshStore(t *testing.T) {
	s, cleanup := scratchNodeStore(t)
	defer cleanup()
	m, err := s.loadMeta()
	require.NoError(t, err)
	assert.Equal(t, Meta{Size: 0, Nodes: 1}, m)
}

// TestNodeStorePairedRequiresBucket checks that requesting the
// replicated "paired" backend without an S3 bucket configured fails
// at Open time rather than silently falling back to local-only.
func TestNodeStorePairedRequiresBucket(t *testing.T) {
	dir, err := ioutil.TempDir("", "vtree-paired-test-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := config.Default(2)
	cfg.Storage = "paired"
	_, err = newNodeStore(dir, cfg)
	require.Error(t, err)
}

// TestNodeStorePairedConstructsOffline checks that a fully configured
// paired backend constructs without touching the network: the AWS
// session and client are created lazily on first S3 request.
func TestNodeStorePairedConstructsOffline(t *testing.T) {
	dir, err := ioutil.TempDir("", "vtree-paired-test-")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	cfg := config.Default(2)
	cfg.Storage = "paired"
	cfg.S3Bucket = "some-bucket"
	cfg.S3Region = "us-east-1"
	s, err := newNodeStore(dir, cfg)
	require.NoError(t, err)
	require.NotNil(t, s.mirror)
	// Construction alone must not touch the network: the AWS session
	// and S3 client are built lazily on first real request, which this
	// test never triggers.
}
