package index

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/nicolagi/vtree/config"
)

// scratchIndex opens a fresh Index under a temp directory with the
// given leaf size, returning a cleanup func the caller defers.
func scratchIndex(t *testing.T, dimension int, leafSize uint32) (*Index, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "vtree-index-test-")
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default(dimension)
	cfg.LeafSize = leafSize
	cfg.AutoFlushEvery = 0
	ix, err := Open(dir, cfg)
	if err != nil {
		os.RemoveAll(dir)
		t.Fatal(err)
	}
	return ix, func() {
		_ = ix.Close()
		os.RemoveAll(dir)
	}
}

func unitVector(i, dimension int) []float64 {
	v := make([]float64, dimension)
	v[i%dimension] = 1
	v[(i+1)%dimension] += 0.01 * float64(i)
	return v
}
