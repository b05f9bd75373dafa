package index

import (
	"testing"

	"github.com/nicolagi/vtree/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestQueryMatchesFlatQueryOrdering covers property 5: query's
// results, while possibly a subset of flatQuery's, must themselves be
// in non-decreasing distance order, and property 4 for flatQuery
// itself (exact multiset, sorted).
func TestQueryMatchesFlatQueryOrdering(t *testing.T) {
	ix, cleanup := scratchIndex(t, 4, 3)
	defer cleanup()

	for i := 0; i < 30; i++ {
		v := unitVector(i, 4)
		require.NoError(t, ix.Insert(v, nil))
	}

	key := vector.Vector{1, 0, 0, 0}
	flat := drainFlat(t, ix, key)
	best := drainQuery(t, ix, key)

	assert.Len(t, flat, 30)
	assertNonDecreasing(t, flat)
	assertNonDecreasing(t, best)
	assert.LessOrEqual(t, len(best), len(flat))
}

func assertNonDecreasing(t *testing.T, results []QueryResult) {
	t.Helper()
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance+1e-9)
	}
}

// TestQueryReportsTelemetry checks the diagnostic fields grow
// monotonically as the cursor is pulled, and AverageLeafFill is only
// computed once at least one leaf has been visited.
func TestQueryReportsTelemetry(t *testing.T) {
	ix, cleanup := scratchIndex(t, 3, 2)
	defer cleanup()
	for i := 0; i < 12; i++ {
		require.NoError(t, ix.Insert(unitVector(i, 3), nil))
	}

	c := ix.Query(vector.Vector{1, 0, 0})
	var lastNodes, lastLeaves int
	for {
		r, ok, err := c.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.GreaterOrEqual(t, r.VisitedNodes, lastNodes)
		assert.GreaterOrEqual(t, r.VisitedLeaves, lastLeaves)
		if r.VisitedLeaves > 0 {
			assert.Equal(t, float64(r.TotalLeafRecords)/float64(r.VisitedLeaves), r.AverageLeafFill)
		}
		lastNodes, lastLeaves = r.VisitedNodes, r.VisitedLeaves
	}
}

func TestFlatQueryEmptyIndex(t *testing.T) {
	ix, cleanup := scratchIndex(t, 2, 4)
	defer cleanup()
	results := drainFlat(t, ix, vector.Vector{1, 0})
	assert.Empty(t, results)
}

func TestQueryEmptyIndex(t *testing.T) {
	ix, cleanup := scratchIndex(t, 2, 4)
	defer cleanup()
	results := drainQuery(t, ix, vector.Vector{1, 0})
	assert.Empty(t, results)
}
