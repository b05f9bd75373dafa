package index

import (
	"container/heap"

	"github.com/nicolagi/vtree/vector"
)

// QueryResult is one record yielded by a Cursor, together with the
// traversal telemetry spec.md §5 asks every Next to report fresh:
// counts computed from the state of the walk up to and including this
// record, not a final summary.
type QueryResult struct {
	Distance float64
	Record   Record

	VisitedNodes     int
	VisitedLeaves    int
	TotalLeafRecords int
	AverageLeafFill  float64
}

// nodeStream is the pull interface both traversal strategies
// implement; Cursor is agnostic to which one it wraps.
type nodeStream interface {
	next() (float64, Record, bool, error)
	stats() (visitedNodes, visitedLeaves, totalLeafRecords int)
}

// Cursor is the public iterator returned by Index.Query and
// Index.FlatQuery. A Query cursor does no I/O until Next is called,
// mirroring the Python generator the traversal is grounded on; a
// FlatQuery cursor has already walked the whole tree by the time
// FlatQuery returns it.
type Cursor struct {
	stream nodeStream
}

// Next advances the cursor and reports whether a result was produced.
// A false return with a nil error means the traversal is exhausted.
func (c *Cursor) Next() (QueryResult, bool, error) {
	dist, rec, ok, err := c.stream.next()
	if err != nil || !ok {
		return QueryResult{}, false, err
	}
	visitedNodes, visitedLeaves, totalLeafRecords := c.stream.stats()
	res := QueryResult{
		Distance:         dist,
		Record:           rec,
		VisitedNodes:     visitedNodes,
		VisitedLeaves:    visitedLeaves,
		TotalLeafRecords: totalLeafRecords,
	}
	if visitedLeaves > 0 {
		res.AverageLeafFill = float64(totalLeafRecords) / float64(visitedLeaves)
	}
	return res, true, nil
}

// entryKind tags a priority queue entry as a pending record (ready to
// emit) or an unopened child (pivot distance only known so far).
type entryKind uint8

const (
	entryRecord entryKind = iota
	entryChild
)

type queueEntry struct {
	dist float64
	kind entryKind
	rec  Record
	nid  string
}

type entryHeap []queueEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(queueEntry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// queryNodeStream is the best-first approximate traversal (C6):
// a priority queue ordered by distance, seeded with the root as an
// unopened child. Popping an unopened child opens it (loading it from
// the cache/store on first visit) and pushes its contents; popping a
// record emits it. An unopened child is queued at its pivot's
// distance, so it is opened only after every queued record closer
// than that pivot has been emitted: the heap makes the "should I open
// the next pivot" decision implicitly by ordering. A pivot's distance
// is not a lower bound on the distances of the records beneath it, so
// an opened child can yield records closer than one already emitted;
// such records are skipped, which keeps the emitted distances
// non-decreasing at the cost of omitting them from the results.
type queryNodeStream struct {
	ix  *Index
	key vector.Vector

	pq       entryHeap
	lastDist float64

	visitedNodes     int
	visitedLeaves    int
	totalLeafRecords int
}

func newQueryNodeStream(ix *Index, rootID string, key vector.Vector) *queryNodeStream {
	s := &queryNodeStream{ix: ix, key: key}
	heap.Push(&s.pq, queueEntry{dist: 0, kind: entryChild, nid: rootID})
	return s
}

func (s *queryNodeStream) next() (float64, Record, bool, error) {
	for s.pq.Len() > 0 {
		e := heap.Pop(&s.pq).(queueEntry)
		if e.kind == entryRecord {
			if e.dist < s.lastDist {
				continue
			}
			s.lastDist = e.dist
			return e.dist, e.rec, true, nil
		}
		n, err := s.ix.getNode(e.nid)
		if err != nil {
			return 0, Record{}, false, err
		}
		s.visitedNodes++
		switch n.kind {
		case kindLeaf:
			s.visitedLeaves++
			s.totalLeafRecords += len(n.records)
			for _, dr := range sortRecordsByDistance(s.key, n.records) {
				heap.Push(&s.pq, queueEntry{dist: dr.dist, kind: entryRecord, rec: dr.rec})
			}
		case kindInternal:
			for _, cd := range sortChildrenByDistance(s.key, n.children) {
				heap.Push(&s.pq, queueEntry{dist: cd.dist, kind: entryChild, nid: cd.nid})
			}
		}
	}
	return 0, Record{}, false, nil
}

func (s *queryNodeStream) stats() (int, int, int) {
	return s.visitedNodes, s.visitedLeaves, s.totalLeafRecords
}

// flatNodeStream is the exhaustive traversal (C6): every node reachable
// from the root is opened eagerly before the first result is produced,
// then every record is emitted in exact distance order. It exists to
// check the approximate queryNodeStream against ground truth, per
// spec.md §5's "flat query" requirement, and intentionally does no
// pruning.
type flatNodeStream struct {
	key vector.Vector

	records []distRecord
	pos     int

	visitedNodes     int
	visitedLeaves    int
	totalLeafRecords int
}

func newFlatNodeStream(ix *Index, rootID string, key vector.Vector) (*flatNodeStream, error) {
	s := &flatNodeStream{key: key}
	if err := s.walk(ix, rootID); err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(s.records))
	for _, dr := range s.records {
		records = append(records, dr.rec)
	}
	s.records = sortRecordsByDistance(key, records)
	return s, nil
}

func (s *flatNodeStream) walk(ix *Index, nid string) error {
	n, err := ix.getNode(nid)
	if err != nil {
		return err
	}
	s.visitedNodes++
	switch n.kind {
	case kindLeaf:
		s.visitedLeaves++
		s.totalLeafRecords += len(n.records)
		for _, r := range n.records {
			s.records = append(s.records, distRecord{rec: r})
		}
	case kindInternal:
		for _, c := range n.children {
			if err := s.walk(ix, c.nid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *flatNodeStream) next() (float64, Record, bool, error) {
	if s.pos >= len(s.records) {
		return 0, Record{}, false, nil
	}
	dr := s.records[s.pos]
	s.pos++
	return dr.dist, dr.rec, true, nil
}

func (s *flatNodeStream) stats() (int, int, int) {
	return s.visitedNodes, s.visitedLeaves, s.totalLeafRecords
}
