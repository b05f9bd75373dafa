package index

import (
	"sort"

	"github.com/nicolagi/vtree/vector"
)

type kind uint8

const (
	kindLeaf kind = iota
	kindInternal
)

// child is one (pivot, child node id) entry of an internal node. The
// design always produces exactly two per split, but the
// representation is a slice, as spec.md §3 allows an implementation
// to extend it.
type child struct {
	pivot vector.Vector
	nid   string
}

// node is the tagged leaf/internal variant (spec.md §9's redesign
// note: a tag, not "children empty iff leaf" duck typing). ix is the
// owning Index, set whenever the node is loaded or minted, mirroring
// VNode.tree in original_source/vtree.py; it is never serialized.
type node struct {
	ix *Index

	id       string
	kind     kind
	records  []Record
	children []child
}

// maxSplitDepth bounds consecutive no-progress splits spec.md §4.4 and
// §9 call for: if partitioning an overflowing leaf's records between
// the two freshly chosen pivots routes every record to the same
// child, the split made no progress, and resplitting that lone
// overflowing child is likely to draw pivots from the same
// too-close cluster and repeat the same degenerate partition. The
// streak of consecutive no-progress splits, not the tree's nesting
// depth, is what this bounds; once it reaches maxSplitDepth the node
// is force-split evenly by scan order instead, guaranteeing both
// children get at least one record. This resolves the open design
// note spec.md §9 leaves unaddressed.
const maxSplitDepth = 8

func newNode(ix *Index, id string) *node {
	return &node{ix: ix, id: id, kind: kindLeaf}
}

func (n *node) markDirty() {
	n.ix.cache.markDirty(n)
}

// insert appends the record to this leaf, splitting if it overflows,
// or routes to the nearest child if this is an internal node. A fresh
// overflow here always starts a new no-progress streak at zero.
func (n *node) insert(rec Record) error {
	if n.kind == kindLeaf {
		n.records = append(n.records, rec)
		n.markDirty()
		if uint32(len(n.records)) > n.ix.cfg.LeafSize {
			return n.split(0)
		}
		return nil
	}
	c, err := n.nearestChild(rec.Key)
	if err != nil {
		return err
	}
	return c.insert(rec)
}

// assign is insert's counterpart used only while redistributing an
// overflowing node's records across its two freshly split children:
// it threads the no-progress streak through instead of always
// starting a new one, so a chain of degenerate splits (every record
// landing on the same side) is tracked across the recursion and
// eventually trips the maxSplitDepth fallback in split.
func (n *node) assign(rec Record, streak int) error {
	if n.kind == kindLeaf {
		n.records = append(n.records, rec)
		n.markDirty()
		if uint32(len(n.records)) > n.ix.cfg.LeafSize {
			return n.split(streak)
		}
		return nil
	}
	c, err := n.nearestChild(rec.Key)
	if err != nil {
		return err
	}
	return c.assign(rec, streak)
}

// remove finds the first record whose key is all-close to k and
// removes it, or routes to the nearest child on an internal node.
// Not found is a silent no-op (ok=false), per spec.md §4.4.
func (n *node) remove(k vector.Vector) (Record, bool, error) {
	if n.kind == kindLeaf {
		for i, r := range n.records {
			if vector.AllClose(r.Key, k) {
				n.records = append(n.records[:i], n.records[i+1:]...)
				n.markDirty()
				return r, true, nil
			}
		}
		return Record{}, false, nil
	}
	c, err := n.nearestChild(k)
	if err != nil {
		return Record{}, false, err
	}
	return c.remove(k)
}

// nearestChild loads and returns the child whose pivot is closest to
// key, ties broken by scan order (the first entry achieving the
// minimum wins, matching Python's min() over a list).
func (n *node) nearestChild(key vector.Vector) (*node, error) {
	best := 0
	bestDist := vector.Distance(key, n.children[0].pivot)
	for i := 1; i < len(n.children); i++ {
		d := vector.Distance(key, n.children[i].pivot)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return n.ix.getNode(n.children[best].nid)
}

// split turns an overflowing leaf into an internal node: selectSplits
// picks two pivots and mints their empty child leaves, then every
// record is routed to whichever pivot is nearest, ties broken by
// scan order. If a child still overflows, it recurses (spec.md §4.4:
// "implementations MUST re-check after assignment"). streak counts
// consecutive no-progress splits of the same overflowing batch (every
// record landing on one side); once it reaches maxSplitDepth the node
// is force-split evenly by scan order to guarantee termination in the
// degenerate equidistant case spec.md §9 flags. Any split that
// actually divides records across both children resets the streak to
// zero for its children's own future splits.
func (n *node) split(streak int) error {
	a, b, nidA, nidB, err := n.selectSplits()
	if err != nil {
		return err
	}
	childA, err := n.ix.getNode(nidA)
	if err != nil {
		return err
	}
	childB, err := n.ix.getNode(nidB)
	if err != nil {
		return err
	}
	n.children = []child{{pivot: a, nid: nidA}, {pivot: b, nid: nidB}}
	records := n.records
	n.records = nil
	n.kind = kindInternal
	n.markDirty()

	if streak >= maxSplitDepth {
		return n.forceSplit(records, childA, childB)
	}

	targets := make([]*node, len(records))
	var countA, countB int
	for i, r := range records {
		da := vector.Distance(r.Key, a)
		db := vector.Distance(r.Key, b)
		if db < da {
			targets[i] = childB
			countB++
		} else {
			targets[i] = childA
			countA++
		}
	}
	nextStreak := streak + 1
	if countA > 0 && countB > 0 {
		nextStreak = 0
	}
	for i, r := range records {
		if err := targets[i].assign(r, nextStreak); err != nil {
			return err
		}
	}
	return nil
}

// forceSplit hands out records to the two children alternately by
// scan order, guaranteeing progress regardless of how close the
// records are to either pivot. Since progress is therefore always
// made here, any further overflow in childA/childB starts a fresh
// no-progress streak at zero.
func (n *node) forceSplit(records []Record, childA, childB *node) error {
	for i, r := range records {
		target := childA
		if i%2 == 1 {
			target = childB
		}
		if err := target.assign(r, 0); err != nil {
			return err
		}
	}
	return nil
}

// selectSplits implements the farthest-first refinement of spec.md
// §4.4: draw two distinct records at random, then repeatedly replace
// whichever pivot is nearer to a candidate that exceeds the current
// inter-pivot distance. Mints the two new node ids and materializes
// them as empty leaves, exactly as VNode.selectSplits does via
// self.tree._newNid()/_getNode in original_source/vtree.py.
func (n *node) selectSplits() (a, b vector.Vector, nidA, nidB string, err error) {
	rng := n.ix.rng
	i, j := rng.Intn(len(n.records)), 0
	for {
		j = rng.Intn(len(n.records))
		if j != i {
			break
		}
		if len(n.records) == 1 {
			j = i
			break
		}
	}
	a = n.records[i].Key
	b = n.records[j].Key
	d := vector.Distance(a, b)
	for _, r := range n.records {
		x := r.Key
		da := vector.Distance(a, x)
		db := vector.Distance(b, x)
		if da > db {
			if da > d {
				d = da
				b = x
			}
		} else {
			if db > d {
				d = db
				a = x
			}
		}
	}
	nidA, err = n.ix.newNodeID()
	if err != nil {
		return
	}
	nidB, err = n.ix.newNodeID()
	if err != nil {
		return
	}
	if _, err = n.ix.getNode(nidA); err != nil {
		return
	}
	if _, err = n.ix.getNode(nidB); err != nil {
		return
	}
	return a, b, nidA, nidB, nil
}

// distRecord pairs a record with its distance from the query key,
// the unit sorted by sortRecordsByDistance and consumed by the
// leaf branches of both traversal kinds.
type distRecord struct {
	dist float64
	rec  Record
}

func sortRecordsByDistance(k vector.Vector, records []Record) []distRecord {
	out := make([]distRecord, len(records))
	for i, r := range records {
		out[i] = distRecord{dist: vector.Distance(k, r.Key), rec: r}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// childDist pairs a child with its pivot's distance from the query
// key, sorted ascending (closest pivot explored first).
type childDist struct {
	dist float64
	nid  string
}

func sortChildrenByDistance(k vector.Vector, children []child) []childDist {
	out := make([]childDist, len(children))
	for i, c := range children {
		out[i] = childDist{dist: vector.Distance(k, c.pivot), nid: c.nid}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}
