package bptree

import (
	"cmp"
	"slices"

	"github.com/nodeforge/bptree/internal/uid"
)

// indexNodeHeaderSize is the fixed header width of an index node page:
//
//	offset 0 : u8  object_type_tag
//	offset 1 : u16 key_count (n)
const indexNodeHeaderSize = 3

// childRef is one pivot's child reference: its identity, plus an
// accelerator pointer to the materialized wrapper once fetched. The
// wrapper pointer is never the source of truth — the UID is — so a nil
// wrapper simply means "not materialized yet," never an error.
type childRef[K cmp.Ordered, V any] struct {
	id uid.UID
	w  *wrapper[K, V]
}

// indexNode is a B+ tree interior node: sorted pivot keys plus n+1 child
// references. Like dataNode it has hot (owned) and cold (page-view)
// representations.
type indexNode[K cmp.Ordered, V any] struct {
	degree int
	kc     Codec[K]

	hot      bool
	keys     []K
	children []childRef[K, V]

	cold      []byte
	coldCount int // number of keys; len(children) = coldCount+1
}

func newIndexNode[K cmp.Ordered, V any](degree int, kc Codec[K]) *indexNode[K, V] {
	return &indexNode[K, V]{degree: degree, kc: kc, hot: true}
}

func newColdIndexNode[K cmp.Ordered, V any](degree int, kc Codec[K], raw []byte) *indexNode[K, V] {
	if len(raw) < indexNodeHeaderSize {
		fatalf("index node page too short: %d bytes", len(raw))
	}
	return &indexNode[K, V]{
		degree:    degree,
		kc:        kc,
		cold:      raw,
		coldCount: int(raw[1]) | int(raw[2])<<8,
	}
}

func (n *indexNode[K, V]) objectType() uid.ObjectType { return uid.ObjectTypeIndexNode }

func (n *indexNode[K, V]) isCold() bool { return !n.hot }

func (n *indexNode[K, V]) promoteAny() { n.promote() }

// promote decodes a cold page into owned keys/children slices.
func (n *indexNode[K, V]) promote() {
	if n.hot {
		return
	}

	kSize := n.kc.Size()
	keysOff := indexNodeHeaderSize
	childrenOff := keysOff + n.coldCount*kSize

	keys := make([]K, n.coldCount)
	for i := 0; i < n.coldCount; i++ {
		keys[i] = n.kc.Decode(n.cold[keysOff+i*kSize : keysOff+(i+1)*kSize])
	}

	children := make([]childRef[K, V], n.coldCount+1)
	for i := 0; i <= n.coldCount; i++ {
		off := childrenOff + i*uid.WireSize
		children[i] = childRef[K, V]{id: uid.Decode(n.cold[off : off+uid.WireSize])}
	}

	n.keys, n.children = keys, children
	n.hot = true
	n.cold = nil
}

func (n *indexNode[K, V]) keyCount() int {
	if n.hot {
		return len(n.keys)
	}
	return n.coldCount
}

func (n *indexNode[K, V]) needsSplit() bool      { return n.keyCount() > 2*n.degree-1 }
func (n *indexNode[K, V]) needsMerge() bool      { return n.keyCount() < n.degree-1 }
func (n *indexNode[K, V]) canTriggerSplit() bool { return n.keyCount() == 2*n.degree-1 }
func (n *indexNode[K, V]) canTriggerMerge() bool { return n.keyCount() <= n.degree-1 }
func (n *indexNode[K, V]) occupancy() int        { return n.keyCount() }

// locateChild returns the index of the child whose range contains k,
// via an upper-bound search over the sorted pivot keys.
func (n *indexNode[K, V]) locateChild(k K) int {
	n.promote()
	return upperBound(n.keys, k)
}

// upperBound returns the index of the first element strictly greater
// than k (len(keys) if none).
func upperBound[K cmp.Ordered](keys []K, k K) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] <= k {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// getChild materializes pivot i through the cache, reconciling any
// pending updated-identity relocation back into this node's pivot. The
// bool result tells the caller whether the pivot changed, so it can
// mark the owning wrapper dirty itself (this node has no dirty flag of
// its own — that lives on the wrapper; see tree.go).
func (n *indexNode[K, V]) getChild(i int, c *cache[K, V]) (w *wrapper[K, V], changed bool, err error) {
	n.promote()

	ref := &n.children[i]

	w, err = c.getObject(ref.id)
	if err != nil {
		return nil, false, err
	}
	ref.w = w

	w.mu.Lock()
	newID, changed := w.reconcileUpdatedID()
	w.mu.Unlock()

	if changed {
		ref.id = newID
	}

	return w, changed, nil
}

// insertPivot inserts key k at its lower-bound position and the right
// child immediately after it. A duplicate pivot key is an invariant
// breach: pivots are always promoted from strictly-sorted child splits.
func (n *indexNode[K, V]) insertPivot(k K, rightID uid.UID) {
	n.promote()

	i, exists := slices.BinarySearch(n.keys, k)
	if exists {
		fatalf("duplicate pivot key inserted into index node")
	}

	n.keys = slices.Insert(n.keys, i, k)
	n.children = slices.Insert(n.children, i+1, childRef[K, V]{id: rightID})
}

// split divides the node at its midpoint. promoteKey is lifted into the
// parent; the right half (keys[m+1:], children[m+1:]) becomes a new
// sibling, and self truncates to keys[:m], children[:m+1].
func (n *indexNode[K, V]) split() (right *indexNode[K, V], promoteKey K) {
	n.promote()

	m := n.keyCount() / 2
	promoteKey = n.keys[m]

	right = newIndexNode[K, V](n.degree, n.kc)
	right.keys = append(right.keys, n.keys[m+1:]...)
	right.children = append(right.children, n.children[m+1:]...)

	n.keys = n.keys[:m]
	n.children = n.children[:m+1]

	return right, promoteKey
}

// borrowFromLeft redistributes one entry from left into n when a child
// underflows and its left sibling has room. parentSeparator is the key
// currently separating left and n in their shared parent; the returned
// value is the new separator to write back into the parent.
func (n *indexNode[K, V]) borrowFromLeft(left *indexNode[K, V], parentSeparator K) (newSeparator K) {
	n.promote()
	left.promote()

	lastChild := left.children[len(left.children)-1]
	newSeparator = left.keys[len(left.keys)-1]

	left.keys = left.keys[:len(left.keys)-1]
	left.children = left.children[:len(left.children)-1]

	n.keys = slices.Insert(n.keys, 0, parentSeparator)
	n.children = slices.Insert(n.children, 0, lastChild)

	return newSeparator
}

// borrowFromRight is the mirror of borrowFromLeft.
func (n *indexNode[K, V]) borrowFromRight(right *indexNode[K, V], parentSeparator K) (newSeparator K) {
	n.promote()
	right.promote()

	firstChild := right.children[0]
	newSeparator = right.keys[0]

	right.keys = slices.Delete(right.keys, 0, 1)
	right.children = slices.Delete(right.children, 0, 1)

	n.keys = append(n.keys, parentSeparator)
	n.children = append(n.children, firstChild)

	return newSeparator
}

// mergeWith fuses right into n, re-inserting the parent separator that
// used to sit between them. right is scheduled for deletion by the
// caller.
func (n *indexNode[K, V]) mergeWith(right *indexNode[K, V], parentSeparator K) {
	n.promote()
	right.promote()

	n.keys = append(n.keys, parentSeparator)
	n.keys = append(n.keys, right.keys...)
	n.children = append(n.children, right.children...)
}

// --- rebalancable adapter methods (uniform nodeBody-typed signatures
// the tree driver calls without needing to know leaf vs interior) ---

func (n *indexNode[K, V]) splitGeneric() (nodeBody, K) {
	right, promoteKey := n.split()
	return right, promoteKey
}

func (n *indexNode[K, V]) borrowFromLeftGeneric(left nodeBody, parentSeparator K) K {
	return n.borrowFromLeft(left.(*indexNode[K, V]), parentSeparator)
}

func (n *indexNode[K, V]) borrowFromRightGeneric(right nodeBody, parentSeparator K) K {
	return n.borrowFromRight(right.(*indexNode[K, V]), parentSeparator)
}

func (n *indexNode[K, V]) mergeWithGeneric(right nodeBody, parentSeparator K) {
	n.mergeWith(right.(*indexNode[K, V]), parentSeparator)
}

// marshalBinary encodes the node using the index-node page layout: tag,
// key count, the keys array, then the (n+1) child UIDs.
func (n *indexNode[K, V]) marshalBinary() []byte {
	if !n.hot {
		out := make([]byte, len(n.cold))
		copy(out, n.cold)
		return out
	}

	kSize := n.kc.Size()
	count := len(n.keys)
	size := indexNodeHeaderSize + count*kSize + (count+1)*uid.WireSize

	buf := make([]byte, size)
	buf[0] = byte(uid.ObjectTypeIndexNode)
	buf[1] = byte(count)
	buf[2] = byte(count >> 8)

	keysOff := indexNodeHeaderSize
	childrenOff := keysOff + count*kSize

	for i, k := range n.keys {
		n.kc.Encode(buf[keysOff+i*kSize:keysOff+(i+1)*kSize], k)
	}
	for i, c := range n.children {
		off := childrenOff + i*uid.WireSize
		c.id.Encode(buf[off : off+uid.WireSize])
	}

	return buf
}
