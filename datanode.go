package bptree

import (
	"cmp"
	"slices"

	"github.com/nodeforge/bptree/internal/uid"
)

// dataNodeHeaderSize is the fixed header width of a data node page:
//
//	offset 0 : u8  object_type_tag
//	offset 1 : u16 entry_count (little-endian)
const dataNodeHeaderSize = 3

// dataNode is a leaf: a sorted (key, value) sequence. It exists in one
// of two representations at any moment — hot (owned, mutable slices) or
// cold (a read-only view over a page read straight from a tier).
// Mutating operations promote a cold node to hot first.
//
// A dataNode tagged ObjectTypeDataNodeBeta additionally batches inserts
// in pendingInserts before committing them into the sorted arrays,
// amortizing the shift cost of each insert.
type dataNode[K cmp.Ordered, V any] struct {
	degree  int
	kc      Codec[K]
	vc      Codec[V]
	objType uid.ObjectType

	hot    bool
	keys   []K
	values []V

	cold      []byte
	coldCount int

	pendingInserts []message[K, V] // beta leaves only
}

// newDataNode creates an empty hot leaf.
func newDataNode[K cmp.Ordered, V any](degree int, kc Codec[K], vc Codec[V], beta bool) *dataNode[K, V] {
	ot := uid.ObjectTypeDataNode
	if beta {
		ot = uid.ObjectTypeDataNodeBeta
	}
	return &dataNode[K, V]{degree: degree, kc: kc, vc: vc, objType: ot, hot: true}
}

// newColdDataNode wraps raw as a cold view without decoding it.
func newColdDataNode[K cmp.Ordered, V any](degree int, kc Codec[K], vc Codec[V], raw []byte) *dataNode[K, V] {
	if len(raw) < dataNodeHeaderSize {
		fatalf("data node page too short: %d bytes", len(raw))
	}
	n := &dataNode[K, V]{
		degree:    degree,
		kc:        kc,
		vc:        vc,
		objType:   uid.ObjectType(raw[0]),
		cold:      raw,
		coldCount: int(raw[1]) | int(raw[2])<<8,
	}
	return n
}

func (n *dataNode[K, V]) isBeta() bool { return n.objType == uid.ObjectTypeDataNodeBeta }

// promote converts a cold view into an owned hot representation. No-op
// if already hot.
func (n *dataNode[K, V]) promote() {
	if n.hot {
		return
	}

	keys := make([]K, n.coldCount)
	values := make([]V, n.coldCount)

	kSize, vSize := n.kc.Size(), n.vc.Size()
	keysOff := dataNodeHeaderSize
	valuesOff := keysOff + n.coldCount*kSize

	for i := 0; i < n.coldCount; i++ {
		keys[i] = n.kc.Decode(n.cold[keysOff+i*kSize : keysOff+(i+1)*kSize])
		values[i] = n.vc.Decode(n.cold[valuesOff+i*vSize : valuesOff+(i+1)*vSize])
	}

	n.keys, n.values = keys, values
	n.hot = true
	n.cold = nil
}

// length reports the number of (key,value) entries, whichever
// representation is current.
func (n *dataNode[K, V]) length() int {
	if n.hot {
		return len(n.keys)
	}
	return n.coldCount
}

func (n *dataNode[K, V]) needsSplit() bool { return n.length() > 2*n.degree-1 }
func (n *dataNode[K, V]) needsMerge() bool { return n.length() < n.degree-1 }
func (n *dataNode[K, V]) occupancy() int   { return n.length() }

// canTriggerSplit reports whether the node is already saturated, i.e.
// one more insert would require a split. Used by the driver's top-down
// preemptive split-on-the-way-down.
func (n *dataNode[K, V]) canTriggerSplit() bool { return n.length() == 2*n.degree-1 }

// canTriggerMerge is the pre-merge (proactive) predicate: the driver
// rebalances a child before descending into it if this holds.
func (n *dataNode[K, V]) canTriggerMerge() bool { return n.length() <= n.degree-1 }

// find performs a lower-bound binary search for an exact match. Pending
// beta inserts are consulted first since they shadow the sorted array.
func (n *dataNode[K, V]) find(k K) (V, bool) {
	for i := len(n.pendingInserts) - 1; i >= 0; i-- {
		if n.pendingInserts[i].key == k {
			return n.pendingInserts[i].value, true
		}
	}

	if n.hot {
		i, ok := slices.BinarySearch(n.keys, k)
		if !ok {
			var zero V
			return zero, false
		}
		return n.values[i], true
	}

	return n.findCold(k)
}

func (n *dataNode[K, V]) findCold(k K) (V, bool) {
	kSize, vSize := n.kc.Size(), n.vc.Size()
	keysOff := dataNodeHeaderSize
	valuesOff := keysOff + n.coldCount*kSize

	lo, hi := 0, n.coldCount
	for lo < hi {
		mid := (lo + hi) / 2
		midKey := n.kc.Decode(n.cold[keysOff+mid*kSize : keysOff+(mid+1)*kSize])
		switch {
		case midKey == k:
			return n.vc.Decode(n.cold[valuesOff+mid*vSize : valuesOff+(mid+1)*vSize]), true
		case midKey < k:
			lo = mid + 1
		default:
			hi = mid
		}
	}

	var zero V
	return zero, false
}

// insert adds (k,v) in sorted position. For beta leaves it instead
// appends to pendingInserts and flushes once the batch is large enough
// to amortize; the duplicate check still happens immediately so
// KeyAlreadyExists remains synchronous and observable.
func (n *dataNode[K, V]) insert(k K, v V) Result {
	if _, exists := n.find(k); exists {
		return ResultKeyAlreadyExists
	}

	if n.isBeta() {
		n.pendingInserts = append(n.pendingInserts, insertMessage[K, V](k, v))
		if len(n.pendingInserts) >= n.degree {
			n.flushPending()
		}
		return ResultSuccess
	}

	n.promote()

	i, _ := slices.BinarySearch(n.keys, k)
	n.keys = slices.Insert(n.keys, i, k)
	n.values = slices.Insert(n.values, i, v)

	return ResultSuccess
}

// flushPending merges pendingInserts into the sorted arrays. Promotes
// first since it mutates the owned arrays.
func (n *dataNode[K, V]) flushPending() {
	if len(n.pendingInserts) == 0 {
		return
	}

	n.promote()

	for _, m := range n.pendingInserts {
		i, found := slices.BinarySearch(n.keys, m.key)
		if found {
			n.values[i] = m.value
			continue
		}
		n.keys = slices.Insert(n.keys, i, m.key)
		n.values = slices.Insert(n.values, i, m.value)
	}

	n.pendingInserts = nil
}

// applyMessage upserts or deletes a single message during a buffered
// interior node's flush-down, ignoring the already-exists/does-not-exist
// cases a direct insert/remove call would reject: by the time a message
// reaches a leaf this way, any duplicate or missing-key conflict was
// already resolved by whichever buffer last held it.
func (n *dataNode[K, V]) applyMessage(m message[K, V]) {
	n.flushPending()
	n.promote()

	switch m.op {
	case MsgDelete:
		if i, ok := slices.BinarySearch(n.keys, m.key); ok {
			n.keys = slices.Delete(n.keys, i, i+1)
			n.values = slices.Delete(n.values, i, i+1)
		}
	default:
		i, ok := slices.BinarySearch(n.keys, m.key)
		if ok {
			n.values[i] = m.value
			return
		}
		n.keys = slices.Insert(n.keys, i, m.key)
		n.values = slices.Insert(n.values, i, m.value)
	}
}

// remove splices out k. Promotes first; mutating the cold form is
// never allowed.
func (n *dataNode[K, V]) remove(k K) Result {
	n.flushPending()
	n.promote()

	i, ok := slices.BinarySearch(n.keys, k)
	if !ok {
		return ResultKeyDoesNotExist
	}

	n.keys = slices.Delete(n.keys, i, i+1)
	n.values = slices.Delete(n.values, i, i+1)

	return ResultSuccess
}

// split divides the node at n/2; the right half becomes a new sibling.
// pivotKey is the first key of the right half.
func (n *dataNode[K, V]) split() (right *dataNode[K, V], pivotKey K) {
	n.flushPending()
	n.promote()

	mid := n.length() / 2

	right = newDataNode[K, V](n.degree, n.kc, n.vc, n.isBeta())
	right.keys = append(right.keys, n.keys[mid:]...)
	right.values = append(right.values, n.values[mid:]...)

	pivotKey = right.keys[0]

	n.keys = n.keys[:mid]
	n.values = n.values[:mid]

	return right, pivotKey
}

// borrowFromLeft moves left's last entry to the front of n. The moved
// key becomes the new separating pivot.
func (n *dataNode[K, V]) borrowFromLeft(left *dataNode[K, V]) (newPivot K) {
	n.flushPending()
	n.promote()
	left.flushPending()
	left.promote()

	li := len(left.keys) - 1
	k, v := left.keys[li], left.values[li]

	left.keys = left.keys[:li]
	left.values = left.values[:li]

	n.keys = slices.Insert(n.keys, 0, k)
	n.values = slices.Insert(n.values, 0, v)

	return k
}

// borrowFromRight moves right's first entry to the back of n. The new
// first key of right becomes the new separating pivot.
func (n *dataNode[K, V]) borrowFromRight(right *dataNode[K, V]) (newPivot K) {
	n.flushPending()
	n.promote()
	right.flushPending()
	right.promote()

	k, v := right.keys[0], right.values[0]

	right.keys = slices.Delete(right.keys, 0, 1)
	right.values = slices.Delete(right.values, 0, 1)

	n.keys = append(n.keys, k)
	n.values = append(n.values, v)

	return right.keys[0]
}

// mergeWith appends right's entries onto n. right is scheduled for
// deletion by the caller (the parent index node).
func (n *dataNode[K, V]) mergeWith(right *dataNode[K, V]) {
	n.flushPending()
	n.promote()
	right.flushPending()
	right.promote()

	n.keys = append(n.keys, right.keys...)
	n.values = append(n.values, right.values...)
}

// marshalBinary encodes the node's current entries using the data-node
// page layout: tag, count, then the keys array, then the values array.
func (n *dataNode[K, V]) marshalBinary() []byte {
	n.flushPending()

	if !n.hot {
		// Unmodified cold page: return the bytes verbatim.
		out := make([]byte, len(n.cold))
		copy(out, n.cold)
		return out
	}

	kSize, vSize := n.kc.Size(), n.vc.Size()
	count := len(n.keys)
	size := dataNodeHeaderSize + count*(kSize+vSize)

	buf := make([]byte, size)
	buf[0] = byte(n.objType)
	buf[1] = byte(count)
	buf[2] = byte(count >> 8)

	keysOff := dataNodeHeaderSize
	valuesOff := keysOff + count*kSize

	for i, k := range n.keys {
		n.kc.Encode(buf[keysOff+i*kSize:keysOff+(i+1)*kSize], k)
	}
	for i, v := range n.values {
		n.vc.Encode(buf[valuesOff+i*vSize:valuesOff+(i+1)*vSize], v)
	}

	return buf
}

func (n *dataNode[K, V]) objectType() uid.ObjectType { return n.objType }

func (n *dataNode[K, V]) isCold() bool { return !n.hot }
func (n *dataNode[K, V]) promoteAny() { n.promote() }

// --- rebalancable adapter methods. A leaf's borrow/merge doesn't need
// the parent separator (its own keys carry the data), so it's accepted
// and ignored, keeping the signature uniform with indexNode's.

func (n *dataNode[K, V]) splitGeneric() (nodeBody, K) {
	right, pivot := n.split()
	return right, pivot
}

func (n *dataNode[K, V]) borrowFromLeftGeneric(left nodeBody, _ K) K {
	return n.borrowFromLeft(left.(*dataNode[K, V]))
}

func (n *dataNode[K, V]) borrowFromRightGeneric(right nodeBody, _ K) K {
	return n.borrowFromRight(right.(*dataNode[K, V]))
}

func (n *dataNode[K, V]) mergeWithGeneric(right nodeBody, _ K) {
	n.mergeWith(right.(*dataNode[K, V]))
}
