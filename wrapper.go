package bptree

import (
	"cmp"
	"sync"
	"time"

	"github.com/nodeforge/bptree/internal/uid"
)

// nodeBody is the capability every materialized node value must offer
// the cache and the tree drivers: enough to serialize it and to know
// which wire tag it carries. The concrete types are *dataNode[K,V],
// *indexNode[K,V], and *betaIndexNode[K,V].
type nodeBody interface {
	objectType() uid.ObjectType
	marshalBinary() []byte
}

// sizedNode is the fanout/occupancy surface every node body exposes so
// the tree driver can decide split/merge/rebalance without a type
// switch per call site.
type sizedNode interface {
	needsSplit() bool
	needsMerge() bool
	canTriggerSplit() bool
	canTriggerMerge() bool
	// occupancy reports the node's current entry count (keys for an
	// interior node, key/value pairs for a leaf), used by the driver's
	// borrow-vs-merge threshold check.
	occupancy() int
}

// rebalancable is the uniform split/borrow/merge surface the driver
// drives crab-locked descent through. Leaves and interior nodes both
// implement it; a leaf ignores the parentSeparator argument since its
// own keys already carry the data a borrow/merge needs.
type rebalancable[K cmp.Ordered] interface {
	sizedNode
	splitGeneric() (nodeBody, K)
	borrowFromLeftGeneric(left nodeBody, parentSeparator K) K
	borrowFromRightGeneric(right nodeBody, parentSeparator K) K
	mergeWithGeneric(right nodeBody, parentSeparator K)
}

// wrapper is the cache's live handle on one tree node: its identity, its
// dirty/relocation bookkeeping, and the per-object lock that crab-locking
// descent acquires. Exactly one wrapper exists per live UID at a time,
// owned by the cache's map.
type wrapper[K cmp.Ordered, V any] struct {
	mu sync.RWMutex // guards inner, dirty, updatedID, and the fields below

	id        uid.UID
	updatedID *uid.UID // set once the cache has written this object back under a new identity
	dirty     bool
	inner     nodeBody // nil only for the zero-value sentinel wrapper

	// promotion heuristic bookkeeping (cold -> hot)
	accessCount int
	lastAccess  time.Time

	// replacement-policy bookkeeping; interpreted only by the active policy.
	clockBit    bool
	queueMember byte // 0 = none, 1 = recent (2Q), 2 = frequent (2Q)
	lruPrev     *wrapper[K, V]
	lruNext     *wrapper[K, V]
}

func newWrapper[K cmp.Ordered, V any](id uid.UID, inner nodeBody, dirty bool) *wrapper[K, V] {
	return &wrapper[K, V]{id: id, inner: inner, dirty: dirty, lastAccess: time.Now()}
}

// recordAccess bumps the access counter used by the cold->hot promotion
// heuristic: once the count reaches threshold, with no gap between
// accesses larger than windowMS, the access that reached it promotes
// (see cache.getObject). A gap larger than the window decays the counter
// back to 1 rather than accumulating forever.
func (w *wrapper[K, V]) recordAccess(windowMS int) {
	now := time.Now()
	if now.Sub(w.lastAccess) > time.Duration(windowMS)*time.Millisecond {
		w.accessCount = 1
	} else {
		w.accessCount++
	}
	w.lastAccess = now
}

func (w *wrapper[K, V]) shouldPromote(threshold int) bool {
	return w.accessCount >= threshold
}

// markDirty flags the wrapper as holding unwritten changes. Must be
// called with mu held for write.
func (w *wrapper[K, V]) markDirty() { w.dirty = true }

// reconcileUpdatedID is the write-back visibility mechanism: if another
// goroutine's eviction relocated this wrapper, its updatedID is
// consumed here and becomes the wrapper's current id; the caller (an
// index node's getChild) is expected to propagate the same value into
// its own pivot and mark itself dirty.
func (w *wrapper[K, V]) reconcileUpdatedID() (newID uid.UID, changed bool) {
	if w.updatedID == nil {
		return uid.UID{}, false
	}
	id := *w.updatedID
	w.id = id
	w.updatedID = nil
	return id, true
}
