package bptree

import (
	"cmp"
	"context"

	"go.uber.org/zap"

	"github.com/nodeforge/bptree/internal/uid"
)

// Tree is the plain B+ tree driver: crab-locked descent with preemptive
// top-down splitting on Insert and preemptive top-down rebalancing on
// Delete, so no lock is ever re-acquired higher up the path once
// released going down.
type Tree[K cmp.Ordered, V any] struct {
	degree int
	kc     Codec[K]
	vc     Codec[V]
	cache  *cache[K, V]
	log    *zap.Logger

	rootID uid.UID
}

// newTree builds a driver around an already-initialized root leaf.
func newTree[K cmp.Ordered, V any](degree int, kc Codec[K], vc Codec[V], c *cache[K, V], log *zap.Logger, rootID uid.UID) *Tree[K, V] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tree[K, V]{degree: degree, kc: kc, vc: vc, cache: c, log: log, rootID: rootID}
}

// RootID is the current root's identity, as persisted by a checkpoint.
func (t *Tree[K, V]) RootID() uid.UID { return t.rootID }

// Search looks up k, crabbing read locks down to the owning leaf and
// releasing each parent as soon as the child is locked.
func (t *Tree[K, V]) Search(k K) (V, Result) {
	w, err := t.cache.getObject(t.rootID)
	if err != nil {
		fatalf("search: root %v unreachable: %v", t.rootID, err)
	}
	w.mu.RLock()

	for {
		switch body := w.inner.(type) {
		case *dataNode[K, V]:
			v, ok := body.find(k)
			w.mu.RUnlock()
			if !ok {
				var zero V
				return zero, ResultKeyDoesNotExist
			}
			return v, ResultSuccess

		case *indexNode[K, V]:
			i := body.locateChild(k)
			child, _, err := body.getChild(i, t.cache)
			if err != nil {
				w.mu.RUnlock()
				fatalf("search: child fetch: %v", err)
			}
			child.mu.RLock()
			w.mu.RUnlock()
			w = child

		default:
			w.mu.RUnlock()
			fatalf("search: unrecognized node body %T", body)
		}
	}
}

// Insert adds (k,v), splitting saturated nodes on the way down so the
// node ultimately written into is always guaranteed to have room. A
// pre-saturated root is split first, growing the tree by one level.
func (t *Tree[K, V]) Insert(k K, v V) Result {
	w, err := t.cache.getObject(t.rootID)
	if err != nil {
		fatalf("insert: root %v unreachable: %v", t.rootID, err)
	}
	w.mu.Lock()

	if sn, ok := w.inner.(rebalancable[K]); ok && sn.canTriggerSplit() {
		w = t.splitRootLocked(w)
	}

	for {
		switch body := w.inner.(type) {
		case *dataNode[K, V]:
			res := body.insert(k, v)
			if res == ResultSuccess {
				w.markDirty()
			}
			w.mu.Unlock()
			return res

		case *indexNode[K, V]:
			i := body.locateChild(k)
			child, changed, err := body.getChild(i, t.cache)
			if err != nil {
				w.mu.Unlock()
				fatalf("insert: child fetch: %v", err)
			}
			if changed {
				w.markDirty()
			}

			child.mu.Lock()
			if sn, ok := child.inner.(rebalancable[K]); ok && sn.canTriggerSplit() {
				t.splitChildLocked(w, body, i, child)
				// Re-locate: k may now belong to the newly inserted
				// right sibling.
				i = body.locateChild(k)
				var err2 error
				child, changed, err2 = body.getChild(i, t.cache)
				if err2 != nil {
					w.mu.Unlock()
					fatalf("insert: post-split child fetch: %v", err2)
				}
				if changed {
					w.markDirty()
				}
				child.mu.Lock()
			}

			w.mu.Unlock()
			w = child

		default:
			w.mu.Unlock()
			fatalf("insert: unrecognized node body %T", body)
		}
	}
}

// splitRootLocked splits a saturated root, installing a fresh index node
// above it as the new root. w must already be write-locked; it is left
// unlocked on return and the new root (locked) is returned instead.
func (t *Tree[K, V]) splitRootLocked(w *wrapper[K, V]) *wrapper[K, V] {
	sn := w.inner.(rebalancable[K])
	right, promoteKey := sn.splitGeneric()

	rightW := t.cache.createObjectOfType(right.objectType(), right)

	newRoot := newIndexNode[K, V](t.degree, t.kc)
	newRoot.hot = true
	newRoot.keys = []K{promoteKey}
	newRoot.children = []childRef[K, V]{{id: w.id}, {id: rightW.id}}

	newRootW := t.cache.createObjectOfType(uid.ObjectTypeIndexNode, newRoot)

	w.markDirty()
	w.mu.Unlock()

	t.rootID = newRootW.id
	newRootW.mu.Lock()
	return newRootW
}

// splitChildLocked splits child (already write-locked, a saturated
// child of parent at pivot index i) and installs the promoted key
// and new sibling into parent. parent and child remain locked by the
// caller's responsibility; child's lock is released here since the
// caller re-fetches the correct post-split child next.
func (t *Tree[K, V]) splitChildLocked(parent *wrapper[K, V], parentBody *indexNode[K, V], i int, child *wrapper[K, V]) {
	sn := child.inner.(rebalancable[K])
	right, promoteKey := sn.splitGeneric()

	rightW := t.cache.createObjectOfType(right.objectType(), right)

	parentBody.insertPivot(promoteKey, rightW.id)
	parent.markDirty()
	child.markDirty()
	child.mu.Unlock()
}

// Remove deletes k, rebalancing underflowing children on the way down
// (preemptive top-down merge-on-the-way-down) so the node ultimately
// descended into always has at least degree entries to safely lose one
// from. The root is allowed to underflow; if it becomes an index node
// with no pivots and a single child, the tree shrinks by one level.
func (t *Tree[K, V]) Remove(k K) Result {
	w, err := t.cache.getObject(t.rootID)
	if err != nil {
		fatalf("remove: root %v unreachable: %v", t.rootID, err)
	}
	w.mu.Lock()

	for {
		switch body := w.inner.(type) {
		case *dataNode[K, V]:
			res := body.remove(k)
			if res == ResultSuccess {
				w.markDirty()
			}
			w.mu.Unlock()
			return res

		case *indexNode[K, V]:
			i := body.locateChild(k)
			child, changed, err := body.getChild(i, t.cache)
			if err != nil {
				w.mu.Unlock()
				fatalf("remove: child fetch: %v", err)
			}
			if changed {
				w.markDirty()
			}

			child.mu.Lock()
			if sn, ok := child.inner.(rebalancable[K]); ok && sn.canTriggerMerge() && body.keyCount() > 0 {
				newIdx, removedRightSibling := t.rebalanceChildLocked(w, body, i, child)
				i = newIdx
				child.mu.Unlock()

				if removedRightSibling {
					w.markDirty()
				}

				// Root may have collapsed to a single child.
				if w.id == t.rootID {
					if collapsed, newRootW := t.maybeCollapseRootLocked(w, body); collapsed {
						w = newRootW
						continue
					}
				}

				var err2 error
				child, changed, err2 = body.getChild(i, t.cache)
				if err2 != nil {
					w.mu.Unlock()
					fatalf("remove: post-rebalance child fetch: %v", err2)
				}
				if changed {
					w.markDirty()
				}
				child.mu.Lock()
			}

			w.mu.Unlock()
			w = child

		default:
			w.mu.Unlock()
			fatalf("remove: unrecognized node body %T", body)
		}
	}
}

// spareThreshold is ceil(degree/2): a sibling must hold strictly more
// than this many entries to have one to spare via borrow; at or below
// it, rebalancing must merge the two nodes instead of lending from one.
func spareThreshold(degree int) int {
	return (degree + 1) / 2
}

// rebalanceChildLocked restores child at pivot index i to at least
// degree entries: it prefers borrowing from the left sibling, then the
// right sibling, and as a last resort merges child into its left sibling
// (or, with no left sibling, merges the right sibling into child). A
// sibling may only lend an entry if it
// holds more than spareThreshold(degree) keys; at or below that, the two
// nodes merge. parent and child are both already write-locked on entry;
// child remains locked on return (it may now be a freshly merged node,
// still safe to descend into). Returns the pivot index to re-fetch from
// parent and whether a right sibling was deleted (parent's
// pivot/children arrays shrank).
func (t *Tree[K, V]) rebalanceChildLocked(parent *wrapper[K, V], parentBody *indexNode[K, V], i int, child *wrapper[K, V]) (newIdx int, removedSibling bool) {
	hasLeft := i > 0
	hasRight := i < parentBody.keyCount()
	threshold := spareThreshold(t.degree)

	if hasLeft {
		leftW, _, err := parentBody.getChild(i-1, t.cache)
		if err != nil {
			fatalf("rebalance: left sibling fetch: %v", err)
		}
		leftW.mu.Lock()
		leftSized := leftW.inner.(sizedNode)
		if leftSized.occupancy() <= threshold {
			// Left has nothing to spare; fall through to try right,
			// then merge.
			leftW.mu.Unlock()
		} else {
			t.borrowFromLeftSiblingLocked(parentBody, i-1, leftW, i, child)
			leftW.mu.Unlock()
			parent.markDirty()
			return i, false
		}
	}

	if hasRight {
		rightW, _, err := parentBody.getChild(i+1, t.cache)
		if err != nil {
			fatalf("rebalance: right sibling fetch: %v", err)
		}
		rightW.mu.Lock()
		rightSized := rightW.inner.(sizedNode)
		if rightSized.occupancy() > threshold {
			t.borrowFromRightSiblingLocked(parentBody, i, child, i+1, rightW)
			rightW.mu.Unlock()
			parent.markDirty()
			return i, false
		}

		if !hasLeft {
			// No left sibling: merge child <- right.
			t.mergeLocked(parentBody, i, child, i+1, rightW)
			t.cache.remove(rightW.id)
			parent.markDirty()
			return i, true
		}
		rightW.mu.Unlock()
	}

	// Merge child into its left sibling; child's position (i)
	// disappears from parent.
	leftW, _, err := parentBody.getChild(i-1, t.cache)
	if err != nil {
		fatalf("rebalance: left sibling fetch (merge path): %v", err)
	}
	leftW.mu.Lock()
	t.mergeLocked(parentBody, i-1, leftW, i, child)
	t.cache.remove(child.id)
	parent.markDirty()
	leftW.mu.Unlock()

	// child (at the old index i) no longer exists in parentBody; the
	// caller re-fetches pivot i-1, now the merged-into left sibling.
	return i - 1, true
}

// borrowFromLeftSiblingLocked replenishes the underflowing child at
// childIdx by moving one entry from its left sibling at siblingIdx
// (== childIdx-1), rewriting the separator between them in parentBody.
func (t *Tree[K, V]) borrowFromLeftSiblingLocked(parentBody *indexNode[K, V], siblingIdx int, siblingW *wrapper[K, V], childIdx int, childW *wrapper[K, V]) {
	sep := parentBody.keys[siblingIdx]
	childBody := childW.inner.(rebalancable[K])
	newSep := childBody.borrowFromLeftGeneric(siblingW.inner, sep)
	parentBody.keys[siblingIdx] = newSep

	siblingW.markDirty()
	childW.markDirty()
}

// borrowFromRightSiblingLocked is the mirror of
// borrowFromLeftSiblingLocked: siblingIdx == childIdx+1.
func (t *Tree[K, V]) borrowFromRightSiblingLocked(parentBody *indexNode[K, V], childIdx int, childW *wrapper[K, V], siblingIdx int, siblingW *wrapper[K, V]) {
	sep := parentBody.keys[childIdx]
	childBody := childW.inner.(rebalancable[K])
	newSep := childBody.borrowFromRightGeneric(siblingW.inner, sep)
	parentBody.keys[childIdx] = newSep

	siblingW.markDirty()
	childW.markDirty()
}

// mergeLocked fuses rightW into leftW using the separator at parentBody
// pivot leftIdx, then removes that pivot and rightIdx's child slot from
// parentBody.
func (t *Tree[K, V]) mergeLocked(parentBody *indexNode[K, V], leftIdx int, leftW *wrapper[K, V], rightIdx int, rightW *wrapper[K, V]) {
	sep := parentBody.keys[leftIdx]
	leftBody := leftW.inner.(rebalancable[K])
	leftBody.mergeWithGeneric(rightW.inner, sep)

	parentBody.keys = append(parentBody.keys[:leftIdx], parentBody.keys[leftIdx+1:]...)
	parentBody.children = append(parentBody.children[:rightIdx], parentBody.children[rightIdx+1:]...)

	leftW.markDirty()
}

// maybeCollapseRootLocked replaces an index-node root that has lost all
// its pivots (one remaining child) with that child, shrinking the tree
// by one level. w is the root wrapper, already locked; on collapse the
// new root's wrapper is returned locked and w is unlocked, signaling the
// caller to "continue" its descent loop from the new root.
func (t *Tree[K, V]) maybeCollapseRootLocked(w *wrapper[K, V], body *indexNode[K, V]) (collapsed bool, newRoot *wrapper[K, V]) {
	if body.keyCount() != 0 {
		return false, nil
	}

	onlyChild, _, err := body.getChild(0, t.cache)
	if err != nil {
		fatalf("remove: root collapse child fetch: %v", err)
	}

	t.rootID = onlyChild.id
	t.cache.remove(w.id)
	w.mu.Unlock()

	onlyChild.mu.Lock()
	return true, onlyChild
}

// Flush waits for async eviction write-backs to settle, then walks the
// whole tree depth-first, writing back every dirty wrapper so storage
// reflects the entire in-memory state. Returns the (possibly relocated)
// root identity to persist in a checkpoint.
func (t *Tree[K, V]) Flush(ctx context.Context) (uid.UID, error) {
	if err := t.cache.waitForAsyncFlushes(ctx); err != nil {
		return t.rootID, err
	}

	newRootID, err := t.flushSubtree(t.rootID)
	if err != nil {
		return t.rootID, err
	}
	t.rootID = newRootID
	return t.rootID, nil
}

func (t *Tree[K, V]) flushSubtree(id uid.UID) (uid.UID, error) {
	w, err := t.cache.getObject(id)
	if err != nil {
		return id, err
	}

	w.mu.Lock()
	if idx, ok := w.inner.(*indexNode[K, V]); ok {
		idx.promote()
		for i := range idx.children {
			childNewID, err := t.flushSubtree(idx.children[i].id)
			if err != nil {
				w.mu.Unlock()
				return id, err
			}
			if childNewID != idx.children[i].id {
				idx.children[i].id = childNewID
				w.markDirty()
			}
		}
	}
	w.mu.Unlock()

	newID, err := t.cache.writeBack(w)
	if err != nil {
		return id, err
	}
	return newID, nil
}
