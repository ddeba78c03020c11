package bptree

import (
	"cmp"
	"context"

	"go.uber.org/zap"

	"github.com/nodeforge/bptree/internal/uid"
)

// BetaTree is the buffered (B-epsilon) driver. Every interior node holds
// one pending-message buffer per child; Insert and Remove append a
// message to the buffer the key would route through and return without
// descending further, unless that buffer is already full, in which case
// it is drained and the batch cascades one level down (itself possibly
// cascading further). This amortizes the cost of reaching a leaf across
// many writes, at the price of Search needing to consult buffers along
// its whole descent before trusting the leaf.
//
// Insert/Remove report their Result from the shallowest buffer that
// settles the question (an existing message for the same key, or the
// leaf itself once a message actually reaches it) rather than from a
// full descent on every call — the point of buffering in the first
// place. Search always resolves the true current value by walking every
// buffer from the root down, since a key's message can only live in one
// buffer at a time (it moves strictly downward as buffers drain).
type BetaTree[K cmp.Ordered, V any] struct {
	degree    int
	bufferCap int
	kc        Codec[K]
	vc        Codec[V]
	cache     *cache[K, V]
	log       *zap.Logger

	rootID uid.UID
}

func newBetaTree[K cmp.Ordered, V any](degree, bufferCap int, kc Codec[K], vc Codec[V], c *cache[K, V], log *zap.Logger, rootID uid.UID) *BetaTree[K, V] {
	if log == nil {
		log = zap.NewNop()
	}
	return &BetaTree[K, V]{degree: degree, bufferCap: bufferCap, kc: kc, vc: vc, cache: c, log: log, rootID: rootID}
}

func (t *BetaTree[K, V]) RootID() uid.UID { return t.rootID }

// Search resolves k by walking buffers root-to-leaf: the first buffer
// along the path holding a message for k is authoritative, since a key's
// in-flight message exists in exactly one buffer at a time.
func (t *BetaTree[K, V]) Search(k K) (V, Result) {
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

		case *betaIndexNode[K, V]:
			i := body.locateChild(k)
			if m, found := body.findBuffered(i, k); found {
				w.mu.RUnlock()
				if m.op == MsgDelete {
					var zero V
					return zero, ResultKeyDoesNotExist
				}
				return m.value, ResultSuccess
			}

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

// Insert buffers an insert message for k, splitting a saturated root
// first.
func (t *BetaTree[K, V]) Insert(k K, v V) Result {
	w, err := t.cache.getObject(t.rootID)
	if err != nil {
		fatalf("insert: root %v unreachable: %v", t.rootID, err)
	}
	w.mu.Lock()

	if sn, ok := w.inner.(rebalancable[K]); ok && sn.canTriggerSplit() {
		w = t.splitRootLocked(w)
	}

	return t.insertMessageAt(w, insertMessage[K, V](k, v))
}

// Remove buffers a delete message for k.
func (t *BetaTree[K, V]) Remove(k K) Result {
	w, err := t.cache.getObject(t.rootID)
	if err != nil {
		fatalf("remove: root %v unreachable: %v", t.rootID, err)
	}
	w.mu.Lock()

	if sn, ok := w.inner.(rebalancable[K]); ok && sn.canTriggerSplit() {
		w = t.splitRootLocked(w)
	}

	return t.insertMessageAt(w, deleteMessage[K, V](k))
}

// insertMessageAt applies m at the shallowest node on the path where it
// settles: a leaf applies it directly; an interior node appends it to
// the buffer for the child k routes through, reporting a result derived
// from that single buffer only, and cascades a drain down one level on
// overflow. w is write-locked on entry and always unlocked before
// returning (directly, or via a nested call it delegates to).
func (t *BetaTree[K, V]) insertMessageAt(w *wrapper[K, V], m message[K, V]) Result {
	switch body := w.inner.(type) {
	case *dataNode[K, V]:
		var res Result
		if m.op == MsgDelete {
			res = body.remove(m.key)
		} else {
			res = body.insert(m.key, m.value)
		}
		if res == ResultSuccess {
			w.markDirty()
		}
		w.mu.Unlock()
		return res

	case *betaIndexNode[K, V]:
		i := body.locateChild(m.key)

		if existing, found := body.findBuffered(i, m.key); found {
			if m.op == MsgInsert && existing.op == MsgInsert {
				w.mu.Unlock()
				return ResultKeyAlreadyExists
			}
			if m.op == MsgDelete && existing.op == MsgDelete {
				w.mu.Unlock()
				return ResultKeyDoesNotExist
			}
		}

		full := body.appendMessage(i, m)
		w.markDirty()

		if !full {
			w.mu.Unlock()
			return ResultSuccess
		}

		drained := body.drainBuffer(i)
		child, _, err := body.getChild(i, t.cache)
		if err != nil {
			w.mu.Unlock()
			fatalf("insert: overflow child fetch: %v", err)
		}
		child.mu.Lock()

		if sn, ok := child.inner.(sizedNode); ok && sn.canTriggerMerge() && body.keyCount() > 0 {
			newIdx, removedSibling := t.rebalanceBetaChildLocked(w, body, i, child)
			child.mu.Unlock()
			if removedSibling {
				w.markDirty()
			}
			i = newIdx

			// Root may have collapsed to a single child; messages it still
			// buffered for that child go down with the drained batch.
			if w.id == t.rootID && t.maybeCollapseBetaRootLocked(w, body) {
				drained = append(body.drainBuffer(0), drained...)
			}

			var err2 error
			child, _, err2 = body.getChild(i, t.cache)
			if err2 != nil {
				w.mu.Unlock()
				fatalf("insert: post-rebalance child fetch: %v", err2)
			}
			child.mu.Lock()
		}

		w.mu.Unlock()

		t.flushMessagesInto(child, drained)
		return ResultSuccess

	default:
		w.mu.Unlock()
		fatalf("insert: unrecognized node body %T", body)
		panic("unreachable")
	}
}

// flushMessagesInto applies a drained batch one level down: a leaf
// applies every message directly; an interior node re-groups the batch
// by which child each key routes to, appends each group to that child's
// buffer, and recurses into any child buffer that overflows as a
// result, splitting that child first if it is itself saturated. w is
// write-locked on entry and always unlocked before returning.
func (t *BetaTree[K, V]) flushMessagesInto(w *wrapper[K, V], msgs []message[K, V]) {
	switch body := w.inner.(type) {
	case *dataNode[K, V]:
		for _, m := range msgs {
			body.applyMessage(m)
		}
		if len(msgs) > 0 {
			w.markDirty()
		}
		w.mu.Unlock()

	case *betaIndexNode[K, V]:
		grouped := make(map[int][]message[K, V])
		for _, m := range msgs {
			i := body.locateChild(m.key)
			grouped[i] = append(grouped[i], m)
		}

		for i, group := range grouped {
			full := false
			for _, m := range group {
				if body.appendMessage(i, m) {
					full = true
				}
			}
			if len(group) > 0 {
				w.markDirty()
			}
			if !full {
				continue
			}

			drained := body.drainBuffer(i)

			child, _, err := body.getChild(i, t.cache)
			if err != nil {
				fatalf("flush: overflow child fetch: %v", err)
			}
			child.mu.Lock()

			if sn, ok := child.inner.(rebalancable[K]); ok && sn.canTriggerSplit() {
				promoteKey := t.splitBetaChildLocked(w, body, i, child)

				var left, right []message[K, V]
				for _, dm := range drained {
					if dm.key < promoteKey {
						left = append(left, dm)
					} else {
						right = append(right, dm)
					}
				}

				rightChild, _, err2 := body.getChild(i+1, t.cache)
				if err2 != nil {
					fatalf("flush: post-split right child fetch: %v", err2)
				}
				rightChild.mu.Lock()

				t.flushMessagesInto(child, left)
				t.flushMessagesInto(rightChild, right)
				continue
			}

			if sn, ok := child.inner.(sizedNode); ok && sn.canTriggerMerge() && body.keyCount() > 0 {
				newIdx, removedSibling := t.rebalanceBetaChildLocked(w, body, i, child)
				child.mu.Unlock()
				if removedSibling {
					w.markDirty()
				}
				i = newIdx

				var err2 error
				child, _, err2 = body.getChild(i, t.cache)
				if err2 != nil {
					fatalf("flush: post-rebalance child fetch: %v", err2)
				}
				child.mu.Lock()
			}

			t.flushMessagesInto(child, drained)
		}

		w.mu.Unlock()

	default:
		w.mu.Unlock()
		fatalf("flush: unrecognized node body %T", body)
	}
}

// splitRootLocked splits a saturated root of either flavor (a fresh
// store's root starts as a leaf), installing a new betaIndexNode root
// above it. Mirrors Tree.splitRootLocked but always builds a buffered
// interior node.
func (t *BetaTree[K, V]) splitRootLocked(w *wrapper[K, V]) *wrapper[K, V] {
	sn := w.inner.(rebalancable[K])
	right, promoteKey := sn.splitGeneric()

	rightW := t.cache.createObjectOfType(right.objectType(), right)

	newRoot := newBetaIndexNode[K, V](t.degree, t.kc, t.vc, t.bufferCap)
	newRoot.hot = true
	newRoot.keys = []K{promoteKey}
	newRoot.children = []childRef[K, V]{{id: w.id}, {id: rightW.id}}
	newRoot.buffers = [][]message[K, V]{nil, nil}

	newRootW := t.cache.createObjectOfType(uid.ObjectTypeIndexNodeBeta, newRoot)

	w.markDirty()
	w.mu.Unlock()

	t.rootID = newRootW.id
	newRootW.mu.Lock()
	return newRootW
}

// splitBetaChildLocked splits child (write-locked, saturated) and
// installs the promoted pivot and new sibling into parentBody,
// returning the promote key so the caller can re-route a batch it had
// already drained from child's buffer before the split.
func (t *BetaTree[K, V]) splitBetaChildLocked(parent *wrapper[K, V], parentBody *betaIndexNode[K, V], i int, child *wrapper[K, V]) (promoteKey K) {
	sn := child.inner.(rebalancable[K])
	right, promoteKey := sn.splitGeneric()

	rightW := t.cache.createObjectOfType(right.objectType(), right)

	parentBody.insertPivotSplit(i, promoteKey, rightW.id)
	parent.markDirty()
	child.markDirty()

	return promoteKey
}

// rebalanceBetaChildLocked mirrors Tree's rebalanceChildLocked: it
// restores child at pivot index i to at least degree entries, preferring
// to borrow from the left sibling, then the right sibling, and as a last
// resort merging child into its left sibling (or, with no left sibling,
// merging the right sibling into child). A sibling may only lend an
// entry if it holds more than
// spareThreshold(degree) keys; at or below that, the two nodes merge
// instead, carrying each side's buffered messages along with its
// entries. parent and child are both already write-locked on entry;
// child remains locked on return. Returns the pivot index to re-fetch
// from parent and whether a right sibling was deleted.
func (t *BetaTree[K, V]) rebalanceBetaChildLocked(parent *wrapper[K, V], parentBody *betaIndexNode[K, V], i int, child *wrapper[K, V]) (newIdx int, removedSibling bool) {
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
			t.mergeBetaLocked(parentBody, i, child, i+1, rightW)
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
	t.mergeBetaLocked(parentBody, i-1, leftW, i, child)
	t.cache.remove(child.id)
	parent.markDirty()
	leftW.mu.Unlock()

	return i - 1, true
}

// borrowFromLeftSiblingLocked replenishes the underflowing child at
// childIdx by moving one entry (and, where the sibling is itself an
// interior node, one child/buffer) from its left sibling at siblingIdx
// (== childIdx-1), rewriting the separator between them in parentBody.
func (t *BetaTree[K, V]) borrowFromLeftSiblingLocked(parentBody *betaIndexNode[K, V], siblingIdx int, siblingW *wrapper[K, V], childIdx int, childW *wrapper[K, V]) {
	sep := parentBody.keys[siblingIdx]
	childBody := childW.inner.(rebalancable[K])
	newSep := childBody.borrowFromLeftGeneric(siblingW.inner, sep)
	parentBody.keys[siblingIdx] = newSep

	siblingW.markDirty()
	childW.markDirty()
}

// borrowFromRightSiblingLocked is the mirror of
// borrowFromLeftSiblingLocked: siblingIdx == childIdx+1.
func (t *BetaTree[K, V]) borrowFromRightSiblingLocked(parentBody *betaIndexNode[K, V], childIdx int, childW *wrapper[K, V], siblingIdx int, siblingW *wrapper[K, V]) {
	sep := parentBody.keys[childIdx]
	childBody := childW.inner.(rebalancable[K])
	newSep := childBody.borrowFromRightGeneric(siblingW.inner, sep)
	parentBody.keys[childIdx] = newSep

	siblingW.markDirty()
	childW.markDirty()
}

// mergeBetaLocked fuses rightW into leftW (carrying buffers along, per
// betaIndexNode.mergeWith/dataNode.mergeWith) using the separator at
// parentBody pivot leftIdx, then removes that pivot and rightIdx's child
// slot from parentBody.
func (t *BetaTree[K, V]) mergeBetaLocked(parentBody *betaIndexNode[K, V], leftIdx int, leftW *wrapper[K, V], rightIdx int, rightW *wrapper[K, V]) {
	sep := parentBody.keys[leftIdx]
	leftBody := leftW.inner.(rebalancable[K])
	leftBody.mergeWithGeneric(rightW.inner, sep)

	// Messages parentBody buffered for the right node now route to the merged node.
	parentBody.buffers[leftIdx] = append(parentBody.buffers[leftIdx], parentBody.buffers[rightIdx]...)
	parentBody.keys = append(parentBody.keys[:leftIdx], parentBody.keys[leftIdx+1:]...)
	parentBody.children = append(parentBody.children[:rightIdx], parentBody.children[rightIdx+1:]...)
	parentBody.buffers = append(parentBody.buffers[:rightIdx], parentBody.buffers[rightIdx+1:]...)

	leftW.markDirty()
}

// maybeCollapseBetaRootLocked mirrors Tree's maybeCollapseRootLocked: if
// the root beta-index node has lost all its pivots (one remaining
// child) after a rebalance, the tree shrinks by one level by pointing
// the root identity at that child. w and body are the already-locked
// root wrapper/body; the caller remains responsible for unlocking w.
func (t *BetaTree[K, V]) maybeCollapseBetaRootLocked(w *wrapper[K, V], body *betaIndexNode[K, V]) (collapsed bool) {
	if body.keyCount() != 0 {
		return false
	}

	t.rootID = body.children[0].id
	t.cache.remove(w.id)
	return true
}

// Flush waits for async eviction write-backs to settle, then walks the
// whole tree depth-first, writing back every dirty wrapper. Unlike
// Tree's walk, interior nodes here carry non-empty buffers as part of
// their own serialized state (marshalBinary encodes them), so a buffer
// full of unflushed messages is itself made durable without having to
// drain it first.
func (t *BetaTree[K, V]) Flush(ctx context.Context) (uid.UID, error) {
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

func (t *BetaTree[K, V]) flushSubtree(id uid.UID) (uid.UID, error) {
	w, err := t.cache.getObject(id)
	if err != nil {
		return id, err
	}

	w.mu.Lock()
	if idx, ok := w.inner.(*betaIndexNode[K, V]); ok {
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

	return t.cache.writeBack(w)
}
