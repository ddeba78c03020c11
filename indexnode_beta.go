package bptree

import (
	"cmp"
	"slices"

	"github.com/nodeforge/bptree/internal/uid"
)

// betaIndexNodeHeaderSize mirrors indexNodeHeaderSize; the buffer section
// follows the child UID array.
const betaIndexNodeHeaderSize = 3

// betaIndexNode is the B-epsilon interior node: the same pivot/child
// shape as indexNode, plus one pending-message buffer per child. An
// insert into a subtree rooted below a betaIndexNode is recorded in the
// buffer for the child it would have descended into, rather than
// recursing immediately; the buffer drains into that child once it
// fills.
type betaIndexNode[K cmp.Ordered, V any] struct {
	degree int
	kc     Codec[K]
	vc     Codec[V]

	hot      bool
	keys     []K
	children []childRef[K, V]
	buffers  [][]message[K, V] // len(buffers) == len(children)

	bufferCap int

	cold      []byte
	coldCount int
}

func newBetaIndexNode[K cmp.Ordered, V any](degree int, kc Codec[K], vc Codec[V], bufferCap int) *betaIndexNode[K, V] {
	return &betaIndexNode[K, V]{
		degree:    degree,
		kc:        kc,
		vc:        vc,
		hot:       true,
		children:  []childRef[K, V]{{}},
		buffers:   [][]message[K, V]{nil},
		bufferCap: bufferCap,
	}
}

func newColdBetaIndexNode[K cmp.Ordered, V any](degree int, kc Codec[K], vc Codec[V], bufferCap int, raw []byte) *betaIndexNode[K, V] {
	if len(raw) < betaIndexNodeHeaderSize {
		fatalf("beta index node page too short: %d bytes", len(raw))
	}
	return &betaIndexNode[K, V]{
		degree:    degree,
		kc:        kc,
		vc:        vc,
		bufferCap: bufferCap,
		cold:      raw,
		coldCount: int(raw[1]) | int(raw[2])<<8,
	}
}

func (n *betaIndexNode[K, V]) objectType() uid.ObjectType { return uid.ObjectTypeIndexNodeBeta }
func (n *betaIndexNode[K, V]) isCold() bool               { return !n.hot }
func (n *betaIndexNode[K, V]) promoteAny()                { n.promote() }

// promote decodes keys, the n+1 child UIDs, and each child's message
// buffer from the cold page.
func (n *betaIndexNode[K, V]) promote() {
	if n.hot {
		return
	}

	kSize := n.kc.Size()
	off := betaIndexNodeHeaderSize

	keys := make([]K, n.coldCount)
	for i := 0; i < n.coldCount; i++ {
		keys[i] = n.kc.Decode(n.cold[off : off+kSize])
		off += kSize
	}

	numChildren := n.coldCount + 1
	children := make([]childRef[K, V], numChildren)
	for i := 0; i < numChildren; i++ {
		children[i] = childRef[K, V]{id: uid.Decode(n.cold[off : off+uid.WireSize])}
		off += uid.WireSize
	}

	vSize := n.vc.Size()
	buffers := make([][]message[K, V], numChildren)
	for i := 0; i < numChildren; i++ {
		count := int(n.cold[off]) | int(n.cold[off+1])<<8
		off += 2
		if count == 0 {
			continue
		}
		msgs := make([]message[K, V], count)
		for j := 0; j < count; j++ {
			op := MessageOp(n.cold[off])
			off++
			k := n.kc.Decode(n.cold[off : off+kSize])
			off += kSize
			hasValue := n.cold[off] != 0
			off++
			var v V
			if hasValue {
				v = n.vc.Decode(n.cold[off : off+vSize])
				off += vSize
			}
			msgs[j] = message[K, V]{op: op, key: k, value: v, hasValue: hasValue}
		}
		buffers[i] = msgs
	}

	n.keys, n.children, n.buffers = keys, children, buffers
	n.hot = true
	n.cold = nil
}

func (n *betaIndexNode[K, V]) keyCount() int {
	if n.hot {
		return len(n.keys)
	}
	return n.coldCount
}

func (n *betaIndexNode[K, V]) needsSplit() bool      { return n.keyCount() > 2*n.degree-1 }
func (n *betaIndexNode[K, V]) needsMerge() bool      { return n.keyCount() < n.degree-1 }
func (n *betaIndexNode[K, V]) canTriggerSplit() bool { return n.keyCount() == 2*n.degree-1 }
func (n *betaIndexNode[K, V]) canTriggerMerge() bool { return n.keyCount() <= n.degree-1 }
func (n *betaIndexNode[K, V]) occupancy() int        { return n.keyCount() }

func (n *betaIndexNode[K, V]) locateChild(k K) int {
	n.promote()
	return upperBound(n.keys, k)
}

// getChild materializes child i, reconciling a pending updated-identity
// relocation back into this node's pivot. The bool result tells the
// caller whether the pivot changed, so it can mark the owning wrapper
// dirty itself (this node has no dirty flag of its own).
func (n *betaIndexNode[K, V]) getChild(i int, c *cache[K, V]) (w *wrapper[K, V], changed bool, err error) {
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

// bufferLen and bufferFull let the driver decide whether a buffered
// insert can be absorbed here or must trigger a flush.
func (n *betaIndexNode[K, V]) bufferLen(i int) int  { n.promote(); return len(n.buffers[i]) }
func (n *betaIndexNode[K, V]) bufferFull(i int) bool { return n.bufferLen(i) >= n.bufferCap }

// appendMessage records m as destined for child i, reporting whether the
// buffer is now full and should be flushed.
func (n *betaIndexNode[K, V]) appendMessage(i int, m message[K, V]) (full bool) {
	n.promote()
	n.buffers[i] = append(n.buffers[i], m)
	return n.bufferFull(i)
}

// drainBuffer removes and returns every message queued for child i.
func (n *betaIndexNode[K, V]) drainBuffer(i int) []message[K, V] {
	n.promote()
	msgs := n.buffers[i]
	n.buffers[i] = nil
	return msgs
}

// findBuffered looks for k across every buffer on the path from the
// root down to (but not including) the leaf, in root-to-leaf order the
// caller supplies by calling this once per level during descent. The
// most recently appended matching message wins, since it shadows
// earlier ones for the same key.
func (n *betaIndexNode[K, V]) findBuffered(i int, k K) (message[K, V], bool) {
	n.promote()
	buf := n.buffers[i]
	for j := len(buf) - 1; j >= 0; j-- {
		if buf[j].key == k {
			return buf[j], true
		}
	}
	return message[K, V]{}, false
}

// insertPivotSplit installs a freshly split child's promoted key and new
// right sibling at position i (the index of the child that split),
// partitioning that child's buffer by promoteKey so buffered messages
// still land on the correct side.
func (n *betaIndexNode[K, V]) insertPivotSplit(i int, promoteKey K, rightID uid.UID) {
	n.promote()

	leftBuf := n.buffers[i]
	var keepLeft, moveRight []message[K, V]
	for _, m := range leftBuf {
		if m.key < promoteKey {
			keepLeft = append(keepLeft, m)
		} else {
			moveRight = append(moveRight, m)
		}
	}
	n.buffers[i] = keepLeft

	n.keys = slices.Insert(n.keys, i, promoteKey)
	n.children = slices.Insert(n.children, i+1, childRef[K, V]{id: rightID})
	n.buffers = slices.Insert(n.buffers, i+1, moveRight)
}

// split divides the node at its midpoint, carrying each moved child's
// buffer along with it.
func (n *betaIndexNode[K, V]) split() (right *betaIndexNode[K, V], promoteKey K) {
	n.promote()

	m := n.keyCount() / 2
	promoteKey = n.keys[m]

	right = newBetaIndexNode[K, V](n.degree, n.kc, n.vc, n.bufferCap)
	right.keys = append([]K{}, n.keys[m+1:]...)
	right.children = append([]childRef[K, V]{}, n.children[m+1:]...)
	right.buffers = append([][]message[K, V]{}, n.buffers[m+1:]...)

	n.keys = n.keys[:m]
	n.children = n.children[:m+1]
	n.buffers = n.buffers[:m+1]

	return right, promoteKey
}

func (n *betaIndexNode[K, V]) borrowFromLeft(left *betaIndexNode[K, V], parentSeparator K) (newSeparator K) {
	n.promote()
	left.promote()

	lastChild := left.children[len(left.children)-1]
	lastBuf := left.buffers[len(left.buffers)-1]
	newSeparator = left.keys[len(left.keys)-1]

	left.keys = left.keys[:len(left.keys)-1]
	left.children = left.children[:len(left.children)-1]
	left.buffers = left.buffers[:len(left.buffers)-1]

	n.keys = slices.Insert(n.keys, 0, parentSeparator)
	n.children = slices.Insert(n.children, 0, lastChild)
	n.buffers = slices.Insert(n.buffers, 0, lastBuf)

	return newSeparator
}

func (n *betaIndexNode[K, V]) borrowFromRight(right *betaIndexNode[K, V], parentSeparator K) (newSeparator K) {
	n.promote()
	right.promote()

	firstChild := right.children[0]
	firstBuf := right.buffers[0]
	newSeparator = right.keys[0]

	right.keys = slices.Delete(right.keys, 0, 1)
	right.children = slices.Delete(right.children, 0, 1)
	right.buffers = slices.Delete(right.buffers, 0, 1)

	n.keys = append(n.keys, parentSeparator)
	n.children = append(n.children, firstChild)
	n.buffers = append(n.buffers, firstBuf)

	return newSeparator
}

func (n *betaIndexNode[K, V]) mergeWith(right *betaIndexNode[K, V], parentSeparator K) {
	n.promote()
	right.promote()

	n.keys = append(n.keys, parentSeparator)
	n.keys = append(n.keys, right.keys...)
	n.children = append(n.children, right.children...)
	n.buffers = append(n.buffers, right.buffers...)
}

// --- rebalancable adapters ---

func (n *betaIndexNode[K, V]) splitGeneric() (nodeBody, K) {
	right, promoteKey := n.split()
	return right, promoteKey
}

func (n *betaIndexNode[K, V]) borrowFromLeftGeneric(left nodeBody, parentSeparator K) K {
	return n.borrowFromLeft(left.(*betaIndexNode[K, V]), parentSeparator)
}

func (n *betaIndexNode[K, V]) borrowFromRightGeneric(right nodeBody, parentSeparator K) K {
	return n.borrowFromRight(right.(*betaIndexNode[K, V]), parentSeparator)
}

func (n *betaIndexNode[K, V]) mergeWithGeneric(right nodeBody, parentSeparator K) {
	n.mergeWith(right.(*betaIndexNode[K, V]), parentSeparator)
}

// marshalBinary encodes keys, child UIDs, then each child's buffer as a
// u16 count followed by (op, key, hasValue, value?) tuples.
func (n *betaIndexNode[K, V]) marshalBinary() []byte {
	if !n.hot {
		out := make([]byte, len(n.cold))
		copy(out, n.cold)
		return out
	}

	kSize, vSize := n.kc.Size(), n.vc.Size()
	count := len(n.keys)

	size := betaIndexNodeHeaderSize + count*kSize + (count+1)*uid.WireSize
	for _, buf := range n.buffers {
		size += 2
		for _, m := range buf {
			size += 1 + kSize + 1
			if m.hasValue {
				size += vSize
			}
		}
	}

	buf := make([]byte, size)
	buf[0] = byte(uid.ObjectTypeIndexNodeBeta)
	buf[1] = byte(count)
	buf[2] = byte(count >> 8)

	off := betaIndexNodeHeaderSize
	for _, k := range n.keys {
		n.kc.Encode(buf[off:off+kSize], k)
		off += kSize
	}
	for _, c := range n.children {
		c.id.Encode(buf[off : off+uid.WireSize])
		off += uid.WireSize
	}
	for _, msgs := range n.buffers {
		buf[off] = byte(len(msgs))
		buf[off+1] = byte(len(msgs) >> 8)
		off += 2
		for _, m := range msgs {
			buf[off] = byte(m.op)
			off++
			n.kc.Encode(buf[off:off+kSize], m.key)
			off += kSize
			if m.hasValue {
				buf[off] = 1
			}
			off++
			if m.hasValue {
				n.vc.Encode(buf[off:off+vSize], m.value)
				off += vSize
			}
		}
	}

	return buf
}
