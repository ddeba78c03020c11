package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeforge/bptree/internal/uid"
)

func TestIndexNodeLocateChild(t *testing.T) {
	n := newIndexNode[uint64, uint64](2, Uint64Codec{})
	n.keys = []uint64{10, 20, 30}
	n.children = make([]childRef[uint64, uint64], 4)

	require.Equal(t, 0, n.locateChild(5))
	require.Equal(t, 1, n.locateChild(10))
	require.Equal(t, 1, n.locateChild(15))
	require.Equal(t, 3, n.locateChild(100))
}

func TestIndexNodeInsertPivot(t *testing.T) {
	n := newIndexNode[uint64, uint64](2, Uint64Codec{})
	n.keys = []uint64{10, 30}
	n.children = []childRef[uint64, uint64]{{}, {}, {}}

	rightID := uid.NewPrePersistence(uid.ObjectTypeDataNode, 0)
	n.insertPivot(20, rightID)

	require.Equal(t, []uint64{10, 20, 30}, n.keys)
	require.Len(t, n.children, 4)
	require.Equal(t, rightID, n.children[2].id)
}

func TestIndexNodeInsertPivotPanicsOnDuplicate(t *testing.T) {
	n := newIndexNode[uint64, uint64](2, Uint64Codec{})
	n.keys = []uint64{10}
	n.children = []childRef[uint64, uint64]{{}, {}}

	require.Panics(t, func() { n.insertPivot(10, uid.UID{}) })
}

func TestIndexNodeSplit(t *testing.T) {
	n := newIndexNode[uint64, uint64](2, Uint64Codec{})
	n.keys = []uint64{1, 2, 3}
	ids := make([]uid.UID, 4)
	for i := range ids {
		ids[i] = uid.NewPrePersistence(uid.ObjectTypeDataNode, 0)
		n.children = append(n.children, childRef[uint64, uint64]{id: ids[i]})
	}

	right, promote := n.split()

	require.Equal(t, uint64(2), promote)
	require.Equal(t, []uint64{1}, n.keys)
	require.Equal(t, []uint64{3}, right.keys)
	require.Len(t, n.children, 2)
	require.Len(t, right.children, 2)
	require.Equal(t, ids[0], n.children[0].id)
	require.Equal(t, ids[3], right.children[1].id)
}

func TestIndexNodeBorrowFromLeftAndRight(t *testing.T) {
	left := newIndexNode[uint64, uint64](2, Uint64Codec{})
	left.keys = []uint64{1, 2}
	left.children = []childRef[uint64, uint64]{{}, {}, {}}

	mid := newIndexNode[uint64, uint64](2, Uint64Codec{})
	mid.keys = []uint64{5}
	mid.children = []childRef[uint64, uint64]{{}, {}}

	right := newIndexNode[uint64, uint64](2, Uint64Codec{})
	right.keys = []uint64{8, 9}
	right.children = []childRef[uint64, uint64]{{}, {}, {}}

	newSep := mid.borrowFromLeft(left, 4)
	require.Equal(t, uint64(2), newSep, "left's last key is promoted upward")
	require.Equal(t, []uint64{4, 5}, mid.keys)
	require.Equal(t, []uint64{1}, left.keys)
	require.Len(t, mid.children, 3)

	newSep = mid.borrowFromRight(right, 7)
	require.Equal(t, uint64(8), newSep)
	require.Equal(t, []uint64{4, 5, 7}, mid.keys)
	require.Equal(t, []uint64{9}, right.keys)
}

func TestIndexNodeMergeWith(t *testing.T) {
	left := newIndexNode[uint64, uint64](2, Uint64Codec{})
	left.keys = []uint64{1}
	left.children = []childRef[uint64, uint64]{{}, {}}

	right := newIndexNode[uint64, uint64](2, Uint64Codec{})
	right.keys = []uint64{5}
	right.children = []childRef[uint64, uint64]{{}, {}}

	left.mergeWith(right, 3)

	require.Equal(t, []uint64{1, 3, 5}, left.keys)
	require.Len(t, left.children, 4)
}

func TestIndexNodeMarshalUnmarshalRoundTrip(t *testing.T) {
	n := newIndexNode[uint64, uint64](2, Uint64Codec{})
	n.keys = []uint64{10, 20}
	ids := []uid.UID{
		uid.New(uid.TierFile, uid.ObjectTypeDataNode, 0, 64),
		uid.New(uid.TierFile, uid.ObjectTypeDataNode, 64, 64),
		uid.New(uid.TierFile, uid.ObjectTypeDataNode, 128, 64),
	}
	for _, id := range ids {
		n.children = append(n.children, childRef[uint64, uint64]{id: id})
	}

	raw := n.marshalBinary()

	cold := newColdIndexNode[uint64, uint64](2, Uint64Codec{}, raw)
	require.True(t, cold.isCold())

	cold.promote()
	require.Equal(t, []uint64{10, 20}, cold.keys)
	require.Len(t, cold.children, 3)
	for i, id := range ids {
		require.True(t, cold.children[i].id.Equal(id))
	}
}
