package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeforge/bptree/internal/uid"
)

func TestDataNodeInsertFindRemove(t *testing.T) {
	n := newDataNode[uint64, uint64](4, Uint64Codec{}, Uint64Codec{}, false)

	require.Equal(t, ResultSuccess, n.insert(10, 100))
	require.Equal(t, ResultSuccess, n.insert(5, 50))
	require.Equal(t, ResultSuccess, n.insert(20, 200))

	v, ok := n.find(10)
	require.True(t, ok)
	require.Equal(t, uint64(100), v)

	require.Equal(t, []uint64{5, 10, 20}, n.keys)

	require.Equal(t, ResultKeyAlreadyExists, n.insert(10, 999))

	require.Equal(t, ResultSuccess, n.remove(10))
	_, ok = n.find(10)
	require.False(t, ok)
	require.Equal(t, ResultKeyDoesNotExist, n.remove(10))
}

func TestDataNodeSplitMidpoint(t *testing.T) {
	n := newDataNode[uint64, uint64](2, Uint64Codec{}, Uint64Codec{}, false)
	for i := uint64(0); i < 6; i++ {
		require.Equal(t, ResultSuccess, n.insert(i, i*10))
	}

	right, pivot := n.split()

	require.Equal(t, []uint64{0, 1, 2}, n.keys)
	require.Equal(t, []uint64{3, 4, 5}, right.keys)
	require.Equal(t, uint64(3), pivot)
}

func TestDataNodeBorrowFromLeftAndRight(t *testing.T) {
	left := newDataNode[uint64, uint64](2, Uint64Codec{}, Uint64Codec{}, false)
	left.keys = []uint64{1, 2, 3}
	left.values = []uint64{10, 20, 30}

	mid := newDataNode[uint64, uint64](2, Uint64Codec{}, Uint64Codec{}, false)
	mid.keys = []uint64{5}
	mid.values = []uint64{50}

	right := newDataNode[uint64, uint64](2, Uint64Codec{}, Uint64Codec{}, false)
	right.keys = []uint64{8, 9}
	right.values = []uint64{80, 90}

	newSep := mid.borrowFromLeft(left)
	require.Equal(t, uint64(3), newSep)
	require.Equal(t, []uint64{3, 5}, mid.keys)
	require.Equal(t, []uint64{1, 2}, left.keys)

	newSep = mid.borrowFromRight(right)
	require.Equal(t, uint64(9), newSep)
	require.Equal(t, []uint64{3, 5, 8}, mid.keys)
	require.Equal(t, []uint64{9}, right.keys)
}

func TestDataNodeMergeWith(t *testing.T) {
	left := newDataNode[uint64, uint64](2, Uint64Codec{}, Uint64Codec{}, false)
	left.keys = []uint64{1, 2}
	left.values = []uint64{10, 20}

	right := newDataNode[uint64, uint64](2, Uint64Codec{}, Uint64Codec{}, false)
	right.keys = []uint64{3, 4}
	right.values = []uint64{30, 40}

	left.mergeWith(right)
	require.Equal(t, []uint64{1, 2, 3, 4}, left.keys)
	require.Equal(t, []uint64{10, 20, 30, 40}, left.values)
}

func TestDataNodeMarshalUnmarshalRoundTrip(t *testing.T) {
	n := newDataNode[uint64, uint64](4, Uint64Codec{}, Uint64Codec{}, false)
	require.Equal(t, ResultSuccess, n.insert(1, 11))
	require.Equal(t, ResultSuccess, n.insert(2, 22))

	raw := n.marshalBinary()

	cold := newColdDataNode[uint64, uint64](4, Uint64Codec{}, Uint64Codec{}, raw)
	require.True(t, cold.isCold())
	require.Equal(t, uid.ObjectTypeDataNode, cold.objectType())

	v, ok := cold.find(1)
	require.True(t, ok)
	require.Equal(t, uint64(11), v)

	cold.promoteAny()
	require.False(t, cold.isCold())
	require.Equal(t, []uint64{1, 2}, cold.keys)
}

func TestDataNodeBetaPendingInsertsFlushOnBatchSize(t *testing.T) {
	n := newDataNode[uint64, uint64](3, Uint64Codec{}, Uint64Codec{}, true)
	require.True(t, n.isBeta())

	require.Equal(t, ResultSuccess, n.insert(1, 10))
	require.Equal(t, ResultSuccess, n.insert(2, 20))
	require.Len(t, n.keys, 0, "still batched, not yet flushed")

	require.Equal(t, ResultSuccess, n.insert(3, 30))
	require.Equal(t, []uint64{1, 2, 3}, n.keys, "batch size reached degree, flushed")

	v, ok := n.find(2)
	require.True(t, ok)
	require.Equal(t, uint64(20), v)
}

func TestDataNodeApplyMessageUpsertAndDelete(t *testing.T) {
	n := newDataNode[uint64, uint64](4, Uint64Codec{}, Uint64Codec{}, false)
	n.applyMessage(insertMessage[uint64, uint64](1, 10))
	n.applyMessage(insertMessage[uint64, uint64](1, 11)) // upsert, not rejected
	require.Equal(t, []uint64{1}, n.keys)
	v, _ := n.find(1)
	require.Equal(t, uint64(11), v)

	n.applyMessage(deleteMessage[uint64, uint64](1))
	_, ok := n.find(1)
	require.False(t, ok)

	// Deleting an absent key is a silent no-op, not an error return.
	n.applyMessage(deleteMessage[uint64, uint64](42))
	require.Empty(t, n.keys)
}

func TestDataNodeSizePredicates(t *testing.T) {
	n := newDataNode[uint64, uint64](2, Uint64Codec{}, Uint64Codec{}, false)
	require.True(t, n.canTriggerMerge())
	require.False(t, n.needsSplit())

	for i := uint64(0); i < 3; i++ {
		n.insert(i, i)
	}
	require.True(t, n.canTriggerSplit())
	require.False(t, n.needsSplit())

	n.insert(99, 99)
	require.True(t, n.needsSplit())
}
