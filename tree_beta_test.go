package bptree

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nodeforge/bptree/internal/storage"
	"github.com/nodeforge/bptree/internal/uid"
)

func newTestBetaTree(t *testing.T, degree, bufferCap int) *BetaTree[uint64, uint64] {
	t.Helper()

	st, err := storage.NewHybrid(storage.Options{BlockSize: 256, StorageBytes: 256 * 4096})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	decode := func(d int, objType uid.ObjectType, raw []byte) nodeBody {
		switch objType {
		case uid.ObjectTypeDataNodeBeta:
			return newColdDataNode[uint64, uint64](d, Uint64Codec{}, Uint64Codec{}, raw)
		case uid.ObjectTypeIndexNodeBeta:
			return newColdBetaIndexNode[uint64, uint64](d, Uint64Codec{}, Uint64Codec{}, bufferCap, raw)
		default:
			fatalf("unexpected object type %v", objType)
			return nil
		}
	}

	c := newCache[uint64, uint64](256, degree, CachePolicyLRU, st, decode, 10, 10, zap.NewNop())

	root := newDataNode[uint64, uint64](degree, Uint64Codec{}, Uint64Codec{}, true)
	rootW := c.createObjectOfType(uid.ObjectTypeDataNodeBeta, root)

	return newBetaTree[uint64, uint64](degree, bufferCap, Uint64Codec{}, Uint64Codec{}, c, zap.NewNop(), rootW.id)
}

func TestBetaTreeInsertSearchRemoveWithinOneLeaf(t *testing.T) {
	bt := newTestBetaTree(t, 4, 8)

	require.Equal(t, ResultSuccess, bt.Insert(1, 10))
	require.Equal(t, ResultSuccess, bt.Insert(2, 20))
	require.Equal(t, ResultKeyAlreadyExists, bt.Insert(1, 999))

	v, res := bt.Search(1)
	require.Equal(t, ResultSuccess, res)
	require.Equal(t, uint64(10), v)

	require.Equal(t, ResultSuccess, bt.Remove(2))
	_, res = bt.Search(2)
	require.Equal(t, ResultKeyDoesNotExist, res)
}

func TestBetaTreeSplitsRootAndCascadesMessages(t *testing.T) {
	bt := newTestBetaTree(t, 2, 4) // leaf fanout 3, forces an early root split

	for i := uint64(0); i < 10; i++ {
		require.Equal(t, ResultSuccess, bt.Insert(i, i*10))
	}

	for i := uint64(0); i < 10; i++ {
		v, res := bt.Search(i)
		require.Equal(t, ResultSuccess, res)
		require.Equal(t, i*10, v)
	}
}

func TestBetaTreeManyInsertsAndDeletesSurviveBufferDraining(t *testing.T) {
	bt := newTestBetaTree(t, 3, 4)

	const n = 400
	present := make(map[uint64]uint64, n)
	rng := rand.New(rand.NewSource(7))

	keys := rng.Perm(n)
	for _, k := range keys {
		key := uint64(k)
		require.Equal(t, ResultSuccess, bt.Insert(key, key*3))
		present[key] = key * 3
	}

	toDelete := rng.Perm(n)[:n/3]
	for _, k := range toDelete {
		key := uint64(k)
		require.Equal(t, ResultSuccess, bt.Remove(key))
		delete(present, key)
	}

	for key, want := range present {
		v, res := bt.Search(key)
		require.Equal(t, ResultSuccess, res)
		require.Equal(t, want, v)
	}
	for _, k := range toDelete {
		_, res := bt.Search(uint64(k))
		require.Equal(t, ResultKeyDoesNotExist, res)
	}
}

func TestBetaTreeFlushPersistsBuffersUnflushed(t *testing.T) {
	bt := newTestBetaTree(t, 4, 16)

	for i := uint64(0); i < 30; i++ {
		require.Equal(t, ResultSuccess, bt.Insert(i, i))
	}

	newRoot, err := bt.Flush(context.Background())
	require.NoError(t, err)
	require.True(t, newRoot.IsPersisted())

	for i := uint64(0); i < 30; i++ {
		v, res := bt.Search(i)
		require.Equal(t, ResultSuccess, res)
		require.Equal(t, i, v)
	}
}

func TestBetaTreeRemoveCollapsesRootAfterDrainingLevel(t *testing.T) {
	bt := newTestBetaTree(t, 2, 4)

	for i := uint64(0); i < 8; i++ {
		require.Equal(t, ResultSuccess, bt.Insert(i, i))
	}
	require.Equal(t, uid.ObjectTypeIndexNodeBeta, bt.RootID().ObjectType())

	for i := uint64(0); i < 7; i++ {
		require.Equal(t, ResultSuccess, bt.Remove(i))
	}

	require.Equal(t, uid.ObjectTypeDataNodeBeta, bt.RootID().ObjectType())

	v, res := bt.Search(7)
	require.Equal(t, ResultSuccess, res)
	require.Equal(t, uint64(7), v)

	for i := uint64(0); i < 7; i++ {
		_, res := bt.Search(i)
		require.Equal(t, ResultKeyDoesNotExist, res)
	}
}

func TestBetaTreeDeleteThenReinsertSameKey(t *testing.T) {
	bt := newTestBetaTree(t, 2, 4)

	require.Equal(t, ResultSuccess, bt.Insert(42, 1))
	require.Equal(t, ResultSuccess, bt.Remove(42))
	require.Equal(t, ResultSuccess, bt.Insert(42, 2))

	v, res := bt.Search(42)
	require.Equal(t, ResultSuccess, res)
	require.Equal(t, uint64(2), v)
}
