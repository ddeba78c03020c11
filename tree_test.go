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

func newTestTree(t *testing.T, degree int) *Tree[uint64, uint64] {
	t.Helper()

	st, err := storage.NewHybrid(storage.Options{BlockSize: 128, StorageBytes: 128 * 4096})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	decode := func(d int, objType uid.ObjectType, raw []byte) nodeBody {
		switch objType {
		case uid.ObjectTypeDataNode:
			return newColdDataNode[uint64, uint64](d, Uint64Codec{}, Uint64Codec{}, raw)
		case uid.ObjectTypeIndexNode:
			return newColdIndexNode[uint64, uint64](d, Uint64Codec{}, raw)
		default:
			fatalf("unexpected object type %v", objType)
			return nil
		}
	}

	c := newCache[uint64, uint64](256, degree, CachePolicyLRU, st, decode, 10, 10, zap.NewNop())

	root := newDataNode[uint64, uint64](degree, Uint64Codec{}, Uint64Codec{}, false)
	rootW := c.createObjectOfType(uid.ObjectTypeDataNode, root)

	return newTree[uint64, uint64](degree, Uint64Codec{}, Uint64Codec{}, c, zap.NewNop(), rootW.id)
}

func TestTreeInsertSearchRemoveSingleLeaf(t *testing.T) {
	tr := newTestTree(t, 4)

	require.Equal(t, ResultSuccess, tr.Insert(1, 10))
	require.Equal(t, ResultSuccess, tr.Insert(2, 20))
	require.Equal(t, ResultKeyAlreadyExists, tr.Insert(1, 999))

	v, res := tr.Search(1)
	require.Equal(t, ResultSuccess, res)
	require.Equal(t, uint64(10), v)

	require.Equal(t, ResultSuccess, tr.Remove(1))
	_, res = tr.Search(1)
	require.Equal(t, ResultKeyDoesNotExist, res)
	require.Equal(t, ResultKeyDoesNotExist, tr.Remove(1))
}

func TestTreeGrowsALevelOnRootSplit(t *testing.T) {
	tr := newTestTree(t, 2) // fanout 2*2-1 = 3 before splitting

	for i := uint64(0); i < 4; i++ {
		require.Equal(t, ResultSuccess, tr.Insert(i, i*10))
	}

	rootW, err := tr.cache.getObject(tr.rootID)
	require.NoError(t, err)
	_, isIndex := rootW.inner.(*indexNode[uint64, uint64])
	require.True(t, isIndex, "root should have been promoted to an index node after a split")

	for i := uint64(0); i < 4; i++ {
		v, res := tr.Search(i)
		require.Equal(t, ResultSuccess, res)
		require.Equal(t, i*10, v)
	}
}

func TestTreeManyInsertsAndRandomDeletesPreserveAllSurvivors(t *testing.T) {
	tr := newTestTree(t, 3)

	const n = 300
	present := make(map[uint64]uint64, n)
	rng := rand.New(rand.NewSource(1))

	keys := rng.Perm(n)
	for _, k := range keys {
		key := uint64(k)
		require.Equal(t, ResultSuccess, tr.Insert(key, key*7))
		present[key] = key * 7
	}

	toDelete := rng.Perm(n)[:n/2]
	for _, k := range toDelete {
		key := uint64(k)
		require.Equal(t, ResultSuccess, tr.Remove(key))
		delete(present, key)
	}

	for key, want := range present {
		v, res := tr.Search(key)
		require.Equal(t, ResultSuccess, res)
		require.Equal(t, want, v)
	}
	for _, k := range toDelete {
		_, res := tr.Search(uint64(k))
		require.Equal(t, ResultKeyDoesNotExist, res)
	}
}

func TestTreeRemoveCollapsesRootAfterDrainingLevel(t *testing.T) {
	tr := newTestTree(t, 2)

	for i := uint64(0); i < 8; i++ {
		require.Equal(t, ResultSuccess, tr.Insert(i, i))
	}
	for i := uint64(0); i < 7; i++ {
		require.Equal(t, ResultSuccess, tr.Remove(i))
	}

	v, res := tr.Search(7)
	require.Equal(t, ResultSuccess, res)
	require.Equal(t, uint64(7), v)
}

func TestTreeFlushReturnsAPersistedRootAndSurvivesRematerialization(t *testing.T) {
	tr := newTestTree(t, 3)

	for i := uint64(0); i < 50; i++ {
		require.Equal(t, ResultSuccess, tr.Insert(i, i*2))
	}

	newRoot, err := tr.Flush(context.Background())
	require.NoError(t, err)
	require.True(t, newRoot.IsPersisted())

	for i := uint64(0); i < 50; i++ {
		v, res := tr.Search(i)
		require.Equal(t, ResultSuccess, res)
		require.Equal(t, i*2, v)
	}
}
