package bptree

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, kind TreeKind) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Degree = 3
	cfg.BlockSize = 256
	cfg.StorageBytes = 256 * 4096
	cfg.TreeKind = kind
	cfg.CheckpointPath = filepath.Join(t.TempDir(), "checkpoint.bin")
	return cfg
}

func TestStoreBPlusInsertSearchRemove(t *testing.T) {
	cfg := testConfig(t, TreeKindBPlus)
	s, err := New[uint64, uint64](cfg, Uint64Codec{}, Uint64Codec{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.Equal(t, ResultSuccess, s.Insert(1, 100))
	require.Equal(t, ResultKeyAlreadyExists, s.Insert(1, 200))

	v, err := s.Search(1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), v)

	require.Equal(t, ResultSuccess, s.Remove(1))
	_, err = s.Search(1)
	require.ErrorIs(t, err, ErrKeyDoesNotExist)
}

func TestStoreBetaInsertSearchRemove(t *testing.T) {
	cfg := testConfig(t, TreeKindBeta)
	s, err := New[uint64, uint64](cfg, Uint64Codec{}, Uint64Codec{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := uint64(0); i < 50; i++ {
		require.Equal(t, ResultSuccess, s.Insert(i, i*5))
	}
	for i := uint64(0); i < 50; i++ {
		v, err := s.Search(i)
		require.NoError(t, err)
		require.Equal(t, i*5, v)
	}
}

func TestStoreCheckpointAndReopen(t *testing.T) {
	cfg := testConfig(t, TreeKindBPlus)
	cfg.FilePath = filepath.Join(t.TempDir(), "data.tier")

	s, err := New[uint64, uint64](cfg, Uint64Codec{}, Uint64Codec{}, nil)
	require.NoError(t, err)

	for i := uint64(0); i < 20; i++ {
		require.Equal(t, ResultSuccess, s.Insert(i, i+1))
	}

	require.NoError(t, s.Checkpoint(context.Background()))
	require.NoError(t, s.Close())

	reopened, err := Open[uint64, uint64](cfg, Uint64Codec{}, Uint64Codec{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	for i := uint64(0); i < 20; i++ {
		v, err := reopened.Search(i)
		require.NoError(t, err)
		require.Equal(t, i+1, v)
	}
}

func TestOpenRequiresCheckpointPath(t *testing.T) {
	cfg := testConfig(t, TreeKindBPlus)
	cfg.CheckpointPath = ""

	_, err := Open[uint64, uint64](cfg, Uint64Codec{}, Uint64Codec{}, nil)
	require.Error(t, err)
}

func TestCheckpointRequiresConfiguredPath(t *testing.T) {
	cfg := testConfig(t, TreeKindBPlus)
	cfg.CheckpointPath = ""

	s, err := New[uint64, uint64](cfg, Uint64Codec{}, Uint64Codec{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.Checkpoint(context.Background())
	require.Error(t, err)
}

func TestStorePrintDumpsTreeShape(t *testing.T) {
	cfg := testConfig(t, TreeKindBPlus)
	cfg.Degree = 2

	s, err := New[uint64, uint64](cfg, Uint64Codec{}, Uint64Codec{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := uint64(0); i < 10; i++ {
		require.Equal(t, ResultSuccess, s.Insert(i, i))
	}

	var buf bytes.Buffer
	require.NoError(t, s.Print(&buf))
	require.Contains(t, buf.String(), "leaf")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := Config{} // Degree/BlockSize/StorageBytes unset
	_, err := New[uint64, uint64](cfg, Uint64Codec{}, Uint64Codec{}, nil)
	require.Error(t, err)
}
