package bptree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeforge/bptree/internal/uid"
)

func TestWriteReadCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")

	id := uid.New(uid.TierFile, uid.ObjectTypeIndexNode, 4096, 128)
	require.NoError(t, writeCheckpoint(path, id))

	cp, err := readCheckpoint(path)
	require.NoError(t, err)
	require.True(t, cp.RootID.Equal(id))
	require.Equal(t, uint64(1), cp.Generation)
}

func TestWriteCheckpointBumpsGenerationOnEachWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.bin")

	id1 := uid.New(uid.TierFile, uid.ObjectTypeDataNode, 0, 64)
	id2 := uid.New(uid.TierFile, uid.ObjectTypeDataNode, 64, 64)

	require.NoError(t, writeCheckpoint(path, id1))
	require.NoError(t, writeCheckpoint(path, id2))

	cp, err := readCheckpoint(path)
	require.NoError(t, err)
	require.True(t, cp.RootID.Equal(id2))
	require.Equal(t, uint64(2), cp.Generation)
}

func TestReadCheckpointRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, writeCheckpoint(path, uid.UID{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-4], 0o644))

	_, err = readCheckpoint(path)
	require.Error(t, err)
}

func TestReadCheckpointMissingFile(t *testing.T) {
	_, err := readCheckpoint(filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
}
