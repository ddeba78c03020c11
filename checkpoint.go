package bptree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/natefinch/atomic"

	"github.com/nodeforge/bptree/internal/uid"
)

// checkpoint is the durable record a Store persists after a Flush: the
// root UID to reopen from, plus a generation counter bumped on every
// write, so a reader can tell two checkpoint files apart without
// comparing timestamps.
type checkpoint struct {
	RootID     uid.UID
	Generation uint64
}

const checkpointMagic = "BPTC"

// writeCheckpoint atomically replaces the file at path with a fresh
// checkpoint for rootID, via a write-to-temp-then-rename so a reader
// never observes a partially written file. Grounded on
// github.com/natefinch/atomic's WriteFile.
func writeCheckpoint(path string, rootID uid.UID) error {
	prev, err := readCheckpoint(path)
	generation := uint64(1)
	if err == nil {
		generation = prev.Generation + 1
	}

	buf := make([]byte, len(checkpointMagic)+uid.WireSize+8)
	copy(buf, checkpointMagic)
	rootID.Encode(buf[len(checkpointMagic):])
	binary.LittleEndian.PutUint64(buf[len(checkpointMagic)+uid.WireSize:], generation)

	if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("bptree: writing checkpoint %q: %w", path, err)
	}
	return nil
}

// readCheckpoint reads and validates the checkpoint file at path.
func readCheckpoint(path string) (checkpoint, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied
	if err != nil {
		return checkpoint{}, fmt.Errorf("bptree: reading checkpoint %q: %w", path, err)
	}

	want := len(checkpointMagic) + uid.WireSize + 8
	if len(raw) != want || string(raw[:len(checkpointMagic)]) != checkpointMagic {
		return checkpoint{}, fmt.Errorf("bptree: checkpoint %q is corrupt or not a checkpoint file", path)
	}

	rootID := uid.Decode(raw[len(checkpointMagic):])
	generation := binary.LittleEndian.Uint64(raw[len(checkpointMagic)+uid.WireSize:])

	return checkpoint{RootID: rootID, Generation: generation}, nil
}
