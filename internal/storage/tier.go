// Package storage implements the three parallel tier backends (DRAM,
// PMem, File) that back the engine's nodes, and the HybridStorage
// dispatcher that routes by a UID's tier tag.
//
// Each tier owns one contiguous byte region and one block.Allocator.
// AddObject copies a caller-serialized payload into a fresh allocation
// and returns the UID describing where it landed; GetObject returns a
// copy of the bytes of a previously-added object.
package storage

import (
	"errors"
	"sync"

	"github.com/nodeforge/bptree/internal/block"
	"github.com/nodeforge/bptree/internal/uid"
)

// ErrNotFound is returned by GetObject for a UID whose offset and size
// fall outside this tier's region. Remove does not return it, and neither
// method checks whether the range was ever allocated.
var ErrNotFound = errors.New("storage: object not found")

// Tier is one storage backend: a byte region plus a block allocator.
type Tier interface {
	// AddObject serializes payload into a fresh allocation, freeing the
	// blocks behind oldID (if it was persisted in this tier) only after
	// the new bytes are durable. It returns the UID of the new location.
	AddObject(oldID uid.UID, objectType uid.ObjectType, payload []byte) (uid.UID, error)

	// GetObject returns the bytes previously stored at id.
	GetObject(id uid.UID) ([]byte, error)

	// Remove frees the blocks backing id.
	Remove(id uid.UID) error

	// Tier reports which uid.Tier this backend serves.
	Tier() uid.Tier

	// Close releases any OS resources (mapped files) held by the tier.
	Close() error
}

// memTier is the DRAM tier: a heap-allocated region, no file backing.
// It also underlies the File/PMem tiers when they are configured without
// a path (useful for tests that want tiered routing without real files).
type memTier struct {
	mu     sync.RWMutex
	tier   uid.Tier
	region []byte
	alloc  *block.Allocator
}

// NewMemTier creates an in-heap tier of the given uid.Tier identity.
func NewMemTier(tier uid.Tier, blockSize int, storageBytes int64) Tier {
	return &memTier{
		tier:   tier,
		region: make([]byte, storageBytes),
		alloc:  block.New(blockSize, storageBytes),
	}
}

func (t *memTier) Tier() uid.Tier { return t.tier }

func (t *memTier) AddObject(oldID uid.UID, objectType uid.ObjectType, payload []byte) (uid.UID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	off, err := t.alloc.Allocate(len(payload))
	if err != nil {
		return uid.UID{}, err
	}

	copy(t.region[off:], payload)

	newID := uid.New(t.tier, objectType, off, len(payload))

	if oldID.IsPersisted() && oldID.Tier() == t.tier {
		t.alloc.Free(oldID.Offset(), oldID.Size())
	}

	return newID, nil
}

func (t *memTier) GetObject(id uid.UID) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	off, size := id.Offset(), id.Size()
	if off < 0 || size < 0 || off+int64(size) > int64(len(t.region)) {
		return nil, ErrNotFound
	}

	out := make([]byte, size)
	copy(out, t.region[off:off+int64(size)])

	return out, nil
}

func (t *memTier) Remove(id uid.UID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alloc.Free(id.Offset(), id.Size())

	return nil
}

func (t *memTier) Close() error { return nil }
