package storage

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nodeforge/bptree/internal/block"
	"github.com/nodeforge/bptree/internal/uid"
)

// mmapTier is the PMem/File tier: a memory-mapped, file-backed region.
// PMem and File share this implementation; they differ only in which
// path the caller configures and which uid.Tier tag they stamp.
type mmapTier struct {
	mu     sync.RWMutex
	tier   uid.Tier
	file   *os.File
	region []byte // mmap'd view over file
	alloc  *block.Allocator
}

// NewMmapTier opens (creating if necessary) the file at path, truncates
// it to storageBytes, and maps it into the process. AddObject msyncs each
// write before it returns; Close unmaps the region and closes the file
// without a further sync.
func NewMmapTier(tier uid.Tier, path string, blockSize int, storageBytes int64) (Tier, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s tier file %q: %w", tier, path, err)
	}

	if err := f.Truncate(storageBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: truncating %s tier file %q: %w", tier, path, err)
	}

	region, err := unix.Mmap(int(f.Fd()), 0, int(storageBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap %s tier file %q: %w", tier, path, err)
	}

	return &mmapTier{
		tier:   tier,
		file:   f,
		region: region,
		alloc:  block.New(blockSize, storageBytes),
	}, nil
}

func (t *mmapTier) Tier() uid.Tier { return t.tier }

func (t *mmapTier) AddObject(oldID uid.UID, objectType uid.ObjectType, payload []byte) (uid.UID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	off, err := t.alloc.Allocate(len(payload))
	if err != nil {
		return uid.UID{}, err
	}

	copy(t.region[off:], payload)

	// msync needs a page-aligned start; blocks may be smaller than a page.
	syncStart := off &^ (int64(os.Getpagesize()) - 1)
	if err := unix.Msync(t.region[syncStart:off+int64(len(payload))], unix.MS_SYNC); err != nil {
		t.alloc.Free(off, len(payload))
		return uid.UID{}, fmt.Errorf("storage: msync %s tier: %w", t.tier, err)
	}

	newID := uid.New(t.tier, objectType, off, len(payload))

	if oldID.IsPersisted() && oldID.Tier() == t.tier {
		t.alloc.Free(oldID.Offset(), oldID.Size())
	}

	return newID, nil
}

func (t *mmapTier) GetObject(id uid.UID) ([]byte, error) {
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

func (t *mmapTier) Remove(id uid.UID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alloc.Free(id.Offset(), id.Size())

	return nil
}

func (t *mmapTier) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := unix.Munmap(t.region)
	if closeErr := t.file.Close(); err == nil {
		err = closeErr
	}

	return err
}
