// Package block implements a fixed-size bitmap allocator over a flat,
// pre-reserved byte region.
//
// Allocations are always rounded up to a whole number of blocks and are
// never split or coalesced once made; fragmentation is accepted in
// exchange for O(1) offset math and a trivial free-list representation
// (one bit per block).
package block

import (
	"errors"
	"sync"

	"github.com/nodeforge/bptree/internal/bitset"
)

// ErrOutOfSpace is returned by Allocate when no run of free blocks large
// enough to satisfy the request exists.
var ErrOutOfSpace = errors.New("block: out of space")

// Allocator is a bitmap allocator over numBlocks fixed-size blocks. It is
// safe for concurrent use; all mutation happens under mu.
type Allocator struct {
	mu         sync.Mutex
	blockSize  int
	numBlocks  uint
	used       bitset.BitSet
	generation uint64 // bumped on each Reset; reported by Generation
}

// New creates an Allocator managing a region of storageBytes bytes, carved
// into blocks of blockSize bytes each. storageBytes need not be an exact
// multiple of blockSize; the remainder is unaddressable.
func New(blockSize int, storageBytes int64) *Allocator {
	if blockSize <= 0 {
		panic("block: blockSize must be > 0")
	}

	return &Allocator{
		blockSize: blockSize,
		numBlocks: uint(storageBytes / int64(blockSize)),
	}
}

// BlockSize returns the configured block size in bytes.
func (a *Allocator) BlockSize() int { return a.blockSize }

// blocksFor rounds nBytes up to a whole number of blocks.
func (a *Allocator) blocksFor(nBytes int) uint {
	if nBytes <= 0 {
		return 1
	}
	return uint((nBytes + a.blockSize - 1) / a.blockSize)
}

// Allocate finds the first run of blocks large enough to hold nBytes and
// marks them used, returning the block-aligned byte offset of the run.
func (a *Allocator) Allocate(nBytes int) (offset int64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.blocksFor(nBytes)

	start, ok := a.used.FirstFreeRun(0, a.numBlocks, n)
	if !ok {
		return 0, ErrOutOfSpace
	}

	a.used.SetRange(start, n)

	return int64(start) * int64(a.blockSize), nil
}

// Free clears the blocks backing the nBytes-long allocation starting at
// offset. Freeing an already-clear range is a no-op. Free does not check
// generations: freeing an offset handed out before a Reset clears
// whatever blocks now occupy that range, and never panics.
func (a *Allocator) Free(offset int64, nBytes int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := uint(offset / int64(a.blockSize))
	n := a.blocksFor(nBytes)

	if a.used.AllClear(start, n) {
		// Idempotent double-free within the same generation: already clear.
		return
	}

	a.used.ClearRange(start, n)
}

// Reset releases every block and bumps the generation counter, so that
// Allocate may reuse the whole region. Used by tests and by tier teardown.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.used = nil
	a.generation++
}

// Generation reports the current allocator generation.
func (a *Allocator) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.generation
}

// Stats reports the number of blocks currently marked used, and the total
// number of blocks in the region.
func (a *Allocator) Stats() (used, total uint) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return uint(a.used.Count()), a.numBlocks
}
