package storage

import (
	"fmt"

	"github.com/nodeforge/bptree/internal/uid"
)

// Hybrid dispatches AddObject/GetObject/Remove across the three tiers by
// the target UID's tier tag.
type Hybrid struct {
	dram, pmem, file Tier
}

// Options configures which tiers a Hybrid store uses. PMemPath/FilePath
// empty means "back that tier with heap memory instead of a mapped
// file" -- useful for tests and for a single-process in-memory mode.
type Options struct {
	BlockSize    int
	StorageBytes int64
	PMemPath     string
	FilePath     string
}

// NewHybrid constructs the three tiers per opts and wires them into a
// Hybrid dispatcher.
func NewHybrid(opts Options) (*Hybrid, error) {
	dram := NewMemTier(uid.TierDRAM, opts.BlockSize, opts.StorageBytes)

	pmem, err := tierOrMem(uid.TierPMem, opts.PMemPath, opts.BlockSize, opts.StorageBytes)
	if err != nil {
		return nil, err
	}

	file, err := tierOrMem(uid.TierFile, opts.FilePath, opts.BlockSize, opts.StorageBytes)
	if err != nil {
		return nil, err
	}

	return &Hybrid{dram: dram, pmem: pmem, file: file}, nil
}

func tierOrMem(tier uid.Tier, path string, blockSize int, storageBytes int64) (Tier, error) {
	if path == "" {
		return NewMemTier(tier, blockSize, storageBytes), nil
	}
	return NewMmapTier(tier, path, blockSize, storageBytes)
}

func (h *Hybrid) pick(t uid.Tier) (Tier, error) {
	switch t {
	case uid.TierDRAM:
		return h.dram, nil
	case uid.TierPMem:
		return h.pmem, nil
	case uid.TierFile:
		return h.file, nil
	default:
		return nil, fmt.Errorf("storage: unrecognized tier tag %d", t)
	}
}

// AddObject routes to the tier named by newTier, serializing payload and
// freeing oldID's blocks (if it lived in the same tier) once durable.
func (h *Hybrid) AddObject(newTier uid.Tier, oldID uid.UID, objectType uid.ObjectType, payload []byte) (uid.UID, error) {
	t, err := h.pick(newTier)
	if err != nil {
		return uid.UID{}, err
	}
	return t.AddObject(oldID, objectType, payload)
}

// GetObject routes to id's tier and returns the raw serialized bytes.
func (h *Hybrid) GetObject(id uid.UID) ([]byte, error) {
	t, err := h.pick(id.Tier())
	if err != nil {
		return nil, err
	}
	return t.GetObject(id)
}

// Remove routes to id's tier and frees its blocks.
func (h *Hybrid) Remove(id uid.UID) error {
	t, err := h.pick(id.Tier())
	if err != nil {
		return err
	}
	return t.Remove(id)
}

// Close tears down every tier (unmapping any mapped files).
func (h *Hybrid) Close() error {
	var firstErr error
	for _, t := range []Tier{h.dram, h.pmem, h.file} {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
