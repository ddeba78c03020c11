package storage

import (
	"testing"

	"github.com/nodeforge/bptree/internal/uid"
)

func TestHybridInMemoryRoundTrip(t *testing.T) {
	h, err := NewHybrid(Options{BlockSize: 256, StorageBytes: 256 * 16})
	if err != nil {
		t.Fatalf("NewHybrid: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	payload := []byte("hello index node")

	id, err := h.AddObject(uid.TierDRAM, uid.UID{}, uid.ObjectTypeDataNode, payload)
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}
	if id.Tier() != uid.TierDRAM {
		t.Fatalf("tier = %v, want DRAM", id.Tier())
	}

	got, err := h.GetObject(id)
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("GetObject = %q, want %q", got, payload)
	}

	if err := h.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestHybridRelocationFreesOldBlocks(t *testing.T) {
	h, err := NewHybrid(Options{BlockSize: 64, StorageBytes: 64 * 4})
	if err != nil {
		t.Fatalf("NewHybrid: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })

	id1, err := h.AddObject(uid.TierDRAM, uid.UID{}, uid.ObjectTypeDataNode, []byte("v1"))
	if err != nil {
		t.Fatalf("AddObject: %v", err)
	}

	id2, err := h.AddObject(uid.TierDRAM, id1, uid.ObjectTypeDataNode, []byte("v2-longer"))
	if err != nil {
		t.Fatalf("AddObject relocate: %v", err)
	}

	// id1's blocks are now free and may be reused by a later allocation;
	// id2 must still read back correctly regardless.
	got, err := h.GetObject(id2)
	if err != nil || string(got) != "v2-longer" {
		t.Fatalf("GetObject(id2) = %q, %v", got, err)
	}
}

func TestHybridUnknownTier(t *testing.T) {
	h, _ := NewHybrid(Options{BlockSize: 64, StorageBytes: 64 * 4})
	t.Cleanup(func() { _ = h.Close() })

	bogus := uid.UID{}.WithOffsetSize(uid.Tier(99), 0, 8)
	if _, err := h.GetObject(bogus); err == nil {
		t.Fatalf("expected error for unrecognized tier")
	}
}
