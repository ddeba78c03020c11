// Package uid implements the node identity (UID) described in the engine's
// data model: an opaque, fixed-size value composed of a storage tier, a
// byte offset into that tier's region, an object-type tag, and a
// serialized byte length.
package uid

import "encoding/binary"

// Tier names the storage backend a UID's offset is relative to.
type Tier uint8

const (
	// TierDRAM is the pre-persistence / volatile tier: a plain heap region.
	TierDRAM Tier = iota
	// TierPMem is a memory-mapped persistent-memory region.
	TierPMem
	// TierFile is a memory-mapped block-device/file region.
	TierFile
)

func (t Tier) String() string {
	switch t {
	case TierDRAM:
		return "DRAM"
	case TierPMem:
		return "PMem"
	case TierFile:
		return "File"
	default:
		return "Unknown"
	}
}

// ObjectType distinguishes the node flavor a UID's bytes decode as.
type ObjectType uint8

const (
	ObjectTypeDataNode ObjectType = iota
	ObjectTypeIndexNode
	ObjectTypeDataNodeBeta
	ObjectTypeIndexNodeBeta
)

func (o ObjectType) String() string {
	switch o {
	case ObjectTypeDataNode:
		return "DataNode"
	case ObjectTypeIndexNode:
		return "IndexNode"
	case ObjectTypeDataNodeBeta:
		return "DataNodeBeta"
	case ObjectTypeIndexNodeBeta:
		return "IndexNodeBeta"
	default:
		return "Unknown"
	}
}

// WireSize is the exact on-disk/on-wire byte width of a UID, per the
// engine's "16-byte fixed structure" wire form:
//
//	offset 0 : u8  tier
//	offset 1 : u8  object_type
//	offset 2 : u16 reserved
//	offset 4 : u32 size
//	offset 8 : u64 offset
const WireSize = 16

// notPersistedOffset marks an offset as belonging to the pre-persistence
// DRAM offset space rather than a real tier byte offset. Pre-persistence
// UIDs are minted by NewPrePersistence and carry monotonically increasing
// values from this space so that two freshly created objects never
// collide, without needing a real allocation.
const notPersistedOffset = uint64(1) << 63

// UID is the opaque node identity. Two UIDs are equal iff every field
// matches.
type UID struct {
	tier       Tier
	objectType ObjectType
	size       uint32
	offset     uint64
}

// New constructs a persisted UID for an object of the given type, tier,
// byte offset, and serialized size.
func New(tier Tier, objectType ObjectType, offset int64, size int) UID {
	return UID{tier: tier, objectType: objectType, offset: uint64(offset), size: uint32(size)}
}

// prePersistenceCounter hands out distinct pre-persistence offsets. It is a package
// level counter rather than per-Store state because pre-persistence UIDs
// are never compared across Store instances (they are always replaced by
// a persisted UID before the owning Store observes them from outside).
var prePersistenceCounter uint64

// nextPrePersistenceOffset draws the next value from prePersistenceCounter
// without atomics; callers serialize minting through the cache's map lock.
func nextPrePersistenceOffset() uint64 {
	prePersistenceCounter++
	return notPersistedOffset | prePersistenceCounter
}

// NewPrePersistence mints a fresh identity for a node that has just been
// created and not yet written to any tier. It carries a DRAM tag and an
// offset drawn from a reserved, never-persisted offset space.
func NewPrePersistence(objectType ObjectType, size int) UID {
	return UID{tier: TierDRAM, objectType: objectType, offset: nextPrePersistenceOffset(), size: uint32(size)}
}

// Tier reports the UID's storage tier.
func (u UID) Tier() Tier { return u.tier }

// ObjectType reports the UID's object-type tag.
func (u UID) ObjectType() ObjectType { return u.objectType }

// Offset reports the UID's byte offset into its tier's region.
func (u UID) Offset() int64 { return int64(u.offset &^ notPersistedOffset) }

// Size reports the UID's serialized byte length.
func (u UID) Size() int { return int(u.size) }

// IsPersisted reports whether this UID's tier is a real backing store,
// i.e. it is not a pre-persistence placeholder.
func (u UID) IsPersisted() bool {
	return u.offset&notPersistedOffset == 0
}

// Equal reports whether two UIDs have identical fields.
func (u UID) Equal(other UID) bool {
	return u == other
}

// WithOffsetSize returns a copy of u relocated to a new tier/offset/size,
// used when an object is (re-)written back to storage.
func (u UID) WithOffsetSize(tier Tier, offset int64, size int) UID {
	return UID{tier: tier, objectType: u.objectType, offset: uint64(offset), size: uint32(size)}
}

// Encode writes the 16-byte wire form of u into dst, which must be at
// least WireSize bytes.
func (u UID) Encode(dst []byte) {
	_ = dst[WireSize-1]

	dst[0] = byte(u.tier)
	dst[1] = byte(u.objectType)
	binary.LittleEndian.PutUint16(dst[2:4], 0) // reserved
	binary.LittleEndian.PutUint32(dst[4:8], u.size)
	binary.LittleEndian.PutUint64(dst[8:16], u.offset)
}

// Decode reads a UID from its 16-byte wire form.
func Decode(src []byte) UID {
	_ = src[WireSize-1]

	return UID{
		tier:       Tier(src[0]),
		objectType: ObjectType(src[1]),
		size:       binary.LittleEndian.Uint32(src[4:8]),
		offset:     binary.LittleEndian.Uint64(src[8:16]),
	}
}
