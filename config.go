package bptree

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// CachePolicy selects the replacement policy used by the node cache.
type CachePolicy string

const (
	CachePolicyLRU   CachePolicy = "lru"
	CachePolicyCLOCK CachePolicy = "clock"
	CachePolicyA2Q   CachePolicy = "a2q"
)

// TreeKind selects which tree driver a Store runs.
type TreeKind string

const (
	TreeKindBPlus TreeKind = "bplus"
	TreeKindBeta  TreeKind = "beta"
)

// Config holds every tunable of a Store: the tree shape, the cache, and
// the tier backing regions. Zero-value fields are not filled in: start
// from DefaultConfig (LoadConfig overlays the file onto it), since
// Validate rejects zero values. Degree, BlockSize and StorageBytes have
// no safe default and must be set.
type Config struct {
	// Degree is the B-tree minimum occupancy parameter d (d >= 2): a
	// non-root node holds between d-1 and 2d-1 entries/pivots.
	Degree int `json:"degree"`

	// TreeKind selects "bplus" (default) or "beta".
	TreeKind TreeKind `json:"tree_kind"`

	// CacheCapacity bounds the number of live wrappers the replacement
	// cache holds before it starts evicting.
	CacheCapacity int `json:"cache_capacity"`

	// CachePolicy selects "lru" (default), "clock", or "a2q".
	CachePolicy CachePolicy `json:"cache_policy"`

	// BlockSize is the fixed block size in bytes for every tier's
	// bitmap allocator (e.g. 4096).
	BlockSize int `json:"block_size"`

	// StorageBytes is the size in bytes of each tier's backing region.
	StorageBytes int64 `json:"storage_bytes"`

	// PMemPath and FilePath are the backing file paths for the PMem and
	// File tiers. Empty means "use an in-heap region for this tier"
	// (useful for tests; see internal/storage.Options).
	PMemPath string `json:"pmem_path"`
	FilePath string `json:"file_path"`

	// CheckpointPath, if non-empty, is where Store persists its root
	// UID on Checkpoint and reads it back on Open.
	CheckpointPath string `json:"checkpoint_path"`

	// BufferRatioToFanout bounds a B-epsilon interior node's per-pivot
	// message buffer at (2*Degree-1) * BufferRatioToFanout messages.
	// Ignored for TreeKindBPlus. Defaults to 4.
	BufferRatioToFanout int `json:"buffer_ratio_to_fanout"`

	// PromotionAccessThreshold and PromotionWindowMS tune the cold ->
	// hot promotion heuristic: a node promotes on the access that brings
	// its count to PromotionAccessThreshold, where the count resets to 1
	// whenever more than PromotionWindowMS passes between two accesses.
	// Defaults are 10 accesses and 10ms (see DESIGN.md for the rationale).
	PromotionAccessThreshold int `json:"promotion_access_threshold"`
	PromotionWindowMS        int `json:"promotion_window_ms"`
}

// DefaultConfig returns a Config with every tunable set to a reasonable
// default except Degree, BlockSize, and StorageBytes, which callers must
// set explicitly.
func DefaultConfig() Config {
	return Config{
		TreeKind:                 TreeKindBPlus,
		CacheCapacity:            1024,
		CachePolicy:              CachePolicyLRU,
		BufferRatioToFanout:      4,
		PromotionAccessThreshold: 10,
		PromotionWindowMS:        10,
	}
}

// Validate checks Config for the invariants the rest of the package
// assumes hold (Degree >= 2, positive sizes, a recognized policy/kind).
func (c Config) Validate() error {
	if c.Degree < 2 {
		return fmt.Errorf("bptree: degree must be >= 2, got %d", c.Degree)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("bptree: block size must be > 0, got %d", c.BlockSize)
	}
	if c.StorageBytes <= 0 {
		return fmt.Errorf("bptree: storage bytes must be > 0, got %d", c.StorageBytes)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("bptree: cache capacity must be > 0, got %d", c.CacheCapacity)
	}
	switch c.CachePolicy {
	case CachePolicyLRU, CachePolicyCLOCK, CachePolicyA2Q:
	default:
		return fmt.Errorf("bptree: unrecognized cache policy %q", c.CachePolicy)
	}
	switch c.TreeKind {
	case TreeKindBPlus, TreeKindBeta:
	default:
		return fmt.Errorf("bptree: unrecognized tree kind %q", c.TreeKind)
	}
	return nil
}

// LoadConfig reads a HuJSON (JSON with comments and trailing commas)
// config file at path, overlaying it on DefaultConfig.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied
	if err != nil {
		return Config{}, fmt.Errorf("bptree: reading config %q: %w", path, err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("bptree: parsing config %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(std, &cfg); err != nil {
		return Config{}, fmt.Errorf("bptree: decoding config %q: %w", path, err)
	}

	return cfg, nil
}
