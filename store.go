package bptree

import (
	"cmp"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/nodeforge/bptree/internal/storage"
	"github.com/nodeforge/bptree/internal/uid"
)

// Store is the engine's public entry point: it owns the tier storage,
// the bounded node cache, and one tree driver (plain B+ or buffered
// B-epsilon, per Config.TreeKind), and exposes the key/value operations
// a caller needs without any of that plumbing leaking out.
type Store[K cmp.Ordered, V any] struct {
	cfg Config
	kc  Codec[K]
	vc  Codec[V]
	log *zap.Logger

	storage *storage.Hybrid
	cache   *cache[K, V]

	tree     *Tree[K, V]     // set iff cfg.TreeKind == TreeKindBPlus
	betaTree *BetaTree[K, V] // set iff cfg.TreeKind == TreeKindBeta
}

// New creates a fresh Store: an empty root leaf, a cache sized per
// Config, and tier storage rooted at Config's paths (or in-heap regions
// when a path is empty).
func New[K cmp.Ordered, V any](cfg Config, kc Codec[K], vc Codec[V], log *zap.Logger) (*Store[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	st, err := storage.NewHybrid(storage.Options{
		BlockSize:    cfg.BlockSize,
		StorageBytes: cfg.StorageBytes,
		PMemPath:     cfg.PMemPath,
		FilePath:     cfg.FilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("bptree: opening storage: %w", err)
	}

	s := &Store[K, V]{cfg: cfg, kc: kc, vc: vc, log: log, storage: st}

	bufferCap := (2*cfg.Degree - 1) * cfg.BufferRatioToFanout
	s.cache = newCache[K, V](cfg.CacheCapacity, cfg.Degree, cfg.CachePolicy, st, s.decodePage(bufferCap),
		cfg.PromotionAccessThreshold, cfg.PromotionWindowMS, log)

	beta := cfg.TreeKind == TreeKindBeta

	root := newDataNode[K, V](cfg.Degree, kc, vc, beta)
	rootObjType := uid.ObjectTypeDataNode
	if beta {
		rootObjType = uid.ObjectTypeDataNodeBeta
	}
	rootW := s.cache.createObjectOfType(rootObjType, root)

	switch cfg.TreeKind {
	case TreeKindBeta:
		s.betaTree = newBetaTree[K, V](cfg.Degree, bufferCap, kc, vc, s.cache, log, rootW.id)
	default:
		s.tree = newTree[K, V](cfg.Degree, kc, vc, s.cache, log, rootW.id)
	}

	log.Info("store initialized",
		zap.String("tree_kind", string(cfg.TreeKind)),
		zap.String("cache_policy", string(cfg.CachePolicy)),
		zap.Int("degree", cfg.Degree))

	return s, nil
}

// Open reopens a Store from a prior checkpoint's root UID, reattaching
// to the same tier storage paths. See checkpoint.go.
func Open[K cmp.Ordered, V any](cfg Config, kc Codec[K], vc Codec[V], log *zap.Logger) (*Store[K, V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CheckpointPath == "" {
		return nil, fmt.Errorf("bptree: Open requires Config.CheckpointPath")
	}
	if log == nil {
		log = zap.NewNop()
	}

	cp, err := readCheckpoint(cfg.CheckpointPath)
	if err != nil {
		return nil, err
	}

	st, err := storage.NewHybrid(storage.Options{
		BlockSize:    cfg.BlockSize,
		StorageBytes: cfg.StorageBytes,
		PMemPath:     cfg.PMemPath,
		FilePath:     cfg.FilePath,
	})
	if err != nil {
		return nil, fmt.Errorf("bptree: opening storage: %w", err)
	}

	s := &Store[K, V]{cfg: cfg, kc: kc, vc: vc, log: log, storage: st}

	bufferCap := (2*cfg.Degree - 1) * cfg.BufferRatioToFanout
	s.cache = newCache[K, V](cfg.CacheCapacity, cfg.Degree, cfg.CachePolicy, st, s.decodePage(bufferCap),
		cfg.PromotionAccessThreshold, cfg.PromotionWindowMS, log)

	switch cfg.TreeKind {
	case TreeKindBeta:
		s.betaTree = newBetaTree[K, V](cfg.Degree, bufferCap, kc, vc, s.cache, log, cp.RootID)
	default:
		s.tree = newTree[K, V](cfg.Degree, kc, vc, s.cache, log, cp.RootID)
	}

	log.Info("store reopened from checkpoint",
		zap.String("checkpoint_path", cfg.CheckpointPath),
		zap.Uint64("generation", cp.Generation))

	return s, nil
}

// decodePage builds the decoder the cache uses to materialize a cold
// node body from a page's raw bytes, dispatching on the UID's
// object-type tag.
func (s *Store[K, V]) decodePage(bufferCap int) decoder[K, V] {
	return func(degree int, objType uid.ObjectType, raw []byte) nodeBody {
		switch objType {
		case uid.ObjectTypeDataNode, uid.ObjectTypeDataNodeBeta:
			return newColdDataNode[K, V](degree, s.kc, s.vc, raw)
		case uid.ObjectTypeIndexNode:
			return newColdIndexNode[K, V](degree, s.kc, raw)
		case uid.ObjectTypeIndexNodeBeta:
			return newColdBetaIndexNode[K, V](degree, s.kc, s.vc, bufferCap, raw)
		default:
			fatalf("decode: unrecognized object type %v", objType)
			return nil
		}
	}
}

// Insert adds (k,v) if k is not already present.
func (s *Store[K, V]) Insert(k K, v V) Result {
	if s.betaTree != nil {
		return s.betaTree.Insert(k, v)
	}
	return s.tree.Insert(k, v)
}

// Search looks up k, returning an idiomatic error instead of a bare
// Result for callers that prefer the errors.Is style.
func (s *Store[K, V]) Search(k K) (V, error) {
	var (
		v   V
		res Result
	)
	if s.betaTree != nil {
		v, res = s.betaTree.Search(k)
	} else {
		v, res = s.tree.Search(k)
	}
	if res != ResultSuccess {
		return v, ErrKeyDoesNotExist
	}
	return v, nil
}

// Remove deletes k if present.
func (s *Store[K, V]) Remove(k K) Result {
	if s.betaTree != nil {
		return s.betaTree.Remove(k)
	}
	return s.tree.Remove(k)
}

// Flush waits for in-flight async eviction write-backs and then forces
// every dirty node to durable storage, returning the resulting root UID
// so a caller (or Checkpoint) can persist it.
func (s *Store[K, V]) Flush(ctx context.Context) (uid.UID, error) {
	if s.betaTree != nil {
		return s.betaTree.Flush(ctx)
	}
	return s.tree.Flush(ctx)
}

// Checkpoint flushes the tree and atomically persists its root UID and
// an incremented generation counter to Config.CheckpointPath.
func (s *Store[K, V]) Checkpoint(ctx context.Context) error {
	if s.cfg.CheckpointPath == "" {
		return fmt.Errorf("bptree: Checkpoint requires Config.CheckpointPath")
	}
	rootID, err := s.Flush(ctx)
	if err != nil {
		return err
	}
	return writeCheckpoint(s.cfg.CheckpointPath, rootID)
}

// Print writes a depth-first dump of the tree to w, for debugging and
// tests. It does not mutate tree structure but does touch the cache's
// replacement-policy bookkeeping for every visited node, mirroring how a
// read-heavy scan affects eviction order.
func (s *Store[K, V]) Print(w io.Writer) error {
	rootID := s.rootID()
	return s.printSubtree(w, rootID, 0)
}

func (s *Store[K, V]) rootID() uid.UID {
	if s.betaTree != nil {
		return s.betaTree.RootID()
	}
	return s.tree.RootID()
}

func (s *Store[K, V]) printSubtree(w io.Writer, id uid.UID, depth int) error {
	wr, err := s.cache.getObject(id)
	if err != nil {
		return err
	}
	s.cache.reorder([]uid.UID{id})

	wr.mu.RLock()
	defer wr.mu.RUnlock()

	indent := fmt.Sprintf("%*s", depth*2, "")

	switch body := wr.inner.(type) {
	case *dataNode[K, V]:
		body.flushPending()
		body.promote()
		if _, err := fmt.Fprintf(w, "%sleaf[%d] keys=%v\n", indent, depth, body.keys); err != nil {
			return err
		}
	case *indexNode[K, V]:
		body.promote()
		if _, err := fmt.Fprintf(w, "%sindex[%d] keys=%v\n", indent, depth, body.keys); err != nil {
			return err
		}
		for _, c := range body.children {
			if err := s.printSubtree(w, c.id, depth+1); err != nil {
				return err
			}
		}
	case *betaIndexNode[K, V]:
		body.promote()
		bufLens := make([]int, len(body.buffers))
		for i, b := range body.buffers {
			bufLens[i] = len(b)
		}
		if _, err := fmt.Fprintf(w, "%sbeta_index[%d] keys=%v buffered=%v\n", indent, depth, body.keys, bufLens); err != nil {
			return err
		}
		for _, c := range body.children {
			if err := s.printSubtree(w, c.id, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}

// Close releases the Store's tier storage resources (unmapping and
// closing any mmap'd files).
func (s *Store[K, V]) Close() error {
	return s.storage.Close()
}
