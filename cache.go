package bptree

import (
	"cmp"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nodeforge/bptree/internal/storage"
	"github.com/nodeforge/bptree/internal/uid"
)

// replacementPolicy is the bookkeeping a cache plugs in to decide which
// wrapper to evict next. Implementations are LRU, CLOCK, and A2Q; all
// mutate wrapper fields only while the cache holds its map lock.
type replacementPolicy[K cmp.Ordered, V any] interface {
	onInsert(w *wrapper[K, V])
	onAccess(w *wrapper[K, V])
	onRemove(w *wrapper[K, V])
	// evict removes and returns one candidate victim, or nil if the
	// policy has nothing left to offer.
	evict() *wrapper[K, V]
}

// decoder builds a nodeBody from a page's raw bytes, dispatching on the
// UID's object-type tag. The cache needs this to materialize a cold
// wrapper from storage without depending on the concrete node types
// (which in turn depend on the cache only through this narrow seam).
type decoder[K cmp.Ordered, V any] func(degree int, objType uid.ObjectType, raw []byte) nodeBody

// cache is the bounded replacement cache: a map of live wrappers keyed
// by UID, a pluggable eviction policy, and the tier storage dirty
// wrappers are written back to.
type cache[K cmp.Ordered, V any] struct {
	mu       sync.RWMutex
	capacity int
	degree   int
	objects  map[uid.UID]*wrapper[K, V]
	policy   replacementPolicy[K, V]
	storage  *storage.Hybrid
	decode   decoder[K, V]

	promotionAccessThreshold int
	promotionWindowMS        int

	log *zap.Logger

	// evictGroup bounds the number of concurrent async write-backs
	// issued by eviction, so a burst of evictions cannot stampede the
	// tier's I/O path. Grounded on golang.org/x/sync/errgroup's bounded
	// fan-out pattern.
	evictGroup *errgroup.Group
}

func newCache[K cmp.Ordered, V any](
	capacity, degree int,
	policyKind CachePolicy,
	st *storage.Hybrid,
	decode decoder[K, V],
	promotionAccessThreshold, promotionWindowMS int,
	log *zap.Logger,
) *cache[K, V] {
	if log == nil {
		log = zap.NewNop()
	}

	var policy replacementPolicy[K, V]
	switch policyKind {
	case CachePolicyCLOCK:
		policy = newClockPolicy[K, V](capacity)
	case CachePolicyA2Q:
		policy = newA2QPolicy[K, V]()
	default:
		policy = newLRUPolicy[K, V]()
	}

	eg := &errgroup.Group{}
	eg.SetLimit(4)

	return &cache[K, V]{
		capacity:                 capacity,
		degree:                   degree,
		objects:                  make(map[uid.UID]*wrapper[K, V]),
		policy:                   policy,
		storage:                  st,
		decode:                   decode,
		promotionAccessThreshold: promotionAccessThreshold,
		promotionWindowMS:        promotionWindowMS,
		log:                      log,
		evictGroup:               eg,
	}
}

// getObject returns the wrapper for id, materializing it from storage on
// a miss. On hit, the policy records an access and the promotion
// heuristic's counter advances.
func (c *cache[K, V]) getObject(id uid.UID) (*wrapper[K, V], error) {
	c.mu.RLock()
	w, ok := c.objects[id]
	c.mu.RUnlock()

	if ok {
		c.mu.Lock()
		c.policy.onAccess(w)
		c.mu.Unlock()

		w.mu.Lock()
		w.recordAccess(c.promotionWindowMS)
		if dn, isCold := coldBody(w.inner); isCold && w.shouldPromote(c.promotionAccessThreshold) {
			dn.promoteAny()
			c.log.Debug("promoted cold node to hot", zap.Uint8("tier", uint8(id.Tier())))
		}
		w.mu.Unlock()

		return w, nil
	}

	raw, err := c.storage.GetObject(id)
	if err != nil {
		return nil, fmt.Errorf("bptree: materializing %v: %w", id, err)
	}

	body := c.decode(c.degree, id.ObjectType(), raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have raced us to materialize the same id.
	if existing, ok := c.objects[id]; ok {
		c.policy.onAccess(existing)
		return existing, nil
	}

	w = newWrapper[K, V](id, body, false)
	c.objects[id] = w
	c.policy.onInsert(w)

	c.evictIfOverCapacityLocked()

	return w, nil
}

// createObjectOfType mints a fresh pre-persistence identity for a newly
// built node body and inserts it into the cache, pinned dirty (it has no
// durable backing yet).
func (c *cache[K, V]) createObjectOfType(objType uid.ObjectType, body nodeBody) *wrapper[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uid.NewPrePersistence(objType, 0)
	w := newWrapper[K, V](id, body, true)
	c.objects[id] = w
	c.policy.onInsert(w)

	c.evictIfOverCapacityLocked()

	return w
}

// reorder is a bulk policy update used by scanners/printers that touch
// many wrappers without going through getObject for each one.
func (c *cache[K, V]) reorder(ids []uid.UID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if w, ok := c.objects[id]; ok {
			c.policy.onAccess(w)
		}
	}
}

// evictIfOverCapacityLocked tries, with bounded retries, to evict one
// entry when the cache is over capacity. Must be called with c.mu held.
func (c *cache[K, V]) evictIfOverCapacityLocked() {
	if len(c.objects) <= c.capacity {
		return
	}

	const maxAttempts = 8

	for attempt := 0; attempt < maxAttempts; attempt++ {
		victim := c.policy.evict()
		if victim == nil {
			return
		}

		if !victim.mu.TryLock() {
			// Pinned by an ongoing operation; policy already removed it
			// from its bookkeeping, so re-insert it and try another.
			c.policy.onInsert(victim)
			continue
		}

		c.evictLocked(victim)
		return
	}

	c.log.Debug("eviction gave up after bounded retries; cache temporarily over capacity")
}

// evictLocked runs the eviction pipeline for victim, whose lock is
// already held by the caller, as is c.mu. evictLocked releases the
// victim's lock before it returns; a dirty victim is then written back by
// an async goroutine that re-acquires that lock.
func (c *cache[K, V]) evictLocked(victim *wrapper[K, V]) {
	id := victim.id

	if !victim.dirty {
		victim.mu.Unlock()
		delete(c.objects, id)
		return
	}

	payload := victim.inner.marshalBinary()
	objType := victim.inner.objectType()
	victim.mu.Unlock()

	c.evictGroup.Go(func() error {
		tier := chooseWriteBackTier(id.Tier())

		newID, err := c.storage.AddObject(tier, id, objType, payload)
		if err != nil {
			c.log.Warn("async eviction write-back failed; wrapper remains dirty", zap.Error(err))
			return err
		}

		victim.mu.Lock()
		victim.updatedID = &newID
		victim.dirty = false
		victim.mu.Unlock()

		c.log.Debug("evicted dirty wrapper flushed", zap.Uint8("from_tier", uint8(id.Tier())), zap.Uint8("to_tier", uint8(tier)))

		return nil
	})
}

// writeBack synchronously flushes w if dirty, used by the tree driver's
// top-level Flush (as opposed to the async path eviction uses). Returns
// the wrapper's resulting id (unchanged if it was not dirty).
func (c *cache[K, V]) writeBack(w *wrapper[K, V]) (uid.UID, error) {
	w.mu.Lock()

	if !w.dirty {
		id := w.id
		w.mu.Unlock()
		return id, nil
	}

	payload := w.inner.marshalBinary()
	tier := chooseWriteBackTier(w.id.Tier())

	newID, err := c.storage.AddObject(tier, w.id, w.inner.objectType(), payload)
	if err != nil {
		w.mu.Unlock()
		c.log.Error("synchronous flush write-back failed", zap.Error(err))
		return w.id, fmt.Errorf("bptree: flush write-back: %w", err)
	}

	oldID := w.id
	w.id = newID
	w.updatedID = nil
	w.dirty = false
	w.mu.Unlock()

	// Re-key the cache entry so the wrapper stays reachable under its new id.
	c.mu.Lock()
	if c.objects[oldID] == w {
		delete(c.objects, oldID)
	}
	c.objects[newID] = w
	c.mu.Unlock()

	return newID, nil
}

// waitForAsyncFlushes blocks until every in-flight async eviction
// write-back has completed, reporting the first error (if any). Flush
// calls this before walking the tree so it observes a quiescent cache.
func (c *cache[K, V]) waitForAsyncFlushes(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.evictGroup.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// remove deletes id from the cache without writing it back, freeing its
// backing tier blocks if it was ever persisted (used when the driver
// deletes a node outright after a merge). A pre-persistence id was never
// written to a tier, so there is nothing to free.
func (c *cache[K, V]) remove(id uid.UID) {
	c.mu.Lock()
	if w, ok := c.objects[id]; ok {
		c.policy.onRemove(w)
		delete(c.objects, id)
	}
	c.mu.Unlock()

	if !id.IsPersisted() {
		return
	}

	if err := c.storage.Remove(id); err != nil {
		c.log.Warn("freeing removed object's tier blocks failed", zap.Error(err))
	}
}

// chooseWriteBackTier decides where a dirty wrapper lands when flushed:
// DRAM-resident (pre-persistence or promoted-hot) nodes are demoted to
// the durable File tier; nodes already persisted in PMem or File are
// rewritten into a fresh allocation in the same tier, whose old blocks
// are freed once the new bytes are written.
func chooseWriteBackTier(current uid.Tier) uid.Tier {
	if current == uid.TierDRAM {
		return uid.TierFile
	}
	return current
}

// coldBody reports whether inner is a promotable cold node, returning a
// narrow interface to trigger promotion without the cache needing to
// know K/V-specific node types.
func coldBody(inner nodeBody) (promotable, bool) {
	p, ok := inner.(promotable)
	return p, ok && p.isCold()
}

// promotable is implemented by every node body capable of the cold ->
// hot transition.
type promotable interface {
	isCold() bool
	promoteAny()
}
