package bptree

import "cmp"

const (
	queueNone byte = iota
	queueRecent
	queueFrequent
)

// a2qPolicy implements a simplified 2Q: a recent-FIFO for first-touch
// entries and a frequent-LRU (reusing the wrapper's lruPrev/lruNext
// links) for entries that earned a second access. Eviction drains the
// recent queue first, then the frequent queue.
type a2qPolicy[K cmp.Ordered, V any] struct {
	recent           []*wrapper[K, V]
	freqHead, freqTail *wrapper[K, V]
}

func newA2QPolicy[K cmp.Ordered, V any]() *a2qPolicy[K, V] { return &a2qPolicy[K, V]{} }

func (p *a2qPolicy[K, V]) freqUnlink(w *wrapper[K, V]) {
	if w.lruPrev != nil {
		w.lruPrev.lruNext = w.lruNext
	} else if p.freqHead == w {
		p.freqHead = w.lruNext
	}
	if w.lruNext != nil {
		w.lruNext.lruPrev = w.lruPrev
	} else if p.freqTail == w {
		p.freqTail = w.lruPrev
	}
	w.lruPrev, w.lruNext = nil, nil
}

func (p *a2qPolicy[K, V]) freqPushFront(w *wrapper[K, V]) {
	w.lruPrev, w.lruNext = nil, p.freqHead
	if p.freqHead != nil {
		p.freqHead.lruPrev = w
	}
	p.freqHead = w
	if p.freqTail == nil {
		p.freqTail = w
	}
}

func (p *a2qPolicy[K, V]) onInsert(w *wrapper[K, V]) {
	w.queueMember = queueRecent
	p.recent = append(p.recent, w)
}

func (p *a2qPolicy[K, V]) onAccess(w *wrapper[K, V]) {
	switch w.queueMember {
	case queueRecent:
		p.removeFromRecent(w)
		w.queueMember = queueFrequent
		p.freqPushFront(w)
	case queueFrequent:
		if p.freqHead == w {
			return
		}
		p.freqUnlink(w)
		p.freqPushFront(w)
	default:
		// Not tracked (shouldn't happen); treat like a fresh insert.
		p.onInsert(w)
	}
}

func (p *a2qPolicy[K, V]) removeFromRecent(w *wrapper[K, V]) {
	for i, cand := range p.recent {
		if cand == w {
			p.recent = append(p.recent[:i], p.recent[i+1:]...)
			return
		}
	}
}

func (p *a2qPolicy[K, V]) onRemove(w *wrapper[K, V]) {
	switch w.queueMember {
	case queueRecent:
		p.removeFromRecent(w)
	case queueFrequent:
		p.freqUnlink(w)
	}
	w.queueMember = queueNone
}

func (p *a2qPolicy[K, V]) evict() *wrapper[K, V] {
	if len(p.recent) > 0 {
		victim := p.recent[0]
		p.recent = p.recent[1:]
		victim.queueMember = queueNone
		return victim
	}

	victim := p.freqTail
	if victim == nil {
		return nil
	}
	p.freqUnlink(victim)
	victim.queueMember = queueNone
	return victim
}
