package bptree

import "cmp"

// lruPolicy is an intrusive doubly-linked list over wrapper.lruPrev/
// lruNext: head is most-recently-used, tail is least-recently-used.
type lruPolicy[K cmp.Ordered, V any] struct {
	head, tail *wrapper[K, V]
}

func newLRUPolicy[K cmp.Ordered, V any]() *lruPolicy[K, V] { return &lruPolicy[K, V]{} }

func (p *lruPolicy[K, V]) unlink(w *wrapper[K, V]) {
	if w.lruPrev != nil {
		w.lruPrev.lruNext = w.lruNext
	} else if p.head == w {
		p.head = w.lruNext
	}
	if w.lruNext != nil {
		w.lruNext.lruPrev = w.lruPrev
	} else if p.tail == w {
		p.tail = w.lruPrev
	}
	w.lruPrev, w.lruNext = nil, nil
}

func (p *lruPolicy[K, V]) pushFront(w *wrapper[K, V]) {
	w.lruPrev, w.lruNext = nil, p.head
	if p.head != nil {
		p.head.lruPrev = w
	}
	p.head = w
	if p.tail == nil {
		p.tail = w
	}
}

func (p *lruPolicy[K, V]) onInsert(w *wrapper[K, V]) { p.pushFront(w) }

func (p *lruPolicy[K, V]) onAccess(w *wrapper[K, V]) {
	if p.head == w {
		return
	}
	p.unlink(w)
	p.pushFront(w)
}

func (p *lruPolicy[K, V]) onRemove(w *wrapper[K, V]) { p.unlink(w) }

func (p *lruPolicy[K, V]) evict() *wrapper[K, V] {
	victim := p.tail
	if victim == nil {
		return nil
	}
	p.unlink(victim)
	return victim
}
