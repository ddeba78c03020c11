/*
Copyright 2014 Will Fitzgerald. All rights reserved.
Use of this source code is governed by a BSD-style
license that can be found in the LICENSE file.
*/

// Package bitset implements bitsets, a mapping
// between non-negative integers and boolean values.
//
// This is a simplified and stripped down version of:
//
//	github.com/bits-and-blooms/bitset
//
// trimmed to exactly the run-finding and range operations the block
// allocator needs (Test/Set/Clear, FirstFreeRun, SetRange/ClearRange,
// AllClear, Count); the source library's set-algebra surface
// (union/intersection, rank, iteration) has no caller here.
//
// All bugs belong to me.
package bitset

import (
	"math/bits"
)

// the wordSize of a bit set
const wordSize = 64

// log2WordSize is lg(wordSize)
const log2WordSize = 6

// A BitSet is a slice of words. This is an internal package
// with a wide open public API.
type BitSet []uint64

// extendSet adds additional words to incorporate new bits if needed.
func (b *BitSet) extendSet(i uint) {
	nsize := wordsNeeded(i)
	if b == nil {
		*b = make([]uint64, nsize)
	} else if len(*b) < nsize {
		newset := make([]uint64, nsize)
		copy(newset, *b)
		*b = newset
	}
}

// bitsCapacity returns the number of possible bits in the current set.
func (b BitSet) bitsCapacity() uint {
	return uint(len(b) * 64)
}

// wordsNeeded calculates the number of words needed for i bits.
func wordsNeeded(i uint) int {
	return int(i+wordSize) >> log2WordSize
}

// bitsIndex calculates the index of i in a `uint64`
func bitsIndex(i uint) uint {
	return i & (wordSize - 1) // (i % 64) but faster
}

// Test whether bit i is set.
func (b BitSet) Test(i uint) bool {
	if i >= b.bitsCapacity() {
		return false
	}
	return b[i>>log2WordSize]&(1<<bitsIndex(i)) != 0
}

// Set bit i to 1, the capacity of the bitset is increased accordingly.
func (b *BitSet) Set(i uint) {
	if i >= b.bitsCapacity() {
		b.extendSet(i)
	}
	(*b)[i>>log2WordSize] |= (1 << bitsIndex(i))
}

// Clear bit i to 0.
func (b *BitSet) Clear(i uint) {
	if i >= b.bitsCapacity() {
		return
	}
	(*b)[i>>log2WordSize] &^= (1 << bitsIndex(i))
}

// Count (number of set bits).
// Also known as "popcount" or "population count".
func (b BitSet) Count() int {
	return popcntSlice(b)
}

func popcntSlice(s []uint64) int {
	var cnt int
	for _, x := range s {
		cnt += bits.OnesCount64(x)
	}
	return cnt
}

// FirstFreeRun scans for the first run of n consecutive clear bits at or
// after start, within a universe of size bits. It returns the index of the
// first bit of the run and true, or false if no such run exists.
func (b BitSet) FirstFreeRun(start, size uint, n uint) (uint, bool) {
	if n == 0 {
		return start, start < size
	}

	run := uint(0)
	runStart := start

	for i := start; i < size; i++ {
		if !b.Test(i) {
			if run == 0 {
				runStart = i
			}
			run++
			if run == n {
				return runStart, true
			}
			continue
		}
		run = 0
	}

	return 0, false
}

// SetRange sets bits [start, start+n) to 1.
func (b *BitSet) SetRange(start, n uint) {
	for i := start; i < start+n; i++ {
		b.Set(i)
	}
}

// ClearRange clears bits [start, start+n) to 0.
func (b *BitSet) ClearRange(start, n uint) {
	for i := start; i < start+n; i++ {
		b.Clear(i)
	}
}

// AllClear reports whether bits [start, start+n) are all clear.
func (b BitSet) AllClear(start, n uint) bool {
	for i := start; i < start+n; i++ {
		if b.Test(i) {
			return false
		}
	}
	return true
}
