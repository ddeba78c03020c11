/*
Copyright 2014 Will Fitzgerald. All rights reserved.
Use of this source code is governed by a BSD-style
license that can be found in the LICENSE file.
*/

package bitset

import (
	"testing"
)

func TestNil(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Error("A nil bitset must not panic")
		}
	}()

	b := BitSet(nil)
	b.Set(0)

	b = BitSet(nil)
	b.Clear(1000)

	b = BitSet(nil)
	b.Count()

	b = BitSet(nil)
	b.Test(42)
}

func TestZeroValue(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Error("A zero value bitset must not panic")
		}
	}()

	b := BitSet{}
	b.Set(0)

	b = BitSet{}
	b.Clear(1000)

	b = BitSet{}
	b.Count()

	b = BitSet{}
	b.Test(42)
}

func TestBitSetUntil(t *testing.T) {
	var b BitSet
	var last uint = 900
	b.Set(last)
	for i := range last {
		if b.Test(i) {
			t.Errorf("Bit %d is set, and it shouldn't be.", i)
		}
	}
}

func TestExpand(t *testing.T) {
	var b BitSet
	for i := range 512 {
		b.Set(uint(i))
	}
	want := 8
	if len(b) != want {
		t.Errorf("Set(511), want len: %d, got: %d", want, len(b))
	}
	if cap(b) != want {
		t.Errorf("Set(511), want cap: %d, got: %d", want, cap(b))
	}
}

func TestTest(t *testing.T) {
	var b BitSet
	b.Set(100)
	if !b.Test(100) {
		t.Errorf("Bit %d is clear, and it shouldn't be.", 100)
	}
}

func TestCount(t *testing.T) {
	var b BitSet
	tot := uint(64*4 + 11) // just an unmagic number
	checkLast := true
	for i := range tot {
		sz := uint(b.Count())
		if sz != i {
			t.Errorf("Count reported as %d, but it should be %d", sz, i)
			checkLast = false
			break
		}
		b.Set(i)
	}
	if checkLast {
		sz := uint(b.Count())
		if sz != tot {
			t.Errorf("After all bits set, size reported as %d, but it should be %d", sz, tot)
		}
	}
}

// test setting every 3rd bit, just in case something odd is happening
func TestCount2(t *testing.T) {
	var b BitSet
	tot := uint(64*4 + 11)
	for i := uint(0); i < tot; i += 3 {
		sz := uint(b.Count())
		if sz != i/3 {
			t.Errorf("Count reported as %d, but it should be %d", sz, i/3)
			break
		}
		b.Set(i)
	}
}

func TestPopcntSlice(t *testing.T) {
	s := []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29}
	res := uint64(popcntSlice(s))
	const l uint64 = 27
	if res != l {
		t.Errorf("Wrong popcount %d != %d", res, l)
	}
}

func TestFirstFreeRun(t *testing.T) {
	var b BitSet
	b.SetRange(0, 4) // 0..3 used
	b.SetRange(6, 2) // 6..7 used
	// free: 4,5, 8..

	off, ok := b.FirstFreeRun(0, 20, 1)
	if !ok || off != 4 {
		t.Fatalf("FirstFreeRun(1) = %d,%v, want 4,true", off, ok)
	}

	off, ok = b.FirstFreeRun(0, 20, 2)
	if !ok || off != 4 {
		t.Fatalf("FirstFreeRun(2) = %d,%v, want 4,true", off, ok)
	}

	off, ok = b.FirstFreeRun(0, 20, 3)
	if !ok || off != 8 {
		t.Fatalf("FirstFreeRun(3) = %d,%v, want 8,true", off, ok)
	}

	if !b.AllClear(10, 5) {
		t.Fatalf("expected [10,15) clear")
	}

	b.SetRange(10, 5)
	if b.AllClear(10, 5) {
		t.Fatalf("expected [10,15) set")
	}

	b.ClearRange(10, 5)
	if !b.AllClear(10, 5) {
		t.Fatalf("expected [10,15) clear after ClearRange")
	}

	_, ok = b.FirstFreeRun(0, 8, 100)
	if ok {
		t.Fatalf("expected no run of 100 bits in an 8-bit universe")
	}
}
