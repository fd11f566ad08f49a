// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blocklist

import (
	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/base"
)

// Allocator carves a medium of a given size into equal-size block slots and
// hands out and reclaims whole slots. Slot numbers are positions on the
// medium and are recycled; they are unrelated to the monotonically increasing
// logical block indices handed out by BlockList.
//
// Allocator is not safe for concurrent use; it is guarded by the mutex of the
// owning BlockList.
type Allocator struct {
	numSlots int
	free     []int
	live     []bool
}

// NewAllocator returns an Allocator managing numSlots slots, all free.
func NewAllocator(numSlots int) *Allocator {
	a := &Allocator{
		numSlots: numSlots,
		live:     make([]bool, numSlots),
	}
	// Hand out low slot numbers first so that fresh stores lay out blocks
	// sequentially on the medium.
	for slot := numSlots - 1; slot >= 0; slot-- {
		a.free = append(a.free, slot)
	}
	return a
}

// Allocate hands out a free slot. It fails with ErrResourceExhausted when
// every slot is in use; the caller must retire a block (and wait for the
// state syncer to confirm) before retrying.
func (a *Allocator) Allocate() (int, error) {
	if len(a.free) == 0 {
		return 0, errors.Wrap(base.ErrResourceExhausted, "no free blocks")
	}
	slot := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	a.live[slot] = true
	return slot, nil
}

// Release marks a slot reusable.
func (a *Allocator) Release(slot int) {
	if !a.live[slot] {
		panic(errors.AssertionFailedf("release of free slot %d", slot))
	}
	a.live[slot] = false
	a.free = append(a.free, slot)
}

// Claim marks a specific slot as live. Used when reloading a persisted block
// layout at startup.
func (a *Allocator) Claim(slot int) error {
	if slot < 0 || slot >= a.numSlots {
		return errors.Newf("slot %d out of range [0,%d)", slot, a.numSlots)
	}
	if a.live[slot] {
		return errors.Newf("slot %d claimed twice", slot)
	}
	a.live[slot] = true
	for i, s := range a.free {
		if s == slot {
			a.free = append(a.free[:i], a.free[i+1:]...)
			break
		}
	}
	return nil
}

// NumFree returns the number of slots available for allocation.
func (a *Allocator) NumFree() int { return len(a.free) }

// NumSlots returns the total number of slots on the medium.
func (a *Allocator) NumSlots() int { return a.numSlots }
