// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package epochlist tracks the epochs of a shale store and resolves
// BlockReferences to logical block indices.
//
// An epoch closes whenever the newest block changes (so that references,
// which are relative to an epoch's newest block, stay stable) and whenever
// the persistent state syncer completes a durability barrier. Every
// key-location entry written during an epoch is
// checksummed with that epoch's random seed. After a crash only the epochs
// recorded in the last durable state snapshot are reloaded, so entries
// written later no longer resolve: either their epoch ID is unknown, or (if
// the ID was reused by the restarted process) the fresh random seed makes
// their checksum fail. This is what lets startup trust the on-medium
// key-location table wholesale instead of scrubbing it.
//
// An epoch passes through three states: active (current, writes are tagged
// with it), synced (a snapshot including it has been durably written) and
// superseded (a later epoch synced; the epoch is dropped once no live block
// is reachable through it). Only the transitions into the list
// (NoteBlockPushed, Advance) and out of it (NoteBlockRetired) are represented
// explicitly; trust follows from which epochs are present.
package epochlist

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
)

// BlockReference is a stable, relative reference to a block: the epoch in
// which it was created and how many blocks were appended after it as of that
// epoch. Logical block indices shift as old blocks are retired; a
// BlockReference stays meaningful as long as the block is live.
type BlockReference struct {
	EpochID        uint32
	BlocksFromLast uint16
}

// State is the persisted description of one epoch.
type State struct {
	ID   uint32
	Seed uint64
	// LastBlockIndex is the logical index of the newest block as of this
	// epoch.
	LastBlockIndex int
}

// Resolver converts between BlockReferences and logical block indices. Both
// directions also yield the epoch's 64-bit hash seed, used by the
// key-location map to checksum entries.
type Resolver interface {
	// BlockReferenceToBlockIndex resolves ref. ok is false if the epoch is
	// unknown (never synced before a crash, or long pruned) or if the
	// referenced block has been retired. An unresolvable reference is a cache
	// miss, never an error.
	BlockReferenceToBlockIndex(ref BlockReference) (index int, seed uint64, ok bool)

	// BlockIndexToBlockReference expresses a live block index as a reference
	// in the current epoch. It is invalid to call it with an index that is
	// not live.
	BlockIndexToBlockReference(index int) (BlockReference, uint64)
}

// List is the in-memory epoch table. It always contains a contiguous run of
// epoch IDs ending at the current epoch.
type List struct {
	mu struct {
		sync.Mutex
		epochs []State
		first  int // logical index of the oldest live block
	}
}

// New returns a List seeded with the epochs recovered from the last durable
// state snapshot and immediately opens a fresh current epoch with the given
// seed. Recovered LastBlockIndex values must already be rebased to the
// recovered block numbering (0..numBlocks-1). lastBlockIndex is the index of
// the newest recovered block, or -1 for an empty store.
func New(recovered []State, lastBlockIndex int, seed uint64) (*List, error) {
	l := &List{}
	prev := uint32(0)
	for i, e := range recovered {
		if i > 0 && e.ID != prev+1 {
			return nil, errors.Newf("epoch IDs not contiguous: %d after %d", e.ID, prev)
		}
		prev = e.ID
		l.mu.epochs = append(l.mu.epochs, e)
	}
	l.mu.epochs = append(l.mu.epochs, State{ID: prev + 1, Seed: seed, LastBlockIndex: lastBlockIndex})
	return l, nil
}

// NewSeed returns a fresh random epoch seed.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, errors.Wrap(err, "shale: generating epoch seed")
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// CurrentID returns the ID of the active epoch.
func (l *List) CurrentID() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.epochs[len(l.mu.epochs)-1].ID
}

// NoteBlockPushed records that a block with the given logical index became the
// newest block. The current epoch closes and a new one opens with the given
// seed: an epoch's LastBlockIndex never changes once set, which is what keeps
// already-stored BlockReferences resolving to the block they were created
// for.
func (l *List) NoteBlockPushed(lastBlockIndex int, seed uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.mu.epochs[len(l.mu.epochs)-1]
	l.mu.epochs = append(l.mu.epochs, State{ID: cur.ID + 1, Seed: seed, LastBlockIndex: lastBlockIndex})
}

// NoteBlockRetired records that the oldest live block is now firstBlockIndex,
// and drops epochs through which no live block is reachable anymore.
func (l *List) NoteBlockRetired(firstBlockIndex int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mu.first = firstBlockIndex
	for len(l.mu.epochs) > 1 && l.mu.epochs[0].LastBlockIndex < firstBlockIndex {
		l.mu.epochs = l.mu.epochs[1:]
	}
}

// Advance closes the current epoch and opens a new one with the given seed,
// returning the new epoch's ID. Only the persistent state syncer calls this,
// after completing a durability barrier.
func (l *List) Advance(seed uint64) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.mu.epochs[len(l.mu.epochs)-1]
	next := State{ID: cur.ID + 1, Seed: seed, LastBlockIndex: cur.LastBlockIndex}
	l.mu.epochs = append(l.mu.epochs, next)
	return next.ID
}

// Snapshot returns a copy of the epoch table, oldest first. Taken together
// with a block list snapshot under the store's write barrier, it forms the
// epoch portion of a persistent state snapshot; writing that snapshot is what
// turns the then-current epoch synced.
func (l *List) Snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.mu.epochs...)
}

// BlockReferenceToBlockIndex implements Resolver.
func (l *List) BlockReferenceToBlockIndex(ref BlockReference) (int, uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	firstID := l.mu.epochs[0].ID
	if ref.EpochID < firstID {
		return 0, 0, false
	}
	i := int(ref.EpochID - firstID)
	if i >= len(l.mu.epochs) {
		return 0, 0, false
	}
	e := l.mu.epochs[i]
	index := e.LastBlockIndex - int(ref.BlocksFromLast)
	if index < l.mu.first {
		return 0, 0, false
	}
	return index, e.Seed, true
}

// BlockIndexToBlockReference implements Resolver.
func (l *List) BlockIndexToBlockReference(index int) (BlockReference, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.mu.epochs[len(l.mu.epochs)-1]
	delta := cur.LastBlockIndex - index
	if index < l.mu.first || delta < 0 || delta > math.MaxUint16 {
		panic(errors.AssertionFailedf("block index %d not referenceable in epoch %d (last %d, first %d)",
			index, cur.ID, cur.LastBlockIndex, l.mu.first))
	}
	return BlockReference{EpochID: cur.ID, BlocksFromLast: uint16(delta)}, cur.Seed
}
