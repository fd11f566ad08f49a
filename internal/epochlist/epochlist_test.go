// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package epochlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListFresh(t *testing.T) {
	l, err := New(nil, -1, 7)
	require.NoError(t, err)
	require.Equal(t, uint32(1), l.CurrentID())

	l.NoteBlockPushed(0, 8)
	require.Equal(t, uint32(2), l.CurrentID())

	ref, seed := l.BlockIndexToBlockReference(0)
	require.Equal(t, BlockReference{EpochID: 2, BlocksFromLast: 0}, ref)
	require.Equal(t, uint64(8), seed)

	index, seed, ok := l.BlockReferenceToBlockIndex(ref)
	require.True(t, ok)
	require.Equal(t, 0, index)
	require.Equal(t, uint64(8), seed)
}

func TestListRelativeAddressing(t *testing.T) {
	l, err := New(nil, -1, 1)
	require.NoError(t, err)
	for i := 0; i <= 9; i++ {
		l.NoteBlockPushed(i, uint64(i+2))
	}
	// Pushing block i opened epoch i+2; epoch 5's newest block is index 3.
	index, seed, ok := l.BlockReferenceToBlockIndex(BlockReference{EpochID: 5, BlocksFromLast: 2})
	require.True(t, ok)
	require.Equal(t, 1, index)
	require.Equal(t, uint64(5), seed)

	// A reference stays pinned to its block as later blocks are pushed.
	ref, _ := l.BlockIndexToBlockReference(9)
	l.NoteBlockPushed(10, 99)
	index, _, ok = l.BlockReferenceToBlockIndex(ref)
	require.True(t, ok)
	require.Equal(t, 9, index)
}

func TestListSyncAdvance(t *testing.T) {
	l, err := New(nil, -1, 1)
	require.NoError(t, err)
	l.NoteBlockPushed(0, 2) // epoch 2
	ref, _ := l.BlockIndexToBlockReference(0)

	// A sync advance keeps the newest block; old references still resolve.
	id := l.Advance(3)
	require.Equal(t, uint32(3), id)
	index, seed, ok := l.BlockReferenceToBlockIndex(ref)
	require.True(t, ok)
	require.Equal(t, 0, index)
	require.Equal(t, uint64(2), seed)

	ref2, seed := l.BlockIndexToBlockReference(0)
	require.Equal(t, uint32(3), ref2.EpochID)
	require.Equal(t, uint64(3), seed)
}

func TestListUnknownEpoch(t *testing.T) {
	l, err := New(nil, -1, 1)
	require.NoError(t, err)
	l.NoteBlockPushed(0, 2)

	_, _, ok := l.BlockReferenceToBlockIndex(BlockReference{EpochID: 99})
	require.False(t, ok)
	_, _, ok = l.BlockReferenceToBlockIndex(BlockReference{EpochID: 0})
	require.False(t, ok)
}

func TestListRetirePrunes(t *testing.T) {
	l, err := New(nil, -1, 1)
	require.NoError(t, err)
	l.NoteBlockPushed(0, 2) // epoch 2, newest block 0
	l.NoteBlockPushed(1, 3) // epoch 3, newest block 1
	l.NoteBlockPushed(2, 4) // epoch 4, newest block 2

	// Retiring block 0 drops epochs through which no live block is reachable
	// and makes references below the new first block unresolvable.
	l.NoteBlockRetired(1)
	_, _, ok := l.BlockReferenceToBlockIndex(BlockReference{EpochID: 2, BlocksFromLast: 0})
	require.False(t, ok)
	_, _, ok = l.BlockReferenceToBlockIndex(BlockReference{EpochID: 3, BlocksFromLast: 1})
	require.False(t, ok)
	index, _, ok := l.BlockReferenceToBlockIndex(BlockReference{EpochID: 3, BlocksFromLast: 0})
	require.True(t, ok)
	require.Equal(t, 1, index)
}

func TestListRecovery(t *testing.T) {
	recovered := []State{
		{ID: 4, Seed: 40, LastBlockIndex: 0},
		{ID: 5, Seed: 50, LastBlockIndex: 2},
	}
	l, err := New(recovered, 2, 99)
	require.NoError(t, err)

	// The freshly opened epoch follows the newest recovered one and carries
	// the new seed; recovered epochs keep theirs.
	require.Equal(t, uint32(6), l.CurrentID())
	_, seed, ok := l.BlockReferenceToBlockIndex(BlockReference{EpochID: 4, BlocksFromLast: 0})
	require.True(t, ok)
	require.Equal(t, uint64(40), seed)
	ref, seed := l.BlockIndexToBlockReference(2)
	require.Equal(t, uint32(6), ref.EpochID)
	require.Equal(t, uint64(99), seed)

	_, err = New([]State{{ID: 4}, {ID: 6}}, 0, 1)
	require.Error(t, err)
}

func TestListReferenceOutOfRange(t *testing.T) {
	l, err := New(nil, -1, 1)
	require.NoError(t, err)
	l.NoteBlockPushed(0, 2)
	l.NoteBlockPushed(1, 3)
	l.NoteBlockRetired(1)

	require.Panics(t, func() { l.BlockIndexToBlockReference(0) })
	require.Panics(t, func() { l.BlockIndexToBlockReference(2) })
}

func TestNewSeed(t *testing.T) {
	a, err := NewSeed()
	require.NoError(t, err)
	b, err := NewSeed()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
