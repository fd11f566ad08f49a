// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blocklist

import (
	"testing"

	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/medium"
	"github.com/shaledb/shale/vfs"
	"github.com/stretchr/testify/require"
)

func newTestMedium(t *testing.T, size int64) medium.Medium {
	t.Helper()
	f, err := vfs.NewMem().Create("data")
	require.NoError(t, err)
	return medium.NewFile(f, size)
}

func mustPut(t *testing.T, l *BlockList, p []byte) (index int, offset int64) {
	t.Helper()
	w, err := l.Put(int64(len(p)))
	require.NoError(t, err)
	_, err = w.Write(p)
	require.NoError(t, err)
	index, offset, err = w.Finish()
	require.NoError(t, err)
	return index, offset
}

func TestBlockListBasic(t *testing.T) {
	l, err := New(newTestMedium(t, 4*64), 64, 4, nil)
	require.NoError(t, err)
	require.Equal(t, 0, l.NumLive())
	require.Equal(t, -1, l.LastIndex())

	// No current block yet.
	_, err = l.Put(8)
	require.ErrorIs(t, err, ErrNoSpace)

	index, err := l.PushBack()
	require.NoError(t, err)
	require.Equal(t, 0, index)

	idx, off := mustPut(t, l, []byte("hello"))
	require.Equal(t, 0, idx)
	require.Equal(t, int64(0), off)
	idx, off = mustPut(t, l, []byte("world"))
	require.Equal(t, 0, idx)
	require.Equal(t, int64(5), off)

	got, err := l.Get(0, 0, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
	got, err = l.Get(0, 5, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)
}

func TestBlockListIndicesMonotonic(t *testing.T) {
	l, err := New(newTestMedium(t, 4*64), 64, 4, nil)
	require.NoError(t, err)
	for want := 0; want < 3; want++ {
		index, err := l.PushBack()
		require.NoError(t, err)
		require.Equal(t, want, index)
	}
	require.NoError(t, l.PopFront())
	require.Equal(t, 1, l.FirstIndex())

	// Retiring a block never renumbers the others.
	index, err := l.PushBack()
	require.NoError(t, err)
	require.Equal(t, 3, index)
}

func TestBlockListRecycleWaitsForSnapshot(t *testing.T) {
	l, err := New(newTestMedium(t, 4*64), 64, 4, nil)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := l.PushBack()
		require.NoError(t, err)
	}
	require.NoError(t, l.PopFront())
	require.Equal(t, 1, l.PendingRelease())

	// The retired slot is still referenced by the last durable snapshot.
	_, err = l.PushBack()
	require.ErrorIs(t, err, base.ErrResourceExhausted)

	_, _, generation := l.Snapshot()
	l.NotifyStateWritten(generation)
	require.Equal(t, 0, l.PendingRelease())

	index, err := l.PushBack()
	require.NoError(t, err)
	require.Equal(t, 4, index)
}

func TestBlockListStaleSnapshotDoesNotRecycle(t *testing.T) {
	l, err := New(newTestMedium(t, 4*64), 64, 4, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.PushBack()
		require.NoError(t, err)
	}
	_, _, generation := l.Snapshot()
	require.NoError(t, l.PopFront())

	// The snapshot predates the retirement; writing it must not free the slot.
	l.NotifyStateWritten(generation)
	require.Equal(t, 1, l.PendingRelease())
}

func TestBlockListPinnedBlockNotRetired(t *testing.T) {
	l, err := New(newTestMedium(t, 4*64), 64, 4, nil)
	require.NoError(t, err)
	_, err = l.PushBack()
	require.NoError(t, err)

	w, err := l.Put(8)
	require.NoError(t, err)

	_, err = l.PushBack()
	require.NoError(t, err)

	// The reservation pins block 0.
	err = l.PopFront()
	require.ErrorIs(t, err, base.ErrResourceExhausted)

	_, err = w.Write(make([]byte, 8))
	require.NoError(t, err)
	_, _, err = w.Finish()
	require.NoError(t, err)
	require.NoError(t, l.PopFront())
}

func TestBlockListGetRetired(t *testing.T) {
	l, err := New(newTestMedium(t, 4*64), 64, 4, nil)
	require.NoError(t, err)
	_, err = l.PushBack()
	require.NoError(t, err)
	mustPut(t, l, []byte("doomed"))
	_, err = l.PushBack()
	require.NoError(t, err)
	require.NoError(t, l.PopFront())

	_, err = l.Get(0, 0, 6)
	require.ErrorIs(t, err, base.ErrNotFound)
}

func TestBlockListSpanningRead(t *testing.T) {
	l, err := New(newTestMedium(t, 4*16), 16, 4, nil)
	require.NoError(t, err)
	_, err = l.PushBack()
	require.NoError(t, err)
	mustPut(t, l, []byte("0123456789abcdef")) // fills block 0
	_, err = l.PushBack()
	require.NoError(t, err)
	mustPut(t, l, []byte("ghijklmn")) // block 1, cursor 8

	got, err := l.Get(0, 12, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("cdefghij"), got)

	// A spanning read beyond the successor's cursor fails.
	_, err = l.Get(0, 12, 16)
	require.Error(t, err)
}

func TestBlockListWriterUnderfill(t *testing.T) {
	l, err := New(newTestMedium(t, 4*64), 64, 4, nil)
	require.NoError(t, err)
	_, err = l.PushBack()
	require.NoError(t, err)

	w, err := l.Put(8)
	require.NoError(t, err)
	_, err = w.Write([]byte("1234"))
	require.NoError(t, err)
	_, _, err = w.Finish()
	require.Error(t, err)

	// The cursor is not rolled back; the next put lands after the dead space.
	_, off := mustPut(t, l, []byte("x"))
	require.Equal(t, int64(8), off)
}

func TestBlockListRecovery(t *testing.T) {
	m := newTestMedium(t, 4*64)
	l, err := New(m, 64, 4, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.PushBack()
		require.NoError(t, err)
	}
	mustPut(t, l, []byte("persisted"))
	states, first, _ := l.Snapshot()
	require.Equal(t, 0, first)
	require.Len(t, states, 3)

	// Reload from the snapshot; the recovered blocks renumber from zero and
	// their cursors carry over.
	l2, err := New(m, 64, 4, states)
	require.NoError(t, err)
	require.Equal(t, 3, l2.NumLive())
	require.Equal(t, 1, l2.NumFree())
	got, err := l2.Get(2, 0, 9)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), got)

	// A snapshot naming the same slot twice is rejected.
	_, err = New(m, 64, 4, []BlockState{{Slot: 1}, {Slot: 1}})
	require.Error(t, err)
}

func TestAllocator(t *testing.T) {
	a := NewAllocator(2)
	s0, err := a.Allocate()
	require.NoError(t, err)
	s1, err := a.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, s0, s1)
	_, err = a.Allocate()
	require.ErrorIs(t, err, base.ErrResourceExhausted)

	a.Release(s0)
	require.Equal(t, 1, a.NumFree())
	s2, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, s0, s2)
}

func TestAllocatorClaim(t *testing.T) {
	a := NewAllocator(3)
	require.NoError(t, a.Claim(1))
	require.Error(t, a.Claim(1))
	require.Error(t, a.Claim(3))
	require.Equal(t, 2, a.NumFree())

	s, err := a.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, 1, s)
}
