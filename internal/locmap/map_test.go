// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package locmap

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/shaledb/shale/internal/epochlist"
	"github.com/stretchr/testify/require"
)

const testKeySize = 8

func testKey(i int) []byte {
	return []byte(fmt.Sprintf("%0*d", testKeySize, i))
}

func newTestMap(t *testing.T, numSlots int, maxAttempts uint8, filter *bloom.BloomFilter) (*Map, *epochlist.List) {
	t.Helper()
	l, err := epochlist.New(nil, -1, 1)
	require.NoError(t, err)
	m, err := New(Config{
		Array:       NewMemoryArray(numSlots, RecordSize(testKeySize)),
		Resolver:    l,
		KeySize:     testKeySize,
		MaxAttempts: maxAttempts,
		Filter:      filter,
	})
	require.NoError(t, err)
	return m, l
}

func TestMapInsertLookupRemove(t *testing.T) {
	m, l := newTestMap(t, 64, 4, nil)
	l.NoteBlockPushed(0, 2)

	ref, _ := l.BlockIndexToBlockReference(0)
	want := Location{Ref: ref, Offset: 16, Length: 32}
	require.NoError(t, m.Insert(testKey(1), want))

	loc, ok, err := m.Lookup(testKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want, loc)

	_, ok, err = m.Lookup(testKey(2))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Remove(testKey(1)))
	_, ok, err = m.Lookup(testKey(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMapEntriesExpireWithBlocks(t *testing.T) {
	m, l := newTestMap(t, 64, 4, nil)
	l.NoteBlockPushed(0, 2)
	ref, _ := l.BlockIndexToBlockReference(0)
	require.NoError(t, m.Insert(testKey(1), Location{Ref: ref, Length: 8}))

	l.NoteBlockPushed(1, 3)
	l.NoteBlockRetired(1)

	_, ok, err := m.Lookup(testKey(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMapOverwrite(t *testing.T) {
	m, l := newTestMap(t, 64, 4, nil)
	l.NoteBlockPushed(0, 2)
	ref0, _ := l.BlockIndexToBlockReference(0)
	require.NoError(t, m.Insert(testKey(1), Location{Ref: ref0, Offset: 0, Length: 8}))

	l.NoteBlockPushed(1, 3)
	ref1, _ := l.BlockIndexToBlockReference(1)
	require.NoError(t, m.Insert(testKey(1), Location{Ref: ref1, Offset: 4, Length: 8}))

	loc, ok, err := m.Lookup(testKey(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Location{Ref: ref1, Offset: 4, Length: 8}, loc)
}

// More keys than slots: older entries must be displaced and eventually fall
// off the table, newer ones must survive, and no lookup may ever fail with an
// error or return a wrong location.
func TestMapSelfCleaning(t *testing.T) {
	const numSlots = 8
	const numKeys = 32
	m, l := newTestMap(t, numSlots, 3, nil)

	locs := make([]Location, numKeys)
	for i := 0; i < numKeys; i++ {
		l.NoteBlockPushed(i, uint64(i+2))
		ref, _ := l.BlockIndexToBlockReference(i)
		locs[i] = Location{Ref: ref, Offset: int64(i), Length: 1}
		require.NoError(t, m.Insert(testKey(i), locs[i]))
	}

	found := 0
	for i := 0; i < numKeys; i++ {
		loc, ok, err := m.Lookup(testKey(i))
		require.NoError(t, err)
		if ok {
			require.Equal(t, locs[i], loc)
			found++
		}
	}
	require.Greater(t, found, 0)
	require.LessOrEqual(t, found, numSlots)

	// The newest insertion always wins its first probe slot.
	_, ok, err := m.Lookup(testKey(numKeys - 1))
	require.NoError(t, err)
	require.True(t, ok)

	stats := m.ReadStats()
	require.NotZero(t, stats.Displacements)
	require.NotZero(t, stats.Drops)
}

// Reopening with a fresh seed for a reused epoch ID must invalidate records
// written under the old seed, as happens to unsynced entries after a crash.
func TestMapSeedInvalidation(t *testing.T) {
	array := NewMemoryArray(64, RecordSize(testKeySize))
	l1, err := epochlist.New(nil, -1, 111)
	require.NoError(t, err)
	m1, err := New(Config{Array: array, Resolver: l1, KeySize: testKeySize, MaxAttempts: 4})
	require.NoError(t, err)
	l1.NoteBlockPushed(0, 112)
	ref, _ := l1.BlockIndexToBlockReference(0)
	require.NoError(t, m1.Insert(testKey(1), Location{Ref: ref, Length: 8}))

	// Same epoch IDs, same block layout, different seeds.
	l2, err := epochlist.New(nil, -1, 211)
	require.NoError(t, err)
	l2.NoteBlockPushed(0, 212)
	m2, err := New(Config{Array: array, Resolver: l2, KeySize: testKeySize, MaxAttempts: 4})
	require.NoError(t, err)

	_, ok, err := m2.Lookup(testKey(1))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(1), m2.ReadStats().Corruptions)

	// The invalidated record was zeroed; a second lookup does not recount it.
	_, _, err = m2.Lookup(testKey(1))
	require.NoError(t, err)
	require.Equal(t, uint64(1), m2.ReadStats().Corruptions)
}

func TestMapFilter(t *testing.T) {
	filter := bloom.NewWithEstimates(1024, 0.01)
	m, l := newTestMap(t, 64, 4, filter)
	l.NoteBlockPushed(0, 2)
	ref, _ := l.BlockIndexToBlockReference(0)

	_, ok, err := m.Lookup(testKey(1))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Insert(testKey(1), Location{Ref: ref, Length: 8}))
	_, ok, err = m.Lookup(testKey(1))
	require.NoError(t, err)
	require.True(t, ok)

	buf, err := m.FilterBytes()
	require.NoError(t, err)
	require.NotEmpty(t, buf)

	// A reloaded filter still admits the inserted key.
	reloaded := &bloom.BloomFilter{}
	_, err = reloaded.ReadFrom(bytes.NewReader(buf))
	require.NoError(t, err)
	require.True(t, reloaded.Test(testKey(1)))
}

func TestMapKeySizeMismatch(t *testing.T) {
	m, _ := newTestMap(t, 64, 4, nil)
	_, _, err := m.Lookup([]byte("short"))
	require.Error(t, err)
	require.Error(t, m.Insert([]byte("short"), Location{}))
	require.Error(t, m.Remove([]byte("short")))
}
