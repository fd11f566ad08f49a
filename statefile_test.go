// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"testing"

	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/internal/blocklist"
	"github.com/shaledb/shale/internal/epochlist"
	"github.com/shaledb/shale/vfs"
	"github.com/stretchr/testify/require"
)

func testState() *persistentState {
	return &persistentState{
		Blocks: []blocklist.BlockState{
			{Slot: 2, Cursor: 4096},
			{Slot: 0, Cursor: 128},
		},
		Epochs: []epochlist.State{
			{ID: 7, Seed: 0xdeadbeef, LastBlockIndex: -1},
			{ID: 8, Seed: 42, LastBlockIndex: 1},
		},
		Filter: []byte{1, 2, 3, 4},
	}
}

func TestStateEncodeDecode(t *testing.T) {
	st := testState()
	decoded, err := decodeState(st.encode())
	require.NoError(t, err)
	require.Equal(t, *st, decoded)

	empty := &persistentState{}
	decoded, err = decodeState(empty.encode())
	require.NoError(t, err)
	require.Empty(t, decoded.Blocks)
	require.Empty(t, decoded.Epochs)
	require.Empty(t, decoded.Filter)
}

func TestStateDecodeCorrupt(t *testing.T) {
	buf := testState().encode()
	for _, i := range []int{0, 8, len(buf) / 2, len(buf) - 1} {
		bad := append([]byte(nil), buf...)
		bad[i] ^= 0xff
		_, err := decodeState(bad)
		require.Error(t, err)
		require.True(t, base.IsCorruptionError(err))
	}

	_, err := decodeState(buf[:4])
	require.True(t, base.IsCorruptionError(err))

	// An epoch referencing a block beyond the recovered layout is rejected.
	st := testState()
	st.Epochs[1].LastBlockIndex = 2
	_, err = decodeState(st.encode())
	require.True(t, base.IsCorruptionError(err))
}

func TestStateFileRoundTrip(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/store", 0755))
	dir, err := fs.OpenDir("/store")
	require.NoError(t, err)
	defer dir.Close()

	// Missing snapshot reads as empty.
	st := loadStateFile(fs, "/store", base.DefaultLogger{})
	require.Empty(t, st.Blocks)

	require.NoError(t, writeStateFile(fs, "/store", dir, testState()))
	st = loadStateFile(fs, "/store", base.DefaultLogger{})
	require.Equal(t, *testState(), st)

	// A corrupt snapshot also reads as empty: the store starts over rather
	// than guess at its previous layout.
	f, err := fs.OpenReadWrite(fs.PathJoin("/store", stateFilename))
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, 12)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	st = loadStateFile(fs, "/store", base.DefaultLogger{})
	require.Empty(t, st.Blocks)
	require.Empty(t, st.Epochs)
}

func TestDescribeState(t *testing.T) {
	fs := vfs.NewMem()
	require.NoError(t, fs.MkdirAll("/store", 0755))
	dir, err := fs.OpenDir("/store")
	require.NoError(t, err)
	defer dir.Close()
	require.NoError(t, writeStateFile(fs, "/store", dir, testState()))

	desc, err := DescribeState(fs, "/store")
	require.NoError(t, err)
	require.Contains(t, desc, "blocks: 2")
	require.Contains(t, desc, "epochs: 2")
	require.Contains(t, desc, "slot 2 cursor 4096")
	require.Contains(t, desc, "filter: 4 bytes")
}
