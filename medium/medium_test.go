// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package medium

import (
	"testing"

	"github.com/shaledb/shale/vfs"
	"github.com/stretchr/testify/require"
)

func TestFileMedium(t *testing.T) {
	f, err := vfs.NewMem().Create("m")
	require.NoError(t, err)
	m := NewFile(f, 64)
	require.Equal(t, int64(64), m.Size())

	_, err = m.WriteAt([]byte("hello"), 10)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = m.ReadAt(buf, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), buf)

	// Reads past the file's current end come back zeroed, as from a
	// preallocated region.
	buf = make([]byte, 8)
	_, err = m.ReadAt(buf, 40)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8), buf)

	// The declared capacity bounds all access.
	_, err = m.WriteAt([]byte("x"), 64)
	require.Error(t, err)
	_, err = m.ReadAt(buf, 60)
	require.Error(t, err)
	_, err = m.ReadAt(buf, -1)
	require.Error(t, err)

	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())
}
