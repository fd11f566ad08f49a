// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build linux

package medium

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryMappedMedium(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DATA")
	m, err := NewMemoryMapped(path, 4096)
	require.NoError(t, err)
	require.Equal(t, int64(4096), m.Size())

	// Writes go through pwrite; MAP_SHARED must make them visible to reads
	// served from the mapping without any intervening sync.
	_, err = m.WriteAt([]byte("hello"), 100)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = m.ReadAt(buf, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), buf)

	// Untouched regions of the freshly sized file read as zeroes.
	buf = make([]byte, 8)
	_, err = m.ReadAt(buf, 2000)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 8), buf)

	// The declared capacity bounds all access.
	_, err = m.WriteAt([]byte("x"), 4096)
	require.Error(t, err)
	_, err = m.ReadAt(buf, 4090)
	require.Error(t, err)
	_, err = m.ReadAt(buf, -1)
	require.Error(t, err)

	require.NoError(t, m.Sync())
	require.NoError(t, m.Close())

	// Remapping the same file serves the previously written bytes.
	m, err = NewMemoryMapped(path, 4096)
	require.NoError(t, err)
	buf = make([]byte, 5)
	_, err = m.ReadAt(buf, 100)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), buf)
	require.NoError(t, m.Close())
}
