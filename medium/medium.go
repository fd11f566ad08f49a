// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package medium provides the fixed-size storage medium underneath a shale
// store: a byte-addressable region supporting random-offset reads, random
// writes and an explicit durability barrier.
//
// I/O errors are returned to the caller wrapped with positional context and
// are never retried here; a failing medium is fatal to the engine instance
// that owns it.
package medium

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/vfs"
)

// Medium is a fixed-capacity byte-addressable storage region.
type Medium interface {
	io.ReaderAt
	io.WriterAt

	// Sync is the durability barrier: it returns once all previously written
	// bytes are durable.
	Sync() error

	// Size returns the fixed capacity of the medium in bytes.
	Size() int64

	Close() error
}

// NewFile returns a Medium over the first size bytes of f. The file may be
// shorter than size (it grows as bytes are written); reads past its current
// end yield zeroes, matching what a preallocated region would hold.
func NewFile(f vfs.File, size int64) Medium {
	return &fileMedium{f: f, size: size}
}

type fileMedium struct {
	f    vfs.File
	size int64
}

func (m *fileMedium) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, errors.Newf("shale/medium: read [%d,%d) out of bounds [0,%d)", off, off+int64(len(p)), m.size)
	}
	n, err := m.f.ReadAt(p, off)
	if err == io.EOF {
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		return len(p), nil
	}
	if err != nil {
		return n, errors.Wrapf(err, "shale/medium: read %d bytes at offset %d", len(p), off)
	}
	return n, nil
}

func (m *fileMedium) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, errors.Newf("shale/medium: write [%d,%d) out of bounds [0,%d)", off, off+int64(len(p)), m.size)
	}
	n, err := m.f.WriteAt(p, off)
	if err != nil {
		return n, errors.Wrapf(err, "shale/medium: write %d bytes at offset %d", len(p), off)
	}
	return n, nil
}

func (m *fileMedium) Sync() error {
	if err := m.f.Sync(); err != nil {
		return errors.Wrap(err, "shale/medium: sync")
	}
	return nil
}

func (m *fileMedium) Size() int64 { return m.size }

func (m *fileMedium) Close() error {
	return m.f.Close()
}
