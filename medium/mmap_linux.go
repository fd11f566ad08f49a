// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build linux

package medium

import (
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// NewMemoryMapped opens (creating and sizing if necessary) the file at path
// and returns a Medium whose reads are served from a shared read-only memory
// mapping. Reads of already paged-in data complete without a syscall. Writes
// go through pwrite on the same descriptor; MAP_SHARED keeps the mapping
// coherent with them.
func NewMemoryMapped(path string, size int64) (Medium, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "shale/medium: open")
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "shale/medium: truncate")
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "shale/medium: mmap")
	}
	return &mmapMedium{f: f, data: data, size: size}, nil
}

type mmapMedium struct {
	f    *os.File
	data []byte
	size int64
}

func (m *mmapMedium) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, errors.Newf("shale/medium: read [%d,%d) out of bounds [0,%d)", off, off+int64(len(p)), m.size)
	}
	return copy(p, m.data[off:]), nil
}

func (m *mmapMedium) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, errors.Newf("shale/medium: write [%d,%d) out of bounds [0,%d)", off, off+int64(len(p)), m.size)
	}
	n, err := m.f.WriteAt(p, off)
	if err != nil {
		return n, errors.Wrapf(err, "shale/medium: write %d bytes at offset %d", len(p), off)
	}
	return n, nil
}

func (m *mmapMedium) Sync() error {
	if err := m.f.Sync(); err != nil {
		return errors.Wrap(err, "shale/medium: sync")
	}
	return nil
}

func (m *mmapMedium) Size() int64 { return m.size }

func (m *mmapMedium) Close() error {
	err := errors.Wrap(unix.Munmap(m.data), "shale/medium: munmap")
	if cerr := m.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	m.data = nil
	return err
}
