// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

//go:build !linux

package medium

import (
	"os"

	"github.com/cockroachdb/errors"
)

// NewMemoryMapped falls back to an ordinary file-backed Medium on platforms
// where the mmap fast path is not implemented.
func NewMemoryMapped(path string, size int64) (Medium, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "shale/medium: open")
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "shale/medium: truncate")
	}
	return NewFile(f, size), nil
}
