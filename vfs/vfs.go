// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package vfs provides the file system abstraction used by shale. The
// engine's storage medium, key-location table and persistent state snapshots
// are all accessed through an FS so that tests can substitute a memory-backed
// implementation with simulated crash semantics.
package vfs

import (
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// File is a randomly readable, randomly writable sequence of bytes.
//
// Typically it will be an *os.File, but test code may choose to substitute
// memory-backed implementations.
type File interface {
	io.Closer
	io.Reader
	io.ReaderAt
	io.Writer
	io.WriterAt
	Stat() (os.FileInfo, error)
	Sync() error
}

// FS is a namespace for files.
type FS interface {
	// Create creates the named file for reading and writing, truncating it if
	// it already exists.
	Create(name string) (File, error)

	// Open opens the named file for reading.
	Open(name string) (File, error)

	// OpenReadWrite opens the named file for reading and writing, creating it
	// if it does not exist. The file is not truncated.
	OpenReadWrite(name string) (File, error)

	// OpenDir opens the named directory for syncing.
	OpenDir(name string) (File, error)

	// Remove removes the named file or directory.
	Remove(name string) error

	// Rename renames a file. It overwrites the file at newname if one exists,
	// the same as os.Rename.
	Rename(oldname, newname string) error

	// MkdirAll creates a directory and all necessary parents. The permission
	// bits perm have the same semantics as in os.MkdirAll.
	MkdirAll(dir string, perm os.FileMode) error

	// List returns a listing of the given directory. The names returned are
	// relative to dir.
	List(dir string) ([]string, error)

	// Stat returns an os.FileInfo describing the named file.
	Stat(name string) (os.FileInfo, error)

	// PathJoin joins any number of path elements into a single path, adding a
	// separator if necessary.
	PathJoin(elem ...string) string
}

// Default is an FS implementation backed by the underlying operating system's
// file system.
var Default FS = defaultFS{}

type defaultFS struct{}

func (defaultFS) Create(name string) (File, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC|syscall.O_CLOEXEC, 0666)
}

func (defaultFS) Open(name string) (File, error) {
	return os.OpenFile(name, os.O_RDONLY|syscall.O_CLOEXEC, 0)
}

func (defaultFS) OpenReadWrite(name string) (File, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|syscall.O_CLOEXEC, 0666)
}

func (defaultFS) OpenDir(name string) (File, error) {
	f, err := os.OpenFile(name, syscall.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &osDir{f}, nil
}

func (defaultFS) Remove(name string) error {
	return os.Remove(name)
}

func (defaultFS) Rename(oldname, newname string) error {
	return os.Rename(oldname, newname)
}

func (defaultFS) MkdirAll(dir string, perm os.FileMode) error {
	return os.MkdirAll(dir, perm)
}

func (defaultFS) List(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return f.Readdirnames(-1)
}

func (defaultFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (defaultFS) PathJoin(elem ...string) string {
	return filepath.Join(elem...)
}

// osDir wraps a directory *os.File so that WriteAt on a directory handle is
// rejected uniformly instead of depending on OS behavior.
type osDir struct {
	*os.File
}

func (d *osDir) WriteAt(p []byte, off int64) (int, error) {
	return 0, syscall.EBADF
}
