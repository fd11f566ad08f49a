// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package vfs

import (
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
)

// NewMem returns a new memory-backed FS implementation.
//
// The returned FS tracks, per file, which prefix of the contents has been
// Sync()ed. CrashClone can be used to obtain a copy of the FS as it would
// plausibly look after a crash: file contents beyond the last sync are
// dropped.
func NewMem() *MemFS {
	return &MemFS{
		files: make(map[string]*memFileData),
		dirs:  map[string]string{"/": "/"},
	}
}

// MemFS implements FS in memory. Safe for concurrent use.
type MemFS struct {
	mu    sync.Mutex
	files map[string]*memFileData
	// dirs maps cleaned directory paths to themselves; values are unused.
	dirs map[string]string
}

type memFileData struct {
	data   []byte
	synced []byte
	mod    time.Time
}

var _ FS = (*MemFS)(nil)

func normalize(name string) string {
	name = path.Clean("/" + strings.ReplaceAll(name, string(os.PathSeparator), "/"))
	return name
}

// CrashClone returns a copy of the FS holding, for every file, only the
// contents that had been synced at the time of the call. It simulates
// reopening the file system after a process crash or power failure.
func (fs *MemFS) CrashClone() *MemFS {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	clone := NewMem()
	for name, f := range fs.files {
		clone.files[name] = &memFileData{
			data:   append([]byte(nil), f.synced...),
			synced: append([]byte(nil), f.synced...),
			mod:    f.mod,
		}
	}
	for d := range fs.dirs {
		clone.dirs[d] = d
	}
	return clone
}

func (fs *MemFS) Create(name string) (File, error) {
	name = normalize(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f := &memFileData{mod: time.Now()}
	fs.files[name] = f
	return &memFile{fs: fs, name: name, d: f, writable: true}, nil
}

func (fs *MemFS) Open(name string) (File, error) {
	name = normalize(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[name]
	if !ok {
		return nil, oserror.ErrNotExist
	}
	return &memFile{fs: fs, name: name, d: f}, nil
}

func (fs *MemFS) OpenReadWrite(name string) (File, error) {
	name = normalize(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[name]
	if !ok {
		f = &memFileData{mod: time.Now()}
		fs.files[name] = f
	}
	return &memFile{fs: fs, name: name, d: f, writable: true}, nil
}

func (fs *MemFS) OpenDir(name string) (File, error) {
	name = normalize(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.dirs[name]; !ok {
		return nil, oserror.ErrNotExist
	}
	return &memFile{fs: fs, name: name, isDir: true}, nil
}

func (fs *MemFS) Remove(name string) error {
	name = normalize(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return oserror.ErrNotExist
	}
	delete(fs.files, name)
	return nil
}

func (fs *MemFS) Rename(oldname, newname string) error {
	oldname, newname = normalize(oldname), normalize(newname)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[oldname]
	if !ok {
		return oserror.ErrNotExist
	}
	delete(fs.files, oldname)
	fs.files[newname] = f
	return nil
}

func (fs *MemFS) MkdirAll(dir string, perm os.FileMode) error {
	dir = normalize(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for d := dir; ; d = path.Dir(d) {
		fs.dirs[d] = d
		if d == "/" {
			break
		}
	}
	return nil
}

func (fs *MemFS) List(dir string) ([]string, error) {
	dir = normalize(dir)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var names []string
	for name := range fs.files {
		if strings.HasPrefix(name, prefix) && !strings.Contains(name[len(prefix):], "/") {
			names = append(names, name[len(prefix):])
		}
	}
	return names, nil
}

func (fs *MemFS) Stat(name string) (os.FileInfo, error) {
	name = normalize(name)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.files[name]; ok {
		return &memFileInfo{name: path.Base(name), size: int64(len(f.data)), mod: f.mod}, nil
	}
	if _, ok := fs.dirs[name]; ok {
		return &memFileInfo{name: path.Base(name), isDir: true}, nil
	}
	return nil, oserror.ErrNotExist
}

func (fs *MemFS) PathJoin(elem ...string) string {
	return path.Join(elem...)
}

// memFile is a handle on a memFileData. Handles share the underlying data;
// each handle carries its own sequential read/write position.
type memFile struct {
	fs       *MemFS
	name     string
	d        *memFileData
	pos      int
	writable bool
	isDir    bool
}

var _ File = (*memFile)(nil)

func (f *memFile) Close() error { return nil }

func (f *memFile) Read(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.isDir {
		return 0, errors.New("shale/vfs: read of directory")
	}
	if f.pos >= len(f.d.data) {
		return 0, io.EOF
	}
	n := copy(p, f.d.data[f.pos:])
	f.pos += n
	return n, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.isDir {
		return 0, errors.New("shale/vfs: read of directory")
	}
	if off >= int64(len(f.d.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, int64(f.pos))
	f.pos += n
	return n, err
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if !f.writable {
		return 0, errors.New("shale/vfs: file not opened for writing")
	}
	if grow := int(off) + len(p) - len(f.d.data); grow > 0 {
		f.d.data = append(f.d.data, make([]byte, grow)...)
	}
	copy(f.d.data[off:], p)
	f.d.mod = time.Now()
	return len(p), nil
}

func (f *memFile) Stat() (os.FileInfo, error) {
	return f.fs.Stat(f.name)
}

func (f *memFile) Sync() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	if f.isDir {
		return nil
	}
	f.d.synced = append(f.d.synced[:0], f.d.data...)
	return nil
}

type memFileInfo struct {
	name  string
	size  int64
	mod   time.Time
	isDir bool
}

func (i *memFileInfo) Name() string       { return i.name }
func (i *memFileInfo) Size() int64        { return i.size }
func (i *memFileInfo) Mode() os.FileMode  { return 0644 }
func (i *memFileInfo) ModTime() time.Time { return i.mod }
func (i *memFileInfo) IsDir() bool        { return i.isDir }
func (i *memFileInfo) Sys() interface{}   { return nil }
