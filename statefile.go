// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/internal/blocklist"
	"github.com/shaledb/shale/internal/epochlist"
	"github.com/shaledb/shale/vfs"
)

// The persistent state snapshot is the only thing consulted at startup: an
// ordered list of live blocks with their write cursors, the epoch-seed table,
// and (optionally) the serialized probe filter. The key-location table itself
// is trusted wholesale; entries written after the snapshot fail to resolve
// lazily at lookup time.
//
// The snapshot is replaced atomically: written to a temp file, synced,
// renamed over the previous one, directory synced. A torn snapshot can never
// become visible; an unreadable one is treated as empty.

const (
	stateFilename     = "STATE"
	stateTempFilename = "STATE.next"

	stateMagic   = "SHALEsts"
	stateVersion = 1
)

type persistentState struct {
	Blocks []blocklist.BlockState
	// Epochs holds the synced epochs, oldest first. LastBlockIndex values are
	// ordinals into Blocks (-1 when the epoch predates every live block).
	Epochs []epochlist.State
	Filter []byte
}

func (st *persistentState) encode() []byte {
	var b bytes.Buffer
	b.WriteString(stateMagic)
	var scratch [8]byte
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		b.Write(scratch[:4])
	}
	put64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		b.Write(scratch[:])
	}
	put32(stateVersion)
	put32(uint32(len(st.Blocks)))
	for _, bl := range st.Blocks {
		put32(uint32(bl.Slot))
		put64(uint64(bl.Cursor))
	}
	put32(uint32(len(st.Epochs)))
	for _, e := range st.Epochs {
		put32(e.ID)
		put64(e.Seed)
		put32(uint32(int32(e.LastBlockIndex)))
	}
	put32(uint32(len(st.Filter)))
	b.Write(st.Filter)
	put64(xxhash.Sum64(b.Bytes()))
	return b.Bytes()
}

func decodeState(buf []byte) (persistentState, error) {
	var st persistentState
	if len(buf) < len(stateMagic)+4+8 {
		return st, base.CorruptionErrorf("state snapshot too short: %d bytes", len(buf))
	}
	body, sum := buf[:len(buf)-8], binary.LittleEndian.Uint64(buf[len(buf)-8:])
	if xxhash.Sum64(body) != sum {
		return st, base.CorruptionErrorf("state snapshot checksum mismatch")
	}
	if string(body[:len(stateMagic)]) != stateMagic {
		return st, base.CorruptionErrorf("state snapshot bad magic")
	}
	r := bytes.NewReader(body[len(stateMagic):])
	get32 := func() (uint32, error) {
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	}
	get64 := func() (uint64, error) {
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	}
	version, err := get32()
	if err != nil {
		return st, err
	}
	if version != stateVersion {
		return st, base.CorruptionErrorf("state snapshot version %d not understood", errors.Safe(version))
	}
	numBlocks, err := get32()
	if err != nil {
		return st, err
	}
	for i := uint32(0); i < numBlocks; i++ {
		slot, err := get32()
		if err != nil {
			return st, err
		}
		cursor, err := get64()
		if err != nil {
			return st, err
		}
		st.Blocks = append(st.Blocks, blocklist.BlockState{Slot: int(slot), Cursor: int64(cursor)})
	}
	numEpochs, err := get32()
	if err != nil {
		return st, err
	}
	for i := uint32(0); i < numEpochs; i++ {
		id, err := get32()
		if err != nil {
			return st, err
		}
		seed, err := get64()
		if err != nil {
			return st, err
		}
		ord, err := get32()
		if err != nil {
			return st, err
		}
		ordinal := int(int32(ord))
		if ordinal < -1 || ordinal >= len(st.Blocks) {
			return st, base.CorruptionErrorf("epoch %d references block ordinal %d of %d blocks",
				errors.Safe(id), errors.Safe(ordinal), errors.Safe(len(st.Blocks)))
		}
		st.Epochs = append(st.Epochs, epochlist.State{ID: id, Seed: seed, LastBlockIndex: ordinal})
	}
	filterLen, err := get32()
	if err != nil {
		return st, err
	}
	if int(filterLen) != r.Len() {
		return st, base.CorruptionErrorf("state snapshot trailing garbage")
	}
	if filterLen > 0 {
		st.Filter = make([]byte, filterLen)
		if _, err := io.ReadFull(r, st.Filter); err != nil {
			return st, err
		}
	}
	return st, nil
}

// writeStateFile atomically replaces the state snapshot in dirname.
func writeStateFile(fs vfs.FS, dirname string, dir vfs.File, st *persistentState) error {
	tmpPath := fs.PathJoin(dirname, stateTempFilename)
	f, err := fs.Create(tmpPath)
	if err != nil {
		return errors.Wrap(err, "shale: creating state snapshot")
	}
	if _, err := f.Write(st.encode()); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "shale: writing state snapshot")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "shale: syncing state snapshot")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "shale: closing state snapshot")
	}
	if err := fs.Rename(tmpPath, fs.PathJoin(dirname, stateFilename)); err != nil {
		return errors.Wrap(err, "shale: installing state snapshot")
	}
	if err := dir.Sync(); err != nil {
		return errors.Wrap(err, "shale: syncing store directory")
	}
	return nil
}

// loadStateFile reads the state snapshot from dirname. A missing, short or
// corrupt snapshot yields an empty state: the store fails closed and starts
// over rather than guess at its previous layout.
func loadStateFile(fs vfs.FS, dirname string, logger base.Logger) persistentState {
	f, err := fs.Open(fs.PathJoin(dirname, stateFilename))
	if err != nil {
		if !oserror.IsNotExist(err) {
			logger.Errorf("shale: opening state snapshot: %v; starting empty", err)
		}
		return persistentState{}
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		logger.Errorf("shale: reading state snapshot: %v; starting empty", err)
		return persistentState{}
	}
	st, err := decodeState(buf)
	if err != nil {
		logger.Errorf("shale: decoding state snapshot: %v; starting empty", err)
		return persistentState{}
	}
	return st
}

// DescribeState loads the state snapshot under dirname and returns a
// human-readable description. Debugging aid for the shale CLI.
func DescribeState(fs vfs.FS, dirname string) (string, error) {
	f, err := fs.Open(fs.PathJoin(dirname, stateFilename))
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	st, err := decodeState(buf)
	if err != nil {
		return "", err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "blocks: %d\n", len(st.Blocks))
	for i, bl := range st.Blocks {
		fmt.Fprintf(&b, "  %3d: slot %d cursor %d\n", i, bl.Slot, bl.Cursor)
	}
	fmt.Fprintf(&b, "epochs: %d\n", len(st.Epochs))
	for _, e := range st.Epochs {
		fmt.Fprintf(&b, "  %d: seed %016x last-block %d\n", e.ID, e.Seed, e.LastBlockIndex)
	}
	fmt.Fprintf(&b, "filter: %d bytes\n", len(st.Filter))
	return b.String(), nil
}
