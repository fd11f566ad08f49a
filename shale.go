// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/internal/blocklist"
	"github.com/shaledb/shale/internal/epochlist"
	"github.com/shaledb/shale/internal/locmap"
	"github.com/shaledb/shale/medium"
	"github.com/shaledb/shale/vfs"
)

// Store is a bounded-capacity, crash-consistent store of content-addressed
// blobs. Blobs are appended to a small ring of fixed-size blocks; an
// open-addressed key-location table maps keys to epoch-tagged block
// references; a background syncer periodically makes the layout durable.
//
// Store is safe for concurrent use.
type Store struct {
	opts    *Options
	fs      vfs.FS
	dirname string
	dir     vfs.File

	dataMedium  medium.Medium
	tableMedium medium.Medium
	ownsData    bool
	ownsTable   bool

	blocks *blocklist.BlockList
	epochs *epochlist.List
	table  *locmap.Map

	// barrier orders writes against state snapshots. A write holds the read
	// side from space reservation through table insert, so a capture (which
	// takes the write side) sees either none or all of it: an entry tagged
	// with epoch E is always fully contained in the snapshot that makes E
	// durable.
	barrier sync.RWMutex

	// rotateMu serializes block rotation decisions.
	rotateMu sync.Mutex

	syncer   *syncer
	promoter *promoter

	closed atomic.Bool

	reads      atomic.Uint64
	readMisses atomic.Uint64
	writes     atomic.Uint64
	writeNoops atomic.Uint64
	exhausted  atomic.Uint64
}

// Get returns the blob stored for key. It returns ErrNotFound if the key is
// absent or its location no longer resolves; the two cases are deliberately
// indistinguishable. A hit on a block in the oldest configured fraction of
// the ring schedules a paced copy of the blob into the current block.
func (s *Store) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.reads.Add(1)
	value, ok, err := s.get(key, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.readMisses.Add(1)
		return nil, ErrNotFound
	}
	return value, nil
}

// Put stores value under key. If the key already has a valid location the
// call is a no-op. Put fails with ErrResourceExhausted when no block can be
// rotated in safely; the caller should retry once the syncer catches up.
func (s *Store) Put(key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if int64(len(value)) > s.opts.BlockSize {
		return errors.Newf("shale: blob of %d bytes exceeds block size %d", len(value), s.opts.BlockSize)
	}
	if _, ok, err := s.lookup(key); err != nil {
		return err
	} else if ok {
		s.writeNoops.Add(1)
		return nil
	}
	if err := s.appendBlob(key, value, true); err != nil {
		return err
	}
	s.writes.Add(1)
	s.syncer.notePut()
	return nil
}

// FindMissing returns the subset of keys that have no valid stored location.
// Keys that are present are touched exactly as if they had been read: aging
// entries are scheduled for promotion. This is the keep-alive path for
// callers that do not need the payload bytes.
func (s *Store) FindMissing(keys [][]byte) ([][]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var missing [][]byte
	for _, key := range keys {
		s.reads.Add(1)
		_, ok, err := s.get(key, false)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.readMisses.Add(1)
			missing = append(missing, key)
		}
	}
	return missing, nil
}

// Sync runs one persistent state cycle: it captures the block layout and
// epoch table, advances the epoch, issues the durability barrier on the data
// medium, atomically replaces the state snapshot and releases any block slots
// the previous snapshot was the last to reference. The background syncer
// calls this on a timer and on write/reclamation pressure; it is exported for
// callers that need a durability point (and for stores running without a
// background syncer).
func (s *Store) Sync() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.syncCycle()
}

// Metrics returns a snapshot of the store's counters and gauges.
func (s *Store) Metrics() Metrics {
	var m Metrics
	m.Blocks.Live = s.blocks.NumLive()
	m.Blocks.Free = s.blocks.NumFree()
	m.Blocks.PendingRelease = s.blocks.PendingRelease()
	m.Blocks.Pushes, m.Blocks.Retirements, m.Blocks.Recycles = s.blocks.Stats()
	m.Table = s.table.ReadStats()
	m.Promotions = s.promoter.readStats()
	m.Syncer = s.syncer.readStats()
	m.Reads = s.reads.Load()
	m.ReadMisses = s.readMisses.Load()
	m.Writes = s.writes.Load()
	m.WriteNoops = s.writeNoops.Load()
	m.ResourceExhausted = s.exhausted.Load()
	return m
}

// Close stops the background goroutines, runs a final state cycle and closes
// the store's files. Blobs written before Close and covered by the final
// cycle survive a subsequent Open.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	s.promoter.stop()
	s.syncer.stop()
	err := s.syncCycle()
	if s.ownsTable {
		if cerr := s.tableMedium.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if s.ownsData {
		if cerr := s.dataMedium.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if s.dir != nil {
		if cerr := s.dir.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// lookup resolves key to a live block index without reading the payload.
func (s *Store) lookup(key []byte) (locmap.Location, bool, error) {
	loc, ok, err := s.table.Lookup(key)
	if err != nil || !ok {
		return locmap.Location{}, false, err
	}
	if _, _, ok := s.epochs.BlockReferenceToBlockIndex(loc.Ref); !ok {
		return locmap.Location{}, false, nil
	}
	return loc, true, nil
}

// get performs the shared hit path of Get and FindMissing. When wantValue is
// false only presence is established. Either way a hit on an aging block
// enqueues a promotion.
func (s *Store) get(key []byte, wantValue bool) ([]byte, bool, error) {
	loc, ok, err := s.table.Lookup(key)
	if err != nil || !ok {
		return nil, false, err
	}
	index, _, ok := s.epochs.BlockReferenceToBlockIndex(loc.Ref)
	if !ok {
		return nil, false, nil
	}
	var value []byte
	if wantValue {
		value, err = s.blocks.Get(index, loc.Offset, loc.Length)
		if err != nil {
			if errors.Is(err, base.ErrNotFound) {
				// The block was retired between resolution and the pinned
				// read. Indistinguishable from the entry never existing.
				return nil, false, nil
			}
			return nil, false, err
		}
	}
	s.maybePromote(key, index)
	return value, true, nil
}

// appendBlob reserves space in the current block, writes value and inserts
// the key's new location tagged with the current epoch. With rotate set it
// retires/pushes blocks as needed; without it (the promotion path) a full
// current block aborts the append instead of forcing rotation.
func (s *Store) appendBlob(key, value []byte, rotate bool) error {
	for {
		s.barrier.RLock()
		w, err := s.blocks.Put(int64(len(value)))
		if err == nil {
			err = s.finishAppend(w, key, value)
			s.barrier.RUnlock()
			return err
		}
		s.barrier.RUnlock()
		if !errors.Is(err, blocklist.ErrNoSpace) {
			return err
		}
		if !rotate {
			return errors.Wrap(base.ErrResourceExhausted, "current block full")
		}
		// A concurrent writer may fill the freshly pushed block before this
		// goroutine reserves its space; retrying rotation is safe because
		// every iteration either pushes a block or fails the allocation,
		// which surfaces as ErrResourceExhausted below.
		if err := s.rotate(int64(len(value))); err != nil {
			return err
		}
	}
}

func (s *Store) finishAppend(w *blocklist.Writer, key, value []byte) error {
	if _, err := w.Write(value); err != nil {
		w.Abandon()
		return err
	}
	index, offset, err := w.Finish()
	if err != nil {
		return err
	}
	ref, _ := s.epochs.BlockIndexToBlockReference(index)
	return s.table.Insert(key, locmap.Location{Ref: ref, Offset: offset, Length: int64(len(value))})
}

// rotate makes room for a write of n bytes by retiring the oldest block if
// the ring is at its live target and pushing a fresh current block. The whole
// rotation happens under the write barrier so that neither a writer nor a
// state capture can observe the block list and the epoch table mid-change. A
// failed allocation means the syncer has not yet confirmed recycling of a
// retired slot; the error surfaces as ErrResourceExhausted and the syncer is
// woken.
func (s *Store) rotate(n int64) error {
	seed, err := epochlist.NewSeed()
	if err != nil {
		return err
	}
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()
	s.barrier.Lock()
	defer s.barrier.Unlock()
	if s.blocks.HasSpace(n) {
		// Lost the race with a concurrent rotation.
		return nil
	}
	target := s.opts.BlockCount - s.opts.SpareBlocks
	for s.blocks.NumLive() >= target && s.blocks.NumLive() > 1 {
		if err := s.blocks.PopFront(); err != nil {
			s.noteExhausted(err)
			return err
		}
		s.epochs.NoteBlockRetired(s.blocks.FirstIndex())
		s.syncer.noteReleasePressure()
	}
	index, err := s.blocks.PushBack()
	if err != nil {
		s.noteExhausted(err)
		s.syncer.noteReleasePressure()
		return err
	}
	s.epochs.NoteBlockPushed(index, seed)
	return nil
}

func (s *Store) noteExhausted(err error) {
	if errors.Is(err, base.ErrResourceExhausted) {
		s.exhausted.Add(1)
	}
}

// maybePromote enqueues a promotion when index falls within the oldest
// PromotionFraction of live blocks. Promotion is best effort; the enqueue
// never blocks the read that triggered it.
func (s *Store) maybePromote(key []byte, index int) {
	if s.opts.PromotionRate < 0 {
		return
	}
	live := s.blocks.NumLive()
	if live < 2 {
		return
	}
	window := int(float64(live) * s.opts.PromotionFraction)
	if window < 1 {
		window = 1
	}
	if index-s.blocks.FirstIndex() < window {
		s.promoter.enqueue(key)
	}
}
