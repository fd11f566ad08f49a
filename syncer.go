// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/crlib/crtime"
	"github.com/shaledb/shale/internal/epochlist"
)

// syncer drives the persistent state cycle: a timer plus two wake-up
// channels, one signaled after writes (new layout to persist) and one under
// reclamation pressure (retired slots waiting on a durable snapshot).
type syncer struct {
	store    *Store
	interval time.Duration

	putCh     chan struct{}
	releaseCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// syncMu serializes cycles (the background loop, explicit Sync calls and
	// the final cycle in Close).
	syncMu sync.Mutex
	// dirty is set whenever the block layout or its contents changed since
	// the last written snapshot. A clean cycle is skipped entirely: writing
	// a snapshot always rolls the epoch, and epochs should only burn when
	// there is something new to make durable.
	dirty atomic.Bool

	cycles   atomic.Uint64
	failures atomic.Uint64

	mu struct {
		sync.Mutex
		lastCycleEnd crtime.Mono
		lastCycleDur time.Duration
	}
}

// SyncerMetrics describes the persistent state syncer's progress.
type SyncerMetrics struct {
	Cycles   uint64
	Failures uint64
	// LastCycleDuration is the wall time of the last completed cycle.
	LastCycleDuration time.Duration
	// Lag is the time since the last completed cycle. Together with
	// PendingRelease block counts it indicates how far the syncer has fallen
	// behind reclamation pressure.
	Lag time.Duration
}

func newSyncer(s *Store, interval time.Duration) *syncer {
	return &syncer{
		store:     s,
		interval:  interval,
		putCh:     make(chan struct{}, 1),
		releaseCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (sy *syncer) start() {
	if sy.interval <= 0 {
		return
	}
	sy.wg.Add(1)
	go sy.loop()
}

func (sy *syncer) loop() {
	defer sy.wg.Done()
	timer := time.NewTimer(sy.interval)
	defer timer.Stop()
	for {
		select {
		case <-sy.stopCh:
			return
		case <-sy.putCh:
		case <-sy.releaseCh:
		case <-timer.C:
		}
		if err := sy.store.syncCycle(); err != nil {
			sy.store.opts.Logger.Errorf("shale: sync cycle: %v", err)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sy.interval)
	}
}

// notePut signals that new writes occurred.
func (sy *syncer) notePut() {
	sy.dirty.Store(true)
	select {
	case sy.putCh <- struct{}{}:
	default:
	}
}

// noteReleasePressure signals that retired blocks are waiting for a durable
// snapshot before their slots can be recycled.
func (sy *syncer) noteReleasePressure() {
	sy.dirty.Store(true)
	select {
	case sy.releaseCh <- struct{}{}:
	default:
	}
}

func (sy *syncer) stop() {
	sy.stopOnce.Do(func() { close(sy.stopCh) })
	sy.wg.Wait()
}

func (sy *syncer) readStats() SyncerMetrics {
	sy.mu.Lock()
	defer sy.mu.Unlock()
	m := SyncerMetrics{
		Cycles:            sy.cycles.Load(),
		Failures:          sy.failures.Load(),
		LastCycleDuration: sy.mu.lastCycleDur,
	}
	if sy.mu.lastCycleEnd != 0 {
		m.Lag = sy.mu.lastCycleEnd.Elapsed()
	}
	return m
}

// syncCycle implements Sync. The metadata capture happens under the write
// barrier; the durability barrier and the snapshot write happen with no lock
// held; a short relock (inside NotifyStateWritten) finishes the cycle.
func (s *Store) syncCycle() error {
	sy := s.syncer
	sy.syncMu.Lock()
	defer sy.syncMu.Unlock()
	if !sy.dirty.Swap(false) {
		return nil
	}
	start := crtime.NowMono()

	seed, err := epochlist.NewSeed()
	if err != nil {
		sy.dirty.Store(true)
		return err
	}

	s.barrier.Lock()
	blockStates, firstIndex, generation := s.blocks.Snapshot()
	epochStates := s.epochs.Snapshot()
	filter, ferr := s.table.FilterBytes()
	// Roll the epoch inside the barrier: every entry tagged with the closing
	// epoch is fully contained in the snapshot below, and entries written
	// from here on carry an epoch this snapshot does not vouch for.
	s.epochs.Advance(seed)
	s.barrier.Unlock()
	if ferr != nil {
		sy.dirty.Store(true)
		return ferr
	}

	st := &persistentState{Blocks: blockStates, Filter: filter}
	for _, e := range epochStates {
		e.LastBlockIndex -= firstIndex
		if e.LastBlockIndex < -1 {
			e.LastBlockIndex = -1
		}
		st.Epochs = append(st.Epochs, e)
	}

	// Sync the data and table mediums before the snapshot that vouches for
	// the closing epoch. Table records written later (including displacement
	// rewrites) may be lost or torn in a crash; their seeded checksums make
	// them read as empty slots.
	if err := s.dataMedium.Sync(); err != nil {
		sy.failures.Add(1)
		sy.dirty.Store(true)
		return err
	}
	if err := s.tableMedium.Sync(); err != nil {
		sy.failures.Add(1)
		sy.dirty.Store(true)
		return err
	}
	if err := writeStateFile(s.fs, s.dirname, s.dir, st); err != nil {
		sy.failures.Add(1)
		sy.dirty.Store(true)
		return err
	}
	s.blocks.NotifyStateWritten(generation)

	sy.cycles.Add(1)
	sy.mu.Lock()
	sy.mu.lastCycleDur = start.Elapsed()
	sy.mu.lastCycleEnd = crtime.NowMono()
	sy.mu.Unlock()
	return nil
}
