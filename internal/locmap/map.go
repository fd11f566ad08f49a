// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package locmap implements the persistent key-location map of a shale
// store: a fixed-capacity open-addressed hash table from content keys to
// block references.
//
// The table is self-cleaning. On a probe collision the structurally newer
// entry (the one whose reference resolves to a higher block index) claims the
// slot and the older entry moves on to its next probe attempt, falling off
// the table after a bounded number of attempts. Entries whose blocks age out
// are thus displaced by ordinary insert traffic; no sweep ever runs.
//
// Nothing is scrubbed at startup either. Every record carries a checksum
// seeded by the epoch it was written in, and validation resolves the epoch
// through the resolver: a record from an epoch that never became durable, or
// whose block has been retired, simply fails to validate and reads as an
// empty slot.
package locmap

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/epochlist"
)

const numStripes = 64

// maxInsertSteps bounds the displacement chain walked by a single Insert.
const maxInsertSteps = 64

// Map is the key-location table. Safe for concurrent use; probes of
// unrelated slots do not contend.
type Map struct {
	array       RecordArray
	resolver    epochlist.Resolver
	keySize     int
	maxAttempts uint8
	stripes     [numStripes]sync.Mutex

	// filter, when non-nil, is an insert-only probe filter: a key the filter
	// has never seen cannot have a valid record, so lookups can skip the
	// table. Evictions are not removed from the filter; stale bits only cost
	// a table probe. Guarded by filterMu (the bloom filter is not itself
	// thread-safe).
	filterMu sync.Mutex
	filter   *bloom.BloomFilter

	displacements atomic.Uint64
	drops         atomic.Uint64
	corruptions   atomic.Uint64
}

// Config configures a Map.
type Config struct {
	Array    RecordArray
	Resolver epochlist.Resolver
	KeySize  int
	// MaxAttempts is the number of probe attempts per key. An entry displaced
	// past its last attempt is dropped.
	MaxAttempts uint8
	// Filter, optional, is the probe filter. When reopening a persistent
	// store the caller must pass the filter loaded from the last durable
	// state snapshot, or nil to disable filtering.
	Filter *bloom.BloomFilter
}

// New returns a Map over cfg.Array.
func New(cfg Config) (*Map, error) {
	if cfg.Array.Len() == 0 {
		return nil, errors.New("shale: key-location table needs at least one slot")
	}
	if cfg.MaxAttempts == 0 {
		return nil, errors.New("shale: MaxAttempts must be positive")
	}
	return &Map{
		array:       cfg.Array,
		resolver:    cfg.Resolver,
		keySize:     cfg.KeySize,
		maxAttempts: cfg.MaxAttempts,
		filter:      cfg.Filter,
	}, nil
}

// Stats holds cumulative table counters.
type Stats struct {
	// Displacements counts collisions resolved by moving the older entry.
	Displacements uint64
	// Drops counts entries that fell off the table (displaced past their
	// last probe attempt, or unresolvable by the time they were rewritten).
	Drops uint64
	// Corruptions counts records whose epoch was durably synced but whose
	// checksum did not match; such records are zeroed on detection.
	Corruptions uint64
}

// ReadStats returns a snapshot of the table counters.
func (m *Map) ReadStats() Stats {
	return Stats{
		Displacements: m.displacements.Load(),
		Drops:         m.drops.Load(),
		Corruptions:   m.corruptions.Load(),
	}
}

// Lookup returns the location stored for key, if any valid one exists.
func (m *Map) Lookup(key []byte) (Location, bool, error) {
	if len(key) != m.keySize {
		return Location{}, false, errors.AssertionFailedf("key of %d bytes in a table of %d-byte keys", len(key), m.keySize)
	}
	if !m.filterTest(key) {
		return Location{}, false, nil
	}
	buf := make([]byte, RecordSize(m.keySize))
	for attempt := uint8(0); attempt < m.maxAttempts; attempt++ {
		slot := slotFor(key, attempt, m.array.Len())
		stripe := &m.stripes[slot%numStripes]
		stripe.Lock()
		rec, _, valid, err := m.loadLocked(slot, buf)
		stripe.Unlock()
		if err != nil {
			return Location{}, false, err
		}
		if valid && rec.Attempt == attempt && bytes.Equal(rec.Key, key) {
			return rec.Loc, true, nil
		}
	}
	return Location{}, false, nil
}

// Insert stores a location for key. On collision the structurally older
// entry is displaced, never the newer one; a displaced entry re-probes at
// its next attempt and is dropped past the last one. Insert therefore never
// fails for lack of space.
func (m *Map) Insert(key []byte, loc Location) error {
	if len(key) != m.keySize {
		return errors.AssertionFailedf("key of %d bytes in a table of %d-byte keys", len(key), m.keySize)
	}
	m.filterAdd(key)
	rec := Record{Key: append([]byte(nil), key...), Loc: loc}
	buf := make([]byte, RecordSize(m.keySize))
	old := make([]byte, RecordSize(m.keySize))
	for step := 0; step < maxInsertSteps; step++ {
		if rec.Attempt >= m.maxAttempts {
			break
		}
		// A displaced record may have stopped resolving while it waited its
		// turn; drop it rather than rewrite a dead entry.
		newIndex, seed, ok := m.resolver.BlockReferenceToBlockIndex(rec.Loc.Ref)
		if !ok {
			break
		}
		slot := slotFor(rec.Key, rec.Attempt, m.array.Len())
		stripe := &m.stripes[slot%numStripes]
		stripe.Lock()
		oldRec, oldIndex, oldValid, err := m.loadLocked(slot, old)
		if err != nil {
			stripe.Unlock()
			return err
		}
		if !oldValid || bytes.Equal(oldRec.Key, rec.Key) {
			encodeRecord(buf, &rec, seed)
			err := m.array.Put(slot, buf)
			stripe.Unlock()
			return err
		}
		if newIndex >= oldIndex {
			encodeRecord(buf, &rec, seed)
			if err := m.array.Put(slot, buf); err != nil {
				stripe.Unlock()
				return err
			}
			stripe.Unlock()
			m.displacements.Add(1)
			rec = Record{
				Key:     append([]byte(nil), oldRec.Key...),
				Attempt: oldRec.Attempt + 1,
				Loc:     oldRec.Loc,
			}
		} else {
			stripe.Unlock()
			rec.Attempt++
		}
	}
	m.drops.Add(1)
	return nil
}

// Remove deletes the entry for key if present. Used to self-heal entries
// whose data turned out to be corrupt.
func (m *Map) Remove(key []byte) error {
	if len(key) != m.keySize {
		return errors.AssertionFailedf("key of %d bytes in a table of %d-byte keys", len(key), m.keySize)
	}
	buf := make([]byte, RecordSize(m.keySize))
	zero := make([]byte, RecordSize(m.keySize))
	for attempt := uint8(0); attempt < m.maxAttempts; attempt++ {
		slot := slotFor(key, attempt, m.array.Len())
		stripe := &m.stripes[slot%numStripes]
		stripe.Lock()
		rec, _, valid, err := m.loadLocked(slot, buf)
		if err == nil && valid && rec.Attempt == attempt && bytes.Equal(rec.Key, key) {
			err = m.array.Put(slot, zero)
		}
		stripe.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// loadLocked reads and validates the record at slot. The caller holds the
// slot's stripe. A record that names a synced epoch but fails its checksum is
// corrupt: it is counted and zeroed so it can never be served.
func (m *Map) loadLocked(slot int, buf []byte) (Record, int, bool, error) {
	if err := m.array.Get(slot, buf); err != nil {
		return Record{}, 0, false, err
	}
	rec := decodeRecord(buf, m.keySize)
	index, seed, ok := m.resolver.BlockReferenceToBlockIndex(rec.Loc.Ref)
	if !ok {
		return Record{}, 0, false, nil
	}
	if !checksumMatches(buf, seed) {
		m.corruptions.Add(1)
		zero := make([]byte, len(buf))
		if err := m.array.Put(slot, zero); err != nil {
			return Record{}, 0, false, err
		}
		return Record{}, 0, false, nil
	}
	return rec, index, true, nil
}

func (m *Map) filterTest(key []byte) bool {
	if m.filter == nil {
		return true
	}
	m.filterMu.Lock()
	defer m.filterMu.Unlock()
	return m.filter.Test(key)
}

func (m *Map) filterAdd(key []byte) {
	if m.filter == nil {
		return
	}
	m.filterMu.Lock()
	defer m.filterMu.Unlock()
	m.filter.Add(key)
}

// FilterBytes serializes the probe filter for inclusion in a persistent
// state snapshot. Returns nil when filtering is disabled.
func (m *Map) FilterBytes() ([]byte, error) {
	if m.filter == nil {
		return nil, nil
	}
	m.filterMu.Lock()
	defer m.filterMu.Unlock()
	var b bytes.Buffer
	if _, err := m.filter.WriteTo(&b); err != nil {
		return nil, errors.Wrap(err, "shale: serializing probe filter")
	}
	return b.Bytes(), nil
}
