// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"github.com/cockroachdb/redact"
	"github.com/shaledb/shale/internal/locmap"
)

// BlockMetrics describes the block ring.
type BlockMetrics struct {
	// Live is the number of blocks currently holding readable data,
	// including the current block.
	Live int
	// Free is the number of block slots available for PushBack.
	Free int
	// PendingRelease is the number of retired slots waiting on a durable
	// state snapshot before they can be recycled. A persistently nonzero
	// value under write load means the syncer is falling behind.
	PendingRelease int

	Pushes      uint64
	Retirements uint64
	Recycles    uint64
}

// Metrics holds the store's counters and gauges. They are cumulative over the
// life of the Store value, not of the on-disk store.
type Metrics struct {
	Blocks     BlockMetrics
	Table      locmap.Stats
	Promotions PromotionMetrics
	Syncer     SyncerMetrics

	Reads      uint64
	ReadMisses uint64
	Writes     uint64
	// WriteNoops counts Puts that found the key already stored with a valid
	// location.
	WriteNoops uint64
	// ResourceExhausted counts operations refused because no block slot could
	// be rotated in before a durable snapshot.
	ResourceExhausted uint64
}

func (m Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

var _ redact.SafeFormatter = Metrics{}

// SafeFormat implements redact.SafeFormatter.
func (m Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("blocks: %d live, %d free, %d pending release (%d pushed, %d retired, %d recycled)\n",
		redact.Safe(m.Blocks.Live), redact.Safe(m.Blocks.Free), redact.Safe(m.Blocks.PendingRelease),
		redact.Safe(m.Blocks.Pushes), redact.Safe(m.Blocks.Retirements), redact.Safe(m.Blocks.Recycles))
	w.Printf("table: %d displacements, %d drops, %d corruptions\n",
		redact.Safe(m.Table.Displacements), redact.Safe(m.Table.Drops), redact.Safe(m.Table.Corruptions))
	w.Printf("promotions: %d enqueued, %d completed, %d dropped\n",
		redact.Safe(m.Promotions.Enqueued), redact.Safe(m.Promotions.Completed), redact.Safe(m.Promotions.Dropped))
	w.Printf("syncer: %d cycles, %d failures, last %s, lag %s\n",
		redact.Safe(m.Syncer.Cycles), redact.Safe(m.Syncer.Failures),
		redact.Safe(m.Syncer.LastCycleDuration), redact.Safe(m.Syncer.Lag))
	w.Printf("ops: %d reads (%d misses), %d writes (%d no-ops), %d exhausted",
		redact.Safe(m.Reads), redact.Safe(m.ReadMisses),
		redact.Safe(m.Writes), redact.Safe(m.WriteNoops), redact.Safe(m.ResourceExhausted))
}
