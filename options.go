// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"time"

	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/medium"
	"github.com/shaledb/shale/vfs"
)

// Options holds the parameters for a Store. Provisioning decisions (how big
// the medium is, how it is carved up) belong to whoever opens the store;
// shale never resizes a medium.
type Options struct {
	// BlockSize is the capacity of each block in bytes.
	//
	// The default is 16 MiB.
	BlockSize int64

	// BlockCount is the number of block slots carved out of the data medium.
	// One slot beyond SpareBlocks holds the current block, so the number of
	// retired-but-readable blocks is roughly BlockCount-SpareBlocks-1.
	//
	// The default is 8.
	BlockCount int

	// SpareBlocks is the number of slots the store tries to keep out of live
	// use so that a block rotation does not have to wait for a sync cycle.
	// Must be smaller than BlockCount-1.
	//
	// The default is 1.
	SpareBlocks int

	// KeySize is the fixed length of keys in bytes. Keys are opaque; a
	// content-addressed deployment will typically use the digest size of its
	// hash function.
	//
	// The default is 32.
	KeySize int

	// TableSlots is the number of slots in the key-location table. The table
	// is lossy: when more keys than slots are live, older entries are
	// displaced. A reasonable value is a small multiple of the expected
	// number of blobs.
	//
	// The default is 65536.
	TableSlots int

	// MaxProbeAttempts is the number of hash probe attempts per key in the
	// key-location table.
	//
	// The default is 16.
	MaxProbeAttempts int

	// ProbeFilter enables a bloom filter in front of the key-location table
	// that lets lookups skip the table for keys that were never inserted.
	// The filter is persisted with each state snapshot.
	ProbeFilter bool

	// SyncInterval is the period of the background persistent state syncer.
	// A negative value disables the background loop; Sync must then be called
	// manually (retired blocks are not recycled until it is).
	//
	// The default is 1 minute.
	SyncInterval time.Duration

	// PromotionFraction is the fraction of the oldest live blocks reads from
	// which trigger a copy of the blob into the current block. Bounding the
	// fraction bounds the storage duplicated by promotion.
	//
	// The default is 0.25.
	PromotionFraction float64

	// PromotionRate limits promotion copies to this many bytes per second,
	// smearing the write burst that occurs when the contents of a whole aging
	// block become due for promotion at once. A negative value disables
	// promotion entirely, making retention purely FIFO.
	//
	// The default is 1 MiB/s.
	PromotionRate float64

	// DataMedium, if set, is the already-opened medium storing block data.
	// When nil, Open creates a file named DATA in the store directory.
	DataMedium medium.Medium

	// TableMedium, if set, is the already-opened medium storing the
	// key-location table. When nil, Open creates a file named INDEX in the
	// store directory.
	TableMedium medium.Medium

	// FS is the file system for the store directory (state snapshots and, in
	// the absence of explicit mediums, the DATA and INDEX files).
	//
	// The default is vfs.Default.
	FS vfs.FS

	// Logger is used for diagnostic messages.
	//
	// The default is base.DefaultLogger.
	Logger base.Logger
}

// Clone returns a shallow copy of opts, or a fresh Options if opts is nil.
func (o *Options) Clone() *Options {
	opts := &Options{}
	if o != nil {
		*opts = *o
	}
	return opts
}

// EnsureDefaults fills in unset options with their default values.
func (o *Options) EnsureDefaults() *Options {
	if o.BlockSize <= 0 {
		o.BlockSize = 16 << 20
	}
	if o.BlockCount <= 0 {
		o.BlockCount = 8
	}
	if o.SpareBlocks <= 0 {
		o.SpareBlocks = 1
	}
	if o.KeySize <= 0 {
		o.KeySize = 32
	}
	if o.TableSlots <= 0 {
		o.TableSlots = 65536
	}
	if o.MaxProbeAttempts <= 0 {
		o.MaxProbeAttempts = 16
	}
	if o.MaxProbeAttempts > 255 {
		o.MaxProbeAttempts = 255
	}
	if o.SyncInterval == 0 {
		o.SyncInterval = time.Minute
	}
	if o.PromotionFraction <= 0 || o.PromotionFraction > 1 {
		o.PromotionFraction = 0.25
	}
	if o.PromotionRate == 0 {
		o.PromotionRate = 1 << 20
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	return o
}
