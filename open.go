// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"bytes"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/blocklist"
	"github.com/shaledb/shale/internal/epochlist"
	"github.com/shaledb/shale/internal/locmap"
	"github.com/shaledb/shale/medium"
)

const (
	dataFilename  = "DATA"
	tableFilename = "INDEX"
)

// Open opens the store in dirname, creating it if necessary.
//
// Recovery consults only the state snapshot: the block layout and epoch
// seeds are reloaded from it, and everything else on the medium is trusted
// lazily. Entries in the key-location table written after the snapshot
// (epochs that never became durable) stop resolving; their blobs are gone,
// exactly as if they had never been stored. There is no scrub, so startup
// cost is independent of store size.
func Open(dirname string, opts *Options) (*Store, error) {
	opts = opts.Clone().EnsureDefaults()
	if opts.BlockCount < opts.SpareBlocks+2 {
		return nil, errors.Newf("shale: BlockCount %d must exceed SpareBlocks %d by at least 2",
			opts.BlockCount, opts.SpareBlocks)
	}
	fs := opts.FS
	if err := fs.MkdirAll(dirname, 0755); err != nil {
		return nil, errors.Wrap(err, "shale: creating store directory")
	}
	dir, err := fs.OpenDir(dirname)
	if err != nil {
		return nil, errors.Wrap(err, "shale: opening store directory")
	}

	s := &Store{
		opts:    opts,
		fs:      fs,
		dirname: dirname,
		dir:     dir,
	}
	if err := s.openMediums(); err != nil {
		_ = dir.Close()
		return nil, err
	}

	st := loadStateFile(fs, dirname, opts.Logger)

	s.blocks, err = blocklist.New(s.dataMedium, opts.BlockSize, opts.BlockCount, st.Blocks)
	if err != nil {
		s.closeFiles()
		return nil, err
	}

	seed, err := epochlist.NewSeed()
	if err != nil {
		s.closeFiles()
		return nil, err
	}
	s.epochs, err = epochlist.New(st.Epochs, len(st.Blocks)-1, seed)
	if err != nil {
		s.closeFiles()
		return nil, err
	}

	var filter *bloom.BloomFilter
	if opts.ProbeFilter {
		if len(st.Filter) > 0 {
			filter = &bloom.BloomFilter{}
			if _, err := filter.ReadFrom(bytes.NewReader(st.Filter)); err != nil {
				// A filter that fails to load is merely a lost optimization;
				// never a reason to refuse the data.
				opts.Logger.Errorf("shale: loading probe filter: %v; starting with a fresh one", err)
				filter = bloom.NewWithEstimates(uint(opts.TableSlots), 0.01)
			}
		} else {
			filter = bloom.NewWithEstimates(uint(opts.TableSlots), 0.01)
		}
	}
	s.table, err = locmap.New(locmap.Config{
		Array:       locmap.NewMediumArray(s.tableMedium, opts.TableSlots, locmap.RecordSize(opts.KeySize)),
		Resolver:    s.epochs,
		KeySize:     opts.KeySize,
		MaxAttempts: uint8(opts.MaxProbeAttempts),
		Filter:      filter,
	})
	if err != nil {
		s.closeFiles()
		return nil, err
	}

	s.syncer = newSyncer(s, opts.SyncInterval)
	s.promoter = newPromoter(s, opts.PromotionRate, float64(opts.BlockSize))
	s.syncer.start()
	s.promoter.start()
	return s, nil
}

func (s *Store) openMediums() error {
	opts := s.opts
	if opts.DataMedium != nil {
		s.dataMedium = opts.DataMedium
	} else {
		f, err := s.fs.OpenReadWrite(s.fs.PathJoin(s.dirname, dataFilename))
		if err != nil {
			return errors.Wrap(err, "shale: opening data file")
		}
		s.dataMedium = medium.NewFile(f, opts.BlockSize*int64(opts.BlockCount))
		s.ownsData = true
	}
	if s.dataMedium.Size() < opts.BlockSize*int64(opts.BlockCount) {
		s.closeFiles()
		return errors.Newf("shale: data medium of %d bytes cannot hold %d blocks of %d bytes",
			s.dataMedium.Size(), opts.BlockCount, opts.BlockSize)
	}
	recordSize := int64(locmap.RecordSize(opts.KeySize))
	if opts.TableMedium != nil {
		s.tableMedium = opts.TableMedium
	} else {
		f, err := s.fs.OpenReadWrite(s.fs.PathJoin(s.dirname, tableFilename))
		if err != nil {
			s.closeFiles()
			return errors.Wrap(err, "shale: opening table file")
		}
		s.tableMedium = medium.NewFile(f, recordSize*int64(opts.TableSlots))
		s.ownsTable = true
	}
	if s.tableMedium.Size() < recordSize*int64(opts.TableSlots) {
		s.closeFiles()
		return errors.Newf("shale: table medium of %d bytes cannot hold %d records of %d bytes",
			s.tableMedium.Size(), opts.TableSlots, recordSize)
	}
	return nil
}

func (s *Store) closeFiles() {
	if s.ownsTable && s.tableMedium != nil {
		_ = s.tableMedium.Close()
	}
	if s.ownsData && s.dataMedium != nil {
		_ = s.dataMedium.Close()
	}
	if s.dir != nil {
		_ = s.dir.Close()
	}
}
