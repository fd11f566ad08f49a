// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package shale provides a persistent, bounded-capacity store for
// content-addressed blobs.
//
// Data lives in a small ring of fixed-size blocks carved out of a
// preallocated medium. Writes append to the current block; when it fills,
// the oldest block is retired and its slot eventually recycled. A persistent
// open-addressed table maps fixed-size keys to locations expressed relative
// to a table of write epochs, so that after a crash the store restarts from
// its last durable state snapshot without scanning any data: entries from
// epochs the snapshot does not vouch for simply stop resolving.
//
// The ring makes retention FIFO by default. Reads from the oldest fraction
// of the ring schedule a paced copy of the blob into the current block,
// which bends retention toward LRU without a separate eviction structure.
//
// Consistency wins over availability: when no block slot can be rotated in
// before the next durable snapshot, writes fail with ErrResourceExhausted
// instead of risking referenced data.
package shale
