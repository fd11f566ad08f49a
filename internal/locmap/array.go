// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package locmap

import (
	"github.com/shaledb/shale/medium"
)

// RecordArray is the backing store of a Map: a fixed number of fixed-size
// record slots. The persistent implementation stores slots on a storage
// medium; the in-memory one backs non-persistent stores and tests.
//
// Implementations do not validate contents. A slot holding garbage (all
// zeroes, a torn write, data from a previous incarnation) is indistinguishable
// from a live record until the Map checks its epoch and checksum.
type RecordArray interface {
	// Len returns the number of slots.
	Len() int

	// Get reads the record at slot into buf.
	Get(slot int, buf []byte) error

	// Put writes the record in buf to slot.
	Put(slot int, buf []byte) error
}

// NewMemoryArray returns a RecordArray of numSlots slots of recordSize bytes
// held in memory.
func NewMemoryArray(numSlots, recordSize int) RecordArray {
	return &memoryArray{
		data:       make([]byte, numSlots*recordSize),
		numSlots:   numSlots,
		recordSize: recordSize,
	}
}

type memoryArray struct {
	data       []byte
	numSlots   int
	recordSize int
}

func (a *memoryArray) Len() int { return a.numSlots }

func (a *memoryArray) Get(slot int, buf []byte) error {
	copy(buf, a.data[slot*a.recordSize:(slot+1)*a.recordSize])
	return nil
}

func (a *memoryArray) Put(slot int, buf []byte) error {
	copy(a.data[slot*a.recordSize:], buf[:a.recordSize])
	return nil
}

// NewMediumArray returns a RecordArray storing its slots on m. The medium
// must hold at least numSlots*recordSize bytes. Writes are not synced; a torn
// record self-invalidates through its seeded checksum, so the table needs no
// durability barrier of its own.
func NewMediumArray(m medium.Medium, numSlots, recordSize int) RecordArray {
	return &mediumArray{m: m, numSlots: numSlots, recordSize: recordSize}
}

type mediumArray struct {
	m          medium.Medium
	numSlots   int
	recordSize int
}

func (a *mediumArray) Len() int { return a.numSlots }

func (a *mediumArray) Get(slot int, buf []byte) error {
	_, err := a.m.ReadAt(buf[:a.recordSize], int64(slot)*int64(a.recordSize))
	return err
}

func (a *mediumArray) Put(slot int, buf []byte) error {
	_, err := a.m.WriteAt(buf[:a.recordSize], int64(slot)*int64(a.recordSize))
	return err
}
