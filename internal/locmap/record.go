// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package locmap

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/shaledb/shale/internal/epochlist"
)

// Location describes where a blob lives: a stable block reference plus the
// offset and length within that block.
type Location struct {
	Ref    epochlist.BlockReference
	Offset int64
	Length int64
}

// Record is one entry of the key-location table. Attempt is the probe
// attempt at which the record is stored; it participates in slot selection
// so that a displaced record can move on to its next slot.
type Record struct {
	Key     []byte
	Attempt uint8
	Loc     Location
}

// Fixed-width fields following the key:
// attempt (1) + epoch (4) + blocksFromLast (2) + offset (8) + length (8) +
// checksum (8).
const recordOverhead = 1 + 4 + 2 + 8 + 8 + 8

// RecordSize returns the on-medium size of a record for the given key size.
func RecordSize(keySize int) int { return keySize + recordOverhead }

// encodeRecord serializes r into buf, which must be RecordSize(len(r.Key))
// bytes. The trailing checksum is an xxhash of the record bytes keyed with
// the seed of the epoch named by the record; a record whose epoch seed is no
// longer known can therefore never validate.
func encodeRecord(buf []byte, r *Record, seed uint64) {
	n := copy(buf, r.Key)
	buf[n] = r.Attempt
	binary.LittleEndian.PutUint32(buf[n+1:], r.Loc.Ref.EpochID)
	binary.LittleEndian.PutUint16(buf[n+5:], r.Loc.Ref.BlocksFromLast)
	binary.LittleEndian.PutUint64(buf[n+7:], uint64(r.Loc.Offset))
	binary.LittleEndian.PutUint64(buf[n+15:], uint64(r.Loc.Length))
	binary.LittleEndian.PutUint64(buf[n+23:], recordChecksum(buf[:n+23], seed))
}

// decodeRecord parses buf without validating the checksum. The returned
// record's Key aliases buf.
func decodeRecord(buf []byte, keySize int) Record {
	return Record{
		Key:     buf[:keySize],
		Attempt: buf[keySize],
		Loc: Location{
			Ref: epochlist.BlockReference{
				EpochID:        binary.LittleEndian.Uint32(buf[keySize+1:]),
				BlocksFromLast: binary.LittleEndian.Uint16(buf[keySize+5:]),
			},
			Offset: int64(binary.LittleEndian.Uint64(buf[keySize+7:])),
			Length: int64(binary.LittleEndian.Uint64(buf[keySize+15:])),
		},
	}
}

// checksumMatches validates buf (a full record) against the given epoch seed.
func checksumMatches(buf []byte, seed uint64) bool {
	stored := binary.LittleEndian.Uint64(buf[len(buf)-8:])
	return stored == recordChecksum(buf[:len(buf)-8], seed)
}

func recordChecksum(body []byte, seed uint64) uint64 {
	var seedBytes [8]byte
	binary.LittleEndian.PutUint64(seedBytes[:], seed)
	d := xxhash.New()
	_, _ = d.Write(seedBytes[:])
	_, _ = d.Write(body)
	return d.Sum64()
}

// slotFor returns the table slot probed for (key, attempt). The probe hash is
// deliberately unseeded: probing must be stable across epochs and restarts,
// since a lookup does not know the epoch an entry was inserted in.
func slotFor(key []byte, attempt uint8, numSlots int) int {
	d := xxhash.New()
	_, _ = d.Write([]byte{attempt})
	_, _ = d.Write(key)
	return int(d.Sum64() % uint64(numSlots))
}
