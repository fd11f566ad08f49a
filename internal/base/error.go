// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound is returned when a get finds neither the requested key nor a
// location for it that still resolves to a live block. A key whose entry
// points at a retired block or at an epoch that never became durable is
// indistinguishable from a key that was never stored.
var ErrNotFound = errors.New("shale: not found")

// ErrResourceExhausted is returned when a write cannot proceed because no
// free block is available, or because the persistent state syncer has not yet
// made it safe to recycle a retired block. Callers are expected to retry
// after the syncer catches up; the engine never retries internally.
var ErrResourceExhausted = errors.New("shale: resource exhausted")

// ErrCorruption is a marker for data that failed validation even though its
// epoch was durably synced. Entries that fail this way are removed from the
// key-location map and subsequently behave as ErrNotFound.
var ErrCorruption = errors.New("shale: corruption")

// ErrClosed is returned when an operation is performed on a closed Store.
var ErrClosed = errors.New("shale: closed")

// CorruptionErrorf formats an error and marks it with ErrCorruption.
// Arguments that are safe to report verbatim should be wrapped with
// errors.Safe by the caller.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// MarkCorruptionError marks err with ErrCorruption.
func MarkCorruptionError(err error) error {
	return errors.Mark(err, ErrCorruption)
}

// IsCorruptionError returns true if err indicates that validated data on the
// storage medium is not in the expected format.
func IsCorruptionError(err error) bool {
	return errors.Is(err, ErrCorruption)
}
