// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"github.com/cockroachdb/errors"

	"github.com/shaledb/shale/internal/base"
)

// ErrNotFound is returned by Get when no valid location exists for a key. A
// key whose entry stopped resolving (block retired, epoch never durable) is
// indistinguishable from one never stored.
var ErrNotFound = base.ErrNotFound

// ErrResourceExhausted is returned when a write cannot obtain a free block,
// typically because the persistent state syncer has not yet confirmed the
// recycling of a retired one. Callers should retry after backing off; the
// store never retries internally.
var ErrResourceExhausted = base.ErrResourceExhausted

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = base.ErrClosed

// IsNotFound returns true if err indicates that no valid location exists for
// the requested key.
func IsNotFound(err error) bool { return errors.Is(err, base.ErrNotFound) }

// IsResourceExhausted returns true if err indicates that a write was refused
// pending a durable state snapshot.
func IsResourceExhausted(err error) bool { return errors.Is(err, base.ErrResourceExhausted) }

// IsCorruptionError returns true if err indicates that durably synced data
// failed validation.
func IsCorruptionError(err error) bool { return base.IsCorruptionError(err) }
