// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package blocklist

import "sync/atomic"

// refcnt provides an atomic reference count tracking in-flight reads pinning
// a block. A block with a nonzero refcnt cannot be retired.
type refcnt int32

func (v *refcnt) refs() int32 {
	return atomic.LoadInt32((*int32)(v))
}

func (v *refcnt) acquire() {
	atomic.AddInt32((*int32)(v), 1)
}

func (v *refcnt) release() bool {
	n := atomic.AddInt32((*int32)(v), -1)
	if n < 0 {
		panic("shale: block refcnt below zero")
	}
	return n == 0
}
