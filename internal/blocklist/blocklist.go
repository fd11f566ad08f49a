// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package blocklist manages the ordered list of fixed-capacity blocks a
// shale store appends blobs to.
//
// Blocks are identified by logical indices that increase monotonically over
// the lifetime of a store: retiring the oldest block never renumbers the
// remaining ones. The slot a block occupies on the storage medium is recycled
// long after the logical index is gone, and only once the persistent state
// syncer confirms that the last durable snapshot no longer references it.
package blocklist

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/medium"
)

// ErrNoSpace is returned by Put when the current block cannot fit the
// requested number of bytes. The caller is expected to push a new block and
// retry.
var ErrNoSpace = errors.New("shale: block full")

// BlockState describes one live block for a persistent state snapshot:
// the slot it occupies on the medium and how many bytes have been appended.
type BlockState struct {
	Slot   int
	Cursor int64
}

// block is a live block. The write cursor only advances while mu is held by
// the owning BlockList; refs is maintained atomically so that releasing a
// read pin does not need the list mutex.
type block struct {
	slot   int
	cursor int64
	refs   refcnt
}

// BlockList is the ordered sequence of live blocks, oldest to newest. The
// newest block is the only one receiving writes.
type BlockList struct {
	medium    medium.Medium
	blockSize int64
	alloc     *Allocator

	pushes      atomic.Uint64
	retirements atomic.Uint64
	recycles    atomic.Uint64

	mu struct {
		sync.Mutex
		// blocks[i] has logical index first+i.
		blocks []*block
		first  int
		// generation increments on every PopFront. A retired block's slot can
		// be recycled once a state snapshot taken at generation >= its
		// retirement generation has been durably written.
		generation uint64
		releasing  []releasedSlot
	}
}

type releasedSlot struct {
	slot       int
	generation uint64
}

// New returns a BlockList over m, carved into numSlots blocks of blockSize
// bytes. recovered, if non-empty, is the block layout loaded from the last
// durable state snapshot, oldest to newest; those blocks resume with logical
// indices 0..len(recovered)-1.
func New(m medium.Medium, blockSize int64, numSlots int, recovered []BlockState) (*BlockList, error) {
	if blockSize <= 0 || numSlots <= 0 || int64(numSlots)*blockSize > m.Size() {
		return nil, errors.Newf("medium of %d bytes cannot hold %d blocks of %d bytes", m.Size(), numSlots, blockSize)
	}
	l := &BlockList{
		medium:    m,
		blockSize: blockSize,
		alloc:     NewAllocator(numSlots),
	}
	for _, st := range recovered {
		if err := l.alloc.Claim(st.Slot); err != nil {
			return nil, errors.Wrap(err, "reloading block layout")
		}
		if st.Cursor < 0 || st.Cursor > blockSize {
			return nil, errors.Newf("recovered cursor %d outside block of %d bytes", st.Cursor, blockSize)
		}
		l.mu.blocks = append(l.mu.blocks, &block{slot: st.Slot, cursor: st.Cursor})
	}
	return l, nil
}

// BlockSize returns the capacity of each block in bytes.
func (l *BlockList) BlockSize() int64 { return l.blockSize }

// FirstIndex returns the logical index of the oldest live block.
func (l *BlockList) FirstIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.first
}

// LastIndex returns the logical index of the newest live block, or -1 when
// no block has been pushed yet.
func (l *BlockList) LastIndex() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mu.first + len(l.mu.blocks) - 1
}

// NumLive returns the number of live blocks.
func (l *BlockList) NumLive() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.mu.blocks)
}

// NumFree returns the number of medium slots available for PushBack.
func (l *BlockList) NumFree() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alloc.NumFree()
}

// PendingRelease returns the number of retired blocks whose slots are still
// waiting on a durable state snapshot before they can be recycled. A growing
// value indicates the syncer is falling behind write pressure.
func (l *BlockList) PendingRelease() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.mu.releasing)
}

// PushBack allocates a new current block and returns its logical index. It
// fails with ErrResourceExhausted when no slot is free; the caller must
// retire the oldest block (and allow a sync cycle to complete) first.
func (l *BlockList) PushBack() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, err := l.alloc.Allocate()
	if err != nil {
		return 0, err
	}
	l.mu.blocks = append(l.mu.blocks, &block{slot: slot})
	l.pushes.Add(1)
	return l.mu.first + len(l.mu.blocks) - 1, nil
}

// PopFront retires the oldest block. The block's data remains readable on the
// medium until its slot is recycled, but its logical index stops resolving
// immediately. Retirement fails with ErrResourceExhausted while a read still
// pins the block; the caller may retry once in-flight reads drain.
func (l *BlockList) PopFront() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.mu.blocks) <= 1 {
		return errors.New("shale: cannot retire the current block")
	}
	b := l.mu.blocks[0]
	if b.refs.refs() > 0 {
		return errors.Wrap(base.ErrResourceExhausted, "oldest block pinned by an in-flight read")
	}
	l.mu.blocks = l.mu.blocks[1:]
	l.mu.first++
	l.mu.generation++
	l.mu.releasing = append(l.mu.releasing, releasedSlot{slot: b.slot, generation: l.mu.generation})
	l.retirements.Add(1)
	return nil
}

// HasSpace reports whether the current block can fit n more bytes.
func (l *BlockList) HasSpace(n int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.mu.blocks) == 0 {
		return false
	}
	return l.mu.blocks[len(l.mu.blocks)-1].cursor+n <= l.blockSize
}

// Put reserves n bytes at the current block's write cursor and returns a
// Writer for filling them in. The reservation is made under the list mutex;
// the byte copy itself happens outside it, so concurrent Puts only contend on
// the reservation. Returns ErrNoSpace when the current block cannot fit n
// bytes.
func (l *BlockList) Put(n int64) (*Writer, error) {
	if n < 0 || n > l.blockSize {
		return nil, errors.Newf("shale: blob of %d bytes cannot fit any block of %d bytes", n, l.blockSize)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.mu.blocks) == 0 {
		return nil, ErrNoSpace
	}
	b := l.mu.blocks[len(l.mu.blocks)-1]
	if b.cursor+n > l.blockSize {
		return nil, ErrNoSpace
	}
	off := b.cursor
	b.cursor += n
	b.refs.acquire()
	return &Writer{
		list:      l,
		b:         b,
		index:     l.mu.first + len(l.mu.blocks) - 1,
		offset:    off,
		devOff:    int64(b.slot)*l.blockSize + off,
		remaining: n,
	}, nil
}

// Get reads length bytes starting at off within the block at the given
// logical index. Reads may span the boundary into the immediately following
// block (a spanning read pins every involved block); this is used when
// adjacent records are coalesced during copy-forward. The involved blocks are
// pinned for the duration of the read so that retirement cannot recycle their
// slots mid-read.
//
// A read of a block that has already been retired fails with ErrNotFound.
func (l *BlockList) Get(index int, off, length int64) ([]byte, error) {
	if off < 0 || length < 0 {
		return nil, errors.Newf("shale: invalid read [%d,%d)", off, off+length)
	}
	type segment struct {
		b      *block
		devOff int64
		n      int64
	}
	var segs []segment
	l.mu.Lock()
	for idx, remaining := index, length; remaining > 0 || len(segs) == 0; idx++ {
		i := idx - l.mu.first
		if i < 0 || i >= len(l.mu.blocks) {
			l.mu.Unlock()
			return nil, errors.Wrapf(base.ErrNotFound, "block %d not live", idx)
		}
		b := l.mu.blocks[i]
		start := off
		if idx > index {
			start = 0
		}
		n := remaining
		if start+n > b.cursor {
			n = b.cursor - start
		}
		if n < 0 || (n == 0 && remaining > 0 && idx > index) {
			l.mu.Unlock()
			for _, s := range segs {
				s.b.refs.release()
			}
			return nil, errors.Newf("shale: read [%d,%d) beyond cursor %d of block %d", start, start+remaining, b.cursor, idx)
		}
		b.refs.acquire()
		segs = append(segs, segment{b: b, devOff: int64(b.slot)*l.blockSize + start, n: n})
		remaining -= n
		if remaining > 0 && start+n < l.blockSize {
			// The rest of this block has not been written; the read cannot
			// continue into the successor.
			l.mu.Unlock()
			for _, s := range segs {
				s.b.refs.release()
			}
			return nil, errors.Newf("shale: read [%d,%d) beyond cursor %d of block %d", off, off+length, b.cursor, idx)
		}
	}
	l.mu.Unlock()

	buf := make([]byte, length)
	p := buf
	var readErr error
	for _, s := range segs {
		if readErr == nil && s.n > 0 {
			_, readErr = l.medium.ReadAt(p[:s.n], s.devOff)
			p = p[s.n:]
		}
		s.b.refs.release()
	}
	if readErr != nil {
		return nil, readErr
	}
	return buf, nil
}

// Snapshot captures the current block layout for a persistent state
// snapshot: the per-block states oldest to newest, the logical index of the
// oldest block, and the retirement generation the snapshot covers.
func (l *BlockList) Snapshot() ([]BlockState, int, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	states := make([]BlockState, len(l.mu.blocks))
	for i, b := range l.mu.blocks {
		states[i] = BlockState{Slot: b.slot, Cursor: b.cursor}
	}
	return states, l.mu.first, l.mu.generation
}

// NotifyStateWritten informs the list that a state snapshot taken at the
// given generation has been durably written. Slots of blocks retired at or
// before that generation are no longer reachable from durable state and are
// returned to the allocator.
func (l *BlockList) NotifyStateWritten(generation uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := 0
	for ; i < len(l.mu.releasing) && l.mu.releasing[i].generation <= generation; i++ {
		l.alloc.Release(l.mu.releasing[i].slot)
		l.recycles.Add(1)
	}
	l.mu.releasing = l.mu.releasing[i:]
}

// Stats returns cumulative block lifecycle counters.
func (l *BlockList) Stats() (pushes, retirements, recycles uint64) {
	return l.pushes.Load(), l.retirements.Load(), l.recycles.Load()
}

// Writer fills in a reservation made by Put. The target block stays pinned
// until Finish or Abandon is called.
type Writer struct {
	list      *BlockList
	b         *block
	index     int
	offset    int64
	devOff    int64
	remaining int64
}

// Write appends p to the reservation.
func (w *Writer) Write(p []byte) (int, error) {
	if int64(len(p)) > w.remaining {
		return 0, errors.Newf("shale: write of %d bytes exceeds reservation by %d", len(p), int64(len(p))-w.remaining)
	}
	n, err := w.list.medium.WriteAt(p, w.devOff)
	if err != nil {
		return n, err
	}
	w.devOff += int64(n)
	w.remaining -= int64(n)
	return n, nil
}

// Finish completes the write and returns the logical block index and
// intra-block offset of the reservation. It fails if the reservation was not
// filled completely; the caller must then discard the location (the reserved
// bytes become dead space in the block).
func (w *Writer) Finish() (index int, offset int64, err error) {
	w.b.refs.release()
	if w.remaining != 0 {
		return 0, 0, errors.Newf("shale: reservation not filled, %d bytes missing", w.remaining)
	}
	return w.index, w.offset, nil
}

// Abandon releases the reservation without completing it. The reserved bytes
// become dead space; the cursor is never rolled back.
func (w *Writer) Abandon() {
	w.b.refs.release()
}
