// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/tokenbucket"
	"github.com/shaledb/shale/internal/base"
)

// promoter copies blobs out of aging blocks into the current block, emulating
// LRU retention on top of the append-only ring. Promotions are a best-effort
// side effect of reads: a failed promotion is counted and logged, never
// surfaced to the read that triggered it.
//
// When a whole block's worth of blobs comes due at once (a build output read
// file by file, say) the naive behavior would be to re-copy the entire block
// in one burst. The token bucket smears those copies over time instead, at
// PromotionRate bytes per second with a burst of one block.
type promoter struct {
	store *Store

	notifyCh chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	limiter promotionLimiter

	mu struct {
		sync.Mutex
		queue   [][]byte
		pending map[string]struct{}
	}

	enqueued  atomic.Uint64
	completed atomic.Uint64
	dropped   atomic.Uint64
}

// PromotionMetrics describes promotion activity.
type PromotionMetrics struct {
	Enqueued  uint64
	Completed uint64
	// Dropped counts promotions abandoned because the entry disappeared,
	// was already promoted, or no space was available in the current block.
	Dropped uint64
}

func newPromoter(s *Store, rate float64, burst float64) *promoter {
	p := &promoter{
		store:    s,
		notifyCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	if rate < 0 {
		// Promotion disabled; nothing is ever enqueued.
		rate = 0
	}
	p.limiter.tb.Init(tokenbucket.TokensPerSecond(rate), tokenbucket.Tokens(burst))
	p.mu.pending = make(map[string]struct{})
	return p
}

func (p *promoter) start() {
	p.wg.Add(1)
	go p.loop()
}

func (p *promoter) stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// enqueue schedules key for promotion. Duplicate keys coalesce while queued.
func (p *promoter) enqueue(key []byte) {
	p.mu.Lock()
	if _, ok := p.mu.pending[string(key)]; ok {
		p.mu.Unlock()
		return
	}
	k := append([]byte(nil), key...)
	p.mu.pending[string(k)] = struct{}{}
	p.mu.queue = append(p.mu.queue, k)
	p.mu.Unlock()
	p.enqueued.Add(1)
	select {
	case p.notifyCh <- struct{}{}:
	default:
	}
}

func (p *promoter) loop() {
	defer p.wg.Done()
	for {
		key, ok := p.pop()
		if !ok {
			select {
			case <-p.stopCh:
				return
			case <-p.notifyCh:
				continue
			}
		}
		select {
		case <-p.stopCh:
			return
		default:
		}
		p.promote(key)
	}
}

func (p *promoter) pop() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.mu.queue) == 0 {
		return nil, false
	}
	key := p.mu.queue[0]
	p.mu.queue = p.mu.queue[1:]
	delete(p.mu.pending, string(key))
	return key, true
}

// promote copies the blob for key into the current block and repoints its
// table entry, provided the entry still resolves into the promotion window.
func (p *promoter) promote(key []byte) {
	s := p.store
	loc, ok, err := s.table.Lookup(key)
	if err != nil || !ok {
		p.dropped.Add(1)
		return
	}
	index, _, ok := s.epochs.BlockReferenceToBlockIndex(loc.Ref)
	if !ok {
		p.dropped.Add(1)
		return
	}
	// Re-check the age window: the entry may have been promoted already, or
	// enough blocks may have rotated past it.
	live := s.blocks.NumLive()
	window := int(float64(live) * s.opts.PromotionFraction)
	if window < 1 {
		window = 1
	}
	if index-s.blocks.FirstIndex() >= window {
		p.dropped.Add(1)
		return
	}
	value, err := s.blocks.Get(index, loc.Offset, loc.Length)
	if err != nil {
		p.dropped.Add(1)
		if !errors.Is(err, base.ErrNotFound) {
			s.opts.Logger.Errorf("shale: promotion read of %x: %v", key, err)
		}
		return
	}
	p.limiter.wait(float64(len(value)), p.stopCh)
	if err := s.appendBlob(key, value, false); err != nil {
		p.dropped.Add(1)
		if !errors.Is(err, base.ErrResourceExhausted) {
			s.opts.Logger.Errorf("shale: promotion write of %x: %v", key, err)
		}
		return
	}
	p.completed.Add(1)
	s.syncer.notePut()
}

func (p *promoter) readStats() PromotionMetrics {
	return PromotionMetrics{
		Enqueued:  p.enqueued.Load(),
		Completed: p.completed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// promotionLimiter is a thin blocking shim over a token bucket.
type promotionLimiter struct {
	mu sync.Mutex
	tb tokenbucket.TokenBucket
}

// wait blocks until n tokens are available or stopCh closes.
func (l *promotionLimiter) wait(n float64, stopCh <-chan struct{}) {
	for {
		l.mu.Lock()
		ok, d := l.tb.TryToFulfill(tokenbucket.Tokens(n))
		l.mu.Unlock()
		if ok {
			return
		}
		select {
		case <-stopCh:
			return
		case <-time.After(d):
		}
	}
}
