// Copyright 2025 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import "github.com/prometheus/client_golang/prometheus"

var (
	promBlocksLive = prometheus.NewDesc(
		"shale_blocks_live", "Number of blocks holding readable data.", nil, nil)
	promBlocksFree = prometheus.NewDesc(
		"shale_blocks_free", "Number of free block slots.", nil, nil)
	promBlocksPendingRelease = prometheus.NewDesc(
		"shale_blocks_pending_release", "Retired slots waiting on a durable snapshot.", nil, nil)
	promBlocksPushed = prometheus.NewDesc(
		"shale_blocks_pushed_total", "Blocks pushed onto the ring.", nil, nil)
	promBlocksRetired = prometheus.NewDesc(
		"shale_blocks_retired_total", "Blocks retired from the ring.", nil, nil)
	promBlocksRecycled = prometheus.NewDesc(
		"shale_blocks_recycled_total", "Block slots recycled after a durable snapshot.", nil, nil)
	promTableDisplacements = prometheus.NewDesc(
		"shale_table_displacements_total", "Table collisions resolved by moving the older entry.", nil, nil)
	promTableDrops = prometheus.NewDesc(
		"shale_table_drops_total", "Table entries dropped during displacement.", nil, nil)
	promTableCorruptions = prometheus.NewDesc(
		"shale_table_corruptions_total", "Table records with a durable epoch but a bad checksum.", nil, nil)
	promPromotionsEnqueued = prometheus.NewDesc(
		"shale_promotions_enqueued_total", "Blob promotions scheduled.", nil, nil)
	promPromotionsCompleted = prometheus.NewDesc(
		"shale_promotions_completed_total", "Blob promotions completed.", nil, nil)
	promPromotionsDropped = prometheus.NewDesc(
		"shale_promotions_dropped_total", "Blob promotions abandoned.", nil, nil)
	promSyncCycles = prometheus.NewDesc(
		"shale_sync_cycles_total", "Persistent state cycles completed.", nil, nil)
	promSyncFailures = prometheus.NewDesc(
		"shale_sync_failures_total", "Persistent state cycles that failed.", nil, nil)
	promSyncLagSeconds = prometheus.NewDesc(
		"shale_sync_lag_seconds", "Seconds since the last completed state cycle.", nil, nil)
	promReads = prometheus.NewDesc(
		"shale_reads_total", "Get and FindMissing key lookups.", nil, nil)
	promReadMisses = prometheus.NewDesc(
		"shale_read_misses_total", "Lookups that found no valid location.", nil, nil)
	promWrites = prometheus.NewDesc(
		"shale_writes_total", "Puts that stored a new blob.", nil, nil)
	promWriteNoops = prometheus.NewDesc(
		"shale_write_noops_total", "Puts that found the key already stored.", nil, nil)
	promExhausted = prometheus.NewDesc(
		"shale_resource_exhausted_total", "Operations refused pending a durable snapshot.", nil, nil)
)

// Collector returns a prometheus.Collector exposing the store's metrics.
func (s *Store) Collector() prometheus.Collector {
	return storeCollector{s}
}

type storeCollector struct {
	s *Store
}

// Describe implements prometheus.Collector.
func (c storeCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c storeCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.s.Metrics()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge(promBlocksLive, float64(m.Blocks.Live))
	gauge(promBlocksFree, float64(m.Blocks.Free))
	gauge(promBlocksPendingRelease, float64(m.Blocks.PendingRelease))
	counter(promBlocksPushed, m.Blocks.Pushes)
	counter(promBlocksRetired, m.Blocks.Retirements)
	counter(promBlocksRecycled, m.Blocks.Recycles)
	counter(promTableDisplacements, m.Table.Displacements)
	counter(promTableDrops, m.Table.Drops)
	counter(promTableCorruptions, m.Table.Corruptions)
	counter(promPromotionsEnqueued, m.Promotions.Enqueued)
	counter(promPromotionsCompleted, m.Promotions.Completed)
	counter(promPromotionsDropped, m.Promotions.Dropped)
	counter(promSyncCycles, m.Syncer.Cycles)
	counter(promSyncFailures, m.Syncer.Failures)
	gauge(promSyncLagSeconds, m.Syncer.Lag.Seconds())
	counter(promReads, m.Reads)
	counter(promReadMisses, m.ReadMisses)
	counter(promWrites, m.Writes)
	counter(promWriteNoops, m.WriteNoops)
	counter(promExhausted, m.ResourceExhausted)
}
