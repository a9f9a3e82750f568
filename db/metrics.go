package db

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PebbleCollector exports a subset of pebble.Metrics to prometheus.
type PebbleCollector struct {
	db *PebbleDB

	compactionCount         *prometheus.Desc
	compactionEstimatedDebt *prometheus.Desc
	compactionInProgress    *prometheus.Desc

	memtableSize  *prometheus.Desc
	memtableCount *prometheus.Desc

	walFiles        *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc

	blockCacheSize   *prometheus.Desc
	blockCacheHits   *prometheus.Desc
	blockCacheMisses *prometheus.Desc
}

// NewPebbleCollector builds a collector reading metrics from p on every scrape.
func NewPebbleCollector(p *PebbleDB) *PebbleCollector {
	return &PebbleCollector{
		db: p,

		compactionCount: prometheus.NewDesc(
			"pebble_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionEstimatedDebt: prometheus.NewDesc(
			"pebble_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state",
			nil, nil,
		),
		compactionInProgress: prometheus.NewDesc(
			"pebble_compaction_in_progress_bytes",
			"Number of bytes being compacted currently",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"pebble_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"pebble_memtable_count",
			"Current count of memtables",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			"pebble_wal_files_total",
			"Number of live WAL files",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"pebble_wal_size_bytes",
			"Size of the live data in the WAL files",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"pebble_wal_bytes_written_total",
			"Number of bytes written to the WAL",
			nil, nil,
		),
		blockCacheSize: prometheus.NewDesc(
			"pebble_block_cache_size_bytes",
			"Bytes in use by the block cache",
			nil, nil,
		),
		blockCacheHits: prometheus.NewDesc(
			"pebble_block_cache_hits_total",
			"Block cache hits",
			nil, nil,
		),
		blockCacheMisses: prometheus.NewDesc(
			"pebble_block_cache_misses_total",
			"Block cache misses",
			nil, nil,
		),
	}
}

func (pc *PebbleCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.compactionCount
	ch <- pc.compactionEstimatedDebt
	ch <- pc.compactionInProgress
	ch <- pc.memtableSize
	ch <- pc.memtableCount
	ch <- pc.walFiles
	ch <- pc.walSize
	ch <- pc.walBytesWritten
	ch <- pc.blockCacheSize
	ch <- pc.blockCacheHits
	ch <- pc.blockCacheMisses
}

func (pc *PebbleCollector) Collect(ch chan<- prometheus.Metric) {
	if pc.db.closed.Load() {
		return
	}
	m := pc.db.Metrics()

	ch <- prometheus.MustNewConstMetric(pc.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(pc.compactionEstimatedDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(pc.compactionInProgress, prometheus.GaugeValue, float64(m.Compact.InProgressBytes))
	ch <- prometheus.MustNewConstMetric(pc.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(pc.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(pc.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(pc.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(pc.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))
	ch <- prometheus.MustNewConstMetric(pc.blockCacheSize, prometheus.GaugeValue, float64(m.BlockCache.Size))
	ch <- prometheus.MustNewConstMetric(pc.blockCacheHits, prometheus.CounterValue, float64(m.BlockCache.Hits))
	ch <- prometheus.MustNewConstMetric(pc.blockCacheMisses, prometheus.CounterValue, float64(m.BlockCache.Misses))
}
