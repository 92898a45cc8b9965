package binflow

import (
	"sync/atomic"
	"time"
)

// StatsCollector defines the interface for collecting metrics while the
// engine runs. The StatsCollector is optional - if not provided, no
// statistics are collected.
type StatsCollector interface {
	// RecordItemsBinned is called when intake places items into bins.
	RecordItemsBinned(count int)

	// RecordItemFailed is called for each item routed to RelFailure.
	RecordItemFailed()

	// RecordBinMigrated is called when a bin moves to the ready queue.
	RecordBinMigrated()

	// RecordBinEvicted is called when the oldest bin is force-evicted under
	// capacity pressure.
	RecordBinEvicted()

	// RecordBinProcessed is called when a ready bin completes, with the
	// bin's entry count and total size.
	RecordBinProcessed(entries int, size int64)

	// RecordBinRolledBack is called when bin processing fails unrecoverably.
	RecordBinRolledBack()

	// RecordSourceError is called when pulling from the source fails.
	RecordSourceError()

	// GetStats returns a snapshot of the current statistics.
	GetStats() Stats
}

// Stats holds aggregated statistics about engine activity.
type Stats struct {
	ItemsBinned    uint64
	ItemsFailed    uint64
	BinsMigrated   uint64
	BinsEvicted    uint64
	BinsProcessed  uint64
	BinsRolledBack uint64
	SourceErrors   uint64

	// BytesProcessed is the cumulative size of all processed bins.
	BytesProcessed uint64

	// StartTime is when statistics collection began.
	StartTime time.Time
}

// NoOpStatsCollector is a stats collector that discards all metrics. It is
// the default stats collector when none is specified.
type NoOpStatsCollector struct{}

// RecordItemsBinned implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordItemsBinned(count int) {}

// RecordItemFailed implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordItemFailed() {}

// RecordBinMigrated implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordBinMigrated() {}

// RecordBinEvicted implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordBinEvicted() {}

// RecordBinProcessed implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordBinProcessed(entries int, size int64) {}

// RecordBinRolledBack implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordBinRolledBack() {}

// RecordSourceError implements the StatsCollector interface.
func (n *NoOpStatsCollector) RecordSourceError() {}

// GetStats implements the StatsCollector interface.
func (n *NoOpStatsCollector) GetStats() Stats {
	return Stats{}
}

// BasicStatsCollector is a simple in-memory implementation of
// StatsCollector. All operations are thread-safe.
type BasicStatsCollector struct {
	itemsBinned    uint64
	itemsFailed    uint64
	binsMigrated   uint64
	binsEvicted    uint64
	binsProcessed  uint64
	binsRolledBack uint64
	sourceErrors   uint64
	bytesProcessed uint64

	startTime time.Time
}

// NewBasicStatsCollector creates a new BasicStatsCollector.
func NewBasicStatsCollector() *BasicStatsCollector {
	return &BasicStatsCollector{
		startTime: time.Now(),
	}
}

// RecordItemsBinned implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordItemsBinned(count int) {
	atomic.AddUint64(&b.itemsBinned, uint64(count))
}

// RecordItemFailed implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordItemFailed() {
	atomic.AddUint64(&b.itemsFailed, 1)
}

// RecordBinMigrated implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordBinMigrated() {
	atomic.AddUint64(&b.binsMigrated, 1)
}

// RecordBinEvicted implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordBinEvicted() {
	atomic.AddUint64(&b.binsEvicted, 1)
}

// RecordBinProcessed implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordBinProcessed(entries int, size int64) {
	atomic.AddUint64(&b.binsProcessed, 1)
	atomic.AddUint64(&b.bytesProcessed, uint64(size))
}

// RecordBinRolledBack implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordBinRolledBack() {
	atomic.AddUint64(&b.binsRolledBack, 1)
}

// RecordSourceError implements the StatsCollector interface.
func (b *BasicStatsCollector) RecordSourceError() {
	atomic.AddUint64(&b.sourceErrors, 1)
}

// GetStats implements the StatsCollector interface. It returns a snapshot of
// the current statistics.
func (b *BasicStatsCollector) GetStats() Stats {
	return Stats{
		ItemsBinned:    atomic.LoadUint64(&b.itemsBinned),
		ItemsFailed:    atomic.LoadUint64(&b.itemsFailed),
		BinsMigrated:   atomic.LoadUint64(&b.binsMigrated),
		BinsEvicted:    atomic.LoadUint64(&b.binsEvicted),
		BinsProcessed:  atomic.LoadUint64(&b.binsProcessed),
		BinsRolledBack: atomic.LoadUint64(&b.binsRolledBack),
		SourceErrors:   atomic.LoadUint64(&b.sourceErrors),
		BytesProcessed: atomic.LoadUint64(&b.bytesProcessed),
		StartTime:      b.startTime,
	}
}
