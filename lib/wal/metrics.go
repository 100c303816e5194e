package wal

import (
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

var (
	appendsTotal     = vm.NewCounter("ddoc_wal_appends_total")
	appendBytesTotal = vm.NewCounter("ddoc_wal_append_bytes_total")
	fsyncDuration    = vm.NewHistogram("ddoc_wal_fsync_duration_seconds")
	fsyncBatchSize   = vm.NewHistogram("ddoc_wal_fsync_batch_size")
)

// logStats holds the statistics of a single log instance
type logStats struct {
	appends gometrics.Meter
	fsyncs  gometrics.Timer
	batches gometrics.Histogram
	bytes   gometrics.Counter
}

func newLogStats() *logStats {
	return &logStats{
		appends: gometrics.NewMeter(),
		fsyncs:  gometrics.NewTimer(),
		batches: gometrics.NewHistogram(gometrics.NewUniformSample(1028)),
		bytes:   gometrics.NewCounter(),
	}
}

func (s *logStats) appended(n int) {
	s.appends.Mark(1)
	s.bytes.Inc(int64(n))
	appendsTotal.Inc()
	appendBytesTotal.Add(n)
}

func (s *logStats) synced(d time.Duration) {
	s.fsyncs.Update(d)
	fsyncDuration.Update(d.Seconds())
}

func (s *logStats) batch(n int) {
	s.batches.Update(int64(n))
	fsyncBatchSize.Update(float64(n))
}

func (s *logStats) stop() {
	s.appends.Stop()
	s.fsyncs.Stop()
}

// Stats is a point in time view of a log
type Stats struct {
	Segments       int     `json:"segments"`
	FirstSeq       uint64  `json:"first_seq"`
	LastSeq        uint64  `json:"last_seq"`
	SyncedSeq      uint64  `json:"synced_seq"`
	ActiveSize     int64   `json:"active_size"`
	TruncatedBytes int64   `json:"truncated_bytes"`
	Appends        int64   `json:"appends"`
	AppendedBytes  int64   `json:"appended_bytes"`
	AppendRate1m   float64 `json:"append_rate_1m"`
	Fsyncs         int64   `json:"fsyncs"`
	FsyncMean      float64 `json:"fsync_mean_ns"`
	FsyncP99       float64 `json:"fsync_p99_ns"`
	MeanBatchSize  float64 `json:"mean_batch_size"`
	Failed         bool    `json:"failed"`
}

// Stats returns the current statistics of the log
func (w *WAL) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Stats{
		Segments:       len(w.segments),
		FirstSeq:       w.firstSeq,
		LastSeq:        w.lastSeq,
		SyncedSeq:      w.syncedSeq,
		ActiveSize:     w.size,
		TruncatedBytes: w.truncated,
		Appends:        w.stats.appends.Count(),
		AppendedBytes:  w.stats.bytes.Count(),
		AppendRate1m:   w.stats.appends.Rate1(),
		Fsyncs:         w.stats.fsyncs.Count(),
		FsyncMean:      w.stats.fsyncs.Mean(),
		FsyncP99:       w.stats.fsyncs.Percentile(0.99),
		MeanBatchSize:  w.stats.batches.Mean(),
		Failed:         w.failed != nil,
	}
}
