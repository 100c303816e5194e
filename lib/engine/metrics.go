package engine

import (
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

var (
	writesCommitted    = vm.NewCounter(`ddoc_engine_writes_total{result="committed"}`)
	writesRejected     = vm.NewCounter(`ddoc_engine_writes_total{result="rejected"}`)
	writesFailed       = vm.NewCounter(`ddoc_engine_writes_total{result="failed"}`)
	checkpointDuration = vm.NewHistogram("ddoc_checkpoint_duration_seconds")
	recoveredRecords   = vm.NewCounter("ddoc_recovery_replayed_records_total")
)

// engineStats holds the statistics of a single engine instance
type engineStats struct {
	writes      gometrics.Meter
	rejections  gometrics.Meter
	checkpoints gometrics.Timer
}

func newEngineStats() *engineStats {
	return &engineStats{
		writes:      gometrics.NewMeter(),
		rejections:  gometrics.NewMeter(),
		checkpoints: gometrics.NewTimer(),
	}
}

func (s *engineStats) committed() {
	s.writes.Mark(1)
	writesCommitted.Inc()
}

func (s *engineStats) rejected(n int) {
	if n <= 0 {
		return
	}
	s.rejections.Mark(int64(n))
	writesRejected.Add(n)
}

func (s *engineStats) failedWrite() {
	writesFailed.Inc()
}

func (s *engineStats) checkpointed(d time.Duration) {
	s.checkpoints.Update(d)
	checkpointDuration.Update(d.Seconds())
}

func (s *engineStats) replayed(n int) {
	recoveredRecords.Add(n)
}

func (s *engineStats) stop() {
	s.writes.Stop()
	s.rejections.Stop()
	s.checkpoints.Stop()
}
