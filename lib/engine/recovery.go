package engine

import (
	"bytes"
	"fmt"
	"iter"
	"path/filepath"
	"time"

	"github.com/ValentinKolb/dDoc/lib/wal"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

// RecoveryState is the phase of the recovery run by Open
type RecoveryState int32

const (
	RecoveryNotStarted RecoveryState = iota
	RecoveryScanning
	RecoveryReplaying
	RecoveryReady
	RecoveryFailed
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryNotStarted:
		return "NotStarted"
	case RecoveryScanning:
		return "Scanning"
	case RecoveryReplaying:
		return "Replaying"
	case RecoveryReady:
		return "Ready"
	case RecoveryFailed:
		return "Failed"
	default:
		return fmt.Sprintf("RecoveryState(%d)", int32(s))
	}
}

func (s RecoveryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RecoveryReport describes the recovery run by Open
type RecoveryReport struct {
	State          RecoveryState `json:"state"`
	CheckpointSeq  uint64        `json:"checkpoint_seq"`  // 0 if no checkpoint was used
	Replayed       int           `json:"replayed"`        // log records applied after the checkpoint
	LastSeq        uint64        `json:"last_seq"`        // last record after recovery
	TruncatedBytes int64         `json:"truncated_bytes"` // bytes of torn tail discarded from the log
	Duration       time.Duration `json:"duration"`
}

// RecoveryState returns the current recovery phase
func (e *Engine) RecoveryState() RecoveryState {
	return RecoveryState(e.recoveryState.Load())
}

// RecoveryReport returns the report of the recovery run by Open
func (e *Engine) RecoveryReport() RecoveryReport {
	r := e.report
	r.State = e.RecoveryState()
	return r
}

func (e *Engine) setRecoveryState(s RecoveryState) {
	old := RecoveryState(e.recoveryState.Swap(int32(s)))
	Logger.Debugf("recovery of %s: %s -> %s", e.path, old, s)
}

// --------------------------------------------------------------------------
// Recovery
// --------------------------------------------------------------------------

// recover restores the state from the newest usable checkpoint and replays
// the log records behind it. Replay does not validate records, it applies
// exactly what was acknowledged before.
func (e *Engine) recover() (err error) {
	start := time.Now()
	defer func() {
		e.report.Duration = time.Since(start)
		if err != nil {
			e.setRecoveryState(RecoveryFailed)
			Logger.Errorf("recovery of %s failed: %v", e.path, err)
		}
	}()

	e.setRecoveryState(RecoveryScanning)

	log, err := wal.Open(e.fs, filepath.Join(e.path, walDir), &wal.Options{MaxSegmentSize: e.opts.MaxSegmentSize})
	if err != nil {
		return err
	}
	e.log = log
	e.report.TruncatedBytes = log.Stats().TruncatedBytes

	cpDir := filepath.Join(e.path, checkpointDir)
	if err := e.fs.MkdirAll(cpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	removeTempCheckpoints(e.fs, cpDir)

	cpSeq, err := e.loadNewestCheckpoint(cpDir)
	if err != nil {
		return err
	}

	if err := e.alignLog(cpSeq); err != nil {
		return err
	}

	e.setRecoveryState(RecoveryReplaying)

	e.applied.Store(cpSeq)
	replayed := 0
	for rec, err := range e.log.ReadFrom(cpSeq + 1) {
		if err != nil {
			return fmt.Errorf("failed to read log: %w", err)
		}
		if err := e.apply(rec); err != nil {
			return fmt.Errorf("failed to replay record %d: %w", rec.Seq, err)
		}
		replayed++
	}

	if last := e.log.LastSeq(); e.applied.Load() != last {
		return fmt.Errorf("replay ended at record %d, log ends at %d", e.applied.Load(), last)
	}

	e.checkpointSeq.Store(cpSeq)
	e.stats.replayed(replayed)
	e.report.CheckpointSeq = cpSeq
	e.report.Replayed = replayed
	e.report.LastSeq = e.applied.Load()
	e.setRecoveryState(RecoveryReady)

	Logger.Infof("recovered %s from checkpoint %d and %d log records in %s (discarded %s torn tail)",
		e.path, cpSeq, replayed, time.Since(start), humanize.Bytes(uint64(e.report.TruncatedBytes)))
	return nil
}

// loadNewestCheckpoint loads the newest checkpoint that can be read and
// returns its sequence number (0 if none could be loaded)
func (e *Engine) loadNewestCheckpoint(dir string) (uint64, error) {
	seqs, err := listCheckpoints(e.fs, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	for i := len(seqs) - 1; i >= 0; i-- {
		path := filepath.Join(dir, checkpointName(seqs[i]))
		if err := e.loadCheckpoint(path, seqs[i]); err != nil {
			Logger.Warningf("skipping unusable checkpoint %s: %v", filepath.Base(path), err)
			e.resetState()
			continue
		}
		return seqs[i], nil
	}
	return 0, nil
}

// loadCheckpoint restores all collections and the index from a checkpoint file
func (e *Engine) loadCheckpoint(path string, want uint64) error {
	data, err := afero.ReadFile(e.fs, path)
	if err != nil {
		return err
	}

	seq, snaps, err := decodeCheckpoint(data)
	if err != nil {
		return err
	}
	if seq != want {
		return fmt.Errorf("checkpoint covers record %d, name says %d", seq, want)
	}

	for _, s := range snaps {
		st := e.newState()
		if err := st.docs.Load(bytes.NewReader(s.data)); err != nil {
			return fmt.Errorf("failed to load collection %q: %w", s.name, err)
		}
		e.catalogEntry(s.name).state.Store(st)
		e.index.Seed(s.name, storeKeys(st))
	}
	return nil
}

// alignLog checks that the log continues exactly behind the checkpoint
func (e *Engine) alignLog(cpSeq uint64) error {
	first, last := e.log.FirstSeq(), e.log.LastSeq()

	if first == 0 {
		switch {
		case last < cpSeq:
			// the log was removed behind the checkpoint
			return e.log.SkipTo(cpSeq + 1)
		case last > cpSeq:
			return fmt.Errorf("%w: log is empty but continues at record %d, checkpoint covers %d", wal.ErrCorrupt, last+1, cpSeq)
		}
		return nil
	}

	if first > cpSeq+1 {
		return fmt.Errorf("%w: log starts at record %d, checkpoint covers only %d", wal.ErrCorrupt, first, cpSeq)
	}
	if last < cpSeq {
		return fmt.Errorf("%w: log ends at record %d, before checkpoint %d", wal.ErrCorrupt, last, cpSeq)
	}
	return nil
}

// resetState drops everything loaded by a failed checkpoint load
func (e *Engine) resetState() {
	e.collections.Range(func(_ string, c *collection) bool {
		if st := c.state.Swap(nil); st != nil {
			_ = st.docs.Close()
		}
		return true
	})
	e.collections.Clear()
	e.index.Clear()
}

func storeKeys(st *collState) iter.Seq[string] {
	return func(yield func(string) bool) {
		st.docs.Range(func(key string, _ []byte, _ uint64) bool {
			return yield(key)
		})
	}
}
