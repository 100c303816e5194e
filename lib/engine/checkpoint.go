package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/dDoc/lib/wal"
	"github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	"github.com/spf13/afero"
)

/*
	Checkpoint file layout (little endian):

	  | "DDCP" | version u8 | seq u64 | snappy stream ... | crc u32 |

	snappy stream = count u32, then per collection:
	  nameLen u16 | name | snapLen u64 | store snapshot

	crc = crc32c over everything before it. A checkpoint covers all log
	records up to and including seq.
*/

const (
	checkpointMagic   = "DDCP"
	checkpointVersion = 1

	checkpointHeaderSize = 4 + 1 + 8
	checkpointExt        = ".snap"
	checkpointTmpExt     = ".tmp"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// snapshot is the stored state of a single collection
type snapshot struct {
	name string
	data []byte
}

func checkpointName(seq uint64) string {
	return fmt.Sprintf("checkpoint_%016d%s", seq, checkpointExt)
}

func parseCheckpointName(name string) (uint64, bool) {
	var seq uint64
	if !strings.HasSuffix(name, checkpointExt) {
		return 0, false
	}
	if _, err := fmt.Sscanf(name, "checkpoint_%016d.snap", &seq); err != nil {
		return 0, false
	}
	return seq, checkpointName(seq) == name
}

// --------------------------------------------------------------------------
// Taking checkpoints
// --------------------------------------------------------------------------

// Checkpoint writes the current state to a checkpoint file and removes log
// segments that are no longer needed. Writes are blocked while the
// checkpoint is taken. It returns the sequence number the checkpoint covers.
func (e *Engine) Checkpoint() (uint64, error) {
	e.fsyncMu.Lock()
	if e.closed.Load() {
		e.fsyncMu.Unlock()
		return 0, ErrClosed
	}
	if e.fsyncLocked {
		e.fsyncMu.Unlock()
		return 0, ErrFsyncLocked
	}
	e.gate.Lock()
	e.fsyncMu.Unlock()
	defer e.gate.Unlock()

	if err := e.failed(); err != nil {
		return 0, err
	}
	return e.checkpointLocked()
}

// checkpointLocked takes a checkpoint. The caller must hold the gate exclusively.
func (e *Engine) checkpointLocked() (uint64, error) {
	seq := e.applied.Load()
	if seq == 0 || seq == e.checkpointSeq.Load() {
		return seq, nil
	}

	start := time.Now()
	dir := filepath.Join(e.path, checkpointDir)
	final := filepath.Join(dir, checkpointName(seq))
	tmp := final + checkpointTmpExt

	size, err := e.writeCheckpoint(tmp, seq)
	if err != nil {
		_ = e.fs.Remove(tmp)
		return 0, fmt.Errorf("failed to write checkpoint %d: %w", seq, err)
	}
	if err := e.fs.Rename(tmp, final); err != nil {
		_ = e.fs.Remove(tmp)
		return 0, fmt.Errorf("failed to publish checkpoint %d: %w", seq, err)
	}
	if err := wal.SyncDir(e.fs, dir); err != nil {
		return 0, fmt.Errorf("failed to sync checkpoint directory: %w", err)
	}

	e.checkpointSeq.Store(seq)
	e.sinceCheckpoint.Store(0)
	e.stats.checkpointed(time.Since(start))

	removed, err := e.pruneCheckpoints()
	if err != nil {
		Logger.Warningf("failed to remove old checkpoints: %v", err)
	}

	Logger.Infof("checkpoint %d written (%s, %s), removed %d log segments", seq, humanize.Bytes(uint64(size)), time.Since(start), removed)
	return seq, nil
}

// writeCheckpoint writes the checkpoint file and syncs it
func (e *Engine) writeCheckpoint(path string, seq uint64) (int64, error) {
	f, err := e.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var snaps []snapshot
	for _, name := range e.Collections() {
		st := e.lookup(name)
		if st == nil {
			continue
		}
		var buf bytes.Buffer
		if err := st.docs.Save(&buf); err != nil {
			return 0, fmt.Errorf("failed to save collection %q: %w", name, err)
		}
		snaps = append(snaps, snapshot{name: name, data: buf.Bytes()})
	}

	crc := crc32.New(crcTable)
	cw := &countingWriter{w: io.MultiWriter(f, crc)}

	if err := encodeCheckpoint(cw, seq, snaps); err != nil {
		return 0, err
	}
	if err := binary.Write(f, binary.LittleEndian, crc.Sum32()); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	return cw.n + 4, f.Close()
}

func encodeCheckpoint(w io.Writer, seq uint64, snaps []snapshot) error {
	if _, err := io.WriteString(w, checkpointMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(checkpointVersion)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, seq); err != nil {
		return err
	}

	sw := snappy.NewBufferedWriter(w)
	if err := binary.Write(sw, binary.LittleEndian, uint32(len(snaps))); err != nil {
		return err
	}
	for _, s := range snaps {
		if err := binary.Write(sw, binary.LittleEndian, uint16(len(s.name))); err != nil {
			return err
		}
		if _, err := io.WriteString(sw, s.name); err != nil {
			return err
		}
		if err := binary.Write(sw, binary.LittleEndian, uint64(len(s.data))); err != nil {
			return err
		}
		if _, err := sw.Write(s.data); err != nil {
			return err
		}
	}
	return sw.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// --------------------------------------------------------------------------
// Reading checkpoints
// --------------------------------------------------------------------------

// decodeCheckpoint verifies a checkpoint file and returns its content
func decodeCheckpoint(data []byte) (uint64, []snapshot, error) {
	if len(data) < checkpointHeaderSize+4 {
		return 0, nil, errors.New("checkpoint file is too short")
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.Checksum(body, crcTable) != binary.LittleEndian.Uint32(trailer) {
		return 0, nil, errors.New("checkpoint checksum mismatch")
	}
	if string(body[:4]) != checkpointMagic {
		return 0, nil, errors.New("invalid checkpoint magic")
	}
	if v := body[4]; v != checkpointVersion {
		return 0, nil, fmt.Errorf("unsupported checkpoint version %d", v)
	}
	seq := binary.LittleEndian.Uint64(body[5:checkpointHeaderSize])

	r := snappy.NewReader(bytes.NewReader(body[checkpointHeaderSize:]))

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return 0, nil, fmt.Errorf("failed to read collection count: %w", err)
	}

	snaps := make([]snapshot, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return 0, nil, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return 0, nil, err
		}
		var snapLen uint64
		if err := binary.Read(r, binary.LittleEndian, &snapLen); err != nil {
			return 0, nil, err
		}
		if snapLen > uint64(len(data))*64 {
			return 0, nil, fmt.Errorf("invalid snapshot length %d for collection %q", snapLen, name)
		}
		snap := make([]byte, snapLen)
		if _, err := io.ReadFull(r, snap); err != nil {
			return 0, nil, err
		}
		snaps = append(snaps, snapshot{name: string(name), data: snap})
	}
	return seq, snaps, nil
}

// listCheckpoints returns the sequence numbers of all checkpoints, oldest first
func listCheckpoints(fs afero.Fs, dir string) ([]uint64, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var seqs []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if seq, ok := parseCheckpointName(entry.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// removeTempCheckpoints removes leftovers of interrupted checkpoints
func removeTempCheckpoints(fs afero.Fs, dir string) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), checkpointTmpExt) {
			if err := fs.Remove(filepath.Join(dir, entry.Name())); err == nil {
				Logger.Warningf("removed incomplete checkpoint %s", entry.Name())
			}
		}
	}
}

// pruneCheckpoints keeps the newest checkpoints and removes the log
// segments the oldest kept checkpoint no longer needs
func (e *Engine) pruneCheckpoints() (int, error) {
	dir := filepath.Join(e.path, checkpointDir)
	seqs, err := listCheckpoints(e.fs, dir)
	if err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, nil
	}

	if n := len(seqs) - e.opts.KeepCheckpoints; n > 0 {
		for _, seq := range seqs[:n] {
			if err := e.fs.Remove(filepath.Join(dir, checkpointName(seq))); err != nil && !os.IsNotExist(err) {
				return 0, err
			}
		}
		seqs = seqs[n:]
	}

	return e.log.TruncateBefore(seqs[0] + 1)
}

// --------------------------------------------------------------------------
// Background checkpoints
// --------------------------------------------------------------------------

// afterCommit counts a committed record and triggers a checkpoint when
// enough records were written since the last one
func (e *Engine) afterCommit() {
	n := e.sinceCheckpoint.Add(1)
	if e.opts.CheckpointEvery > 0 && n >= e.opts.CheckpointEvery {
		select {
		case e.checkpoints <- struct{}{}:
		default:
		}
	}
}

// checkpointer takes checkpoints in the background until the engine is closed
func (e *Engine) checkpointer() {
	defer e.wg.Done()

	var tick <-chan time.Time
	if e.opts.CheckpointInterval > 0 {
		ticker := time.NewTicker(e.opts.CheckpointInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-e.stop:
			return
		case <-tick:
		case <-e.checkpoints:
		}

		if e.applied.Load() == e.checkpointSeq.Load() {
			continue
		}
		if _, err := e.Checkpoint(); err != nil {
			switch {
			case errors.Is(err, ErrFsyncLocked):
				Logger.Debugf("skipping checkpoint, engine is fsync locked")
			case errors.Is(err, ErrClosed):
				return
			default:
				Logger.Errorf("background checkpoint failed: %v", err)
			}
		}
	}
}
