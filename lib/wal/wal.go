package wal

import (
	"bufio"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db/util"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/afero"
)

var Logger = logger.GetLogger("wal")

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures a log
type Options struct {
	// MaxSegmentSize is the size in bytes after which a new segment is started
	MaxSegmentSize int64
	// BufferSize is the size of the write buffer in front of the active segment
	BufferSize int
}

// DefaultOptions returns the default log options
func DefaultOptions() *Options {
	return &Options{
		MaxSegmentSize: 64 << 20,
		BufferSize:     256 << 10,
	}
}

func (o *Options) withDefaults() *Options {
	def := DefaultOptions()
	if o == nil {
		return def
	}
	res := *o
	if res.MaxSegmentSize <= 0 {
		res.MaxSegmentSize = def.MaxSegmentSize
	}
	if res.BufferSize <= 0 {
		res.BufferSize = def.BufferSize
	}
	return &res
}

// --------------------------------------------------------------------------
// WAL
// --------------------------------------------------------------------------

// syncRequest is queued by an appender and answered by the flusher
type syncRequest struct {
	seq  uint64
	done chan error
}

// WAL is a segmented, checksummed, append-only log.
//
// Every record gets a gapless sequence number. Append returns only after the
// record has been flushed and fsynced. Concurrent appenders share fsyncs: a
// single flusher goroutine drains all pending sync requests and answers them
// with one flush.
//
// Thread-safety: all methods are safe for concurrent use.
type WAL struct {
	fs   afero.Fs
	dir  string
	opts *Options

	mu       sync.Mutex
	segments []segment // ordered, the last one is active
	file     afero.File
	buf      *bufio.Writer
	size     int64 // bytes written to the active segment (incl. buffered)
	firstSeq uint64
	lastSeq  uint64

	syncedSeq    uint64
	syncedOffset int64
	failed       error
	closed       bool

	truncated int64

	queue    *util.LockFreeMPSC[syncRequest]
	inflight sync.WaitGroup
	flusher  sync.WaitGroup

	stats *logStats
}

// Open opens the log in dir, creating it if necessary.
//
// A damaged frame at the end of the final segment is treated as a torn write
// and cut off. Any other damage is reported as a *CorruptionError.
func Open(fs afero.Fs, dir string, opts *Options) (*WAL, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &WAL{
		fs:    fs,
		dir:   dir,
		opts:  opts.withDefaults(),
		stats: newLogStats(),
	}

	segs, err := listSegments(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list log segments: %w", err)
	}

	if err := w.scan(segs); err != nil {
		return nil, err
	}

	if len(segs) == 0 {
		segs = append(segs, segment{firstSeq: 1, path: filepath.Join(dir, segmentName(1))})
	}
	w.segments = segs
	if w.lastSeq == 0 {
		// an empty log continues at the name of its segment
		w.lastSeq = segs[len(segs)-1].firstSeq - 1
	}

	active := segs[len(segs)-1]
	f, size, err := openSegment(fs, active.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open active segment: %w", err)
	}
	if err := syncDir(fs, dir); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to sync log directory: %w", err)
	}

	w.file = f
	w.buf = bufio.NewWriterSize(f, w.opts.BufferSize)
	w.size = size
	w.syncedSeq = w.lastSeq
	w.syncedOffset = size

	w.queue = util.NewLockFreeMPSC[syncRequest]()
	w.flusher.Add(1)
	go w.flushLoop()

	Logger.Infof("opened log %s (%d segments, records %d..%d)", dir, len(segs), w.FirstSeq(), w.lastSeq)
	return w, nil
}

// scan validates all segments, repairs a torn tail and establishes the
// first and last sequence numbers
func (w *WAL) scan(segs []segment) error {
	var expected uint64 // next expected sequence number, 0 = any

	for i, seg := range segs {
		last := i == len(segs)-1

		data, err := afero.ReadFile(w.fs, seg.path)
		if err != nil {
			return fmt.Errorf("failed to read segment %s: %w", seg.path, err)
		}

		if expected != 0 && seg.firstSeq != expected {
			return &CorruptionError{Segment: seg.path, Offset: 0, Reason: fmt.Sprintf("segment starts at %d, expected %d", seg.firstSeq, expected)}
		}

		off := 0
		for off < len(data) {
			rec, n, err := decodeFrame(data[off:])
			if err != nil {
				if !last {
					return &CorruptionError{Segment: seg.path, Offset: int64(off), Reason: err.Error()}
				}
				if later, at := findIntactFrame(data, off+1); at >= 0 && later.Seq > w.lastSeq {
					return &CorruptionError{
						Segment: seg.path,
						Offset:  int64(off),
						Reason:  fmt.Sprintf("%v, followed by intact record %d at offset %d", err, later.Seq, at),
					}
				}
				if err := w.truncateTail(seg.path, int64(off), int64(len(data))); err != nil {
					return err
				}
				break
			}

			want := expected
			if want == 0 {
				want = seg.firstSeq
			}
			if rec.Seq != want {
				return &CorruptionError{Segment: seg.path, Offset: int64(off), Reason: fmt.Sprintf("sequence gap: found %d, expected %d", rec.Seq, want)}
			}

			if w.firstSeq == 0 {
				w.firstSeq = rec.Seq
			}
			w.lastSeq = rec.Seq
			expected = rec.Seq + 1
			off += n
		}

		if expected == 0 {
			expected = seg.firstSeq
		}
	}

	return nil
}

// truncateTail cuts a torn write off the final segment
func (w *WAL) truncateTail(path string, at, size int64) error {
	f, err := w.fs.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open segment for tail repair: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(at); err != nil {
		return fmt.Errorf("failed to truncate torn tail: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync repaired segment: %w", err)
	}

	w.truncated += size - at
	Logger.Warningf("discarded torn tail of %s at offset %d (%s)", filepath.Base(path), at, humanize.Bytes(uint64(size-at)))
	return nil
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// Append adds a record to the log and blocks until it is durable.
// It returns the sequence number assigned to the record.
//
// After a *DurabilityError the log is failed and every further Append
// returns the same error.
func (w *WAL) Append(kind Kind, collection string, payload []byte) (uint64, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, ErrClosed
	}
	if w.failed != nil {
		w.mu.Unlock()
		return 0, w.failed
	}

	seq := w.lastSeq + 1
	frame, err := encodeFrame(Record{Seq: seq, Kind: kind, Collection: collection, Payload: payload})
	if err != nil {
		w.mu.Unlock()
		return 0, err
	}

	if w.size > 0 && w.size+int64(len(frame)) > w.opts.MaxSegmentSize {
		if err := w.rotate(seq); err != nil {
			w.mu.Unlock()
			return 0, err
		}
	}

	if _, err := w.buf.Write(frame); err != nil {
		err = w.fail("write", err)
		w.mu.Unlock()
		return 0, err
	}
	w.size += int64(len(frame))
	w.lastSeq = seq
	if w.firstSeq == 0 {
		w.firstSeq = seq
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	w.stats.appended(len(frame))

	req := &syncRequest{seq: seq, done: make(chan error, 1)}
	if !w.queue.Push(req) {
		return seq, w.sync(seq)
	}
	if err := <-req.done; err != nil {
		return 0, err
	}
	return seq, nil
}

// rotate closes the active segment and starts a new one with the given
// first sequence number. Must be called with w.mu held.
func (w *WAL) rotate(firstSeq uint64) error {
	if err := w.flushAndSyncLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return w.fail("close segment", err)
	}

	seg := segment{firstSeq: firstSeq, path: filepath.Join(w.dir, segmentName(firstSeq))}
	f, size, err := openSegment(w.fs, seg.path)
	if err != nil {
		return w.fail("create segment", err)
	}
	if err := syncDir(w.fs, w.dir); err != nil {
		_ = f.Close()
		return w.fail("sync directory", err)
	}

	w.segments = append(w.segments, seg)
	w.file = f
	w.buf.Reset(f)
	w.size = size
	w.syncedOffset = size

	Logger.Debugf("rotated log to segment %s", seg.path)
	return nil
}

// Sync flushes and fsyncs everything appended so far
func (w *WAL) Sync() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	upTo := w.lastSeq
	w.mu.Unlock()
	return w.sync(upTo)
}

// sync makes every record up to seq durable
func (w *WAL) sync(upTo uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed != nil {
		return w.failed
	}
	if w.syncedSeq >= upTo {
		return nil
	}
	return w.flushAndSyncLocked()
}

// flushAndSyncLocked writes the buffer to the active segment and fsyncs it.
// Must be called with w.mu held.
func (w *WAL) flushAndSyncLocked() error {
	if w.failed != nil {
		return w.failed
	}

	start := time.Now()
	if err := w.buf.Flush(); err != nil {
		return w.fail("flush", err)
	}
	if err := w.file.Sync(); err != nil {
		return w.fail("fsync", err)
	}
	w.stats.synced(time.Since(start))

	w.syncedSeq = w.lastSeq
	w.syncedOffset = w.size
	return nil
}

// fail marks the log as failed. Records that are not known to be durable are
// cut off the active segment on a best effort basis.
// Must be called with w.mu held.
func (w *WAL) fail(op string, err error) error {
	derr := &DurabilityError{Op: op, Err: err}
	w.failed = derr

	if terr := w.file.Truncate(w.syncedOffset); terr != nil {
		Logger.Warningf("failed to discard unsynced records after %s failure: %v", op, terr)
	}
	w.buf.Reset(w.file)
	w.size = w.syncedOffset
	w.lastSeq = w.syncedSeq

	Logger.Errorf("log failed during %s: %v", op, err)
	return derr
}

// flushLoop is the single consumer of sync requests
func (w *WAL) flushLoop() {
	defer w.flusher.Done()

	recv := w.queue.Recv()
	for req := range recv {
		batch := []*syncRequest{req}
		upTo := req.seq

	drain:
		for {
			select {
			case r, ok := <-recv:
				if !ok {
					break drain
				}
				batch = append(batch, r)
				if r.seq > upTo {
					upTo = r.seq
				}
			default:
				break drain
			}
		}

		err := w.sync(upTo)
		w.stats.batch(len(batch))
		for _, r := range batch {
			r.done <- err
		}
	}
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// ReadFrom returns an iterator over all records with a sequence number of at
// least from. The iterator covers the records appended before ReadFrom was
// called. It can be ranged over any number of times.
func (w *WAL) ReadFrom(from uint64) iter.Seq2[Record, error] {
	w.mu.Lock()
	segs := make([]segment, len(w.segments))
	copy(segs, w.segments)
	activeSize := w.size
	var flushErr error
	if w.closed {
		flushErr = ErrClosed
	} else if w.failed == nil {
		if err := w.buf.Flush(); err != nil {
			flushErr = w.fail("flush", err)
		}
	}
	w.mu.Unlock()

	return func(yield func(Record, error) bool) {
		if flushErr != nil {
			yield(Record{}, flushErr)
			return
		}

		for i, seg := range segs {
			if i+1 < len(segs) && segs[i+1].firstSeq <= from {
				continue
			}

			data, err := afero.ReadFile(w.fs, seg.path)
			if err != nil {
				yield(Record{}, fmt.Errorf("failed to read segment %s: %w", seg.path, err))
				return
			}
			if i == len(segs)-1 && int64(len(data)) > activeSize {
				data = data[:activeSize]
			}

			for off := 0; off < len(data); {
				rec, n, err := decodeFrame(data[off:])
				if err != nil {
					yield(Record{}, &CorruptionError{Segment: seg.path, Offset: int64(off), Reason: err.Error()})
					return
				}
				off += n
				if rec.Seq < from {
					continue
				}
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// --------------------------------------------------------------------------
// Maintenance
// --------------------------------------------------------------------------

// TruncateBefore removes all segments whose records all have a sequence
// number lower than seq. The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}

	removed := 0
	for len(w.segments) > 1 && w.segments[1].firstSeq <= seq {
		if err := w.fs.Remove(w.segments[0].path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove segment %s: %w", w.segments[0].path, err)
		}
		w.segments = w.segments[1:]
		removed++
	}

	if removed > 0 {
		w.firstSeq = w.segments[0].firstSeq
		if err := syncDir(w.fs, w.dir); err != nil {
			return removed, fmt.Errorf("failed to sync log directory: %w", err)
		}
		Logger.Infof("removed %d log segments before record %d", removed, seq)
	}
	return removed, nil
}

// SkipTo moves the sequence counter of an empty log so that the next record
// gets sequence number next. It is used when the log was removed behind a
// checkpoint.
func (w *WAL) SkipTo(next uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if w.lastSeq != 0 || w.size != 0 || len(w.segments) != 1 {
		return errors.New("wal: SkipTo on a non-empty log")
	}
	if next <= 1 {
		return nil
	}

	old := w.segments[0]
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := w.fs.Remove(old.path); err != nil && !os.IsNotExist(err) {
		return err
	}

	seg := segment{firstSeq: next, path: filepath.Join(w.dir, segmentName(next))}
	f, size, err := openSegment(w.fs, seg.path)
	if err != nil {
		return err
	}
	if err := syncDir(w.fs, w.dir); err != nil {
		_ = f.Close()
		return err
	}

	w.segments = []segment{seg}
	w.file = f
	w.buf.Reset(f)
	w.size = size
	w.syncedOffset = size
	w.lastSeq = next - 1
	w.syncedSeq = next - 1
	return nil
}

// FirstSeq returns the sequence number of the oldest record in the log, or 0
// if the log holds no records
func (w *WAL) FirstSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstSeq
}

// LastSeq returns the sequence number of the newest record, or 0
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// Err returns the durability failure of the log, if any
func (w *WAL) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// Close flushes outstanding records and closes the log.
// Appends that are still waiting for their fsync are answered first.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.closed = true
	w.mu.Unlock()

	w.inflight.Wait()
	w.queue.Close()
	w.flusher.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.failed == nil {
		err = w.flushAndSyncLocked()
	}
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	w.stats.stop()

	Logger.Infof("closed log %s at record %d", w.dir, w.lastSeq)
	return err
}
