package engine

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple"
	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/index"
	"github.com/ValentinKolb/dDoc/lib/wal"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/spf13/afero"
)

var Logger = logger.GetLogger("engine")

const (
	walDir        = "wal"
	checkpointDir = "checkpoints"
	lockFile      = "LOCK"

	maxCollectionName = 255
)

// --------------------------------------------------------------------------
// Collections
// --------------------------------------------------------------------------

// collState is the content of an existing collection
type collState struct {
	docs db.DocDB
}

// collection is the catalog entry of a collection name. The entry may exist
// without the collection existing (state == nil), e.g. after a drop or a
// rejected implicit creation.
type collection struct {
	name  string
	mu    sync.Mutex // critical section of all writes to this collection
	state atomic.Pointer[collState]
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine is a write-ahead-logged document store.
//
// Every write is validated, appended to the durable log, flushed, and only
// then applied to the in-memory store and acknowledged. On Open the state is
// recovered from the newest checkpoint and the log.
//
// Thread-safety: all methods are safe for concurrent use. Writes to the same
// collection are serialized, writes to different collections run in parallel
// and share log fsyncs.
type Engine struct {
	path string
	opts *Options
	fs   afero.Fs

	log         *wal.WAL
	index       *index.Index
	collections *xsync.MapOf[string, *collection]

	// writers hold gate shared, checkpoints and FsyncLock hold it exclusively
	gate        sync.RWMutex
	fsyncMu     sync.Mutex
	fsyncLocked bool

	applied         atomic.Uint64 // sequence number of the last applied record
	checkpointSeq   atomic.Uint64
	sinceCheckpoint atomic.Uint64

	failure atomic.Pointer[error]
	closed  atomic.Bool

	recoveryState atomic.Int32
	report        RecoveryReport

	unlock      func() error
	checkpoints chan struct{}
	stop        chan struct{}
	wg          sync.WaitGroup

	stats *engineStats
}

// Open opens (or creates) the engine stored at path. Recovery completes
// before Open returns. All errors wrap ErrStartup.
func Open(path string, opts *Options) (*Engine, error) {
	opts = opts.withDefaults()

	e := &Engine{
		path:        path,
		opts:        opts,
		fs:          opts.Fs,
		index:       index.New(),
		collections: xsync.NewMapOf[string, *collection](),
		checkpoints: make(chan struct{}, 1),
		stop:        make(chan struct{}),
		stats:       newEngineStats(),
	}

	if err := e.fs.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create data directory: %w", ErrStartup, err)
	}

	if err := e.lockDir(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	if err := e.recover(); err != nil {
		if e.log != nil {
			_ = e.log.Close()
		}
		_ = e.unlock()
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}

	if opts.CheckpointInterval > 0 || opts.CheckpointEvery > 0 {
		e.wg.Add(1)
		go e.checkpointer()
	}

	Logger.Infof("opened engine at %s (%d collections, last record %d)", path, len(e.Collections()), e.applied.Load())
	return e, nil
}

// lockDir makes sure only one engine uses the data directory
func (e *Engine) lockDir() error {
	path := filepath.Join(e.path, lockFile)

	if _, ok := e.fs.(*afero.OsFs); ok {
		unlock, err := flockFile(path)
		if err != nil {
			return err
		}
		e.unlock = unlock
		return nil
	}

	f, err := e.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	e.unlock = f.Close
	return nil
}

// Close stops background checkpoints, takes a final checkpoint if configured,
// flushes and closes the log and releases the data directory.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	e.fsyncMu.Lock()
	if e.fsyncLocked {
		e.fsyncLocked = false
		e.gate.Unlock()
	}
	e.fsyncMu.Unlock()

	close(e.stop)
	e.wg.Wait()

	e.gate.Lock()
	defer e.gate.Unlock()

	var errs []error
	if e.opts.CheckpointOnClose && e.failed() == nil && e.applied.Load() > e.checkpointSeq.Load() {
		if _, err := e.checkpointLocked(); err != nil {
			errs = append(errs, fmt.Errorf("final checkpoint failed: %w", err))
		}
	}

	if err := e.log.Close(); err != nil {
		errs = append(errs, err)
	}

	e.collections.Range(func(_ string, c *collection) bool {
		if st := c.state.Load(); st != nil {
			_ = st.docs.Close()
		}
		return true
	})

	if err := e.unlock(); err != nil {
		errs = append(errs, err)
	}
	e.stats.stop()

	Logger.Infof("closed engine at %s (last record %d)", e.path, e.applied.Load())
	return errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Failure state
// --------------------------------------------------------------------------

// failed returns the error that put the engine into the failed state
func (e *Engine) failed() error {
	if p := e.failure.Load(); p != nil {
		return fmt.Errorf("%w: %w", ErrEngineFailed, *p)
	}
	return nil
}

func (e *Engine) setFailed(err error) {
	if e.failure.CompareAndSwap(nil, &err) {
		Logger.Errorf("engine at %s failed, refusing further writes: %v", e.path, err)
	}
}

// beginWrite enters the write gate. The returned function leaves it.
func (e *Engine) beginWrite() (func(), error) {
	e.gate.RLock()
	if e.closed.Load() {
		e.gate.RUnlock()
		return nil, ErrClosed
	}
	if err := e.failed(); err != nil {
		e.gate.RUnlock()
		return nil, err
	}
	return e.gate.RUnlock, nil
}

// --------------------------------------------------------------------------
// Catalog
// --------------------------------------------------------------------------

// validCollectionName checks a collection name
func validCollectionName(name string) error {
	switch {
	case name == "":
		return rejectf(CodeMalformed, "collection name must not be empty")
	case len(name) > maxCollectionName:
		return rejectf(CodeMalformed, "collection name is longer than %d bytes", maxCollectionName)
	case strings.ContainsAny(name, "\x00$"):
		return rejectf(CodeMalformed, "collection name %q contains an invalid character", name)
	case strings.HasPrefix(name, ".") || strings.HasSuffix(name, "."):
		return rejectf(CodeMalformed, "collection name %q must not start or end with '.'", name)
	}
	return nil
}

// catalogEntry returns the catalog entry of name, creating it if needed
func (e *Engine) catalogEntry(name string) *collection {
	c, _ := e.collections.LoadOrCompute(name, func() *collection {
		return &collection{name: name}
	})
	return c
}

// lookup returns the state of an existing collection or nil
func (e *Engine) lookup(name string) *collState {
	c, ok := e.collections.Load(name)
	if !ok {
		return nil
	}
	return c.state.Load()
}

func (e *Engine) newState() *collState {
	return &collState{docs: maple.NewMapleDB(&maple.DBOptions{NumShards: e.opts.NumShards})}
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Count returns the number of documents in a collection (0 if it does not exist)
func (e *Engine) Count(collection string) int {
	st := e.lookup(collection)
	if st == nil {
		return 0
	}
	return st.docs.Count()
}

// Get returns the document with the given _id
func (e *Engine) Get(collection string, id any) (doc.Document, error) {
	key, err := idKey(id)
	if err != nil {
		return doc.Document{}, err
	}

	st := e.lookup(collection)
	if st == nil {
		return doc.Document{}, rejectf(CodeNotFound, "collection %q does not exist", collection)
	}

	data, ok := st.docs.Get(key)
	if !ok {
		return doc.Document{}, rejectf(CodeNotFound, "no document with _id %s in %q", key, collection)
	}

	var d doc.Document
	if err := d.UnmarshalJSON(data); err != nil {
		return doc.Document{}, fmt.Errorf("stored document is unreadable: %w", err)
	}
	return d, nil
}

// Scan returns the documents of a collection in the order they were last
// written. The iterator works on a snapshot taken when iteration starts.
func (e *Engine) Scan(collection string) iter.Seq[doc.Document] {
	return func(yield func(doc.Document) bool) {
		st := e.lookup(collection)
		if st == nil {
			return
		}

		type item struct {
			value []byte
			idx   uint64
		}
		var items []item
		st.docs.Range(func(_ string, value []byte, idx uint64) bool {
			items = append(items, item{value, idx})
			return true
		})
		sort.Slice(items, func(i, j int) bool { return items[i].idx < items[j].idx })

		for _, it := range items {
			var d doc.Document
			if err := d.UnmarshalJSON(it.value); err != nil {
				Logger.Errorf("skipping unreadable document in %q: %v", collection, err)
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Collections returns the names of all existing collections, sorted
func (e *Engine) Collections() []string {
	var names []string
	e.collections.Range(func(name string, c *collection) bool {
		if c.state.Load() != nil {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names
}

// LastSeq returns the sequence number of the last applied log record
func (e *Engine) LastSeq() uint64 {
	return e.applied.Load()
}

// --------------------------------------------------------------------------
// Info
// --------------------------------------------------------------------------

// CollectionInfo describes a single collection
type CollectionInfo struct {
	Name  string          `json:"name"`
	Count int             `json:"count"`
	Store db.DatabaseInfo `json:"store"`
}

// Info is a point in time view of the engine
type Info struct {
	Path          string           `json:"path"`
	Collections   []CollectionInfo `json:"collections"`
	AppliedSeq    uint64           `json:"applied_seq"`
	CheckpointSeq uint64           `json:"checkpoint_seq"`
	Recovery      RecoveryReport   `json:"recovery"`
	Log           wal.Stats        `json:"log"`
	Writes        int64            `json:"writes"`
	Rejections    int64            `json:"rejections"`
	WriteRate1m   float64          `json:"write_rate_1m"`
	Checkpoints   int64            `json:"checkpoints"`
	FsyncLocked   bool             `json:"fsync_locked"`
	Failed        string           `json:"failed,omitempty"`
	Time          time.Time        `json:"time"`
}

// Info returns statistics about the engine
func (e *Engine) Info() Info {
	info := Info{
		Path:          e.path,
		AppliedSeq:    e.applied.Load(),
		CheckpointSeq: e.checkpointSeq.Load(),
		Recovery:      e.RecoveryReport(),
		Log:           e.log.Stats(),
		Writes:        e.stats.writes.Count(),
		Rejections:    e.stats.rejections.Count(),
		WriteRate1m:   e.stats.writes.Rate1(),
		Checkpoints:   e.stats.checkpoints.Count(),
		Time:          time.Now(),
	}

	for _, name := range e.Collections() {
		if st := e.lookup(name); st != nil {
			info.Collections = append(info.Collections, CollectionInfo{
				Name:  name,
				Count: st.docs.Count(),
				Store: st.docs.GetInfo(),
			})
		}
	}

	e.fsyncMu.Lock()
	info.FsyncLocked = e.fsyncLocked
	e.fsyncMu.Unlock()

	if err := e.failed(); err != nil {
		info.Failed = err.Error()
	}
	return info
}
