package engine

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/index"
	"github.com/ValentinKolb/dDoc/lib/wal"
)

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// Outcome is the result of a single document of a batch
type Outcome struct {
	ID  any    // _id of the document (generated if it had none)
	Seq uint64 // log sequence number of the write, 0 if nothing was written
	Err error  // nil if the document was committed
}

// WriteError is a failed document of a batch
type WriteError struct {
	Index int
	Err   error
}

// BatchResult holds one outcome per submitted document, in order
type BatchResult struct {
	Outcomes []Outcome
	N        int // number of committed documents
}

// LastError returns the error of the last document of the batch
func (r BatchResult) LastError() error {
	if len(r.Outcomes) == 0 {
		return nil
	}
	return r.Outcomes[len(r.Outcomes)-1].Err
}

// WriteErrors lists all failed documents
func (r BatchResult) WriteErrors() []WriteError {
	var errs []WriteError
	for i, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, WriteError{Index: i, Err: o.Err})
		}
	}
	return errs
}

// OpResult is the result of a committed single document write
type OpResult struct {
	ID  any
	Seq uint64
}

// --------------------------------------------------------------------------
// Validation
// --------------------------------------------------------------------------

// prepared is a validated document, ready to be logged
type prepared struct {
	id      any
	key     string
	payload []byte
}

// prepare checks a document and encodes it. If generateID is set, a
// document without _id gets a new ObjectID.
func (e *Engine) prepare(d doc.Document, generateID bool) (prepared, error) {
	n, err := d.Normalize()
	if err != nil {
		return prepared{}, rejectf(CodeMalformed, "%v", err)
	}

	id, ok := n.ID()
	if !ok {
		if !generateID {
			return prepared{}, rejectf(CodeMalformed, "document has no _id")
		}
		id = doc.NewObjectID()
		n = n.WithID(id)
	}

	key, err := doc.IDKey(n)
	if err != nil {
		return prepared{}, rejectf(CodeMalformed, "%v", err)
	}

	payload, err := n.MarshalJSON()
	if err != nil {
		return prepared{}, rejectf(CodeMalformed, "%v", err)
	}
	if len(payload) > e.opts.MaxDocumentSize {
		return prepared{}, rejectf(CodeMalformed, "document of %d bytes exceeds the maximum of %d bytes", len(payload), e.opts.MaxDocumentSize)
	}

	return prepared{id: id, key: key, payload: payload}, nil
}

// idKey returns the canonical key of an _id value
func idKey(id any) (string, error) {
	v, err := doc.NormalizeValue(id)
	if err != nil {
		return "", rejectf(CodeMalformed, "invalid _id: %v", err)
	}
	if _, isArray := v.([]any); isArray {
		return "", rejectf(CodeMalformed, "_id must not be an array")
	}
	key, err := doc.Key(v)
	if err != nil {
		return "", rejectf(CodeMalformed, "invalid _id: %v", err)
	}
	return key, nil
}

// --------------------------------------------------------------------------
// Commit & Apply
// --------------------------------------------------------------------------

// commit appends a record, waits for it to be durable and applies it.
// Must be called inside the critical section of the collection.
func (e *Engine) commit(kind wal.Kind, collection string, payload []byte) (uint64, error) {
	seq, err := e.log.Append(kind, collection, payload)
	if errors.Is(err, wal.ErrInvalidRecord) {
		e.stats.rejected(1)
		return 0, rejectf(CodeMalformed, "%v", err)
	}
	if err != nil {
		if errors.Is(err, wal.ErrDurability) || errors.Is(err, wal.ErrClosed) {
			e.setFailed(err)
		}
		e.stats.failedWrite()
		return 0, err
	}

	if err := e.apply(wal.Record{Seq: seq, Kind: kind, Collection: collection, Payload: payload}); err != nil {
		e.setFailed(err)
		return seq, err
	}

	e.stats.committed()
	e.afterCommit()
	return seq, nil
}

// apply applies a durable record to the store and the index. It is shared by
// the write path and recovery and performs no validation.
func (e *Engine) apply(rec wal.Record) error {
	c := e.catalogEntry(rec.Collection)

	switch rec.Kind {
	case wal.KindCreate:
		if c.state.Load() == nil {
			c.state.Store(e.newState())
		}

	case wal.KindDrop:
		if st := c.state.Swap(nil); st != nil {
			_ = st.docs.Close()
		}

	case wal.KindInsert, wal.KindUpdate:
		key, err := index.RecordKey(rec)
		if err != nil {
			return err
		}
		st := c.state.Load()
		if st == nil {
			st = e.newState()
			c.state.Store(st)
		}
		st.docs.Put(key, rec.Payload, rec.Seq)

	case wal.KindDelete:
		key, err := index.RecordKey(rec)
		if err != nil {
			return err
		}
		if st := c.state.Load(); st != nil {
			st.docs.Delete(key, rec.Seq)
		}

	default:
		return fmt.Errorf("unknown record kind %d at %d", rec.Kind, rec.Seq)
	}

	if err := e.index.Apply(rec); err != nil {
		return err
	}

	for {
		cur := e.applied.Load()
		if rec.Seq <= cur || e.applied.CompareAndSwap(cur, rec.Seq) {
			break
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Insert
// --------------------------------------------------------------------------

// Insert adds documents to a collection. Every document is validated and
// committed on its own and gets its own outcome. Documents without _id get
// a new ObjectID.
//
// If the collection does not exist yet, the batch also creates it. In that
// case the batch is all or nothing: if any document is rejected, nothing is
// written, the collection is not created and the valid documents are
// reported as Aborted.
//
// The returned error is only set for failures of the engine itself
// (closed, durability failure); per document rejections are in the result.
func (e *Engine) Insert(collection string, docs ...doc.Document) (BatchResult, error) {
	res := BatchResult{Outcomes: make([]Outcome, len(docs))}

	leave, err := e.beginWrite()
	if err != nil {
		return res, err
	}
	defer leave()

	if err := validCollectionName(collection); err != nil {
		for i := range res.Outcomes {
			res.Outcomes[i].Err = err
		}
		e.stats.rejected(len(docs))
		return res, nil
	}

	// an empty batch neither creates the collection nor writes a record
	if len(docs) == 0 {
		return res, nil
	}

	c := e.catalogEntry(collection)
	c.mu.Lock()
	defer c.mu.Unlock()

	preps := make([]prepared, len(docs))
	for i, d := range docs {
		p, err := e.prepare(d, true)
		preps[i] = p
		res.Outcomes[i] = Outcome{ID: p.id, Err: err}
	}

	if c.state.Load() == nil {
		return e.insertCreating(c, preps, res)
	}

	for i, p := range preps {
		if res.Outcomes[i].Err != nil {
			e.stats.rejected(1)
			continue
		}
		if err := e.insertOne(collection, p, &res.Outcomes[i]); err != nil {
			if CodeOf(err) != 0 {
				continue
			}
			e.failRemaining(res.Outcomes[i+1:], err)
			return res, err
		}
		res.N++
	}
	return res, nil
}

// insertOne reserves the key, commits the document and records the outcome
func (e *Engine) insertOne(collection string, p prepared, out *Outcome) error {
	if !e.index.CheckAndReserve(collection, p.key) {
		out.Err = rejectf(CodeDuplicateKey, "duplicate _id %s in %q", p.key, collection)
		e.stats.rejected(1)
		return out.Err
	}

	seq, err := e.commit(wal.KindInsert, collection, p.payload)
	if err != nil {
		if seq == 0 {
			e.index.Remove(collection, p.key)
		}
		out.Err = err
		return err
	}
	out.Seq = seq
	return nil
}

// insertCreating inserts a batch into a collection that does not exist yet
func (e *Engine) insertCreating(c *collection, preps []prepared, res BatchResult) (BatchResult, error) {
	seen := make(map[string]int, len(preps))
	rejected := false
	for i, p := range preps {
		if res.Outcomes[i].Err != nil {
			rejected = true
			continue
		}
		if first, dup := seen[p.key]; dup {
			res.Outcomes[i].Err = rejectf(CodeDuplicateKey, "duplicate _id %s in %q (same as document %d of the batch)", p.key, c.name, first)
			rejected = true
			continue
		}
		seen[p.key] = i
	}

	if rejected {
		for i := range res.Outcomes {
			if res.Outcomes[i].Err == nil {
				res.Outcomes[i].Err = rejectf(CodeAborted, "batch creating %q was rolled back", c.name)
			}
		}
		e.stats.rejected(len(preps))
		return res, nil
	}

	if _, err := e.commit(wal.KindCreate, c.name, nil); err != nil {
		e.failRemaining(res.Outcomes, err)
		return res, err
	}

	for i, p := range preps {
		if err := e.insertOne(c.name, p, &res.Outcomes[i]); err != nil {
			if CodeOf(err) != 0 {
				continue
			}
			e.failRemaining(res.Outcomes[i+1:], err)
			return res, err
		}
		res.N++
	}
	return res, nil
}

// failRemaining marks outcomes that were not attempted because the engine failed
func (e *Engine) failRemaining(outcomes []Outcome, cause error) {
	for i := range outcomes {
		if outcomes[i].Err == nil {
			outcomes[i].Err = fmt.Errorf("%w: %w", ErrEngineFailed, cause)
		}
	}
}

// --------------------------------------------------------------------------
// Update & Delete
// --------------------------------------------------------------------------

// Update replaces the document with the same _id. A missing document is
// reported as NotFound and nothing is written.
func (e *Engine) Update(collection string, d doc.Document) (OpResult, error) {
	leave, err := e.beginWrite()
	if err != nil {
		return OpResult{}, err
	}
	defer leave()

	if err := validCollectionName(collection); err != nil {
		e.stats.rejected(1)
		return OpResult{}, err
	}

	p, err := e.prepare(d, false)
	if err != nil {
		e.stats.rejected(1)
		return OpResult{}, err
	}

	c := e.catalogEntry(collection)
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state.Load()
	if st == nil || !st.docs.Has(p.key) {
		e.stats.rejected(1)
		return OpResult{ID: p.id}, rejectf(CodeNotFound, "no document with _id %s in %q", p.key, collection)
	}

	seq, err := e.commit(wal.KindUpdate, collection, p.payload)
	if err != nil {
		return OpResult{ID: p.id}, err
	}
	return OpResult{ID: p.id, Seq: seq}, nil
}

// Delete removes the document with the given _id. A missing document is
// reported as NotFound and nothing is written.
func (e *Engine) Delete(collection string, id any) (OpResult, error) {
	leave, err := e.beginWrite()
	if err != nil {
		return OpResult{}, err
	}
	defer leave()

	if err := validCollectionName(collection); err != nil {
		e.stats.rejected(1)
		return OpResult{}, err
	}

	key, err := idKey(id)
	if err != nil {
		e.stats.rejected(1)
		return OpResult{}, err
	}
	normalized, _ := doc.NormalizeValue(id)
	payload, err := doc.MarshalValue(normalized)
	if err != nil {
		e.stats.rejected(1)
		return OpResult{}, rejectf(CodeMalformed, "%v", err)
	}

	c := e.catalogEntry(collection)
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state.Load()
	if st == nil || !st.docs.Has(key) {
		e.stats.rejected(1)
		return OpResult{ID: normalized}, rejectf(CodeNotFound, "no document with _id %s in %q", key, collection)
	}

	seq, err := e.commit(wal.KindDelete, collection, payload)
	if err != nil {
		return OpResult{ID: normalized}, err
	}
	return OpResult{ID: normalized, Seq: seq}, nil
}

// --------------------------------------------------------------------------
// Collections
// --------------------------------------------------------------------------

// CreateCollection creates an empty collection. It reports false if the
// collection already existed.
func (e *Engine) CreateCollection(name string) (bool, error) {
	leave, err := e.beginWrite()
	if err != nil {
		return false, err
	}
	defer leave()

	if err := validCollectionName(name); err != nil {
		return false, err
	}

	c := e.catalogEntry(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Load() != nil {
		return false, nil
	}
	if _, err := e.commit(wal.KindCreate, name, nil); err != nil {
		return false, err
	}
	return true, nil
}

// DropCollection removes a collection and all its documents. It reports
// false if the collection did not exist.
func (e *Engine) DropCollection(name string) (bool, error) {
	leave, err := e.beginWrite()
	if err != nil {
		return false, err
	}
	defer leave()

	if err := validCollectionName(name); err != nil {
		return false, err
	}

	c, ok := e.collections.Load(name)
	if !ok {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Load() == nil {
		return false, nil
	}
	if _, err := e.commit(wal.KindDrop, name, nil); err != nil {
		return false, err
	}
	Logger.Infof("dropped collection %q", name)
	return true, nil
}
