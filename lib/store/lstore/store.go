package lstore

import (
	"errors"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/engine"
	"github.com/ValentinKolb/dDoc/lib/store"
)

type storeImpl struct {
	engine *engine.Engine
}

// NewLocalStore creates a new local store backed by an engine.
// The store does not own the engine, closing the engine is up to the caller.
func NewLocalStore(e *engine.Engine) store.IStore {
	return &storeImpl{engine: e}
}

// --------------------------------------------------------------------------
// Error Mapping
// --------------------------------------------------------------------------

// retCode maps an engine error to a return code
func retCode(err error) store.RetCode {
	switch engine.CodeOf(err) {
	case engine.CodeDuplicateKey:
		return store.RetCDuplicateKey
	case engine.CodeMalformed:
		return store.RetCMalformed
	case engine.CodeAborted:
		return store.RetCAborted
	case engine.CodeNotFound:
		return store.RetCNotFound
	}

	switch {
	case err == nil:
		return store.RetCSuccess
	case errors.Is(err, engine.ErrDurability), errors.Is(err, engine.ErrEngineFailed):
		return store.RetCDurability
	case errors.Is(err, engine.ErrFsyncLocked), errors.Is(err, engine.ErrNotLocked), errors.Is(err, engine.ErrClosed):
		return store.RetCInvalidOperation
	default:
		return store.RetCInternalError
	}
}

// toError converts an engine error to a *store.Error, nil stays nil
func toError(err error) error {
	if err == nil {
		return nil
	}
	return store.NewError(retCode(err), err.Error())
}

// rejected turns a single document rejection into a write result
func rejected(err error) store.WriteResult {
	return store.WriteResult{Errors: []store.WriteError{{Index: 0, Code: retCode(err), Msg: err.Error()}}}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Insert(collection string, docs ...doc.Document) (store.WriteResult, error) {
	res, err := s.engine.Insert(collection, docs...)

	wr := store.WriteResult{N: res.N, InsertedIDs: make([]any, len(res.Outcomes))}
	for i, o := range res.Outcomes {
		wr.InsertedIDs[i] = o.ID
		if o.Err != nil {
			wr.Errors = append(wr.Errors, store.WriteError{Index: i, Code: retCode(o.Err), Msg: o.Err.Error()})
		}
	}
	return wr, toError(err)
}

func (s *storeImpl) Update(collection string, d doc.Document) (store.WriteResult, error) {
	if _, err := s.engine.Update(collection, d); err != nil {
		if engine.CodeOf(err) != 0 {
			return rejected(err), nil
		}
		return store.WriteResult{}, toError(err)
	}
	return store.WriteResult{N: 1}, nil
}

func (s *storeImpl) Delete(collection string, id any) (store.WriteResult, error) {
	if _, err := s.engine.Delete(collection, id); err != nil {
		if engine.CodeOf(err) != 0 {
			return rejected(err), nil
		}
		return store.WriteResult{}, toError(err)
	}
	return store.WriteResult{N: 1}, nil
}

func (s *storeImpl) Get(collection string, id any) (doc.Document, bool, error) {
	d, err := s.engine.Get(collection, id)
	switch {
	case err == nil:
		return d, true, nil
	case errors.Is(err, engine.ErrNotFound):
		return doc.Document{}, false, nil
	default:
		return doc.Document{}, false, toError(err)
	}
}

func (s *storeImpl) Count(collection string) (uint64, error) {
	return uint64(s.engine.Count(collection)), nil
}

func (s *storeImpl) Drop(collection string) (bool, error) {
	dropped, err := s.engine.DropCollection(collection)
	return dropped, toError(err)
}

func (s *storeImpl) Fsync(lock bool) error {
	if lock {
		return toError(s.engine.FsyncLock())
	}
	return toError(s.engine.Fsync())
}

func (s *storeImpl) FsyncUnlock() error {
	return toError(s.engine.FsyncUnlock())
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	info := s.engine.Info()

	res := db.DatabaseInfo{
		DbType:   db.ImplMaple,
		Metadata: info,
	}
	for _, c := range info.Collections {
		res.Count += c.Count
		res.SizeBytes += c.Store.SizeBytes
		if res.SupportedFeatures == nil {
			res.SupportedFeatures = c.Store.SupportedFeatures
		}
	}
	return res, nil
}
