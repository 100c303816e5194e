// Package index implements the uniqueness constraint on the _id field.
//
// The index keeps one set of canonical _id keys (see doc.Key) per collection.
// The write engine reserves a key before a document is logged and releases it
// again if the write does not happen. During recovery the index is rebuilt from
// the durable log with the same rules.
package index

import (
	"fmt"
	"iter"

	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/wal"
	"github.com/puzpuzpuz/xsync/v3"
)

// keySet is the set of _id keys of a single collection
type keySet = *xsync.MapOf[string, struct{}]

// Index is a per collection set of unique keys.
//
// Thread-safety: all methods are safe for concurrent use. CheckAndReserve is
// atomic, of two concurrent reservations of the same key exactly one succeeds.
type Index struct {
	collections *xsync.MapOf[string, keySet]
}

// New creates an empty index
func New() *Index {
	return &Index{collections: xsync.NewMapOf[string, keySet]()}
}

func (ix *Index) set(collection string) keySet {
	s, _ := ix.collections.LoadOrCompute(collection, func() keySet {
		return xsync.NewMapOf[string, struct{}]()
	})
	return s
}

// CheckAndReserve adds key to the collection and reports whether it was absent
func (ix *Index) CheckAndReserve(collection, key string) bool {
	_, loaded := ix.set(collection).LoadOrStore(key, struct{}{})
	return !loaded
}

// Remove deletes key from the collection
func (ix *Index) Remove(collection, key string) {
	if s, ok := ix.collections.Load(collection); ok {
		s.Delete(key)
	}
}

// Contains reports whether key is present in the collection
func (ix *Index) Contains(collection, key string) bool {
	s, ok := ix.collections.Load(collection)
	if !ok {
		return false
	}
	_, ok = s.Load(key)
	return ok
}

// Len returns the number of keys in the collection
func (ix *Index) Len(collection string) int {
	s, ok := ix.collections.Load(collection)
	if !ok {
		return 0
	}
	return s.Size()
}

// Drop removes the collection and all its keys
func (ix *Index) Drop(collection string) {
	ix.collections.Delete(collection)
}

// Seed adds keys to the collection without checking for duplicates.
// It is used to load the index from a checkpoint.
func (ix *Index) Seed(collection string, keys iter.Seq[string]) {
	s := ix.set(collection)
	for key := range keys {
		s.Store(key, struct{}{})
	}
}

// Clear removes all collections
func (ix *Index) Clear() {
	ix.collections.Clear()
}

// Rebuild clears the index and replays records in order: inserts add keys,
// deletes remove them, updates keep them, create and drop manage collections.
// Records are not validated.
func (ix *Index) Rebuild(records iter.Seq2[wal.Record, error]) error {
	ix.Clear()
	for rec, err := range records {
		if err != nil {
			return err
		}
		if err := ix.Apply(rec); err != nil {
			return err
		}
	}
	return nil
}

// Apply applies a single log record to the index
func (ix *Index) Apply(rec wal.Record) error {
	switch rec.Kind {
	case wal.KindCreate:
		ix.set(rec.Collection)
	case wal.KindDrop:
		ix.Drop(rec.Collection)
	case wal.KindInsert, wal.KindUpdate, wal.KindDelete:
		key, err := RecordKey(rec)
		if err != nil {
			return err
		}
		if rec.Kind == wal.KindDelete {
			ix.Remove(rec.Collection, key)
		} else {
			ix.set(rec.Collection).Store(key, struct{}{})
		}
	default:
		return fmt.Errorf("unknown record kind %d at %d", rec.Kind, rec.Seq)
	}
	return nil
}

// RecordKey returns the canonical _id key a document record refers to.
// Insert and update records carry a document, delete records the _id value.
func RecordKey(rec wal.Record) (string, error) {
	switch rec.Kind {
	case wal.KindInsert, wal.KindUpdate:
		var d doc.Document
		if err := d.UnmarshalJSON(rec.Payload); err != nil {
			return "", fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		return doc.IDKey(d)
	case wal.KindDelete:
		v, err := doc.ParseValue(rec.Payload)
		if err != nil {
			return "", fmt.Errorf("record %d: %w", rec.Seq, err)
		}
		return doc.Key(v)
	default:
		return "", fmt.Errorf("record %d of kind %s has no key", rec.Seq, rec.Kind)
	}
}
