package store

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/doc"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the generic interface for interacting with a document store.
// Per document rejections (duplicate key, malformed document, ...) are
// reported in the WriteResult. The returned error is only set if the
// operation could not be executed at all and is always a *Error.
type IStore interface {
	// Insert adds documents to a collection. Documents without _id get a
	// generated ObjectID. A missing collection is created.
	Insert(collection string, docs ...doc.Document) (res WriteResult, err error)
	// Update replaces the document with the same _id.
	Update(collection string, d doc.Document) (res WriteResult, err error)
	// Delete removes the document with the given _id.
	Delete(collection string, id any) (res WriteResult, err error)
	// Get returns the document with the given _id. The boolean return value indicates whether it was found.
	Get(collection string, id any) (d doc.Document, found bool, err error)
	// Count returns the number of documents in a collection.
	Count(collection string) (n uint64, err error)
	// Drop removes a collection. It reports whether the collection existed.
	Drop(collection string) (dropped bool, err error)
	// Fsync flushes all writes to disk. With lock set, writes are blocked
	// until FsyncUnlock is called.
	Fsync(lock bool) (err error)
	// FsyncUnlock releases the lock taken by Fsync(true).
	FsyncUnlock() (err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Write Results
// --------------------------------------------------------------------------

// WriteError describes a rejected document of a write
type WriteError struct {
	Index int     `json:"index"` // position of the document in the request
	Code  RetCode `json:"code"`
	Msg   string  `json:"msg"`
}

// WriteResult is the result of a write operation
type WriteResult struct {
	N           int          `json:"n"`            // number of written documents
	InsertedIDs []any        `json:"inserted_ids"` // _id of every submitted document (inserts only)
	Errors      []WriteError `json:"errors,omitempty"`
}

// LastError returns the last rejection of the write, or nil
func (r WriteResult) LastError() *Error {
	if len(r.Errors) == 0 {
		return nil
	}
	last := r.Errors[len(r.Errors)-1]
	return NewError(last.Code, last.Msg)
}

// Ok reports whether every document was written
func (r WriteResult) Ok() bool {
	return len(r.Errors) == 0
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Is matches errors with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

// RetCode returns the return code as a plain integer for the wire
func (e *Error) RetCode() uint64 {
	return uint64(e.Code)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// ErrorFromWire rebuilds an Error from its return code and error text, as
// sent by a remote store
func ErrorFromWire(code uint64, text string) *Error {
	c := RetCode(code)
	return NewError(c, strings.TrimPrefix(text, fmt.Sprintf("StoreError (code %s): ", c)))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCDuplicateKey                        // 4: A document with the same _id exists.
	RetCMalformed                           // 5: The document or request is malformed.
	RetCAborted                             // 6: The document was valid but its batch was rolled back.
	RetCNotFound                            // 7: The document or collection does not exist.
	RetCDurability                          // 8: The write could not be made durable, the store refuses writes.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCDuplicateKey:
		return "DuplicateKey"
	case RetCMalformed:
		return "Malformed"
	case RetCAborted:
		return "Aborted"
	case RetCNotFound:
		return "NotFound"
	case RetCDurability:
		return "Durability"
	default:
		return "Unknown"
	}
}
