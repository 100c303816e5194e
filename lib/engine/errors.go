package engine

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/wal"
)

// --------------------------------------------------------------------------
// Sentinel errors
// --------------------------------------------------------------------------

var (
	// Validation outcomes, see ValidationError
	ErrDuplicateKey = errors.New("duplicate key")
	ErrMalformed    = errors.New("malformed document")
	ErrAborted      = errors.New("aborted")
	ErrNotFound     = errors.New("not found")

	// ErrDurability is wrapped by errors of writes that could not be made durable
	ErrDurability = wal.ErrDurability

	// ErrEngineFailed is returned by every write after a durability failure
	ErrEngineFailed = errors.New("engine failed")

	ErrClosed      = errors.New("engine is closed")
	ErrFsyncLocked = errors.New("engine is already fsync locked")
	ErrNotLocked   = errors.New("engine is not fsync locked")

	// ErrStartup is wrapped by every error returned from Open
	ErrStartup = errors.New("engine startup failed")
)

// --------------------------------------------------------------------------
// Validation errors
// --------------------------------------------------------------------------

// Code classifies why a single write was rejected
type Code int

const (
	CodeDuplicateKey Code = iota + 1
	CodeMalformed
	CodeAborted
	CodeNotFound
)

func (c Code) String() string {
	switch c {
	case CodeDuplicateKey:
		return "DuplicateKey"
	case CodeMalformed:
		return "Malformed"
	case CodeAborted:
		return "Aborted"
	case CodeNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

func (c Code) sentinel() error {
	switch c {
	case CodeDuplicateKey:
		return ErrDuplicateKey
	case CodeMalformed:
		return ErrMalformed
	case CodeAborted:
		return ErrAborted
	case CodeNotFound:
		return ErrNotFound
	default:
		panic(fmt.Sprintf("unknown validation code %d", c))
	}
}

// ValidationError rejects a single write. Nothing was logged and no state
// changed. It matches the sentinel of its code with errors.Is.
type ValidationError struct {
	Code Code
	Msg  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == e.Code.sentinel()
}

func rejectf(code Code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// CodeOf returns the validation code of err, or 0 if err is no ValidationError
func CodeOf(err error) Code {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return 0
}
