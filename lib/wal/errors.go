package wal

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed log
	ErrClosed = errors.New("wal: log is closed")

	// ErrCorrupt is wrapped by every CorruptionError
	ErrCorrupt = errors.New("wal: log is corrupt")

	// ErrDurability is wrapped by every DurabilityError
	ErrDurability = errors.New("wal: durability failure")

	// ErrInvalidRecord is returned by Append for records that can not be
	// framed. Nothing is written and the log stays usable.
	ErrInvalidRecord = errors.New("wal: invalid record")
)

// CorruptionError describes damage in the log that is not a torn tail
type CorruptionError struct {
	Segment string
	Offset  int64
	Reason  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corrupt log in segment %s at offset %d: %s", e.Segment, e.Offset, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorrupt
}

// DurabilityError is returned when a record could not be made durable.
// Once a log returned a DurabilityError it refuses all further appends.
type DurabilityError struct {
	Op  string
	Err error
}

func (e *DurabilityError) Error() string {
	return fmt.Sprintf("wal: %s failed: %v", e.Op, e.Err)
}

func (e *DurabilityError) Unwrap() []error {
	return []error{ErrDurability, e.Err}
}
