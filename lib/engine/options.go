package engine

import (
	"time"

	"github.com/ValentinKolb/dDoc/lib/wal"
	"github.com/spf13/afero"
)

// Options configures an engine
type Options struct {
	// Fs is the file system the engine stores its data on (default: OS file system)
	Fs afero.Fs

	// MaxSegmentSize is the size of a log segment in bytes (0 = log default)
	MaxSegmentSize int64

	// CheckpointInterval takes a checkpoint periodically (0 = disabled)
	CheckpointInterval time.Duration
	// CheckpointEvery takes a checkpoint after this many log records (0 = disabled)
	CheckpointEvery uint64
	// CheckpointOnClose takes a checkpoint when the engine is closed
	CheckpointOnClose bool
	// KeepCheckpoints is the number of checkpoints kept on disk (minimum 1)
	KeepCheckpoints int

	// NumShards of every collection store (0 = number of CPUs)
	NumShards int
	// MaxDocumentSize is the largest accepted encoded document in bytes
	// (capped at wal.MaxPayloadSize)
	MaxDocumentSize int
}

// DefaultOptions returns the default engine options
func DefaultOptions() *Options {
	return &Options{
		Fs:                afero.NewOsFs(),
		CheckpointOnClose: true,
		KeepCheckpoints:   2,
		MaxDocumentSize:   16 << 20,
	}
}

func (o *Options) withDefaults() *Options {
	def := DefaultOptions()
	if o == nil {
		return def
	}
	res := *o
	if res.Fs == nil {
		res.Fs = def.Fs
	}
	if res.KeepCheckpoints < 1 {
		res.KeepCheckpoints = def.KeepCheckpoints
	}
	if res.MaxDocumentSize <= 0 {
		res.MaxDocumentSize = def.MaxDocumentSize
	}
	res.MaxDocumentSize = min(res.MaxDocumentSize, wal.MaxPayloadSize)
	return &res
}
