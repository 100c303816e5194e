package internal

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (document with metadata)
// --------------------------------------------------------------------------

// Entry stores an encoded document with metadata
type Entry struct {
	Value []byte // Encoded document
	Index uint64 // Write index of the record that created/updated this entry
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry{Index: %d, Value: %d bytes}", e.Index, len(e.Value))
}

// IsStale returns whether a write with the given index must be ignored
func (e Entry) IsStale(writeIdx uint64) bool {
	return writeIdx < e.Index
}

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database
// Each shard has its own independent map
type Shard struct {
	Data *xsync.MapOf[string, Entry] // Map of canonical key -> entry
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// GetShard returns the appropriate shard for a given key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// Shift right by 7 bits to use higher-quality bits for distribution
	shiftedKey := uint64(key) >> 7
	shardPos := shiftedKey % uint64(len(shards))
	return shards[shardPos]
}
