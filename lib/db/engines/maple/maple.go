package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dDoc/lib/db/util"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for database behavior and structure
const (
	magicNum     = "MAPLEDOC" // File format identifier
	mapleVersion = 1          // Snapshot format version
	maxKeyLen    = 1 << 20    // Upper bound for keys read from a snapshot
	maxValueLen  = 1 << 28    // Upper bound for values read from a snapshot
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements a document store with sharded data
type mapleImpl struct {
	numShards int               // Number of shards
	seed      uint64            // Seed for hash function
	shards    []*internal.Shard // Array of shards
	currIndex atomic.Uint64     // Highest write index seen
	count     atomic.Int64      // Number of stored entries
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	NumShards int // Number of shards (0 = auto)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards: runtime.NumCPU(), // Auto-determine based on CPU count
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.DocDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}
	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}

	return &mapleImpl{
		numShards: numShards,
		seed:      util.GenerateSeed(),
		shards:    newShards(numShards),
	}
}

func newShards(n int) []*internal.Shard {
	shards := make([]*internal.Shard, n)
	for i := range shards {
		shards[i] = internal.NewShard()
	}
	return shards
}

// shardFor returns the shard responsible for key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) shardFor(key string) *internal.Shard {
	return internal.GetShard(util.HashString(key, maple.seed), maple.shards)
}

// --------------------------------------------------------------------------
// Core DocDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// writeMode selects the precondition of compute
type writeMode int

const (
	modeInsert  writeMode = iota // key must be absent
	modeReplace                  // key must be present
	modePut                      // no precondition
	modeDelete                   // key must be present, entry is removed
)

// Insert stores value under key if the key is absent.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Insert(key string, value []byte, writeIdx uint64) bool {
	return maple.compute(key, value, writeIdx, modeInsert)
}

// Replace overwrites the value of an existing key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Replace(key string, value []byte, writeIdx uint64) bool {
	return maple.compute(key, value, writeIdx, modeReplace)
}

// Put stores value under key, replacing any existing entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Put(key string, value []byte, writeIdx uint64) {
	maple.compute(key, value, writeIdx, modePut)
}

// Delete removes an entry with the specified key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string, writeIdx uint64) bool {
	return maple.compute(key, nil, writeIdx, modeDelete)
}

// compute is the shared implementation of all write operations.
// It applies the precondition of mode atomically per key, ignores stale
// writes and keeps the entry count up to date.
//
// Thread-safety: This function uses the atomic Compute of the shard map.
func (maple *mapleImpl) compute(key string, value []byte, writeIdx uint64, mode writeMode) bool {

	// update the current index
	maple.SetWriteIdx(writeIdx)

	shard := maple.shardFor(key)

	// Copy value to prevent memory corruption
	var valueCopy []byte
	if mode != modeDelete {
		valueCopy = make([]byte, len(value))
		copy(valueCopy, value)
	}

	var (
		applied bool
		delta   int64
	)

	shard.Data.Compute(key, func(old internal.Entry, loaded bool) (internal.Entry, bool) {

		// stale writes are ignored
		if loaded && old.IsStale(writeIdx) {
			return old, false
		}

		switch mode {
		case modeInsert:
			if loaded {
				return old, false
			}
		case modeReplace:
			if !loaded {
				return old, true // set delete to true because else the value will be created
			}
		case modeDelete:
			if !loaded {
				return old, true
			}
			applied, delta = true, -1
			return old, true
		}

		applied = true
		if !loaded {
			delta = 1
		}
		return internal.Entry{Value: valueCopy, Index: writeIdx}, false
	})

	if delta != 0 {
		maple.count.Add(delta)
	}
	return applied
}

// --------------------------------------------------------------------------
// Core DocDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves the value for a key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, bool) {
	e, ok := maple.shardFor(key).Data.Load(key)
	if !ok {
		return nil, false
	}
	data := make([]byte, len(e.Value))
	copy(data, e.Value)
	return data, true
}

// Has checks if a key exists in the database.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) bool {
	_, ok := maple.shardFor(key).Data.Load(key)
	return ok
}

// Count returns the number of stored entries
func (maple *mapleImpl) Count() int {
	return int(maple.count.Load())
}

// Range calls fn for every entry until fn returns false.
// Entries written concurrently may or may not be visited.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Range(fn func(key string, value []byte, writeIdx uint64) bool) {
	for _, shard := range maple.shards {
		cont := true
		shard.Data.Range(func(key string, e internal.Entry) bool {
			cont = fn(key, e.Value, e.Index)
			return cont
		})
		if !cont {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer.
//
// Thread-safety: Save takes a snapshot of every shard without blocking
// writers. Callers that need a consistent snapshot must stop writes first.
func (maple *mapleImpl) Save(w io.Writer) error {
	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	type entryToSave struct {
		key   string
		entry internal.Entry
	}

	var entries []entryToSave
	for _, shard := range maple.shards {
		shard.Data.Range(func(key string, e internal.Entry) bool {
			entries = append(entries, entryToSave{key, e})
			return true
		})
	}

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	// Write maple version
	if err := binary.Write(bw, binary.LittleEndian, uint8(mapleVersion)); err != nil {
		return err
	}

	// Write seed
	if err := binary.Write(bw, binary.LittleEndian, maple.seed); err != nil {
		return err
	}

	// Write current write index
	if err := binary.Write(bw, binary.LittleEndian, maple.currIndex.Load()); err != nil {
		return err
	}

	// Write total entries count
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(entries))); err != nil {
		return err
	}

	for _, item := range entries {

		// Write key
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(item.key))); err != nil {
			return err
		}
		if _, err := bw.WriteString(item.key); err != nil {
			return err
		}

		// Write write index
		if err := binary.Write(bw, binary.LittleEndian, item.entry.Index); err != nil {
			return err
		}

		// Write value
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(item.entry.Value))); err != nil {
			return err
		}
		if _, err := bw.Write(item.entry.Value); err != nil {
			return err
		}
	}

	// Flush buffer to ensure all data is written
	return bw.Flush()
}

// Load replaces the database content with a snapshot written by Save
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (maple *mapleImpl) Load(r io.Reader) error {

	// Use a buffered reader for better performance
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	// Read and verify version
	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var seed, writeIdx, count uint64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &writeIdx); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	// Recreate empty shards with the loaded seed
	shards := newShards(maple.numShards)
	loaded := &mapleImpl{numShards: maple.numShards, seed: seed, shards: shards}

	for i := uint64(0); i < count; i++ {
		var keyLen uint32
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return err
		}
		if keyLen > maxKeyLen {
			return fmt.Errorf("invalid key length %d", keyLen)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return err
		}

		var idx uint64
		if err := binary.Read(br, binary.LittleEndian, &idx); err != nil {
			return err
		}

		var valueLen uint32
		if err := binary.Read(br, binary.LittleEndian, &valueLen); err != nil {
			return err
		}
		if valueLen > maxValueLen {
			return fmt.Errorf("invalid value length %d", valueLen)
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(br, value); err != nil {
			return err
		}

		loaded.shardFor(string(key)).Data.Store(string(key), internal.Entry{Value: value, Index: idx})
	}

	maple.seed = seed
	maple.shards = shards
	maple.count.Store(int64(count))
	maple.currIndex.Store(writeIdx)
	return nil
}

// --------------------------------------------------------------------------
// DocDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {

	// create a size histogram for the info
	histogram := util.NewSizeHistogram()
	samplesPerShard := 100
	wg := sync.WaitGroup{}
	wg.Add(len(maple.shards))

	shardSizes := make([]float64, len(maple.shards))

	// concurrently collect samples from all shards
	for shardIndex, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count := 0
			s.Data.Range(func(key string, e internal.Entry) bool {
				histogram.AddSample(len(e.Value) + len(key))

				// only sample a few entries per shard
				count++
				return count < samplesPerShard
			})
			shardSizes[i] = float64(s.Data.Size())
		}(shardIndex, shard)
	}

	// wait for all shards to finish
	wg.Wait()

	count := maple.Count()

	// calculate size
	entryOverhead := 8 // write index
	medianSize := histogram.MedianEstimate() + entryOverhead
	avgSize := histogram.AverageSize() + entryOverhead

	// weighted estimate (60% median, 40% average) per entry
	sizeBytes := (medianSize*60 + avgSize*40) / 100 * count

	// Metadata for this specific database implementation
	meta := &struct {
		CurrentWriteIndex uint64                 `json:"current_write_index"`
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		Info              string                 `json:"info"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		Info:              "SizeBytes is an estimate based on sampled entries.",
	}

	return db.DatabaseInfo{
		SizeBytes: sizeBytes,
		Count:     count,
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeatureInsert, db.FeatureReplace, db.FeaturePut, db.FeatureDelete,
			db.FeatureGet, db.FeatureHas, db.FeatureCount, db.FeatureRange,
			db.FeatureSave, db.FeatureLoad,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific DocDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeatureInsert |
		db.FeatureReplace |
		db.FeaturePut |
		db.FeatureDelete |
		db.FeatureGet |
		db.FeatureHas |
		db.FeatureCount |
		db.FeatureRange |
		db.FeatureSave |
		db.FeatureLoad
	return supportedFeatures&feature == feature
}

// Close releases the shards
func (maple *mapleImpl) Close() error {
	for _, shard := range maple.shards {
		shard.Data.Clear()
	}
	maple.count.Store(0)
	return nil
}

// --------------------------------------------------------------------------
// Index and Timestamp Management
// --------------------------------------------------------------------------

// SetWriteIdx safely updates the current index
// It only updates if the new index is greater than the current one
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}
