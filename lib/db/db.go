package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureInsert  Feature = 1 << iota // Support for Insert operations
	FeatureReplace                     // Support for Replace operations
	FeaturePut                         // Support for Put operations
	FeatureDelete                      // Support for Delete operations
	FeatureGet                         // Support for Get operations
	FeatureHas                         // Support for Has operations
	FeatureCount                       // Support for Count operations
	FeatureRange                       // Support for Range operations
	FeatureSave                        // Support for Save operations
	FeatureLoad                        // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeatureInsert:
		return "Insert"
	case FeatureReplace:
		return "Replace"
	case FeaturePut:
		return "Put"
	case FeatureDelete:
		return "Delete"
	case FeatureGet:
		return "Get"
	case FeatureHas:
		return "Has"
	case FeatureCount:
		return "Count"
	case FeatureRange:
		return "Range"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	Count             int            `json:"count"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// DocDB defines an interface for the document store of a single collection.
// Documents are stored as encoded bytes under the canonical key of their _id.
// The store does not check documents, it only keeps them. Uniqueness is
// enforced before a write reaches the store.
//
// Every write carries a write index (the sequence number of the log record
// that caused it). Writes with an index lower than the index of the stored
// entry are stale and ignored.
type DocDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Insert stores value under key if the key is absent.
	// It reports whether the value was stored.
	Insert(key string, value []byte, writeIndex uint64) (ok bool)

	// Replace overwrites the value of an existing key.
	// It reports whether the key existed.
	Replace(key string, value []byte, writeIndex uint64) (ok bool)

	// Put stores value under key whether the key exists or not.
	// It is used by log replay, which applies records without checks.
	Put(key string, value []byte, writeIndex uint64)

	// Delete removes key. It reports whether the key existed.
	Delete(key string, writeIndex uint64) (ok bool)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves a copy of the value stored under key.
	Get(key string) (value []byte, loaded bool)

	// Has checks whether a key exists in the database.
	Has(key string) (loaded bool)

	// Count returns the number of stored entries.
	Count() int

	// Range calls fn for every entry until fn returns false.
	// The order is unspecified. Values passed to fn must not be modified.
	Range(fn func(key string, value []byte, writeIndex uint64) bool)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load replaces the database state with the data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database.
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}
