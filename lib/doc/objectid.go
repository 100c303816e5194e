package doc

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ObjectID is a 16 byte identifier assigned by the engine to documents
// inserted without an _id. It is a version 7 UUID and therefore ordered by
// creation time.
type ObjectID [16]byte

// NilObjectID is the zero ObjectID
var NilObjectID ObjectID

// NewObjectID generates a new time ordered ObjectID
func NewObjectID() ObjectID {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source fails
		return ObjectID(uuid.New())
	}
	return ObjectID(id)
}

// ParseObjectID parses the 32 character hex representation of an ObjectID
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 2*len(id) {
		return NilObjectID, fmt.Errorf("invalid object id %q: expected %d hex characters", s, 2*len(id))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return NilObjectID, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return id, nil
}

// Hex returns the 32 character hex representation
func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String returns the shell style representation (e.g. ObjectID("0190..."))
func (id ObjectID) String() string {
	return fmt.Sprintf("ObjectID(%q)", id.Hex())
}

// IsZero reports whether the id is the NilObjectID
func (id ObjectID) IsZero() bool {
	return id == NilObjectID
}

// Time returns the creation time encoded in the id.
// The result is only meaningful for ids created by NewObjectID.
func (id ObjectID) Time() time.Time {
	sec, nsec := uuid.UUID(id).Time().UnixTime()
	return time.Unix(sec, nsec)
}
