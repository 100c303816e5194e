package common

import (
	"encoding/json"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
//
// Documents and _id values travel as extended JSON (see lib/doc).
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Collection string   `json:"collection,omitempty"` // Used for: Insert, Update, Delete, Get, Count, Drop
	Key        string   `json:"key,omitempty"`        // Used for: Acquire, Release
	Documents  [][]byte `json:"documents,omitempty"`  // Used for: Insert, Update (request), Get (response)
	Value      []byte   `json:"value,omitempty"`      // Used for: Delete, Get (_id), Release (owner), Acquire, Info (response)
	Timeout    uint64   `json:"timeout,omitempty"`    // Used for: Acquire

	// Response only fields
	Count   uint64   `json:"count,omitempty"`   // Used for: Count, Insert, Update, Delete responses (number of documents)
	Ok      bool     `json:"ok,omitempty"`      // Used for: Get, Drop, Acquire, Release responses, Fsync request (lock)
	Results []Result `json:"results,omitempty"` // Used for: Insert, Update, Delete responses
	Code    uint64   `json:"code,omitempty"`    // Return code of the error (store.RetCode)
	Err     string   `json:"err,omitempty"`     // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// Result is the outcome of a single document of a write
type Result struct {
	ID   []byte `json:"id,omitempty"`   // _id of the document (extended JSON)
	Code uint64 `json:"code,omitempty"` // 0 if the document was written
	Msg  string `json:"msg,omitempty"`
}

// CodedError is an error that carries a return code over the wire
type CodedError interface {
	error
	RetCode() uint64
}

// setErr fills the error fields of a response
func (m *Message) setErr(err error) *Message {
	if err == nil {
		return m
	}
	m.Err = err.Error()
	var coded CodedError
	if errors.As(err, &coded) {
		m.Code = coded.RetCode()
	}
	return m
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewInsertRequest creates a new Insert request
func NewInsertRequest(collection string, docs [][]byte) *Message {
	return &Message{
		MsgType:    MsgTDocInsert,
		Collection: collection,
		Documents:  docs,
	}
}

// NewUpdateRequest creates a new Update request
func NewUpdateRequest(collection string, doc []byte) *Message {
	return &Message{
		MsgType:    MsgTDocUpdate,
		Collection: collection,
		Documents:  [][]byte{doc},
	}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(collection string, id []byte) *Message {
	return &Message{
		MsgType:    MsgTDocDelete,
		Collection: collection,
		Value:      id,
	}
}

// NewWriteResponse creates a response for Insert, Update and Delete
func NewWriteResponse(msgType MessageType, n uint64, results []Result, err error) *Message {
	msg := &Message{
		MsgType: msgType,
		Count:   n,
		Results: results,
	}
	return msg.setErr(err)
}

// NewGetRequest creates a new Get request
func NewGetRequest(collection string, id []byte) *Message {
	return &Message{
		MsgType:    MsgTDocGet,
		Collection: collection,
		Value:      id,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(doc []byte, ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocGet,
		Ok:      ok,
	}
	if doc != nil {
		msg.Documents = [][]byte{doc}
	}
	return msg.setErr(err)
}

// NewCountRequest creates a new Count request
func NewCountRequest(collection string) *Message {
	return &Message{
		MsgType:    MsgTDocCount,
		Collection: collection,
	}
}

// NewCountResponse creates a new Count response
func NewCountResponse(n uint64, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocCount,
		Count:   n,
	}
	return msg.setErr(err)
}

// NewDropRequest creates a new Drop request
func NewDropRequest(collection string) *Message {
	return &Message{
		MsgType:    MsgTDocDrop,
		Collection: collection,
	}
}

// NewDropResponse creates a new Drop response
func NewDropResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocDrop,
		Ok:      ok,
	}
	return msg.setErr(err)
}

// NewFsyncRequest creates a new Fsync request
func NewFsyncRequest(lock bool) *Message {
	return &Message{
		MsgType: MsgTDocFsync,
		Ok:      lock,
	}
}

// NewFsyncResponse creates a new Fsync response
func NewFsyncResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTDocFsync,
	}
	return msg.setErr(err)
}

// NewFsyncUnlockRequest creates a new FsyncUnlock request
func NewFsyncUnlockRequest() *Message {
	return &Message{
		MsgType: MsgTDocFsyncUnlock,
	}
}

// NewFsyncUnlockResponse creates a new FsyncUnlock response
func NewFsyncUnlockResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTDocFsyncUnlock,
	}
	return msg.setErr(err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{
		MsgType: MsgTDocInfo,
	}
}

// NewInfoResponse creates a new Info response, info is JSON encoded
func NewInfoResponse(info []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTDocInfo,
		Value:   info,
	}
	return msg.setErr(err)
}

// NewAcquireRequest creates a new Acquire request
func NewAcquireRequest(key string, timeout uint64) *Message {
	return &Message{
		MsgType: MsgTLCKAcquire,
		Key:     key,
		Timeout: timeout,
	}
}

// NewAcquireResponse creates a new Acquire response
func NewAcquireResponse(ok bool, value []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKAcquire,
		Ok:      ok,
		Value:   value,
	}
	return msg.setErr(err)
}

// NewReleaseRequest creates a new Release request
func NewReleaseRequest(key string, ownerId []byte) *Message {
	return &Message{
		MsgType: MsgTLCKRelease,
		Key:     key,
		Value:   ownerId,
	}
}

// NewReleaseResponse creates a new Release response
func NewReleaseResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKRelease,
		Ok:      ok,
	}
	return msg.setErr(err)
}

// NewCustomRequest creates a new Custom request
func NewCustomRequest(meta []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
}

// NewCustomResponse creates a new Custom response
func NewCustomResponse(meta []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
	return msg.setErr(err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:        "success",
	MsgTError:          "error",
	MsgTDocInsert:      "insert",
	MsgTDocUpdate:      "update",
	MsgTDocDelete:      "delete",
	MsgTDocGet:         "get",
	MsgTDocCount:       "count",
	MsgTDocDrop:        "drop",
	MsgTDocFsync:       "fsync",
	MsgTDocFsyncUnlock: "fsyncUnlock",
	MsgTDocInfo:        "info",
	MsgTLCKAcquire:     "acquire",
	MsgTLCKRelease:     "release",
	MsgTCustom:         "custom",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for msgType, name := range messageTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTDocInsert      // Insert documents
	MsgTDocUpdate      // Replace a document
	MsgTDocDelete      // Delete a document by _id
	MsgTDocGet         // Get a document by _id
	MsgTDocCount       // Count the documents of a collection
	MsgTDocDrop        // Drop a collection
	MsgTDocFsync       // Flush to disk, optionally locking writes
	MsgTDocFsyncUnlock // Release the fsync lock
	MsgTDocInfo        // Database statistics

	// ILockManager operations

	MsgTLCKAcquire // Acquire a lock
	MsgTLCKRelease // Release a lock

	// Custom operations

	MsgTCustom // Custom operation type
)
