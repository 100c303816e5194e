package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// --------------------------------------------------------------------------
// Record Types
// --------------------------------------------------------------------------

// Kind is the type of logged operation
type Kind uint8

const (
	KindInsert Kind = iota + 1 // Insert a document (payload: document)
	KindUpdate                 // Replace a document (payload: document)
	KindDelete                 // Delete a document (payload: _id value)
	KindCreate                 // Create a collection (no payload)
	KindDrop                   // Drop a collection (no payload)
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindCreate:
		return "create"
	case KindDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Record is a single entry of the log
type Record struct {
	Seq        uint64 // Gapless, strictly increasing sequence number
	Kind       Kind
	Collection string
	Payload    []byte
}

func (r Record) String() string {
	return fmt.Sprintf("Record{Seq: %d, Kind: %s, Collection: %s, Payload: %d bytes}", r.Seq, r.Kind, r.Collection, len(r.Payload))
}

// --------------------------------------------------------------------------
// Frame Encoding
// --------------------------------------------------------------------------

/*
	Frame layout (little endian):

	  0      4      8      12                        12+len
	  | magic | crc  | len  | body ...                 |

	body = seq u64 | kind u8 | collLen u16 | collection | payload
	crc  = crc32c(len | body)

	The magic marker allows scanning for intact frames behind a damaged one,
	which distinguishes a torn tail from damage in the middle of the log.
*/

const (
	frameMagic      = "DDWL"
	frameHeaderSize = 12
	bodyHeaderSize  = 11
	maxCollection   = 1<<16 - 1
	maxBodySize     = 256 << 20 // 256 MiB

	// MaxPayloadSize is the largest payload that fits into a frame with any
	// collection name
	MaxPayloadSize = maxBodySize - bodyHeaderSize - maxCollection
)

var (
	crcTable = crc32.MakeTable(crc32.Castagnoli)

	errShortFrame   = errors.New("incomplete frame")
	errBadMagic     = errors.New("bad frame marker")
	errBadLength    = errors.New("invalid frame length")
	errBadChecksum  = errors.New("checksum mismatch")
	errBadBody      = errors.New("invalid frame body")
)

// encodeFrame encodes a record into a self-contained frame
func encodeFrame(rec Record) ([]byte, error) {
	if len(rec.Collection) > maxCollection {
		return nil, fmt.Errorf("%w: collection name too long", ErrInvalidRecord)
	}
	bodyLen := bodyHeaderSize + len(rec.Collection) + len(rec.Payload)
	if bodyLen > maxBodySize {
		return nil, fmt.Errorf("%w: record too large (%d bytes)", ErrInvalidRecord, bodyLen)
	}

	frame := make([]byte, frameHeaderSize+bodyLen)
	copy(frame[0:4], frameMagic)
	binary.LittleEndian.PutUint32(frame[8:12], uint32(bodyLen))

	body := frame[frameHeaderSize:]
	binary.LittleEndian.PutUint64(body[0:8], rec.Seq)
	body[8] = byte(rec.Kind)
	binary.LittleEndian.PutUint16(body[9:11], uint16(len(rec.Collection)))
	copy(body[bodyHeaderSize:], rec.Collection)
	copy(body[bodyHeaderSize+len(rec.Collection):], rec.Payload)

	binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(frame[8:], crcTable))
	return frame, nil
}

// decodeFrame decodes the frame at the start of data.
// It returns the record and the number of bytes consumed.
func decodeFrame(data []byte) (Record, int, error) {
	if len(data) < frameHeaderSize {
		return Record{}, 0, errShortFrame
	}
	if string(data[0:4]) != frameMagic {
		return Record{}, 0, errBadMagic
	}

	bodyLen := int(binary.LittleEndian.Uint32(data[8:12]))
	if bodyLen < bodyHeaderSize || bodyLen > maxBodySize {
		return Record{}, 0, errBadLength
	}

	total := frameHeaderSize + bodyLen
	if len(data) < total {
		return Record{}, 0, errShortFrame
	}

	if crc32.Checksum(data[8:total], crcTable) != binary.LittleEndian.Uint32(data[4:8]) {
		return Record{}, 0, errBadChecksum
	}

	body := data[frameHeaderSize:total]
	collLen := int(binary.LittleEndian.Uint16(body[9:11]))
	if bodyHeaderSize+collLen > len(body) {
		return Record{}, 0, errBadBody
	}

	rec := Record{
		Seq:        binary.LittleEndian.Uint64(body[0:8]),
		Kind:       Kind(body[8]),
		Collection: string(body[bodyHeaderSize : bodyHeaderSize+collLen]),
	}
	if rec.Kind < KindInsert || rec.Kind > KindDrop {
		return Record{}, 0, errBadBody
	}

	payload := body[bodyHeaderSize+collLen:]
	if len(payload) > 0 {
		rec.Payload = make([]byte, len(payload))
		copy(rec.Payload, payload)
	}

	return rec, total, nil
}

// findIntactFrame searches data for the first decodable frame at or after
// offset from. It returns the record and its offset, or -1.
func findIntactFrame(data []byte, from int) (Record, int) {
	for off := from; off+frameHeaderSize <= len(data); off++ {
		if string(data[off:off+4]) != frameMagic {
			continue
		}
		if rec, _, err := decodeFrame(data[off:]); err == nil {
			return rec, off
		}
	}
	return Record{}, -1
}
