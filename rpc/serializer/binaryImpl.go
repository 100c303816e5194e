package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: MsgType (1 byte) | flags (2 bytes) | present fields in flag order.
// Strings and byte slices are prefixed with their uint32 length, lists with
// their uint32 element count. All integers are big endian.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasCollection uint16 = 1 << iota
	hasKey
	hasDocuments
	hasValue
	hasTimeout
	hasCount
	hasOk
	hasResults
	hasCode
	hasErr
	hasMeta
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	buf := make([]byte, 3, b.sizeBytes(msg))
	buf[0] = byte(msg.MsgType)

	var flags uint16
	if msg.Collection != "" {
		flags |= hasCollection
		buf = appendBytes(buf, []byte(msg.Collection))
	}
	if msg.Key != "" {
		flags |= hasKey
		buf = appendBytes(buf, []byte(msg.Key))
	}
	if msg.Documents != nil {
		flags |= hasDocuments
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Documents)))
		for _, d := range msg.Documents {
			buf = appendBytes(buf, d)
		}
	}
	if msg.Value != nil {
		flags |= hasValue
		buf = appendBytes(buf, msg.Value)
	}
	if msg.Timeout > 0 {
		flags |= hasTimeout
		buf = binary.BigEndian.AppendUint64(buf, msg.Timeout)
	}
	if msg.Count > 0 {
		flags |= hasCount
		buf = binary.BigEndian.AppendUint64(buf, msg.Count)
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Results != nil {
		flags |= hasResults
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Results)))
		for _, r := range msg.Results {
			buf = appendBytes(buf, r.ID)
			buf = binary.BigEndian.AppendUint64(buf, r.Code)
			buf = appendBytes(buf, []byte(r.Msg))
		}
	}
	if msg.Code > 0 {
		flags |= hasCode
		buf = binary.BigEndian.AppendUint64(buf, msg.Code)
	}
	if msg.Err != "" {
		flags |= hasErr
		buf = appendBytes(buf, []byte(msg.Err))
	}
	if msg.Meta != nil {
		flags |= hasMeta
		buf = appendBytes(buf, msg.Meta)
	}

	binary.BigEndian.PutUint16(buf[1:3], flags)
	return buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < 3 {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := &binaryReader{data: data, pos: 3}

	if flags&hasCollection != 0 {
		msg.Collection = string(r.bytes("collection"))
	}
	if flags&hasKey != 0 {
		msg.Key = string(r.bytes("key"))
	}
	if flags&hasDocuments != 0 {
		n := r.count("documents")
		msg.Documents = make([][]byte, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			msg.Documents = append(msg.Documents, r.bytes("document"))
		}
	}
	if flags&hasValue != 0 {
		msg.Value = r.bytes("value")
	}
	if flags&hasTimeout != 0 {
		msg.Timeout = r.uint64("timeout")
	}
	if flags&hasCount != 0 {
		msg.Count = r.uint64("count")
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasResults != 0 {
		n := r.count("results")
		msg.Results = make([]common.Result, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			res := common.Result{ID: r.bytes("result id")}
			res.Code = r.uint64("result code")
			res.Msg = string(r.bytes("result message"))
			msg.Results = append(msg.Results, res)
		}
	}
	if flags&hasCode != 0 {
		msg.Code = r.uint64("code")
	}
	if flags&hasErr != 0 {
		msg.Err = string(r.bytes("error"))
	}
	if flags&hasMeta != 0 {
		msg.Meta = r.bytes("meta")
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := 3
	if msg.Collection != "" {
		size += 4 + len(msg.Collection)
	}
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.Documents != nil {
		size += 4
		for _, d := range msg.Documents {
			size += 4 + len(d)
		}
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Timeout > 0 {
		size += 8
	}
	if msg.Count > 0 {
		size += 8
	}
	if msg.Results != nil {
		size += 4
		for _, r := range msg.Results {
			size += 4 + len(r.ID) + 8 + 4 + len(r.Msg)
		}
	}
	if msg.Code > 0 {
		size += 8
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	return size
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// binaryReader reads fields until the first error, later reads are no-ops
type binaryReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binaryReader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return false
	}
	return true
}

func (r *binaryReader) uint32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

func (r *binaryReader) uint64(field string) uint64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// count reads a list length, bounded by the remaining data
func (r *binaryReader) count(field string) int {
	n := int(r.uint32(field))
	if r.err == nil && n > len(r.data)-r.pos {
		r.err = fmt.Errorf("invalid %s count %d", field, n)
		return 0
	}
	return n
}

// bytes reads a length prefixed byte slice (a copy, never nil)
func (r *binaryReader) bytes(field string) []byte {
	n := int(r.uint32(field + " length"))
	if !r.need(n, field) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}
