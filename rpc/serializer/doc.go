// Package serializer converts common.Message values to bytes and back. The
// server and the client must use the same serializer.
//
// Implementations:
//
//   - binarySerializerImpl: custom format, a flag word marks the fields that
//     are present and only those are written. Smallest and fastest, the default.
//
//   - jsonSerializerImpl: encoding/json, readable on the wire (e.g. with curl
//     against the http transport).
//
//   - gobSerializerImpl: encoding/gob. Larger and slower than binary, kept for
//     comparison in the benchmarks.
//
// Documents are already encoded as extended JSON by the client, the
// serializers treat them as opaque byte slices.
//
// All serializers are stateless and safe for concurrent use.
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewCountRequest("users"))
//	...
//	var resp common.Message
//	err = s.Deserialize(respData, &resp)
package serializer
