package serializer

import "github.com/ValentinKolb/dDoc/rpc/common"

// IRPCSerializer converts messages to and from their wire representation.
// All implementations are stateless and safe for concurrent use.
type IRPCSerializer interface {
	// Serialize encodes a message
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. Fields of msg not present in b are zeroed.
	Deserialize(b []byte, msg *common.Message) error
}
