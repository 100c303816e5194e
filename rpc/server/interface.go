package server

import (
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// An adapter is bound to the database it serves and translates requests
// into calls of that database.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// Errors are reported in the response, Handle never fails.
	Handle(req *common.Message) (resp *common.Message)
}
