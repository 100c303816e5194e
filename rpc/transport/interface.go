package transport

import (
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles a single request addressed to a database.
// It is called by the server transport for every received request.
type ServerHandleFunc func(dbID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler called for every request.
	// It must be called before Listen.
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and blocks until Close is called
	// (then it returns nil) or the listener fails.
	Listen(config common.ServerConfig) error
	// Close stops accepting requests and lets Listen return
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request for a database and returns the response
	Send(dbID uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
