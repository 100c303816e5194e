package client

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter holds everything an RPC client needs to reach one
// database. Used by rpcStore and rpcLockMgr through composition.
type rpcClientAdapter struct {
	dbID       uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invoke sends a request and returns the response.
//
// The error is set if the request could not be sent, the response is of the
// wrong type or the server reported an error. In the last case the response
// is returned as well (write responses carry results next to the error) and
// the error is a *store.Error if the server sent a return code.
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := a.transport.Send(a.dbID, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC client - invalid response: %w", err)
	}

	if resp.MsgType == common.MsgTError {
		return nil, fmt.Errorf("RPC client - Error: %s", resp.Err)
	}
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC client - Unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	if resp.Err != "" {
		if resp.Code != 0 {
			return resp, store.ErrorFromWire(resp.Code, resp.Err)
		}
		return resp, fmt.Errorf("RPC client - Error: %s", resp.Err)
	}
	return resp, nil
}
