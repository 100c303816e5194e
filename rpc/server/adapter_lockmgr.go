package server

import (
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

// NewLockManagerServerAdapter serves a lock manager stored in s.
// The store itself is not reachable through the adapter.
func NewLockManagerServerAdapter(s store.IStore) IRPCServerAdapter {
	if s == nil {
		return &lockMgrServerAdapter{}
	}
	return &lockMgrServerAdapter{locks: lockmgr.NewLockManager(s)}
}

type lockMgrServerAdapter struct {
	locks lockmgr.ILockManager
}

func (adapter *lockMgrServerAdapter) Handle(req *common.Message) (resp *common.Message) {
	if adapter.locks == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	switch req.MsgType {
	case common.MsgTLCKAcquire:
		ok, ownerID, err := adapter.locks.AcquireLock(req.Key, req.Timeout)
		return common.NewAcquireResponse(ok, ownerID, err)
	case common.MsgTLCKRelease:
		ok, err := adapter.locks.ReleaseLock(req.Key, req.Value)
		return common.NewReleaseResponse(ok, err)
	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC LockManagerAdapter - Unsupported message type: %s", req.MsgType))
	}
}
