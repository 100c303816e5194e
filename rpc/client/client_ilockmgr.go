package client

import (
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// NewRPCLockMgr connects the transport and returns a lockmgr.ILockManager for
// the lock database with the given id on the server.
func NewRPCLockMgr(
	dbID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lockmgr.ILockManager, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcLockMgr{
		rpcClientAdapter{
			dbID:       dbID,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcLockMgr struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (i *rpcLockMgr) AcquireLock(key string, timeout uint64) (ok bool, ownerID []byte, err error) {
	resp, err := i.invoke(common.NewAcquireRequest(key, timeout))
	if err != nil {
		return false, nil, err
	}
	return resp.Ok, resp.Value, nil
}

func (i *rpcLockMgr) ReleaseLock(key string, ownerID []byte) (ok bool, err error) {
	resp, err := i.invoke(common.NewReleaseRequest(key, ownerID))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
