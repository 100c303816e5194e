package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/db"
	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
)

// NewRPCStore connects the transport and returns a store.IStore for the
// database with the given id on the server.
func NewRPCStore(
	dbID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			dbID:       dbID,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Insert(collection string, docs ...doc.Document) (store.WriteResult, error) {
	raw := make([][]byte, len(docs))
	for n, d := range docs {
		b, err := d.MarshalJSON()
		if err != nil {
			return store.WriteResult{}, store.NewError(store.RetCMalformed, fmt.Sprintf("document %d: %v", n, err))
		}
		raw[n] = b
	}

	resp, err := i.invoke(common.NewInsertRequest(collection, raw))
	if resp == nil {
		return store.WriteResult{}, err
	}

	res := writeResult(resp)
	res.InsertedIDs = make([]any, len(resp.Results))
	for n, r := range resp.Results {
		if len(r.ID) > 0 {
			res.InsertedIDs[n], _ = doc.ParseValue(r.ID)
		}
	}
	return res, err
}

func (i *rpcStore) Update(collection string, d doc.Document) (store.WriteResult, error) {
	b, err := d.MarshalJSON()
	if err != nil {
		return store.WriteResult{}, store.NewError(store.RetCMalformed, err.Error())
	}

	resp, err := i.invoke(common.NewUpdateRequest(collection, b))
	if resp == nil {
		return store.WriteResult{}, err
	}
	return writeResult(resp), err
}

func (i *rpcStore) Delete(collection string, id any) (store.WriteResult, error) {
	b, err := encodeID(id)
	if err != nil {
		return store.WriteResult{}, err
	}

	resp, err := i.invoke(common.NewDeleteRequest(collection, b))
	if resp == nil {
		return store.WriteResult{}, err
	}
	return writeResult(resp), err
}

func (i *rpcStore) Get(collection string, id any) (doc.Document, bool, error) {
	b, err := encodeID(id)
	if err != nil {
		return doc.Document{}, false, err
	}

	resp, err := i.invoke(common.NewGetRequest(collection, b))
	if err != nil {
		return doc.Document{}, false, err
	}
	if !resp.Ok || len(resp.Documents) == 0 {
		return doc.Document{}, false, nil
	}

	var d doc.Document
	if err := d.UnmarshalJSON(resp.Documents[0]); err != nil {
		return doc.Document{}, false, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid document in response: %v", err))
	}
	return d, true, nil
}

func (i *rpcStore) Count(collection string) (uint64, error) {
	resp, err := i.invoke(common.NewCountRequest(collection))
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (i *rpcStore) Drop(collection string) (bool, error) {
	resp, err := i.invoke(common.NewDropRequest(collection))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) Fsync(lock bool) error {
	_, err := i.invoke(common.NewFsyncRequest(lock))
	return err
}

func (i *rpcStore) FsyncUnlock() error {
	_, err := i.invoke(common.NewFsyncUnlockRequest())
	return err
}

func (i *rpcStore) GetDBInfo() (db.DatabaseInfo, error) {
	resp, err := i.invoke(common.NewInfoRequest())
	if err != nil {
		return db.DatabaseInfo{}, err
	}

	var info db.DatabaseInfo
	if err := json.Unmarshal(resp.Value, &info); err != nil {
		return db.DatabaseInfo{}, fmt.Errorf("RPC client - invalid info: %w", err)
	}
	return info, nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func encodeID(id any) ([]byte, error) {
	b, err := doc.MarshalValue(id)
	if err != nil {
		return nil, store.NewError(store.RetCMalformed, fmt.Sprintf("_id: %v", err))
	}
	return b, nil
}

// writeResult rebuilds the write result from a response. Every result with a
// return code is a rejected document at that position.
func writeResult(resp *common.Message) store.WriteResult {
	res := store.WriteResult{N: int(resp.Count)}
	for n, r := range resp.Results {
		if r.Code != 0 {
			res.Errors = append(res.Errors, store.WriteError{Index: n, Code: store.RetCode(r.Code), Msg: r.Msg})
		}
	}
	return res
}
