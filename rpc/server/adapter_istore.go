package server

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
)

func NewIStoreServerAdapter(s store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: s}
}

type iStoreServerAdapterImpl struct {
	store store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message) *common.Message {
	if adapter.store == nil {
		return common.NewErrorResponse("handler: store is nil")
	}
	s := adapter.store

	switch req.MsgType {
	case common.MsgTDocInsert:
		docs, err := decodeDocuments(req.Documents)
		if err != nil {
			return common.NewWriteResponse(req.MsgType, 0, nil, err)
		}
		res, err := s.Insert(req.Collection, docs...)
		return common.NewWriteResponse(req.MsgType, uint64(res.N), insertResults(res), err)

	case common.MsgTDocUpdate:
		if len(req.Documents) != 1 {
			return common.NewWriteResponse(req.MsgType, 0, nil,
				store.NewError(store.RetCMalformed, fmt.Sprintf("update expects one document, got %d", len(req.Documents))))
		}
		docs, err := decodeDocuments(req.Documents)
		if err != nil {
			return common.NewWriteResponse(req.MsgType, 0, nil, err)
		}
		res, err := s.Update(req.Collection, docs[0])
		return common.NewWriteResponse(req.MsgType, uint64(res.N), errorResults(res), err)

	case common.MsgTDocDelete:
		id, err := decodeID(req.Value)
		if err != nil {
			return common.NewWriteResponse(req.MsgType, 0, nil, err)
		}
		res, err := s.Delete(req.Collection, id)
		return common.NewWriteResponse(req.MsgType, uint64(res.N), errorResults(res), err)

	case common.MsgTDocGet:
		id, err := decodeID(req.Value)
		if err != nil {
			return common.NewGetResponse(nil, false, err)
		}
		d, found, err := s.Get(req.Collection, id)
		if err != nil || !found {
			return common.NewGetResponse(nil, false, err)
		}
		data, err := d.MarshalJSON()
		if err != nil {
			return common.NewGetResponse(nil, false, store.NewError(store.RetCInternalError, err.Error()))
		}
		return common.NewGetResponse(data, true, nil)

	case common.MsgTDocCount:
		n, err := s.Count(req.Collection)
		return common.NewCountResponse(n, err)

	case common.MsgTDocDrop:
		dropped, err := s.Drop(req.Collection)
		return common.NewDropResponse(dropped, err)

	case common.MsgTDocFsync:
		return common.NewFsyncResponse(s.Fsync(req.Ok))

	case common.MsgTDocFsyncUnlock:
		return common.NewFsyncUnlockResponse(s.FsyncUnlock())

	case common.MsgTDocInfo:
		info, err := s.GetDBInfo()
		if err != nil {
			return common.NewInfoResponse(nil, err)
		}
		data, err := json.Marshal(info)
		if err != nil {
			return common.NewInfoResponse(nil, store.NewError(store.RetCInternalError, err.Error()))
		}
		return common.NewInfoResponse(data, nil)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// decodeDocuments parses extended JSON documents. A single broken document
// fails the whole request, since it can not be attributed a _id.
func decodeDocuments(raw [][]byte) ([]doc.Document, error) {
	docs := make([]doc.Document, len(raw))
	for i, b := range raw {
		if err := docs[i].UnmarshalJSON(b); err != nil {
			return nil, store.NewError(store.RetCMalformed, fmt.Sprintf("document %d: %v", i, err))
		}
	}
	return docs, nil
}

func decodeID(raw []byte) (any, error) {
	id, err := doc.ParseValue(raw)
	if err != nil {
		return nil, store.NewError(store.RetCMalformed, fmt.Sprintf("_id: %v", err))
	}
	return id, nil
}

// insertResults returns one result per submitted document
func insertResults(res store.WriteResult) []common.Result {
	results := make([]common.Result, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		if id != nil {
			results[i].ID, _ = doc.MarshalValue(id)
		}
	}
	for _, we := range res.Errors {
		if we.Index < len(results) {
			results[we.Index].Code = uint64(we.Code)
			results[we.Index].Msg = we.Msg
		}
	}
	return results
}

// errorResults returns one result per rejected document
func errorResults(res store.WriteResult) []common.Result {
	if len(res.Errors) == 0 {
		return nil
	}
	results := make([]common.Result, len(res.Errors))
	for i, we := range res.Errors {
		results[i] = common.Result{Code: uint64(we.Code), Msg: we.Msg}
	}
	return results
}
