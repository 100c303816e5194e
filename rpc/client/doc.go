// Package client implements store.IStore and lockmgr.ILockManager on top of
// the RPC layer, so code written against a local store works unchanged
// against a server.
//
// Documents and _id values are sent as extended JSON, per document
// rejections come back as store.WriteError entries with their position in
// the request. Errors the server reports with a return code are returned as
// *store.Error and can be matched with errors.Is:
//
//	errors.Is(err, &store.Error{Code: store.RetCDurability})
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:              []string{"localhost:8080"},
//	  TimeoutSecond:          5,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 1,
//	}
//
//	s, err := client.NewRPCStore(100, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	res, err := s.Insert("users", doc.New(doc.F("_id", 1), doc.F("name", "ada")))
//	d, found, err := s.Get("users", 1)
//
//	locks, err := client.NewRPCLockMgr(200, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	acquired, ownerID, err := locks.AcquireLock("mylock", 30)
//	if acquired {
//	  locks.ReleaseLock("mylock", ownerID)
//	}
//
// A failed request is retried by the transport, which can apply a write
// twice. A retried insert then reports DuplicateKey for its own document.
//
// All clients are safe for concurrent use.
package client
