// Package server implements the RPC server of dDoc. It opens one engine per
// configured database and routes requests to the adapter of that database.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes a decoded request.
//
//   - NewIStoreServerAdapter: Translates document requests to store.IStore calls.
//     Documents and ids travel as extended JSON.
//
//   - NewLockManagerServerAdapter: Serves a lockmgr.ILockManager whose locks are
//     stored as documents of the database.
//
//   - NewRPCServer: Creates a server with the specified transport and serializer.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Databases: []common.ServerDatabase{
//	    {ID: 100, Type: common.DatabaseTypeStore},
//	    {ID: 200, Type: common.DatabaseTypeLockManager},
//	  },
//	  DataDir:       "data",
//	  Endpoint:      "0.0.0.0:8080",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Every database is stored in its own directory (<DataDir>/db-<ID>) which is
// locked by the engine, so two servers can not share a database. On shutdown
// the transport is closed first, then every engine is closed which writes a
// final checkpoint.
//
// Thread Safety:
//
//	Requests are handled concurrently. Serve and ServeContext must be called
//	only once.
package server
