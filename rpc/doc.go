// Package rpc makes the document store and the lock manager available over
// the network.
//
// Subpackages:
//
//   - common: the Message protocol, server and client configuration, logging.
//
//   - transport: pluggable transports (http, tcp, unix).
//
//   - serializer: Message encodings (binary, JSON, GOB).
//
//   - server: serves one engine per configured database id.
//
//   - client: store.IStore and lockmgr.ILockManager over a transport.
package rpc
