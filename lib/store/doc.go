// Package store provides a high-level interface for document storage operations
// with unified error handling. It serves as an abstraction layer over the
// write engine (lib/engine) and is what the rpc server and the lock manager
// talk to.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations on collections
//     of documents. The rpc client implements the same interface, so code
//     written against IStore works with a local and a remote store alike.
//
//   - WriteResult: Every write reports how many documents were written and,
//     for each rejected document, its position in the request and a RetCode.
//     A rejected document never affects the other documents of the request.
//
//   - Error System: Operations that could not be executed at all return a
//     *Error with a RetCode. RetCDurability means the store refuses writes
//     until it is restarted.
//
// Implementations:
//
//   - Local Store (lstore): Wraps an *engine.Engine in the same process.
//     Available in the "github.com/ValentinKolb/dDoc/lib/store/lstore" package.
//
//   - Remote Store: The rpc client in "github.com/ValentinKolb/dDoc/rpc/client".
package store
