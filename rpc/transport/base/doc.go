// Package base implements the stream transports of the RPC layer independent
// of the socket type. The tcp and unix packages only provide connectors that
// dial and listen.
//
// Frame format (all integers big endian):
//
//	database id (8 bytes) | request id (8 bytes) | length (4 bytes) | payload
//
// Client:
//
//   - Several connections per endpoint, picked round-robin.
//   - Requests are pipelined. A reader goroutine per connection matches
//     responses to waiting requests by request id.
//   - A broken connection fails all waiting requests and is dialed again.
//     Failed requests are retried with exponential backoff and jitter.
//
// Server:
//
//   - One goroutine per connection reads frames, a bounded number of worker
//     goroutines per connection runs the handler. Responses may be written in
//     a different order than the requests arrived.
//   - Read buffers come from a sync.Pool.
//   - Close stops the listener, open connections stop reading and finish
//     their running requests.
//
// All exported functions and methods are safe for concurrent use.
package base
