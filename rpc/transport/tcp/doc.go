// Package tcp implements the TCP socket transport of the RPC layer on top of
// package base. The client disables Nagle's algorithm on every connection.
//
// The default server buffer size is 512 KB, enough for most document batches
// without an extra allocation per request.
package tcp
