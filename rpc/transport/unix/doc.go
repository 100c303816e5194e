// Package unix implements the Unix domain socket transport of the RPC layer on
// top of package base, for clients on the same machine as the server.
//
// The endpoint is the path of the socket file. A leftover socket file at that
// path is removed when the server starts.
package unix
