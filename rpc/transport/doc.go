// Package transport defines the client and server transport interfaces of the
// RPC layer. A transport moves opaque request and response bytes and routes
// every request to a database id, the serializer and the adapters give them
// meaning.
//
// Implementations live in the sub packages: http, tcp and unix (the latter
// two share the framing of package base).
package transport
