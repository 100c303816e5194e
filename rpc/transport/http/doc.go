// Package http implements the HTTP transport of the RPC layer.
//
// Every request is a POST to /{dbId} with the serialized message as body, the
// response body is the serialized response. The server also exposes all
// process metrics in the Prometheus text format at GET /metrics.
//
// The client balances requests round-robin over all endpoints, a failed
// request is retried on the next endpoint up to RetryCount times. Endpoints
// may be given with or without the http:// scheme.
//
// With log level debug the server logs every request with its status code
// and duration.
package http
