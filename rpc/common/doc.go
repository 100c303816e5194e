// Package common holds what the server and the client of the RPC layer share.
//
//   - Message: a single struct used for every request and response. The
//     message type decides which fields are set. Factory functions build
//     valid requests and responses. Errors carrying a return code (see
//     CodedError) keep it on the wire.
//
//   - ServerConfig: the databases a server serves (id and type), where their
//     engines store data and how often they checkpoint.
//
//   - ClientConfig: endpoints, timeout and retries of a client.
//
//   - Logger: a dragonboat logger.ILogger writing "LEVEL | package | message"
//     lines, installed for all named loggers by InitLoggers.
package common
