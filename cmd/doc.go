// Package cmd implements the command-line interface of dDoc. It provides
// commands for running the server and for talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the server with one engine per configured database
//   - docs: Document operations (insert, update, get, delete, count, drop, fsync, ...) and a benchmark
//   - lock: Lock operations (acquire, release) against a lock database
//   - util: Shared flag and configuration handling (internal use)
//
// Every flag can also be set as environment variable with the DDOC_ prefix,
// .env and .env.local files are loaded on startup.
//
// See ddoc --help for a list of all commands.
package cmd
