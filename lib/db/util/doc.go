// Package util provides shared building blocks for the document store and
// the durable log.
//
// The package contains:
//   - functions: seeded FNV-1a hashing used to pick shards
//   - statistics: size histograms and distribution statistics for GetInfo
//   - mpsc: a lock-free multi-producer single-consumer queue, used by the log
//     to hand sync requests to its flusher goroutine
package util
