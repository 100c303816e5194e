// Package wal implements the durable log of dDoc.
//
// The log is a directory of segment files (wal_<first seq>.log). Each record is
// stored as a self-describing frame:
//
//	magic "DDWL" | crc32c | length | seq | kind | collection | payload
//
// Append blocks until the record is flushed and fsynced. Concurrent appenders
// are group committed by a single flusher goroutine that consumes sync
// requests from a lock-free MPSC queue.
//
// On Open the segments are scanned. A damaged frame at the very end of the
// last segment (a torn write) is cut off. A damaged frame that is followed by
// an intact one, damage in an older segment or a gap in the sequence numbers
// is reported as a *CorruptionError.
//
// Usage:
//
//	w, err := wal.Open(afero.NewOsFs(), "/data/wal", wal.DefaultOptions())
//	seq, err := w.Append(wal.KindInsert, "users", payload)
//	for rec, err := range w.ReadFrom(1) { ... }
package wal
