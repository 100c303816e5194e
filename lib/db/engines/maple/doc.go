// Package maple implements the in-memory document store (db.DocDB) used for
// every collection of the engine.
//
// The package focuses on:
//   - Concurrent access through sharding and the lock-free xsync.MapOf
//   - Conditional writes (Insert, Replace, Delete) that are atomic per key
//   - Stale write detection through write indexes
//   - Compact binary snapshots for checkpoints
//
// Key Components:
//
//   - mapleImpl: The central structure implementing db.DocDB. It owns the
//     shards, keeps an exact entry count and the highest write index seen.
//     The write index is not generated here: the caller passes the sequence
//     number of the log record that caused the write.
//
//   - Shard: A partition of the key space with its own concurrent map.
//     Keys are distributed across shards in two steps:
//     1. The canonical key is hashed with util.HashString and a
//     database specific seed
//     2. The hash is right-shifted by 7 bits to use higher-quality bits
//     for distribution
//
//   - Entry: The encoded document and the write index of the record that
//     created or last replaced it.
//
// Stale Write Prevention:
//
// A write is only applied if its write index is greater than or equal to the
// index of the stored entry. Replaying a record that is already reflected in
// the store therefore changes nothing.
//
// Persistence Format:
//  1. Magic number "MAPLEDOC"
//  2. Version number (currently 1)
//  3. Seed, write index and number of entries
//  4. For each entry: key length, key, write index, value length, value
//
// Save does not lock the database. The engine stops writers while it takes a
// checkpoint so that the snapshot is a consistent cut.
package maple
