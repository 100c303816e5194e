// Package db defines the document store interface used by the write engine.
//
// A DocDB holds the documents of one collection as encoded bytes, keyed by the
// canonical key of their _id (see doc.Key). The store is a cache of the durable
// log: it is mutated only after a record is durable, and it can always be
// rebuilt by replaying the log or loading a checkpoint written with Save.
//
// Key Components:
//
//   - DocDB Interface: conditional writes (Insert, Replace, Delete), the
//     unconditional Put used by log replay, reads (Get, Has, Count, Range) and
//     snapshot persistence (Save, Load).
//
//   - Feature Flags: implementations advertise their capabilities through
//     SupportsFeature so that generic code (and the shared test suite) can
//     skip what an implementation does not provide.
//
//   - Database Information: DatabaseInfo reports estimated size, entry count,
//     implementation type and implementation specific metadata.
//
// Note on write indexes:
//   - Every write carries the sequence number of the log record that caused it.
//   - A write with a lower index than the stored entry is ignored, which makes
//     replaying an already applied record harmless.
//   - The write index of the database only ever increases.
//
// Related Packages:
//
// The engines/maple package provides a sharded in-memory implementation. The
// testing package provides RunDocDBTests and RunDocDBBenchmarks for any
// implementation, and the util package provides hashing, statistics and the
// lock-free MPSC queue.
package db
