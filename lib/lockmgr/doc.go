// Package lockmgr implements a locking mechanism on top of any store.IStore.
// It provides a simple way to coordinate access to shared resources across
// multiple processes.
//
// The lockmgr only ever stores in the provided IStore and has no other
// persistent state. A lock is a document in the collection "system.locks":
//
//	{"_id": <key>, "owner": <hex owner id>, "expires": <unix ms, 0 = never>, "acquired": <unix ms>}
//
// Implementation Approach:
//
//   - Lock Acquisition: Inserts the lock document. The unique _id of the
//     collection guarantees that only one requester can create it. A
//     DuplicateKey rejection means the lock is held.
//
//   - Timeouts: A lock with a timeout is not removed by itself. The next
//     AcquireLock that finds it expired deletes it and retries the insert once.
//
//   - Safe Release: ReleaseLock compares the owner ID of the stored lock with
//     the caller's before deleting it.
//
// Locks are documents like any other, they survive a restart of the server.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(store)
//
//	acquired, ownerID, err := locks.AcquireLock("resource:123", 30)
//	if err != nil {
//	    // Handle error
//	}
//
//	if acquired {
//	    // Use the resource
//	    released, err := locks.ReleaseLock("resource:123", ownerID)
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Release and expiry handling of
//	the same manager are serialized, so an expired lock can not be removed
//	twice. Managers on different processes sharing one store rely on the
//	uniqueness of the insert only.
package lockmgr
