package lockmgr

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("lockmgr")

// LockCollection is the collection all locks are stored in
const LockCollection = "system.locks"

const (
	fieldOwner    = "owner"
	fieldExpires  = "expires"  // unix milliseconds, 0 = never
	fieldAcquired = "acquired" // unix milliseconds
)

type lockMgrImpl struct {
	store store.IStore
	now   func() time.Time

	// serializes the read-then-delete sequences of release and expiry
	mu sync.Mutex
}

func NewLockManager(store store.IStore) ILockManager {
	return &lockMgrImpl{
		store: store,
		now:   time.Now,
	}
}

func (lp *lockMgrImpl) AcquireLock(key string, timeout uint64) (bool, []byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	now := lp.now()
	var expires int64
	if timeout > 0 {
		expires = now.Add(time.Duration(timeout) * time.Second).UnixMilli()
	}
	lock := doc.New(
		doc.F(doc.IDField, key),
		doc.F(fieldOwner, hex.EncodeToString(ownerID)),
		doc.F(fieldExpires, expires),
		doc.F(fieldAcquired, now.UnixMilli()),
	)

	// the unique _id makes the insert an atomic test-and-set
	for attempt := 0; attempt < 2; attempt++ {
		res, err := lp.store.Insert(LockCollection, lock)
		if err != nil {
			return false, nil, err
		}
		if res.Ok() {
			return true, ownerID, nil
		}
		if lastErr := res.LastError(); lastErr.Code != store.RetCDuplicateKey {
			return false, nil, lastErr
		}
		if attempt > 0 {
			break
		}

		// held by someone else, take it over if it expired
		freed, err := lp.removeExpired(key)
		if err != nil || !freed {
			return false, nil, err
		}
	}
	return false, nil, nil
}

func (lp *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	current, found, err := lp.store.Get(LockCollection, key)
	if err != nil || !found {
		return err == nil, err
	}

	// Check if the lock is owned by us
	if owner, _ := current.Get(fieldOwner); owner != hex.EncodeToString(ownerID) {
		return false, nil
	}

	res, err := lp.store.Delete(LockCollection, key)
	if err != nil {
		return false, err
	}
	if lastErr := res.LastError(); lastErr != nil && lastErr.Code != store.RetCNotFound {
		return false, lastErr
	}
	return true, nil
}

// removeExpired deletes the lock if it has expired. It reports whether the
// key is free now.
func (lp *lockMgrImpl) removeExpired(key string) (bool, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	current, found, err := lp.store.Get(LockCollection, key)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	expires := millis(current, fieldExpires)
	if expires == 0 || lp.now().UnixMilli() < expires {
		return false, nil
	}

	res, err := lp.store.Delete(LockCollection, key)
	if err != nil {
		return false, err
	}
	if lastErr := res.LastError(); lastErr != nil && lastErr.Code != store.RetCNotFound {
		return false, lastErr
	}
	Logger.Debugf("removed expired lock %q", key)
	return true, nil
}

// millis reads a numeric field, 0 if it is missing
func millis(d doc.Document, field string) int64 {
	v, _ := d.Get(field)
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}
