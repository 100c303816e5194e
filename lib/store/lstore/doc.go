// Package lstore implements store.IStore on top of a local write engine.
//
// The store is a thin adapter: it forwards every call to the engine and
// translates engine outcomes into store.WriteResult and store.Error values.
// Validation errors of single documents become WriteErrors, failures of the
// engine itself (closed, durability failure) become the returned error.
//
// Usage Example:
//
//	e, err := engine.Open("/var/lib/ddoc/db-100", nil)
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	s := lstore.NewLocalStore(e)
//	res, err := s.Insert("users", doc.New(doc.F("_id", 1), doc.F("name", "ada")))
//	if err != nil {
//	    return err
//	}
//	if e := res.LastError(); e != nil {
//	    fmt.Println("rejected:", e)
//	}
//
// Thread Safety:
//
//	The store is as thread-safe as the engine, all methods can be called
//	concurrently.
package lstore
