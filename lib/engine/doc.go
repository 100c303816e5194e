/*
Package engine implements a durable document store on top of a write-ahead log.

Every write goes through the same steps:

	validate -> append to the log -> fsync -> apply -> acknowledge

A write that is rejected during validation leaves no trace. A write that was
acknowledged survives any crash. If the log can not be made durable the
engine refuses all further writes (ErrEngineFailed).

On Open the engine loads the newest checkpoint and replays the log behind it.
A torn record at the end of the log is discarded, damage anywhere else stops
the engine from starting.

Example:

	e, err := engine.Open("/var/lib/ddoc", nil)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Insert("users", doc.New(doc.F("_id", 1), doc.F("name", "ada")))
	if err != nil {
		return err // the engine itself failed
	}
	for i, o := range res.Outcomes {
		if o.Err != nil {
			fmt.Printf("document %d rejected: %v\n", i, o.Err)
		}
	}
*/
package engine
