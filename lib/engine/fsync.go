package engine

// Fsync makes every acknowledged write durable. Writes are durable when they
// are acknowledged, so this only forces outstanding buffers to disk.
func (e *Engine) Fsync() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.log.Sync()
}

// FsyncLock flushes the log and blocks all writes until FsyncUnlock is
// called. Reads keep working. The data directory can be copied while the
// engine is locked.
func (e *Engine) FsyncLock() error {
	e.fsyncMu.Lock()
	defer e.fsyncMu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}
	if e.fsyncLocked {
		return ErrFsyncLocked
	}

	e.gate.Lock()
	if err := e.log.Sync(); err != nil {
		e.gate.Unlock()
		return err
	}
	e.fsyncLocked = true

	Logger.Infof("engine at %s is fsync locked, writes are blocked", e.path)
	return nil
}

// FsyncUnlock releases a lock taken with FsyncLock
func (e *Engine) FsyncUnlock() error {
	e.fsyncMu.Lock()
	defer e.fsyncMu.Unlock()

	if !e.fsyncLocked {
		return ErrNotLocked
	}
	e.fsyncLocked = false
	e.gate.Unlock()

	Logger.Infof("engine at %s is fsync unlocked", e.path)
	return nil
}
