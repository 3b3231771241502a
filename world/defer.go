package world

// Deferral mirrors what the simulation scheduler needs: while systems
// iterate, structural mutations (destroy, component add/remove) are queued
// and applied when the outermost deferred scope ends. Value writes apply
// immediately.
//
// The replication engine refuses to flush while a deferred scope is open,
// because queued mutations would otherwise be split across two snapshots.

// BeginDeferred opens a deferred scope. Scopes nest.
func (w *World) BeginDeferred() {
	w.deferDepth++
}

// EndDeferred closes the current scope; closing the outermost scope
// applies all queued mutations in submission order.
func (w *World) EndDeferred() {
	if w.deferDepth == 0 {
		w.log.Warn().Msg("EndDeferred without matching BeginDeferred")
		return
	}
	w.deferDepth--
	if w.deferDepth > 0 {
		return
	}
	// Applying a queued op may queue more only if an observer mutates the
	// world, which observers must not do; drain once.
	queue := w.pending
	w.pending = nil
	for _, op := range queue {
		op()
	}
}

// IsDeferred reports whether a deferred scope is currently open.
func (w *World) IsDeferred() bool {
	return w.deferDepth > 0
}
