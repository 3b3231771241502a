package world

import "github.com/driftline/netsync/types"

// Observers run synchronously inside the mutation call that triggered
// them, on the simulation goroutine. They must not mutate the world.

// ObserveAdd registers fn to run after comp is attached to an entity.
func (w *World) ObserveAdd(comp types.ComponentID, fn func(types.EntityID)) {
	w.addObs[comp] = append(w.addObs[comp], fn)
}

// ObserveSet registers fn to run after a value write of comp.
func (w *World) ObserveSet(comp types.ComponentID, fn func(types.EntityID)) {
	w.setObs[comp] = append(w.setObs[comp], fn)
}

// ObserveRemove registers fn to run after comp is detached from an entity,
// including detachment caused by entity destruction.
func (w *World) ObserveRemove(comp types.ComponentID, fn func(types.EntityID)) {
	w.removeObs[comp] = append(w.removeObs[comp], fn)
}

// ObserveDestroy registers fn to run just before an entity is destroyed,
// while its generation and components are still readable.
func (w *World) ObserveDestroy(fn func(types.EntityID)) {
	w.destroyObs = append(w.destroyObs, fn)
}

// ObserveActive registers fn to run when an entity is enabled or disabled.
func (w *World) ObserveActive(fn func(types.EntityID, bool)) {
	w.activeObs = append(w.activeObs, fn)
}
