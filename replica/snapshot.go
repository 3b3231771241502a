package replica

import (
	"github.com/driftline/netsync/physics"
	"github.com/driftline/netsync/types"
)

type compSet map[types.ComponentID]struct{}

func (s compSet) add(id types.ComponentID) { s[id] = struct{}{} }

func addToSet(m map[types.EntityID]compSet, id types.EntityID, comp types.ComponentID) {
	set, ok := m[id]
	if !ok {
		set = compSet{}
		m[id] = set
	}
	set.add(comp)
}

// metaData holds the structural half of a delta: entity removals,
// component attach/detach, enable/disable.
type metaData struct {
	removeEntities map[types.EntityID]struct{}
	toAdd          map[types.EntityID]compSet
	toRemove       map[types.EntityID]compSet
	toUpdateActive map[types.EntityID]uint8
}

func (m *metaData) canSerialize() bool {
	return len(m.removeEntities) > 0 ||
		len(m.toAdd) > 0 ||
		len(m.toRemove) > 0 ||
		len(m.toUpdateActive) > 0
}

// deltaSnapshot accumulates the minimal diff between the previous flush
// and now: assuming the receiver holds last tick's state, what must be
// sent to reach this tick's?
type deltaSnapshot struct {
	meta metaData

	// currentGens is the tracker's view of each touched entity's
	// generation, used to detect silent id recycling between flushes.
	currentGens map[types.EntityID]types.Generation

	// componentData tracks whose component values changed, split by
	// replication priority.
	componentData [types.PriorityCount]map[types.EntityID]compSet

	// physicsShapes lists dirty shape geometry grouped by kind.
	physicsShapes map[physics.Kind][]types.PhysicsID
}

func newDeltaSnapshot() deltaSnapshot {
	d := deltaSnapshot{}
	d.resetAll()
	return d
}

// resetEntity atomically clears every pending entry for id across all
// change sets. Called when the tracker detects a recycled id: a stale
// cross-set reference would otherwise let a diff for the old generation
// reach the wire.
func (d *deltaSnapshot) resetEntity(id types.EntityID) {
	for p := range d.componentData {
		delete(d.componentData[p], id)
	}
	delete(d.meta.toAdd, id)
	delete(d.meta.toRemove, id)
	delete(d.meta.toUpdateActive, id)
}

func (d *deltaSnapshot) resetAll() {
	d.meta.removeEntities = map[types.EntityID]struct{}{}
	d.meta.toAdd = map[types.EntityID]compSet{}
	d.meta.toRemove = map[types.EntityID]compSet{}
	d.meta.toUpdateActive = map[types.EntityID]uint8{}
	d.currentGens = map[types.EntityID]types.Generation{}
	for p := range d.componentData {
		d.componentData[p] = map[types.EntityID]compSet{}
	}
	d.physicsShapes = map[physics.Kind][]types.PhysicsID{}
}

// fullSnapshot mirrors the delta's structural data with no remove
// semantics: everything alive, as if just added.
type fullSnapshot struct {
	tags          map[types.EntityID]compSet
	components    map[types.EntityID]compSet
	physicsShapes map[physics.Kind][]types.PhysicsID
}

func (f *fullSnapshot) resetAll() {
	f.tags = map[types.EntityID]compSet{}
	f.components = map[types.EntityID]compSet{}
	f.physicsShapes = map[physics.Kind][]types.PhysicsID{}
}
