package replica

import (
	"github.com/driftline/netsync/types"
)

// observeMutation is the recycling guard. Every observer calls it before
// recording anything, so the accumulator always knows which generation of
// an id its pending entries belong to.
//
// When the world's generation for an id has advanced past the tracked one,
// the id was destroyed and reallocated between flushes. Pending entries
// for the old incarnation are cleared atomically and a removal is queued,
// so the receiver tears down its stale copy before any of the new
// incarnation's data lands.
func (m *Manager) observeMutation(id types.EntityID) {
	gen, ok := m.world.Generation(id)
	if !ok {
		return
	}
	tracked, seen := m.delta.currentGens[id]
	if !seen {
		m.delta.currentGens[id] = gen
		return
	}
	if tracked == gen {
		return
	}
	m.log.Debug().
		Uint32("entity_id", uint32(id)).
		Uint32("old_gen", uint32(tracked)).
		Uint32("new_gen", uint32(gen)).
		Msg("entity id recycled between flushes")
	m.delta.resetEntity(id)
	m.delta.meta.removeEntities[id] = struct{}{}
	m.delta.currentGens[id] = gen
}
