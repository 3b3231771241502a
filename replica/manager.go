// Package replica is the change-tracking heart of the engine: it observes
// world and physics mutations, accumulates them into delta snapshots,
// serializes those (and full snapshots) into wire messages, and applies
// received messages back onto a world.
package replica

import (
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/codec"
	"github.com/driftline/netsync/physics"
	"github.com/driftline/netsync/types"
	"github.com/driftline/netsync/world"
)

// Networked is the marker tag. Only entities carrying it are tracked and
// replicated; everything else in the world is local-only.
type Networked struct{}

func (Networked) Name() string { return "networked" }

// ShapeRef ties an entity to a physics shape by id. It replicates at high
// priority so geometry references arrive on the reliable channel.
type ShapeRef struct {
	Shape types.PhysicsID
}

func (ShapeRef) Name() string { return "shape_ref" }

func (s ShapeRef) Encode(w *codec.Writer) { w.WritePhysicsID(s.Shape) }

func (s *ShapeRef) Decode(r *codec.Reader) error {
	id, err := r.ReadPhysicsID()
	if err != nil {
		return err
	}
	s.Shape = id
	return nil
}

var ErrDeferredFlush = eris.New("snapshot flush while world mutations are deferred")

// Manager tracks replicated state for one world. It is single-threaded by
// the same contract as the world it observes.
type Manager struct {
	world  *world.World
	shapes *physics.Store
	log    zerolog.Logger

	registry        map[types.ComponentID]*componentInfo
	byName          map[string]*componentInfo
	nextComponentID types.ComponentID

	markerID   types.ComponentID
	shapeRefID types.ComponentID

	delta deltaSnapshot

	// applying suppresses observer capture while a received snapshot is
	// being written into the world, so applied changes do not echo back
	// into the next outgoing delta.
	applying bool

	stateID      types.StateID
	stateChanged bool

	// tickNow supplies the current tick for stamping unreliable messages.
	tickNow func() types.Tick

	// lastUnreliableTick is the newest tick whose unreliable delta has
	// been applied; anything at or below it is stale and dropped.
	lastUnreliableTick types.Tick

	// onDesync fires once per dangling-id skip during apply, so callers
	// can count toward a full snapshot request.
	onDesync func()

	// onState fires when an applied snapshot changes the state id.
	onState func(types.StateID)
}

// New wires a manager onto the given world and shape store. The Networked
// marker and ShapeRef component are registered up front so their ids are
// identical on every peer.
func New(logger zerolog.Logger, w *world.World, shapes *physics.Store, tickNow func() types.Tick) (*Manager, error) {
	if tickNow == nil {
		tickNow = func() types.Tick { return 0 }
	}
	m := &Manager{
		world:           w,
		shapes:          shapes,
		log:             logger.With().Str("subsystem", "replica").Logger(),
		registry:        map[types.ComponentID]*componentInfo{},
		byName:          map[string]*componentInfo{},
		nextComponentID: 1,
		delta:           newDeltaSnapshot(),
		tickNow:         tickNow,
	}
	var err error
	m.markerID, err = RegisterTag[Networked](m)
	if err != nil {
		return nil, err
	}
	m.shapeRefID, err = RegisterComponent[ShapeRef](m, types.PriorityHigh)
	if err != nil {
		return nil, err
	}

	w.ObserveDestroy(m.onDestroy)
	w.ObserveActive(m.onActive)
	return m, nil
}

// MarkerID returns the component id of the Networked tag.
func (m *Manager) MarkerID() types.ComponentID { return m.markerID }

// ShapeRefID returns the component id of ShapeRef.
func (m *Manager) ShapeRefID() types.ComponentID { return m.shapeRefID }

// World returns the world this manager observes.
func (m *Manager) World() *world.World { return m.world }

// Shapes returns the physics store this manager snapshots.
func (m *Manager) Shapes() *physics.Store { return m.shapes }

// OnDesync installs the dangling-id callback.
func (m *Manager) OnDesync(fn func()) { m.onDesync = fn }

// OnStateChange installs the remote state transition callback.
func (m *Manager) OnStateChange(fn func(types.StateID)) { m.onState = fn }

// StateID returns the current application state id.
func (m *Manager) StateID() types.StateID { return m.stateID }

// SetStateID records a new application state id; the next reliable delta
// carries it.
func (m *Manager) SetStateID(id types.StateID) {
	if m.stateID == id {
		return
	}
	m.stateID = id
	m.stateChanged = true
}

// tracked reports whether an entity participates in replication.
func (m *Manager) tracked(id types.EntityID) bool {
	return m.world.HasComponent(id, m.markerID)
}

func (m *Manager) desync(id types.EntityID, what string) {
	m.log.Warn().
		Uint32("entity_id", uint32(id)).
		Str("op", what).
		Msg("possible desync")
	if m.onDesync != nil {
		m.onDesync()
	}
}

// observeComponent wires the add/set/remove hooks of a value-carrying
// component into the delta accumulator.
func (m *Manager) observeComponent(info *componentInfo) {
	m.world.ObserveAdd(info.id, func(id types.EntityID) {
		if m.applying || !m.tracked(id) {
			return
		}
		m.observeMutation(id)
		addToSet(m.delta.meta.toAdd, id, info.id)
		addToSet(m.delta.componentData[info.priority], id, info.id)
	})
	m.world.ObserveSet(info.id, func(id types.EntityID) {
		if m.applying || !m.tracked(id) {
			return
		}
		m.observeMutation(id)
		addToSet(m.delta.componentData[info.priority], id, info.id)
	})
	m.world.ObserveRemove(info.id, func(id types.EntityID) {
		if m.applying || !m.tracked(id) {
			return
		}
		m.observeMutation(id)
		m.recordRemove(id, info)
	})
}

// observeTag wires a presence-only component. Tags have no value updates.
func (m *Manager) observeTag(info *componentInfo) {
	m.world.ObserveAdd(info.id, func(id types.EntityID) {
		if m.applying {
			return
		}
		if info.id == m.markerID {
			m.onMarkerAdded(id)
			return
		}
		if !m.tracked(id) {
			return
		}
		m.observeMutation(id)
		addToSet(m.delta.meta.toAdd, id, info.id)
	})
	m.world.ObserveRemove(info.id, func(id types.EntityID) {
		if m.applying || !m.tracked(id) {
			return
		}
		if info.id == m.markerID {
			// Untagging withdraws the entity from replication without
			// destroying the receiver's copy.
			return
		}
		m.observeMutation(id)
		m.recordRemove(id, info)
	})
}

// onMarkerAdded snapshots the entity's entire current component set, so
// tagging after composing still replicates everything.
func (m *Manager) onMarkerAdded(id types.EntityID) {
	m.observeMutation(id)
	addToSet(m.delta.meta.toAdd, id, m.markerID)
	for _, comp := range m.world.Components(id) {
		info, ok := m.registry[comp]
		if !ok || comp == m.markerID {
			continue
		}
		addToSet(m.delta.meta.toAdd, id, comp)
		if !info.tag {
			addToSet(m.delta.componentData[info.priority], id, comp)
		}
	}
}

// recordRemove cancels a pending add when possible, so an add+remove pair
// inside one flush window nets to nothing on the wire.
func (m *Manager) recordRemove(id types.EntityID, info *componentInfo) {
	if set, ok := m.delta.meta.toAdd[id]; ok {
		if _, pending := set[info.id]; pending {
			delete(set, info.id)
			if len(set) == 0 {
				delete(m.delta.meta.toAdd, id)
			}
			if !info.tag {
				m.dropPendingValue(id, info)
			}
			return
		}
	}
	addToSet(m.delta.meta.toRemove, id, info.id)
	if !info.tag {
		m.dropPendingValue(id, info)
	}
}

func (m *Manager) dropPendingValue(id types.EntityID, info *componentInfo) {
	if set, ok := m.delta.componentData[info.priority][id]; ok {
		delete(set, info.id)
		if len(set) == 0 {
			delete(m.delta.componentData[info.priority], id)
		}
	}
}

func (m *Manager) onDestroy(id types.EntityID) {
	if m.applying || !m.tracked(id) {
		return
	}
	m.observeMutation(id)
	m.delta.resetEntity(id)
	m.delta.meta.removeEntities[id] = struct{}{}
}

func (m *Manager) onActive(id types.EntityID, enabled bool) {
	if m.applying || !m.tracked(id) {
		return
	}
	m.observeMutation(id)
	flag := types.ActiveDisable
	if enabled {
		flag = types.ActiveEnable
	}
	m.delta.meta.toUpdateActive[id] = flag
}
