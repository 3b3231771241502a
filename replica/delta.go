package replica

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/codec"
	"github.com/driftline/netsync/physics"
	"github.com/driftline/netsync/types"
)

var (
	ErrBadHeader  = eris.New("unexpected message header")
	ErrBadPayload = eris.New("malformed snapshot payload")
)

// CreateDeltaSnapshot drains the accumulated changes into at most two
// messages: a reliable one (state, metadata, physics, high-priority
// component values) and an unreliable one (tick-stamped low-priority
// component values). A nil slice means that channel has nothing to say
// this tick.
//
// Flushing while world mutations are deferred is an invariant violation:
// the queue would dodge the observers and silently split one tick's
// changes across two snapshots.
func (m *Manager) CreateDeltaSnapshot() (reliable, unreliable []byte, err error) {
	if m.world.IsDeferred() {
		m.log.Panic().Msg("snapshot flush while world mutations are deferred")
	}
	m.pollPhysics()

	reliable, err = m.buildReliable()
	if err != nil {
		return nil, nil, err
	}
	unreliable, err = m.buildUnreliable()
	if err != nil {
		return nil, nil, err
	}

	m.delta.resetAll()
	m.stateChanged = false
	return reliable, unreliable, nil
}

// pollPhysics sweeps shapes referenced by tracked entities and queues the
// ones whose geometry changed since the last flush. Shapes are polled, not
// observed: geometry mutates far too often for per-call hooks.
func (m *Manager) pollPhysics() {
	seen := map[types.PhysicsID]struct{}{}
	m.world.EachWith(m.shapeRefID, func(id types.EntityID) {
		if !m.tracked(id) {
			return
		}
		ref, err := GetComponent[ShapeRef](m, id)
		if err != nil {
			return
		}
		if _, dup := seen[ref.Shape]; dup {
			return
		}
		seen[ref.Shape] = struct{}{}
		shape, err := m.shapes.Get(ref.Shape)
		if err != nil || !shape.NetworkDirty() {
			return
		}
		shape.ClearNetworkDirty()
		k := shape.Kind()
		m.delta.physicsShapes[k] = append(m.delta.physicsShapes[k], ref.Shape)
	})
}

func (m *Manager) buildReliable() ([]byte, error) {
	var flags uint8
	if m.stateChanged {
		flags |= types.FlagState
	}
	if len(m.delta.physicsShapes) > 0 {
		flags |= types.FlagPhysics
	}
	if m.delta.meta.canSerialize() {
		flags |= types.FlagMetadata
	}
	high := m.delta.componentData[types.PriorityHigh]
	if len(high) > 0 {
		flags |= types.FlagComponents
	}
	if flags == 0 {
		return nil, nil
	}

	w := codec.NewWriter()
	w.WriteHeader(types.HeaderDeltaSnapshot)
	w.WriteU8(flags)
	if flags&types.FlagState != 0 {
		w.WriteStateID(m.stateID)
	}
	if flags&types.FlagMetadata != 0 {
		m.writeMetaData(w)
	}
	if flags&types.FlagPhysics != 0 {
		if err := m.writePhysics(w); err != nil {
			return nil, err
		}
	}
	if flags&types.FlagComponents != 0 {
		if err := m.writeArchetypes(w, groupByArchetype(high), true); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

func (m *Manager) buildUnreliable() ([]byte, error) {
	low := m.delta.componentData[types.PriorityLow]
	if len(low) == 0 {
		return nil, nil
	}
	w := codec.NewWriter()
	w.WriteHeader(types.HeaderDeltaSnapshot)
	w.WriteU8(types.FlagLowPriority | types.FlagComponents)
	w.WriteTick(m.tickNow())
	if err := m.writeArchetypes(w, groupByArchetype(low), true); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (m *Manager) writeMetaData(w *codec.Writer) {
	removals := make([]types.EntityID, 0, len(m.delta.meta.removeEntities))
	for id := range m.delta.meta.removeEntities {
		removals = append(removals, id)
	}
	sort.Slice(removals, func(i, j int) bool { return removals[i] < removals[j] })
	w.WriteCount(len(removals))
	for _, id := range removals {
		w.WriteEntityID(id)
	}

	_ = m.writeArchetypes(w, groupByArchetype(m.delta.meta.toAdd), false)
	_ = m.writeArchetypes(w, groupByArchetype(m.delta.meta.toRemove), false)

	active := make([]types.EntityID, 0, len(m.delta.meta.toUpdateActive))
	for id := range m.delta.meta.toUpdateActive {
		active = append(active, id)
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	w.WriteCount(len(active))
	for _, id := range active {
		w.WriteEntityID(id)
		w.WriteU8(m.delta.meta.toUpdateActive[id])
	}
}

func (m *Manager) writePhysics(w *codec.Writer) error {
	kinds := make([]physics.Kind, 0, len(m.delta.physicsShapes))
	for k := range m.delta.physicsShapes {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	w.WriteCount(len(kinds))
	for _, k := range kinds {
		w.WriteU8(uint8(k))
		ids := m.delta.physicsShapes[k]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		w.WriteCount(len(ids))
		for _, id := range ids {
			shape, err := m.shapes.Get(id)
			if err != nil {
				return eris.Wrapf(err, "serializing shape %d", id)
			}
			w.WritePhysicsID(id)
			shape.EncodeGeometry(w)
		}
	}
	return nil
}

// ApplyDeltaSnapshot writes a received delta into the world. Entities the
// payload references but the world has never seen are materialized;
// dangling references on destructive operations are skipped with a
// desync warning instead. Stale unreliable messages are dropped whole.
func (m *Manager) ApplyDeltaSnapshot(data []byte) error {
	r := codec.NewReader(data)
	header, err := r.ReadHeader()
	if err != nil {
		return err
	}
	if header != types.HeaderDeltaSnapshot {
		return eris.Wrapf(ErrBadHeader, "got %d", header)
	}
	flags, err := r.ReadU8()
	if err != nil {
		return err
	}

	if flags&types.FlagLowPriority != 0 {
		tick, err := r.ReadTick()
		if err != nil {
			return err
		}
		if tick <= m.lastUnreliableTick {
			m.log.Debug().
				Uint64("tick", uint64(tick)).
				Uint64("applied_tick", uint64(m.lastUnreliableTick)).
				Msg("dropping stale unreliable snapshot")
			r.SkipRest()
			return nil
		}
		m.lastUnreliableTick = tick
	}

	m.applying = true
	defer func() { m.applying = false }()

	if flags&types.FlagState != 0 {
		id, err := r.ReadStateID()
		if err != nil {
			return err
		}
		m.setRemoteState(id)
	}
	if flags&types.FlagMetadata != 0 {
		if err := m.applyMetaData(r); err != nil {
			return err
		}
	}
	if flags&types.FlagPhysics != 0 {
		if err := m.applyPhysics(r); err != nil {
			return err
		}
	}
	if flags&types.FlagComponents != 0 {
		if err := m.applyComponentValues(r); err != nil {
			return err
		}
	}
	if err := r.Done(); err != nil {
		return eris.Wrap(ErrBadPayload, err.Error())
	}
	return nil
}

func (m *Manager) setRemoteState(id types.StateID) {
	if m.stateID == id {
		return
	}
	m.stateID = id
	if m.onState != nil {
		m.onState(id)
	}
}

func (m *Manager) applyMetaData(r *codec.Reader) error {
	removeCount, err := r.ReadCount(4)
	if err != nil {
		return err
	}
	for i := 0; i < removeCount; i++ {
		id, err := r.ReadEntityID()
		if err != nil {
			return err
		}
		if !m.world.IsAlive(id) {
			m.desync(id, "destroy")
			continue
		}
		if err := m.world.Destroy(id); err != nil {
			m.desync(id, "destroy")
		}
	}

	err = m.readArchetypes(r, false, func(id types.EntityID, comps []types.ComponentID, _ *codec.SectionReader) error {
		m.world.Ensure(id)
		for _, c := range comps {
			info, err := m.infoByID(c)
			if err != nil {
				m.log.Panic().Err(err).Msg("snapshot references unregistered component")
			}
			if err := m.world.AddComponent(id, c); err != nil {
				return err
			}
			if info.tag {
				continue
			}
			// Attach arrived before any value update; materialize the
			// zero value without clobbering one that is already here.
			if v, err := m.world.Component(id, c); err == nil && v == nil {
				if err := m.world.SetComponent(id, c, info.newValue()); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "applying component adds")
	}

	err = m.readArchetypes(r, false, func(id types.EntityID, comps []types.ComponentID, _ *codec.SectionReader) error {
		if !m.world.IsAlive(id) {
			m.desync(id, "remove component")
			return nil
		}
		for _, c := range comps {
			if err := m.world.RemoveComponent(id, c); err != nil {
				m.desync(id, "remove component")
			}
		}
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "applying component removes")
	}

	activeCount, err := r.ReadCount(5)
	if err != nil {
		return err
	}
	for i := 0; i < activeCount; i++ {
		id, err := r.ReadEntityID()
		if err != nil {
			return err
		}
		flag, err := r.ReadU8()
		if err != nil {
			return err
		}
		if !m.world.IsAlive(id) {
			m.desync(id, "set active")
			continue
		}
		switch {
		case flag&types.ActiveEnable != 0:
			_ = m.world.Enable(id)
		case flag&types.ActiveDisable != 0:
			_ = m.world.Disable(id)
		}
	}
	return nil
}

func (m *Manager) applyPhysics(r *codec.Reader) error {
	kindCount, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	for i := 0; i < kindCount; i++ {
		rawKind, err := r.ReadU8()
		if err != nil {
			return err
		}
		kind := physics.Kind(rawKind)
		shapeCount, err := r.ReadCount(4)
		if err != nil {
			return err
		}
		for j := 0; j < shapeCount; j++ {
			id, err := r.ReadPhysicsID()
			if err != nil {
				return err
			}
			shape, err := m.shapes.Ensure(id, kind)
			if err != nil {
				// Kind changed server-side; rebuild from scratch.
				_ = m.shapes.Remove(id)
				if shape, err = m.shapes.Ensure(id, kind); err != nil {
					return err
				}
			}
			if err := shape.DecodeGeometry(r); err != nil {
				return eris.Wrapf(err, "decoding shape %d", id)
			}
		}
	}
	return nil
}

func (m *Manager) applyComponentValues(r *codec.Reader) error {
	return m.readArchetypes(r, true, func(id types.EntityID, comps []types.ComponentID, sec *codec.SectionReader) error {
		m.world.Ensure(id)
		for _, c := range comps {
			info, err := m.infoByID(c)
			if err != nil {
				m.log.Panic().Err(err).Msg("snapshot references unregistered component")
			}
			value, err := info.decode(r)
			if err != nil {
				m.log.Warn().
					Err(err).
					Uint32("entity_id", uint32(id)).
					Str("component", info.name).
					Msg("skipping undecodable value section")
				return sec.Skip(r)
			}
			if err := m.world.SetComponent(id, c, value); err != nil {
				return err
			}
		}
		return sec.End(r)
	})
}
