package replica

import (
	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/codec"
	"github.com/driftline/netsync/types"
)

// CreateFullSnapshot serializes the complete replicated state: every
// tracked entity's tags, component values, and referenced physics
// geometry. It does not touch the delta accumulator, so a full snapshot
// for one late joiner never disturbs the incremental stream everyone else
// is following.
func (m *Manager) CreateFullSnapshot() ([]byte, error) {
	var full fullSnapshot
	full.resetAll()

	seenShapes := map[types.PhysicsID]struct{}{}
	m.world.EachWith(m.markerID, func(id types.EntityID) {
		for _, c := range m.world.Components(id) {
			info, ok := m.registry[c]
			if !ok {
				continue
			}
			if info.tag {
				addToSet(full.tags, id, c)
			} else {
				addToSet(full.components, id, c)
			}
			if c != m.shapeRefID {
				continue
			}
			ref, err := GetComponent[ShapeRef](m, id)
			if err != nil {
				continue
			}
			if _, dup := seenShapes[ref.Shape]; dup {
				continue
			}
			seenShapes[ref.Shape] = struct{}{}
			shape, err := m.shapes.Get(ref.Shape)
			if err != nil {
				continue
			}
			k := shape.Kind()
			full.physicsShapes[k] = append(full.physicsShapes[k], ref.Shape)
		}
	})

	w := codec.NewWriter()
	w.WriteHeader(types.HeaderFullSnapshot)
	w.WriteStateID(m.stateID)
	if err := m.writeArchetypes(w, groupByArchetype(full.tags), false); err != nil {
		return nil, err
	}
	if err := m.writeArchetypes(w, groupByArchetype(full.components), true); err != nil {
		return nil, err
	}
	shapes := m.delta.physicsShapes
	m.delta.physicsShapes = full.physicsShapes
	err := m.writePhysics(w)
	m.delta.physicsShapes = shapes
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// ApplyFullSnapshot replaces all tracked state with the payload's. Every
// tracked entity is destroyed first, which makes the operation idempotent:
// applying the same snapshot twice lands on the same world.
func (m *Manager) ApplyFullSnapshot(data []byte) error {
	r := codec.NewReader(data)
	header, err := r.ReadHeader()
	if err != nil {
		return err
	}
	if header != types.HeaderFullSnapshot {
		return eris.Wrapf(ErrBadHeader, "got %d", header)
	}

	m.applying = true
	defer func() { m.applying = false }()

	var stale []types.EntityID
	m.world.EachWith(m.markerID, func(id types.EntityID) {
		stale = append(stale, id)
	})
	for _, id := range stale {
		if err := m.world.Destroy(id); err != nil {
			return eris.Wrapf(err, "clearing tracked entity %d", id)
		}
	}

	stateID, err := r.ReadStateID()
	if err != nil {
		return err
	}
	m.setRemoteState(stateID)

	err = m.readArchetypes(r, false, func(id types.EntityID, comps []types.ComponentID, _ *codec.SectionReader) error {
		m.world.Ensure(id)
		for _, c := range comps {
			if _, err := m.infoByID(c); err != nil {
				m.log.Panic().Err(err).Msg("snapshot references unregistered component")
			}
			if err := m.world.AddComponent(id, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "applying tags")
	}

	if err := m.applyComponentValues(r); err != nil {
		return eris.Wrap(err, "applying component values")
	}
	if err := m.applyPhysics(r); err != nil {
		return eris.Wrap(err, "applying physics geometry")
	}
	if err := r.Done(); err != nil {
		return eris.Wrap(ErrBadPayload, err.Error())
	}
	return nil
}

// RequestFullSnapshot builds the single-byte resync request.
func RequestFullSnapshot() []byte {
	w := codec.NewWriter()
	w.WriteHeader(types.HeaderRequestFullSnapshot)
	return w.Bytes()
}
