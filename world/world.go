// Package world is the entity/component collaborator of the replication
// engine: a compact store that owns entity identity (with recycling
// generations), component values keyed by registered component id, and the
// mutation observers the delta engine hooks into.
//
// It deliberately implements only the surface the replication engine
// needs; it is not a general ECS query engine.
package world

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/types"
)

var (
	ErrNotAlive    = eris.New("world: entity is not alive")
	ErrNoComponent = eris.New("world: entity does not have component")
)

type record struct {
	gen     types.Generation
	alive   bool
	enabled bool
	comps   map[types.ComponentID]any
}

// World owns entity identity and component storage. It is single-threaded
// by contract: mutations, observers and iteration all run on the
// simulation goroutine.
type World struct {
	log zerolog.Logger

	// records keeps dead entries around so a recycled id resumes from its
	// last generation instead of restarting at zero.
	records map[types.EntityID]*record
	free    []types.EntityID
	nextID  types.EntityID

	deferDepth int
	pending    []func()

	addObs     map[types.ComponentID][]func(types.EntityID)
	setObs     map[types.ComponentID][]func(types.EntityID)
	removeObs  map[types.ComponentID][]func(types.EntityID)
	destroyObs []func(types.EntityID)
	activeObs  []func(types.EntityID, bool)
}

// New creates an empty world whose allocator starts at firstID. Servers
// use 1; clients pass a high floor (see netsync.LocalEntityRange) so ids
// they allocate locally never collide with replicated ones.
func New(logger zerolog.Logger, firstID types.EntityID) *World {
	if firstID == 0 {
		firstID = 1
	}
	return &World{
		log:       logger.With().Str("subsystem", "world").Logger(),
		records:   map[types.EntityID]*record{},
		nextID:    firstID,
		addObs:    map[types.ComponentID][]func(types.EntityID){},
		setObs:    map[types.ComponentID][]func(types.EntityID){},
		removeObs: map[types.ComponentID][]func(types.EntityID){},
	}
}

// Create allocates an entity, recycling a previously destroyed id when one
// is available.
func (w *World) Create() types.EntityID {
	var id types.EntityID
	if n := len(w.free); n > 0 {
		id = w.free[n-1]
		w.free = w.free[:n-1]
		rec := w.records[id]
		rec.gen++
		rec.alive = true
		rec.enabled = true
		rec.comps = map[types.ComponentID]any{}
	} else {
		id = w.nextID
		w.nextID++
		w.records[id] = &record{alive: true, enabled: true, comps: map[types.ComponentID]any{}}
	}
	return id
}

// Ensure materializes-or-fetches the entity with the given raw id. It is
// the apply-path primitive: a received snapshot may reference an entity the
// local world has never seen, because unreliable delivery or full-snapshot
// ordering can make a delta its first sighting.
func (w *World) Ensure(id types.EntityID) types.EntityID {
	if rec, ok := w.records[id]; ok {
		if !rec.alive {
			rec.gen++
			rec.alive = true
			rec.enabled = true
			rec.comps = map[types.ComponentID]any{}
			w.unfree(id)
		}
		return id
	}
	w.records[id] = &record{alive: true, enabled: true, comps: map[types.ComponentID]any{}}
	if id >= w.nextID {
		w.nextID = id + 1
	}
	return id
}

func (w *World) unfree(id types.EntityID) {
	for i, f := range w.free {
		if f == id {
			w.free = append(w.free[:i], w.free[i+1:]...)
			return
		}
	}
}

// Destroy removes the entity and all its components. Destroy observers run
// before removal so they can still read the entity's generation and
// component set.
func (w *World) Destroy(id types.EntityID) error {
	if w.deferDepth > 0 {
		w.pending = append(w.pending, func() {
			if err := w.Destroy(id); err != nil {
				w.log.Warn().Uint32("entity_id", uint32(id)).Msg("deferred destroy of dead entity")
			}
		})
		return nil
	}
	rec, ok := w.records[id]
	if !ok || !rec.alive {
		return eris.Wrapf(ErrNotAlive, "destroy %d", id)
	}
	// Remove-observers fire for each component the entity still carried;
	// destroy observers run last so they see the final component set and
	// can override anything the remove-observers recorded.
	for _, comp := range w.componentIDs(rec) {
		for _, fn := range w.removeObs[comp] {
			fn(id)
		}
	}
	for _, fn := range w.destroyObs {
		fn(id)
	}
	rec.alive = false
	rec.comps = nil
	w.free = append(w.free, id)
	return nil
}

// IsAlive reports whether id currently refers to a live entity.
func (w *World) IsAlive(id types.EntityID) bool {
	rec, ok := w.records[id]
	return ok && rec.alive
}

// Generation returns the recycling generation of id. It is valid for dead
// entities too, so the delta engine can detect reuse.
func (w *World) Generation(id types.EntityID) (types.Generation, bool) {
	rec, ok := w.records[id]
	if !ok {
		return 0, false
	}
	return rec.gen, true
}

// Enable marks the entity active and notifies active observers.
func (w *World) Enable(id types.EntityID) error {
	return w.setActive(id, true)
}

// Disable marks the entity inactive and notifies active observers.
func (w *World) Disable(id types.EntityID) error {
	return w.setActive(id, false)
}

func (w *World) setActive(id types.EntityID, enabled bool) error {
	rec, ok := w.records[id]
	if !ok || !rec.alive {
		return eris.Wrapf(ErrNotAlive, "set active %d", id)
	}
	if rec.enabled == enabled {
		return nil
	}
	rec.enabled = enabled
	for _, fn := range w.activeObs {
		fn(id, enabled)
	}
	return nil
}

// IsEnabled reports the entity's active flag.
func (w *World) IsEnabled(id types.EntityID) bool {
	rec, ok := w.records[id]
	return ok && rec.alive && rec.enabled
}

// AddComponent attaches a component with its zero value. Adding a
// component the entity already has is a no-op.
func (w *World) AddComponent(id types.EntityID, comp types.ComponentID) error {
	if w.deferDepth > 0 {
		w.pending = append(w.pending, func() { _ = w.AddComponent(id, comp) })
		return nil
	}
	rec, ok := w.records[id]
	if !ok || !rec.alive {
		return eris.Wrapf(ErrNotAlive, "add component %d to %d", comp, id)
	}
	if _, exists := rec.comps[comp]; exists {
		return nil
	}
	rec.comps[comp] = nil
	for _, fn := range w.addObs[comp] {
		fn(id)
	}
	return nil
}

// SetComponent writes a component value, attaching the component first if
// the entity does not have it yet.
func (w *World) SetComponent(id types.EntityID, comp types.ComponentID, value any) error {
	rec, ok := w.records[id]
	if !ok || !rec.alive {
		return eris.Wrapf(ErrNotAlive, "set component %d on %d", comp, id)
	}
	if _, exists := rec.comps[comp]; !exists {
		if err := w.AddComponent(id, comp); err != nil {
			return err
		}
		if w.deferDepth > 0 {
			w.pending = append(w.pending, func() { _ = w.SetComponent(id, comp, value) })
			return nil
		}
	}
	rec.comps[comp] = value
	for _, fn := range w.setObs[comp] {
		fn(id)
	}
	return nil
}

// Component returns the stored value for a component of the entity.
func (w *World) Component(id types.EntityID, comp types.ComponentID) (any, error) {
	rec, ok := w.records[id]
	if !ok || !rec.alive {
		return nil, eris.Wrapf(ErrNotAlive, "get component %d of %d", comp, id)
	}
	v, exists := rec.comps[comp]
	if !exists {
		return nil, eris.Wrapf(ErrNoComponent, "component %d of %d", comp, id)
	}
	return v, nil
}

// HasComponent reports whether the live entity carries the component.
func (w *World) HasComponent(id types.EntityID, comp types.ComponentID) bool {
	rec, ok := w.records[id]
	if !ok || !rec.alive {
		return false
	}
	_, exists := rec.comps[comp]
	return exists
}

// RemoveComponent detaches a component from the entity.
func (w *World) RemoveComponent(id types.EntityID, comp types.ComponentID) error {
	if w.deferDepth > 0 {
		w.pending = append(w.pending, func() { _ = w.RemoveComponent(id, comp) })
		return nil
	}
	rec, ok := w.records[id]
	if !ok || !rec.alive {
		return eris.Wrapf(ErrNotAlive, "remove component %d from %d", comp, id)
	}
	if _, exists := rec.comps[comp]; !exists {
		return eris.Wrapf(ErrNoComponent, "remove component %d from %d", comp, id)
	}
	// Remove-observers run before the value disappears so they can still
	// read it, matching what Destroy does.
	for _, fn := range w.removeObs[comp] {
		fn(id)
	}
	delete(rec.comps, comp)
	return nil
}

// Components returns the entity's component ids in ascending order.
func (w *World) Components(id types.EntityID) []types.ComponentID {
	rec, ok := w.records[id]
	if !ok || !rec.alive {
		return nil
	}
	return w.componentIDs(rec)
}

func (w *World) componentIDs(rec *record) []types.ComponentID {
	ids := make([]types.ComponentID, 0, len(rec.comps))
	for comp := range rec.comps {
		ids = append(ids, comp)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Each visits every live entity in ascending id order.
func (w *World) Each(fn func(types.EntityID)) {
	for _, id := range w.aliveIDs() {
		fn(id)
	}
}

// EachWith visits every live entity carrying comp, in ascending id order.
func (w *World) EachWith(comp types.ComponentID, fn func(types.EntityID)) {
	for _, id := range w.aliveIDs() {
		if _, exists := w.records[id].comps[comp]; exists {
			fn(id)
		}
	}
}

func (w *World) aliveIDs() []types.EntityID {
	ids := make([]types.EntityID, 0, len(w.records))
	for id, rec := range w.records {
		if rec.alive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
