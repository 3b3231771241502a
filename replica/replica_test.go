package replica

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"

	"github.com/driftline/netsync/codec"
	"github.com/driftline/netsync/physics"
	"github.com/driftline/netsync/types"
	"github.com/driftline/netsync/world"
)

type Position struct {
	X, Y float32
}

func (Position) Name() string { return "position" }

func (p Position) Encode(w *codec.Writer) {
	w.WriteF32(p.X)
	w.WriteF32(p.Y)
}

func (p *Position) Decode(r *codec.Reader) error {
	var err error
	if p.X, err = r.ReadF32(); err != nil {
		return err
	}
	p.Y, err = r.ReadF32()
	return err
}

type Velocity struct {
	X, Y float32
}

func (Velocity) Name() string { return "velocity" }

func (v Velocity) Encode(w *codec.Writer) {
	w.WriteF32(v.X)
	w.WriteF32(v.Y)
}

func (v *Velocity) Decode(r *codec.Reader) error {
	var err error
	if v.X, err = r.ReadF32(); err != nil {
		return err
	}
	v.Y, err = r.ReadF32()
	return err
}

type Enemy struct{}

func (Enemy) Name() string { return "enemy" }

type side struct {
	world   *world.World
	shapes  *physics.Store
	mgr     *Manager
	tick    types.Tick
	posID   types.ComponentID
	velID   types.ComponentID
	enemyID types.ComponentID
}

func newSide(t *testing.T, firstID types.EntityID) *side {
	t.Helper()
	s := &side{
		world:  world.New(zerolog.Nop(), firstID),
		shapes: physics.NewStore(),
		tick:   1,
	}
	var err error
	s.mgr, err = New(zerolog.Nop(), s.world, s.shapes, func() types.Tick { return s.tick })
	assert.NilError(t, err)
	s.posID, err = RegisterComponent[Position](s.mgr, types.PriorityHigh)
	assert.NilError(t, err)
	s.velID, err = RegisterComponent[Velocity](s.mgr, types.PriorityLow)
	assert.NilError(t, err)
	s.enemyID, err = RegisterTag[Enemy](s.mgr)
	assert.NilError(t, err)
	return s
}

func newPair(t *testing.T) (server, client *side) {
	t.Helper()
	return newSide(t, 1), newSide(t, 1_000_000)
}

// spawn creates a tracked entity with a position on the server.
func (s *side) spawn(t *testing.T, pos Position) types.EntityID {
	t.Helper()
	id := s.world.Create()
	assert.NilError(t, AddComponentTo[Networked](s.mgr, id))
	assert.NilError(t, SetComponent(s.mgr, id, pos))
	return id
}

func (s *side) flush(t *testing.T) (reliable, unreliable []byte) {
	t.Helper()
	reliable, unreliable, err := s.mgr.CreateDeltaSnapshot()
	assert.NilError(t, err)
	s.tick++
	return reliable, unreliable
}

func TestDeltaRoundTrip(t *testing.T) {
	server, client := newPair(t)

	id := server.spawn(t, Position{X: 3, Y: 4})
	assert.NilError(t, SetComponent(server.mgr, id, Velocity{X: 1, Y: -1}))

	reliable, unreliable := server.flush(t)
	assert.Assert(t, reliable != nil)
	assert.Assert(t, unreliable != nil)

	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(unreliable))

	assert.Assert(t, client.world.IsAlive(id))
	pos, err := GetComponent[Position](client.mgr, id)
	assert.NilError(t, err)
	assert.Equal(t, pos, Position{X: 3, Y: 4})
	vel, err := GetComponent[Velocity](client.mgr, id)
	assert.NilError(t, err)
	assert.Equal(t, vel, Velocity{X: 1, Y: -1})
}

func TestEmptyFlushProducesNothing(t *testing.T) {
	server, _ := newPair(t)

	reliable, unreliable := server.flush(t)
	assert.Assert(t, reliable == nil)
	assert.Assert(t, unreliable == nil)

	// Untracked entities do not make it onto the wire either.
	local := server.world.Create()
	assert.NilError(t, server.world.SetComponent(local, server.posID, Position{X: 9}))
	reliable, unreliable = server.flush(t)
	assert.Assert(t, reliable == nil)
	assert.Assert(t, unreliable == nil)
}

func TestPriorityIsolation(t *testing.T) {
	server, client := newPair(t)

	id := server.spawn(t, Position{X: 1})
	reliable, unreliable := server.flush(t)
	assert.Assert(t, unreliable == nil)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))

	// A low-priority-only change never touches the reliable channel.
	assert.NilError(t, SetComponent(server.mgr, id, Velocity{X: 5}))
	reliable, unreliable = server.flush(t)
	assert.Assert(t, reliable == nil)
	assert.Assert(t, unreliable != nil)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(unreliable))

	vel, err := GetComponent[Velocity](client.mgr, id)
	assert.NilError(t, err)
	assert.Equal(t, vel.X, float32(5))
}

func TestStaleUnreliableDropped(t *testing.T) {
	server, client := newPair(t)
	id := server.spawn(t, Position{})

	reliable, _ := server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))

	server.tick = 5
	assert.NilError(t, SetComponent(server.mgr, id, Velocity{X: 50}))
	_, newer := server.flush(t)

	server.tick = 3
	assert.NilError(t, SetComponent(server.mgr, id, Velocity{X: 30}))
	_, older := server.flush(t)

	// Reordered delivery: the newer message lands first, the older one
	// must not roll the value back.
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(newer))
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(older))

	vel, err := GetComponent[Velocity](client.mgr, id)
	assert.NilError(t, err)
	assert.Equal(t, vel.X, float32(50))
}

func TestArchetypeCompressionSingleGroup(t *testing.T) {
	set := map[types.EntityID]compSet{}
	for i := types.EntityID(1); i <= 100; i++ {
		addToSet(set, i, 3)
		addToSet(set, i, 7)
	}
	groups := groupByArchetype(set)
	assert.Equal(t, len(groups), 1)
	assert.DeepEqual(t, groups[0].comps, []types.ComponentID{3, 7})
	assert.Equal(t, len(groups[0].entities), 100)
	for i := 1; i < len(groups[0].entities); i++ {
		assert.Assert(t, groups[0].entities[i-1] < groups[0].entities[i])
	}
}

func TestArchetypeGroupingDeterministic(t *testing.T) {
	set := map[types.EntityID]compSet{}
	addToSet(set, 5, 2)
	addToSet(set, 1, 2)
	addToSet(set, 3, 2)
	addToSet(set, 3, 9)
	addToSet(set, 8, 9)

	a := groupByArchetype(set)
	for i := 0; i < 10; i++ {
		assert.DeepEqual(t, groupByArchetype(set), a, cmp.AllowUnexported(archetypeGroup{}))
	}
	assert.Equal(t, len(a), 3)
}

func TestAddRemoveWithinOneFlushNetsToNothing(t *testing.T) {
	server, _ := newPair(t)
	id := server.spawn(t, Position{})
	_, _ = server.flush(t)

	assert.NilError(t, SetComponent(server.mgr, id, Velocity{X: 1}))
	assert.NilError(t, RemoveComponentFrom[Velocity](server.mgr, id))

	reliable, unreliable := server.flush(t)
	assert.Assert(t, reliable == nil)
	assert.Assert(t, unreliable == nil)
}

func TestRecycledEntityResetsPendingState(t *testing.T) {
	server, client := newPair(t)

	id := server.spawn(t, Position{X: 1})
	reliable, _ := server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))
	assert.Assert(t, client.world.IsAlive(id))

	// Destroy and recycle inside one flush window. The receiver must tear
	// down the old incarnation before the new one's data applies.
	assert.NilError(t, server.world.Destroy(id))
	recycled := server.spawn(t, Position{X: 42})
	assert.Equal(t, recycled, id)

	reliable, _ = server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))

	assert.Assert(t, client.world.IsAlive(id))
	pos, err := GetComponent[Position](client.mgr, id)
	assert.NilError(t, err)
	assert.Equal(t, pos.X, float32(42))
	assert.Assert(t, !client.world.HasComponent(id, client.velID))
}

func TestDestroyReplicates(t *testing.T) {
	server, client := newPair(t)
	id := server.spawn(t, Position{})
	reliable, _ := server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))

	assert.NilError(t, server.world.Destroy(id))
	reliable, _ = server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))
	assert.Assert(t, !client.world.IsAlive(id))
}

func TestActiveFlagReplicates(t *testing.T) {
	server, client := newPair(t)
	id := server.spawn(t, Position{})
	reliable, _ := server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))

	assert.NilError(t, server.world.Disable(id))
	reliable, _ = server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))
	assert.Assert(t, !client.world.IsEnabled(id))

	assert.NilError(t, server.world.Enable(id))
	reliable, _ = server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))
	assert.Assert(t, client.world.IsEnabled(id))
}

func TestDanglingIDCountsDesync(t *testing.T) {
	server, client := newPair(t)
	desyncs := 0
	client.mgr.OnDesync(func() { desyncs++ })

	// The client never saw this entity; destroying it must not error, only
	// warn and count.
	id := server.spawn(t, Position{})
	_, _ = server.flush(t)
	assert.NilError(t, server.world.Destroy(id))
	reliable, _ := server.flush(t)

	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))
	assert.Equal(t, desyncs, 1)
}

func TestCorruptPayloadIsRecoverable(t *testing.T) {
	server, client := newPair(t)
	server.spawn(t, Position{X: 1})
	reliable, _ := server.flush(t)

	err := client.mgr.ApplyDeltaSnapshot(reliable[:len(reliable)-3])
	assert.Assert(t, err != nil)

	// Trailing garbage is detected too.
	err = client.mgr.ApplyDeltaSnapshot(append(append([]byte{}, reliable...), 0xFF))
	assert.Assert(t, err != nil)
}

func TestFullSnapshotRebuild(t *testing.T) {
	server, client := newPair(t)

	a := server.spawn(t, Position{X: 1})
	b := server.spawn(t, Position{X: 2})
	assert.NilError(t, SetComponent(server.mgr, b, Velocity{Y: 7}))
	assert.NilError(t, AddComponentTo[Enemy](server.mgr, b))
	server.mgr.SetStateID(9)

	full, err := server.mgr.CreateFullSnapshot()
	assert.NilError(t, err)

	// Give the client a stale tracked entity the snapshot must clear.
	stale := client.spawn(t, Position{X: 99})
	assert.NilError(t, client.mgr.ApplyFullSnapshot(full))

	assert.Assert(t, !client.world.IsAlive(stale))
	assert.Assert(t, client.world.IsAlive(a))
	assert.Assert(t, client.world.IsAlive(b))
	assert.Equal(t, client.mgr.StateID(), types.StateID(9))
	assert.Assert(t, client.world.HasComponent(b, client.enemyID))
	vel, err := GetComponent[Velocity](client.mgr, b)
	assert.NilError(t, err)
	assert.Equal(t, vel.Y, float32(7))
}

func TestFullSnapshotIdempotent(t *testing.T) {
	server, client := newPair(t)
	server.spawn(t, Position{X: 5})
	server.spawn(t, Position{X: 6})

	full, err := server.mgr.CreateFullSnapshot()
	assert.NilError(t, err)

	assert.NilError(t, client.mgr.ApplyFullSnapshot(full))
	first := client.mgr.Info()
	assert.NilError(t, client.mgr.ApplyFullSnapshot(full))
	second := client.mgr.Info()
	assert.DeepEqual(t, first.Entities, second.Entities)
}

func TestAppliedSnapshotDoesNotEcho(t *testing.T) {
	server, client := newPair(t)
	server.spawn(t, Position{X: 1})
	reliable, _ := server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))

	// Applying a snapshot must not queue outgoing changes on the receiver.
	echoed, echoedU := client.flush(t)
	assert.Assert(t, echoed == nil)
	assert.Assert(t, echoedU == nil)
}

func TestPhysicsGeometryReplicates(t *testing.T) {
	server, client := newPair(t)

	shapeID := server.shapes.CreateCircle(types.Vec2{X: 1, Y: 2}, 0.5, 3)
	id := server.spawn(t, Position{})
	assert.NilError(t, SetComponent(server.mgr, id, ShapeRef{Shape: shapeID}))

	reliable, _ := server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))

	shape, err := client.shapes.Get(shapeID)
	assert.NilError(t, err)
	assert.Equal(t, shape.Kind(), physics.KindCircle)
	assert.Equal(t, shape.Radius(), float32(3))
	assert.Equal(t, shape.Pos(), types.Vec2{X: 1, Y: 2})

	// Moving the shape marks it dirty again; only then does it reappear.
	sv, err := server.shapes.Get(shapeID)
	assert.NilError(t, err)
	sv.SetPos(types.Vec2{X: 8, Y: 9})
	reliable, _ = server.flush(t)
	assert.Assert(t, reliable != nil)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))
	shape, err = client.shapes.Get(shapeID)
	assert.NilError(t, err)
	assert.Equal(t, shape.Pos(), types.Vec2{X: 8, Y: 9})

	// A quiet shape stays off the wire.
	assert.NilError(t, server.world.Destroy(id))
	_, _ = server.flush(t)
	reliable, _ = server.flush(t)
	assert.Assert(t, reliable == nil)
}

func TestPolygonGeometryRoundTrip(t *testing.T) {
	server, client := newPair(t)

	verts := []types.Vec2{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}
	shapeID, err := server.shapes.CreatePolygon(types.Vec2{}, 0, verts)
	assert.NilError(t, err)
	id := server.spawn(t, Position{})
	assert.NilError(t, SetComponent(server.mgr, id, ShapeRef{Shape: shapeID}))

	reliable, _ := server.flush(t)
	assert.NilError(t, client.mgr.ApplyDeltaSnapshot(reliable))

	shape, err := client.shapes.Get(shapeID)
	assert.NilError(t, err)
	assert.Equal(t, shape.Kind(), physics.KindPolygon)
	assert.Equal(t, shape.VertexCount(), 4)
}

func TestSchemaValidation(t *testing.T) {
	a := newSide(t, 1)
	b := newSide(t, 1)

	local, err := a.mgr.Schema()
	assert.NilError(t, err)
	assert.NilError(t, b.mgr.ValidateSchema(local))

	// A registry with an extra component is rejected.
	c := newSide(t, 1)
	_, err = RegisterTag[taggedExtra](c.mgr)
	assert.NilError(t, err)
	mismatched, err := c.mgr.Schema()
	assert.NilError(t, err)
	err = b.mgr.ValidateSchema(mismatched)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

type taggedExtra struct{}

func (taggedExtra) Name() string { return "extra" }

func TestDuplicateRegistrationRejected(t *testing.T) {
	s := newSide(t, 1)
	_, err := RegisterComponent[Position](s.mgr, types.PriorityHigh)
	assert.ErrorIs(t, err, ErrDuplicateComponent)
}

func TestWorldInfo(t *testing.T) {
	s := newSide(t, 1)
	id := s.spawn(t, Position{})
	assert.NilError(t, s.world.Disable(id))

	info := s.mgr.Info()
	assert.Equal(t, len(info.Entities), 1)
	assert.Equal(t, info.Entities[0].ID, id)
	assert.Equal(t, info.Entities[0].Enabled, false)
	assert.DeepEqual(t, info.Entities[0].Components, []string{"networked", "position"})

	bz, err := s.mgr.InfoJSON()
	assert.NilError(t, err)
	assert.Assert(t, len(bz) > 0)
}
