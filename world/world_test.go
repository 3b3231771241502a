package world_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/netsync/types"
	"github.com/driftline/netsync/world"
)

const (
	compHealth types.ComponentID = 1
	compArmor  types.ComponentID = 2
)

func newWorld() *world.World {
	return world.New(zerolog.Nop(), 1)
}

func TestCreateAllocatesFromFirstID(t *testing.T) {
	w := world.New(zerolog.Nop(), 100)
	assert.Equal(t, types.EntityID(100), w.Create())
	assert.Equal(t, types.EntityID(101), w.Create())
}

func TestRecycleAdvancesGeneration(t *testing.T) {
	w := newWorld()
	id := w.Create()
	gen, ok := w.Generation(id)
	require.True(t, ok)
	assert.Equal(t, types.Generation(0), gen)

	require.NoError(t, w.Destroy(id))
	assert.False(t, w.IsAlive(id))

	// The generation survives death so reuse is detectable.
	gen, ok = w.Generation(id)
	require.True(t, ok)
	assert.Equal(t, types.Generation(0), gen)

	recycled := w.Create()
	assert.Equal(t, id, recycled)
	gen, ok = w.Generation(recycled)
	require.True(t, ok)
	assert.Equal(t, types.Generation(1), gen)
}

func TestEnsureMaterializesUnknownID(t *testing.T) {
	w := newWorld()
	id := w.Ensure(42)
	assert.Equal(t, types.EntityID(42), id)
	assert.True(t, w.IsAlive(id))

	// The allocator must not hand out an id Ensure already claimed.
	assert.Equal(t, types.EntityID(43), w.Create())
}

func TestEnsureRevivesDeadEntity(t *testing.T) {
	w := newWorld()
	id := w.Create()
	require.NoError(t, w.SetComponent(id, compHealth, 10))
	require.NoError(t, w.Destroy(id))

	revived := w.Ensure(id)
	assert.Equal(t, id, revived)
	assert.True(t, w.IsAlive(id))
	assert.False(t, w.HasComponent(id, compHealth))
	gen, _ := w.Generation(id)
	assert.Equal(t, types.Generation(1), gen)

	// The revived id left the free list, so Create allocates a fresh one.
	assert.NotEqual(t, id, w.Create())
}

func TestComponentLifecycle(t *testing.T) {
	w := newWorld()
	id := w.Create()

	require.NoError(t, w.AddComponent(id, compHealth))
	assert.True(t, w.HasComponent(id, compHealth))

	// Added but never set components read back as nil.
	v, err := w.Component(id, compHealth)
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, w.SetComponent(id, compHealth, 25))
	v, err = w.Component(id, compHealth)
	require.NoError(t, err)
	assert.Equal(t, 25, v)

	require.NoError(t, w.RemoveComponent(id, compHealth))
	assert.False(t, w.HasComponent(id, compHealth))
	_, err = w.Component(id, compHealth)
	assert.ErrorIs(t, err, world.ErrNoComponent)
}

func TestDeadEntityRejectsMutation(t *testing.T) {
	w := newWorld()
	id := w.Create()
	require.NoError(t, w.Destroy(id))

	assert.ErrorIs(t, w.AddComponent(id, compHealth), world.ErrNotAlive)
	assert.ErrorIs(t, w.SetComponent(id, compHealth, 1), world.ErrNotAlive)
	assert.ErrorIs(t, w.Destroy(id), world.ErrNotAlive)
	assert.ErrorIs(t, w.Enable(id), world.ErrNotAlive)
}

func TestDeferredMutationsApplyAtScopeEnd(t *testing.T) {
	w := newWorld()
	id := w.Create()
	require.NoError(t, w.SetComponent(id, compHealth, 5))

	w.BeginDeferred()
	require.NoError(t, w.Destroy(id))
	assert.True(t, w.IsAlive(id), "destroy must queue inside a deferred scope")

	other := w.Create()
	require.NoError(t, w.AddComponent(other, compArmor))
	assert.False(t, w.HasComponent(other, compArmor))
	w.EndDeferred()

	assert.False(t, w.IsAlive(id))
	assert.True(t, w.HasComponent(other, compArmor))
}

func TestDeferredScopesNest(t *testing.T) {
	w := newWorld()
	id := w.Create()

	w.BeginDeferred()
	w.BeginDeferred()
	require.NoError(t, w.Destroy(id))
	w.EndDeferred()
	assert.True(t, w.IsAlive(id), "inner scope end must not flush")
	assert.True(t, w.IsDeferred())
	w.EndDeferred()
	assert.False(t, w.IsAlive(id))
	assert.False(t, w.IsDeferred())
}

func TestObserversFireInOrderOnDestroy(t *testing.T) {
	w := newWorld()
	id := w.Create()
	require.NoError(t, w.SetComponent(id, compHealth, 7))

	var order []string
	w.ObserveRemove(compHealth, func(e types.EntityID) {
		// The value must still be readable while the remove observer runs.
		v, err := w.Component(e, compHealth)
		require.NoError(t, err)
		assert.Equal(t, 7, v)
		order = append(order, "remove")
	})
	w.ObserveDestroy(func(types.EntityID) {
		order = append(order, "destroy")
	})

	require.NoError(t, w.Destroy(id))
	assert.Equal(t, []string{"remove", "destroy"}, order)
}

func TestRemoveObserverSeesValue(t *testing.T) {
	w := newWorld()
	id := w.Create()
	require.NoError(t, w.SetComponent(id, compHealth, 13))

	var seen any
	w.ObserveRemove(compHealth, func(e types.EntityID) {
		seen, _ = w.Component(e, compHealth)
	})
	require.NoError(t, w.RemoveComponent(id, compHealth))
	assert.Equal(t, 13, seen)
}

func TestAddAndSetObservers(t *testing.T) {
	w := newWorld()
	id := w.Create()

	var adds, sets int
	w.ObserveAdd(compHealth, func(types.EntityID) { adds++ })
	w.ObserveSet(compHealth, func(types.EntityID) { sets++ })

	require.NoError(t, w.SetComponent(id, compHealth, 1))
	assert.Equal(t, 1, adds, "set on a missing component attaches it first")
	assert.Equal(t, 1, sets)

	require.NoError(t, w.SetComponent(id, compHealth, 2))
	assert.Equal(t, 1, adds)
	assert.Equal(t, 2, sets)

	// Re-adding an existing component is a no-op.
	require.NoError(t, w.AddComponent(id, compHealth))
	assert.Equal(t, 1, adds)
}

func TestActiveObserverFiresOnChangeOnly(t *testing.T) {
	w := newWorld()
	id := w.Create()

	var events []bool
	w.ObserveActive(func(_ types.EntityID, enabled bool) {
		events = append(events, enabled)
	})

	require.NoError(t, w.Enable(id))
	assert.Empty(t, events, "enabling an enabled entity is silent")

	require.NoError(t, w.Disable(id))
	require.NoError(t, w.Disable(id))
	require.NoError(t, w.Enable(id))
	assert.Equal(t, []bool{false, true}, events)
	assert.True(t, w.IsEnabled(id))
}

func TestEachWithVisitsAscending(t *testing.T) {
	w := newWorld()
	var want []types.EntityID
	for i := 0; i < 5; i++ {
		id := w.Create()
		if i%2 == 0 {
			require.NoError(t, w.AddComponent(id, compArmor))
			want = append(want, id)
		}
	}

	var got []types.EntityID
	w.EachWith(compArmor, func(id types.EntityID) { got = append(got, id) })
	assert.Equal(t, want, got)

	var all []types.EntityID
	w.Each(func(id types.EntityID) { all = append(all, id) })
	assert.Len(t, all, 5)
}

func TestComponentsSorted(t *testing.T) {
	w := newWorld()
	id := w.Create()
	require.NoError(t, w.AddComponent(id, compArmor))
	require.NoError(t, w.AddComponent(id, compHealth))
	assert.Equal(t, []types.ComponentID{compHealth, compArmor}, w.Components(id))
}
