package snapstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"

	"github.com/driftline/netsync/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := miniredis.RunT(t)
	store := New(zerolog.Nop(), s.Addr(), "")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	want := Snapshot{
		Tick:    42,
		StateID: 7,
		Payload: []byte{0x03, 0x01, 0x02},
	}
	assert.NilError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	assert.NilError(t, err)
	assert.Equal(t, got.Tick, types.Tick(42))
	assert.Equal(t, got.StateID, types.StateID(7))
	assert.DeepEqual(t, got.Payload, want.Payload)
}

func TestLoadEmpty(t *testing.T) {
	store := newStore(t)
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestSaveOverwrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	assert.NilError(t, store.Save(ctx, Snapshot{Tick: 1, Payload: []byte{0x01}}))
	assert.NilError(t, store.Save(ctx, Snapshot{Tick: 2, Payload: []byte{0x02}}))

	got, err := store.Load(ctx)
	assert.NilError(t, err)
	assert.Equal(t, got.Tick, types.Tick(2))
	assert.DeepEqual(t, got.Payload, []byte{0x02})
}

func TestClear(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	assert.NilError(t, store.Save(ctx, Snapshot{Tick: 1, Payload: []byte{0x01}}))
	assert.NilError(t, store.Clear(ctx))
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
