// Package snapstore persists the most recent full snapshot in redis so a
// restarted server can rebuild its replicated world instead of starting
// from nothing.
package snapstore

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/types"
)

const (
	payloadKey = "snapshot:payload"
	tickKey    = "snapshot:tick"
	stateKey   = "snapshot:state"
)

var ErrNoSnapshot = eris.New("no snapshot stored")

// Snapshot is one persisted full snapshot with the moment it was taken.
type Snapshot struct {
	Tick    types.Tick
	StateID types.StateID
	Payload []byte
}

type Store struct {
	log    zerolog.Logger
	client *redis.Client
}

// New connects a store to the redis instance at addr.
func New(logger zerolog.Logger, addr string, password string) *Store {
	return &Store{
		log: logger.With().Str("subsystem", "snapstore").Logger(),
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// Save replaces the stored snapshot. The three keys are written in one
// transaction so a crashed save never leaves a payload with the previous
// snapshot's tick.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, payloadKey, snap.Payload, 0)
	pipe.Set(ctx, tickKey, uint64(snap.Tick), 0)
	pipe.Set(ctx, stateKey, uint64(snap.StateID), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrap(err, "saving snapshot")
	}
	s.log.Debug().
		Uint64("tick", uint64(snap.Tick)).
		Int("bytes", len(snap.Payload)).
		Msg("snapshot saved")
	return nil
}

// Load returns the stored snapshot, or ErrNoSnapshot when redis is empty.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	payload, err := s.client.Get(ctx, payloadKey).Bytes()
	if eris.Is(err, redis.Nil) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, eris.Wrap(err, "loading snapshot payload")
	}
	tick, err := s.client.Get(ctx, tickKey).Uint64()
	if err != nil {
		return Snapshot{}, eris.Wrap(err, "loading snapshot tick")
	}
	state, err := s.client.Get(ctx, stateKey).Uint64()
	if err != nil {
		return Snapshot{}, eris.Wrap(err, "loading snapshot state")
	}
	return Snapshot{
		Tick:    types.Tick(tick),
		StateID: types.StateID(state),
		Payload: payload,
	}, nil
}

// Clear forgets the stored snapshot.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, payloadKey, tickKey, stateKey).Err(); err != nil {
		return eris.Wrap(err, "clearing snapshot")
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
