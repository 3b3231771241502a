// Package netsync is the engine root: it owns the world, the physics
// store, the replica manager and the network side, and drives them with a
// fixed tick loop. Servers flush a delta snapshot at the end of every
// tick; clients apply whatever the server sent and run their own local
// systems in between.
package netsync

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/driftline/netsync/net"
	"github.com/driftline/netsync/physics"
	"github.com/driftline/netsync/replica"
	"github.com/driftline/netsync/statsd"
	"github.com/driftline/netsync/types"
	"github.com/driftline/netsync/world"
)

// LocalEntityRange is the first entity id clients allocate locally.
// Server-replicated ids stay below it, so client-only entities (cursors,
// particles, UI ghosts) never collide with replicated ones.
const LocalEntityRange types.EntityID = 1_000_000

// Engine ties the collaborators together. All methods are meant for the
// simulation goroutine; the network side crosses over only through
// Process, which the tick loop calls.
type Engine struct {
	log zerolog.Logger
	cfg Config

	world   *world.World
	shapes  *physics.Store
	replica *replica.Manager
	systems *SystemManager

	server *net.Server
	client *net.Client

	states       map[types.StateID]State
	activeState  types.StateID
	pendingState *types.StateID

	transformID    types.ComponentID
	integratableID types.ComponentID

	tick types.Tick
}

// NewServerEngine builds an authoritative engine: entity ids start at 1.
func NewServerEngine(logger zerolog.Logger, cfg Config) (*Engine, error) {
	e, err := newEngine(logger, cfg, 1)
	if err != nil {
		return nil, err
	}
	e.server = net.NewServer(logger, e.replica, cfg.MaxStrikes)
	return e, nil
}

// NewClientEngine builds a replicated engine: locally created entities
// start above LocalEntityRange, and remote state transitions run this
// engine's state hooks.
func NewClientEngine(logger zerolog.Logger, cfg Config) (*Engine, error) {
	e, err := newEngine(logger, cfg, LocalEntityRange)
	if err != nil {
		return nil, err
	}
	e.client = net.NewClient(logger, e.replica, cfg.MaxDesyncs)
	e.replica.OnStateChange(func(id types.StateID) {
		if err := e.enterState(id); err != nil {
			e.log.Error().Err(err).Msg("remote state transition failed")
		}
	})
	return e, nil
}

func newEngine(logger zerolog.Logger, cfg Config, firstID types.EntityID) (*Engine, error) {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 20
	}
	e := &Engine{
		log:     logger.With().Str("subsystem", "engine").Logger(),
		cfg:     cfg,
		shapes:  physics.NewStore(),
		systems: NewSystemManager(),
		states:  map[types.StateID]State{},
	}
	e.world = world.New(logger, firstID)
	var err error
	e.replica, err = replica.New(logger, e.world, e.shapes, func() types.Tick { return e.tick })
	if err != nil {
		return nil, err
	}
	if err := registerCoreComponents(e.replica); err != nil {
		return nil, err
	}
	e.transformID, err = replica.IDOf[Transform](e.replica)
	if err != nil {
		return nil, err
	}
	e.integratableID, err = replica.IDOf[Integratable](e.replica)
	if err != nil {
		return nil, err
	}

	// A removed shape reference means nothing keeps the shape alive;
	// erase it so client stores do not leak geometry.
	e.world.ObserveRemove(e.replica.ShapeRefID(), func(id types.EntityID) {
		ref, err := replica.GetComponent[replica.ShapeRef](e.replica, id)
		if err != nil {
			return
		}
		if e.shapes.Exists(ref.Shape) {
			_ = e.shapes.Remove(ref.Shape)
		}
	})
	return e, nil
}

func (e *Engine) World() *world.World { return e.world }

func (e *Engine) Shapes() *physics.Store { return e.shapes }

func (e *Engine) Replica() *replica.Manager { return e.replica }

// Server returns the serving side, nil on client engines.
func (e *Engine) Server() *net.Server { return e.server }

// Client returns the connecting side, nil on server engines.
func (e *Engine) Client() *net.Client { return e.client }

// Tick reports the current tick number.
func (e *Engine) Tick() types.Tick { return e.tick }

// SetTick overrides the tick counter. Used when resuming a persisted
// session so unreliable snapshots keep monotonically increasing stamps.
func (e *Engine) SetTick(t types.Tick) { e.tick = t }

// Dt is the fixed timestep in seconds.
func (e *Engine) Dt() float32 { return 1 / float32(e.cfg.TickRate) }

// TickInterval is the wall-clock duration of one tick.
func (e *Engine) TickInterval() time.Duration {
	return time.Second / time.Duration(e.cfg.TickRate)
}

// RegisterSystems adds systems to the per-tick run list.
func (e *Engine) RegisterSystems(systems ...System) error {
	return e.systems.RegisterSystems(systems...)
}

// RegisterInitSystem sets the system that runs once, on the first tick.
func (e *Engine) RegisterInitSystem(system System) {
	e.systems.RegisterInitSystem(system)
}

// Step runs one full tick: drain the network, run systems under deferred
// world mutation, flush the snapshot (server side), then apply a pending
// state transition.
func (e *Engine) Step() error {
	start := time.Now()
	if e.server != nil {
		e.server.Process()
	}
	if e.client != nil {
		e.client.Process()
	}

	if err := e.systems.RunInitSystem(e); err != nil {
		return err
	}
	e.world.BeginDeferred()
	err := e.systems.RunSystems(e)
	e.world.EndDeferred()
	if err != nil {
		return err
	}

	// The tick advances before the flush so the unreliable snapshot is
	// stamped with a tick receivers have not seen yet.
	e.tick++
	if e.server != nil {
		if err := e.server.Flush(); err != nil {
			return err
		}
	}
	if err := e.applyPendingState(); err != nil {
		return err
	}
	statsd.EmitTickStat(start, "step")
	return nil
}

// Run steps the engine at the configured tick rate until the stop channel
// closes. Overlong ticks are logged, not compensated; the loop simply
// starts the next tick late.
func (e *Engine) Run(stop <-chan struct{}) error {
	interval := e.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			e.shutdown()
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := e.Step(); err != nil {
				e.shutdown()
				return eris.Wrapf(err, "tick %d failed", e.tick)
			}
			if elapsed := time.Since(start); elapsed > interval {
				e.log.Warn().
					Dur("elapsed", elapsed).
					Dur("budget", interval).
					Msg("tick overran its budget")
			}
		}
	}
}

func (e *Engine) shutdown() {
	if e.server != nil {
		e.server.Network().Close()
	}
	if e.client != nil {
		e.client.Network().Close()
	}
}
