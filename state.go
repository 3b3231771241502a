package netsync

import (
	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/types"
)

// State is one application state (lobby, match, results). The server's
// current state id replicates to every client, so both sides register the
// same states under the same ids.
type State interface {
	OnEnter(e *Engine) error
	OnExit(e *Engine) error
}

var (
	ErrUnknownState   = eris.New("state id is not registered")
	ErrDuplicateState = eris.New("state id is already registered")
)

// RegisterState binds a state to its id.
func (e *Engine) RegisterState(id types.StateID, s State) error {
	if _, ok := e.states[id]; ok {
		return eris.Wrapf(ErrDuplicateState, "state %d", id)
	}
	e.states[id] = s
	return nil
}

// TransitionState schedules a transition for the end of the current tick.
// Deferring keeps every system inside one tick running under the same
// state.
func (e *Engine) TransitionState(id types.StateID) error {
	if _, ok := e.states[id]; !ok {
		return eris.Wrapf(ErrUnknownState, "state %d", id)
	}
	e.pendingState = &id
	return nil
}

// TransitionStateImmediate switches states now. Only safe outside of a
// tick, e.g. during startup.
func (e *Engine) TransitionStateImmediate(id types.StateID) error {
	if _, ok := e.states[id]; !ok {
		return eris.Wrapf(ErrUnknownState, "state %d", id)
	}
	return e.switchState(id)
}

// CurrentState returns the active state id.
func (e *Engine) CurrentState() types.StateID { return e.activeState }

func (e *Engine) applyPendingState() error {
	if e.pendingState == nil {
		return nil
	}
	id := *e.pendingState
	e.pendingState = nil
	return e.switchState(id)
}

// switchState is the authoritative path: it stamps the new id onto the
// replica manager so the next reliable delta carries it.
func (e *Engine) switchState(id types.StateID) error {
	if id == e.activeState {
		return nil
	}
	e.replica.SetStateID(id)
	return e.enterState(id)
}

// enterState runs the exit/enter hooks. Remote transitions land here
// directly, after the applied snapshot already changed the replica's
// state id.
func (e *Engine) enterState(id types.StateID) error {
	if s, ok := e.states[e.activeState]; ok {
		if err := s.OnExit(e); err != nil {
			return eris.Wrapf(err, "exiting state %d", e.activeState)
		}
	}
	e.activeState = id
	next, ok := e.states[id]
	if !ok {
		return eris.Wrapf(ErrUnknownState, "state %d", id)
	}
	e.log.Info().Uint64("state_id", uint64(id)).Msg("state transition")
	if err := next.OnEnter(e); err != nil {
		return eris.Wrapf(err, "entering state %d", id)
	}
	return nil
}
