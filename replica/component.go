package replica

import (
	"reflect"

	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/codec"
	"github.com/driftline/netsync/types"
)

// Component is the contract for any replicated component. Name must be
// unique within a Manager and stable across builds, because archetype
// ids are assigned in registration order and both peers must register
// the same set in the same order.
type Component interface {
	Name() string
}

// Encoder writes a component value into an outgoing snapshot section.
type Encoder interface {
	Encode(w *codec.Writer)
}

// Decoder reads a component value from an incoming snapshot section.
// Implementations must be pointer receivers so the decoded value lands
// in the stored component.
type Decoder interface {
	Decode(r *codec.Reader) error
}

type componentInfo struct {
	id       types.ComponentID
	name     string
	priority types.Priority
	tag      bool
	typ      reflect.Type
	schema   []byte

	// newValue returns a zero value of the concrete type, used when a
	// snapshot attaches a component before any value update arrives.
	newValue func() any

	encode func(w *codec.Writer, value any) error
	decode func(r *codec.Reader) (any, error)
}

var (
	ErrDuplicateComponent = eris.New("component is already registered")
	ErrNotRegistered      = eris.New("component is not registered")
	ErrNotEncodable       = eris.New("component does not implement Encoder and Decoder")
)

func (m *Manager) register(info *componentInfo) (types.ComponentID, error) {
	if _, ok := m.byName[info.name]; ok {
		return 0, eris.Wrapf(ErrDuplicateComponent, "component %q", info.name)
	}
	if err := reflectSchema(info); err != nil {
		return 0, err
	}
	info.id = m.nextComponentID
	m.nextComponentID++
	m.registry[info.id] = info
	m.byName[info.name] = info
	m.log.Debug().
		Str("component", info.name).
		Uint32("component_id", uint32(info.id)).
		Bool("tag", info.tag).
		Msg("registered component")
	return info.id, nil
}

func (m *Manager) infoByID(id types.ComponentID) (*componentInfo, error) {
	info, ok := m.registry[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotRegistered, "component id %d", id)
	}
	return info, nil
}

// RegisterComponent registers a value-carrying component type with the
// given replication priority. T must implement Encoder, and *T must
// implement Decoder.
func RegisterComponent[T Component](m *Manager, priority types.Priority) (types.ComponentID, error) {
	var zero T
	if _, ok := any(zero).(Encoder); !ok {
		return 0, eris.Wrapf(ErrNotEncodable, "component %q", zero.Name())
	}
	if _, ok := any(&zero).(Decoder); !ok {
		return 0, eris.Wrapf(ErrNotEncodable, "component %q", zero.Name())
	}
	info := &componentInfo{
		name:     zero.Name(),
		priority: priority,
		typ:      reflect.TypeOf(zero),
		newValue: func() any { var v T; return v },
		encode: func(w *codec.Writer, value any) error {
			v, ok := value.(T)
			if !ok {
				return eris.Errorf("component %q holds %T", zero.Name(), value)
			}
			any(v).(Encoder).Encode(w)
			return nil
		},
		decode: func(r *codec.Reader) (any, error) {
			var v T
			if err := any(&v).(Decoder).Decode(r); err != nil {
				return nil, eris.Wrapf(err, "decoding component %q", zero.Name())
			}
			return v, nil
		},
	}
	id, err := m.register(info)
	if err != nil {
		return 0, err
	}
	m.observeComponent(info)
	return id, nil
}

// RegisterTag registers a component whose presence is its entire
// payload. Tags never enter the value sections of a snapshot, so they
// carry no priority and need no codec.
func RegisterTag[T Component](m *Manager) (types.ComponentID, error) {
	var zero T
	info := &componentInfo{
		name:     zero.Name(),
		tag:      true,
		typ:      reflect.TypeOf(zero),
		newValue: func() any { var v T; return v },
	}
	id, err := m.register(info)
	if err != nil {
		return 0, err
	}
	m.observeTag(info)
	return id, nil
}

// IDOf returns the registered component id of T.
func IDOf[T Component](m *Manager) (types.ComponentID, error) {
	var zero T
	info, ok := m.byName[zero.Name()]
	if !ok {
		return 0, eris.Wrapf(ErrNotRegistered, "component %q", zero.Name())
	}
	return info.id, nil
}

// GetComponent returns the value of T on the given entity.
func GetComponent[T Component](m *Manager, id types.EntityID) (T, error) {
	var zero T
	info, ok := m.byName[zero.Name()]
	if !ok {
		return zero, eris.Wrapf(ErrNotRegistered, "component %q", zero.Name())
	}
	raw, err := m.world.Component(id, info.id)
	if err != nil {
		return zero, err
	}
	v, ok := raw.(T)
	if !ok {
		return zero, eris.Errorf("component %q holds %T", zero.Name(), raw)
	}
	return v, nil
}

// SetComponent writes the value of T on the given entity, attaching it
// first if needed. The mutation is picked up by the change tracker.
func SetComponent[T Component](m *Manager, id types.EntityID, value T) error {
	info, ok := m.byName[value.Name()]
	if !ok {
		return eris.Wrapf(ErrNotRegistered, "component %q", value.Name())
	}
	return m.world.SetComponent(id, info.id, value)
}

// AddComponentTo attaches T with its zero value.
func AddComponentTo[T Component](m *Manager, id types.EntityID) error {
	var zero T
	info, ok := m.byName[zero.Name()]
	if !ok {
		return eris.Wrapf(ErrNotRegistered, "component %q", zero.Name())
	}
	return m.world.AddComponent(id, info.id)
}

// RemoveComponentFrom detaches T.
func RemoveComponentFrom[T Component](m *Manager, id types.EntityID) error {
	var zero T
	info, ok := m.byName[zero.Name()]
	if !ok {
		return eris.Wrapf(ErrNotRegistered, "component %q", zero.Name())
	}
	return m.world.RemoveComponent(id, info.id)
}
