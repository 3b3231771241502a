package physics

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/types"
)

var ErrNoShape = eris.New("physics: no shape with that id")

// Store owns every shape, addressed by PhysicsID. Servers allocate ids
// through Create*; the snapshot apply path inserts shapes at ids chosen by
// the remote side through Ensure.
type Store struct {
	shapes map[types.PhysicsID]*Shape
	nextID types.PhysicsID
}

func NewStore() *Store {
	return &Store{shapes: map[types.PhysicsID]*Shape{}}
}

// Exists reports whether a shape lives at id.
func (st *Store) Exists(id types.PhysicsID) bool {
	_, ok := st.shapes[id]
	return ok
}

// Get returns the shape at id.
func (st *Store) Get(id types.PhysicsID) (*Shape, error) {
	s, ok := st.shapes[id]
	if !ok {
		return nil, eris.Wrapf(ErrNoShape, "id %d", id)
	}
	return s, nil
}

// CreateCircle allocates an id for a new circle shape.
func (st *Store) CreateCircle(pos types.Vec2, rot, radius float32) types.PhysicsID {
	return st.add(NewCircle(pos, rot, radius))
}

// CreatePolygon allocates an id for a new convex polygon shape.
func (st *Store) CreatePolygon(pos types.Vec2, rot float32, verts []types.Vec2) (types.PhysicsID, error) {
	s, err := NewPolygon(pos, rot, verts)
	if err != nil {
		return 0, err
	}
	return st.add(s), nil
}

func (st *Store) add(s *Shape) types.PhysicsID {
	st.nextID++
	st.shapes[st.nextID] = s
	return st.nextID
}

// Ensure returns the shape at id, creating an empty shape of the given
// kind if none exists. Used when applying received geometry.
func (st *Store) Ensure(id types.PhysicsID, kind Kind) (*Shape, error) {
	if s, ok := st.shapes[id]; ok {
		if s.Kind() != kind {
			return nil, eris.Wrapf(ErrBadKind, "shape %d is %s, snapshot says %s", id, s.Kind(), kind)
		}
		return s, nil
	}
	var s *Shape
	switch kind {
	case KindCircle:
		s = NewCircle(types.Vec2{}, 0, 0)
	case KindPolygon:
		s = &Shape{kind: KindPolygon, localDirty: true, networkDirty: true}
	default:
		return nil, eris.Wrapf(ErrBadKind, "kind %d", kind)
	}
	st.shapes[id] = s
	if id > st.nextID {
		st.nextID = id
	}
	return s, nil
}

// Remove erases the shape at id.
func (st *Store) Remove(id types.PhysicsID) error {
	if _, ok := st.shapes[id]; !ok {
		return eris.Wrapf(ErrNoShape, "remove %d", id)
	}
	delete(st.shapes, id)
	return nil
}

// Each visits every shape in ascending id order.
func (st *Store) Each(fn func(types.PhysicsID, *Shape)) {
	ids := make([]types.PhysicsID, 0, len(st.shapes))
	for id := range st.shapes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(id, st.shapes[id])
	}
}

// Len returns the number of stored shapes.
func (st *Store) Len() int { return len(st.shapes) }
