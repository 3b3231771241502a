// Package physics is the 2D shape-store collaborator: circle and convex
// polygon shapes addressed by PhysicsID, with the network-dirty flags the
// geometry snapshotter polls and the local-dirty caches the collision
// tests consume.
package physics

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/driftline/netsync/codec"
	"github.com/driftline/netsync/types"
)

// Kind is the closed set of shape geometries. The pairwise collision
// dispatch and the snapshot grouping switch over it exhaustively; there is
// no runtime type inspection.
type Kind uint8

const (
	KindPolygon Kind = iota
	KindCircle
)

func (k Kind) String() string {
	switch k {
	case KindPolygon:
		return "polygon"
	case KindCircle:
		return "circle"
	default:
		return "invalid"
	}
}

// MaxPolygonVertices bounds polygon complexity on the wire and in memory.
const MaxPolygonVertices = 8

var (
	ErrBadVertexCount = eris.New("physics: polygon vertex count out of range")
	ErrBadKind        = eris.New("physics: invalid shape kind")
)

// Shape is a tagged variant of circle and convex polygon. Pose fields are
// shared; radius doubles as the circle radius and the polygon's bounding
// radius.
type Shape struct {
	kind Kind
	pos  types.Vec2
	rot  float32

	radius float32

	vertCount uint8
	verts     [MaxPolygonVertices]types.Vec2
	normals   [MaxPolygonVertices]types.Vec2
	centroid  types.Vec2

	// Cached world-space geometry, recomputed lazily when localDirty.
	worldVerts   [MaxPolygonVertices]types.Vec2
	worldNormals [MaxPolygonVertices]types.Vec2

	localDirty   bool
	networkDirty bool
}

// NewCircle builds a circle shape. New shapes start fully dirty so they
// are picked up by the next snapshot.
func NewCircle(pos types.Vec2, rot, radius float32) *Shape {
	return &Shape{
		kind:         KindCircle,
		pos:          pos,
		rot:          rot,
		radius:       radius,
		localDirty:   true,
		networkDirty: true,
	}
}

// NewPolygon builds a convex polygon from local-space vertices. Vertices
// are re-sorted counterclockwise around the centroid; edge normals and the
// bounding radius are derived.
func NewPolygon(pos types.Vec2, rot float32, verts []types.Vec2) (*Shape, error) {
	s := &Shape{
		kind:         KindPolygon,
		pos:          pos,
		rot:          rot,
		localDirty:   true,
		networkDirty: true,
	}
	if err := s.SetVertices(verts); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Shape) Kind() Kind { return s.kind }

func (s *Shape) Pos() types.Vec2 { return s.pos }

func (s *Shape) SetPos(p types.Vec2) {
	s.pos = p
	s.markDirty()
}

func (s *Shape) Rot() float32 { return s.rot }

func (s *Shape) SetRot(r float32) {
	s.rot = r
	s.markDirty()
}

func (s *Shape) Radius() float32 { return s.radius }

// SetRadius updates a circle's radius.
func (s *Shape) SetRadius(r float32) {
	s.radius = r
	s.markDirty()
}

// Centroid is the local-space center of mass; zero for circles.
func (s *Shape) Centroid() types.Vec2 { return s.centroid }

// WeightedPos is the world position of the shape's centroid.
func (s *Shape) WeightedPos() types.Vec2 { return s.pos.Add(s.centroid) }

// SetVertices replaces a polygon's local vertices.
func (s *Shape) SetVertices(verts []types.Vec2) error {
	if len(verts) < 3 || len(verts) > MaxPolygonVertices {
		return eris.Wrapf(ErrBadVertexCount, "%d vertices", len(verts))
	}
	s.vertCount = uint8(len(verts))
	copy(s.verts[:], verts)
	s.fixVertices()
	s.markDirty()
	return nil
}

// VertexCount returns the polygon vertex count (zero for circles).
func (s *Shape) VertexCount() int { return int(s.vertCount) }

// Vertices returns the polygon's local-space vertices in CCW order.
func (s *Shape) Vertices() []types.Vec2 { return s.verts[:s.vertCount] }

// WorldVertices returns world-space vertices, recomputing the cache if the
// shape moved since the last call.
func (s *Shape) WorldVertices() []types.Vec2 {
	if s.localDirty {
		s.computeWorld()
	}
	return s.worldVerts[:s.vertCount]
}

// WorldNormals returns world-space edge normals, recomputing lazily.
func (s *Shape) WorldNormals() []types.Vec2 {
	if s.localDirty {
		s.computeWorld()
	}
	return s.worldNormals[:s.vertCount]
}

// NetworkDirty reports whether the shape changed since it was last
// serialized.
func (s *Shape) NetworkDirty() bool { return s.networkDirty }

// ClearNetworkDirty is called by the snapshotter once the shape has been
// written to a snapshot.
func (s *Shape) ClearNetworkDirty() { s.networkDirty = false }

// MarkLocalDirty forces the world-space caches to be recomputed on next
// read. The apply path calls it after overwriting geometry from the wire.
func (s *Shape) MarkLocalDirty() { s.localDirty = true }

func (s *Shape) markDirty() {
	s.localDirty = true
	s.networkDirty = true
}

// fixVertices normalizes freshly-set polygon vertices: CCW order around
// the centroid, derived edge normals, bounding radius.
func (s *Shape) fixVertices() {
	n := int(s.vertCount)

	s.centroid = types.Vec2{}
	for i := 0; i < n; i++ {
		s.centroid = s.centroid.Add(s.verts[i])
	}
	s.centroid = s.centroid.Scale(1 / float32(n))

	s.radius = 0
	for i := 0; i < n; i++ {
		if d := s.verts[i].Sub(s.centroid).Length(); d > s.radius {
			s.radius = d
		}
	}

	ref := types.Vec2{X: 0, Y: -1}
	verts := s.verts[:n]
	sort.Slice(verts, func(i, j int) bool {
		return ref.AngleTo(verts[i].Sub(s.centroid)) < ref.AngleTo(verts[j].Sub(s.centroid))
	})

	for i := 0; i < n; i++ {
		edge := s.verts[(i+1)%n].Sub(s.verts[i]).Normalize()
		s.normals[i] = types.Vec2{X: edge.Y, Y: -edge.X}
	}
}

func (s *Shape) computeWorld() {
	s.localDirty = false
	for i := 0; i < int(s.vertCount); i++ {
		s.worldVerts[i] = s.verts[i].Rotate(s.rot).Add(s.pos)
	}
	for i := 0; i < int(s.vertCount); i++ {
		s.worldNormals[i] = s.normals[i].Rotate(s.rot)
	}
}

// AABB is an axis-aligned bounding box.
type AABB struct {
	Min types.Vec2
	Max types.Vec2
}

// Contains reports whether p lies inside the box.
func (a AABB) Contains(p types.Vec2) bool {
	return a.Min.X <= p.X && p.X <= a.Max.X && a.Min.Y <= p.Y && p.Y <= a.Max.Y
}

// Overlaps reports whether two boxes intersect.
func (a AABB) Overlaps(b AABB) bool {
	if b.Min.X-a.Max.X > 0 || b.Min.Y-a.Max.Y > 0 {
		return false
	}
	if a.Min.X-b.Max.X > 0 || a.Min.Y-b.Max.Y > 0 {
		return false
	}
	return true
}

// Bounds computes the shape's world-space AABB.
func (s *Shape) Bounds() AABB {
	switch s.kind {
	case KindCircle:
		return AABB{
			Min: types.Vec2{X: s.pos.X - s.radius, Y: s.pos.Y - s.radius},
			Max: types.Vec2{X: s.pos.X + s.radius, Y: s.pos.Y + s.radius},
		}
	case KindPolygon:
		verts := s.WorldVertices()
		box := AABB{Min: verts[0], Max: verts[0]}
		for _, v := range verts[1:] {
			if v.X < box.Min.X {
				box.Min.X = v.X
			}
			if v.X > box.Max.X {
				box.Max.X = v.X
			}
			if v.Y < box.Min.Y {
				box.Min.Y = v.Y
			}
			if v.Y > box.Max.Y {
				box.Max.Y = v.Y
			}
		}
		return box
	default:
		panic("physics: invalid shape kind")
	}
}

// EncodeGeometry writes the shape's kind-specific wire form: pose, then
// radius for circles or the local vertex list for polygons.
func (s *Shape) EncodeGeometry(w *codec.Writer) {
	w.WriteVec2(s.pos)
	w.WriteF32(s.rot)
	switch s.kind {
	case KindCircle:
		w.WriteF32(s.radius)
	case KindPolygon:
		w.WriteU8(s.vertCount)
		for i := 0; i < int(s.vertCount); i++ {
			w.WriteVec2(s.verts[i])
		}
	}
}

// DecodeGeometry overwrites the shape's geometry from the wire and marks
// it locally dirty so caches recompute on next read.
func (s *Shape) DecodeGeometry(r *codec.Reader) error {
	pos, err := r.ReadVec2()
	if err != nil {
		return err
	}
	rot, err := r.ReadF32()
	if err != nil {
		return err
	}
	s.pos = pos
	s.rot = rot
	switch s.kind {
	case KindCircle:
		radius, err := r.ReadF32()
		if err != nil {
			return err
		}
		s.radius = radius
	case KindPolygon:
		count, err := r.ReadU8()
		if err != nil {
			return err
		}
		if count < 3 || count > MaxPolygonVertices {
			return eris.Wrapf(ErrBadVertexCount, "%d vertices on wire", count)
		}
		verts := make([]types.Vec2, count)
		for i := range verts {
			if verts[i], err = r.ReadVec2(); err != nil {
				return err
			}
		}
		if err := s.SetVertices(verts); err != nil {
			return err
		}
	}
	s.MarkLocalDirty()
	return nil
}
