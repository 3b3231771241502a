package physics

import (
	"math"

	"github.com/driftline/netsync/types"
)

// Manifold describes a detected collision: the minimum translation axis
// and the penetration depth along it.
type Manifold struct {
	Normal types.Vec2
	Depth  float32
}

func newManifold() Manifold {
	return Manifold{Depth: math.MaxFloat32}
}

// Collide dispatches the pairwise narrow-phase test over the closed shape
// kinds. The switch is exhaustive; adding a Kind without extending it is a
// compile-visible omission at the default panic.
func Collide(a, b *Shape) (Manifold, bool) {
	m := newManifold()
	switch a.Kind() {
	case KindPolygon:
		switch b.Kind() {
		case KindPolygon:
			return m, collidePolygons(a, b, &m)
		case KindCircle:
			return m, collidePolygonCircle(a, b, &m)
		}
	case KindCircle:
		switch b.Kind() {
		case KindPolygon:
			return m, collidePolygonCircle(b, a, &m)
		case KindCircle:
			return m, collideCircles(a, b, &m)
		}
	}
	panic("physics: invalid shape kind in collision dispatch")
}

type projection struct {
	min, max float32
}

func project(verts []types.Vec2, normal types.Vec2) projection {
	p := projection{min: normal.Dot(verts[0])}
	p.max = p.min
	for _, v := range verts[1:] {
		d := normal.Dot(v)
		if d < p.min {
			p.min = d
		} else if d > p.max {
			p.max = d
		}
	}
	return p
}

// satHalfTest projects both vertex sets onto one shape's normals. Returns
// false as soon as a separating axis is found.
func satHalfTest(verts1, verts2, normals1 []types.Vec2, m *Manifold) bool {
	for _, normal := range normals1 {
		p1 := project(verts1, normal)
		p2 := project(verts2, normal)
		if !(p1.max >= p2.min && p2.max >= p1.min) {
			return false
		}
		depth := min32(p1.max, p2.max) - max32(p1.min, p2.min)
		if depth < 0 {
			depth = 0
		}
		if depth <= m.Depth {
			m.Depth = depth
			m.Normal = normal
		}
	}
	return true
}

func collidePolygons(a, b *Shape, m *Manifold) bool {
	if !satHalfTest(a.WorldVertices(), b.WorldVertices(), a.WorldNormals(), m) {
		return false
	}
	return satHalfTest(b.WorldVertices(), a.WorldVertices(), b.WorldNormals(), m)
}

func collideCircles(a, b *Shape, m *Manifold) bool {
	total := a.Radius() + b.Radius()
	dir := b.Pos().Sub(a.Pos())
	dist := dir.Length()
	if total <= dist {
		return false
	}
	if dir.X == 0 && dir.Y == 0 {
		m.Normal = types.Vec2{X: 0, Y: 1}
	} else {
		m.Normal = dir.Normalize()
	}
	m.Depth = total - dist
	return true
}

// pointSegmentDistance returns the distance from p to segment v1-v2 and
// the closest point on the segment.
func pointSegmentDistance(p, v1, v2 types.Vec2) (float32, types.Vec2) {
	seg := v2.Sub(v1)
	d := p.Sub(v1).Dot(seg) / seg.LengthSq()
	var cp types.Vec2
	switch {
	case d <= 0:
		cp = v1
	case d >= 1:
		cp = v2
	default:
		cp = v1.Add(seg.Scale(d))
	}
	return p.Sub(cp).Length(), cp
}

func collidePolygonCircle(poly, circle *Shape, m *Manifold) bool {
	verts := poly.WorldVertices()
	normals := poly.WorldNormals()

	for i := range verts {
		v1 := verts[i]
		v2 := verts[(i+1)%len(verts)]
		dist, _ := pointSegmentDistance(circle.Pos(), v1, v2)
		if dist < m.Depth {
			m.Depth = dist
			m.Normal = normals[i]
		}
	}

	if m.Depth < circle.Radius() {
		m.Depth = circle.Radius() - m.Depth
		return true
	}
	return false
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
