package physics_test

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/driftline/netsync/physics"
	"github.com/driftline/netsync/types"
)

func square(t *testing.T, pos types.Vec2) *physics.Shape {
	t.Helper()
	s, err := physics.NewPolygon(pos, 0, []types.Vec2{
		{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1},
	})
	assert.NilError(t, err)
	return s
}

func TestCirclesCollide(t *testing.T) {
	a := physics.NewCircle(types.Vec2{}, 0, 1)
	b := physics.NewCircle(types.Vec2{X: 1.5, Y: 0}, 0, 1)

	m, hit := physics.Collide(a, b)
	assert.Assert(t, hit)
	approx(t, m.Depth, 0.5)
	vecApprox(t, m.Normal, types.Vec2{X: 1, Y: 0})
}

func TestCirclesTouchingDoNotCollide(t *testing.T) {
	a := physics.NewCircle(types.Vec2{}, 0, 1)
	b := physics.NewCircle(types.Vec2{X: 2, Y: 0}, 0, 1)
	_, hit := physics.Collide(a, b)
	assert.Assert(t, !hit)
}

func TestConcentricCirclesUseFallbackNormal(t *testing.T) {
	a := physics.NewCircle(types.Vec2{}, 0, 1)
	b := physics.NewCircle(types.Vec2{}, 0, 1)
	m, hit := physics.Collide(a, b)
	assert.Assert(t, hit)
	vecApprox(t, m.Normal, types.Vec2{X: 0, Y: 1})
	approx(t, m.Depth, 2)
}

func TestPolygonsCollide(t *testing.T) {
	a := square(t, types.Vec2{})
	b := square(t, types.Vec2{X: 1.5, Y: 0})

	m, hit := physics.Collide(a, b)
	assert.Assert(t, hit)
	approx(t, m.Depth, 0.5)
	// The minimum translation axis is horizontal for this overlap.
	approx(t, m.Normal.Y, 0)
}

func TestSeparatedPolygonsDoNotCollide(t *testing.T) {
	a := square(t, types.Vec2{})
	b := square(t, types.Vec2{X: 3, Y: 0})
	_, hit := physics.Collide(a, b)
	assert.Assert(t, !hit)
}

func TestPolygonCircleCollide(t *testing.T) {
	poly := square(t, types.Vec2{})
	circle := physics.NewCircle(types.Vec2{X: 1.5, Y: 0}, 0, 1)

	m, hit := physics.Collide(poly, circle)
	assert.Assert(t, hit)
	approx(t, m.Depth, 0.5)

	// Dispatch is symmetric over argument order.
	m2, hit := physics.Collide(circle, poly)
	assert.Assert(t, hit)
	approx(t, m2.Depth, m.Depth)
}

func TestPolygonCircleMiss(t *testing.T) {
	poly := square(t, types.Vec2{})
	circle := physics.NewCircle(types.Vec2{X: 5, Y: 0}, 0, 1)
	_, hit := physics.Collide(poly, circle)
	assert.Assert(t, !hit)
}

func TestMovedShapeCollides(t *testing.T) {
	a := square(t, types.Vec2{})
	b := square(t, types.Vec2{X: 10, Y: 0})
	_, hit := physics.Collide(a, b)
	assert.Assert(t, !hit)

	// World-space caches must follow the pose change.
	b.SetPos(types.Vec2{X: 1, Y: 0})
	_, hit = physics.Collide(a, b)
	assert.Assert(t, hit)
}
