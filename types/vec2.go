package types

import "math"

// Vec2 is a 2D float32 vector, the unit of all replicated geometry.
type Vec2 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(s float32) Vec2 { return Vec2{v.X * s, v.Y * s} }

func (v Vec2) Dot(o Vec2) float32 { return v.X*o.X + v.Y*o.Y }

// Cross returns the scalar z-component of the 3D cross product.
func (v Vec2) Cross(o Vec2) float32 { return v.X*o.Y - v.Y*o.X }

func (v Vec2) LengthSq() float32 { return v.Dot(v) }

func (v Vec2) Length() float32 {
	return float32(math.Sqrt(float64(v.LengthSq())))
}

// Normalize returns the unit vector, or the zero vector unchanged.
func (v Vec2) Normalize() Vec2 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.Scale(1 / l)
}

// Rotate rotates v by the angle a (radians).
func (v Vec2) Rotate(a float32) Vec2 {
	sin := float32(math.Sin(float64(a)))
	cos := float32(math.Cos(float64(a)))
	return v.RotatePrecalc(sin, cos)
}

// RotatePrecalc rotates v by an angle whose sin and cos are already known.
func (v Vec2) RotatePrecalc(sin, cos float32) Vec2 {
	return Vec2{
		X: v.X*cos - v.Y*sin,
		Y: v.X*sin + v.Y*cos,
	}
}

// AngleTo returns the signed angle from v to o in radians.
func (v Vec2) AngleTo(o Vec2) float32 {
	return float32(math.Atan2(float64(v.Cross(o)), float64(v.Dot(o))))
}
