package netsync

import (
	"github.com/driftline/netsync/codec"
	"github.com/driftline/netsync/replica"
	"github.com/driftline/netsync/types"
)

// Transform is an entity's pose. High priority: a missed pose on join
// leaves an entity stuck at the origin, so it rides the reliable channel.
type Transform struct {
	Pos types.Vec2
	Rot float32

	// Origin is the local pivot the pose rotates around. Purely visual
	// data for the presentation layer; the physics shape ignores it.
	Origin types.Vec2
}

func (Transform) Name() string { return "transform" }

func (t Transform) Encode(w *codec.Writer) {
	w.WriteVec2(t.Pos)
	w.WriteF32(t.Rot)
	w.WriteVec2(t.Origin)
}

func (t *Transform) Decode(r *codec.Reader) error {
	var err error
	if t.Pos, err = r.ReadVec2(); err != nil {
		return err
	}
	if t.Rot, err = r.ReadF32(); err != nil {
		return err
	}
	t.Origin, err = r.ReadVec2()
	return err
}

// Integratable carries velocities. Low priority: values churn every tick
// and a lost update is overwritten moments later.
type Integratable struct {
	LinearVelocity  types.Vec2
	AngularVelocity float32
}

func (Integratable) Name() string { return "integratable" }

func (i Integratable) Encode(w *codec.Writer) {
	w.WriteVec2(i.LinearVelocity)
	w.WriteF32(i.AngularVelocity)
}

func (i *Integratable) Decode(r *codec.Reader) error {
	var err error
	if i.LinearVelocity, err = r.ReadVec2(); err != nil {
		return err
	}
	i.AngularVelocity, err = r.ReadF32()
	return err
}

func registerCoreComponents(m *replica.Manager) error {
	if _, err := replica.RegisterComponent[Transform](m, types.PriorityHigh); err != nil {
		return err
	}
	_, err := replica.RegisterComponent[Integratable](m, types.PriorityLow)
	return err
}

// IntegrateSystem advances every moving entity's transform by its
// velocity over one fixed tick.
func IntegrateSystem(e *Engine) error {
	dt := e.Dt()
	var firstErr error
	e.world.EachWith(e.integratableID, func(id types.EntityID) {
		if !e.world.HasComponent(id, e.transformID) || !e.world.IsEnabled(id) {
			return
		}
		vel, err := replica.GetComponent[Integratable](e.replica, id)
		if err != nil {
			return
		}
		tf, err := replica.GetComponent[Transform](e.replica, id)
		if err != nil {
			return
		}
		tf.Pos = tf.Pos.Add(vel.LinearVelocity.Scale(dt))
		tf.Rot += vel.AngularVelocity * dt
		if err := replica.SetComponent(e.replica, id, tf); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// ShapeSyncSystem copies each entity's transform onto its referenced
// physics shape. Shape setters mark geometry dirty, which is what feeds
// the physics section of the next snapshot.
func ShapeSyncSystem(e *Engine) error {
	shapeRefID := e.replica.ShapeRefID()
	e.world.EachWith(shapeRefID, func(id types.EntityID) {
		if !e.world.HasComponent(id, e.transformID) {
			return
		}
		ref, err := replica.GetComponent[replica.ShapeRef](e.replica, id)
		if err != nil {
			return
		}
		tf, err := replica.GetComponent[Transform](e.replica, id)
		if err != nil {
			return
		}
		shape, err := e.shapes.Get(ref.Shape)
		if err != nil {
			return
		}
		if shape.Pos() != tf.Pos {
			shape.SetPos(tf.Pos)
		}
		if shape.Rot() != tf.Rot {
			shape.SetRot(tf.Rot)
		}
	})
	return nil
}
