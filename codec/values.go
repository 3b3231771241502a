package codec

import "github.com/driftline/netsync/types"

// Typed helpers for the identifiers that appear in every snapshot section.
// They exist so call sites read as wire-format statements rather than
// casts.

func (w *Writer) WriteEntityID(id types.EntityID) { w.WriteU32(uint32(id)) }

func (r *Reader) ReadEntityID() (types.EntityID, error) {
	v, err := r.ReadU32()
	return types.EntityID(v), err
}

func (w *Writer) WriteComponentID(id types.ComponentID) { w.WriteU32(uint32(id)) }

func (r *Reader) ReadComponentID() (types.ComponentID, error) {
	v, err := r.ReadU32()
	return types.ComponentID(v), err
}

func (w *Writer) WritePhysicsID(id types.PhysicsID) { w.WriteU32(uint32(id)) }

func (r *Reader) ReadPhysicsID() (types.PhysicsID, error) {
	v, err := r.ReadU32()
	return types.PhysicsID(v), err
}

func (w *Writer) WriteStateID(id types.StateID) { w.WriteU64(uint64(id)) }

func (r *Reader) ReadStateID() (types.StateID, error) {
	v, err := r.ReadU64()
	return types.StateID(v), err
}

func (w *Writer) WriteTick(t types.Tick) { w.WriteU64(uint64(t)) }

func (r *Reader) ReadTick() (types.Tick, error) {
	v, err := r.ReadU64()
	return types.Tick(v), err
}

func (w *Writer) WriteHeader(h types.MessageHeader) { w.WriteU8(uint8(h)) }

func (r *Reader) ReadHeader() (types.MessageHeader, error) {
	v, err := r.ReadU8()
	return types.MessageHeader(v), err
}

func (w *Writer) WriteVec2(v types.Vec2) {
	w.WriteF32(v.X)
	w.WriteF32(v.Y)
}

func (r *Reader) ReadVec2() (types.Vec2, error) {
	x, err := r.ReadF32()
	if err != nil {
		return types.Vec2{}, err
	}
	y, err := r.ReadF32()
	if err != nil {
		return types.Vec2{}, err
	}
	return types.Vec2{X: x, Y: y}, nil
}
