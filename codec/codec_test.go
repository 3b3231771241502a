package codec

import (
	"testing"

	"github.com/rotisserie/eris"
	"gotest.tools/v3/assert"

	"github.com/driftline/netsync/types"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteU8(0xAB)
	w.WriteU16(0xBEEF)
	w.WriteU32(0xDEADBEEF)
	w.WriteU64(0x0102030405060708)
	w.WriteF32(3.5)
	w.WriteVec2(types.Vec2{X: 1, Y: -2})

	r := NewReader(w.Bytes())
	u8, err := r.ReadU8()
	assert.NilError(t, err)
	assert.Equal(t, u8, uint8(0xAB))
	u16, err := r.ReadU16()
	assert.NilError(t, err)
	assert.Equal(t, u16, uint16(0xBEEF))
	u32, err := r.ReadU32()
	assert.NilError(t, err)
	assert.Equal(t, u32, uint32(0xDEADBEEF))
	u64, err := r.ReadU64()
	assert.NilError(t, err)
	assert.Equal(t, u64, uint64(0x0102030405060708))
	f, err := r.ReadF32()
	assert.NilError(t, err)
	assert.Equal(t, f, float32(3.5))
	v, err := r.ReadVec2()
	assert.NilError(t, err)
	assert.Equal(t, v, types.Vec2{X: 1, Y: -2})
	assert.NilError(t, r.Done())
}

func TestShortBufferIsRecoverable(t *testing.T) {
	w := NewWriter()
	w.WriteU16(7)

	r := NewReader(w.Bytes())
	_, err := r.ReadU32()
	assert.Assert(t, eris.Is(err, ErrShortBuffer))

	// The error must not panic or corrupt the cursor: the u16 is still
	// readable.
	v, err := r.ReadU16()
	assert.NilError(t, err)
	assert.Equal(t, v, uint16(7))
}

func TestTrailingBytesDetected(t *testing.T) {
	w := NewWriter()
	w.WriteU8(1)
	w.WriteU8(2)

	r := NewReader(w.Bytes())
	_, err := r.ReadU8()
	assert.NilError(t, err)
	assert.Assert(t, eris.Is(r.Done(), ErrTrailingBytes))
}

func TestSectionBackpatch(t *testing.T) {
	w := NewWriter()
	w.WriteU8(9) // unrelated preamble
	s := w.BeginSection()
	w.WriteU32(42)
	w.WriteU64(43)
	w.EndSection(s)

	r := NewReader(w.Bytes())
	_, err := r.ReadU8()
	assert.NilError(t, err)
	sec, err := r.BeginSection()
	assert.NilError(t, err)
	a, err := r.ReadU32()
	assert.NilError(t, err)
	assert.Equal(t, a, uint32(42))
	b, err := r.ReadU64()
	assert.NilError(t, err)
	assert.Equal(t, b, uint64(43))
	assert.NilError(t, sec.End(r))
	assert.NilError(t, r.Done())
}

func TestSectionSkip(t *testing.T) {
	w := NewWriter()
	s := w.BeginSection()
	w.WriteU64(1)
	w.WriteU64(2)
	w.EndSection(s)
	w.WriteU8(0xFF)

	r := NewReader(w.Bytes())
	sec, err := r.BeginSection()
	assert.NilError(t, err)
	assert.NilError(t, sec.Skip(r))
	tail, err := r.ReadU8()
	assert.NilError(t, err)
	assert.Equal(t, tail, uint8(0xFF))
	assert.NilError(t, r.Done())
}

func TestSectionMismatch(t *testing.T) {
	w := NewWriter()
	s := w.BeginSection()
	w.WriteU32(1)
	w.EndSection(s)

	r := NewReader(w.Bytes())
	sec, err := r.BeginSection()
	assert.NilError(t, err)
	// Consume less than declared.
	_, err = r.ReadU16()
	assert.NilError(t, err)
	assert.Assert(t, eris.Is(sec.End(r), ErrSectionOverrun))
}

func TestCountBoundsCheck(t *testing.T) {
	w := NewWriter()
	w.WriteCount(1 << 30) // absurd count with no elements behind it

	r := NewReader(w.Bytes())
	_, err := r.ReadCount(4)
	assert.Assert(t, eris.Is(err, ErrShortBuffer))
}
