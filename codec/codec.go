// Package codec implements the binary wire framing shared by every message
// the replication engine produces: little-endian primitives, u32
// count-prefixed collections, and backpatched section size prefixes.
//
// Nothing on the wire is self-describing. The decoder must already know,
// from context, what type each element is; the only framing aid is the
// scoped section prefix, which turns mid-section corruption into a clean
// recoverable error instead of a silent desync.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"
)

var (
	// ErrShortBuffer is returned when the byte stream is exhausted before
	// the message is logically complete.
	ErrShortBuffer = eris.New("codec: buffer exhausted")
	// ErrTrailingBytes is returned by Reader.Done when decoding finished
	// with bytes left over.
	ErrTrailingBytes = eris.New("codec: trailing bytes after message")
	// ErrSectionOverrun is returned when a scoped section's content does
	// not match its backpatched size prefix.
	ErrSectionOverrun = eris.New("codec: section size mismatch")
)

// Writer is an append-only write cursor over a growing byte buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 128)}
}

// Bytes returns the written message. The caller takes ownership; the
// Writer must not be reused afterwards.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteU16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteU32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteU64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteF32(v float32) {
	w.WriteU32(math.Float32bits(v))
}

// WriteCount writes a collection length as the standard u32 prefix.
func (w *Writer) WriteCount(n int) {
	w.WriteU32(uint32(n))
}

// Section is a handle to a reserved u32 size prefix awaiting backpatch.
type Section struct {
	at int
}

// BeginSection reserves a u32 size prefix whose value is not yet known.
func (w *Writer) BeginSection() Section {
	s := Section{at: len(w.buf)}
	w.WriteU32(0)
	return s
}

// EndSection backpatches the section's prefix with the number of bytes
// written since BeginSection.
func (w *Writer) EndSection(s Section) {
	binary.LittleEndian.PutUint32(w.buf[s.at:], uint32(len(w.buf)-s.at-4))
}

// Reader is a read cursor over a received message.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining reports how many undecoded bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Done verifies the message was consumed exactly.
func (r *Reader) Done() error {
	if n := r.Remaining(); n != 0 {
		return eris.Wrapf(ErrTrailingBytes, "%d bytes", n)
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, eris.Wrapf(ErrShortBuffer, "need %d bytes, have %d", n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadCount reads a u32 collection length and bounds-checks it against the
// bytes actually remaining, so a corrupt count cannot drive a huge
// allocation. elemSize is the minimum encoded size of one element.
func (r *Reader) ReadCount(elemSize int) (int, error) {
	v, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	n := int(v)
	if elemSize > 0 && n*elemSize > r.Remaining() {
		return 0, eris.Wrapf(ErrShortBuffer, "count %d exceeds remaining %d bytes", n, r.Remaining())
	}
	return n, nil
}

// SkipRest discards everything left in the buffer. Used when a message is
// recognized as stale and its content intentionally ignored.
func (r *Reader) SkipRest() {
	r.off = len(r.buf)
}

// BeginSection reads a u32 size prefix and returns a checker handle.
func (r *Reader) BeginSection() (SectionReader, error) {
	size, err := r.ReadU32()
	if err != nil {
		return SectionReader{}, err
	}
	if int(size) > r.Remaining() {
		return SectionReader{}, eris.Wrapf(ErrShortBuffer, "section of %d bytes, have %d", size, r.Remaining())
	}
	return SectionReader{size: int(size), start: r.off}, nil
}

// SectionReader checks that a scoped section was consumed exactly.
type SectionReader struct {
	size  int
	start int
}

// End verifies the cursor advanced exactly the section's declared size.
func (s SectionReader) End(r *Reader) error {
	if r.off-s.start != s.size {
		return eris.Wrapf(ErrSectionOverrun, "declared %d, consumed %d", s.size, r.off-s.start)
	}
	return nil
}

// Skip advances past the rest of the section without decoding it.
func (s SectionReader) Skip(r *Reader) error {
	rest := s.size - (r.off - s.start)
	if rest < 0 {
		return eris.Wrapf(ErrSectionOverrun, "declared %d, consumed %d", s.size, r.off-s.start)
	}
	_, err := r.take(rest)
	return err
}
