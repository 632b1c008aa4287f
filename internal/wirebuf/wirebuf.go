// Package wirebuf implements the little-endian read/write cursors
// shared by the HCI, ATT, and GATT codecs. It is the "packet codecs"
// leaf of the transport/HCI/ATT/GATT layering.
package wirebuf

import "encoding/binary"

// Reader is a forward-only cursor over a byte slice. All Read methods
// return ok=false (and leave the cursor unmoved) if the underlying
// slice does not hold enough bytes; callers use this to detect
// malformed PDUs without panicking.
type Reader struct {
	b   []byte
	off int
}

// NewReader wraps b for sequential little-endian reads.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.b) - r.off }

// Uint8 reads one byte.
func (r *Reader) Uint8() (uint8, bool) {
	if r.Len() < 1 {
		return 0, false
	}
	v := r.b[r.off]
	r.off++
	return v, true
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() (uint16, bool) {
	if r.Len() < 2 {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, true
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, bool) {
	if r.Len() < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, true
}

// Bytes reads the next n bytes verbatim (no copy; callers that retain
// the slice past further mutation of the source should copy it).
func (r *Reader) Bytes(n int) ([]byte, bool) {
	if n < 0 || r.Len() < n {
		return nil, false
	}
	v := r.b[r.off : r.off+n]
	r.off += n
	return v, true
}

// Remaining returns every unread byte.
func (r *Reader) Remaining() []byte { return r.b[r.off:] }

// Writer is an append-only little-endian byte cursor.
type Writer struct {
	b []byte
}

// NewWriter returns an empty Writer, optionally pre-sized.
func NewWriter(capacityHint int) *Writer {
	return &Writer{b: make([]byte, 0, capacityHint)}
}

func (w *Writer) PutUint8(v uint8) { w.b = append(w.b, v) }

func (w *Writer) PutUint16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.b = append(w.b, tmp[:]...)
}

func (w *Writer) PutUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.b = append(w.b, tmp[:]...)
}

func (w *Writer) PutBytes(v []byte) { w.b = append(w.b, v...) }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.b }
