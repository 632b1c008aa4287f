package wirebuf

import "testing"

func TestReaderUint16RoundTrip(t *testing.T) {
	w := NewWriter(4)
	w.PutUint16(0x1234)
	w.PutUint8(0xAB)
	r := NewReader(w.Bytes())
	v, ok := r.Uint16()
	if !ok || v != 0x1234 {
		t.Fatalf("Uint16() = %x, %v; want 0x1234, true", v, ok)
	}
	b, ok := r.Uint8()
	if !ok || b != 0xAB {
		t.Fatalf("Uint8() = %x, %v; want 0xAB, true", b, ok)
	}
}

func TestReaderShortRead(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, ok := r.Uint16(); ok {
		t.Fatalf("Uint16() on 1-byte buffer should fail")
	}
	if r.Len() != 1 {
		t.Fatalf("failed read should not advance cursor, Len() = %d", r.Len())
	}
}

func TestReaderBytes(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5})
	b, ok := r.Bytes(3)
	if !ok || len(b) != 3 {
		t.Fatalf("Bytes(3) = %v, %v", b, ok)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() after Bytes(3) = %d, want 2", r.Len())
	}
}
