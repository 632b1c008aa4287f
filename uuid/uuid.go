// Package uuid implements BLE attribute UUID canonicalization: the
// 16-bit short form used on the wire for Bluetooth SIG-assigned
// attributes, and the full 128-bit form used for vendor-specific
// attributes, per the Bluetooth base UUID substitution rule.
package uuid

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLength is returned when FromWireBytes is given, or Parse
// decodes, a byte sequence that is neither 2 nor 16 bytes long.
var ErrInvalidLength = errors.New("uuid: length must be 2 or 16 bytes")

// baseUUID is the Bluetooth SIG base UUID, in big-endian (canonical
// string) byte order: 00000000-0000-1000-8000-00805F9B34FB.
var baseUUID = [16]byte{
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00,
	0x10, 0x00,
	0x80, 0x00,
	0x00, 0x80, 0x5F, 0x9B, 0x34, 0xFB,
}

// UUID is a canonicalized BLE attribute UUID. The zero value is not a
// valid UUID.
//
// A UUID always carries its full 128-bit canonical form (big-endian
// byte order, as in the textual representation) plus, when the value
// falls under the Bluetooth base UUID, the 16-bit short form that is
// actually sent on the wire.
type UUID struct {
	full  [16]byte
	short uint16
	has16 bool
}

// UUID16 builds a UUID from a 16-bit Bluetooth SIG assigned number,
// e.g. UUID16(0x2902) for the Client Characteristic Configuration
// descriptor.
func UUID16(n uint16) UUID {
	full := baseUUID
	full[2] = byte(n >> 8)
	full[3] = byte(n)
	return UUID{full: full, short: n, has16: true}
}

// UUID128 builds a UUID from a 16-byte value in big-endian (canonical
// textual) byte order. If the value falls under the Bluetooth base
// UUID, the resulting UUID also carries its 16-bit short form.
func UUID128(b [16]byte) UUID {
	u := UUID{full: b}
	if isBaseUUIDShell(b) {
		u.short = uint16(b[2])<<8 | uint16(b[3])
		u.has16 = true
	}
	return u
}

func isBaseUUIDShell(b [16]byte) bool {
	for i, v := range baseUUID {
		if i == 2 || i == 3 {
			continue
		}
		if b[i] != v {
			return false
		}
	}
	return true
}

// FromWireBytes parses a UUID from its little-endian wire
// representation: 2 bytes for a short-form UUID, 16 bytes for a full
// 128-bit UUID. This is the inverse of WireBytes.
func FromWireBytes(b []byte) (UUID, error) {
	switch len(b) {
	case 2:
		return UUID16(uint16(b[0]) | uint16(b[1])<<8), nil
	case 16:
		var full [16]byte
		reverseInto(full[:], b)
		return UUID128(full), nil
	default:
		return UUID{}, ErrInvalidLength
	}
}

// Parse parses the canonical textual form, e.g.
// "0000180a-0000-1000-8000-00805f9b34fb" or the bare short form
// "180a"/"0x180a".
func Parse(s string) (UUID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.ReplaceAll(s, "-", "")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return UUID{}, fmt.Errorf("uuid: parse %q: %w", s, err)
	}
	switch len(raw) {
	case 2:
		return UUID16(uint16(raw[0])<<8 | uint16(raw[1])), nil
	case 16:
		var full [16]byte
		copy(full[:], raw)
		return UUID128(full), nil
	default:
		return UUID{}, ErrInvalidLength
	}
}

// Is16Bit reports whether u has a 16-bit short form.
func (u UUID) Is16Bit() bool { return u.has16 }

// Short returns the 16-bit short form and true, or (0, false) if u has
// no such form.
func (u UUID) Short() (uint16, bool) { return u.short, u.has16 }

// Full returns the canonical 128-bit form in big-endian byte order.
func (u UUID) Full() [16]byte { return u.full }

// WireBytes returns the shortest wire-correct little-endian encoding:
// 2 bytes if u has a 16-bit short form, 16 bytes otherwise.
func (u UUID) WireBytes() []byte {
	if u.has16 {
		return []byte{byte(u.short), byte(u.short >> 8)}
	}
	out := make([]byte, 16)
	reverseInto(out, u.full[:])
	return out
}

// Wire128Bytes always returns the full 128-bit little-endian wire
// encoding, regardless of whether u has a short form. Used when a PDU
// format has already committed to 128-bit entries (e.g. Find
// Information Response).
func (u UUID) Wire128Bytes() []byte {
	out := make([]byte, 16)
	reverseInto(out, u.full[:])
	return out
}

// Equal reports whether u and v denote the same attribute UUID.
func (u UUID) Equal(v UUID) bool { return bytes.Equal(u.full[:], v.full[:]) }

// IsZero reports whether u is the zero value.
func (u UUID) IsZero() bool { return u.full == [16]byte{} && !u.has16 }

// String returns the canonical textual form, or the short 4-hex-digit
// form if u has a 16-bit short form.
func (u UUID) String() string {
	if u.has16 {
		return fmt.Sprintf("%04x", u.short)
	}
	b := u.full
	return fmt.Sprintf("%02x%02x%02x%02x-%02x%02x-%02x%02x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7],
		b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}

func reverseInto(dst, src []byte) {
	n := len(src)
	for i := 0; i < n; i++ {
		dst[i] = src[n-1-i]
	}
}
