package att

import "encoding/binary"

func u16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

func putU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

func mergeAt(cur []byte, offset int, value []byte) []byte {
	need := offset + len(value)
	if need > len(cur) {
		grown := make([]byte, need)
		copy(grown, cur)
		cur = grown
	} else {
		cur = append([]byte(nil), cur...)
	}
	copy(cur[offset:], value)
	return cur
}

// readValueSync reads an attribute's current value assuming any
// handler it carries replies synchronously. It is used by the
// opcodes that must compare or concatenate many attributes in one
// response (FindByTypeValue, ReadByType, ReadMultiple); the
// single-attribute Read/ReadBlob path instead uses the fully
// asynchronous flow in serveRead, and ReadByGroupType reads the
// declaration's Value directly.
func (c *Conn) readValueSync(a *Attribute) ([]byte, Error) {
	var result []byte
	var ec Error
	done := false
	cb := func(v []byte, e Error) {
		result, ec, done = v, e, true
	}
	switch {
	case a.PartialRead != nil:
		a.PartialRead(c, 0, cb)
	case a.Read != nil:
		a.Read(c, cb)
	case a.Value != nil:
		result, done = a.Value(), true
	}
	if !done {
		return nil, ErrorUnlikelyError
	}
	return result, ec
}
