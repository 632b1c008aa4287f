// Package hciwire defines the HCI/ACL/L2CAP wire framing and the
// subset of HCI opcodes and event codes this host stack needs: plain
// structs with Marshal/Unmarshal methods operating on
// byte slices in HCI's native little-endian order.
package hciwire

import "encoding/binary"

// HCI packet type indicator, the first byte of every packet crossing
// the transport.
const (
	PacketTypeCommand = 0x01
	PacketTypeACLData = 0x02
	PacketTypeEvent   = 0x04
)

// ACL packet boundary flags (bits 12-13 of the handle/flags field).
const (
	PBFirstNonFlushable = 0x00
	PBFirst             = 0x02
	PBContinuation      = 0x01
)

// ATTCID is the fixed L2CAP channel identifier used by the Attribute
// Protocol.
const ATTCID = 0x0004

func putU8(b []byte, v uint8)   { b[0] = v }
func putU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func putU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

func putMAC(b []byte, mac [6]byte) {
	for i := 0; i < 6; i++ {
		b[i] = mac[5-i]
	}
}

func getMAC(b []byte) (mac [6]byte) {
	for i := 0; i < 6; i++ {
		mac[i] = b[5-i]
	}
	return mac
}

// BuildCommandPacket frames a command PDU: type||opcode(LE)||paramLen||params.
func BuildCommandPacket(op Opcode, params []byte) []byte {
	b := make([]byte, 4+len(params))
	b[0] = PacketTypeCommand
	putU16(b[1:], uint16(op))
	b[3] = byte(len(params))
	copy(b[4:], params)
	return b
}

// ACLHeader is the 4-byte header following the packet-type byte of an
// ACL data packet: handle-flags(2,LE) || length(2,LE).
type ACLHeader struct {
	Handle uint16 // low 12 bits
	PB     uint8  // bits 12-13
	BC     uint8  // bits 14-15
	Length uint16
}

// ParseACLHeader parses the 4-byte ACL header starting at b[0].
func ParseACLHeader(b []byte) ACLHeader {
	hf := binary.LittleEndian.Uint16(b[0:2])
	return ACLHeader{
		Handle: hf & 0x0fff,
		PB:     uint8((hf >> 12) & 0x3),
		BC:     uint8((hf >> 14) & 0x3),
		Length: binary.LittleEndian.Uint16(b[2:4]),
	}
}

// BuildACLFragment frames one ACL fragment: type||handle-flags(LE)||length(LE)||payload.
func BuildACLFragment(handle uint16, pb uint8, payload []byte) []byte {
	b := make([]byte, 5+len(payload))
	b[0] = PacketTypeACLData
	hf := (handle & 0x0fff) | (uint16(pb&0x3) << 12)
	putU16(b[1:], hf)
	putU16(b[3:], uint16(len(payload)))
	copy(b[5:], payload)
	return b
}

// L2CAPHeader is length(2,LE)||CID(2,LE).
func L2CAPHeader(length uint16, cid uint16) []byte {
	b := make([]byte, 4)
	putU16(b[0:], length)
	putU16(b[2:], cid)
	return b
}

// ParseL2CAPHeader reads length and CID from the front of b.
func ParseL2CAPHeader(b []byte) (length uint16, cid uint16) {
	return binary.LittleEndian.Uint16(b[0:2]), binary.LittleEndian.Uint16(b[2:4])
}
