// Package gattdb implements the GATT server database: handle
// placement, automatic descriptor insertion, attribute emission, and
// the mandatory Generic Attribute / Generic Access services. The
// ATT-level read/write/CCCD dispatch rules
// themselves live in package att; this package's job is to build the
// att.Attribute entries that dispatch runs against.
package gattdb

import (
	"github.com/mgandl/blehost/att"
	"github.com/mgandl/blehost/uuid"
)

// Characteristic property bits, per the Bluetooth core spec
// Characteristic Properties bitmap.
const (
	PropBroadcast   uint8 = 0x01
	PropRead        uint8 = 0x02
	PropWriteNR     uint8 = 0x04
	PropWrite       uint8 = 0x08
	PropNotify      uint8 = 0x10
	PropIndicate    uint8 = 0x20
	PropAuthSigned  uint8 = 0x40
	PropExtended    uint8 = 0x80
)

// Extended property bits, carried in the 0x2900 descriptor's value
// rather than the characteristic declaration's properties byte.
const (
	ExtReliableWrite       uint16 = 0x0001
	ExtWritableAuxiliaries uint16 = 0x0002
)

var (
	uuidPrimaryService   = uuid.UUID16(0x2800)
	uuidSecondaryService = uuid.UUID16(0x2801)
	uuidInclude          = uuid.UUID16(0x2802)
	uuidCharacteristic   = uuid.UUID16(0x2803)
	uuidCCCD             = uuid.UUID16(0x2902)
	uuidExtendedProps    = uuid.UUID16(0x2900)
	uuidGenericAccess    = uuid.UUID16(0x1800)
	uuidGenericAttribute = uuid.UUID16(0x1801)
	uuidDeviceName       = uuid.UUID16(0x2a00)
	uuidAppearance       = uuid.UUID16(0x2a01)
	uuidServiceChanged   = uuid.UUID16(0x2a05)
)

// Descriptor is a user-supplied characteristic descriptor. Do not use
// this to add a CCCD (0x2902) or Extended Properties (0x2900)
// descriptor; the database manages both automatically.
type Descriptor struct {
	UUID      uuid.UUID
	ReadPerm  att.Permission
	WritePerm att.Permission
	MaxLen    int
	Value     []byte

	AuthorizeRead  func(conn *att.Conn, cb func(ok bool))
	Read           func(conn *att.Conn, cb func(value []byte, err att.Error))
	PartialRead    func(conn *att.Conn, offset int, cb func(value []byte, err att.Error))
	AuthorizeWrite func(conn *att.Conn, cb func(ok bool))
	Write          func(conn *att.Conn, needsResponse bool, value []byte, cb func(err att.Error))
	PartialWrite   func(conn *att.Conn, needsResponse bool, offset int, value []byte, cb func(err att.Error))

	handle uint16
}

// Characteristic is a BLE characteristic builder. Construct with
// Service.AddCharacteristic.
type Characteristic struct {
	UUID      uuid.UUID
	Props     uint8
	ReadPerm  att.Permission
	WritePerm att.Permission
	MaxLen    int
	Value     []byte

	ReliableWrite       bool
	WritableAuxiliaries bool

	AuthorizeRead  func(conn *att.Conn, cb func(ok bool))
	Read           func(conn *att.Conn, cb func(value []byte, err att.Error))
	PartialRead    func(conn *att.Conn, offset int, cb func(value []byte, err att.Error))
	AuthorizeWrite func(conn *att.Conn, cb func(ok bool))
	Write          func(conn *att.Conn, needsResponse bool, value []byte, cb func(err att.Error))
	PartialWrite   func(conn *att.Conn, needsResponse bool, offset int, value []byte, cb func(err att.Error))

	// OnSubscriptionChange fires whenever this characteristic's CCCD
	// value changes, whether by client write or bonded-peer restore.
	OnSubscriptionChange func(conn *att.Conn, notify, indicate, isWrite bool)

	Descriptors []*Descriptor

	declHandle  uint16
	valueHandle uint16
	cccdHandle  uint16 // 0 if this characteristic has no CCCD
}

// hasExtendedProps reports whether this characteristic needs an
// auto-inserted 0x2900 descriptor.
func (c *Characteristic) hasExtendedProps() bool {
	return c.ReliableWrite || c.WritableAuxiliaries
}

func (c *Characteristic) extendedPropsValue() []byte {
	var v uint16
	if c.ReliableWrite {
		v |= ExtReliableWrite
	}
	if c.WritableAuxiliaries {
		v |= ExtWritableAuxiliaries
	}
	return []byte{byte(v), byte(v >> 8)}
}

func (c *Characteristic) needsCCCD() bool {
	return c.Props&(PropNotify|PropIndicate) != 0
}

// Service is a BLE service builder: a UUID, optional included
// services, and an ordered list of characteristics.
type Service struct {
	UUID        uuid.UUID
	IsSecondary bool
	// StartHandle is an optional placement hint honored only if it
	// lands within a gap big enough for the whole service.
	StartHandle uint16

	Includes        []*Service
	Characteristics []*Characteristic

	startHandle uint16
	endHandle   uint16
}

// Handles returns the inclusive handle range s was placed at. Zero
// values mean s has not been added to a database yet.
func (s *Service) Handles() (start, end uint16) { return s.startHandle, s.endHandle }

// AddCharacteristic appends a characteristic builder to s and returns
// it for further configuration.
func (s *Service) AddCharacteristic(u uuid.UUID, props uint8, readPerm, writePerm att.Permission, maxLen int) *Characteristic {
	c := &Characteristic{UUID: u, Props: props, ReadPerm: readPerm, WritePerm: writePerm, MaxLen: maxLen}
	s.Characteristics = append(s.Characteristics, c)
	return c
}

// numberOfHandles computes 1 (decl) + |includes| + 2*|chars| +
// sum(descriptors), including auto-inserted CCCD/Extended Properties.
func (s *Service) numberOfHandles() int {
	n := 1 + len(s.Includes)
	for _, c := range s.Characteristics {
		n += 2 + len(c.Descriptors)
		if c.hasExtendedProps() {
			n++
		}
		if c.needsCCCD() {
			n++
		}
	}
	return n
}
