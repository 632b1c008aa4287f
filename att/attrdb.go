package att

import "github.com/mgandl/blehost/uuid"

// Attribute is the view into one GATT server database entry that the
// ATT server dispatch needs; this package only depends on the shape, not the
// implementation, so gattdb can own handle placement and auto
// descriptors independently).
type Attribute struct {
	Handle uint16
	// GroupEndHandle is non-zero only for group-type declarations
	// (primary/secondary service), naming the last handle in the group.
	GroupEndHandle uint16
	Type           uuid.UUID

	ReadPerm  Permission
	WritePerm Permission
	MaxLen    int

	// IsCCCD marks a 0x2902 descriptor, dispatched through the
	// dedicated CCCD read/write rules rather than Read/Write/Partial*.
	IsCCCD bool

	// Value returns the attribute's stored value (declarations,
	// descriptors without custom handlers, and CCCD use this).
	Value func() []byte
	// SetValue overwrites the stored value, preserving the prior
	// dynamic type tag.
	SetValue func([]byte)

	PartialRead   func(conn *Conn, offset int, cb func(value []byte, err Error))
	Read          func(conn *Conn, cb func(value []byte, err Error))
	AuthorizeRead func(conn *Conn, cb func(ok bool))

	PartialWrite   func(conn *Conn, needsResponse bool, offset int, value []byte, cb func(err Error))
	Write          func(conn *Conn, needsResponse bool, value []byte, cb func(err Error))
	AuthorizeWrite func(conn *Conn, cb func(ok bool))

	// OnSubscriptionChange fires for a CCCD attribute whenever its
	// value changes, whether from a client write or from restoring a
	// bonded peer's stored value on reconnect.
	OnSubscriptionChange func(conn *Conn, notify, indicate, isWrite bool)

	// CharacteristicProperties is consulted only for CCCD attributes,
	// to validate that notify/indicate bits being set correspond to a
	// characteristic that actually declares those properties.
	CharacteristicProperties uint8
}

// AttrDB is the attribute database a Conn dispatches server requests
// against.
type AttrDB interface {
	// AttributeAt returns the attribute at handle, if any.
	AttributeAt(handle uint16) (*Attribute, bool)
	// AttributesInRange returns every attribute with Handle in
	// [start,end], ascending by handle.
	AttributesInRange(start, end uint16) []*Attribute
}
