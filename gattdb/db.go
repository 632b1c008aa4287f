package gattdb

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mgandl/blehost/att"
	"github.com/mgandl/blehost/blerr"
)

const maxHandle = 0xffff

// DB is the GATT server attribute database: a sparse array of
// att.Attribute indexed by handle, organized into services placed by
// first-fit gap scanning. It implements att.AttrDB.
type DB struct {
	mu       sync.Mutex
	log      logrus.FieldLogger
	attrs    map[uint16]*att.Attribute
	services []*Service // sorted by startHandle

	serviceChangedHandle uint16
	deviceNameHandle     uint16
	appearanceHandle     uint16
}

// Option configures a DB at construction.
type Option func(*DB)

// WithLogger overrides the database's logger.
func WithLogger(l logrus.FieldLogger) Option { return func(d *DB) { d.log = l } }

// New constructs a DB pre-populated with the mandatory Generic
// Attribute and Generic Access services.
func New(opts ...Option) *DB {
	d := &DB{
		attrs: map[uint16]*att.Attribute{},
		log:   logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(d)
	}
	d.addMandatoryServices()
	return d
}

func (d *DB) addMandatoryServices() {
	serviceChanged := &Characteristic{
		UUID: uuidServiceChanged, Props: PropIndicate,
		ReadPerm: att.PermNotPermitted, WritePerm: att.PermNotPermitted, MaxLen: 4,
	}
	gatt := &Service{UUID: uuidGenericAttribute, Characteristics: []*Characteristic{serviceChanged}}

	deviceName := &Characteristic{
		UUID: uuidDeviceName, Props: PropRead, ReadPerm: att.PermOpen, WritePerm: att.PermNotPermitted,
		MaxLen: 248, Value: []byte("blehost"),
	}
	appearance := &Characteristic{
		UUID: uuidAppearance, Props: PropRead, ReadPerm: att.PermOpen, WritePerm: att.PermNotPermitted,
		MaxLen: 2, Value: []byte{0x00, 0x00},
	}
	gap := &Service{UUID: uuidGenericAccess, Characteristics: []*Characteristic{deviceName, appearance}}

	if errs := d.addServicesLocked([]*Service{gap, gatt}); errs != nil {
		panic("gattdb: failed to place mandatory services: " + errs[0].Error())
	}
	d.serviceChangedHandle = serviceChanged.valueHandle
	d.deviceNameHandle = deviceName.valueHandle
	d.appearanceHandle = appearance.valueHandle
}

// SetDeviceName overwrites the Generic Access Device Name value,
// truncating to the legacy 248-byte maximum rather than a larger one.
func (d *DB) SetDeviceName(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := []byte(name)
	if len(b) > 248 {
		b = b[:248]
	}
	if a, ok := d.attrs[d.deviceNameHandle]; ok {
		a.SetValue(b)
	}
}

// SetAppearance overwrites the Generic Access Appearance value.
func (d *DB) SetAppearance(v uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.attrs[d.appearanceHandle]; ok {
		a.SetValue([]byte{byte(v), byte(v >> 8)})
	}
}

// ServiceChangedHandle returns the handle of the mandatory Service
// Changed characteristic value, for issuing indications after a
// schema change.
func (d *DB) ServiceChangedHandle() uint16 { return d.serviceChangedHandle }

// AttributeAt implements att.AttrDB.
func (d *DB) AttributeAt(handle uint16) (*att.Attribute, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.attrs[handle]
	return a, ok
}

// AttributesInRange implements att.AttrDB.
func (d *DB) AttributesInRange(start, end uint16) []*att.Attribute {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*att.Attribute
	for h := start; h <= end; h++ {
		if a, ok := d.attrs[h]; ok {
			out = append(out, a)
		}
		if h == maxHandle {
			break
		}
	}
	return out
}

// AddServices places every service in list, honoring each service's
// StartHandle hint if it fits, else the first sufficient gap. If any
// service in the batch cannot be placed, every placement made so far
// in this call is rolled back and a one-element slice holding the
// first failure's error is returned.
func (d *DB) AddServices(list []*Service) []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addServicesLocked(list)
}

func (d *DB) addServicesLocked(list []*Service) []error {
	for _, svc := range list {
		if err := validateService(svc); err != nil {
			return []error{err}
		}
	}

	placed := make([]*Service, 0, len(list))
	for i, svc := range list {
		start, ok := d.findGapLocked(svc.numberOfHandles(), svc.StartHandle)
		if !ok {
			for _, p := range placed {
				d.removeServiceLocked(p)
			}
			return []error{blerr.New(blerr.OutOfRange, "no handle range large enough for service %s (index %d)", svc.UUID, i)}
		}
		d.placeServiceLocked(svc, start)
		placed = append(placed, svc)
	}
	return nil
}

func validateService(svc *Service) error {
	for _, c := range svc.Characteristics {
		if c.Props&PropRead != 0 && c.ReadPerm == att.PermNotPermitted {
			return blerr.New(blerr.PermissionInconsistent, "characteristic %s has Read property but readPerm is not-permitted", c.UUID)
		}
		if c.Props&(PropWrite|PropWriteNR) != 0 && c.WritePerm == att.PermNotPermitted {
			return blerr.New(blerr.PermissionInconsistent, "characteristic %s has a write property but writePerm is not-permitted", c.UUID)
		}
		if c.ReadPerm != att.PermNotPermitted && c.Props&PropRead == 0 {
			return blerr.New(blerr.PermissionInconsistent, "characteristic %s has readPerm set but no Read property", c.UUID)
		}
		if c.WritePerm != att.PermNotPermitted && c.Props&(PropWrite|PropWriteNR) == 0 {
			return blerr.New(blerr.PermissionInconsistent, "characteristic %s has writePerm set but no write property", c.UUID)
		}
		if c.Props&PropAuthSigned != 0 {
			return blerr.New(blerr.InvalidArgument, "characteristic %s: authenticated-signed-writes is rejected at add time", c.UUID)
		}
		for _, desc := range c.Descriptors {
			if desc.UUID.Equal(uuidCCCD) || desc.UUID.Equal(uuidExtendedProps) {
				return blerr.New(blerr.InvalidArgument, "descriptor %s is managed automatically and must not be user-supplied", desc.UUID)
			}
		}
	}
	return nil
}

// findGapLocked scans the sorted service list (with an implicit
// sentinel end of 0xFFFF) for a gap of at least size handles,
// honoring hint if it lands within a sufficient gap.
func (d *DB) findGapLocked(size int, hint uint16) (uint16, bool) {
	gaps := d.gapsLocked()
	if hint != 0 {
		for _, g := range gaps {
			if hint >= g.start && hint+uint16(size)-1 <= g.end && int(g.end-hint+1) >= size {
				return hint, true
			}
		}
	}
	for _, g := range gaps {
		if int(g.end-g.start+1) >= size {
			return g.start, true
		}
	}
	return 0, false
}

type gap struct{ start, end uint16 }

func (d *DB) gapsLocked() []gap {
	var gaps []gap
	cursor := uint16(1)
	for _, svc := range d.services {
		if svc.startHandle > cursor {
			gaps = append(gaps, gap{cursor, svc.startHandle - 1})
		}
		if svc.endHandle >= cursor {
			if svc.endHandle == maxHandle {
				return gaps
			}
			cursor = svc.endHandle + 1
		}
	}
	gaps = append(gaps, gap{cursor, maxHandle})
	return gaps
}

func (d *DB) placeServiceLocked(svc *Service, start uint16) {
	n := start
	declType := uuidPrimaryService
	if svc.IsSecondary {
		declType = uuidSecondaryService
	}
	svc.startHandle = start

	d.attrs[n] = &att.Attribute{
		Handle: n, Type: declType, ReadPerm: att.PermOpen, WritePerm: att.PermNotPermitted,
		MaxLen: 16, Value: func() []byte { return svc.UUID.WireBytes() },
	}
	n++

	for _, inc := range svc.Includes {
		h := n
		val := includeValue(inc)
		d.attrs[h] = &att.Attribute{
			Handle: h, Type: uuidInclude, ReadPerm: att.PermOpen, WritePerm: att.PermNotPermitted,
			MaxLen: len(val), Value: func() []byte { return val },
		}
		n++
	}

	for _, c := range svc.Characteristics {
		placeCharacteristic(d, c, &n)
	}

	svc.endHandle = n - 1
	d.services = append(d.services, svc)
	sort.Slice(d.services, func(i, j int) bool { return d.services[i].startHandle < d.services[j].startHandle })
}

func includeValue(inc *Service) []byte {
	v := make([]byte, 4)
	v[0], v[1] = byte(inc.startHandle), byte(inc.startHandle>>8)
	v[2], v[3] = byte(inc.endHandle), byte(inc.endHandle>>8)
	if short, ok := inc.UUID.Short(); ok {
		v = append(v, byte(short), byte(short>>8))
	}
	return v
}

func placeCharacteristic(d *DB, c *Characteristic, n *uint16) {
	declHandle := *n
	valueHandle := declHandle + 1
	c.declHandle = declHandle
	c.valueHandle = valueHandle

	declValue := func() []byte {
		v := make([]byte, 3)
		v[0] = c.Props
		v[1], v[2] = byte(valueHandle), byte(valueHandle>>8)
		return append(v, c.UUID.WireBytes()...)
	}
	d.attrs[declHandle] = &att.Attribute{
		Handle: declHandle, Type: uuidCharacteristic, ReadPerm: att.PermOpen, WritePerm: att.PermNotPermitted,
		MaxLen: 19, Value: declValue,
	}

	value := append([]byte(nil), c.Value...)
	d.attrs[valueHandle] = &att.Attribute{
		Handle: valueHandle, Type: c.UUID, ReadPerm: c.ReadPerm, WritePerm: c.WritePerm, MaxLen: c.MaxLen,
		Value:          func() []byte { return value },
		SetValue:       func(v []byte) { value = append([]byte(nil), v...) },
		AuthorizeRead:  c.AuthorizeRead,
		Read:           c.Read,
		PartialRead:    c.PartialRead,
		AuthorizeWrite: c.AuthorizeWrite,
		Write:          c.Write,
		PartialWrite:   c.PartialWrite,
		CharacteristicProperties: c.Props,
	}
	*n = valueHandle + 1

	for _, desc := range c.Descriptors {
		placeDescriptor(d, desc, n)
	}

	if c.hasExtendedProps() {
		v := c.extendedPropsValue()
		d.attrs[*n] = &att.Attribute{
			Handle: *n, Type: uuidExtendedProps, ReadPerm: att.PermOpen, WritePerm: att.PermNotPermitted,
			MaxLen: 2, Value: func() []byte { return v },
		}
		*n++
	}

	if c.needsCCCD() {
		cccdHandle := *n
		c.cccdHandle = cccdHandle
		var cccdValue uint16
		d.attrs[cccdHandle] = &att.Attribute{
			Handle: cccdHandle, Type: uuidCCCD, IsCCCD: true, MaxLen: 2,
			CharacteristicProperties: c.Props,
			Value:                    func() []byte { return []byte{byte(cccdValue), byte(cccdValue >> 8)} },
			SetValue:                 func(v []byte) { cccdValue = uint16(v[0]) | uint16(v[1])<<8 },
			OnSubscriptionChange:     c.OnSubscriptionChange,
		}
		*n++
	}
}

func placeDescriptor(d *DB, desc *Descriptor, n *uint16) {
	h := *n
	desc.handle = h
	value := append([]byte(nil), desc.Value...)
	d.attrs[h] = &att.Attribute{
		Handle: h, Type: desc.UUID, ReadPerm: desc.ReadPerm, WritePerm: desc.WritePerm, MaxLen: desc.MaxLen,
		Value:          func() []byte { return value },
		SetValue:       func(v []byte) { value = append([]byte(nil), v...) },
		AuthorizeRead:  desc.AuthorizeRead,
		Read:           desc.Read,
		PartialRead:    desc.PartialRead,
		AuthorizeWrite: desc.AuthorizeWrite,
		Write:          desc.Write,
		PartialWrite:   desc.PartialWrite,
	}
	*n++
}

// RemoveService splices svc out of the database. The caller is
// responsible for separately signaling Service Changed.
func (d *DB) RemoveService(svc *Service) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeServiceLocked(svc)
}

func (d *DB) removeServiceLocked(svc *Service) {
	for h := svc.startHandle; h <= svc.endHandle; h++ {
		delete(d.attrs, h)
		if h == maxHandle {
			break
		}
	}
	idx := -1
	for i, s := range d.services {
		if s == svc {
			idx = i
			break
		}
	}
	if idx >= 0 {
		d.services = append(d.services[:idx], d.services[idx+1:]...)
	}
}

// FindCharacteristicByValueHandle locates the Characteristic owning
// valueHandle, for connection-lifecycle CCCD restore.
func (d *DB) FindCharacteristicByValueHandle(valueHandle uint16) *Characteristic {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, svc := range d.services {
		for _, c := range svc.Characteristics {
			if c.valueHandle == valueHandle {
				return c
			}
		}
	}
	return nil
}

// AllCharacteristicsWithCCCD returns every characteristic in the
// database that has a CCCD descriptor, used to restore a bonded
// peer's subscriptions on reconnect.
func (d *DB) AllCharacteristicsWithCCCD() []*Characteristic {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Characteristic
	for _, svc := range d.services {
		for _, c := range svc.Characteristics {
			if c.cccdHandle != 0 {
				out = append(out, c)
			}
		}
	}
	return out
}

// CCCDHandle returns c's CCCD attribute handle, or 0 if it has none.
func (c *Characteristic) CCCDHandle() uint16 { return c.cccdHandle }

// ValueHandle returns c's value attribute handle.
func (c *Characteristic) ValueHandle() uint16 { return c.valueHandle }
