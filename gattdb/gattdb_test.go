package gattdb

import (
	"testing"

	"github.com/mgandl/blehost/att"
	"github.com/mgandl/blehost/uuid"
)

func TestMandatoryServicesPresent(t *testing.T) {
	d := New()
	if d.deviceNameHandle == 0 || d.appearanceHandle == 0 || d.serviceChangedHandle == 0 {
		t.Fatalf("expected mandatory handles to be assigned, got %+v", d)
	}
	a, ok := d.AttributeAt(d.deviceNameHandle)
	if !ok || !a.Type.Equal(uuidDeviceName) {
		t.Fatalf("device name attribute missing or wrong type")
	}
	if string(a.Value()) != "blehost" {
		t.Fatalf("device name = %q, want default", a.Value())
	}

	sc, ok := d.AttributeAt(d.serviceChangedHandle)
	if !ok || sc.ReadPerm != att.PermNotPermitted || sc.WritePerm != att.PermNotPermitted {
		t.Fatalf("service changed should be not-permitted for read and write")
	}
}

func TestAddServicePlacesContiguousHandles(t *testing.T) {
	d := New()
	svc := &Service{UUID: uuid.UUID16(0x180d)}
	hr := svc.AddCharacteristic(uuid.UUID16(0x2a37), PropNotify, att.PermNotPermitted, att.PermNotPermitted, 2)
	_ = hr

	if errs := d.AddServices([]*Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}
	if svc.startHandle == 0 || svc.endHandle < svc.startHandle {
		t.Fatalf("service handles not placed: %+v", svc)
	}
	// decl, value, cccd = 3 handles.
	if got := svc.endHandle - svc.startHandle + 1; got != 3 {
		t.Fatalf("expected 3 handles (decl, value, cccd), got %d", got)
	}
	declAttr, ok := d.AttributeAt(svc.startHandle)
	if !ok || !declAttr.Type.Equal(uuidPrimaryService) {
		t.Fatalf("expected a primary service declaration at the service start handle")
	}
}

func TestAddServiceHonorsStartHandleHint(t *testing.T) {
	d := New()
	gaps := d.gapsLocked()
	if len(gaps) == 0 {
		t.Fatalf("expected a free gap after mandatory services")
	}
	hint := gaps[len(gaps)-1].start + 10

	svc := &Service{UUID: uuid.UUID16(0x1812), StartHandle: hint}
	svc.AddCharacteristic(uuid.UUID16(0x2a4d), PropRead, att.PermOpen, att.PermNotPermitted, 20)
	if errs := d.AddServices([]*Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}
	if svc.startHandle != hint {
		t.Fatalf("startHandle = %#x, want hint %#x", svc.startHandle, hint)
	}
}

func TestAddServicesRollsBackOnBatchFailure(t *testing.T) {
	d := New()
	before := len(d.attrs)

	good := &Service{UUID: uuid.UUID16(0x180f)}
	good.AddCharacteristic(uuid.UUID16(0x2a19), PropRead, att.PermOpen, att.PermNotPermitted, 1)

	bad := &Service{UUID: uuid.UUID16(0x1811)}
	// Read property without a corresponding non-not-permitted ReadPerm: invalid.
	bad.AddCharacteristic(uuid.UUID16(0x2a58), PropRead, att.PermNotPermitted, att.PermNotPermitted, 1)

	errs := d.AddServices([]*Service{good, bad})
	if errs == nil {
		t.Fatalf("expected a validation error for the inconsistent characteristic")
	}
	if len(d.attrs) != before {
		t.Fatalf("expected full rollback, attribute count changed from %d to %d", before, len(d.attrs))
	}
	if len(d.services) != 2 {
		// only the two mandatory services should remain
		t.Fatalf("expected mandatory services only, got %d services", len(d.services))
	}
}

func TestRejectsUserSuppliedCCCD(t *testing.T) {
	d := New()
	svc := &Service{UUID: uuid.UUID16(0x1813)}
	c := svc.AddCharacteristic(uuid.UUID16(0x2a63), PropNotify, att.PermNotPermitted, att.PermNotPermitted, 4)
	c.Descriptors = append(c.Descriptors, &Descriptor{UUID: uuidCCCD})

	errs := d.AddServices([]*Service{svc})
	if errs == nil {
		t.Fatalf("expected rejection of a user-supplied CCCD descriptor")
	}
}

func TestRemoveServiceFreesHandles(t *testing.T) {
	d := New()
	svc := &Service{UUID: uuid.UUID16(0x1816)}
	svc.AddCharacteristic(uuid.UUID16(0x2a53), PropRead, att.PermOpen, att.PermNotPermitted, 1)
	if errs := d.AddServices([]*Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}
	start, end := svc.startHandle, svc.endHandle

	d.RemoveService(svc)
	for h := start; h <= end; h++ {
		if _, ok := d.AttributeAt(h); ok {
			t.Fatalf("handle %#x should have been freed", h)
		}
	}
	for _, s := range d.services {
		if s == svc {
			t.Fatalf("removed service should not remain in the service list")
		}
	}
}

func TestExtendedPropertiesDescriptorAutoInserted(t *testing.T) {
	d := New()
	svc := &Service{UUID: uuid.UUID16(0x1819)}
	c := svc.AddCharacteristic(uuid.UUID16(0x2a99), PropWrite, att.PermNotPermitted, att.PermOpen, 4)
	c.ReliableWrite = true
	if errs := d.AddServices([]*Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}
	// decl, value, extended-props = 3.
	if got := svc.endHandle - svc.startHandle + 1; got != 3 {
		t.Fatalf("expected 3 handles (decl, value, ext-props), got %d", got)
	}
	extHandle := svc.endHandle
	a, ok := d.AttributeAt(extHandle)
	if !ok || !a.Type.Equal(uuidExtendedProps) {
		t.Fatalf("expected an Extended Properties descriptor at the last handle")
	}
	if got := a.Value(); len(got) != 2 || got[0]&0x01 == 0 {
		t.Fatalf("expected the reliable-write bit set, got %v", got)
	}
}

func TestConnectionLifecycleRestoresAndFiresSubscription(t *testing.T) {
	d := New()
	svc := &Service{UUID: uuid.UUID16(0x181a)}
	var fired []bool
	c := svc.AddCharacteristic(uuid.UUID16(0x2a6e), PropNotify, att.PermNotPermitted, att.PermNotPermitted, 2)
	c.OnSubscriptionChange = func(conn *att.Conn, notify, indicate, isWrite bool) {
		fired = append(fired, notify)
	}
	if errs := d.AddServices([]*Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}

	store := &fakeCCCDStore{values: map[uint16]uint8{c.cccdHandle: 1}}
	d.OnConnectedPhase1(store, "peer")
	d.OnConnectedPhase2(nil)

	if len(fired) != 1 || !fired[0] {
		t.Fatalf("expected OnSubscriptionChange(notify=true) to fire once, got %v", fired)
	}

	d.OnDisconnected(nil)
	if len(fired) != 2 || fired[1] {
		t.Fatalf("expected a subsequent unsubscribe callback, got %v", fired)
	}
}

type fakeCCCDStore struct {
	values map[uint16]uint8
}

func (f *fakeCCCDStore) AllCccds(peer string) map[uint16]uint8 { return f.values }
func (f *fakeCCCDStore) StoreCccd(peer string, handle uint16, value uint8) error {
	if f.values == nil {
		f.values = map[uint16]uint8{}
	}
	f.values[handle] = value
	return nil
}
