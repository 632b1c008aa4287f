package gattclient

import (
	"testing"

	"github.com/mgandl/blehost/att"
	"github.com/mgandl/blehost/gattdb"
	"github.com/mgandl/blehost/internal/faketransport"
	"github.com/mgandl/blehost/storage"
	"github.com/mgandl/blehost/uuid"
)

func newLoopback(t *testing.T, db *gattdb.DB) (*Client, *att.Conn) {
	t.Helper()
	clientDB := &emptyDB{}
	clientConn, serverConn := faketransport.Loopback(clientDB, db)
	return New(clientConn), serverConn
}

type emptyDB struct{}

func (emptyDB) AttributeAt(uint16) (*att.Attribute, bool)         { return nil, false }
func (emptyDB) AttributesInRange(uint16, uint16) []*att.Attribute { return nil }

func TestDiscoverAllPrimaryServicesFindsUserService(t *testing.T) {
	db := gattdb.New()
	svc := &gattdb.Service{UUID: uuid.UUID16(0x180d)}
	svc.AddCharacteristic(uuid.UUID16(0x2a37), gattdb.PropNotify, att.PermNotPermitted, att.PermNotPermitted, 2)
	if errs := db.AddServices([]*gattdb.Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}

	c, _ := newLoopback(t, db)
	var got []*ServiceInfo
	var gotErr error
	if err := c.DiscoverAllPrimaryServices(0, func(services []*ServiceInfo, err error) {
		got, gotErr = services, err
	}); err != nil {
		t.Fatalf("DiscoverAllPrimaryServices: %v", err)
	}
	if gotErr != nil {
		t.Fatalf("discovery callback error: %v", gotErr)
	}

	found := false
	for _, s := range got {
		if s.UUID.Equal(uuid.UUID16(0x180d)) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected to discover the heart-rate-like service, got %+v", got)
	}
	if !c.HasAllPrimaryServices() {
		t.Fatalf("expected hasAllPrimaryServices after a full-range scan")
	}
}

func TestDiscoverCharacteristicsSplitsEndHandles(t *testing.T) {
	db := gattdb.New()
	svc := &gattdb.Service{UUID: uuid.UUID16(0x1813)}
	svc.AddCharacteristic(uuid.UUID16(0x2a58), gattdb.PropRead, att.PermOpen, att.PermNotPermitted, 1)
	svc.AddCharacteristic(uuid.UUID16(0x2a59), gattdb.PropRead, att.PermOpen, att.PermNotPermitted, 1)
	if errs := db.AddServices([]*gattdb.Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}

	c, _ := newLoopback(t, db)
	start, end := svc.Handles()
	si := &ServiceInfo{StartHandle: start, EndHandle: end}

	var gotErr error
	if err := c.DiscoverCharacteristics(si, func(err error) { gotErr = err }); err != nil {
		t.Fatalf("DiscoverCharacteristics: %v", err)
	}
	if gotErr != nil {
		t.Fatalf("characteristic discovery error: %v", gotErr)
	}
	if len(si.Characteristics) != 2 {
		t.Fatalf("expected 2 characteristics, got %d", len(si.Characteristics))
	}
	if si.Characteristics[0].EndHandle != si.Characteristics[1].DeclHandle-1 {
		t.Fatalf("first characteristic should end right before the second's declaration")
	}
	if si.Characteristics[1].EndHandle != si.EndHandle {
		t.Fatalf("last characteristic should end at the service end handle")
	}
}

func TestReadLongChainsReadBlob(t *testing.T) {
	db := gattdb.New()
	longValue := make([]byte, 40)
	for i := range longValue {
		longValue[i] = byte(i)
	}
	svc := &gattdb.Service{UUID: uuid.UUID16(0x1826)}
	ch := svc.AddCharacteristic(uuid.UUID16(0x2ad2), gattdb.PropRead, att.PermOpen, att.PermNotPermitted, 40)
	ch.Value = longValue
	if errs := db.AddServices([]*gattdb.Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}

	c, serverConn := newLoopback(t, db)
	// Neither side exchanges MTU, so the default 23-byte MTU keeps the
	// value from fitting in one response.
	_ = serverConn

	var got []byte
	var gotErr error
	if err := c.ReadLong(ch.ValueHandle(), func(value []byte, err error) {
		got, gotErr = value, err
	}); err != nil {
		t.Fatalf("ReadLong: %v", err)
	}
	if gotErr != nil {
		t.Fatalf("ReadLong callback error: %v", gotErr)
	}
	if string(got) != string(longValue) {
		t.Fatalf("ReadLong = %v, want %v", got, longValue)
	}
}

func TestWriteCCCDRejectsUnsupportedProperty(t *testing.T) {
	ch := &CharacteristicInfo{Props: gattdb.PropRead}
	c := &Client{}
	var gotErr error
	c.conn = nil
	// WriteCCCD must reject before touching the wire, so a nil conn is safe here.
	if err := c.WriteCCCD(ch, true, false, func(err error) { gotErr = err }); err != nil {
		t.Fatalf("WriteCCCD: %v", err)
	}
	if gotErr != att.ErrorCCCDImproperlyConfigured {
		t.Fatalf("expected ErrorCCCDImproperlyConfigured, got %v", gotErr)
	}
}

func TestInvalidateServicesClearsOverlap(t *testing.T) {
	db := gattdb.New()
	svc := &gattdb.Service{UUID: uuid.UUID16(0x1819)}
	svc.AddCharacteristic(uuid.UUID16(0x2a99), gattdb.PropRead, att.PermOpen, att.PermNotPermitted, 1)
	if errs := db.AddServices([]*gattdb.Service{svc}); errs != nil {
		t.Fatalf("AddServices: %v", errs[0])
	}

	c, _ := newLoopback(t, db)
	if err := c.DiscoverAllPrimaryServices(0, func([]*ServiceInfo, error) {}); err != nil {
		t.Fatalf("DiscoverAllPrimaryServices: %v", err)
	}
	if !c.HasAllPrimaryServices() {
		t.Fatalf("expected hasAllPrimaryServices to be set before invalidation")
	}

	start, end := svc.Handles()
	c.InvalidateServices(start, end)
	if c.HasAllPrimaryServices() {
		t.Fatalf("expected hasAllPrimaryServices to be cleared after invalidation")
	}
	if _, ok := c.allPrimary.Lookup(start); ok {
		t.Fatalf("expected the invalidated range to be uncached")
	}
}

func TestPersistenceSkipsResolvableRandomAddress(t *testing.T) {
	root := t.TempDir()
	store := storage.New(root, 0x00, [6]byte{1, 2, 3, 4, 5, 6})

	db := gattdb.New()
	c, _ := newLoopback(t, db)
	c.store = store
	c.peer = "aa:bb:cc:dd:ee:ff"
	c.addr = [6]byte{0x01, 0x02, 0x03, 0xbb, 0xcc, 0x40}

	if err := c.DiscoverAllPrimaryServices(0, func([]*ServiceInfo, error) {}); err != nil {
		t.Fatalf("DiscoverAllPrimaryServices: %v", err)
	}
	if _, ok := store.GetGattCache(c.peer, false); ok {
		t.Fatalf("a resolvable-random peer's cache must not be persisted")
	}
}
