package att

import (
	"sort"
	"testing"

	"github.com/mgandl/blehost/uuid"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) SendATT(pdu []byte, sentCB, completeCB func()) {
	f.sent = append(f.sent, append([]byte(nil), pdu...))
	if sentCB != nil {
		sentCB()
	}
	if completeCB != nil {
		completeCB()
	}
}

func (f *fakeSender) last() []byte {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

type fakeDB struct {
	attrs map[uint16]*Attribute
}

func newFakeDB() *fakeDB { return &fakeDB{attrs: map[uint16]*Attribute{}} }

func (d *fakeDB) add(a *Attribute) { d.attrs[a.Handle] = a }

func (d *fakeDB) AttributeAt(handle uint16) (*Attribute, bool) {
	a, ok := d.attrs[handle]
	return a, ok
}

func (d *fakeDB) AttributesInRange(start, end uint16) []*Attribute {
	var out []*Attribute
	for h, a := range d.attrs {
		if h >= start && h <= end {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func valueAttr(handle uint16, typ uuid.UUID, perm Permission, value []byte) *Attribute {
	v := append([]byte(nil), value...)
	return &Attribute{
		Handle:    handle,
		Type:      typ,
		ReadPerm:  perm,
		WritePerm: perm,
		MaxLen:    512,
		Value:     func() []byte { return v },
		SetValue:  func(nv []byte) { v = append([]byte(nil), nv...) },
	}
}

func TestReadRequestRoundTrip(t *testing.T) {
	db := newFakeDB()
	db.add(valueAttr(1, uuid.UUID16(0x2a00), PermOpen, []byte("hello")))
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver([]byte{OpReadReq, 0x01, 0x00})
	resp := s.last()
	if resp == nil || resp[0] != OpReadResp {
		t.Fatalf("expected Read Response, got %x", resp)
	}
	if string(resp[1:]) != "hello" {
		t.Fatalf("got value %q, want %q", resp[1:], "hello")
	}
	if c.isHandlingRequest {
		t.Fatalf("server should no longer be busy after responding")
	}
}

func TestReadRequestNotPermitted(t *testing.T) {
	db := newFakeDB()
	db.add(valueAttr(1, uuid.UUID16(0x2a00), PermNotPermitted, []byte("x")))
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver([]byte{OpReadReq, 0x01, 0x00})
	resp := s.last()
	if resp == nil || resp[0] != OpError || Error(resp[4]) != ErrorReadNotPermitted {
		t.Fatalf("expected Read Not Permitted error, got %x", resp)
	}
}

func TestServerBusyDropsSecondRequest(t *testing.T) {
	db := newFakeDB()
	db.add(valueAttr(1, uuid.UUID16(0x2a00), PermOpen, []byte("x")))
	s := &fakeSender{}
	c := NewConn(s, db)
	c.isHandlingRequest = true

	c.Deliver([]byte{OpReadReq, 0x01, 0x00})
	if len(s.sent) != 0 {
		t.Fatalf("expected request to be dropped while server busy, got %d responses", len(s.sent))
	}
}

func TestWriteRequestInvalidHandle(t *testing.T) {
	db := newFakeDB()
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver(append([]byte{OpWriteReq, 0x05, 0x00}, []byte("abc")...))
	resp := s.last()
	if resp == nil || resp[0] != OpError || Error(resp[4]) != ErrorInvalidHandle {
		t.Fatalf("expected Invalid Handle error, got %x", resp)
	}
}

func TestWriteCommandEmitsNothing(t *testing.T) {
	db := newFakeDB()
	db.add(valueAttr(1, uuid.UUID16(0x2a00), PermOpen, []byte("old")))
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver(append([]byte{OpWriteCommand, 0x01, 0x00}, []byte("new")...))
	if len(s.sent) != 0 {
		t.Fatalf("write command must not produce a response, got %d sends", len(s.sent))
	}
	a, _ := db.AttributeAt(1)
	if string(a.Value()) != "new" {
		t.Fatalf("value not updated by write command")
	}
}

func TestPrepareWriteCoalescesContiguousTail(t *testing.T) {
	db := newFakeDB()
	db.add(valueAttr(1, uuid.UUID16(0x2a00), PermOpen, nil))
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver(append([]byte{OpPrepareWriteReq, 0x01, 0x00, 0x00, 0x00}, []byte("ab")...))
	c.Deliver(append([]byte{OpPrepareWriteReq, 0x01, 0x00, 0x02, 0x00}, []byte("cd")...))

	if len(c.prepareQueue) != 1 {
		t.Fatalf("expected contiguous prepares to coalesce into one entry, got %d", len(c.prepareQueue))
	}
	if string(c.prepareQueue[0].value) != "abcd" {
		t.Fatalf("coalesced value = %q, want %q", c.prepareQueue[0].value, "abcd")
	}
}

func TestExecuteWriteCancelDiscardsQueue(t *testing.T) {
	db := newFakeDB()
	db.add(valueAttr(1, uuid.UUID16(0x2a00), PermOpen, []byte("orig")))
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver(append([]byte{OpPrepareWriteReq, 0x01, 0x00, 0x00, 0x00}, []byte("new")...))
	c.Deliver([]byte{OpExecuteWriteReq, 0x00})

	resp := s.last()
	if resp == nil || resp[0] != OpExecuteWriteResp {
		t.Fatalf("expected Execute Write Response, got %x", resp)
	}
	a, _ := db.AttributeAt(1)
	if string(a.Value()) != "orig" {
		t.Fatalf("cancel flag should discard queued writes, value = %q", a.Value())
	}
}

func TestExecuteWriteCommitAppliesQueue(t *testing.T) {
	db := newFakeDB()
	db.add(valueAttr(1, uuid.UUID16(0x2a00), PermOpen, nil))
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver(append([]byte{OpPrepareWriteReq, 0x01, 0x00, 0x00, 0x00}, []byte("new")...))
	c.Deliver([]byte{OpExecuteWriteReq, 0x01})

	resp := s.last()
	if resp == nil || resp[0] != OpExecuteWriteResp {
		t.Fatalf("expected Execute Write Response, got %x", resp)
	}
	a, _ := db.AttributeAt(1)
	if string(a.Value()) != "new" {
		t.Fatalf("commit flag should apply queued writes, value = %q", a.Value())
	}
}

func TestMTUExchangeGrowsOnceAndFlushesHeldNotifications(t *testing.T) {
	db := newFakeDB()
	s := &fakeSender{}
	c := NewConn(s, db)

	// Before any MTU exchange has ever settled, a push must be held.
	c.Notify(1, []byte("held"))
	if len(s.sent) != 0 {
		t.Fatalf("notification sent before first MTU exchange should be held")
	}

	c.Deliver([]byte{OpMTUReq, 0xff, 0xff})
	if c.MTU() != maxServerMTU {
		t.Fatalf("MTU = %d, want %d", c.MTU(), maxServerMTU)
	}
	found := false
	for _, p := range s.sent {
		if p[0] == OpHandleValueNotification {
			found = true
		}
	}
	if !found {
		t.Fatalf("held notification never flushed after MTU response")
	}

	c.Deliver([]byte{OpMTUReq, 0x17, 0x00})
	if c.MTU() != maxServerMTU {
		t.Fatalf("MTU must not shrink on a later exchange, got %d", c.MTU())
	}
}

func TestClientExchangeMTUHoldsAndFlushesServerPushes(t *testing.T) {
	db := newFakeDB()
	s := &fakeSender{}
	c := NewConn(s, db)

	var gotServerMTU int
	var cbErr error
	if err := c.ExchangeMTU(185, func(serverMTU int, err error) {
		gotServerMTU = serverMTU
		cbErr = err
	}); err != nil {
		t.Fatalf("ExchangeMTU: %v", err)
	}

	// The request itself must not be held behind its own exchange.
	if len(s.sent) != 1 || s.sent[0][0] != OpMTUReq {
		t.Fatalf("expected one MTU request sent, got %v", s.sent)
	}

	c.Notify(1, []byte("held"))
	if len(s.sent) != 1 {
		t.Fatalf("notification during outstanding client ExchangeMTU should be held")
	}

	resp := make([]byte, 3)
	resp[0] = OpMTUResp
	putU16(resp[1:], 247)
	c.Deliver(resp)

	if cbErr != nil {
		t.Fatalf("unexpected ExchangeMTU error: %v", cbErr)
	}
	if gotServerMTU != 247 {
		t.Fatalf("serverMTU = %d, want 247", gotServerMTU)
	}
	found := false
	for _, p := range s.sent {
		if p[0] == OpHandleValueNotification {
			found = true
		}
	}
	if !found {
		t.Fatalf("held notification never flushed after ExchangeMTU completed")
	}

	c.Notify(2, []byte("unheld"))
	if len(s.sent) == 0 || s.sent[len(s.sent)-1][0] != OpHandleValueNotification {
		t.Fatalf("notification after exchange settled should send immediately")
	}
}

func TestIndicationSingletonBlocksSecondUntilConfirmed(t *testing.T) {
	db := newFakeDB()
	s := &fakeSender{}
	c := NewConn(s, db)
	// Server pushes are held until the first MTU exchange settles.
	c.Deliver([]byte{OpMTUReq, 0x17, 0x00})

	c.Indicate(1, []byte("a"), nil)
	before := len(s.sent)
	c.Indicate(1, []byte("b"), nil)
	if len(s.sent) != before {
		t.Fatalf("second indication should be dropped while one is outstanding")
	}

	c.Deliver([]byte{OpHandleValueConfirmation})
	c.Indicate(1, []byte("c"), nil)
	if len(s.sent) != before+1 {
		t.Fatalf("indication should be accepted again after confirmation")
	}
}

func TestClientReadTimeoutBlocksFurtherRequests(t *testing.T) {
	db := newFakeDB()
	s := &fakeSender{}
	c := NewConn(s, db)

	if err := c.Read(1, func(value []byte, err error) {}); err != nil {
		t.Fatalf("Read returned unexpected error: %v", err)
	}
	if err := c.Read(1, func(value []byte, err error) {}); err != ErrRequestInFlight {
		t.Fatalf("expected ErrRequestInFlight for a second concurrent request, got %v", err)
	}

	c.clientTimer.Stop()
	c.clientWaiting = false
	c.clientParser = nil
	c.clientTimedOut = true

	if err := c.Read(1, func(value []byte, err error) {}); err != ErrConnTimedOut {
		t.Fatalf("expected ErrConnTimedOut after a request timeout, got %v", err)
	}
}

func TestMalformedResponseLeavesRequestPending(t *testing.T) {
	db := newFakeDB()
	s := &fakeSender{}
	c := NewConn(s, db)

	var gotValue []byte
	var called bool
	c.Read(1, func(value []byte, err error) { called, gotValue = true, value })

	c.Deliver([]byte{OpWriteResp})
	if called {
		t.Fatalf("malformed/mismatched response must not resolve the pending request")
	}
	if !c.clientWaiting {
		t.Fatalf("request should remain pending after a malformed response")
	}

	c.Deliver(append([]byte{OpReadResp}, []byte("ok")...))
	if !called || string(gotValue) != "ok" {
		t.Fatalf("valid response after a malformed one should still resolve the request")
	}
}

func TestReadByTypeStopsAtLengthMismatch(t *testing.T) {
	db := newFakeDB()
	typ := uuid.UUID16(0x2803)
	db.add(valueAttr(1, typ, PermOpen, []byte("ab")))
	db.add(valueAttr(2, typ, PermOpen, []byte("abc")))
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver([]byte{OpReadByTypeReq, 0x01, 0x00, 0xff, 0xff, 0x03, 0x28})
	resp := s.last()
	if resp == nil || resp[0] != OpReadByTypeResp {
		t.Fatalf("expected Read By Type Response, got %x", resp)
	}
	entryLen := int(resp[1])
	if (len(resp)-2)%entryLen != 0 {
		t.Fatalf("malformed response body")
	}
	if (len(resp)-2)/entryLen != 1 {
		t.Fatalf("expected only the first same-length attribute collected, got %d entries", (len(resp)-2)/entryLen)
	}
}

func TestCCCDWriteRejectsUnsupportedProperty(t *testing.T) {
	db := newFakeDB()
	var cccd uint16
	a := &Attribute{
		Handle:                   2,
		Type:                     uuid.UUID16(0x2902),
		IsCCCD:                   true,
		CharacteristicProperties: 0,
		Value:                    func() []byte { return []byte{byte(cccd), byte(cccd >> 8)} },
		SetValue:                 func(v []byte) { cccd = u16(v) },
	}
	db.add(a)
	s := &fakeSender{}
	c := NewConn(s, db)

	c.Deliver([]byte{OpWriteReq, 0x02, 0x00, 0x01, 0x00})
	resp := s.last()
	if resp == nil || resp[0] != OpError || Error(resp[4]) != ErrorCCCDImproperlyConfigured {
		t.Fatalf("expected CCCD improperly configured error, got %x", resp)
	}
}
