package hci

import (
	"sync"
	"testing"

	"github.com/mgandl/blehost/internal/hciwire"
)

type fakeTransport struct {
	mu      sync.Mutex
	written [][]byte
}

func (f *fakeTransport) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeTransport) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.written) == 0 {
		return nil
	}
	return f.written[len(f.written)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func commandCompleteEvent(op hciwire.Opcode, returnParams []byte) []byte {
	params := make([]byte, 3+len(returnParams))
	params[0] = 1
	params[1] = byte(op)
	params[2] = byte(op >> 8)
	copy(params[3:], returnParams)
	b := make([]byte, 3+len(params))
	b[0] = hciwire.PacketTypeEvent
	b[1] = byte(hciwire.EventCommandComplete)
	b[2] = byte(len(params))
	copy(b[3:], params)
	return b
}

func TestSingleInFlightCommand(t *testing.T) {
	tr := &fakeTransport{}
	a := New(tr)

	var gotA, gotB bool
	a.Reset(func(status uint8) { gotA = true })
	a.Reset(func(status uint8) { gotB = true })

	if tr.count() != 1 {
		t.Fatalf("expected exactly one command in flight, got %d writes", tr.count())
	}

	a.Deliver(commandCompleteEvent(hciwire.OpReset, []byte{0x00}))
	if !gotA {
		t.Fatalf("first Reset callback did not fire")
	}
	if tr.count() != 2 {
		t.Fatalf("expected second queued command dispatched after first completed, got %d writes", tr.count())
	}

	a.Deliver(commandCompleteEvent(hciwire.OpReset, []byte{0x00}))
	if !gotB {
		t.Fatalf("second Reset callback did not fire")
	}
}

func TestCommandCompleteForNonPendingOpcodeIgnored(t *testing.T) {
	tr := &fakeTransport{}
	a := New(tr)

	called := false
	a.Reset(func(status uint8) { called = true })

	a.Deliver(commandCompleteEvent(hciwire.OpReadBufferSize, []byte{0x00}))
	if called {
		t.Fatalf("callback fired for mismatched opcode")
	}

	a.Deliver(commandCompleteEvent(hciwire.OpReset, []byte{0x00}))
	if !called {
		t.Fatalf("callback for the actually-pending opcode never fired")
	}
}

func leReadBufferSizeComplete(aclLen uint16, numPkts uint8) []byte {
	rp := []byte{0x00, byte(aclLen), byte(aclLen >> 8), numPkts}
	return commandCompleteEvent(hciwire.OpLEReadBufferSize, rp)
}

func leConnectionCompleteEvent(handle uint16, role uint8) []byte {
	params := make([]byte, 19)
	params[0] = byte(hciwire.LESubConnectionComplete)
	params[1] = 0x00
	params[2] = byte(handle)
	params[3] = byte(handle >> 8)
	params[4] = role
	b := make([]byte, 3+len(params))
	b[0] = hciwire.PacketTypeEvent
	b[1] = byte(hciwire.EventLEMeta)
	b[2] = byte(len(params))
	copy(b[3:], params)
	return b
}

func TestACLCreditAccountingGatesSend(t *testing.T) {
	tr := &fakeTransport{}
	a := New(tr)
	a.LEReadBufferSize(func(status uint8, rp hciwire.LEReadBufferSizeRP) {})
	a.Deliver(leReadBufferSizeComplete(27, 1))

	a.Deliver(leConnectionCompleteEvent(0x0040, 0))
	conn := a.conns[0x0040]
	if conn == nil {
		t.Fatalf("connection not registered after LE Connection Complete")
	}

	before := tr.count()
	sent := false
	conn.SendATT([]byte{0x01, 0x02}, func() { sent = true }, nil)
	if tr.count() != before+1 {
		t.Fatalf("expected exactly one ACL fragment written while one credit available, got %d new writes", tr.count()-before)
	}
	if !sent {
		t.Fatalf("sentCallback did not fire once transport write occurred")
	}

	conn.SendATT([]byte{0x03}, nil, nil)
	if tr.count() != before+1 {
		t.Fatalf("second SendATT should be queued, not written, while no credits remain")
	}
}

func TestDisconnectionDropsQueuedCommandsForHandle(t *testing.T) {
	tr := &fakeTransport{}
	a := New(tr)
	a.Deliver(leConnectionCompleteEvent(0x0010, 0))

	fired := false
	a.Disconnect(0x0010, 0x13, func(status uint8) { fired = true })
	a.ReadRemoteVersionInfo(0x0010, func(status uint8) {})

	if len(a.queue) != 1 {
		t.Fatalf("expected the second command queued behind Disconnect, got %d queued", len(a.queue))
	}

	disc := make([]byte, 4)
	disc[0] = 0x00
	disc[1] = byte(0x0010)
	disc[2] = byte(0x0010 >> 8)
	disc[3] = 0x13
	ev := make([]byte, 3+len(disc))
	ev[0] = hciwire.PacketTypeEvent
	ev[1] = byte(hciwire.EventDisconnectionComplete)
	ev[2] = byte(len(disc))
	copy(ev[3:], disc)
	a.Deliver(ev)

	if len(a.queue) != 0 {
		t.Fatalf("queued command tagged with the disconnected handle should have been dropped, got %d remaining", len(a.queue))
	}
	if a.inFlight == nil || !a.inFlight.ignore {
		t.Fatalf("in-flight Disconnect command should be marked ignore after its own Disconnection Complete arrived")
	}
	_ = fired
	if _, ok := a.conns[0x0010]; ok {
		t.Fatalf("connection should be removed after Disconnection Complete")
	}
}

func TestInboundReassemblyRoutesCompletePDU(t *testing.T) {
	tr := &fakeTransport{}
	a := New(tr)
	a.Deliver(leConnectionCompleteEvent(0x0020, 1))
	conn := a.conns[0x0020]

	var got []byte
	conn.SetATTHandler(func(data []byte) { got = data })

	attPDU := []byte{0x02, 0x04, 0x00}
	l2cap := hciwire.L2CAPHeader(uint16(len(attPDU)), hciwire.ATTCID)
	sdu := append(l2cap, attPDU...)

	first := sdu[:4]
	rest := sdu[4:]

	pkt1 := make([]byte, 5+len(first))
	pkt1[0] = hciwire.PacketTypeACLData
	hf := uint16(0x0020) | (uint16(hciwire.PBFirst) << 12)
	pkt1[1] = byte(hf)
	pkt1[2] = byte(hf >> 8)
	pkt1[3] = byte(len(first))
	pkt1[4] = byte(len(first) >> 8)
	copy(pkt1[5:], first)
	a.Deliver(pkt1)

	if got != nil {
		t.Fatalf("handler fired before the full SDU was reassembled")
	}

	pkt2 := make([]byte, 5+len(rest))
	pkt2[0] = hciwire.PacketTypeACLData
	hf2 := uint16(0x0020) | (uint16(hciwire.PBContinuation) << 12)
	pkt2[1] = byte(hf2)
	pkt2[2] = byte(hf2 >> 8)
	pkt2[3] = byte(len(rest))
	pkt2[4] = byte(len(rest) >> 8)
	copy(pkt2[5:], rest)
	a.Deliver(pkt2)

	if string(got) != string(attPDU) {
		t.Fatalf("reassembled ATT PDU = %x, want %x", got, attPDU)
	}
}
