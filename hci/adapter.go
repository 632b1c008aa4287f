// Package hci implements the host-side HCI command/event multiplexer:
// a single in-flight command queue, ACL
// buffer credit accounting, per-connection L2CAP fragmentation and
// reassembly, and event demultiplexing.
package hci

import (
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mgandl/blehost/internal/hciwire"
	"github.com/mgandl/blehost/internal/wirebuf"
)

// Transport is the opaque byte channel to the controller. The
// embedder owns reading from the real transport and calls
// Deliver for every complete HCI packet it produces; the Adapter
// never reads from the transport itself.
type Transport interface {
	Write(b []byte) error
}

// Role is the link-layer role of an ACL connection.
type Role int

const (
	RoleCentral Role = iota
	RolePeripheral
)

func (r Role) String() string {
	if r == RolePeripheral {
		return "peripheral"
	}
	return "central"
}

// ConnCallback is invoked once a connection attempt resolves, either
// as the result of a local LE Create Connection command (central
// role) or of accepting an incoming connection while advertising
// (peripheral role). err is non-nil iff the controller reported a
// non-zero status.
type ConnCallback func(c *Conn, err error)

type pendingCmd struct {
	opcode   hciwire.Opcode
	payload  []byte
	handle   *uint16
	callback func(status uint8, r *wirebuf.Reader)
	ignore   bool
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithLogger overrides the adapter's logger. Default is
// logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Adapter) { a.log = l }
}

// Adapter is the HCI command/event multiplexer for one controller.
type Adapter struct {
	mu  sync.Mutex
	log logrus.FieldLogger
	tr  Transport

	queue    []*pendingCmd
	inFlight *pendingCmd
	stopped  bool

	controllerBuffers int
	numFreeBuffers    int
	aclMtu            int

	conns map[uint16]*Conn

	advCallback  ConnCallback
	connCallback ConnCallback

	hwErrorCB func(code uint8)
	ltkReqCB  func(c *Conn, randomNumber uint64, ediv uint16)
	p256CB    func(status uint8, publicKey [64]byte)
	dhkeyCB   func(status uint8, dhkey [32]byte)

	advertisingReportCB         func(r hciwire.LEAdvertisingReport)
	extendedAdvertisingReportCB func(r hciwire.LEExtendedAdvertisingReport)
}

// New creates an Adapter bound to tr. Call ReadBufferSize and
// LEReadBufferSize before sending ACL data, so the ACL credit accounting in §4.1 has a
// controller buffer count to work from.
func New(tr Transport, opts ...Option) *Adapter {
	a := &Adapter{
		tr:    tr,
		log:   logrus.StandardLogger(),
		conns: map[uint16]*Conn{},
		// aclMtu is clamped to 1023 to accommodate known controllers,
		// even before the real buffer size is read.
		aclMtu: 1023,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Stop immediately disables all further writes and detaches the
// transport; it makes all further operations on the adapter inert.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.queue = nil
	a.inFlight = nil
}

// SetHardwareErrorCallback installs the adapter-wide callback invoked
// whenever the controller reports a Hardware Error event.
func (a *Adapter) SetHardwareErrorCallback(cb func(code uint8)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hwErrorCB = cb
}

// SetLongTermKeyRequestCallback installs the callback invoked whenever
// the controller requests an LTK for an active connection (LE Long
// Term Key Request event). This is one of the flags the core consults
// but does not itself implement pairing for.
func (a *Adapter) SetLongTermKeyRequestCallback(cb func(c *Conn, randomNumber uint64, ediv uint16)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ltkReqCB = cb
}

// SetP256KeyCompleteCallback installs the callback for LE Read Local
// P-256 Public Key Complete events.
func (a *Adapter) SetP256KeyCompleteCallback(cb func(status uint8, publicKey [64]byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p256CB = cb
}

// SetDHKeyCompleteCallback installs the callback for LE Generate DHKey
// Complete events.
func (a *Adapter) SetDHKeyCompleteCallback(cb func(status uint8, dhkey [32]byte)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dhkeyCB = cb
}

// SetAdvertisingConnectionCallback installs the one-shot callback
// consumed by the next connection completion in the peripheral role.
// Must be set before enabling advertising.
func (a *Adapter) SetAdvertisingConnectionCallback(cb ConnCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advCallback = cb
}

// SetAdvertisingReportCallback installs the handler invoked for every
// report in every LE Advertising Report event (scan results), one
// call per report.
func (a *Adapter) SetAdvertisingReportCallback(cb func(r hciwire.LEAdvertisingReport)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advertisingReportCB = cb
}

// SetExtendedAdvertisingReportCallback installs the handler invoked
// for every report in every LE Extended Advertising Report event.
func (a *Adapter) SetExtendedAdvertisingReportCallback(cb func(r hciwire.LEExtendedAdvertisingReport)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extendedAdvertisingReportCB = cb
}

// Deliver is called by the embedder once per complete HCI packet the
// transport produces; each delivery is exactly one HCI packet.
func (a *Adapter) Deliver(packet []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped || len(packet) == 0 {
		return
	}
	switch packet[0] {
	case hciwire.PacketTypeACLData:
		a.handleACL(packet[1:])
	case hciwire.PacketTypeEvent:
		a.handleEvent(packet[1:])
	default:
		a.log.WithField("type", packet[0]).Warn("hci: unknown inbound packet type")
	}
}

func (a *Adapter) sendCommand(cp hciwire.CmdParam, handle *uint16, cb func(status uint8, r *wirebuf.Reader)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	payload := make([]byte, cp.Len())
	cp.Marshal(payload)
	pc := &pendingCmd{opcode: cp.Opcode(), payload: payload, handle: handle, callback: cb}
	a.queue = append(a.queue, pc)
	a.dispatchNextLocked()
}

func (a *Adapter) dispatchNextLocked() {
	if a.stopped || a.inFlight != nil || len(a.queue) == 0 {
		return
	}
	cmd := a.queue[0]
	a.queue = a.queue[1:]
	a.inFlight = cmd
	pkt := hciwire.BuildCommandPacket(cmd.opcode, cmd.payload)
	a.log.WithField("opcode", cmd.opcode).Debug("hci: sending command")
	if err := a.tr.Write(pkt); err != nil {
		a.log.WithError(err).Error("hci: command write failed")
	}
}

// pump sends queued ACL fragments one at a time, each to a
// uniformly-random ready connection, for as long as ACL credits are
// available.
func (a *Adapter) pump() {
	for a.numFreeBuffers > 0 {
		var candidates []*Conn
		for _, c := range a.conns {
			if !c.disconnecting && len(c.outboundQueue) > 0 {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			return
		}
		c := candidates[rand.Intn(len(candidates))]
		frag := c.outboundQueue[0]
		c.outboundQueue = c.outboundQueue[1:]

		pb := hciwire.PBContinuation
		if frag.isFirst {
			pb = hciwire.PBFirst
		}
		pkt := hciwire.BuildACLFragment(c.handle, uint8(pb), frag.bytes)
		a.numFreeBuffers--
		if err := a.tr.Write(pkt); err != nil {
			a.log.WithError(err).Error("hci: acl write failed")
		}
		if frag.completeCallback != nil {
			c.pendingComplete = append(c.pendingComplete, frag.completeCallback)
		} else {
			c.pendingComplete = append(c.pendingComplete, func() {})
		}
		if frag.sentCallback != nil {
			frag.sentCallback()
		}
	}
}
