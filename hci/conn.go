package hci

import (
	"github.com/mgandl/blehost/internal/hciwire"
)

// outboundFragment is one ACL fragment queued for transmission.
// sentCallback fires as soon as the fragment is handed to the
// transport; completeCallback fires once the controller has
// acknowledged it via Number Of Completed Packets. Only the final
// fragment of a PDU normally carries non-nil callbacks, since they
// describe the PDU's ultimate disposition, not any individual
// fragment's.
type outboundFragment struct {
	isFirst          bool
	bytes            []byte
	sentCallback     func()
	completeCallback func()
}

// Conn is one ACL connection: a link-layer peer plus the L2CAP
// fragmentation/reassembly state that rides on top of it.
type Conn struct {
	adapter *Adapter
	handle  uint16
	role    Role

	PeerAddress     [6]byte
	PeerAddressType uint8

	disconnecting bool

	outboundQueue   []outboundFragment
	pendingComplete []func()

	// rx holds the in-progress reassembly of one inbound L2CAP PDU.
	rxBuf    []byte
	rxWant   int
	rxActive bool

	// attHandler receives each complete inbound ATT-CID L2CAP SDU.
	attHandler func(data []byte)

	// DisconnectCallback, if set, is invoked once with the
	// disconnection reason when this connection tears down.
	DisconnectCallback func(reason uint8)

	connUpdateCB        func(ep hciwire.LEConnectionUpdateCompleteEP)
	readRemoteFeatsCB   func(ep hciwire.LEReadRemoteFeaturesCompleteEP)
	readRemoteVersionCB func(ep hciwire.ReadRemoteVersionInfoCompleteEP)
	encryptionChangeCB  func(ep hciwire.EncryptionChangeEP)
	phyUpdateCB         func(ep hciwire.LEPHYUpdateCompleteEP)
}

func newConn(a *Adapter, handle uint16, role Role, peerAddr [6]byte, peerAddrType uint8) *Conn {
	return &Conn{
		adapter:         a,
		handle:          handle,
		role:            role,
		PeerAddress:     peerAddr,
		PeerAddressType: peerAddrType,
	}
}

// Handle returns the controller-assigned connection handle.
func (c *Conn) Handle() uint16 { return c.handle }

// Role returns whether this host acted as central or peripheral for
// this connection.
func (c *Conn) Role() Role { return c.role }

// SetATTHandler installs the callback invoked with each complete
// inbound ATT PDU (the L2CAP SDU addressed to the fixed ATT CID).
func (c *Conn) SetATTHandler(h func(data []byte)) { c.attHandler = h }

// SetConnUpdateCallback installs the one-shot handler for the next LE
// Connection Update Complete event on this connection.
func (c *Conn) SetConnUpdateCallback(cb func(ep hciwire.LEConnectionUpdateCompleteEP)) {
	c.connUpdateCB = cb
}

// SetReadRemoteFeaturesCallback installs the one-shot handler for the
// next LE Read Remote Features Complete event on this connection.
func (c *Conn) SetReadRemoteFeaturesCallback(cb func(ep hciwire.LEReadRemoteFeaturesCompleteEP)) {
	c.readRemoteFeatsCB = cb
}

// SetReadRemoteVersionCallback installs the one-shot handler for the
// next Read Remote Version Information Complete event.
func (c *Conn) SetReadRemoteVersionCallback(cb func(ep hciwire.ReadRemoteVersionInfoCompleteEP)) {
	c.readRemoteVersionCB = cb
}

// SetEncryptionChangeCallback installs the handler invoked on every
// Encryption Change event for this connection (not one-shot: link
// encryption can be renegotiated more than once over a connection's
// lifetime).
func (c *Conn) SetEncryptionChangeCallback(cb func(ep hciwire.EncryptionChangeEP)) {
	c.encryptionChangeCB = cb
}

// SetPHYUpdateCallback installs the one-shot handler for the next LE
// PHY Update Complete event.
func (c *Conn) SetPHYUpdateCallback(cb func(ep hciwire.LEPHYUpdateCompleteEP)) {
	c.phyUpdateCB = cb
}

// cancelAll drops every queued outbound fragment and pending completion
// callback without invoking them: disconnection cancels all in-flight
// work for the connection.
func (c *Conn) cancelAll() {
	c.outboundQueue = nil
	c.pendingComplete = nil
}

// ackComplete pops up to n pending completion callbacks (clamped to
// however many are actually outstanding) and invokes them in FIFO
// order, returning the number actually acknowledged.
func (c *Conn) ackComplete(n int) int {
	if n > len(c.pendingComplete) {
		n = len(c.pendingComplete)
	}
	for i := 0; i < n; i++ {
		c.pendingComplete[i]()
	}
	c.pendingComplete = c.pendingComplete[n:]
	return n
}

// SendATT fragments an ATT-CID L2CAP SDU into ACL fragments sized to
// the adapter's negotiated ACL MTU and enqueues them for the pump.
// sentCB fires once the final fragment is written to the transport;
// completeCB fires once the controller has acknowledged consuming the
// final fragment's buffer.
func (c *Conn) SendATT(pdu []byte, sentCB, completeCB func()) {
	a := c.adapter
	mtu := a.aclMtu
	if mtu <= 0 {
		mtu = 1023
	}
	sdu := make([]byte, 4+len(pdu))
	copy(sdu, hciwire.L2CAPHeader(uint16(len(pdu)), hciwire.ATTCID))
	copy(sdu[4:], pdu)

	first := true
	for len(sdu) > 0 {
		n := len(sdu)
		if n > mtu {
			n = mtu
		}
		chunk := sdu[:n]
		sdu = sdu[n:]
		frag := outboundFragment{isFirst: first, bytes: chunk}
		if len(sdu) == 0 {
			frag.sentCallback = sentCB
			frag.completeCallback = completeCB
		}
		c.outboundQueue = append(c.outboundQueue, frag)
		first = false
	}
	a.pump()
}

// receiveFragment reassembles one inbound ACL fragment. A first
// fragment (PB == PBFirst or PBFirstNonFlushable) discards any
// previously in-progress reassembly for this connection; a
// continuation fragment arriving with no first fragment pending is
// dropped. Once the declared L2CAP length has been satisfied, the
// reassembled SDU is routed by CID.
func (c *Conn) receiveFragment(pb uint8, payload []byte) {
	const maxSDU = 64 * 1024

	if pb != hciwire.PBContinuation {
		if len(payload) < 4 {
			c.adapter.log.Warn("hci: first L2CAP fragment shorter than header, dropping")
			c.rxActive = false
			return
		}
		length, _ := hciwire.ParseL2CAPHeader(payload)
		c.rxBuf = append([]byte(nil), payload...)
		c.rxWant = int(length) + 4
		c.rxActive = true
	} else {
		if !c.rxActive {
			c.adapter.log.Debug("hci: continuation fragment with no first fragment pending, dropping")
			return
		}
		c.rxBuf = append(c.rxBuf, payload...)
	}

	if c.rxWant > maxSDU {
		c.adapter.log.Warn("hci: reassembled L2CAP SDU exceeds sanity cap, dropping")
		c.rxActive = false
		c.rxBuf = nil
		return
	}
	if len(c.rxBuf) < c.rxWant {
		return
	}

	sdu := c.rxBuf[:c.rxWant]
	c.rxBuf = nil
	c.rxActive = false

	_, cid := hciwire.ParseL2CAPHeader(sdu)
	data := sdu[4:]
	if cid == hciwire.ATTCID {
		if c.attHandler != nil {
			c.attHandler(data)
		}
	} else {
		c.adapter.log.WithField("cid", cid).Debug("hci: no handler for L2CAP CID")
	}
}
