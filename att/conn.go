package att

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	requestTimeout        = 30 * time.Second
	initialMTU            = 23
	maxServerMTU          = 517
	maxPrepareQueueEntries = 128

	// Characteristic property bits consulted by the CCCD write
	// dispatcher.
	PropNotify   uint8 = 0x10
	PropIndicate uint8 = 0x20
)

// Sender is the outbound half of the L2CAP/ACL transport a Conn rides
// on top of; hci.Conn satisfies it.
type Sender interface {
	SendATT(pdu []byte, sentCB, completeCB func())
}

type pendingPrepare struct {
	handle uint16
	offset int
	value  []byte
}

// Conn is the per-connection ATT engine: the client request/response
// state machine, the server's opcode
// dispatch against an AttrDB, the prepare/execute write queue, and the
// notify/indicate queues with MTU-exchange ordering. It assumes a
// single-threaded, cooperative caller: Deliver and the public client
// methods must not be invoked concurrently with each other for the
// same Conn.
type Conn struct {
	log    logrus.FieldLogger
	sender Sender
	db     AttrDB
	enc    EncryptionState

	mtu      int
	mtuGrown bool

	isHandlingRequest bool

	prepareQueue []pendingPrepare

	indicationOutstanding      bool
	indicationTimer            *time.Timer
	pendingIndicationConfirmed func(timedOut bool)
	// mtuSettled is false until the first MTU exchange (either role)
	// completes; mtuExchangeInFlight is additionally true while a
	// client-initiated ExchangeMTU request is outstanding. Server
	// pushes are held behind notifyHoldQueue while mtuSettled is false
	// or mtuExchangeInFlight is true.
	mtuSettled          bool
	mtuExchangeInFlight bool
	notifyHoldQueue     [][]byte

	clientWaiting  bool
	clientTimer    *time.Timer
	clientParser   func(pdu []byte) bool
	clientTimedOut bool

	// NotifyIndicateCallback is invoked for every inbound
	// notification or indication; the caller owns issuing the
	// confirmation for indications via ConfirmIndication.
	NotifyIndicateCallback func(handle uint16, value []byte, isIndication bool)
	// TimeoutCallback fires once, the first time a client request
	// times out; no further outbound requests are accepted afterward.
	TimeoutCallback func()
}

// Option configures a Conn at construction.
type Option func(*Conn)

// WithLogger overrides the connection's logger.
func WithLogger(l logrus.FieldLogger) Option { return func(c *Conn) { c.log = l } }

// NewConn creates an ATT engine over sender, dispatching server
// requests against db.
func NewConn(sender Sender, db AttrDB, opts ...Option) *Conn {
	c := &Conn{
		sender: sender,
		db:     db,
		mtu:    initialMTU,
		log:    logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetEncryptionState updates the encryption state consulted by
// permission checks; call it whenever the link's encryption changes.
func (c *Conn) SetEncryptionState(e EncryptionState) { c.enc = e }

// MTU returns the currently negotiated effective MTU.
func (c *Conn) MTU() int { return c.mtu }

// Deliver processes one complete inbound ATT PDU.
func (c *Conn) Deliver(pdu []byte) {
	if len(pdu) == 0 {
		return
	}
	op := pdu[0]
	switch {
	case op == OpHandleValueNotification:
		c.handleNotification(pdu)
	case op == OpHandleValueIndication:
		c.handleIndication(pdu)
	case op == OpHandleValueConfirmation:
		c.handleConfirmation()
	case op == OpError || isResponseOpcode(op):
		c.handleClientResponse(pdu)
	case op == OpSignedWriteCommand:
		// Accepted but unhandled: a real controller tolerates it silently.
	case op == OpWriteCommand:
		c.dispatchWriteCommand(pdu)
	case isRequestOpcode(op):
		if c.isHandlingRequest {
			c.log.Debug("att: request dropped, server busy")
			return
		}
		c.isHandlingRequest = true
		c.dispatchRequest(op, pdu)
	default:
		c.log.WithField("opcode", op).Debug("att: unrecognized opcode, dropping")
	}
}

func (c *Conn) finishRequest() { c.isHandlingRequest = false }

func (c *Conn) send(pdu []byte) {
	c.sender.SendATT(pdu, nil, nil)
}

// enqueueServerPush queues data behind the first MTU exchange (which
// has not necessarily happened yet at connection start) or any later
// client-initiated exchange still outstanding, and sends immediately
// otherwise.
func (c *Conn) enqueueServerPush(pdu []byte) {
	if !c.mtuSettled || c.mtuExchangeInFlight {
		c.notifyHoldQueue = append(c.notifyHoldQueue, pdu)
		return
	}
	c.send(pdu)
}

// flushNotifyHoldQueue releases every queued notification/indication
// PDU in the order they were queued; called once an MTU exchange
// settles, from whichever role drove it.
func (c *Conn) flushNotifyHoldQueue() {
	held := c.notifyHoldQueue
	c.notifyHoldQueue = nil
	for _, p := range held {
		c.send(p)
	}
}

// Notify sends a Handle Value Notification for handle.
func (c *Conn) Notify(handle uint16, value []byte) {
	pdu := append([]byte{OpHandleValueNotification, byte(handle), byte(handle >> 8)}, value...)
	c.enqueueServerPush(pdu)
}

// Indicate sends a Handle Value Indication, subject to the singleton
// indication-in-flight rule and its own 30-second confirmation
// timeout.
func (c *Conn) Indicate(handle uint16, value []byte, onConfirmed func(timedOut bool)) {
	if c.indicationOutstanding {
		c.log.Debug("att: indication dropped, one already outstanding")
		return
	}
	pdu := append([]byte{OpHandleValueIndication, byte(handle), byte(handle >> 8)}, value...)
	c.indicationOutstanding = true
	c.indicationTimer = time.AfterFunc(requestTimeout, func() {
		c.indicationOutstanding = false
		if onConfirmed != nil {
			onConfirmed(true)
		}
	})
	c.pendingIndicationConfirmed = onConfirmed
	c.enqueueServerPush(pdu)
}

func (c *Conn) handleConfirmation() {
	if !c.indicationOutstanding {
		return
	}
	c.indicationOutstanding = false
	if c.indicationTimer != nil {
		c.indicationTimer.Stop()
	}
	if cb := c.pendingIndicationConfirmed; cb != nil {
		c.pendingIndicationConfirmed = nil
		cb(false)
	}
}

func (c *Conn) handleNotification(pdu []byte) {
	if len(pdu) < 3 {
		return
	}
	handle := uint16(pdu[1]) | uint16(pdu[2])<<8
	if c.NotifyIndicateCallback != nil {
		c.NotifyIndicateCallback(handle, pdu[3:], false)
	}
}

func (c *Conn) handleIndication(pdu []byte) {
	if len(pdu) < 3 {
		return
	}
	handle := uint16(pdu[1]) | uint16(pdu[2])<<8
	if c.NotifyIndicateCallback != nil {
		c.NotifyIndicateCallback(handle, pdu[3:], true)
	}
}

// ConfirmIndication sends the Handle Value Confirmation for an
// inbound indication. The caller is responsible for calling this
// exactly once per delivered indication.
func (c *Conn) ConfirmIndication() {
	c.send([]byte{OpHandleValueConfirmation})
}
