package att

import (
	"errors"
	"time"

	"github.com/mgandl/blehost/uuid"
)

// ErrRequestInFlight is returned by a client request method when a
// previous request on the same Conn has not yet completed.
var ErrRequestInFlight = errors.New("att: request already in flight")

// ErrConnTimedOut is returned by every client request method once this
// Conn has suffered a request timeout; no further outbound requests
// are permitted after that point.
var ErrConnTimedOut = errors.New("att: connection timed out, no further requests permitted")

// HandleRange is an inclusive [Start,End] handle span.
type HandleRange struct {
	Start, End uint16
}

// FindInfoEntry is one Handle/UUID pair from a Find Information
// response.
type FindInfoEntry struct {
	Handle uint16
	Type   uuid.UUID
}

// TypeValueEntry is one matching attribute group from a Find By Type
// Value response.
type TypeValueEntry struct {
	Handle, GroupEndHandle uint16
}

// GroupEntry is one service declaration from a Read By Group Type
// response.
type GroupEntry struct {
	Handle, GroupEndHandle uint16
	Value                  []byte
}

// sendRequest enforces the single-outstanding-request rule and a
// 30-second timeout, then hands parsing of whatever comes back to
// parse. parse returns false for a malformed response, which leaves
// the in-flight slot untouched for a later valid response or the
// timeout to resolve.
func (c *Conn) sendRequest(pdu []byte, parse func(resp []byte) bool) error {
	if c.clientTimedOut {
		return ErrConnTimedOut
	}
	if c.clientWaiting {
		return ErrRequestInFlight
	}
	c.clientWaiting = true
	c.clientParser = parse
	c.clientTimer = time.AfterFunc(requestTimeout, func() {
		c.clientWaiting = false
		c.clientParser = nil
		c.clientTimedOut = true
		if c.mtuExchangeInFlight {
			c.mtuExchangeInFlight = false
			c.mtuSettled = true
			c.flushNotifyHoldQueue()
		}
		if c.TimeoutCallback != nil {
			c.TimeoutCallback()
		}
	})
	c.sender.SendATT(pdu, nil, nil)
	return nil
}

// handleClientResponse routes an inbound Error Response or any
// response-class opcode to the parser installed by sendRequest.
func (c *Conn) handleClientResponse(pdu []byte) {
	if !c.clientWaiting || c.clientParser == nil {
		return
	}
	// The slot is freed before the parser runs so that a callback it
	// invokes can issue the next request; a malformed response that
	// the parser rejects restores the slot.
	parse, timer := c.clientParser, c.clientTimer
	c.clientWaiting = false
	c.clientParser = nil
	if !parse(pdu) {
		if !c.clientWaiting {
			c.clientWaiting = true
			c.clientParser = parse
		}
		return
	}
	if timer != nil {
		timer.Stop()
	}
}

func parseErrorResponse(pdu []byte) (reqOp byte, handle uint16, ec Error, ok bool) {
	if len(pdu) < 5 || pdu[0] != OpError {
		return 0, 0, 0, false
	}
	return pdu[1], u16(pdu[2:]), Error(pdu[4]), true
}

// ExchangeMTU performs the client side of MTU negotiation. The
// effective MTU only ever grows once from the 23-byte default. Any
// Notify/Indicate this Conn's server side issues while the request is
// outstanding is held and flushed once it resolves.
func (c *Conn) ExchangeMTU(clientMTU int, cb func(serverMTU int, err error)) error {
	pdu := make([]byte, 3)
	pdu[0] = OpMTUReq
	putU16(pdu[1:], uint16(clientMTU))
	c.mtuExchangeInFlight = true
	err := c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			c.mtuExchangeInFlight = false
			c.mtuSettled = true
			c.flushNotifyHoldQueue()
			cb(0, ec)
			return true
		}
		if len(resp) != 3 || resp[0] != OpMTUResp {
			return false
		}
		serverMTU := int(u16(resp[1:]))
		if !c.mtuGrown {
			eff := clientMTU
			if serverMTU < eff {
				eff = serverMTU
			}
			if eff > c.mtu {
				c.mtu = eff
				c.mtuGrown = true
			}
		}
		c.mtuExchangeInFlight = false
		c.mtuSettled = true
		c.flushNotifyHoldQueue()
		cb(serverMTU, nil)
		return true
	})
	if err != nil {
		c.mtuExchangeInFlight = false
	}
	return err
}

// Read issues a Read Request for handle.
func (c *Conn) Read(handle uint16, cb func(value []byte, err error)) error {
	pdu := make([]byte, 3)
	pdu[0] = OpReadReq
	putU16(pdu[1:], handle)
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			cb(nil, ec)
			return true
		}
		if len(resp) < 1 || resp[0] != OpReadResp {
			return false
		}
		cb(append([]byte(nil), resp[1:]...), nil)
		return true
	})
}

// ReadBlob issues a Read Blob Request for handle at offset, used to
// continue a long read once a Read or prior Read Blob filled the MTU.
func (c *Conn) ReadBlob(handle uint16, offset int, cb func(value []byte, err error)) error {
	pdu := make([]byte, 5)
	pdu[0] = OpReadBlobReq
	putU16(pdu[1:], handle)
	putU16(pdu[3:], uint16(offset))
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			cb(nil, ec)
			return true
		}
		if len(resp) < 1 || resp[0] != OpReadBlobResp {
			return false
		}
		cb(append([]byte(nil), resp[1:]...), nil)
		return true
	})
}

// WriteRequest issues an acknowledged Write Request.
func (c *Conn) WriteRequest(handle uint16, value []byte, cb func(err error)) error {
	pdu := append([]byte{OpWriteReq, byte(handle), byte(handle >> 8)}, value...)
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			cb(ec)
			return true
		}
		if len(resp) != 1 || resp[0] != OpWriteResp {
			return false
		}
		cb(nil)
		return true
	})
}

// WriteCommand sends an unacknowledged write; no response is ever
// produced, by the peer or by this method.
func (c *Conn) WriteCommand(handle uint16, value []byte) {
	pdu := append([]byte{OpWriteCommand, byte(handle), byte(handle >> 8)}, value...)
	c.sender.SendATT(pdu, nil, nil)
}

// PrepareWrite issues one Prepare Write Request, used to build up a
// long or reliable write transaction before ExecuteWrite commits it.
func (c *Conn) PrepareWrite(handle uint16, offset int, value []byte, cb func(echoedValue []byte, err error)) error {
	pdu := make([]byte, 5+len(value))
	pdu[0] = OpPrepareWriteReq
	putU16(pdu[1:], handle)
	putU16(pdu[3:], uint16(offset))
	copy(pdu[5:], value)
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			cb(nil, ec)
			return true
		}
		if len(resp) < 5 || resp[0] != OpPrepareWriteResp {
			return false
		}
		cb(append([]byte(nil), resp[5:]...), nil)
		return true
	})
}

// ExecuteWrite commits (commit=true) or cancels (commit=false) the
// server's queued prepared writes.
func (c *Conn) ExecuteWrite(commit bool, cb func(err error)) error {
	flag := byte(0)
	if commit {
		flag = 1
	}
	pdu := []byte{OpExecuteWriteReq, flag}
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			cb(ec)
			return true
		}
		if len(resp) != 1 || resp[0] != OpExecuteWriteResp {
			return false
		}
		cb(nil)
		return true
	})
}

// FindInformation discovers the UUIDs of every attribute in r.
func (c *Conn) FindInformation(r HandleRange, cb func(entries []FindInfoEntry, err error)) error {
	pdu := make([]byte, 5)
	pdu[0] = OpFindInformationReq
	putU16(pdu[1:], r.Start)
	putU16(pdu[3:], r.End)
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			cb(nil, ec)
			return true
		}
		if len(resp) < 2 || resp[0] != OpFindInformationResp {
			return false
		}
		format := resp[1]
		body := resp[2:]
		uuidLen := 2
		if format == 2 {
			uuidLen = 16
		} else if format != 1 {
			return false
		}
		stride := 2 + uuidLen
		if len(body)%stride != 0 {
			return false
		}
		var entries []FindInfoEntry
		for i := 0; i+stride <= len(body); i += stride {
			h := u16(body[i:])
			u, err := uuid.FromWireBytes(body[i+2 : i+stride])
			if err != nil {
				return false
			}
			entries = append(entries, FindInfoEntry{Handle: h, Type: u})
		}
		cb(entries, nil)
		return true
	})
}

// FindByTypeValue searches r for attributes of type typ holding value.
func (c *Conn) FindByTypeValue(r HandleRange, typ uint16, value []byte, cb func(entries []TypeValueEntry, err error)) error {
	pdu := make([]byte, 7+len(value))
	pdu[0] = OpFindByTypeValueReq
	putU16(pdu[1:], r.Start)
	putU16(pdu[3:], r.End)
	putU16(pdu[5:], typ)
	copy(pdu[7:], value)
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			cb(nil, ec)
			return true
		}
		if len(resp) < 1 || resp[0] != OpFindByTypeValueResp {
			return false
		}
		body := resp[1:]
		if len(body)%4 != 0 {
			return false
		}
		var entries []TypeValueEntry
		for i := 0; i+4 <= len(body); i += 4 {
			entries = append(entries, TypeValueEntry{Handle: u16(body[i:]), GroupEndHandle: u16(body[i+2:])})
		}
		cb(entries, nil)
		return true
	})
}

// ReadByType reads the value of every attribute of type typ within r,
// used for both characteristic declaration discovery and bulk reads
// of identically-typed attributes.
func (c *Conn) ReadByType(r HandleRange, typ uuid.UUID, cb func(handle uint16, value []byte) bool, done func(err error)) error {
	wire := typ.WireBytes()
	pdu := make([]byte, 5+len(wire))
	pdu[0] = OpReadByTypeReq
	putU16(pdu[1:], r.Start)
	putU16(pdu[3:], r.End)
	copy(pdu[5:], wire)
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			done(ec)
			return true
		}
		if len(resp) < 2 || resp[0] != OpReadByTypeResp {
			return false
		}
		entryLen := int(resp[1])
		body := resp[2:]
		if entryLen < 3 || len(body)%entryLen != 0 {
			return false
		}
		for i := 0; i+entryLen <= len(body); i += entryLen {
			if !cb(u16(body[i:]), body[i+2:i+entryLen]) {
				break
			}
		}
		done(nil)
		return true
	})
}

// ReadByGroupType discovers group declarations (primary/secondary
// services) of type typ within r.
func (c *Conn) ReadByGroupType(r HandleRange, typ uuid.UUID, cb func(entries []GroupEntry, err error)) error {
	wire := typ.WireBytes()
	pdu := make([]byte, 5+len(wire))
	pdu[0] = OpReadByGroupTypeReq
	putU16(pdu[1:], r.Start)
	putU16(pdu[3:], r.End)
	copy(pdu[5:], wire)
	return c.sendRequest(pdu, func(resp []byte) bool {
		if _, _, ec, ok := parseErrorResponse(resp); ok {
			cb(nil, ec)
			return true
		}
		if len(resp) < 2 || resp[0] != OpReadByGroupTypeResp {
			return false
		}
		entryLen := int(resp[1])
		body := resp[2:]
		if entryLen < 5 || len(body)%entryLen != 0 {
			return false
		}
		var entries []GroupEntry
		for i := 0; i+entryLen <= len(body); i += entryLen {
			entries = append(entries, GroupEntry{
				Handle:         u16(body[i:]),
				GroupEndHandle: u16(body[i+2:]),
				Value:          append([]byte(nil), body[i+4:i+entryLen]...),
			})
		}
		cb(entries, nil)
		return true
	})
}
