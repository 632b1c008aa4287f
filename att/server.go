package att

import (
	"bytes"

	"github.com/mgandl/blehost/uuid"
)

func parseAttrUUID(b []byte) (uuid.UUID, error) { return uuid.FromWireBytes(b) }

func (c *Conn) dispatchRequest(op byte, pdu []byte) {
	switch op {
	case OpMTUReq:
		c.handleMTU(pdu)
	case OpFindInformationReq:
		c.handleFindInformation(pdu)
	case OpFindByTypeValueReq:
		c.handleFindByTypeValue(pdu)
	case OpReadByTypeReq:
		c.handleReadByType(pdu)
	case OpReadReq:
		c.handleRead(pdu)
	case OpReadBlobReq:
		c.handleReadBlob(pdu)
	case OpReadMultipleReq:
		c.handleReadMultiple(pdu)
	case OpReadByGroupTypeReq:
		c.handleReadByGroupType(pdu)
	case OpWriteReq:
		c.handleWriteRequest(pdu)
	case OpPrepareWriteReq:
		c.handlePrepareWrite(pdu)
	case OpExecuteWriteReq:
		c.handleExecuteWrite(pdu)
	default:
		c.send(errorResponse(op, 0, ErrorRequestNotSupported))
		c.finishRequest()
	}
}

func (c *Conn) handleMTU(pdu []byte) {
	defer c.finishRequest()
	if len(pdu) < 3 {
		c.send(errorResponse(OpMTUReq, 0, ErrorInvalidPDU))
		return
	}
	clientMTU := int(u16(pdu[1:]))
	if clientMTU < initialMTU {
		clientMTU = initialMTU
	}
	resp := make([]byte, 3)
	resp[0] = OpMTUResp
	putU16(resp[1:], uint16(maxServerMTU))
	c.send(resp)

	if !c.mtuGrown {
		eff := clientMTU
		if maxServerMTU < eff {
			eff = maxServerMTU
		}
		if eff > c.mtu {
			c.mtu = eff
			c.mtuGrown = true
		}
	}

	c.mtuSettled = true
	c.flushNotifyHoldQueue()
}

func (c *Conn) handleFindInformation(pdu []byte) {
	defer c.finishRequest()
	if len(pdu) < 5 {
		c.send(errorResponse(OpFindInformationReq, 0, ErrorInvalidPDU))
		return
	}
	start, end := u16(pdu[1:]), u16(pdu[3:])
	if start == 0 || start > end {
		c.send(errorResponse(OpFindInformationReq, start, ErrorInvalidHandle))
		return
	}
	attrs := c.db.AttributesInRange(start, end)
	budget := c.mtu - 2
	var format uint8
	var body []byte
	for _, a := range attrs {
		wire := a.Type.WireBytes()
		entryFmt := uint8(1)
		if len(wire) == 16 {
			entryFmt = 2
		}
		if format == 0 {
			format = entryFmt
		} else if format != entryFmt {
			break
		}
		entry := make([]byte, 2+len(wire))
		putU16(entry[0:], a.Handle)
		copy(entry[2:], wire)
		if len(body)+len(entry) > budget {
			break
		}
		body = append(body, entry...)
	}
	if len(body) == 0 {
		c.send(errorResponse(OpFindInformationReq, start, ErrorAttributeNotFound))
		return
	}
	c.send(append([]byte{OpFindInformationResp, format}, body...))
}

func (c *Conn) handleFindByTypeValue(pdu []byte) {
	defer c.finishRequest()
	if len(pdu) < 7 {
		c.send(errorResponse(OpFindByTypeValueReq, 0, ErrorInvalidPDU))
		return
	}
	start, end, typ, value := u16(pdu[1:]), u16(pdu[3:]), u16(pdu[5:]), pdu[7:]
	if start == 0 || start > end {
		c.send(errorResponse(OpFindByTypeValueReq, start, ErrorInvalidHandle))
		return
	}
	attrs := c.db.AttributesInRange(start, end)
	cap := (c.mtu - 1) / 4
	var body []byte
	count := 0
	for _, a := range attrs {
		short, ok := a.Type.Short()
		if !ok || short != typ {
			continue
		}
		if CheckPermission(a.ReadPerm, c.enc, false) != 0 {
			continue
		}
		val, ec := c.readValueSync(a)
		if ec != 0 || !bytes.Equal(val, value) {
			continue
		}
		endHandle := a.Handle
		if a.GroupEndHandle != 0 {
			endHandle = a.GroupEndHandle
		}
		e := make([]byte, 4)
		putU16(e[0:], a.Handle)
		putU16(e[2:], endHandle)
		body = append(body, e...)
		count++
		if count >= cap {
			break
		}
	}
	if len(body) == 0 {
		c.send(errorResponse(OpFindByTypeValueReq, start, ErrorAttributeNotFound))
		return
	}
	c.send(append([]byte{OpFindByTypeValueResp}, body...))
}

func (c *Conn) handleReadByType(pdu []byte) {
	defer c.finishRequest()
	if len(pdu) < 7 {
		c.send(errorResponse(OpReadByTypeReq, 0, ErrorInvalidPDU))
		return
	}
	start, end := u16(pdu[1:]), u16(pdu[3:])
	typ, err := parseAttrUUID(pdu[5:])
	if err != nil {
		c.send(errorResponse(OpReadByTypeReq, start, ErrorInvalidPDU))
		return
	}
	if start == 0 || start > end {
		c.send(errorResponse(OpReadByTypeReq, start, ErrorInvalidHandle))
		return
	}
	attrs := c.db.AttributesInRange(start, end)
	budget := c.mtu - 2
	entryLen := -1
	bodyLen := 0
	var body []byte
	var firstErr Error
	var firstErrHandle uint16
	for _, a := range attrs {
		if !a.Type.Equal(typ) {
			continue
		}
		ec := CheckPermission(a.ReadPerm, c.enc, false)
		if ec != 0 {
			if firstErr == 0 {
				firstErr, firstErrHandle = ec, a.Handle
			}
			if len(body) == 0 {
				continue
			}
			break
		}
		val, rerr := c.readValueSync(a)
		if rerr != 0 {
			if firstErr == 0 {
				firstErr, firstErrHandle = rerr, a.Handle
			}
			if len(body) == 0 {
				continue
			}
			break
		}
		if entryLen == -1 {
			entryLen = len(val)
		} else if entryLen != len(val) {
			break
		}
		e := make([]byte, 2+len(val))
		putU16(e[0:], a.Handle)
		copy(e[2:], val)
		if bodyLen+len(e) > budget {
			break
		}
		body = append(body, e...)
		bodyLen += len(e)
	}
	if len(body) == 0 {
		if firstErr != 0 {
			c.send(errorResponse(OpReadByTypeReq, firstErrHandle, firstErr))
			return
		}
		c.send(errorResponse(OpReadByTypeReq, start, ErrorAttributeNotFound))
		return
	}
	c.send(append([]byte{OpReadByTypeResp, byte(entryLen + 2)}, body...))
}

func (c *Conn) handleReadByGroupType(pdu []byte) {
	defer c.finishRequest()
	if len(pdu) < 7 {
		c.send(errorResponse(OpReadByGroupTypeReq, 0, ErrorInvalidPDU))
		return
	}
	start, end := u16(pdu[1:]), u16(pdu[3:])
	typ, err := parseAttrUUID(pdu[5:])
	if err != nil {
		c.send(errorResponse(OpReadByGroupTypeReq, start, ErrorInvalidPDU))
		return
	}
	short, ok := typ.Short()
	if !ok || (short != 0x2800 && short != 0x2801) {
		c.send(errorResponse(OpReadByGroupTypeReq, start, ErrorUnsupportedGroupType))
		return
	}
	if start == 0 || start > end {
		c.send(errorResponse(OpReadByGroupTypeReq, start, ErrorInvalidHandle))
		return
	}
	attrs := c.db.AttributesInRange(start, end)
	budget := c.mtu - 2
	entryLen := -1
	bodyLen := 0
	var body []byte
	for _, a := range attrs {
		if !a.Type.Equal(typ) {
			continue
		}
		var val []byte
		if a.Value != nil {
			val = a.Value()
		}
		if entryLen == -1 {
			entryLen = len(val)
		} else if entryLen != len(val) {
			break
		}
		e := make([]byte, 4+len(val))
		putU16(e[0:], a.Handle)
		putU16(e[2:], a.GroupEndHandle)
		copy(e[4:], val)
		if bodyLen+len(e) > budget {
			break
		}
		body = append(body, e...)
		bodyLen += len(e)
	}
	if len(body) == 0 {
		c.send(errorResponse(OpReadByGroupTypeReq, start, ErrorAttributeNotFound))
		return
	}
	c.send(append([]byte{OpReadByGroupTypeResp, byte(entryLen + 4)}, body...))
}

func (c *Conn) handleReadMultiple(pdu []byte) {
	defer c.finishRequest()
	if len(pdu) < 5 || (len(pdu)-1)%2 != 0 {
		c.send(errorResponse(OpReadMultipleReq, 0, ErrorInvalidPDU))
		return
	}
	var handles []uint16
	for i := 1; i+1 < len(pdu); i += 2 {
		handles = append(handles, u16(pdu[i:]))
	}

	priority := func(e Error) int {
		switch e {
		case ErrorInsufficientAuthorization:
			return 5
		case ErrorInsufficientAuthentication:
			return 4
		case ErrorInsufficientEncryptionKeySize:
			return 3
		case ErrorInsufficientEncryption:
			return 2
		case ErrorReadNotPermitted:
			return 1
		default:
			return 0
		}
	}

	var body []byte
	worstPriority := -1
	var worstErr Error
	var worstHandle uint16
	note := func(e Error, h uint16) {
		if p := priority(e); worstPriority < 0 || p > worstPriority {
			worstPriority, worstErr, worstHandle = p, e, h
		}
	}

	for _, h := range handles {
		a, ok := c.db.AttributeAt(h)
		if !ok {
			note(ErrorInvalidHandle, h)
			continue
		}
		if ec := CheckPermission(a.ReadPerm, c.enc, false); ec != 0 {
			note(ec, h)
			continue
		}
		v, rerr := c.readValueSync(a)
		if rerr != 0 {
			note(rerr, h)
			continue
		}
		body = append(body, v...)
	}
	if worstPriority >= 0 {
		c.send(errorResponse(OpReadMultipleReq, worstHandle, worstErr))
		return
	}
	resp := append([]byte{OpReadMultipleResp}, body...)
	if max := c.mtu; len(resp) > max {
		resp = resp[:max]
	}
	c.send(resp)
}

func (c *Conn) handleRead(pdu []byte) {
	if len(pdu) < 3 {
		c.send(errorResponse(OpReadReq, 0, ErrorInvalidPDU))
		c.finishRequest()
		return
	}
	c.serveRead(OpReadReq, u16(pdu[1:]), 0)
}

func (c *Conn) handleReadBlob(pdu []byte) {
	if len(pdu) < 5 {
		c.send(errorResponse(OpReadBlobReq, 0, ErrorInvalidPDU))
		c.finishRequest()
		return
	}
	c.serveRead(OpReadBlobReq, u16(pdu[1:]), int(u16(pdu[3:])))
}

func (c *Conn) serveRead(reqOp byte, handle uint16, offset int) {
	a, ok := c.db.AttributeAt(handle)
	if !ok {
		c.send(errorResponse(reqOp, handle, ErrorInvalidHandle))
		c.finishRequest()
		return
	}
	if a.IsCCCD {
		c.serveCCCDRead(reqOp, a, offset)
		return
	}
	if ec := CheckPermission(a.ReadPerm, c.enc, false); ec != 0 {
		c.send(errorResponse(reqOp, handle, ec))
		c.finishRequest()
		return
	}

	finish := func(value []byte, ec Error) {
		if ec != 0 {
			c.send(errorResponse(reqOp, handle, ec))
			c.finishRequest()
			return
		}
		if offset > len(value) {
			c.send(errorResponse(reqOp, handle, ErrorInvalidOffset))
			c.finishRequest()
			return
		}
		v := value[offset:]
		if max := c.mtu - 1; len(v) > max {
			v = v[:max]
		}
		respOp := byte(OpReadResp)
		if reqOp == OpReadBlobReq {
			respOp = OpReadBlobResp
		}
		c.send(append([]byte{respOp}, v...))
		c.finishRequest()
	}

	doRead := func() {
		switch {
		case a.PartialRead != nil:
			a.PartialRead(c, offset, finish)
		case a.Read != nil:
			a.Read(c, finish)
		default:
			var v []byte
			if a.Value != nil {
				v = a.Value()
			}
			finish(v, 0)
		}
	}

	if a.ReadPerm == PermCustom && a.AuthorizeRead != nil {
		a.AuthorizeRead(c, func(ok bool) {
			if !ok {
				c.send(errorResponse(reqOp, handle, ErrorInsufficientAuthorization))
				c.finishRequest()
				return
			}
			doRead()
		})
		return
	}
	doRead()
}

func (c *Conn) serveCCCDRead(reqOp byte, a *Attribute, offset int) {
	value := []byte{0, 0}
	if a.Value != nil {
		value = a.Value()
	}
	if offset > len(value) {
		c.send(errorResponse(reqOp, a.Handle, ErrorInvalidOffset))
		c.finishRequest()
		return
	}
	v := value[offset:]
	if max := c.mtu - 1; len(v) > max {
		v = v[:max]
	}
	respOp := byte(OpReadResp)
	if reqOp == OpReadBlobReq {
		respOp = OpReadBlobResp
	}
	c.send(append([]byte{respOp}, v...))
	c.finishRequest()
}

func (c *Conn) handleWriteRequest(pdu []byte) {
	if len(pdu) < 3 {
		c.send(errorResponse(OpWriteReq, 0, ErrorInvalidPDU))
		c.finishRequest()
		return
	}
	c.serveWrite(u16(pdu[1:]), pdu[3:], true)
}

func (c *Conn) dispatchWriteCommand(pdu []byte) {
	if len(pdu) < 3 {
		return
	}
	c.serveWrite(u16(pdu[1:]), pdu[3:], false)
}

func (c *Conn) serveWrite(handle uint16, value []byte, needsResponse bool) {
	a, ok := c.db.AttributeAt(handle)
	if !ok {
		if needsResponse {
			c.send(errorResponse(OpWriteReq, handle, ErrorInvalidHandle))
			c.finishRequest()
		}
		return
	}
	if a.IsCCCD {
		c.serveCCCDWrite(a, value, needsResponse)
		return
	}
	if ec := CheckPermission(a.WritePerm, c.enc, true); ec != 0 {
		if needsResponse {
			c.send(errorResponse(OpWriteReq, handle, ec))
			c.finishRequest()
		}
		return
	}
	if len(value) > a.MaxLen {
		if needsResponse {
			c.send(errorResponse(OpWriteReq, handle, ErrorInvalidAttributeValueLength))
			c.finishRequest()
		}
		return
	}

	finish := func(ec Error) {
		if !needsResponse {
			return
		}
		if ec != 0 {
			c.send(errorResponse(OpWriteReq, handle, ec))
		} else {
			c.send([]byte{OpWriteResp})
		}
		c.finishRequest()
	}

	doWrite := func() {
		switch {
		case a.PartialWrite != nil:
			a.PartialWrite(c, needsResponse, 0, value, finish)
		case a.Write != nil:
			a.Write(c, needsResponse, value, finish)
		default:
			if a.SetValue != nil {
				a.SetValue(value)
			}
			finish(0)
		}
	}

	if a.WritePerm == PermCustom && a.AuthorizeWrite != nil {
		a.AuthorizeWrite(c, func(ok bool) {
			if !ok {
				finish(ErrorInsufficientAuthorization)
				return
			}
			doWrite()
		})
		return
	}
	doWrite()
}

func (c *Conn) serveCCCDWrite(a *Attribute, value []byte, needsResponse bool) {
	fail := func(ec Error) {
		if needsResponse {
			c.send(errorResponse(OpWriteReq, a.Handle, ec))
			c.finishRequest()
		}
	}
	if len(value) != 2 || value[1] != 0 {
		fail(ErrorCCCDImproperlyConfigured)
		return
	}
	bits := value[0]
	if bits > 3 {
		fail(ErrorCCCDImproperlyConfigured)
		return
	}
	notify := bits&0x01 != 0
	indicate := bits&0x02 != 0
	if notify && a.CharacteristicProperties&PropNotify == 0 {
		fail(ErrorCCCDImproperlyConfigured)
		return
	}
	if indicate && a.CharacteristicProperties&PropIndicate == 0 {
		fail(ErrorCCCDImproperlyConfigured)
		return
	}
	if a.SetValue != nil {
		a.SetValue([]byte{bits, 0})
	}
	if needsResponse {
		c.send([]byte{OpWriteResp})
		c.finishRequest()
	}
	if a.OnSubscriptionChange != nil {
		a.OnSubscriptionChange(c, notify, indicate, true)
	}
}

func (c *Conn) handlePrepareWrite(pdu []byte) {
	if len(pdu) < 5 {
		c.send(errorResponse(OpPrepareWriteReq, 0, ErrorInvalidPDU))
		c.finishRequest()
		return
	}
	handle, offset, value := u16(pdu[1:]), int(u16(pdu[3:])), pdu[5:]
	a, ok := c.db.AttributeAt(handle)
	if !ok {
		c.send(errorResponse(OpPrepareWriteReq, handle, ErrorInvalidHandle))
		c.finishRequest()
		return
	}
	if ec := CheckPermission(a.WritePerm, c.enc, true); ec != 0 {
		c.send(errorResponse(OpPrepareWriteReq, handle, ec))
		c.finishRequest()
		return
	}

	if n := len(c.prepareQueue); n > 0 {
		tail := &c.prepareQueue[n-1]
		if tail.handle == handle && offset == tail.offset+len(tail.value) {
			tail.value = append(tail.value, value...)
			c.send(echoPrepareResponse(handle, offset, value))
			c.finishRequest()
			return
		}
	}
	if len(c.prepareQueue) >= maxPrepareQueueEntries {
		c.send(errorResponse(OpPrepareWriteReq, handle, ErrorPrepareQueueFull))
		c.finishRequest()
		return
	}
	c.prepareQueue = append(c.prepareQueue, pendingPrepare{
		handle: handle, offset: offset, value: append([]byte(nil), value...),
	})
	c.send(echoPrepareResponse(handle, offset, value))
	c.finishRequest()
}

func echoPrepareResponse(handle uint16, offset int, value []byte) []byte {
	resp := make([]byte, 5+len(value))
	resp[0] = OpPrepareWriteResp
	putU16(resp[1:], handle)
	putU16(resp[3:], uint16(offset))
	copy(resp[5:], value)
	return resp
}

func (c *Conn) handleExecuteWrite(pdu []byte) {
	if len(pdu) < 2 {
		c.send(errorResponse(OpExecuteWriteReq, 0, ErrorInvalidPDU))
		c.finishRequest()
		return
	}
	flag := pdu[1]
	queue := c.prepareQueue
	c.prepareQueue = nil
	if flag == 0 || len(queue) == 0 {
		c.send([]byte{OpExecuteWriteResp})
		c.finishRequest()
		return
	}
	for _, p := range queue {
		a, ok := c.db.AttributeAt(p.handle)
		if !ok {
			c.send(errorResponse(OpExecuteWriteReq, p.handle, ErrorInvalidHandle))
			c.finishRequest()
			return
		}
		if p.offset > a.MaxLen {
			c.send(errorResponse(OpExecuteWriteReq, p.handle, ErrorInvalidOffset))
			c.finishRequest()
			return
		}
		if p.offset+len(p.value) > a.MaxLen {
			c.send(errorResponse(OpExecuteWriteReq, p.handle, ErrorInvalidAttributeValueLength))
			c.finishRequest()
			return
		}
	}

	remaining := len(queue)
	responded := false
	respond := func(ec Error, handle uint16) {
		if responded {
			return
		}
		responded = true
		if ec != 0 {
			c.send(errorResponse(OpExecuteWriteReq, handle, ec))
		} else {
			c.send([]byte{OpExecuteWriteResp})
		}
		c.finishRequest()
	}

	for _, p := range queue {
		p := p
		a, _ := c.db.AttributeAt(p.handle)
		cb := func(ec Error) {
			if ec != 0 {
				respond(ec, p.handle)
				return
			}
			remaining--
			if remaining == 0 {
				respond(0, p.handle)
			}
		}
		switch {
		case a.PartialWrite != nil:
			a.PartialWrite(c, true, p.offset, p.value, cb)
		case a.Write != nil:
			if p.offset != 0 {
				cb(ErrorInvalidOffset)
				continue
			}
			a.Write(c, true, p.value, cb)
		default:
			if a.SetValue != nil {
				var cur []byte
				if a.Value != nil {
					cur = a.Value()
				}
				a.SetValue(mergeAt(cur, p.offset, p.value))
			}
			cb(0)
		}
	}
}
