package gattclient

import "github.com/mgandl/blehost/att"

const longReadCap = 512

// Read issues a short Read Request for handle, with no continuation.
func (c *Client) Read(handle uint16, cb func(value []byte, err error)) error {
	return c.conn.Read(handle, cb)
}

// ReadLong continues a Read with Read Blob Requests as long as the
// response exactly fills MTU-1 bytes and the accumulated length stays
// under the 512-byte attribute value cap.
func (c *Client) ReadLong(handle uint16, cb func(value []byte, err error)) error {
	var acc []byte
	var step func(offset int)
	step = func(offset int) {
		onChunk := func(chunk []byte, err error) {
			if err != nil {
				cb(nil, err)
				return
			}
			acc = append(acc, chunk...)
			if len(chunk) == c.conn.MTU()-1 && len(acc) < longReadCap {
				step(len(acc))
				return
			}
			if len(acc) > longReadCap {
				acc = acc[:longReadCap]
			}
			cb(acc, nil)
		}
		if offset == 0 {
			if err := c.conn.Read(handle, onChunk); err != nil {
				cb(nil, err)
			}
			return
		}
		if err := c.conn.ReadBlob(handle, offset, onChunk); err != nil {
			cb(nil, err)
		}
	}
	step(0)
	return nil
}

// Write issues a Write Request, or a chain of Prepare Write Requests
// followed by a committing Execute Write when the payload does not
// fit in one Write Request and no reliable-write session is active.
// Inside a reliable-write session (begun with BeginReliableWrite), the
// prepared entries accumulate and the caller drives the commit with
// CommitReliableWrite.
func (c *Client) Write(handle uint16, offset int, value []byte, cb func(err error)) error {
	if offset == 0 && len(value) <= c.conn.MTU()-3 && !c.reliableWriteActive {
		return c.conn.WriteRequest(handle, value, cb)
	}
	return c.writeViaPrepare(handle, offset, value, cb)
}

// WriteCommand sends an unacknowledged write, bypassing the
// long/reliable-write machinery entirely.
func (c *Client) WriteCommand(handle uint16, value []byte) {
	c.conn.WriteCommand(handle, value)
}

func (c *Client) writeViaPrepare(handle uint16, offset int, value []byte, cb func(err error)) error {
	chunkSize := c.conn.MTU() - 5
	if chunkSize < 1 {
		chunkSize = 1
	}
	var step func(pos int)
	step = func(pos int) {
		end := pos + chunkSize
		if end > len(value) {
			end = len(value)
		}
		chunk := value[pos:end]
		chunkOffset := offset + pos
		err := c.conn.PrepareWrite(handle, chunkOffset, chunk, func(echoed []byte, rerr error) {
			if rerr != nil {
				c.abortPrepared(cb, rerr)
				return
			}
			if !bytesEqual(echoed, chunk) {
				c.abortPrepared(cb, ErrReliableWriteAborted)
				return
			}
			if end >= len(value) {
				if c.reliableWriteActive {
					cb(nil)
					return
				}
				c.conn.ExecuteWrite(true, cb)
				return
			}
			step(end)
		})
		if err != nil {
			cb(err)
		}
	}
	if len(value) == 0 {
		return c.conn.PrepareWrite(handle, offset, nil, func(echoed []byte, rerr error) {
			if rerr != nil {
				c.abortPrepared(cb, rerr)
				return
			}
			if c.reliableWriteActive {
				cb(nil)
				return
			}
			c.conn.ExecuteWrite(true, cb)
		})
	}
	step(0)
	return nil
}

func (c *Client) abortPrepared(cb func(err error), cause error) {
	if c.reliableWriteActive {
		c.reliableWriteFailed = true
	}
	c.conn.ExecuteWrite(false, func(error) { cb(cause) })
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// BeginReliableWrite opens a reliable-write session: every subsequent
// Write call queues a Prepare Write instead of committing immediately.
func (c *Client) BeginReliableWrite() error {
	if c.reliableWriteActive {
		return ErrAlreadyInReliableWrite
	}
	c.reliableWriteActive = true
	c.reliableWriteFailed = false
	return nil
}

// CommitReliableWrite issues the committing Execute Write for the
// session opened by BeginReliableWrite. If any Write within the
// session echoed back mismatched bytes, the session is already
// aborted server-side and this only clears local state, passing
// ErrReliableWriteAborted to cb.
func (c *Client) CommitReliableWrite(cb func(err error)) error {
	if !c.reliableWriteActive {
		return ErrNotInReliableWrite
	}
	failed := c.reliableWriteFailed
	c.reliableWriteActive = false
	c.reliableWriteFailed = false
	if failed {
		cb(ErrReliableWriteAborted)
		return nil
	}
	return c.conn.ExecuteWrite(true, cb)
}

// CancelReliableWrite discards every prepared write in the session
// opened by BeginReliableWrite.
func (c *Client) CancelReliableWrite(cb func(err error)) error {
	if !c.reliableWriteActive {
		return ErrNotInReliableWrite
	}
	c.reliableWriteActive = false
	c.reliableWriteFailed = false
	return c.conn.ExecuteWrite(false, cb)
}

// WriteCCCD writes the two-byte client characteristic configuration
// bitmap for ch, discovering its descriptors first if unknown.
// Enabling notify/indicate when the characteristic lacks the
// corresponding property is rejected without going to the wire.
func (c *Client) WriteCCCD(ch *CharacteristicInfo, enableNotify, enableIndicate bool, cb func(err error)) error {
	if enableNotify && ch.Props&0x10 == 0 {
		cb(att.ErrorCCCDImproperlyConfigured)
		return nil
	}
	if enableIndicate && ch.Props&0x20 == 0 {
		cb(att.ErrorCCCDImproperlyConfigured)
		return nil
	}
	doWrite := func() {
		handle, ok := findCCCDHandle(ch)
		if !ok {
			cb(ErrDescriptorNotFound)
			return
		}
		var v uint16
		if enableNotify {
			v |= 0x0001
		}
		if enableIndicate {
			v |= 0x0002
		}
		c.conn.WriteRequest(handle, []byte{byte(v), byte(v >> 8)}, cb)
	}
	if len(ch.Descriptors) > 0 {
		doWrite()
		return nil
	}
	return c.DiscoverDescriptors(ch, func(err error) {
		if err != nil {
			cb(err)
			return
		}
		doWrite()
	})
}

func findCCCDHandle(ch *CharacteristicInfo) (uint16, bool) {
	for _, d := range ch.Descriptors {
		if d.UUID.Equal(uuidCCCD) {
			return d.Handle, true
		}
	}
	return 0, false
}
