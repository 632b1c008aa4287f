package hci

import (
	"github.com/mgandl/blehost/internal/hciwire"
	"github.com/mgandl/blehost/internal/wirebuf"
)

// Reset issues the HCI Reset command.
func (a *Adapter) Reset(cb func(status uint8)) {
	a.sendCommand(hciwire.Reset{}, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// ReadBufferSize issues Read Buffer Size and, on success, records the
// controller's classic ACL buffer count as a fallback credit pool
// (used only if LEReadBufferSize reports zero LE-specific buffers, as
// permitted by the spec).
func (a *Adapter) ReadBufferSize(cb func(status uint8, rp hciwire.ReadBufferSizeRP)) {
	a.sendCommand(hciwire.ReadBufferSize{}, nil, func(status uint8, r *wirebuf.Reader) {
		var rp hciwire.ReadBufferSizeRP
		rest := r.Remaining()
		full := append([]byte{status}, rest...)
		if len(full) >= 8 {
			rp.Unmarshal(full)
		}
		// Command callbacks run from Deliver, which already holds a.mu.
		if status == 0 {
			if a.controllerBuffers == 0 {
				a.controllerBuffers = int(rp.TotalNumACLDataPackets)
				a.numFreeBuffers = a.controllerBuffers
			}
		}
		if cb != nil {
			cb(status, rp)
		}
	})
}

// LEReadBufferSize issues LE Read Buffer Size and, on success, seeds
// the ACL credit pool and negotiated fragment size from the returned
// LE-specific buffer parameters.
func (a *Adapter) LEReadBufferSize(cb func(status uint8, rp hciwire.LEReadBufferSizeRP)) {
	a.sendCommand(hciwire.LEReadBufferSize{}, nil, func(status uint8, r *wirebuf.Reader) {
		var rp hciwire.LEReadBufferSizeRP
		rest := r.Remaining()
		full := append([]byte{status}, rest...)
		if len(full) >= 4 {
			rp.Unmarshal(full)
		}
		// Command callbacks run from Deliver, which already holds a.mu.
		if status == 0 && rp.TotalNumLEACLPackets > 0 {
			a.controllerBuffers = int(rp.TotalNumLEACLPackets)
			a.numFreeBuffers = a.controllerBuffers
			if rp.LEACLDataPacketLen > 0 {
				a.aclMtu = int(rp.LEACLDataPacketLen)
			}
		}
		if cb != nil {
			cb(status, rp)
		}
	})
}

// Disconnect issues the Disconnect command for an active connection.
// The queued command is tagged with the handle so it is automatically
// dropped if a Disconnection Complete for that handle arrives first.
func (a *Adapter) Disconnect(handle uint16, reason uint8, cb func(status uint8)) {
	h := handle
	a.sendCommand(hciwire.Disconnect{ConnectionHandle: handle, Reason: reason}, &h, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// ReadRemoteVersionInfo issues Read Remote Version Information; the
// actual version data arrives later via the connection's
// ReadRemoteVersionCallback.
func (a *Adapter) ReadRemoteVersionInfo(handle uint16, cb func(status uint8)) {
	h := handle
	a.sendCommand(hciwire.ReadRemoteVersionInfo{ConnectionHandle: handle}, &h, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LEConnUpdate issues LE Connection Update Parameters; the result
// arrives via the connection's ConnUpdateCallback.
func (a *Adapter) LEConnUpdate(p hciwire.LEConnUpdate, cb func(status uint8)) {
	h := p.ConnectionHandle
	a.sendCommand(p, &h, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// Connect issues LE Create Connection. The eventual connection
// completion is delivered to the callback most recently installed via
// Connect.
func (a *Adapter) Connect(p hciwire.LECreateConn, cb ConnCallback) {
	a.mu.Lock()
	a.connCallback = cb
	a.mu.Unlock()
	a.sendCommand(p, nil, nil)
}

// LESetAdvertisingParameters configures advertising parameters.
func (a *Adapter) LESetAdvertisingParameters(p hciwire.LESetAdvertisingParameters, cb func(status uint8)) {
	a.sendCommand(p, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LESetAdvertisingData sets the advertising data payload.
func (a *Adapter) LESetAdvertisingData(p hciwire.LESetAdvertisingData, cb func(status uint8)) {
	a.sendCommand(p, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LESetScanResponseData sets the scan response payload.
func (a *Adapter) LESetScanResponseData(p hciwire.LESetScanResponseData, cb func(status uint8)) {
	a.sendCommand(p, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LESetAdvertiseEnable enables or disables advertising. Install
// SetAdvertisingConnectionCallback before enabling if accepting
// connections while advertising.
func (a *Adapter) LESetAdvertiseEnable(enable bool, cb func(status uint8)) {
	var v uint8
	if enable {
		v = 1
	}
	a.sendCommand(hciwire.LESetAdvertiseEnable{AdvertisingEnable: v}, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LESetScanParameters configures scanning parameters.
func (a *Adapter) LESetScanParameters(p hciwire.LESetScanParameters, cb func(status uint8)) {
	a.sendCommand(p, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LESetScanEnable enables or disables scanning. Install
// SetAdvertisingReportCallback first to receive scan results.
func (a *Adapter) LESetScanEnable(enable, filterDuplicates bool, cb func(status uint8)) {
	var e, f uint8
	if enable {
		e = 1
	}
	if filterDuplicates {
		f = 1
	}
	a.sendCommand(hciwire.LESetScanEnable{LEScanEnable: e, FilterDuplicates: f}, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LEEncrypt performs a one-shot AES-128 ECB encryption via the
// controller (used by resolvable-address generation/resolution
// outside this package when the controller, not software AES, is the
// source of truth for the key).
func (a *Adapter) LEEncrypt(p hciwire.LEEncrypt, cb func(status uint8, encrypted [16]byte)) {
	a.sendCommand(p, nil, func(status uint8, r *wirebuf.Reader) {
		var rp hciwire.LEEncryptRP
		full := append([]byte{status}, r.Remaining()...)
		if len(full) >= 17 {
			rp.Unmarshal(full)
		}
		if cb != nil {
			cb(status, rp.EncryptedData)
		}
	})
}

// LEStartEncryption begins (or resumes, as central) link encryption
// with a previously bonded LTK.
func (a *Adapter) LEStartEncryption(p hciwire.LEStartEncryption, cb func(status uint8)) {
	h := p.ConnectionHandle
	a.sendCommand(p, &h, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LELTKReply answers an LE Long Term Key Request with the bonded LTK.
func (a *Adapter) LELTKReply(p hciwire.LELTKReply, cb func(status uint8)) {
	h := p.ConnectionHandle
	a.sendCommand(p, &h, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LELTKNegativeReply declines an LE Long Term Key Request (no bond on
// file for the requesting peer).
func (a *Adapter) LELTKNegativeReply(handle uint16, cb func(status uint8)) {
	h := handle
	a.sendCommand(hciwire.LELTKNegativeReply{ConnectionHandle: handle}, &h, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LESetPHY requests a PHY update; completion arrives via the
// connection's PHYUpdateCallback.
func (a *Adapter) LESetPHY(p hciwire.LESetPHY, cb func(status uint8)) {
	h := p.ConnectionHandle
	a.sendCommand(p, &h, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LEReadPHY reads the currently active PHYs for a connection.
func (a *Adapter) LEReadPHY(handle uint16, cb func(status uint8, txPHY, rxPHY uint8)) {
	h := handle
	a.sendCommand(hciwire.LEReadPHY{ConnectionHandle: handle}, &h, func(status uint8, r *wirebuf.Reader) {
		rest := r.Remaining()
		var tx, rx uint8
		// rest is Connection_Handle (2 bytes), TX_PHY, RX_PHY.
		if len(rest) >= 4 {
			tx, rx = rest[2], rest[3]
		}
		if cb != nil {
			cb(status, tx, rx)
		}
	})
}

// LEReadLocalP256PublicKey requests the controller's local P-256 key
// pair's public half; the result arrives via the
// SetP256KeyCompleteCallback handler.
func (a *Adapter) LEReadLocalP256PublicKey(cb func(status uint8)) {
	a.sendCommand(hciwire.LEReadLocalP256PublicKey{}, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}

// LEGenerateDHKey requests the controller compute the Diffie-Hellman
// key from a remote P-256 public key; the result arrives via the
// SetDHKeyCompleteCallback handler.
func (a *Adapter) LEGenerateDHKey(remotePublicKey [64]byte, cb func(status uint8)) {
	a.sendCommand(hciwire.LEGenerateDHKey{RemoteP256PublicKey: remotePublicKey}, nil, func(status uint8, r *wirebuf.Reader) {
		if cb != nil {
			cb(status)
		}
	})
}
