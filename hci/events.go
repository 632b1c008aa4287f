package hci

import (
	"github.com/mgandl/blehost/internal/hciwire"
	"github.com/mgandl/blehost/internal/wirebuf"
)

func (a *Adapter) handleACL(b []byte) {
	if len(b) < 4 {
		a.log.Warn("hci: short ACL packet")
		return
	}
	hdr := hciwire.ParseACLHeader(b)
	if len(b) < 4+int(hdr.Length) {
		a.log.Warn("hci: truncated ACL packet")
		return
	}
	conn, ok := a.conns[hdr.Handle]
	if !ok {
		a.log.WithField("handle", hdr.Handle).Debug("hci: ACL data for unknown connection handle")
		return
	}
	conn.receiveFragment(hdr.PB, b[4:4+int(hdr.Length)])
}

func (a *Adapter) handleEvent(b []byte) {
	if len(b) < 2 {
		a.log.Warn("hci: short event header")
		return
	}
	code := hciwire.EventCode(b[0])
	plen := int(b[1])
	if len(b) < 2+plen {
		a.log.Warn("hci: truncated event")
		return
	}
	params := b[2 : 2+plen]

	switch code {
	case hciwire.EventCommandComplete:
		a.onCommandComplete(params)
	case hciwire.EventCommandStatus:
		a.onCommandStatus(params)
	case hciwire.EventDisconnectionComplete:
		a.onDisconnectionComplete(params)
	case hciwire.EventEncryptionChange:
		a.onEncryptionChange(params)
	case hciwire.EventEncryptionKeyRefreshComplete:
		a.onEncryptionKeyRefreshComplete(params)
	case hciwire.EventReadRemoteVersionInfoComplete:
		a.onReadRemoteVersionInfoComplete(params)
	case hciwire.EventHardwareError:
		a.onHardwareError(params)
	case hciwire.EventNumberOfCompletedPackets:
		a.onNumberOfCompletedPackets(params)
	case hciwire.EventLEMeta:
		a.onLEMeta(params)
	default:
		a.log.WithField("code", code).Debug("hci: unhandled event code")
	}
}

func (a *Adapter) onCommandComplete(b []byte) {
	var ep hciwire.CommandCompleteEP
	if err := ep.Unmarshal(b); err != nil {
		a.log.WithError(err).Warn("hci: malformed Command Complete event")
		return
	}
	if a.inFlight == nil || a.inFlight.opcode != ep.CommandOpcode {
		a.log.WithField("opcode", ep.CommandOpcode).Debug("hci: command complete for non-pending opcode, ignoring")
		return
	}
	cmd := a.inFlight
	a.inFlight = nil
	if !cmd.ignore && cmd.callback != nil {
		status := uint8(0)
		ret := ep.ReturnParameters
		if len(ret) > 0 {
			status = ret[0]
			ret = ret[1:]
		}
		cmd.callback(status, wirebuf.NewReader(ret))
	}
	a.dispatchNextLocked()
}

func (a *Adapter) onCommandStatus(b []byte) {
	var ep hciwire.CommandStatusEP
	if err := ep.Unmarshal(b); err != nil {
		a.log.WithError(err).Warn("hci: malformed Command Status event")
		return
	}
	if a.inFlight == nil || a.inFlight.opcode != ep.CommandOpcode {
		a.log.WithField("opcode", ep.CommandOpcode).Debug("hci: command status for non-pending opcode, ignoring")
		return
	}
	cmd := a.inFlight
	a.inFlight = nil
	if !cmd.ignore && cmd.callback != nil {
		cmd.callback(ep.Status, wirebuf.NewReader(nil))
	}
	a.dispatchNextLocked()
}

func (a *Adapter) onDisconnectionComplete(b []byte) {
	var ep hciwire.DisconnectionCompleteEP
	if err := ep.Unmarshal(b); err != nil {
		a.log.WithError(err).Warn("hci: malformed Disconnection Complete event")
		return
	}
	h := ep.ConnectionHandle

	kept := a.queue[:0]
	for _, cmd := range a.queue {
		if cmd.handle != nil && *cmd.handle == h {
			continue
		}
		kept = append(kept, cmd)
	}
	a.queue = kept

	if a.inFlight != nil && a.inFlight.handle != nil && *a.inFlight.handle == h {
		a.inFlight.ignore = true
	}

	conn, ok := a.conns[h]
	if !ok {
		return
	}
	delete(a.conns, h)
	conn.disconnecting = true
	conn.cancelAll()
	if conn.DisconnectCallback != nil {
		conn.DisconnectCallback(ep.Reason)
	}
}

func (a *Adapter) onEncryptionChange(b []byte) {
	var ep hciwire.EncryptionChangeEP
	if err := ep.Unmarshal(b); err != nil {
		a.log.WithError(err).Warn("hci: malformed Encryption Change event")
		return
	}
	if conn, ok := a.conns[ep.ConnectionHandle]; ok && conn.encryptionChangeCB != nil {
		conn.encryptionChangeCB(ep)
	}
}

func (a *Adapter) onEncryptionKeyRefreshComplete(b []byte) {
	var ep hciwire.EncryptionKeyRefreshCompleteEP
	if err := ep.Unmarshal(b); err != nil {
		a.log.WithError(err).Warn("hci: malformed Encryption Key Refresh Complete event")
		return
	}
	if conn, ok := a.conns[ep.ConnectionHandle]; ok && conn.encryptionChangeCB != nil {
		conn.encryptionChangeCB(hciwire.EncryptionChangeEP{
			Status:            ep.Status,
			ConnectionHandle:  ep.ConnectionHandle,
			EncryptionEnabled: 1,
		})
	}
}

func (a *Adapter) onReadRemoteVersionInfoComplete(b []byte) {
	var ep hciwire.ReadRemoteVersionInfoCompleteEP
	if err := ep.Unmarshal(b); err != nil {
		a.log.WithError(err).Warn("hci: malformed Read Remote Version Information Complete event")
		return
	}
	conn, ok := a.conns[ep.ConnectionHandle]
	if !ok {
		return
	}
	cb := conn.readRemoteVersionCB
	conn.readRemoteVersionCB = nil
	if cb != nil {
		cb(ep)
	}
}

func (a *Adapter) onHardwareError(b []byte) {
	var ep hciwire.HardwareErrorEP
	if err := ep.Unmarshal(b); err != nil {
		a.log.WithError(err).Warn("hci: malformed Hardware Error event")
		return
	}
	a.log.WithField("code", ep.HardwareCode).Error("hci: hardware error, clearing command state")
	a.queue = nil
	a.inFlight = nil
	if a.hwErrorCB != nil {
		a.hwErrorCB(ep.HardwareCode)
	}
}

func (a *Adapter) onNumberOfCompletedPackets(b []byte) {
	var ep hciwire.NumberOfCompletedPacketsEP
	if err := ep.Unmarshal(b); err != nil {
		a.log.WithError(err).Warn("hci: malformed Number Of Completed Packets event")
		return
	}
	for _, p := range ep.Packets {
		n := int(p.NumCompletedPkts)
		if conn, ok := a.conns[p.ConnectionHandle]; ok {
			n = conn.ackComplete(n)
		}
		a.numFreeBuffers += n
	}
	if a.numFreeBuffers > a.controllerBuffers {
		a.numFreeBuffers = a.controllerBuffers
	}
	a.pump()
}

func (a *Adapter) onLEMeta(b []byte) {
	if len(b) < 1 {
		a.log.Warn("hci: short LE meta event")
		return
	}
	sub := hciwire.LESubeventCode(b[0])
	body := b[1:]
	switch sub {
	case hciwire.LESubConnectionComplete:
		var ep hciwire.LEConnectionCompleteEP
		if err := ep.Unmarshal(body); err == nil {
			a.completeConnection(ep)
		}
	case hciwire.LESubEnhancedConnectionComplete:
		var ep hciwire.LEEnhancedConnectionCompleteEP
		if err := ep.Unmarshal(body); err == nil {
			a.completeConnection(ep.LEConnectionCompleteEP)
		}
	case hciwire.LESubAdvertisingReport:
		var ep hciwire.LEAdvertisingReportEP
		if err := ep.Unmarshal(body); err == nil && a.advertisingReportCB != nil {
			for _, r := range ep.Reports {
				a.advertisingReportCB(r)
			}
		}
	case hciwire.LESubExtendedAdvertisingReport:
		var ep hciwire.LEExtendedAdvertisingReportEP
		if err := ep.Unmarshal(body); err == nil && a.extendedAdvertisingReportCB != nil {
			for _, r := range ep.Reports {
				a.extendedAdvertisingReportCB(r)
			}
		}
	case hciwire.LESubConnectionUpdateComplete:
		var ep hciwire.LEConnectionUpdateCompleteEP
		if err := ep.Unmarshal(body); err == nil {
			if conn, ok := a.conns[ep.ConnectionHandle]; ok {
				cb := conn.connUpdateCB
				conn.connUpdateCB = nil
				if cb != nil {
					cb(ep)
				}
			}
		}
	case hciwire.LESubReadRemoteFeaturesComplete:
		var ep hciwire.LEReadRemoteFeaturesCompleteEP
		if err := ep.Unmarshal(body); err == nil {
			if conn, ok := a.conns[ep.ConnectionHandle]; ok {
				cb := conn.readRemoteFeatsCB
				conn.readRemoteFeatsCB = nil
				if cb != nil {
					cb(ep)
				}
			}
		}
	case hciwire.LESubLongTermKeyRequest:
		var ep hciwire.LELongTermKeyRequestEP
		if err := ep.Unmarshal(body); err == nil {
			if conn, ok := a.conns[ep.ConnectionHandle]; ok && a.ltkReqCB != nil {
				a.ltkReqCB(conn, ep.RandomNumber, ep.EncryptionDiversifier)
			}
		}
	case hciwire.LESubReadLocalP256KeyComplete:
		var ep hciwire.LEReadLocalP256PublicKeyCompleteEP
		if err := ep.Unmarshal(body); err == nil && a.p256CB != nil {
			a.p256CB(ep.Status, ep.PublicKey)
		}
	case hciwire.LESubGenerateDHKeyComplete:
		var ep hciwire.LEGenerateDHKeyCompleteEP
		if err := ep.Unmarshal(body); err == nil && a.dhkeyCB != nil {
			a.dhkeyCB(ep.Status, ep.DHKey)
		}
	case hciwire.LESubPHYUpdateComplete:
		var ep hciwire.LEPHYUpdateCompleteEP
		if err := ep.Unmarshal(body); err == nil {
			if conn, ok := a.conns[ep.ConnectionHandle]; ok {
				cb := conn.phyUpdateCB
				conn.phyUpdateCB = nil
				if cb != nil {
					cb(ep)
				}
			}
		}
	default:
		a.log.WithField("subevent", sub).Debug("hci: unhandled LE meta subevent")
	}
}

func (a *Adapter) completeConnection(ep hciwire.LEConnectionCompleteEP) {
	role := RoleCentral
	if ep.Role == 1 {
		role = RolePeripheral
	}
	var cb ConnCallback
	if role == RolePeripheral {
		cb = a.advCallback
		a.advCallback = nil
	} else {
		cb = a.connCallback
		a.connCallback = nil
	}
	if ep.Status != 0 {
		if cb != nil {
			cb(nil, &StatusError{Status: ep.Status})
		}
		return
	}
	conn := newConn(a, ep.ConnectionHandle, role, ep.PeerAddress, ep.PeerAddressType)
	a.conns[ep.ConnectionHandle] = conn
	if cb != nil {
		cb(conn, nil)
	}
}

// StatusError wraps a non-zero HCI command or event status byte.
type StatusError struct{ Status uint8 }

func (e *StatusError) Error() string { return "hci: non-zero status" }
