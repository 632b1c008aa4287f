// Package faketransport wires two att.Conn instances directly together
// in-process, without any real HCI/L2CAP transport underneath, for
// tests that need a full client/server round trip.
package faketransport

import "github.com/mgandl/blehost/att"

// peer is an att.Sender that delivers straight into the other side's
// Conn, synchronously.
type peer struct {
	other *att.Conn
}

func (p *peer) SendATT(pdu []byte, sentCB, completeCB func()) {
	if sentCB != nil {
		sentCB()
	}
	cp := append([]byte(nil), pdu...)
	p.other.Deliver(cp)
	if completeCB != nil {
		completeCB()
	}
}

// Loopback builds a client Conn and a server Conn, each backed by its
// own attribute database, with every PDU sent by one delivered
// synchronously to the other.
func Loopback(clientDB, serverDB att.AttrDB, opts ...att.Option) (client, server *att.Conn) {
	clientPeer := &peer{}
	serverPeer := &peer{}
	client = att.NewConn(clientPeer, clientDB, opts...)
	server = att.NewConn(serverPeer, serverDB, opts...)
	clientPeer.other = server
	serverPeer.other = client
	return client, server
}
