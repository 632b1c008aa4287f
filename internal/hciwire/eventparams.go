package hciwire

import "fmt"

// CommandCompleteEP is Num_HCI_Command_Packets(1) || Command_Opcode(2) ||
// Return_Parameters(...).
type CommandCompleteEP struct {
	NumHCICommandPackets uint8
	CommandOpcode        Opcode
	ReturnParameters     []byte
}

func (ep *CommandCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 3 {
		return fmt.Errorf("hciwire: short Command Complete event")
	}
	ep.NumHCICommandPackets = b[0]
	ep.CommandOpcode = Opcode(leU16(b[1:]))
	ep.ReturnParameters = b[3:]
	return nil
}

// CommandStatusEP is Status(1) || Num_HCI_Command_Packets(1) || Command_Opcode(2).
type CommandStatusEP struct {
	Status               uint8
	NumHCICommandPackets uint8
	CommandOpcode        Opcode
}

func (ep *CommandStatusEP) Unmarshal(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("hciwire: short Command Status event")
	}
	ep.Status = b[0]
	ep.NumHCICommandPackets = b[1]
	ep.CommandOpcode = Opcode(leU16(b[2:]))
	return nil
}

type DisconnectionCompleteEP struct {
	Status           uint8
	ConnectionHandle uint16
	Reason           uint8
}

func (ep *DisconnectionCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("hciwire: short Disconnection Complete event")
	}
	ep.Status = b[0]
	ep.ConnectionHandle = leU16(b[1:])
	ep.Reason = b[3]
	return nil
}

type EncryptionChangeEP struct {
	Status            uint8
	ConnectionHandle  uint16
	EncryptionEnabled uint8
}

func (ep *EncryptionChangeEP) Unmarshal(b []byte) error {
	if len(b) < 4 {
		return fmt.Errorf("hciwire: short Encryption Change event")
	}
	ep.Status = b[0]
	ep.ConnectionHandle = leU16(b[1:])
	ep.EncryptionEnabled = b[3]
	return nil
}

type EncryptionKeyRefreshCompleteEP struct {
	Status           uint8
	ConnectionHandle uint16
}

func (ep *EncryptionKeyRefreshCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 3 {
		return fmt.Errorf("hciwire: short Encryption Key Refresh Complete event")
	}
	ep.Status = b[0]
	ep.ConnectionHandle = leU16(b[1:])
	return nil
}

type ReadRemoteVersionInfoCompleteEP struct {
	Status           uint8
	ConnectionHandle uint16
	Version          uint8
	ManufacturerName uint16
	Subversion       uint16
}

func (ep *ReadRemoteVersionInfoCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 8 {
		return fmt.Errorf("hciwire: short Read Remote Version Information Complete event")
	}
	ep.Status = b[0]
	ep.ConnectionHandle = leU16(b[1:])
	ep.Version = b[3]
	ep.ManufacturerName = leU16(b[4:])
	ep.Subversion = leU16(b[6:])
	return nil
}

type HardwareErrorEP struct{ HardwareCode uint8 }

func (ep *HardwareErrorEP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("hciwire: short Hardware Error event")
	}
	ep.HardwareCode = b[0]
	return nil
}

type CompletedPacket struct {
	ConnectionHandle uint16
	NumCompletedPkts uint16
}

type NumberOfCompletedPacketsEP struct {
	Packets []CompletedPacket
}

func (ep *NumberOfCompletedPacketsEP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("hciwire: short Number Of Completed Packets event")
	}
	n := int(b[0])
	if len(b) < 1+n*4 {
		return fmt.Errorf("hciwire: truncated Number Of Completed Packets event")
	}
	ep.Packets = make([]CompletedPacket, n)
	off := 1
	for i := 0; i < n; i++ {
		ep.Packets[i].ConnectionHandle = leU16(b[off:]) & 0x0fff
		ep.Packets[i].NumCompletedPkts = leU16(b[off+2:])
		off += 4
	}
	return nil
}

// LEConnectionCompleteEP is the LE Connection Complete subevent.
type LEConnectionCompleteEP struct {
	Status              uint8
	ConnectionHandle    uint16
	Role                uint8
	PeerAddressType     uint8
	PeerAddress         [6]byte
	ConnInterval        uint16
	ConnLatency         uint16
	SupervisionTimeout  uint16
	MasterClockAccuracy uint8
}

func (ep *LEConnectionCompleteEP) Unmarshal(b []byte) error {
	// b starts after the subevent code byte.
	if len(b) < 18 {
		return fmt.Errorf("hciwire: short LE Connection Complete subevent")
	}
	ep.Status = b[0]
	ep.ConnectionHandle = leU16(b[1:])
	ep.Role = b[3]
	ep.PeerAddressType = b[4]
	ep.PeerAddress = getMAC(b[5:11])
	ep.ConnInterval = leU16(b[11:])
	ep.ConnLatency = leU16(b[13:])
	ep.SupervisionTimeout = leU16(b[15:])
	ep.MasterClockAccuracy = b[17]
	return nil
}

// LEEnhancedConnectionCompleteEP is the resolvable-address-aware
// variant of LE Connection Complete.
type LEEnhancedConnectionCompleteEP struct {
	LEConnectionCompleteEP
	LocalResolvablePrivateAddress [6]byte
	PeerResolvablePrivateAddress  [6]byte
}

func (ep *LEEnhancedConnectionCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 30 {
		return fmt.Errorf("hciwire: short LE Enhanced Connection Complete subevent")
	}
	if err := ep.LEConnectionCompleteEP.Unmarshal(b[:18]); err != nil {
		return err
	}
	ep.LocalResolvablePrivateAddress = getMAC(b[18:24])
	ep.PeerResolvablePrivateAddress = getMAC(b[24:30])
	return nil
}

type LEAdvertisingReport struct {
	EventType   uint8
	AddressType uint8
	Address     [6]byte
	Data        []byte
	RSSI        int8
}

type LEAdvertisingReportEP struct {
	Reports []LEAdvertisingReport
}

func (ep *LEAdvertisingReportEP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("hciwire: short LE Advertising Report subevent")
	}
	n := int(b[0])
	off := 1
	eventTypes := make([]uint8, n)
	addrTypes := make([]uint8, n)
	addrs := make([][6]byte, n)
	lengths := make([]uint8, n)
	for i := 0; i < n; i++ {
		eventTypes[i] = b[off]
		off++
	}
	for i := 0; i < n; i++ {
		addrTypes[i] = b[off]
		off++
	}
	for i := 0; i < n; i++ {
		addrs[i] = getMAC(b[off : off+6])
		off += 6
	}
	for i := 0; i < n; i++ {
		lengths[i] = b[off]
		off++
	}
	reports := make([]LEAdvertisingReport, n)
	for i := 0; i < n; i++ {
		l := int(lengths[i])
		if off+l > len(b) {
			return fmt.Errorf("hciwire: truncated LE Advertising Report data")
		}
		reports[i].EventType = eventTypes[i]
		reports[i].AddressType = addrTypes[i]
		reports[i].Address = addrs[i]
		reports[i].Data = append([]byte(nil), b[off:off+l]...)
		off += l
	}
	for i := 0; i < n; i++ {
		if off >= len(b) {
			return fmt.Errorf("hciwire: truncated LE Advertising Report RSSI")
		}
		reports[i].RSSI = int8(b[off])
		off++
	}
	ep.Reports = reports
	return nil
}

// LEExtendedAdvertisingReportEP is the extended-advertising variant:
// each report additionally carries primary/secondary
// PHY and a periodic advertising interval, per-report rather than in
// parallel arrays, since the extended form supports variable per-report
// data lengths more naturally that way.
type LEExtendedAdvertisingReport struct {
	EventType     uint16
	AddressType   uint8
	Address       [6]byte
	PrimaryPHY    uint8
	SecondaryPHY  uint8
	AdvSID        uint8
	TxPower       int8
	RSSI          int8
	PeriodicAdvInterval uint16
	DirectAddressType   uint8
	DirectAddress       [6]byte
	Data                []byte
}

type LEExtendedAdvertisingReportEP struct {
	Reports []LEExtendedAdvertisingReport
}

func (ep *LEExtendedAdvertisingReportEP) Unmarshal(b []byte) error {
	if len(b) < 1 {
		return fmt.Errorf("hciwire: short LE Extended Advertising Report subevent")
	}
	n := int(b[0])
	off := 1
	reports := make([]LEExtendedAdvertisingReport, n)
	for i := 0; i < n; i++ {
		if off+24 > len(b) {
			return fmt.Errorf("hciwire: truncated LE Extended Advertising Report fixed fields")
		}
		r := &reports[i]
		r.EventType = leU16(b[off:])
		r.AddressType = b[off+2]
		r.Address = getMAC(b[off+3 : off+9])
		r.PrimaryPHY = b[off+9]
		r.SecondaryPHY = b[off+10]
		r.AdvSID = b[off+11]
		r.TxPower = int8(b[off+12])
		r.RSSI = int8(b[off+13])
		r.PeriodicAdvInterval = leU16(b[off+14:])
		r.DirectAddressType = b[off+16]
		r.DirectAddress = getMAC(b[off+17 : off+23])
		dataLen := int(b[off+23])
		off += 24
		if off+dataLen > len(b) {
			return fmt.Errorf("hciwire: truncated LE Extended Advertising Report data")
		}
		r.Data = append([]byte(nil), b[off:off+dataLen]...)
		off += dataLen
	}
	ep.Reports = reports
	return nil
}

type LEConnectionUpdateCompleteEP struct {
	Status             uint8
	ConnectionHandle   uint16
	ConnInterval       uint16
	ConnLatency        uint16
	SupervisionTimeout uint16
}

func (ep *LEConnectionUpdateCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 9 {
		return fmt.Errorf("hciwire: short LE Connection Update Complete subevent")
	}
	ep.Status = b[0]
	ep.ConnectionHandle = leU16(b[1:])
	ep.ConnInterval = leU16(b[3:])
	ep.ConnLatency = leU16(b[5:])
	ep.SupervisionTimeout = leU16(b[7:])
	return nil
}

type LEReadRemoteFeaturesCompleteEP struct {
	Status           uint8
	ConnectionHandle uint16
	LEFeatures       uint64
}

func (ep *LEReadRemoteFeaturesCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 11 {
		return fmt.Errorf("hciwire: short LE Read Remote Features Complete subevent")
	}
	ep.Status = b[0]
	ep.ConnectionHandle = leU16(b[1:])
	ep.LEFeatures = leU64(b[3:])
	return nil
}

type LELongTermKeyRequestEP struct {
	ConnectionHandle      uint16
	RandomNumber          uint64
	EncryptionDiversifier uint16
}

func (ep *LELongTermKeyRequestEP) Unmarshal(b []byte) error {
	if len(b) < 12 {
		return fmt.Errorf("hciwire: short LE Long Term Key Request subevent")
	}
	ep.ConnectionHandle = leU16(b[0:])
	ep.RandomNumber = leU64(b[2:])
	ep.EncryptionDiversifier = leU16(b[10:])
	return nil
}

type LEReadLocalP256PublicKeyCompleteEP struct {
	Status    uint8
	PublicKey [64]byte
}

func (ep *LEReadLocalP256PublicKeyCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 65 {
		return fmt.Errorf("hciwire: short LE Read Local P-256 Public Key Complete subevent")
	}
	ep.Status = b[0]
	copy(ep.PublicKey[:], b[1:65])
	return nil
}

type LEGenerateDHKeyCompleteEP struct {
	Status uint8
	DHKey  [32]byte
}

func (ep *LEGenerateDHKeyCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 33 {
		return fmt.Errorf("hciwire: short LE Generate DHKey Complete subevent")
	}
	ep.Status = b[0]
	copy(ep.DHKey[:], b[1:33])
	return nil
}

// LEPHYUpdateCompleteEP is the PHY Update Complete subevent.
type LEPHYUpdateCompleteEP struct {
	Status           uint8
	ConnectionHandle uint16
	TxPHY            uint8
	RxPHY            uint8
}

func (ep *LEPHYUpdateCompleteEP) Unmarshal(b []byte) error {
	if len(b) < 5 {
		return fmt.Errorf("hciwire: short LE PHY Update Complete subevent")
	}
	ep.Status = b[0]
	ep.ConnectionHandle = leU16(b[1:])
	ep.TxPHY = b[3]
	ep.RxPHY = b[4]
	return nil
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
