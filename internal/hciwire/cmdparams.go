package hciwire

// CmdParam is implemented by every HCI command parameter block, in
// the manner of plain little-endian-field structs.
type CmdParam interface {
	Opcode() Opcode
	Len() int
	Marshal([]byte)
}

type Disconnect struct {
	ConnectionHandle uint16
	Reason           uint8
}

func (c Disconnect) Opcode() Opcode { return OpDisconnect }
func (c Disconnect) Len() int       { return 3 }
func (c Disconnect) Marshal(b []byte) {
	putU16(b[0:], c.ConnectionHandle)
	putU8(b[2:], c.Reason)
}

type Reset struct{}

func (c Reset) Opcode() Opcode   { return OpReset }
func (c Reset) Len() int         { return 0 }
func (c Reset) Marshal(b []byte) {}

type ReadBufferSize struct{}

func (c ReadBufferSize) Opcode() Opcode   { return OpReadBufferSize }
func (c ReadBufferSize) Len() int         { return 0 }
func (c ReadBufferSize) Marshal(b []byte) {}

// ReadBufferSizeRP is the Read Buffer Size command-complete return
// parameters: Status || ACLDataPacketLength(2) || SCODataPacketLength ||
// TotalNumACLDataPackets(2) || TotalNumSCODataPackets(2).
type ReadBufferSizeRP struct {
	Status                  uint8
	ACLDataPacketLength     uint16
	SCODataPacketLength     uint8
	TotalNumACLDataPackets  uint16
	TotalNumSCODataPackets  uint16
}

func (rp *ReadBufferSizeRP) Unmarshal(b []byte) {
	rp.Status = b[0]
	rp.ACLDataPacketLength = leU16(b[1:])
	rp.SCODataPacketLength = b[3]
	rp.TotalNumACLDataPackets = leU16(b[4:])
	rp.TotalNumSCODataPackets = leU16(b[6:])
}

type ReadRemoteVersionInfo struct{ ConnectionHandle uint16 }

func (c ReadRemoteVersionInfo) Opcode() Opcode   { return OpReadRemoteVersionInfo }
func (c ReadRemoteVersionInfo) Len() int         { return 2 }
func (c ReadRemoteVersionInfo) Marshal(b []byte) { putU16(b, c.ConnectionHandle) }

type ReadRemoteFeatures struct{ ConnectionHandle uint16 }

func (c ReadRemoteFeatures) Opcode() Opcode   { return OpReadRemoteFeatures }
func (c ReadRemoteFeatures) Len() int         { return 2 }
func (c ReadRemoteFeatures) Marshal(b []byte) { putU16(b, c.ConnectionHandle) }

type HostNumCompletedPackets struct {
	ConnectionHandle  uint16
	HostNumOfCompPkts uint16
}

func (c HostNumCompletedPackets) Opcode() Opcode { return OpHostNumCompletedPackets }
func (c HostNumCompletedPackets) Len() int       { return 5 }
func (c HostNumCompletedPackets) Marshal(b []byte) {
	b[0] = 1
	putU16(b[1:], c.ConnectionHandle)
	putU16(b[3:], c.HostNumOfCompPkts)
}

type LEReadBufferSize struct{}

func (c LEReadBufferSize) Opcode() Opcode   { return OpLEReadBufferSize }
func (c LEReadBufferSize) Len() int         { return 0 }
func (c LEReadBufferSize) Marshal(b []byte) {}

type LEReadBufferSizeRP struct {
	Status               uint8
	LEACLDataPacketLen   uint16
	TotalNumLEACLPackets uint8
}

func (rp *LEReadBufferSizeRP) Unmarshal(b []byte) {
	rp.Status = b[0]
	rp.LEACLDataPacketLen = leU16(b[1:])
	rp.TotalNumLEACLPackets = b[3]
}

type LEConnUpdate struct {
	ConnectionHandle   uint16
	ConnIntervalMin    uint16
	ConnIntervalMax    uint16
	ConnLatency        uint16
	SupervisionTimeout uint16
	MinimumCELength    uint16
	MaximumCELength    uint16
}

func (c LEConnUpdate) Opcode() Opcode { return OpLEConnUpdate }
func (c LEConnUpdate) Len() int       { return 14 }
func (c LEConnUpdate) Marshal(b []byte) {
	putU16(b[0:], c.ConnectionHandle)
	putU16(b[2:], c.ConnIntervalMin)
	putU16(b[4:], c.ConnIntervalMax)
	putU16(b[6:], c.ConnLatency)
	putU16(b[8:], c.SupervisionTimeout)
	putU16(b[10:], c.MinimumCELength)
	putU16(b[12:], c.MaximumCELength)
}

type LECreateConn struct {
	ScanInterval          uint16
	ScanWindow            uint16
	InitiatorFilterPolicy uint8
	PeerAddressType       uint8
	PeerAddress           [6]byte
	OwnAddressType        uint8
	ConnIntervalMin       uint16
	ConnIntervalMax       uint16
	ConnLatency           uint16
	SupervisionTimeout    uint16
	MinimumCELength       uint16
	MaximumCELength       uint16
}

func (c LECreateConn) Opcode() Opcode { return OpLECreateConn }
func (c LECreateConn) Len() int       { return 25 }
func (c LECreateConn) Marshal(b []byte) {
	putU16(b[0:], c.ScanInterval)
	putU16(b[2:], c.ScanWindow)
	putU8(b[4:], c.InitiatorFilterPolicy)
	putU8(b[5:], c.PeerAddressType)
	putMAC(b[6:], c.PeerAddress)
	putU8(b[12:], c.OwnAddressType)
	putU16(b[13:], c.ConnIntervalMin)
	putU16(b[15:], c.ConnIntervalMax)
	putU16(b[17:], c.ConnLatency)
	putU16(b[19:], c.SupervisionTimeout)
	putU16(b[21:], c.MinimumCELength)
	putU16(b[23:], c.MaximumCELength)
}

type LESetAdvertisingParameters struct {
	AdvertisingIntervalMin  uint16
	AdvertisingIntervalMax  uint16
	AdvertisingType         uint8
	OwnAddressType          uint8
	DirectAddressType       uint8
	DirectAddress           [6]byte
	AdvertisingChannelMap   uint8
	AdvertisingFilterPolicy uint8
}

func (c LESetAdvertisingParameters) Opcode() Opcode { return OpLESetAdvertisingParameters }
func (c LESetAdvertisingParameters) Len() int       { return 15 }
func (c LESetAdvertisingParameters) Marshal(b []byte) {
	putU16(b[0:], c.AdvertisingIntervalMin)
	putU16(b[2:], c.AdvertisingIntervalMax)
	putU8(b[4:], c.AdvertisingType)
	putU8(b[5:], c.OwnAddressType)
	putU8(b[6:], c.DirectAddressType)
	putMAC(b[7:], c.DirectAddress)
	putU8(b[13:], c.AdvertisingChannelMap)
	putU8(b[14:], c.AdvertisingFilterPolicy)
}

type LESetAdvertisingData struct {
	AdvertisingDataLength uint8
	AdvertisingData       [31]byte
}

func (c LESetAdvertisingData) Opcode() Opcode { return OpLESetAdvertisingData }
func (c LESetAdvertisingData) Len() int       { return 32 }
func (c LESetAdvertisingData) Marshal(b []byte) {
	b[0] = c.AdvertisingDataLength
	copy(b[1:], c.AdvertisingData[:])
}

type LESetScanResponseData struct {
	ScanResponseDataLength uint8
	ScanResponseData       [31]byte
}

func (c LESetScanResponseData) Opcode() Opcode { return OpLESetScanResponseData }
func (c LESetScanResponseData) Len() int       { return 32 }
func (c LESetScanResponseData) Marshal(b []byte) {
	b[0] = c.ScanResponseDataLength
	copy(b[1:], c.ScanResponseData[:])
}

type LESetAdvertiseEnable struct{ AdvertisingEnable uint8 }

func (c LESetAdvertiseEnable) Opcode() Opcode   { return OpLESetAdvertiseEnable }
func (c LESetAdvertiseEnable) Len() int         { return 1 }
func (c LESetAdvertiseEnable) Marshal(b []byte) { b[0] = c.AdvertisingEnable }

type LESetScanParameters struct {
	LEScanType           uint8
	LEScanInterval       uint16
	LEScanWindow         uint16
	OwnAddressType       uint8
	ScanningFilterPolicy uint8
}

func (c LESetScanParameters) Opcode() Opcode { return OpLESetScanParameters }
func (c LESetScanParameters) Len() int       { return 7 }
func (c LESetScanParameters) Marshal(b []byte) {
	putU8(b[0:], c.LEScanType)
	putU16(b[1:], c.LEScanInterval)
	putU16(b[3:], c.LEScanWindow)
	putU8(b[5:], c.OwnAddressType)
	putU8(b[6:], c.ScanningFilterPolicy)
}

type LESetScanEnable struct {
	LEScanEnable     uint8
	FilterDuplicates uint8
}

func (c LESetScanEnable) Opcode() Opcode   { return OpLESetScanEnable }
func (c LESetScanEnable) Len() int         { return 2 }
func (c LESetScanEnable) Marshal(b []byte) { b[0], b[1] = c.LEScanEnable, c.FilterDuplicates }

type LEEncrypt struct {
	Key           [16]byte
	PlaintextData [16]byte
}

func (c LEEncrypt) Opcode() Opcode { return OpLEEncrypt }
func (c LEEncrypt) Len() int       { return 32 }
func (c LEEncrypt) Marshal(b []byte) {
	copy(b[0:], c.Key[:])
	copy(b[16:], c.PlaintextData[:])
}

type LEEncryptRP struct {
	Status        uint8
	EncryptedData [16]byte
}

func (rp *LEEncryptRP) Unmarshal(b []byte) {
	rp.Status = b[0]
	copy(rp.EncryptedData[:], b[1:17])
}

type LEStartEncryption struct {
	ConnectionHandle     uint16
	RandomNumber         uint64
	EncryptedDiversifier uint16
	LongTermKey          [16]byte
}

func (c LEStartEncryption) Opcode() Opcode { return OpLEStartEncryption }
func (c LEStartEncryption) Len() int       { return 28 }
func (c LEStartEncryption) Marshal(b []byte) {
	putU16(b[0:], c.ConnectionHandle)
	putU64(b[2:], c.RandomNumber)
	putU16(b[10:], c.EncryptedDiversifier)
	copy(b[12:], c.LongTermKey[:])
}

// LELTKReply, Long Term Key Request Reply.
type LELTKReply struct {
	ConnectionHandle uint16
	LongTermKey      [16]byte
}

func (c LELTKReply) Opcode() Opcode { return OpLELTKReply }
func (c LELTKReply) Len() int       { return 18 }
func (c LELTKReply) Marshal(b []byte) {
	putU16(b[0:], c.ConnectionHandle)
	copy(b[2:], c.LongTermKey[:])
}

// LELTKNegativeReply, misspelled in some reference stacks as
// "leLongTermKeyNequestNegativeReply"; this repo keeps the correct
// spelling throughout.
type LELTKNegativeReply struct{ ConnectionHandle uint16 }

func (c LELTKNegativeReply) Opcode() Opcode   { return OpLELTKNegReply }
func (c LELTKNegativeReply) Len() int         { return 2 }
func (c LELTKNegativeReply) Marshal(b []byte) { putU16(b, c.ConnectionHandle) }

type LESetPHY struct {
	ConnectionHandle uint16
	AllPHYs          uint8
	TxPHYs           uint8
	RxPHYs           uint8
	PHYOptions       uint16
}

func (c LESetPHY) Opcode() Opcode { return OpLESetPHY }
func (c LESetPHY) Len() int       { return 7 }
func (c LESetPHY) Marshal(b []byte) {
	putU16(b[0:], c.ConnectionHandle)
	putU8(b[2:], c.AllPHYs)
	putU8(b[3:], c.TxPHYs)
	putU8(b[4:], c.RxPHYs)
	putU16(b[5:], c.PHYOptions)
}

type LEReadPHY struct{ ConnectionHandle uint16 }

func (c LEReadPHY) Opcode() Opcode   { return OpLEReadPHY }
func (c LEReadPHY) Len() int         { return 2 }
func (c LEReadPHY) Marshal(b []byte) { putU16(b, c.ConnectionHandle) }

type LEReadLocalP256PublicKey struct{}

func (c LEReadLocalP256PublicKey) Opcode() Opcode   { return OpLEReadLocalP256PublicKey }
func (c LEReadLocalP256PublicKey) Len() int         { return 0 }
func (c LEReadLocalP256PublicKey) Marshal(b []byte) {}

type LEGenerateDHKey struct{ RemoteP256PublicKey [64]byte }

func (c LEGenerateDHKey) Opcode() Opcode { return OpLEGenerateDHKey }
func (c LEGenerateDHKey) Len() int       { return 64 }
func (c LEGenerateDHKey) Marshal(b []byte) {
	copy(b, c.RemoteP256PublicKey[:])
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
