package hciwire

// OGF (opcode group field) values for the commands this stack issues.
const (
	ogfLinkCtl   = 0x01
	ogfHostCtl   = 0x03
	ogfInfoParam = 0x04
	ogfLECtl     = 0x08
)

// Opcode is a 16-bit HCI command opcode: ogf<<10 | ocf.
type Opcode uint16

func (op Opcode) OGF() uint8  { return uint8((uint16(op) & 0xfc00) >> 10) }
func (op Opcode) OCF() uint16 { return uint16(op) & 0x03ff }

// Command opcodes this stack issues. Only the subset named or implied
// by the HCI adapter's command surface and the PHY commands it adds
// are defined; this is a host stack, not a full BR/EDR controller driver.
const (
	OpDisconnect              = Opcode(ogfLinkCtl<<10 | 0x0006)
	OpReadRemoteVersionInfo   = Opcode(ogfLinkCtl<<10 | 0x001d)
	OpReadRemoteFeatures      = Opcode(ogfLinkCtl<<10 | 0x001b)
	OpSetEventMask            = Opcode(ogfHostCtl<<10 | 0x0001)
	OpReset                   = Opcode(ogfHostCtl<<10 | 0x0003)
	OpReadBufferSize          = Opcode(ogfInfoParam<<10 | 0x0005)
	OpReadBDADDR              = Opcode(ogfInfoParam<<10 | 0x0009)
	OpHostNumCompletedPackets = Opcode(ogfHostCtl<<10 | 0x0035)

	OpLESetEventMask               = Opcode(ogfLECtl<<10 | 0x0001)
	OpLEReadBufferSize             = Opcode(ogfLECtl<<10 | 0x0002)
	OpLESetRandomAddress           = Opcode(ogfLECtl<<10 | 0x0005)
	OpLESetAdvertisingParameters   = Opcode(ogfLECtl<<10 | 0x0006)
	OpLESetAdvertisingData        = Opcode(ogfLECtl<<10 | 0x0008)
	OpLESetScanResponseData        = Opcode(ogfLECtl<<10 | 0x0009)
	OpLESetAdvertiseEnable         = Opcode(ogfLECtl<<10 | 0x000a)
	OpLESetScanParameters          = Opcode(ogfLECtl<<10 | 0x000b)
	OpLESetScanEnable              = Opcode(ogfLECtl<<10 | 0x000c)
	OpLECreateConn                 = Opcode(ogfLECtl<<10 | 0x000d)
	OpLECreateConnCancel           = Opcode(ogfLECtl<<10 | 0x000e)
	OpLEConnUpdate                 = Opcode(ogfLECtl<<10 | 0x0013)
	OpLEReadRemoteUsedFeatures     = Opcode(ogfLECtl<<10 | 0x0016)
	OpLEEncrypt                    = Opcode(ogfLECtl<<10 | 0x0017)
	OpLERand                       = Opcode(ogfLECtl<<10 | 0x0018)
	OpLEStartEncryption            = Opcode(ogfLECtl<<10 | 0x0019)
	OpLELTKReply                   = Opcode(ogfLECtl<<10 | 0x001a)
	OpLELTKNegReply                = Opcode(ogfLECtl<<10 | 0x001b)
	OpLEReadLocalP256PublicKey     = Opcode(ogfLECtl<<10 | 0x0025)
	OpLEGenerateDHKey              = Opcode(ogfLECtl<<10 | 0x0026)
	OpLESetDataLength              = Opcode(ogfLECtl<<10 | 0x0022)
	OpLESetPHY                     = Opcode(ogfLECtl<<10 | 0x0032)
	OpLEReadPHY                    = Opcode(ogfLECtl<<10 | 0x0030)
	OpLESetExtendedScanParameters  = Opcode(ogfLECtl<<10 | 0x0041)
	OpLESetExtendedScanEnable      = Opcode(ogfLECtl<<10 | 0x0042)
	OpLEExtendedCreateConn         = Opcode(ogfLECtl<<10 | 0x0043)
)

var opcodeName = map[Opcode]string{
	OpDisconnect:                  "Disconnect",
	OpReadRemoteVersionInfo:       "Read Remote Version Information",
	OpReadRemoteFeatures:          "Read Remote Supported Features",
	OpSetEventMask:                "Set Event Mask",
	OpReset:                       "Reset",
	OpReadBufferSize:              "Read Buffer Size",
	OpReadBDADDR:                  "Read BD_ADDR",
	OpHostNumCompletedPackets:     "Host Number Of Completed Packets",
	OpLESetEventMask:              "LE Set Event Mask",
	OpLEReadBufferSize:            "LE Read Buffer Size",
	OpLESetRandomAddress:          "LE Set Random Address",
	OpLESetAdvertisingParameters:  "LE Set Advertising Parameters",
	OpLESetAdvertisingData:        "LE Set Advertising Data",
	OpLESetScanResponseData:       "LE Set Scan Response Data",
	OpLESetAdvertiseEnable:        "LE Set Advertise Enable",
	OpLESetScanParameters:         "LE Set Scan Parameters",
	OpLESetScanEnable:             "LE Set Scan Enable",
	OpLECreateConn:                "LE Create Connection",
	OpLECreateConnCancel:          "LE Create Connection Cancel",
	OpLEConnUpdate:                "LE Connection Update",
	OpLEReadRemoteUsedFeatures:    "LE Read Remote Used Features",
	OpLEEncrypt:                   "LE Encrypt",
	OpLERand:                      "LE Rand",
	OpLEStartEncryption:           "LE Start Encryption",
	OpLELTKReply:                  "LE Long Term Key Request Reply",
	OpLELTKNegReply:               "LE Long Term Key Request Negative Reply",
	OpLEReadLocalP256PublicKey:    "LE Read Local P-256 Public Key",
	OpLEGenerateDHKey:             "LE Generate DHKey",
	OpLESetDataLength:             "LE Set Data Length",
	OpLESetPHY:                    "LE Set PHY",
	OpLEReadPHY:                   "LE Read PHY",
	OpLESetExtendedScanParameters: "LE Set Extended Scan Parameters",
	OpLESetExtendedScanEnable:     "LE Set Extended Scan Enable",
	OpLEExtendedCreateConn:        "LE Extended Create Connection",
}

func (op Opcode) String() string {
	if n, ok := opcodeName[op]; ok {
		return n
	}
	return "Unknown HCI Opcode"
}
