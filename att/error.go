package att

import "fmt"

// Error is an ATT protocol error code: the protocol-error family, as
// opposed to programmer errors which use blerr. Zero is
// never a valid code on the wire; by convention the handlers in this
// package use Error(0) as a sentinel meaning "no error".
type Error uint8

const (
	ErrorInvalidHandle                 Error = 0x01
	ErrorReadNotPermitted              Error = 0x02
	ErrorWriteNotPermitted             Error = 0x03
	ErrorInvalidPDU                    Error = 0x04
	ErrorInsufficientAuthentication    Error = 0x05
	ErrorRequestNotSupported           Error = 0x06
	ErrorInvalidOffset                 Error = 0x07
	ErrorInsufficientAuthorization     Error = 0x08
	ErrorPrepareQueueFull              Error = 0x09
	ErrorAttributeNotFound             Error = 0x0a
	ErrorAttributeNotLong              Error = 0x0b
	ErrorInsufficientEncryptionKeySize Error = 0x0c
	ErrorInvalidAttributeValueLength   Error = 0x0d
	ErrorUnlikelyError                 Error = 0x0e
	ErrorInsufficientEncryption        Error = 0x0f
	ErrorUnsupportedGroupType          Error = 0x10
	ErrorInsufficientResources         Error = 0x11

	// ErrorCCCDImproperlyConfigured is a GATT-layer error code (not an
	// ATT base error) returned by the CCCD write dispatcher.
	ErrorCCCDImproperlyConfigured Error = 0xfd
)

var errorNames = map[Error]string{
	ErrorInvalidHandle:                 "invalid handle",
	ErrorReadNotPermitted:              "read not permitted",
	ErrorWriteNotPermitted:             "write not permitted",
	ErrorInvalidPDU:                    "invalid PDU",
	ErrorInsufficientAuthentication:    "insufficient authentication",
	ErrorRequestNotSupported:           "request not supported",
	ErrorInvalidOffset:                 "invalid offset",
	ErrorInsufficientAuthorization:     "insufficient authorization",
	ErrorPrepareQueueFull:              "prepare queue full",
	ErrorAttributeNotFound:             "attribute not found",
	ErrorAttributeNotLong:              "attribute not long",
	ErrorInsufficientEncryptionKeySize: "insufficient encryption key size",
	ErrorInvalidAttributeValueLength:   "invalid attribute value length",
	ErrorUnlikelyError:                 "unlikely error",
	ErrorInsufficientEncryption:        "insufficient encryption",
	ErrorUnsupportedGroupType:          "unsupported group type",
	ErrorInsufficientResources:         "insufficient resources",
	ErrorCCCDImproperlyConfigured:      "client characteristic configuration descriptor improperly configured",
}

func (e Error) Error() string {
	if n, ok := errorNames[e]; ok {
		return n
	}
	return fmt.Sprintf("att error 0x%02x", uint8(e))
}

// IsSignaled reports whether e represents an actual protocol error
// (as opposed to the zero sentinel meaning success).
func (e Error) IsSignaled() bool { return e != 0 }
