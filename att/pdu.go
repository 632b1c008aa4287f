// Package att implements the Attribute Protocol engine: a strict
// one-request/one-response client state machine and a server that
// dispatches opcodes against an attribute
// database, including prepare/execute write transactions and
// notify/indicate queues with MTU-exchange ordering.
package att

// Opcode is a one-byte ATT PDU opcode.
const (
	OpError                   = 0x01
	OpMTUReq                  = 0x02
	OpMTUResp                 = 0x03
	OpFindInformationReq      = 0x04
	OpFindInformationResp     = 0x05
	OpFindByTypeValueReq      = 0x06
	OpFindByTypeValueResp     = 0x07
	OpReadByTypeReq           = 0x08
	OpReadByTypeResp          = 0x09
	OpReadReq                 = 0x0a
	OpReadResp                = 0x0b
	OpReadBlobReq             = 0x0c
	OpReadBlobResp            = 0x0d
	OpReadMultipleReq         = 0x0e
	OpReadMultipleResp        = 0x0f
	OpReadByGroupTypeReq      = 0x10
	OpReadByGroupTypeResp     = 0x11
	OpWriteReq                = 0x12
	OpWriteResp               = 0x13
	OpPrepareWriteReq         = 0x16
	OpPrepareWriteResp        = 0x17
	OpExecuteWriteReq         = 0x18
	OpExecuteWriteResp        = 0x19
	OpHandleValueNotification = 0x1b
	OpHandleValueIndication   = 0x1d
	OpHandleValueConfirmation = 0x1e
	OpWriteCommand            = 0x52
	OpSignedWriteCommand      = 0xd2
)

// respFor maps a request opcode to its matching response opcode.
var respFor = map[byte]byte{
	OpMTUReq:             OpMTUResp,
	OpFindInformationReq: OpFindInformationResp,
	OpFindByTypeValueReq: OpFindByTypeValueResp,
	OpReadByTypeReq:      OpReadByTypeResp,
	OpReadReq:            OpReadResp,
	OpReadBlobReq:        OpReadBlobResp,
	OpReadMultipleReq:    OpReadMultipleResp,
	OpReadByGroupTypeReq: OpReadByGroupTypeResp,
	OpWriteReq:           OpWriteResp,
	OpPrepareWriteReq:    OpPrepareWriteResp,
	OpExecuteWriteReq:    OpExecuteWriteResp,
}

func isRequestOpcode(op byte) bool {
	switch op {
	case OpMTUReq, OpFindInformationReq, OpFindByTypeValueReq, OpReadByTypeReq,
		OpReadReq, OpReadBlobReq, OpReadMultipleReq, OpReadByGroupTypeReq,
		OpWriteReq, OpPrepareWriteReq, OpExecuteWriteReq:
		return true
	}
	return false
}

func isResponseOpcode(op byte) bool {
	_, ok := respForReverse[op]
	return ok
}

var respForReverse = func() map[byte]byte {
	m := map[byte]byte{}
	for req, resp := range respFor {
		m[resp] = req
	}
	return m
}()

func errorResponse(reqOpcode byte, handle uint16, ec Error) []byte {
	return []byte{OpError, reqOpcode, byte(handle), byte(handle >> 8), byte(ec)}
}
