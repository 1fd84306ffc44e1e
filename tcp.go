package modbus

import (
	"context"
	"time"
)

// maxTCPData is the largest PDU data size (excluding the function byte)
// accepted on TCP, matching the RTU and ASCII cap; the MBAP header's 16 bit
// length field could describe more, but longer frames are rejected.
const maxTCPData = 252

// tcpFramer implements Modbus/TCP framing (spec §4.1): a 7 byte MBAP
// header (transaction id, protocol id, length, unit id) followed by the
// function code and data. Unlike RTU/ASCII the length field makes framing
// explicit, so kind is unused here.
type tcpFramer struct{}

// ReadFrame ignores delayAfterRead: Modbus/TCP has no serial turnaround to
// protect, and spec §6 explicitly marks this knob "Ignored for TCP".
func (tcpFramer) ReadFrame(ctx context.Context, t Transport, _ frameKind, _ time.Duration) (Frame, error) {
	header := make([]byte, 7)
	if err := t.Read(ctx, header, 7); err != nil {
		return Frame{}, err
	}
	transactionID := getUint16(header[0:2])
	protocolID := getUint16(header[2:4])
	length := int(getUint16(header[4:6]))
	unitID := header[6]
	if protocolID != 0 || length < 2 || length > maxTCPData+2 {
		return Frame{}, ErrInvalidResponse
	}
	pdu := make([]byte, length-1)
	if err := t.Read(ctx, pdu, len(pdu)); err != nil {
		return Frame{}, err
	}
	return Frame{
		Station:       unitID,
		Function:      FunctionCode(pdu[0]),
		Data:          pdu[1:],
		TransactionID: transactionID,
	}, nil
}

func (tcpFramer) WriteFrame(ctx context.Context, t Transport, f Frame) error {
	if len(f.Data) > maxTCPData {
		return ErrInvalidSize
	}
	adu := make([]byte, 7+1+len(f.Data))
	putUint16(adu[0:2], f.TransactionID)
	putUint16(adu[2:4], 0)
	putUint16(adu[4:6], uint16(2+len(f.Data)))
	adu[6] = f.Station
	adu[7] = byte(f.Function)
	copy(adu[8:], f.Data)
	return t.Write(ctx, adu, 0, len(adu))
}
