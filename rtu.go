package modbus

import (
	"context"
	"time"
)

// maxRTUData is the largest PDU data size (all bytes between the function
// code and the CRC) that still fits an RTU ADU capped at 256 bytes:
// 256 - station(1) - function(1) - crc(2).
const maxRTUData = 252

// rtuFramer implements RTU framing (spec §4.1): station, function, data,
// then a CRC-16 transmitted least-significant byte first.
type rtuFramer struct{}

func (rtuFramer) ReadFrame(ctx context.Context, t Transport, kind frameKind, delayAfterRead time.Duration) (Frame, error) {
	head := make([]byte, 2)
	if err := t.Read(ctx, head, 2); err != nil {
		return Frame{}, err
	}
	fn := FunctionCode(head[1])
	data, err := readPDUData(ctx, t, fn, kind)
	if err != nil {
		return Frame{}, err
	}
	crcBytes := make([]byte, 2)
	if err := t.Read(ctx, crcBytes, 2); err != nil {
		return Frame{}, err
	}
	// spec §4.1: "Wait delayAfterRead ticks" sits here, between reading the
	// CRC off the wire and recomputing/comparing it.
	if delayAfterRead > 0 {
		time.Sleep(delayAfterRead)
	}
	adu := append(append([]byte{}, head...), data...)
	want := crc16(adu)
	got := uint16(crcBytes[0]) | uint16(crcBytes[1])<<8
	if want != got {
		return Frame{}, ErrInvalidCrc
	}
	return Frame{Station: head[0], Function: fn, Data: data}, nil
}

func (rtuFramer) WriteFrame(ctx context.Context, t Transport, f Frame) error {
	if len(f.Data) > maxRTUData {
		return ErrInvalidSize
	}
	adu := make([]byte, 2+len(f.Data)+2)
	adu[0] = f.Station
	adu[1] = byte(f.Function)
	copy(adu[2:], f.Data)
	crc := crc16(adu[:2+len(f.Data)])
	adu[2+len(f.Data)] = byte(crc)
	adu[2+len(f.Data)+1] = byte(crc >> 8)
	return t.Write(ctx, adu, 0, len(adu))
}
