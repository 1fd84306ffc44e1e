package modbus

import (
	"bytes"
	"context"
	"encoding/hex"
	"time"
)

// maxASCIIData mirrors maxRTUData; the hex encoding doubles the byte count
// on the wire but not the logical PDU size.
const maxASCIIData = 252

// asciiFramer implements ASCII framing (spec §4.1): a leading ':', the
// station/function/data/LRC bytes hex-encoded two characters per byte,
// and a trailing CR LF.
type asciiFramer struct{}

func (asciiFramer) ReadFrame(ctx context.Context, t Transport, kind frameKind, delayAfterRead time.Duration) (Frame, error) {
	// Synchronize on the leading ':', discarding any noise before it.
	if _, err := t.ReadUntil(ctx, ':'); err != nil {
		return Frame{}, err
	}
	head := make([]byte, 4)
	if err := t.Read(ctx, head, 4); err != nil {
		return Frame{}, err
	}
	station, fn, err := decodeHexPair2(head)
	if err != nil {
		return Frame{}, ErrInvalidResponse
	}
	data, err := readPDUDataASCII(ctx, t, FunctionCode(fn), kind)
	if err != nil {
		return Frame{}, err
	}
	lrcHex := make([]byte, 2)
	if err := t.Read(ctx, lrcHex, 2); err != nil {
		return Frame{}, err
	}
	tail, err := t.ReadUntil(ctx, '\n')
	if err != nil {
		return Frame{}, err
	}
	if len(tail) < 1 || tail[len(tail)-1] != '\n' {
		return Frame{}, ErrInvalidResponse
	}

	raw, err := hex.DecodeString(string(head) + string(lrcHex))
	if err != nil {
		return Frame{}, ErrInvalidResponse
	}
	dataRaw, err := hexDecode(data)
	if err != nil {
		return Frame{}, ErrInvalidResponse
	}
	full := append(append([]byte{}, raw[:2]...), dataRaw...)
	full = append(full, raw[2])
	if lrc8(full) != 0 {
		return Frame{}, ErrInvalidChecksum
	}
	// spec §4.1/§5: the delayAfterRead quiet period follows a successful
	// decode. ASCII framing has no CRC-style field to split the wait
	// around, so it runs here, once the frame is known good.
	if delayAfterRead > 0 {
		time.Sleep(delayAfterRead)
	}
	return Frame{Station: station, Function: FunctionCode(fn), Data: dataRaw}, nil
}

// readPDUDataASCII mirrors readPDUData but over hex-encoded bytes (two
// ASCII characters per Modbus byte), since ASCII framing has no separate
// binary Read path.
func readPDUDataASCII(ctx context.Context, t Transport, fn FunctionCode, kind frameKind) ([]byte, error) {
	readHexBytes := func(n int) ([]byte, error) {
		buf := make([]byte, n*2)
		if err := t.Read(ctx, buf, len(buf)); err != nil {
			return nil, err
		}
		return buf, nil
	}
	if fn.IsException() {
		return readHexBytes(1)
	}
	plain := fn.Plain()
	if n, ok := pduDataLen(plain, kind); ok {
		return readHexBytes(n)
	}
	switch plain {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		return readASCIIByteCountPrefixed(ctx, t, 0)
	case WriteMultipleCoils, WriteMultipleHoldingRegisters:
		return readASCIIByteCountPrefixed(ctx, t, 4)
	}
	if shape, ok := frameShapeFor(ctx, plain); ok {
		return readCustomShapeASCII(ctx, t, shape)
	}
	return nil, ErrUnsupported
}

func readASCIIByteCountPrefixed(ctx context.Context, t Transport, headLen int) ([]byte, error) {
	head := make([]byte, (headLen+1)*2)
	if err := t.Read(ctx, head, len(head)); err != nil {
		return nil, err
	}
	countByte, err := hex.DecodeString(string(head[headLen*2:]))
	if err != nil {
		return nil, ErrInvalidResponse
	}
	count := int(countByte[0])
	rest := make([]byte, count*2)
	if count > 0 {
		if err := t.Read(ctx, rest, len(rest)); err != nil {
			return nil, err
		}
	}
	return append(head, rest...), nil
}

func hexDecode(hexBytes []byte) ([]byte, error) {
	return hex.DecodeString(string(hexBytes))
}

func decodeHexPair2(b []byte) (a, c byte, err error) {
	raw, err := hex.DecodeString(string(b))
	if err != nil || len(raw) != 2 {
		return 0, 0, ErrInvalidResponse
	}
	return raw[0], raw[1], nil
}

func (asciiFramer) WriteFrame(ctx context.Context, t Transport, f Frame) error {
	if len(f.Data) > maxASCIIData {
		return ErrInvalidSize
	}
	adu := make([]byte, 2+len(f.Data))
	adu[0] = f.Station
	adu[1] = byte(f.Function)
	copy(adu[2:], f.Data)
	full := append(append([]byte{}, adu...), lrc8(adu))

	var buf bytes.Buffer
	buf.WriteByte(':')
	buf.WriteString(hex.EncodeToString(full))
	buf.WriteString("\r\n")
	out := buf.Bytes()
	return t.Write(ctx, out, 0, len(out))
}
