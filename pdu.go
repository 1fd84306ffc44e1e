package modbus

import "context"

// pduDataLen computes how many bytes follow the function code for a frame
// with the given (already exception-checked) plain function code and
// kind, for the fixed-shape cases -- a function and kind whose PDU data is
// a constant number of bytes regardless of content (any write-single
// frame, a read request, a write-multiple response). It returns ok=false
// for the byte-count-prefixed shapes, which the RTU and
// ASCII decoders handle separately since they must read one extra byte
// before they know the total length (spec §4.1, §3 transaction buffer
// table).
func pduDataLen(fc FunctionCode, kind frameKind) (n int, ok bool) {
	switch fc {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		if kind == kindRequest {
			return 4, true
		}
		return 0, false
	case WriteSingleCoil, WriteSingleHoldingRegister:
		return 4, true
	case WriteMultipleCoils, WriteMultipleHoldingRegisters:
		if kind == kindResponse {
			return 4, true
		}
		return 0, false
	}
	return 0, false
}

// readPDUData reads the data bytes that follow a station+function header
// already read from t, for use by the RTU framer (the ASCII framer has
// its own hex-aware counterpart, readPDUDataASCII). fn is the raw
// function code byte, including the exception flag if present.
func readPDUData(ctx context.Context, t Transport, fn FunctionCode, kind frameKind) ([]byte, error) {
	if fn.IsException() {
		buf := make([]byte, 1)
		if err := t.Read(ctx, buf, 1); err != nil {
			return nil, err
		}
		return buf, nil
	}
	plain := fn.Plain()
	if n, ok := pduDataLen(plain, kind); ok {
		buf := make([]byte, n)
		if err := t.Read(ctx, buf, n); err != nil {
			return nil, err
		}
		return buf, nil
	}
	switch plain {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		// response: byte count, then that many bytes.
		return readByteCountPrefixed(ctx, t, 0)
	case WriteMultipleCoils, WriteMultipleHoldingRegisters:
		// request: address(2)+quantity(2), then byte count, then that many bytes.
		return readByteCountPrefixed(ctx, t, 4)
	}
	if shape, ok := frameShapeFor(ctx, plain); ok {
		return readCustomShape(ctx, t, shape)
	}
	return nil, ErrUnsupported
}

// readByteCountPrefixed reads headLen fixed bytes, then a one-byte count,
// then that many further bytes, returning all of it concatenated.
func readByteCountPrefixed(ctx context.Context, t Transport, headLen int) ([]byte, error) {
	head := make([]byte, headLen+1)
	if err := t.Read(ctx, head, len(head)); err != nil {
		return nil, err
	}
	count := int(head[headLen])
	rest := make([]byte, count)
	if count > 0 {
		if err := t.Read(ctx, rest, count); err != nil {
			return nil, err
		}
	}
	return append(head, rest...), nil
}
