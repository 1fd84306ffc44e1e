package modbus

import "context"

// FrameShape tells the RTU/ASCII Frame Codec how many PDU data bytes follow
// a function code it does not recognize natively, so a caller can register
// private/extension function codes (100-127, spec §4.2, §9 "Custom function
// codes") without the codec needing to know about them ahead of time. TCP
// never needs this: its MBAP length field makes the PDU length explicit.
type FrameShape struct {
	// ByteCountAt, when >= 0, is the number of fixed bytes that precede a
	// one-byte count field; the codec reads ByteCountAt bytes, then the
	// count byte, then that many further bytes (the shape every
	// write-multiple-style function uses). A negative value means the PDU
	// has no count byte at all.
	ByteCountAt int
	// Fixed is the number of trailing data bytes to read verbatim, used
	// when ByteCountAt < 0.
	Fixed int
}

type frameShapeKey struct{}

// WithFrameShapes attaches a set of custom FrameShapes to ctx, keyed by
// plain (exception-bit-cleared) function code, for the RTU and ASCII
// framers to consult while decoding. Pass the returned context to
// Client.Command or Server.ServeTransport. A nil or absent set is
// equivalent to registering nothing.
func WithFrameShapes(ctx context.Context, shapes map[FunctionCode]FrameShape) context.Context {
	return context.WithValue(ctx, frameShapeKey{}, shapes)
}

func frameShapeFor(ctx context.Context, fc FunctionCode) (FrameShape, bool) {
	shapes, _ := ctx.Value(frameShapeKey{}).(map[FunctionCode]FrameShape)
	if shapes == nil {
		return FrameShape{}, false
	}
	shape, ok := shapes[fc]
	return shape, ok
}

// readCustomShape reads a PDU data payload off t according to shape, for use
// by the RTU framer once it has found no built-in handling for a function
// code.
func readCustomShape(ctx context.Context, t Transport, shape FrameShape) ([]byte, error) {
	if shape.ByteCountAt < 0 {
		buf := make([]byte, shape.Fixed)
		if len(buf) > 0 {
			if err := t.Read(ctx, buf, len(buf)); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
	return readByteCountPrefixed(ctx, t, shape.ByteCountAt)
}

// readCustomShapeASCII mirrors readCustomShape for the ASCII framer, whose
// bytes travel the wire as hex character pairs.
func readCustomShapeASCII(ctx context.Context, t Transport, shape FrameShape) ([]byte, error) {
	if shape.ByteCountAt < 0 {
		buf := make([]byte, shape.Fixed*2)
		if len(buf) > 0 {
			if err := t.Read(ctx, buf, len(buf)); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
	return readASCIIByteCountPrefixed(ctx, t, shape.ByteCountAt)
}
