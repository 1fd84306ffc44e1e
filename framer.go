package modbus

import (
	"context"
	"time"
)

// Frame is one decoded application-layer message: a station address (TCP
// carries none on the wire, so the decoder fills in the unit identifier
// from the MBAP header instead), a function code and the PDU payload that
// follows it. TransactionID is only meaningful for TCP, where the core
// uses it to match a response to its request; RTU and ASCII leave it
// zero.
type Frame struct {
	Station       byte
	Function      FunctionCode
	Data          []byte
	TransactionID uint16
}

// frameKind tells the RTU/ASCII decoder whether it is parsing a request or
// a response PDU, since neither framing carries an explicit length field:
// the number of bytes that follow the function code is determined by the
// function code itself and by which side of the exchange is being parsed
// (e.g. a read-holding-registers request is 4 fixed bytes, its response is
// a byte count followed by that many bytes). TCP ignores kind entirely,
// since the MBAP header already states the PDU length.
type frameKind int

const (
	kindRequest frameKind = iota
	kindResponse
)

// Framer reads and writes whole Frames over a Transport, hiding the wire
// differences between RTU, ASCII and TCP framing from the rest of the
// core (spec §4.1). ReadFrame and WriteFrame do not acquire the
// transport's scoped lock themselves; the caller holds it around each
// call (Server does so per call, Client holds it across a write and its
// matching read).
type Framer interface {
	// ReadFrame blocks for one complete, structurally validated frame of
	// the given kind. Once the frame's bytes are read it waits
	// delayAfterRead, enforcing inter-character/turnaround quiet time on
	// serial links, before returning: RTU waits after reading the CRC and
	// before checking it, ASCII waits after its LRC check has passed. A
	// zero delayAfterRead waits not at all. TCP framing
	// ignores delayAfterRead entirely (spec §6: "Ignored for TCP" -- MBAP
	// framing carries its own explicit length and has no serial turnaround
	// to protect).
	ReadFrame(ctx context.Context, t Transport, kind frameKind, delayAfterRead time.Duration) (Frame, error)
	// WriteFrame encodes and writes f.
	WriteFrame(ctx context.Context, t Transport, f Frame) error
}

// framerFor returns the Framer for protocol p, or nil if p is not
// recognized.
func framerFor(p Protocol) Framer {
	switch p {
	case RTU:
		return rtuFramer{}
	case ASCII:
		return asciiFramer{}
	case TCP:
		return tcpFramer{}
	default:
		return nil
	}
}
