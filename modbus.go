// Package modbus implements the Modbus application protocol client and
// server over RTU, ASCII and TCP framing, sharing one request/response
// state machine and a pluggable memory-area store on the server side.
package modbus

import (
	"errors"
	"fmt"
)

// Protocol identifies the wire framing used by a Client or Server.
type Protocol byte

const (
	// RTU frames requests as station|function|data|crc16, timed on a serial bus.
	RTU Protocol = iota
	// ASCII frames requests as hex-encoded bytes with a trailing LRC, delimited by CR LF.
	ASCII
	// TCP frames requests with a 7 byte MBAP header.
	TCP
)

func (p Protocol) String() string {
	switch p {
	case RTU:
		return "RTU"
	case ASCII:
		return "ASCII"
	case TCP:
		return "TCP"
	default:
		return fmt.Sprintf("Protocol(%d)", byte(p))
	}
}

// FunctionCode is the Modbus PDU function selector. Recognized codes are
// declared as constants below; unrecognized values are preserved as-is so
// callers can register handlers for their own private/extension codes.
type FunctionCode byte

// Recognized function codes (spec §3).
const (
	ReadCoils                     FunctionCode = 1
	ReadDiscreteInputs            FunctionCode = 2
	ReadHoldingRegisters          FunctionCode = 3
	ReadInputRegisters            FunctionCode = 4
	WriteSingleCoil               FunctionCode = 5
	WriteSingleHoldingRegister    FunctionCode = 6
	WriteMultipleCoils            FunctionCode = 15
	WriteMultipleHoldingRegisters FunctionCode = 16
)

// exceptionFlag marks a response function code as carrying an exception.
const exceptionFlag FunctionCode = 0x80

// IsException reports whether fc carries the top-bit exception marker.
func (fc FunctionCode) IsException() bool {
	return fc&exceptionFlag != 0
}

// Plain strips the exception marker, recovering the original request code.
func (fc FunctionCode) Plain() FunctionCode {
	return fc &^ exceptionFlag
}

func (fc FunctionCode) String() string {
	switch fc.Plain() {
	case ReadCoils:
		return "ReadCoils"
	case ReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case ReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case ReadInputRegisters:
		return "ReadInputRegisters"
	case WriteSingleCoil:
		return "WriteSingleCoil"
	case WriteSingleHoldingRegister:
		return "WriteSingleHoldingRegister"
	case WriteMultipleCoils:
		return "WriteMultipleCoils"
	case WriteMultipleHoldingRegisters:
		return "WriteMultipleHoldingRegisters"
	default:
		return fmt.Sprintf("FunctionCode(%d)", byte(fc))
	}
}

// MemoryType identifies one of the four Modbus addressable item kinds.
type MemoryType byte

const (
	Coils MemoryType = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

// IsBitType reports whether items of t are single bits, as opposed to
// 16 bit registers.
func (t MemoryType) IsBitType() bool {
	return t == Coils || t == DiscreteInputs
}

func (t MemoryType) String() string {
	switch t {
	case Coils:
		return "Coils"
	case DiscreteInputs:
		return "DiscreteInputs"
	case HoldingRegisters:
		return "HoldingRegisters"
	case InputRegisters:
		return "InputRegisters"
	default:
		return fmt.Sprintf("MemoryType(%d)", byte(t))
	}
}

// Exception is a Modbus exception code, returned by a server in an
// exception response and carried by Failure on the client side.
type Exception byte

// Recognized exception codes (spec §3).
const (
	NoException                        Exception = 0
	IllegalFunction                    Exception = 1
	IllegalDataAddress                 Exception = 2
	IllegalDataValue                   Exception = 3
	ServerDeviceFailure                Exception = 4
	Acknowledge                        Exception = 5
	ServerDeviceBusy                   Exception = 6
	NegativeAcknowledge                Exception = 7
	MemoryParityError                  Exception = 8
	GatewayPathUnavailable             Exception = 10
	GatewayTargetDeviceFailedToRespond Exception = 11
)

// Error implements the builtin error interface, returning a human readable
// description of the exception.
func (ex Exception) Error() string {
	prefix := "modbus: exception - "
	switch ex {
	case NoException:
		return prefix + "none"
	case IllegalFunction:
		return prefix + "illegal function"
	case IllegalDataAddress:
		return prefix + "illegal data address"
	case IllegalDataValue:
		return prefix + "illegal data value"
	case ServerDeviceFailure:
		return prefix + "server device failure"
	case Acknowledge:
		return prefix + "acknowledge"
	case ServerDeviceBusy:
		return prefix + "server device busy"
	case NegativeAcknowledge:
		return prefix + "negative acknowledge"
	case MemoryParityError:
		return prefix + "memory parity error"
	case GatewayPathUnavailable:
		return prefix + "gateway path unavailable"
	case GatewayTargetDeviceFailedToRespond:
		return prefix + "gateway target device failed to respond"
	default:
		return prefix + fmt.Sprintf("code %d", byte(ex))
	}
}

// Failure wraps a remote Exception carried by a well-formed exception
// response. Use errors.As to recover it from a failed client call.
type Failure struct {
	Exception Exception
}

func (f *Failure) Error() string {
	return f.Exception.Error()
}

// Broadcast is the station address reserved for "write, do not await a
// response" semantics (spec §4.2, §4.4).
const Broadcast = 0

// Sentinel errors surfaced to callers (spec §7). None of these carry a
// remote Exception; use Failure/errors.As for that.
var (
	// ErrInvalidArgument signals a nil required argument, a broadcast
	// read, or another illegal local argument combination.
	ErrInvalidArgument = errors.New("modbus: invalid argument")
	// ErrInvalidSize signals that a caller-supplied buffer is too small
	// for the request or response it must hold.
	ErrInvalidSize = errors.New("modbus: invalid size")
	// ErrTimeout signals that no response arrived within the configured
	// read timeout, or that the transport itself timed out reading.
	ErrTimeout = errors.New("modbus: timeout")
	// ErrInvalidCrc signals an RTU CRC-16 mismatch.
	ErrInvalidCrc = errors.New("modbus: invalid crc")
	// ErrInvalidChecksum signals an ASCII LRC mismatch.
	ErrInvalidChecksum = errors.New("modbus: invalid checksum")
	// ErrInvalidResponse signals a structural response error: wrong
	// function/station echo, wrong write echo, a bad MBAP header, or an
	// impossible length field.
	ErrInvalidResponse = errors.New("modbus: invalid response")
	// ErrUnsupported signals a function code unknown at this layer.
	ErrUnsupported = errors.New("modbus: unsupported function code")
	// ErrTransportClosed signals that the underlying transport is no
	// longer usable.
	ErrTransportClosed = errors.New("modbus: transport closed")
)

// Per-function item limits (spec §3).
const (
	maxReadBits       = 2000
	maxWriteBits      = 1968
	maxReadRegisters  = 125
	maxWriteRegisters = 123
)

// maxItems returns the per-function item limit for fc, and whether fc is
// one of the functions with a splittable item count.
func maxItems(fc FunctionCode) (limit uint16, ok bool) {
	switch fc {
	case ReadCoils, ReadDiscreteInputs:
		return maxReadBits, true
	case ReadHoldingRegisters, ReadInputRegisters:
		return maxReadRegisters, true
	case WriteMultipleCoils:
		return maxWriteBits, true
	case WriteMultipleHoldingRegisters:
		return maxWriteRegisters, true
	}
	return 0, false
}
