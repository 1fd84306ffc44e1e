package modbus

import (
	"context"
	"sync/atomic"
)

// Client is a Modbus master bound to one Transport and one Protocol.
// Generally the intended use is:
//
//	t, _ := modbus.DialTCP(ctx, "localhost:502")
//	c := modbus.NewClient(modbus.Config{Protocol: modbus.TCP}, t)
//	defer c.Close()
//	values, err := c.ReadHoldingRegisters(ctx, 1, 0, 10)
type Client struct {
	Config
	Transport Transport
	framer    Framer
	mu        mutex
	nextTxID  uint32
}

// NewClient returns a Client using t for all requests.
func NewClient(cfg Config, t Transport) *Client {
	return &Client{
		Config:    cfg,
		Transport: t,
		framer:    framerFor(cfg.Protocol),
		mu:        newMutex(),
	}
}

// Close releases the client's transport.
func (c *Client) Close() error {
	return c.Transport.Close()
}

// Command sends one request PDU to station and returns the response PDU,
// or a *Failure if the server answered with an exception (spec §4.2,
// §4.4). station == Broadcast writes the request and returns immediately
// without awaiting a response. Command acquires the instance lock, then
// the transport lock, matching the lock order of spec §5.
func (c *Client) Command(ctx context.Context, station byte, fc FunctionCode, data []byte) ([]byte, error) {
	if c.framer == nil {
		return nil, ErrInvalidArgument
	}
	if fc == 0 || fc.IsException() {
		return nil, ErrInvalidArgument
	}
	if err := c.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer c.mu.unlock()

	if err := c.Transport.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.Transport.Unlock()

	c.Transport.SetReadTimeout(c.Config.readTimeout())
	// Drop stale unread bytes from a previous, abandoned exchange before
	// starting a new one (spec §4.4 framing-desync guard).
	if c.Transport.ReadableBytes() > 0 {
		c.Transport.FlushInbound(-1)
	}

	txID := uint16(atomic.AddUint32(&c.nextTxID, 1))
	req := Frame{Station: station, Function: fc, Data: data, TransactionID: txID}
	if err := c.framer.WriteFrame(ctx, c.Transport, req); err != nil {
		return nil, err
	}
	if station == Broadcast {
		return nil, nil
	}

	for {
		resp, err := c.framer.ReadFrame(ctx, c.Transport, kindResponse, c.DelayAfterRead)
		if err != nil {
			return nil, err
		}
		if c.Protocol == TCP && resp.TransactionID != txID {
			continue
		}
		if resp.Station != station || resp.Function.Plain() != fc {
			return nil, ErrInvalidResponse
		}
		if resp.Function.IsException() {
			if len(resp.Data) != 1 {
				return nil, ErrInvalidResponse
			}
			return nil, &Failure{Exception: Exception(resp.Data[0])}
		}
		return resp.Data, nil
	}
}

// ReadCoils requests quantity (at least 1) contiguous coil states starting
// at address, splitting the request across multiple transactions if
// quantity exceeds the per-request limit of 2000.
func (c *Client) ReadCoils(ctx context.Context, station byte, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, station, ReadCoils, address, quantity)
}

// ReadDiscreteInputs requests quantity (at least 1) contiguous discrete
// inputs starting at address, split into requests of at most 2000.
func (c *Client) ReadDiscreteInputs(ctx context.Context, station byte, address, quantity uint16) ([]bool, error) {
	return c.readBits(ctx, station, ReadDiscreteInputs, address, quantity)
}

func (c *Client) readBits(ctx context.Context, station byte, fc FunctionCode, address, quantity uint16) ([]bool, error) {
	if station == Broadcast || quantity < 1 || uint32(address)+uint32(quantity) > 0x10000 {
		return nil, ErrInvalidArgument
	}
	out := make([]bool, 0, quantity)
	err := splitRange(address, quantity, maxReadBits, func(addr, qty, _ uint16) error {
		data := make([]byte, 4)
		putUint16(data[0:2], addr)
		putUint16(data[2:4], qty)
		res, err := c.Command(ctx, station, fc, data)
		if err != nil {
			return err
		}
		if len(res) < 1 || int(res[0]) != len(res)-1 {
			return ErrInvalidResponse
		}
		out = append(out, unpackBits(qty, res[1:])...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadHoldingRegisters reads quantity (at least 1) contiguous holding
// registers starting at address, split into requests of at most 125,
// returning 2*quantity bytes.
func (c *Client) ReadHoldingRegisters(ctx context.Context, station byte, address, quantity uint16) ([]byte, error) {
	return c.readRegisters(ctx, station, ReadHoldingRegisters, address, quantity)
}

// ReadInputRegisters reads quantity (at least 1) contiguous input registers
// starting at address, split into requests of at most 125, returning
// 2*quantity bytes.
func (c *Client) ReadInputRegisters(ctx context.Context, station byte, address, quantity uint16) ([]byte, error) {
	return c.readRegisters(ctx, station, ReadInputRegisters, address, quantity)
}

func (c *Client) readRegisters(ctx context.Context, station byte, fc FunctionCode, address, quantity uint16) ([]byte, error) {
	if station == Broadcast || quantity < 1 || uint32(address)+uint32(quantity) > 0x10000 {
		return nil, ErrInvalidArgument
	}
	out := make([]byte, 0, int(quantity)*2)
	err := splitRange(address, quantity, maxReadRegisters, func(addr, qty, _ uint16) error {
		data := make([]byte, 4)
		putUint16(data[0:2], addr)
		putUint16(data[2:4], qty)
		res, err := c.Command(ctx, station, fc, data)
		if err != nil {
			return err
		}
		if len(res) != 1+int(qty)*2 || int(res[0]) != len(res)-1 {
			return ErrInvalidResponse
		}
		out = append(out, res[1:]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteSingleCoil sets the coil at address to value. Broadcast writes
// (station == Broadcast) are validated identically to any other write but
// return immediately without a response (spec §4.4, §9).
func (c *Client) WriteSingleCoil(ctx context.Context, station byte, address uint16, value bool) error {
	data := make([]byte, 4)
	putUint16(data[0:2], address)
	if value {
		putUint16(data[2:4], 0xFF00)
	}
	res, err := c.Command(ctx, station, WriteSingleCoil, data)
	if err != nil || station == Broadcast {
		return err
	}
	if len(res) != 4 || getUint16(res[0:2]) != address {
		return ErrInvalidResponse
	}
	return nil
}

// WriteSingleHoldingRegister writes value to the holding register at
// address.
func (c *Client) WriteSingleHoldingRegister(ctx context.Context, station byte, address, value uint16) error {
	data := make([]byte, 4)
	putUint16(data[0:2], address)
	putUint16(data[2:4], value)
	res, err := c.Command(ctx, station, WriteSingleHoldingRegister, data)
	if err != nil || station == Broadcast {
		return err
	}
	if len(res) != 4 || getUint16(res[0:2]) != address || getUint16(res[2:4]) != value {
		return ErrInvalidResponse
	}
	return nil
}

// WriteMultipleCoils sets the coils starting at address to values (at
// least 1 of them), splitting into transactions of at most 1968 coils.
func (c *Client) WriteMultipleCoils(ctx context.Context, station byte, address uint16, values []bool) error {
	quantity := uint16(len(values))
	if quantity < 1 || uint32(address)+uint32(quantity) > 0x10000 {
		return ErrInvalidArgument
	}
	return splitRange(address, quantity, maxWriteBits, func(addr, qty, offset uint16) error {
		chunk := values[offset : offset+qty]
		packed := packBits(chunk)
		data := make([]byte, 5+len(packed))
		putUint16(data[0:2], addr)
		putUint16(data[2:4], qty)
		data[4] = byte(len(packed))
		copy(data[5:], packed)
		res, err := c.Command(ctx, station, WriteMultipleCoils, data)
		if err != nil || station == Broadcast {
			return err
		}
		if len(res) != 4 || getUint16(res[0:2]) != addr || getUint16(res[2:4]) != qty {
			return ErrInvalidResponse
		}
		return nil
	})
}

// WriteMultipleHoldingRegisters writes values (a whole number of
// big-endian registers, at least 1 of them) to the holding registers
// starting at address, splitting into transactions of at most 123
// registers.
func (c *Client) WriteMultipleHoldingRegisters(ctx context.Context, station byte, address uint16, values []byte) error {
	if len(values)%2 != 0 {
		return ErrInvalidArgument
	}
	quantity := uint16(len(values) / 2)
	if quantity < 1 || uint32(address)+uint32(quantity) > 0x10000 {
		return ErrInvalidArgument
	}
	return splitRange(address, quantity, maxWriteRegisters, func(addr, qty, offset uint16) error {
		chunk := values[offset*2 : (offset+qty)*2]
		data := make([]byte, 5+len(chunk))
		putUint16(data[0:2], addr)
		putUint16(data[2:4], qty)
		data[4] = byte(len(chunk))
		copy(data[5:], chunk)
		res, err := c.Command(ctx, station, WriteMultipleHoldingRegisters, data)
		if err != nil || station == Broadcast {
			return err
		}
		if len(res) != 4 || getUint16(res[0:2]) != addr || getUint16(res[2:4]) != qty {
			return ErrInvalidResponse
		}
		return nil
	})
}
