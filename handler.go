package modbus

import "context"

// Handler dispatches one decoded request PDU (data, the bytes that follow
// the function code) for function code fc and returns the response PDU or
// an Exception (spec §4.2). Server calls Handle for every accepted frame.
//
// after, returned alongside a successful write, is invoked once the
// response frame built from (res, ex) has actually been written to the
// transport -- never before, and never while any memory-area lock from
// performing the write is still held (spec §4.2: "invoke onWrite ... after
// the response frame is sent"). after is nil for reads, for any response
// carrying a non-NoException ex, and whenever there is simply nothing to
// run afterward.
type Handler interface {
	Handle(ctx context.Context, fc FunctionCode, data []byte) (res []byte, ex Exception, after func())
}

// Mux is a Handler that dispatches the recognized function codes 1-6, 15
// and 16 (spec §3) to per-function callbacks, falling back to Fallback for
// anything else --
// including the custom 100-127 range reserved for private extensions. A
// nil callback for a recognized function code yields IllegalFunction.
// Every callback must be safe for concurrent use; the server may run
// several at once across different connections. The write callbacks return
// an optional after func, deferred by the server until its response has
// been sent (see Handler).
type Mux struct {
	Fallback                      func(ctx context.Context, fc FunctionCode, data []byte) (res []byte, ex Exception, after func())
	ReadCoils                     func(ctx context.Context, address, quantity uint16) ([]bool, Exception)
	ReadDiscreteInputs            func(ctx context.Context, address, quantity uint16) ([]bool, Exception)
	ReadHoldingRegisters          func(ctx context.Context, address, quantity uint16) ([]byte, Exception)
	ReadInputRegisters            func(ctx context.Context, address, quantity uint16) ([]byte, Exception)
	WriteSingleCoil               func(ctx context.Context, address uint16, value bool) (Exception, func())
	WriteSingleHoldingRegister    func(ctx context.Context, address, value uint16) (Exception, func())
	WriteMultipleCoils            func(ctx context.Context, address uint16, values []bool) (Exception, func())
	WriteMultipleHoldingRegisters func(ctx context.Context, address uint16, data []byte) (Exception, func())
}

var _ Handler = (*Mux)(nil)

// Handle implements Handler.
func (m *Mux) Handle(ctx context.Context, fc FunctionCode, data []byte) (res []byte, ex Exception, after func()) {
	switch fc {
	case ReadCoils:
		res, ex = m.readBits(ctx, data, m.ReadCoils)
		return res, ex, nil
	case ReadDiscreteInputs:
		res, ex = m.readBits(ctx, data, m.ReadDiscreteInputs)
		return res, ex, nil
	case ReadHoldingRegisters:
		res, ex = m.readRegisters(ctx, data, m.ReadHoldingRegisters)
		return res, ex, nil
	case ReadInputRegisters:
		res, ex = m.readRegisters(ctx, data, m.ReadInputRegisters)
		return res, ex, nil
	case WriteSingleCoil:
		return m.writeSingleCoil(ctx, data)
	case WriteSingleHoldingRegister:
		return m.writeSingleHoldingRegister(ctx, data)
	case WriteMultipleCoils:
		return m.writeMultipleCoils(ctx, data)
	case WriteMultipleHoldingRegisters:
		return m.writeMultipleHoldingRegisters(ctx, data)
	}
	if m.Fallback == nil {
		return nil, IllegalFunction, nil
	}
	return m.Fallback(ctx, fc, data)
}

func (m *Mux) readBits(ctx context.Context, data []byte, fn func(context.Context, uint16, uint16) ([]bool, Exception)) ([]byte, Exception) {
	if fn == nil {
		return nil, IllegalFunction
	}
	if len(data) != 4 {
		return nil, IllegalDataValue
	}
	address := getUint16(data[0:2])
	quantity := getUint16(data[2:4])
	if quantity < 1 || quantity > maxReadBits {
		return nil, IllegalDataValue
	}
	if uint32(address)+uint32(quantity) > 0x10000 {
		return nil, IllegalDataAddress
	}
	values, ex := fn(ctx, address, quantity)
	if ex != NoException {
		return nil, ex
	}
	if len(values) != int(quantity) {
		return nil, ServerDeviceFailure
	}
	packed := packBits(values)
	return append([]byte{byte(len(packed))}, packed...), NoException
}

func (m *Mux) readRegisters(ctx context.Context, data []byte, fn func(context.Context, uint16, uint16) ([]byte, Exception)) ([]byte, Exception) {
	if fn == nil {
		return nil, IllegalFunction
	}
	if len(data) != 4 {
		return nil, IllegalDataValue
	}
	address := getUint16(data[0:2])
	quantity := getUint16(data[2:4])
	if quantity < 1 || quantity > maxReadRegisters {
		return nil, IllegalDataValue
	}
	if uint32(address)+uint32(quantity) > 0x10000 {
		return nil, IllegalDataAddress
	}
	values, ex := fn(ctx, address, quantity)
	if ex != NoException {
		return nil, ex
	}
	if len(values) != int(quantity)*2 {
		return nil, ServerDeviceFailure
	}
	return append([]byte{byte(len(values))}, values...), NoException
}

func (m *Mux) writeSingleCoil(ctx context.Context, data []byte) ([]byte, Exception, func()) {
	if m.WriteSingleCoil == nil {
		return nil, IllegalFunction, nil
	}
	if len(data) != 4 {
		return nil, IllegalDataValue, nil
	}
	address := getUint16(data[0:2])
	var value bool
	switch getUint16(data[2:4]) {
	case 0x0000:
	case 0xFF00:
		value = true
	default:
		return nil, IllegalDataValue, nil
	}
	ex, after := m.WriteSingleCoil(ctx, address, value)
	if ex != NoException {
		return nil, ex, nil
	}
	return data, NoException, after
}

func (m *Mux) writeSingleHoldingRegister(ctx context.Context, data []byte) ([]byte, Exception, func()) {
	if m.WriteSingleHoldingRegister == nil {
		return nil, IllegalFunction, nil
	}
	if len(data) != 4 {
		return nil, IllegalDataValue, nil
	}
	address := getUint16(data[0:2])
	value := getUint16(data[2:4])
	ex, after := m.WriteSingleHoldingRegister(ctx, address, value)
	if ex != NoException {
		return nil, ex, nil
	}
	return data, NoException, after
}

func (m *Mux) writeMultipleCoils(ctx context.Context, data []byte) ([]byte, Exception, func()) {
	if m.WriteMultipleCoils == nil {
		return nil, IllegalFunction, nil
	}
	if len(data) < 5 {
		return nil, IllegalDataValue, nil
	}
	address := getUint16(data[0:2])
	quantity := getUint16(data[2:4])
	count := int(data[4])
	switch {
	case len(data[5:]) != count:
		return nil, IllegalDataValue, nil
	case quantity < 1 || quantity > maxWriteBits || count != byteCount(quantity):
		return nil, IllegalDataValue, nil
	case uint32(address)+uint32(quantity) > 0x10000:
		return nil, IllegalDataAddress, nil
	}
	values := unpackBits(quantity, data[5:])
	ex, after := m.WriteMultipleCoils(ctx, address, values)
	if ex != NoException {
		return nil, ex, nil
	}
	return data[:4], NoException, after
}

func (m *Mux) writeMultipleHoldingRegisters(ctx context.Context, data []byte) ([]byte, Exception, func()) {
	if m.WriteMultipleHoldingRegisters == nil {
		return nil, IllegalFunction, nil
	}
	if len(data) < 5 {
		return nil, IllegalDataValue, nil
	}
	address := getUint16(data[0:2])
	quantity := getUint16(data[2:4])
	count := int(data[4])
	switch {
	case len(data[5:]) != count:
		return nil, IllegalDataValue, nil
	case quantity < 1 || quantity > maxWriteRegisters || count != int(quantity)*2:
		return nil, IllegalDataValue, nil
	case uint32(address)+uint32(quantity) > 0x10000:
		return nil, IllegalDataAddress, nil
	}
	ex, after := m.WriteMultipleHoldingRegisters(ctx, address, data[5:])
	if ex != NoException {
		return nil, ex, nil
	}
	return data[:4], NoException, after
}

// NewStoreMux returns a Mux whose callbacks read and write store, so a
// Server can be handed a Store directly without writing per-function glue
// (spec §4.3). OnRead hooks fire before a read is copied out, and --
// preserving rather than silently changing the behavior this was modeled
// on (spec §9) -- before a write is applied too. OnWrite hooks fire later,
// via the returned after func, once the server has sent its response.
func NewStoreMux(store *Store) *Mux {
	m := &Mux{}
	m.ReadCoils = storeReadBits(store, Coils)
	m.ReadDiscreteInputs = storeReadBits(store, DiscreteInputs)
	m.ReadHoldingRegisters = storeReadRegisters(store, HoldingRegisters)
	m.ReadInputRegisters = storeReadRegisters(store, InputRegisters)
	m.WriteSingleCoil = func(ctx context.Context, address uint16, value bool) (Exception, func()) {
		return storeWriteBits(ctx, store, Coils, address, []bool{value})
	}
	m.WriteMultipleCoils = func(ctx context.Context, address uint16, values []bool) (Exception, func()) {
		return storeWriteBits(ctx, store, Coils, address, values)
	}
	m.WriteSingleHoldingRegister = func(ctx context.Context, address, value uint16) (Exception, func()) {
		buf := make([]byte, 2)
		putUint16(buf, value)
		return storeWriteRegisters(ctx, store, HoldingRegisters, address, buf)
	}
	m.WriteMultipleHoldingRegisters = func(ctx context.Context, address uint16, data []byte) (Exception, func()) {
		return storeWriteRegisters(ctx, store, HoldingRegisters, address, data)
	}
	return m
}

func storeReadBits(store *Store, typ MemoryType) func(context.Context, uint16, uint16) ([]bool, Exception) {
	return func(ctx context.Context, address, quantity uint16) ([]bool, Exception) {
		area := store.Find(typ, address, quantity)
		if area == nil {
			return nil, IllegalDataAddress
		}
		if err := area.lock(ctx); err != nil {
			return nil, ServerDeviceBusy
		}
		defer area.unlock()
		area.runOnRead()
		return area.readBits(address, quantity), NoException
	}
}

func storeReadRegisters(store *Store, typ MemoryType) func(context.Context, uint16, uint16) ([]byte, Exception) {
	return func(ctx context.Context, address, quantity uint16) ([]byte, Exception) {
		area := store.Find(typ, address, quantity)
		if area == nil {
			return nil, IllegalDataAddress
		}
		if err := area.lock(ctx); err != nil {
			return nil, ServerDeviceBusy
		}
		defer area.unlock()
		area.runOnRead()
		return area.readRegisters(address, quantity), NoException
	}
}

// storeWriteBits performs the write and releases the area's lock before
// returning, handing back a standalone after func that runs the area's
// OnWrite hook once the caller (the server) has sent its response. The
// lock must not still be held at that point: by then the server has gone
// on to acquire the transport lock to write the response, and the lock
// order of spec §5 (instance -> transport -> data region -> memory area)
// forbids reacquiring an outer lock while an inner one -- the area's -- is
// still held.
func storeWriteBits(ctx context.Context, store *Store, typ MemoryType, address uint16, values []bool) (Exception, func()) {
	area := store.Find(typ, address, uint16(len(values)))
	if area == nil {
		return IllegalDataAddress, nil
	}
	if err := area.lock(ctx); err != nil {
		return ServerDeviceBusy, nil
	}
	area.runOnRead()
	area.writeBits(address, values)
	area.unlock()
	return NoException, area.runOnWrite
}

// storeWriteRegisters mirrors storeWriteBits for register-typed areas.
func storeWriteRegisters(ctx context.Context, store *Store, typ MemoryType, address uint16, data []byte) (Exception, func()) {
	quantity := uint16(len(data) / 2)
	area := store.Find(typ, address, quantity)
	if area == nil {
		return IllegalDataAddress, nil
	}
	if err := area.lock(ctx); err != nil {
		return ServerDeviceBusy, nil
	}
	area.runOnRead()
	area.writeRegisters(address, data)
	area.unlock()
	return NoException, area.runOnWrite
}
