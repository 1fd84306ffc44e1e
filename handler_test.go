package modbus

import (
	"context"
	"reflect"
	"testing"
)

func newTestStore() *Store {
	store := NewStore()
	store.Add(NewMemoryArea(Coils, 0, make([]byte, 32), Hooks{}))
	store.Add(NewMemoryArea(HoldingRegisters, 0, make([]byte, 256), Hooks{}))
	return store
}

func TestMuxReadWriteHoldingRegisters(t *testing.T) {
	store := newTestStore()
	mux := NewStoreMux(store)
	ctx := context.Background()

	data := make([]byte, 4)
	putUint16(data[0:2], 10)
	putUint16(data[2:4], 0x1234)
	res, ex, after := mux.Handle(ctx, WriteSingleHoldingRegister, data)
	if ex != NoException || !reflect.DeepEqual(res, data) {
		t.Fatalf("WriteSingleHoldingRegister = %v, %v", res, ex)
	}
	if after != nil {
		after()
	}

	req := make([]byte, 4)
	putUint16(req[0:2], 10)
	putUint16(req[2:4], 1)
	res, ex, _ = mux.Handle(ctx, ReadHoldingRegisters, req)
	if ex != NoException {
		t.Fatalf("ReadHoldingRegisters exception: %v", ex)
	}
	want := []byte{0x02, 0x12, 0x34}
	if !reflect.DeepEqual(res, want) {
		t.Errorf("ReadHoldingRegisters response = %v, want %v", res, want)
	}
}

func TestMuxWriteMultipleCoils(t *testing.T) {
	store := newTestStore()
	mux := NewStoreMux(store)
	ctx := context.Background()

	req := []byte{0x00, 0x00, 0x00, 0x0A, 0x02, 0xCD, 0x01}
	res, ex, after := mux.Handle(ctx, WriteMultipleCoils, req)
	if ex != NoException {
		t.Fatalf("WriteMultipleCoils exception: %v", ex)
	}
	if want := req[:4]; !reflect.DeepEqual(res, want) {
		t.Errorf("WriteMultipleCoils response = %v, want %v", res, want)
	}
	if after != nil {
		after()
	}

	readReq := []byte{0x00, 0x00, 0x00, 0x0A}
	readRes, ex, _ := mux.Handle(ctx, ReadCoils, readReq)
	if ex != NoException {
		t.Fatalf("ReadCoils exception: %v", ex)
	}
	want := []byte{0x02, 0xCD, 0x01}
	if !reflect.DeepEqual(readRes, want) {
		t.Errorf("ReadCoils response = %v, want %v", readRes, want)
	}
}

func TestMuxIllegalDataAddress(t *testing.T) {
	store := newTestStore()
	mux := NewStoreMux(store)
	ctx := context.Background()
	req := make([]byte, 4)
	putUint16(req[0:2], 9000)
	putUint16(req[2:4], 1)
	if _, ex, _ := mux.Handle(ctx, ReadHoldingRegisters, req); ex != IllegalDataAddress {
		t.Errorf("out-of-range read = %v, want IllegalDataAddress", ex)
	}
}

func TestMuxIllegalDataValue(t *testing.T) {
	store := newTestStore()
	mux := NewStoreMux(store)
	ctx := context.Background()
	req := make([]byte, 4)
	putUint16(req[0:2], 0)
	putUint16(req[2:4], 0) // quantity 0 is invalid
	if _, ex, _ := mux.Handle(ctx, ReadHoldingRegisters, req); ex != IllegalDataValue {
		t.Errorf("zero quantity read = %v, want IllegalDataValue", ex)
	}
}

func TestMuxWriteSingleCoilBadValue(t *testing.T) {
	store := newTestStore()
	mux := NewStoreMux(store)
	ctx := context.Background()
	data := make([]byte, 4)
	putUint16(data[0:2], 0)
	putUint16(data[2:4], 0x1234) // neither 0x0000 nor 0xFF00
	if _, ex, _ := mux.Handle(ctx, WriteSingleCoil, data); ex != IllegalDataValue {
		t.Errorf("invalid coil value = %v, want IllegalDataValue", ex)
	}
}

func TestMuxUnregisteredFunctionFallback(t *testing.T) {
	store := newTestStore()
	mux := NewStoreMux(store)
	ctx := context.Background()

	if _, ex, _ := mux.Handle(ctx, FunctionCode(100), []byte{1, 2, 3}); ex != IllegalFunction {
		t.Errorf("unregistered custom function without Fallback = %v, want IllegalFunction", ex)
	}

	called := false
	mux.Fallback = func(ctx context.Context, fc FunctionCode, data []byte) ([]byte, Exception, func()) {
		called = true
		return []byte{0x01}, NoException, nil
	}
	if res, ex, _ := mux.Handle(ctx, FunctionCode(100), []byte{1, 2, 3}); ex != NoException || !called || !reflect.DeepEqual(res, []byte{0x01}) {
		t.Errorf("Fallback not invoked correctly: res=%v ex=%v called=%v", res, ex, called)
	}
}

// TestMuxOnReadBeforeWrite checks that OnRead fires synchronously during
// Handle (to validate the current value before overwriting it) while
// OnWrite is returned as a deferred callback, not invoked by Handle itself
// -- the caller (Server) is responsible for running it only once the write
// response has actually been sent (spec §4.2).
func TestMuxOnReadBeforeWrite(t *testing.T) {
	var order []string
	backing := make([]byte, 4)
	area := NewMemoryArea(HoldingRegisters, 0, backing, Hooks{
		OnRead:  func() { order = append(order, "read") },
		OnWrite: func() { order = append(order, "write") },
	})
	store := NewStore()
	store.Add(area)
	mux := NewStoreMux(store)
	ctx := context.Background()

	data := make([]byte, 4)
	putUint16(data[2:4], 7)
	_, ex, after := mux.Handle(ctx, WriteSingleHoldingRegister, data)
	if ex != NoException {
		t.Fatalf("write exception: %v", ex)
	}
	if !reflect.DeepEqual(order, []string{"read"}) {
		t.Errorf("hook order before after() = %v, want [read]", order)
	}
	if after == nil {
		t.Fatal("Handle returned a nil after callback for a successful write")
	}
	after()
	want := []string{"read", "write"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("hook order after after() = %v, want %v", order, want)
	}
}
