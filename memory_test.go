package modbus

import (
	"context"
	"reflect"
	"testing"
)

func TestMemoryAreaReadWriteRegisters(t *testing.T) {
	area := NewMemoryArea(HoldingRegisters, 100, make([]byte, 20), Hooks{})
	if got := area.ItemCount(); got != 10 {
		t.Fatalf("ItemCount() = %d, want 10", got)
	}
	if !area.contains(100, 10) || area.contains(100, 11) || area.contains(99, 1) {
		t.Fatalf("contains() bounds are wrong")
	}
	area.writeRegisters(105, []byte{0x01, 0x02, 0x03, 0x04})
	got := area.readRegisters(105, 2)
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("readRegisters = %v, want %v", got, want)
	}
}

func TestMemoryAreaReadWriteBits(t *testing.T) {
	area := NewMemoryArea(Coils, 0, make([]byte, 2), Hooks{})
	area.writeBits(3, []bool{true, true, true})
	got := area.readBits(0, 16)
	want := make([]bool, 16)
	want[3], want[4], want[5] = true, true, true
	if !reflect.DeepEqual(got, want) {
		t.Errorf("readBits = %v, want %v", got, want)
	}
}

func TestNewTypedMemoryAreaAliasesAndLocks(t *testing.T) {
	backing := make([]byte, 4)
	parent := NewMemoryArea(HoldingRegisters, 0, backing, Hooks{})
	alias, err := NewTypedMemoryArea(parent, Coils, 0, 0, 4, Hooks{})
	if err != nil {
		t.Fatalf("NewTypedMemoryArea: %v", err)
	}
	if got := alias.ItemCount(); got != 32 {
		t.Fatalf("alias ItemCount() = %d, want 32 (4 bytes of bits)", got)
	}
	alias.writeBits(0, []bool{true})
	parentRegs := parent.readRegisters(0, 1)
	if parentRegs[0]&0x01 == 0 {
		t.Errorf("write through alias did not reach parent's backing storage: %v", parentRegs)
	}

	ctx := context.Background()
	if err := alias.lock(ctx); err != nil {
		t.Fatalf("alias.lock: %v", err)
	}
	alias.unlock()
}

func TestNewTypedMemoryAreaOverlapRejected(t *testing.T) {
	parent := NewMemoryArea(HoldingRegisters, 0, make([]byte, 4), Hooks{})
	if _, err := NewTypedMemoryArea(parent, Coils, 0, 2, 4, Hooks{}); err != ErrMemoryAreaOverlap {
		t.Errorf("expected ErrMemoryAreaOverlap, got %v", err)
	}
}

func TestHooksChainToParent(t *testing.T) {
	var reads, writes int
	parent := NewMemoryArea(HoldingRegisters, 0, make([]byte, 4), Hooks{
		OnRead:  func() { reads++ },
		OnWrite: func() { writes++ },
	})
	child, err := NewTypedMemoryArea(parent, HoldingRegisters, 0, 0, 4, Hooks{})
	if err != nil {
		t.Fatalf("NewTypedMemoryArea: %v", err)
	}
	child.runOnRead()
	child.runOnWrite()
	if reads != 1 || writes != 1 {
		t.Errorf("reads=%d writes=%d, want 1/1 (hooks should chain to parent)", reads, writes)
	}
}

func TestStoreFind(t *testing.T) {
	store := NewStore()
	store.Add(NewMemoryArea(HoldingRegisters, 0, make([]byte, 20), Hooks{}))
	store.Add(NewMemoryArea(Coils, 0, make([]byte, 4), Hooks{}))

	if a := store.Find(HoldingRegisters, 2, 5); a == nil {
		t.Error("expected to find holding-register area")
	}
	if a := store.Find(HoldingRegisters, 8, 5); a != nil {
		t.Error("expected no area to cover an out-of-range request")
	}
	if a := store.Find(InputRegisters, 0, 1); a != nil {
		t.Error("expected no area for an unregistered type")
	}
}
