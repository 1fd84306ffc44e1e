package modbus

import (
	"context"
	"errors"
)

// ErrMemoryAreaOverlap is returned when a derived memory area's byte range
// does not fit entirely inside its parent's backing storage.
var ErrMemoryAreaOverlap = errors.New("modbus: memory area does not fit inside parent")

// Hooks are extensibility seams for computed registers (e.g. an uptime
// counter backed by no real storage). OnRead runs before the handler reads
// -- and, per spec §9, before writes too, since the source does this and
// the behavior is preserved rather than silently "fixed". OnWrite runs
// after a write response has been sent. Either field may be left nil.
type Hooks struct {
	OnRead  func()
	OnWrite func()
}

// MemoryArea is a typed, lockable, contiguous range of Modbus addresses
// backed by bytes (spec §3, §4.3). A base area owns its backing storage and
// its own lock. A derived area is created over a parent area with
// NewTypedMemoryArea: it addresses a different (possibly differently
// typed) range of the same underlying bytes. It always forwards lock
// acquisition to its parent, and forwards each hook whose own field is
// nil to its parent's -- this is how the same physical storage can be exposed simultaneously
// as, say, coils and holding registers. Chaining may be arbitrarily deep;
// since a parent pointer is only ever set once at construction from an
// already-built area, a derived area can never become its own ancestor.
type MemoryArea struct {
	typ       MemoryType
	base      uint16
	itemCount uint16
	backing   []byte
	mu        mutex
	hooks     Hooks
	parent    *MemoryArea
}

// NewMemoryArea creates a base memory area of type typ, starting at base,
// backed by backingBytes. itemCount is derived per spec §3:
// min(len(backingBytes)*8, 0x10000-base) for bit types,
// min(len(backingBytes)/2, 0x10000-base) for register types.
func NewMemoryArea(typ MemoryType, base uint16, backingBytes []byte, hooks Hooks) *MemoryArea {
	return &MemoryArea{
		typ:       typ,
		base:      base,
		itemCount: deriveItemCount(typ, base, len(backingBytes)),
		backing:   backingBytes,
		mu:        newMutex(),
		hooks:     hooks,
	}
}

// NewTypedMemoryArea derives a new memory area of type typ, addressed as
// [base, base+itemCount), whose backing bytes alias parent's backing
// storage from byteOffset for byteLength bytes. Lock acquisition always
// forwards to parent; each hook left nil in hooks forwards to parent's
// (spec §4.3, §9).
func NewTypedMemoryArea(parent *MemoryArea, typ MemoryType, base uint16, byteOffset, byteLength int, hooks Hooks) (*MemoryArea, error) {
	if parent == nil {
		return nil, ErrInvalidArgument
	}
	if byteOffset < 0 || byteLength < 0 || byteOffset+byteLength > len(parent.backing) {
		return nil, ErrMemoryAreaOverlap
	}
	return &MemoryArea{
		typ:       typ,
		base:      base,
		itemCount: deriveItemCount(typ, base, byteLength),
		backing:   parent.backing[byteOffset : byteOffset+byteLength],
		hooks:     hooks,
		parent:    parent,
	}, nil
}

func deriveItemCount(typ MemoryType, base uint16, nbytes int) uint16 {
	span := 0x10000 - int(base)
	var capacity int
	if typ.IsBitType() {
		capacity = nbytes * 8
	} else {
		capacity = nbytes / 2
	}
	if capacity > span {
		capacity = span
	}
	if capacity < 0 {
		capacity = 0
	}
	return uint16(capacity)
}

// Type, Base and ItemCount describe the addressable range of the area.
func (a *MemoryArea) Type() MemoryType   { return a.typ }
func (a *MemoryArea) Base() uint16       { return a.base }
func (a *MemoryArea) ItemCount() uint16  { return a.itemCount }

// contains reports whether [address, address+quantity) lies entirely
// inside the area (spec §3 invariant).
func (a *MemoryArea) contains(address, quantity uint16) bool {
	if quantity == 0 {
		return false
	}
	lo := uint32(a.base)
	hi := lo + uint32(a.itemCount)
	reqLo := uint32(address)
	reqHi := reqLo + uint32(quantity)
	return lo <= reqLo && hi >= reqHi
}

// lock acquires the root area's lock, walking up the parent chain.
func (a *MemoryArea) lock(ctx context.Context) error {
	if a.parent != nil {
		return a.parent.lock(ctx)
	}
	return a.mu.lock(ctx)
}

// unlock releases the root area's lock.
func (a *MemoryArea) unlock() {
	if a.parent != nil {
		a.parent.unlock()
		return
	}
	a.mu.unlock()
}

// runOnRead invokes this area's OnRead hook, or the nearest ancestor's if
// this area declares none.
func (a *MemoryArea) runOnRead() {
	if a.hooks.OnRead != nil {
		a.hooks.OnRead()
	} else if a.parent != nil {
		a.parent.runOnRead()
	}
}

// runOnWrite invokes this area's OnWrite hook, or the nearest ancestor's if
// this area declares none.
func (a *MemoryArea) runOnWrite() {
	if a.hooks.OnWrite != nil {
		a.hooks.OnWrite()
	} else if a.parent != nil {
		a.parent.runOnWrite()
	}
}

// readBits returns quantity bit values starting at address, which must
// satisfy contains(address, quantity). Bit offsets that do not align to a
// byte boundary with the area's base are handled transparently.
func (a *MemoryArea) readBits(address, quantity uint16) []bool {
	return readBitsAt(a.backing, int(address-a.base), quantity)
}

// writeBits writes values starting at address, leaving every bit outside
// [address, address+len(values)) untouched -- including the unaddressed
// bits of a boundary byte, which is how spec §9's flagged RTU
// writeMultipleCoils boundary-byte hazard is avoided here: the boundary
// byte is always masked against the area's own current content, never read
// past the area.
func (a *MemoryArea) writeBits(address uint16, values []bool) {
	writeBitsAt(a.backing, int(address-a.base), values)
}

// readRegisters returns a copy of quantity big-endian registers starting at
// address.
func (a *MemoryArea) readRegisters(address, quantity uint16) []byte {
	off := int(address-a.base) * 2
	out := make([]byte, int(quantity)*2)
	copy(out, a.backing[off:off+len(out)])
	return out
}

// writeRegisters writes data (a whole number of big-endian registers)
// starting at address.
func (a *MemoryArea) writeRegisters(address uint16, data []byte) {
	off := int(address-a.base) * 2
	copy(a.backing[off:off+len(data)], data)
}

// Store is an ordered set of memory areas (spec §4.3). Areas are searched
// in insertion order; the first area whose type matches and whose range
// fully covers the requested range wins, so overlapping areas of the same
// type can be used to give an inner range special hooks while an outer
// area added later backs the rest.
type Store struct {
	mu    mutex
	areas []*MemoryArea
}

// NewStore returns an empty memory-area store.
func NewStore() *Store {
	return &Store{mu: newMutex()}
}

// Add registers area with the store. Safe to call while the store is in
// use by a running Server; areas may be shared by multiple servers.
func (s *Store) Add(area *MemoryArea) {
	s.mu.lock(context.Background())
	defer s.mu.unlock()
	s.areas = append(s.areas, area)
}

// Find returns the first area of type typ whose range fully contains
// [address, address+quantity), or nil if none does.
func (s *Store) Find(typ MemoryType, address, quantity uint16) *MemoryArea {
	s.mu.lock(context.Background())
	defer s.mu.unlock()
	for _, a := range s.areas {
		if a.typ == typ && a.contains(address, quantity) {
			return a
		}
	}
	return nil
}
