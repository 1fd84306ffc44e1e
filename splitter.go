package modbus

// splitRange walks [address, address+quantity) in chunks of at most limit
// items, calling fn once per chunk with that chunk's address, item count
// and its offset (in items) from the start of the whole range. Oversized
// client requests are split into several back-to-back transactions rather
// than rejected outright (spec §4.4). It stops at the first error.
func splitRange(address, quantity, limit uint16, fn func(addr, qty, offset uint16) error) error {
	var offset uint16
	for quantity > 0 {
		chunk := quantity
		if chunk > limit {
			chunk = limit
		}
		if err := fn(address, chunk, offset); err != nil {
			return err
		}
		address += chunk
		offset += chunk
		quantity -= chunk
	}
	return nil
}
