package modbus

// lrc8 computes the Modbus ASCII longitudinal redundancy check: the
// two's-complement negation of the 8-bit sum of data. A correctly framed
// message has lrc8 applied to all decoded bytes, including the transmitted
// LRC itself, equal to 0.
func lrc8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(-int8(sum))
}
