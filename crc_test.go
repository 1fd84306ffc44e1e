package modbus

import "testing"

func TestCRC16(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want uint16
	}{
		// Read Holding Registers request, slave 0x11, address 0x006B,
		// quantity 3 -- the worked example from the Modbus application
		// protocol reference (CRC transmitted low byte 0x76 then high
		// byte 0x87).
		{"read holding registers example", []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}, 0x8776},
		{"empty", []byte{}, 0xFFFF},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := crc16(c.data); got != c.want {
				t.Errorf("crc16(%v) = %#04x, want %#04x", c.data, got, c.want)
			}
		})
	}
}
