package rtu

import "testing"

func TestCRC16_KnownFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  []byte
	}{
		{"read one register from unit 1", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, []byte{0x84, 0x0A}},
		{"read ten registers from unit 1", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}, []byte{0xC5, 0xCD}},
		{"read three registers from unit 17", []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}, []byte{0x76, 0x87}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := appendCRC(append([]byte(nil), tt.frame...))
			tail := got[len(got)-2:]
			if tail[0] != tt.want[0] || tail[1] != tt.want[1] {
				t.Errorf("crc bytes = % X, want % X", tail, tt.want)
			}
			if !checkCRC(got) {
				t.Error("checkCRC() = false for freshly encoded frame")
			}
		})
	}
}

func TestCheckCRC_DetectsCorruption(t *testing.T) {
	frame := appendCRC([]byte{0x01, 0x03, 0x02, 0x00, 0x07})
	frame[3] ^= 0x10

	if checkCRC(frame) {
		t.Error("checkCRC() = true for corrupted frame")
	}
	if checkCRC([]byte{0x01, 0x02}) {
		t.Error("checkCRC() = true for frame without body")
	}
}
