package rtu

// crcTable holds the precomputed CRC16/MODBUS values for every byte.
var crcTable = buildCRCTable()

func buildCRCTable() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i)
		for range 8 {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16 returns the Modbus checksum of data.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[byte(crc)^b]
	}
	return crc
}

// appendCRC appends the checksum of frame, low byte first.
func appendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// checkCRC reports whether the trailing two bytes of frame match its checksum.
func checkCRC(frame []byte) bool {
	if len(frame) < crcSize+1 {
		return false
	}
	body := frame[:len(frame)-crcSize]
	crc := CRC16(body)
	return frame[len(frame)-2] == byte(crc) && frame[len(frame)-1] == byte(crc>>8)
}
