package xymodem

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum is the arithmetic sum of data modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// CRC16 computes CRC-16/XMODEM (polynomial 0x1021, initial value 0).
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// checkBlock validates payload+trailer as received off the wire. CRC trailers
// carry the low byte first.
func checkBlock(mode ChecksumMode, block []byte) bool {
	if len(block) < 3 {
		return false
	}
	if mode == ModeCRC16 {
		n := len(block) - 2
		crc := CRC16(block[:n])
		return block[n] == byte(crc) && block[n+1] == byte(crc>>8)
	}
	n := len(block) - 1
	return block[n] == Checksum(block[:n])
}

// trailer returns the checksum bytes for payload.
func trailer(mode ChecksumMode, payload []byte) []byte {
	if mode == ModeCRC16 {
		crc := CRC16(payload)
		return []byte{byte(crc), byte(crc >> 8)}
	}
	return []byte{Checksum(payload)}
}

// buildBlock frames payload as start, number, complement, payload, trailer.
func buildBlock(mode ChecksumMode, num byte, payload []byte) []byte {
	start := SOH
	if len(payload) == longBlock {
		start = STX
	}
	out := make([]byte, 0, 3+len(payload)+mode.Size())
	out = append(out, start, num, ^num)
	out = append(out, payload...)
	return append(out, trailer(mode, payload)...)
}
