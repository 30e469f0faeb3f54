package protocol

import "encoding/binary"

// crcPoly is the reflected CRC-16-CCITT polynomial used by the SOE protocol.
const crcPoly uint16 = 0x8408

// ComputeCRC calculates the seeded CRC-16 of data. Only the low 16 bits
// of the seed participate; the full 32-bit value is what travels in the
// session response, so the signature takes uint32 to match.
func ComputeCRC(data []byte, seed uint32) uint16 {
	crc := uint16(seed)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crcPoly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC returns packet with its CRC footer appended.
func AppendCRC(packet []byte, seed uint32) []byte {
	out := make([]byte, len(packet)+CRCSize)
	copy(out, packet)
	binary.LittleEndian.PutUint16(out[len(packet):], ComputeCRC(packet, seed))
	return out
}

// VerifyCRC checks the trailing 2-byte footer of packet against the CRC
// of everything before it.
func VerifyCRC(packet []byte, seed uint32) bool {
	if len(packet) < CRCSize {
		return false
	}
	body := packet[:len(packet)-CRCSize]
	stored := binary.LittleEndian.Uint16(packet[len(packet)-CRCSize:])
	return stored == ComputeCRC(body, seed)
}

// StripCRC removes the trailing CRC footer after validation. It returns
// ErrChecksumMismatch when the footer does not match and ErrMalformedPacket
// when the packet is too short to carry one.
func StripCRC(packet []byte, seed uint32) ([]byte, error) {
	if len(packet) < CRCSize {
		return nil, ErrMalformedPacket
	}
	if !VerifyCRC(packet, seed) {
		return nil, ErrChecksumMismatch
	}
	return packet[:len(packet)-CRCSize], nil
}
