package simdriver

import (
	"encoding/binary"
	"fmt"

	"github.com/joaojeronimo/go-crc16"
)

// System attribute blob: a sequence of (handle u16, value u16) CCCD entries
// followed by a CRC-16 of the entries, all little endian.

type sysAttrEntry struct {
	handle uint16
	value  uint16
}

func encodeSysAttr(entries []sysAttrEntry) []byte {
	b := make([]byte, 0, len(entries)*4+2)
	for _, e := range entries {
		b = binary.LittleEndian.AppendUint16(b, e.handle)
		b = binary.LittleEndian.AppendUint16(b, e.value)
	}
	return binary.LittleEndian.AppendUint16(b, crc16.Crc16(b))
}

func decodeSysAttr(b []byte) ([]sysAttrEntry, error) {
	if len(b) < 2 || (len(b)-2)%4 != 0 {
		return nil, fmt.Errorf("system attributes: bad length %d", len(b))
	}
	body := b[:len(b)-2]
	if got, want := binary.LittleEndian.Uint16(b[len(b)-2:]), crc16.Crc16(body); got != want {
		return nil, fmt.Errorf("system attributes: crc 0x%04X, expected 0x%04X", got, want)
	}
	entries := make([]sysAttrEntry, 0, len(body)/4)
	for i := 0; i < len(body); i += 4 {
		entries = append(entries, sysAttrEntry{
			handle: binary.LittleEndian.Uint16(body[i:]),
			value:  binary.LittleEndian.Uint16(body[i+2:]),
		})
	}
	return entries, nil
}
