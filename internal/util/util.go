package util

import (
	"encoding/binary"
	"fmt"
)

// Renders up to limit bytes as u16 big endian chunks, 32 bytes per row. Used for debug
// dumps of write payloads.
func PrettyPrintBlock(data []byte, limit int) string {
	if limit > len(data) {
		limit = len(data)
	}

	const bytesPerRow = 32
	s := ""
	s += "┏━━━━━━━━┳━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┓\n"
	s += fmt.Sprintf("┃ Offset ┃ u16 Chunks (BigEndian) - %5d of %8d bytes                                      ┃\n",
		limit, len(data))
	s += fmt.Sprintln("┣━━━━━━━━╋━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┫")

	for i := 0; i < limit; i += bytesPerRow {
		s += fmt.Sprintf("┃ 0x%04x ┃ ", i)

		for j := 0; j < bytesPerRow; j += 2 {
			if i+j+1 < limit {
				val := binary.BigEndian.Uint16(data[i+j : i+j+2])
				s += fmt.Sprintf("%04x ", val)
			}
			// Space every 8 bytes to keep your eyes from crossing
			if (j+2)%8 == 0 {
				s += " "
			}
		}
		s += fmt.Sprintln("┃")
	}
	s += fmt.Sprintln("┗━━━━━━━━┻━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━┛")

	return s
}

// splitmix64
func Hash(val uint64) uint64 {
	x := val
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x =  x ^ (x >> 31)
	return x
}
