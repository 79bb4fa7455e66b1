// Constants
package internal

import (
	"encoding/binary"

	"github.com/ncw/directio"
)

const LEN_U64 	= 0x08

// Alignment unit for every offset, length and buffer address handed to the disk layer.
// Files may be opened with a smaller (but still power of two) block size, see file.Options.
const DEVICE_BLOCK_SIZE = directio.BlockSize
const MIN_BLOCK_SIZE 	= 0x200

// Regular files grow by at least this many blocks at a time
const GROWTH_BLOCKS 	= 0x80

// rounds n up to the next multiple of align. align must be > 0.
func CeilAligned(n uint64, align uint64) uint64 {
	return ((n + align - 1) / align) * align
}

func IsAligned(n uint64, align uint64) bool {
	return n % align == 0
}

func IsPow2(n uint64) bool {
	return n != 0 && n & (n - 1) == 0
}

// This is an alias for endianness effectively, so we only define endianness in one place (here).
var Bin = binary.LittleEndian
