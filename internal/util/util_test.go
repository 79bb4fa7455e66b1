package util_test

import (
	"blkio/internal/util"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_PrettyPrintBlock(t *testing.T) {
	data := make([]byte, 0x200)
	data[0] = 0xab
	data[1] = 0xcd

	s := util.PrettyPrintBlock(data, 64)
	assert.Contains(t, s, "abcd")
	assert.Contains(t, s, "0x0020")
	assert.NotContains(t, s, "0x0040")
	// header, 2 rows, top/separator/bottom borders
	assert.Equal(t, 6, strings.Count(s, "\n"))
}

func Test_Hash_Spreads(t *testing.T) {
	seen := make(map[uint64]struct{})
	for i := range uint64(1000) {
		seen[util.Hash(i)] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}
