package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAllocIsAligned(t *testing.T) {
	a := NewArena(64)
	for i := 1; i < 20; i++ {
		b := a.Alloc(i)
		require.Len(t, b, i)
	}
}

func TestArenaGrowsPastBlockSize(t *testing.T) {
	a := NewArena(16)
	big := a.Alloc(1024)
	assert.Len(t, big, 1024)
	for i := range big {
		big[i] = 0xAB
	}
	for _, b := range big {
		assert.Equal(t, byte(0xAB), b)
	}
}

func TestArenaResetReusesBlocks(t *testing.T) {
	a := NewArena(0)
	a.Alloc(100)
	blocksBefore := len(a.blocks)
	a.Reset()
	a.Alloc(100)
	assert.Equal(t, blocksBefore, len(a.blocks))
}

func TestArenaStringCopiesBytes(t *testing.T) {
	a := NewArena(0)
	src := []byte("hello")
	s := a.String(string(src))
	src[0] = 'H'
	assert.Equal(t, "hello", s)
}
