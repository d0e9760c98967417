package jcc

const defaultArenaBlockSize = 1024 * 1024 // 1 MiB, matches original_source/src/arena.c

// arenaBlock is one bump-allocated backing block. In the original C
// implementation this is an anonymous mmap region; Go has no portable
// way to hand a GC-invisible region to arbitrary pointer types, so the
// block is a plain byte slice instead — the bump-pointer/reset/grow
// behavior is identical, only the backing allocation call differs.
type arenaBlock struct {
	mem []byte
	off int
}

// Arena is a bump allocator: everything handed out by Alloc lives
// until Reset or Destroy reclaims the whole block list at once. There
// is no per-allocation metadata and no way to free a single object.
type Arena struct {
	defaultBlockSize int
	blocks           []*arenaBlock
	current          *arenaBlock
}

// NewArena creates an arena with the given default block size; 0
// selects the 1 MiB default.
func NewArena(defaultBlockSize int) *Arena {
	if defaultBlockSize <= 0 {
		defaultBlockSize = defaultArenaBlockSize
	}
	return &Arena{defaultBlockSize: defaultBlockSize}
}

func (a *Arena) newBlock(minSize int) *arenaBlock {
	size := a.defaultBlockSize
	if minSize > size {
		size = minSize
	}
	b := &arenaBlock{mem: make([]byte, size)}
	a.blocks = append(a.blocks, b)
	return b
}

// Alloc returns n bytes, 8-byte aligned, that live until Reset or
// Destroy. It never returns an error: a request the current block
// can't satisfy grows a fresh block at least large enough to hold it.
func (a *Arena) Alloc(n int) []byte {
	size := (n + 7) &^ 7
	if a.current == nil || a.current.off+size > len(a.current.mem) {
		a.current = a.newBlock(size)
	}
	start := a.current.off
	a.current.off += size
	return a.current.mem[start : start+n : start+n]
}

// Reset rewinds every block's bump pointer to its start without
// releasing the backing memory, so a compiler instance can be reused
// across compilations without re-mapping blocks.
func (a *Arena) Reset() {
	for _, b := range a.blocks {
		b.off = 0
	}
	if len(a.blocks) > 0 {
		a.current = a.blocks[0]
	} else {
		a.current = nil
	}
}

// Destroy drops every block so the backing memory can be collected.
func (a *Arena) Destroy() {
	a.blocks = nil
	a.current = nil
}

// Bytes copies p into arena-owned memory and returns the copy. Used
// whenever a token lexeme or string literal's decoded bytes must
// outlive the input buffer they were read from.
func (a *Arena) Bytes(p []byte) []byte {
	dst := a.Alloc(len(p))
	copy(dst, p)
	return dst
}

// String copies s into arena-owned memory like Bytes does and returns
// it as a Go string; the string conversion makes its own copy, so the
// result does not alias the arena block.
func (a *Arena) String(s string) string {
	return string(a.Bytes([]byte(s)))
}
