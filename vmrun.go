package jcc

import (
	"fmt"
	"math"
	"os"
)

const heapSize = 1 << 20 // 1 MiB default heap

// blockHeader precedes every heap allocation: size for the
// free-list, a liveness flag for use-after-free detection,
// and a generation counter for memory tagging (both opt-in via
// Config, both no-ops when their flag is off).
type blockHeader struct {
	size       int
	free       bool
	generation uint32
	next, prev int // free-list links, as byte offsets; -1 terminates
}

const headerSize = 32 // fixed slot width so header math never depends on struct layout

// VM is the register-machine interpreter: register file, a single
// flat byte-addressable heap with a first-fit free-list, a call
// stack of frames, and a CFI shadow stack when that sanitizer is on.
type VM struct {
	prog *Program
	cfg  *Config

	regs   [regCount]int64
	fregs  [regCount]float64
	pc     int
	frames []frame

	heap     []byte
	freeHead int
	dataEnd  int
	shadow   []int
	uninit   *uninitShadow // non-nil only when "sanitize.uninitialized" is set

	ffi       map[string]FFIFunc
	ffiPolicy FFIPolicy

	halted bool
}

type frame struct {
	bp       int
	returnPC int
}

// FFIFunc is a foreign function the VM can dispatch OpCallFFI to; it
// receives the VM so it can read argument registers and the heap
// directly, mirroring how the compiler's own FFI bridge marshals
// values across the boundary.
type FFIFunc func(vm *VM, argc int) error

// NewVM builds a VM over prog, copying its linked data segment into
// the low end of the heap (so addresses Generate baked in for
// globals read straight out of vm.heap) and starting the allocator's
// free list immediately past it, so Malloc can never hand out memory
// that overlaps a global.
func NewVM(prog *Program, cfg *Config) *VM {
	vm := &VM{
		prog: prog,
		cfg:  cfg,
		heap: make([]byte, heapSize),
		ffi:  map[string]FFIFunc{},
	}
	copy(vm.heap, prog.Data)
	dataEnd := alignTo(len(prog.Data), 8)
	vm.regs[RegSP] = int64(heapSize)
	vm.freeHead = dataEnd
	vm.dataEnd = dataEnd
	vm.writeHeader(dataEnd, blockHeader{size: heapSize - dataEnd - headerSize, free: true, next: -1, prev: -1})
	if cfg.GetBool("sanitize.uninitialized") {
		vm.uninit = newUninitShadow(heapSize)
		// The linked data segment holds real initializer bytes, not
		// uninitialized storage; everything past it (the free-list
		// heap) starts unwritten.
		vm.uninit.MarkWritten(0, dataEnd)
	}
	return vm
}

// LeakInfo describes one still-allocated block found by ReportLeaks.
type LeakInfo struct {
	Offset int
	Size   int
}

// ReportLeaks walks every heap block in address order — live and
// free alike, since blocks are laid out contiguously from dataEnd —
// and returns every block still marked live. Called from Run when
// "sanitize.leak_detection" is set, the runtime half of spec.md's
// "memory-leak-detection: at exit, report any never-freed allocation".
func (vm *VM) ReportLeaks() []LeakInfo {
	var leaks []LeakInfo
	off := vm.dataEnd
	for off >= 0 && off+headerSize <= len(vm.heap) {
		h := vm.readHeader(off)
		if !h.free {
			leaks = append(leaks, LeakInfo{Offset: off + headerSize, Size: h.size})
		}
		if h.size < 0 {
			break
		}
		off += headerSize + h.size
	}
	return leaks
}

// RegisterFFI installs a foreign function under name, used by
// OpCallFFI when the callee isn't in prog.FuncAddr.
func (vm *VM) RegisterFFI(name string, fn FFIFunc) {
	vm.ffi[name] = fn
}

func (vm *VM) writeHeader(off int, h blockHeader) {
	putI64(vm.heap[off:], int64(h.size))
	b := byte(0)
	if h.free {
		b = 1
	}
	vm.heap[off+8] = b
	putU32(vm.heap[off+12:], h.generation)
	putI64(vm.heap[off+16:], int64(h.next))
	putI64(vm.heap[off+24:], int64(h.prev))
}

func (vm *VM) readHeader(off int) blockHeader {
	return blockHeader{
		size:       int(getI64(vm.heap[off:])),
		free:       vm.heap[off+8] != 0,
		generation: getU32(vm.heap[off+12:]),
		next:       int(getI64(vm.heap[off+16:])),
		prev:       int(getI64(vm.heap[off+24:])),
	}
}

func putI64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
func getI64(b []byte) int64 {
	var v int64
	for i := 0; i < 8; i++ {
		v |= int64(b[i]) << (8 * uint(i))
	}
	return v
}
func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
func getU32(b []byte) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[i]) << (8 * uint(i))
	}
	return v
}

// Malloc walks the free-list for a first-fit block, splitting it if
// there's enough slack left over to host another header.
func (vm *VM) Malloc(size int) (int, error) {
	size = alignTo(size, 8)
	off := vm.freeHead
	prevFree := -1
	for off != -1 {
		h := vm.readHeader(off)
		if h.free && h.size >= size {
			if h.size >= size+headerSize+8 {
				newOff := off + headerSize + size
				vm.writeHeader(newOff, blockHeader{size: h.size - size - headerSize, free: true, next: h.next, prev: off})
				if h.next != -1 {
					n := vm.readHeader(h.next)
					n.prev = newOff
					vm.writeHeader(h.next, n)
				}
				h.size = size
				h.next = newOff
			}
			h.free = false
			h.generation++
			vm.writeHeader(off, h)
			if prevFree == -1 {
				vm.freeHead = h.next
			}
			ptr := off + headerSize
			if vm.uninit != nil {
				// A block recycled from the free-list may carry a
				// previous occupant's "written" bits; a fresh
				// allocation is uninitialized regardless of history.
				vm.uninit.Reset(ptr, size)
			}
			return ptr, nil
		}
		prevFree = off
		off = h.next
	}
	return 0, fmt.Errorf("vm: out of heap memory (requested %d bytes)", size)
}

// Free marks a block free and pushes it onto the head of the
// free-list. It is not merged with adjacent free blocks.
func (vm *VM) Free(ptr int) error {
	off := ptr - headerSize
	if off < 0 || off >= len(vm.heap) {
		return fmt.Errorf("vm: free of out-of-range pointer")
	}
	h := vm.readHeader(off)
	if h.free {
		return fmt.Errorf("vm: double free detected at offset %d", off)
	}
	h.free = true
	h.next = vm.freeHead
	h.prev = -1
	vm.writeHeader(off, h)
	if vm.freeHead != -1 {
		n := vm.readHeader(vm.freeHead)
		n.prev = off
		vm.writeHeader(vm.freeHead, n)
	}
	vm.freeHead = off
	return nil
}

// isLive reports whether ptr's backing block is still allocated and
// carries the generation it was tagged with; used by the
// use-after-free / memory-tagging sanitizers.
func (vm *VM) isLive(ptr int, expectGen uint32) bool {
	off := ptr - headerSize
	if off < 0 || off >= len(vm.heap) {
		return false
	}
	h := vm.readHeader(off)
	return !h.free && (expectGen == 0 || h.generation == expectGen)
}

// resolveHeapBlock finds the block covering addr by walking the
// heap's contiguous header chain from dataEnd, the same traversal
// ReportLeaks uses. It's the one place bounds/liveness checks recover
// an object's base and length, since codegen only ever hands
// OpCheckBounds/OpCheckAlive the address actually being accessed, not
// a separately threaded base pointer.
func (vm *VM) resolveHeapBlock(addr int) (base, length int, live, ok bool) {
	off := vm.dataEnd
	for off >= 0 && off+headerSize <= len(vm.heap) {
		h := vm.readHeader(off)
		b := off + headerSize
		if addr >= b && addr < b+h.size {
			return b, h.size, !h.free, true
		}
		if h.size < 0 {
			break
		}
		off += headerSize + h.size
	}
	return 0, 0, false, false
}

// locationSuffix renders " at file:line:col" for the span covering
// vm.pc via the program's source map, or "" if the program carries no
// map entry there (e.g. a hand-built test program).
func (vm *VM) locationSuffix() string {
	if vm.prog == nil || vm.prog.SourceMap == nil {
		return ""
	}
	span, ok := vm.prog.SourceMap.LocationAt(vm.pc)
	if !ok {
		return ""
	}
	return fmt.Sprintf(" at %s", span.Start)
}

// Run executes prog starting at its entry function (conventionally
// "main") until OpHalt or an NdReturn at the outermost frame.
func (vm *VM) Run(entry string) (int64, error) {
	pos, ok := vm.prog.FuncAddr[entry]
	if !ok {
		return 0, fmt.Errorf("vm: no entry function %q", entry)
	}
	vm.pc = pos
	vm.frames = append(vm.frames, frame{bp: int(vm.regs[RegSP]), returnPC: -1})
	for !vm.halted {
		if vm.pc >= len(vm.prog.Text) {
			break
		}
		if err := vm.step(); err != nil {
			return 0, err
		}
		if len(vm.frames) == 0 {
			break
		}
	}
	if vm.cfg.GetBool("sanitize.leak_detection") {
		for _, leak := range vm.ReportLeaks() {
			fmt.Fprintf(os.Stderr, "jcc: leaked allocation of %d bytes at heap offset %d\n", leak.Size, leak.Offset)
		}
	}
	return vm.regs[RegA0], nil
}

func (vm *VM) step() error {
	ins := vm.prog.Text[vm.pc]
	next := vm.pc + 1

	switch ins.Op {
	case OpNop:
	case OpLoadImm:
		vm.regs[ins.Dst] = ins.Imm
	case OpLoadImmF:
		vm.fregs[ins.Dst] = ins.FImm
	case OpMov:
		vm.regs[ins.Dst] = vm.regs[ins.Src1]
	case OpMovF:
		vm.fregs[ins.Dst] = vm.fregs[ins.Src1]

	case OpAddI, OpAddU:
		a, b := vm.regs[ins.Src1], vm.regs[ins.Src2]
		if err := vm.checkArithOverflow(ins.Op, a, b, ins.Op == OpAddU); err != nil {
			return err
		}
		vm.regs[ins.Dst] = a + b
	case OpSubI, OpSubU:
		a, b := vm.regs[ins.Src1], vm.regs[ins.Src2]
		if err := vm.checkArithOverflow(ins.Op, a, b, ins.Op == OpSubU); err != nil {
			return err
		}
		vm.regs[ins.Dst] = a - b
	case OpMulI, OpMulU:
		a, b := vm.regs[ins.Src1], vm.regs[ins.Src2]
		if err := vm.checkArithOverflow(ins.Op, a, b, ins.Op == OpMulU); err != nil {
			return err
		}
		vm.regs[ins.Dst] = a * b
	case OpDivI:
		if vm.regs[ins.Src2] == 0 {
			return fmt.Errorf("vm: division by zero")
		}
		vm.regs[ins.Dst] = vm.regs[ins.Src1] / vm.regs[ins.Src2]
	case OpDivU:
		if vm.regs[ins.Src2] == 0 {
			return fmt.Errorf("vm: division by zero")
		}
		vm.regs[ins.Dst] = int64(uint64(vm.regs[ins.Src1]) / uint64(vm.regs[ins.Src2]))
	case OpModI:
		if vm.regs[ins.Src2] == 0 {
			return fmt.Errorf("vm: modulo by zero")
		}
		vm.regs[ins.Dst] = vm.regs[ins.Src1] % vm.regs[ins.Src2]
	case OpModU:
		if vm.regs[ins.Src2] == 0 {
			return fmt.Errorf("vm: modulo by zero")
		}
		vm.regs[ins.Dst] = int64(uint64(vm.regs[ins.Src1]) % uint64(vm.regs[ins.Src2]))
	case OpAddF:
		vm.fregs[ins.Dst] = vm.fregs[ins.Src1] + vm.fregs[ins.Src2]
	case OpSubF:
		vm.fregs[ins.Dst] = vm.fregs[ins.Src1] - vm.fregs[ins.Src2]
	case OpMulF:
		vm.fregs[ins.Dst] = vm.fregs[ins.Src1] * vm.fregs[ins.Src2]
	case OpDivF:
		vm.fregs[ins.Dst] = vm.fregs[ins.Src1] / vm.fregs[ins.Src2]
	case OpAnd:
		vm.regs[ins.Dst] = vm.regs[ins.Src1] & vm.regs[ins.Src2]
	case OpOr:
		vm.regs[ins.Dst] = vm.regs[ins.Src1] | vm.regs[ins.Src2]
	case OpXor:
		vm.regs[ins.Dst] = vm.regs[ins.Src1] ^ vm.regs[ins.Src2]
	case OpShl:
		vm.regs[ins.Dst] = vm.regs[ins.Src1] << uint(vm.regs[ins.Src2])
	case OpShr:
		vm.regs[ins.Dst] = vm.regs[ins.Src1] >> uint(vm.regs[ins.Src2])
	case OpShrU:
		vm.regs[ins.Dst] = int64(uint64(vm.regs[ins.Src1]) >> uint(vm.regs[ins.Src2]))
	case OpEq:
		vm.regs[ins.Dst] = boolToInt(vm.regs[ins.Src1] == vm.regs[ins.Src2])
	case OpNe:
		vm.regs[ins.Dst] = boolToInt(vm.regs[ins.Src1] != vm.regs[ins.Src2])
	case OpLtI:
		vm.regs[ins.Dst] = boolToInt(vm.regs[ins.Src1] < vm.regs[ins.Src2])
	case OpLeI:
		vm.regs[ins.Dst] = boolToInt(vm.regs[ins.Src1] <= vm.regs[ins.Src2])
	case OpLtU:
		vm.regs[ins.Dst] = boolToInt(uint64(vm.regs[ins.Src1]) < uint64(vm.regs[ins.Src2]))
	case OpLeU:
		vm.regs[ins.Dst] = boolToInt(uint64(vm.regs[ins.Src1]) <= uint64(vm.regs[ins.Src2]))
	case OpLtF:
		vm.regs[ins.Dst] = boolToInt(vm.fregs[ins.Src1] < vm.fregs[ins.Src2])
	case OpLeF:
		vm.regs[ins.Dst] = boolToInt(vm.fregs[ins.Src1] <= vm.fregs[ins.Src2])

	case OpNeg:
		vm.regs[ins.Dst] = -vm.regs[ins.Src1]
	case OpNegF:
		vm.fregs[ins.Dst] = -vm.fregs[ins.Src1]
	case OpNot:
		vm.regs[ins.Dst] = boolToInt(vm.regs[ins.Src1] == 0)
	case OpBitNot:
		vm.regs[ins.Dst] = ^vm.regs[ins.Src1]
	case OpIntToFloat:
		vm.fregs[ins.Dst] = float64(vm.regs[ins.Src1])
	case OpFloatToInt:
		vm.regs[ins.Dst] = int64(vm.fregs[ins.Src1])
	case OpFloatBitsToInt:
		vm.regs[ins.Dst] = int64(math.Float64bits(vm.fregs[ins.Src1]))
	case OpIntBitsToFloat:
		vm.fregs[ins.Dst] = math.Float64frombits(uint64(vm.regs[ins.Src1]))
	case OpSignExtend8:
		vm.regs[ins.Dst] = int64(int8(vm.regs[ins.Src1]))
	case OpSignExtend16:
		vm.regs[ins.Dst] = int64(int16(vm.regs[ins.Src1]))
	case OpSignExtend32:
		vm.regs[ins.Dst] = int64(int32(vm.regs[ins.Src1]))
	case OpZeroExtend8:
		vm.regs[ins.Dst] = int64(uint8(vm.regs[ins.Src1]))
	case OpZeroExtend16:
		vm.regs[ins.Dst] = int64(uint16(vm.regs[ins.Src1]))
	case OpZeroExtend32:
		vm.regs[ins.Dst] = int64(uint32(vm.regs[ins.Src1]))

	case OpLoadAddr:
		vm.regs[ins.Dst] = vm.regs[ins.Src1] + ins.Imm

	case OpLoad8:
		addr := int(vm.regs[ins.Src1])
		if err := vm.checkUninitRead(addr, 1); err != nil {
			return err
		}
		vm.regs[ins.Dst] = int64(vm.heap[addr])
	case OpLoad16:
		addr := int(vm.regs[ins.Src1])
		if err := vm.checkUninitRead(addr, 2); err != nil {
			return err
		}
		vm.regs[ins.Dst] = int64(uint16(vm.heap[addr]) | uint16(vm.heap[addr+1])<<8)
	case OpLoad32:
		addr := int(vm.regs[ins.Src1])
		if err := vm.checkUninitRead(addr, 4); err != nil {
			return err
		}
		vm.regs[ins.Dst] = int64(getU32(vm.heap[addr:]))
	case OpLoad64:
		addr := int(vm.regs[ins.Src1])
		if err := vm.checkUninitRead(addr, 8); err != nil {
			return err
		}
		vm.regs[ins.Dst] = getI64(vm.heap[addr:])
	case OpStore8:
		addr := int(vm.regs[ins.Src1])
		vm.heap[addr] = byte(vm.regs[ins.Src2])
		vm.markUninitWritten(addr, 1)
	case OpStore16:
		addr := int(vm.regs[ins.Src1])
		v := uint16(vm.regs[ins.Src2])
		vm.heap[addr] = byte(v)
		vm.heap[addr+1] = byte(v >> 8)
		vm.markUninitWritten(addr, 2)
	case OpStore32:
		addr := int(vm.regs[ins.Src1])
		putU32(vm.heap[addr:], uint32(vm.regs[ins.Src2]))
		vm.markUninitWritten(addr, 4)
	case OpStore64:
		addr := int(vm.regs[ins.Src1])
		putI64(vm.heap[addr:], vm.regs[ins.Src2])
		vm.markUninitWritten(addr, 8)
	case OpMemcpy:
		dst, src := int(vm.regs[ins.Dst]), int(vm.regs[ins.Src1])
		copy(vm.heap[dst:dst+ins.Size], vm.heap[src:src+ins.Size])
		vm.markUninitWritten(dst, ins.Size)
	case OpMemzero:
		dst := int(vm.regs[ins.Dst])
		for i := 0; i < ins.Size; i++ {
			vm.heap[dst+i] = 0
		}
		vm.markUninitWritten(dst, ins.Size)

	case OpJmp:
		next = ins.Target
	case OpBranchTrue:
		if vm.regs[ins.Src1] != 0 {
			next = ins.Target
		}
	case OpBranchFalse:
		if vm.regs[ins.Src1] == 0 {
			next = ins.Target
		}
	case OpJmpIndirect:
		next = int(vm.regs[ins.Src1])

	case OpEnterFrame:
		vm.regs[RegSP] -= ins.Imm
		vm.regs[RegBP] = vm.regs[RegSP]
		if vm.uninit != nil {
			// The stack region is reused across calls; a fresh frame's
			// locals start uninitialized regardless of what the last
			// occupant of these bytes left behind.
			vm.uninit.Reset(int(vm.regs[RegBP]), int(ins.Imm))
		}
		if ins.Size >= 0 {
			vm.WriteStackCanary(ins.Size)
		}
	case OpLeaveFrame:
		if ins.Imm >= 0 {
			retPC := -1
			if n := len(vm.frames); n > 0 {
				retPC = vm.frames[n-1].returnPC
			}
			if err := vm.CheckStackCanary(int(ins.Imm), retPC); err != nil {
				return err
			}
		}
		vm.regs[RegSP] = vm.regs[RegBP]

	case OpCall:
		if vm.cfg.GetBool("sanitize.cfi") {
			vm.shadow = append(vm.shadow, next)
		}
		vm.frames = append(vm.frames, frame{bp: int(vm.regs[RegBP]), returnPC: next})
		next = ins.Target
	case OpCallFFI:
		name := ""
		if ins.FuncObj != nil {
			name = ins.FuncObj.Name
		}
		if vm.ffiPolicy.Disabled {
			return fmt.Errorf("vm: foreign calls are disabled, call to %q rejected", name)
		}
		fn, ok := vm.ffi[name]
		if !ok {
			if vm.ffiPolicy.DenyFatal {
				return fmt.Errorf("vm: no FFI registration for %q", name)
			}
			fmt.Fprintf(os.Stderr, "vm: warning: no FFI registration for %q, call returns zero\n", name)
			vm.regs[RegA0] = 0
			break
		}
		if err := fn(vm, int(ins.Imm)); err != nil {
			return err
		}
	case OpReturn:
		if len(vm.frames) == 0 {
			vm.halted = true
			return nil
		}
		top := vm.frames[len(vm.frames)-1]
		vm.frames = vm.frames[:len(vm.frames)-1]
		if vm.cfg.GetBool("sanitize.cfi") {
			if len(vm.shadow) == 0 || vm.shadow[len(vm.shadow)-1] != top.returnPC {
				return fmt.Errorf("vm: CFI violation: return address mismatch%s", vm.locationSuffix())
			}
			vm.shadow = vm.shadow[:len(vm.shadow)-1]
		}
		if top.returnPC == -1 {
			vm.halted = true
			return nil
		}
		next = top.returnPC
	case OpHalt:
		vm.halted = true
		return nil

	case OpMalloc:
		ptr, err := vm.Malloc(int(vm.regs[ins.Src1]))
		if err != nil {
			return err
		}
		vm.regs[ins.Dst] = int64(ptr)
	case OpFree:
		if err := vm.Free(int(vm.regs[ins.Src1])); err != nil {
			return err
		}

	case OpCheckBounds:
		if vm.cfg.GetBool("sanitize.bounds") {
			if err := vm.checkBoundsAt(int(vm.regs[ins.Src1])); err != nil {
				return err
			}
		}
	case OpCheckAlive:
		if vm.cfg.GetBool("sanitize.memory_tagging") {
			if err := vm.checkAliveAt(int(vm.regs[ins.Src1])); err != nil {
				return err
			}
		}
	case OpCheckType, OpPushShadow, OpPopShadow, OpScopeIn, OpScopeOut:
		// OpCheckType is never emitted by codegen (see DESIGN.md: the
		// VM's plain heap-offset pointers carry no runtime type tag to
		// compare against). OpPushShadow/OpPopShadow are likewise
		// unemitted: CFI's actual push/pop already lives in OpCall/
		// OpReturn's vm.shadow handling above. OpScopeIn/OpScopeOut
		// stay no-ops, matching the "zero cost when disabled" contract.

	// setjmp/longjmp share a 32-byte jmp_buf the user's char[]/struct
	// storage backs: word0 resumePC, word1 call-stack depth, word2 bp,
	// word3 the value longjmp hands back. resumePC is the instruction
	// right after OpSetjmp, where codegen recomputes buf+24 from buf's
	// register and loads word3; OpLongjmp first writes buf back into the
	// register OpSetjmp read it from, since code run in between may have
	// reused that register.
	case OpSetjmp:
		buf := vm.regs[ins.Src1]
		putI64(vm.heap[buf:], ins.Imm)
		putI64(vm.heap[buf+8:], int64(len(vm.frames)))
		putI64(vm.heap[buf+16:], vm.regs[RegBP])
		putI64(vm.heap[buf+24:], 0)
	case OpLongjmp:
		buf := vm.regs[ins.Src1]
		depth := int(getI64(vm.heap[buf+8:]))
		if depth > len(vm.frames) {
			return fmt.Errorf("vm: longjmp to a deeper frame than the current stack%s", vm.locationSuffix())
		}
		vm.frames = vm.frames[:depth]
		vm.regs[RegBP] = getI64(vm.heap[buf+16:])
		vm.regs[RegSP] = vm.regs[RegBP]
		next = int(getI64(vm.heap[buf:]))
		if next > 0 && next <= len(vm.prog.Text) && vm.prog.Text[next-1].Op == OpSetjmp {
			vm.regs[vm.prog.Text[next-1].Src1] = buf
		}

	case OpCAS:
		addr := vm.regs[ins.Src1]
		old := vm.regs[ins.Src2]
		nw := ins.Imm
		cur := getI64(vm.heap[addr:])
		if cur == old {
			putI64(vm.heap[addr:], nw)
			vm.regs[ins.Dst] = 1
		} else {
			vm.regs[ins.Dst] = 0
		}
	case OpAtomicExchange:
		addr := vm.regs[ins.Src1]
		old := getI64(vm.heap[addr:])
		putI64(vm.heap[addr:], vm.regs[ins.Src2])
		vm.regs[ins.Dst] = old

	default:
		return fmt.Errorf("vm: unimplemented opcode %d", ins.Op)
	}

	vm.pc = next
	return nil
}
