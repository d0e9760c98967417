package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVM(cfg *Config) *VM {
	if cfg == nil {
		cfg = NewConfig()
	}
	prog := &Program{Globals: map[string]int{}, FuncAddr: map[string]int{}, Funcs: map[string]*Obj{}}
	return NewVM(prog, cfg)
}

func TestVMMallocFreeRoundTrip(t *testing.T) {
	vm := newTestVM(nil)
	ptr, err := vm.Malloc(64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ptr, 0)
	require.NoError(t, vm.Free(ptr))
}

func TestVMMallocSplitsFreeBlock(t *testing.T) {
	vm := newTestVM(nil)
	p1, err := vm.Malloc(64)
	require.NoError(t, err)
	p2, err := vm.Malloc(64)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestVMDoubleFreeDetected(t *testing.T) {
	vm := newTestVM(nil)
	ptr, err := vm.Malloc(32)
	require.NoError(t, err)
	require.NoError(t, vm.Free(ptr))
	err = vm.Free(ptr)
	assert.Error(t, err)
}

func TestSanitizedHeapCanaryDetectsOverflow(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.heap_canary", true)
	vm := newTestVM(cfg)
	ptr, err := vm.SanitizedMalloc(16)
	require.NoError(t, err)
	// Corrupt past the end of the requested region, into the canary.
	vm.heap[ptr+16] ^= 0xFF
	err = vm.SanitizedFree(ptr, 16)
	assert.Error(t, err)
}

func TestSanitizedHeapCanaryPassesWhenIntact(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.heap_canary", true)
	vm := newTestVM(cfg)
	ptr, err := vm.SanitizedMalloc(16)
	require.NoError(t, err)
	assert.NoError(t, vm.SanitizedFree(ptr, 16))
}

func TestCheckBoundsRejectsOutOfRange(t *testing.T) {
	vm := newTestVM(nil)
	assert.NoError(t, vm.CheckBounds(10, 4, 0, 20))
	assert.Error(t, vm.CheckBounds(18, 4, 0, 20))
	assert.Error(t, vm.CheckBounds(-1, 4, 0, 20))
}

func TestCheckAliveDetectsUseAfterFree(t *testing.T) {
	vm := newTestVM(nil)
	ptr, err := vm.Malloc(16)
	require.NoError(t, err)
	hdr := vm.readHeader(ptr - headerSize)
	assert.NoError(t, vm.CheckAlive(ptr, hdr.generation))
	require.NoError(t, vm.Free(ptr))
	assert.Error(t, vm.CheckAlive(ptr, hdr.generation))
}

func TestReportLeaksFindsNeverFreedBlock(t *testing.T) {
	vm := newTestVM(nil)
	_, err := vm.Malloc(32)
	require.NoError(t, err)
	p2, err := vm.Malloc(16)
	require.NoError(t, err)
	require.NoError(t, vm.Free(p2))

	leaks := vm.ReportLeaks()
	require.Len(t, leaks, 1)
	assert.Equal(t, 32, leaks[0].Size)
}

func TestReportLeaksEmptyWhenEverythingFreed(t *testing.T) {
	vm := newTestVM(nil)
	ptr, err := vm.Malloc(32)
	require.NoError(t, err)
	require.NoError(t, vm.Free(ptr))
	assert.Empty(t, vm.ReportLeaks())
}

func TestOpCallFFIRejectsWhenDisabled(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("ffi.disabled", true)
	vm := newTestVM(cfg)
	StandardFFI(cfg).InstallOn(vm)
	assert.Empty(t, vm.ffi, "no FFI entries should be installed once ffi.disabled is set")

	fnObj := &Obj{Name: "puts"}
	vm.prog.Text = []Instruction{{Op: OpCallFFI, FuncObj: fnObj, Imm: 1}}
	err := vm.step()
	assert.Error(t, err)
}

func TestOpCallFFIUnregisteredDenyFatal(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("ffi.deny_fatal", true)
	vm := newTestVM(cfg)
	StandardFFI(cfg).InstallOn(vm)

	fnObj := &Obj{Name: "does_not_exist"}
	vm.prog.Text = []Instruction{{Op: OpCallFFI, FuncObj: fnObj, Imm: 0}}
	err := vm.step()
	assert.Error(t, err)
}

func TestOpCallFFIUnregisteredWarnAndSkip(t *testing.T) {
	cfg := NewConfig()
	vm := newTestVM(cfg)
	StandardFFI(cfg).InstallOn(vm)

	fnObj := &Obj{Name: "does_not_exist"}
	vm.prog.Text = []Instruction{{Op: OpCallFFI, FuncObj: fnObj, Imm: 0}}
	require.NoError(t, vm.step())
	assert.Equal(t, int64(0), vm.regs[RegA0])
}

func TestOpAddIOverflowDetectedWhenSanitizerOn(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.overflow", true)
	vm := newTestVM(cfg)
	vm.regs[RegT0] = 1<<63 - 1
	vm.regs[RegT1] = 1
	vm.prog.Text = []Instruction{{Op: OpAddI, Dst: RegT0, Src1: RegT0, Src2: RegT1}}
	assert.Error(t, vm.step())
}

func TestOpAddIOverflowIgnoredWhenSanitizerOff(t *testing.T) {
	vm := newTestVM(nil)
	vm.regs[RegT0] = 1<<63 - 1
	vm.regs[RegT1] = 1
	vm.prog.Text = []Instruction{{Op: OpAddI, Dst: RegT0, Src1: RegT0, Src2: RegT1}}
	assert.NoError(t, vm.step())
}

func TestOpCheckBoundsRejectsAddressOutsideLiveAllocation(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.bounds", true)
	vm := newTestVM(cfg)
	ptr, err := vm.Malloc(16)
	require.NoError(t, err)

	vm.regs[RegT0] = int64(ptr + 16) // one past the end of this block
	vm.prog.Text = []Instruction{{Op: OpCheckBounds, Src1: RegT0}}
	vm.pc = 0
	assert.Error(t, vm.step())

	vm.regs[RegT0] = int64(ptr)
	vm.prog.Text = []Instruction{{Op: OpCheckBounds, Src1: RegT0}}
	vm.pc = 0
	assert.NoError(t, vm.step())
}

func TestOpCheckAliveDetectsUseAfterFreeThroughStep(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.memory_tagging", true)
	vm := newTestVM(cfg)
	ptr, err := vm.Malloc(16)
	require.NoError(t, err)
	require.NoError(t, vm.Free(ptr))

	vm.regs[RegT0] = int64(ptr)
	vm.prog.Text = []Instruction{{Op: OpCheckAlive, Src1: RegT0}}
	assert.Error(t, vm.step())
}

func TestUninitializedReadDetectedOnFreshMalloc(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.uninitialized", true)
	vm := newTestVM(cfg)
	ptr, err := vm.Malloc(8)
	require.NoError(t, err)

	vm.regs[RegT0] = int64(ptr)
	vm.prog.Text = []Instruction{{Op: OpLoad64, Dst: RegT1, Src1: RegT0}}
	vm.pc = 0
	assert.Error(t, vm.step())

	vm.regs[RegT1] = 42
	vm.prog.Text = []Instruction{{Op: OpStore64, Src1: RegT0, Src2: RegT1}}
	vm.pc = 0
	require.NoError(t, vm.step())

	vm.prog.Text = []Instruction{{Op: OpLoad64, Dst: RegT1, Src1: RegT0}}
	vm.pc = 0
	assert.NoError(t, vm.step())
}

func TestUninitShadowResetOnFrameReuse(t *testing.T) {
	u := newUninitShadow(64)
	u.MarkWritten(0, 16)
	u.Reset(0, 16)
	assert.Error(t, u.CheckRead(0, 16))
}
