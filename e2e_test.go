package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These mirror the end-to-end scenarios a compiler of this shape is
// expected to get right: a small source snippet, compiled through the
// full pipeline and run on the VM, checked against its known exit
// value.

func TestScenarioTernary(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int main() {
			int a = 1 ? 10 : 20;
			int b = 0 ? 10 : 20;
			return a + b == 30 ? 42 : 0;
		}
	`, "main")
	assert.Equal(t, int64(42), ret)
}

func TestScenarioStructByValue(t *testing.T) {
	ret := compileAndRun(t, nil, `
		struct P { int x; int y; };
		struct P mk() {
			struct P p;
			p.x = 20;
			p.y = 22;
			return p;
		}
		int main() {
			struct P p = mk();
			return p.x + p.y;
		}
	`, "main")
	assert.Equal(t, int64(42), ret)
}

func TestScenarioVariadicPrintf(t *testing.T) {
	objs := parseSrc(t, `int main() { printf("%d\n", 42); return 0; }`)
	cfg := NewConfig()
	prog, err := Generate(objs, cfg)
	require.NoError(t, err)
	vm := NewVM(prog, cfg)
	StandardFFI(cfg).InstallOn(vm)
	ret, err := vm.Run("main")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ret)
}

func TestScenarioDoubleFreeUnderHeapCanaries(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.heap_canary", true)
	vm := newTestVM(cfg)
	ptr, err := vm.SanitizedMalloc(16)
	require.NoError(t, err)
	require.NoError(t, vm.SanitizedFree(ptr, 16))
	err = vm.SanitizedFree(ptr, 16)
	assert.Error(t, err)
}

// TestScenarioDoubleFreeThroughDeclaredMalloc exercises S5 through the
// full pipeline: a `malloc`/`free` declared only by prototype (never
// defined in this translation unit) must resolve through the FFI
// fallback codegen installs for unresolved externs, and a second free
// of the same pointer under heap canaries must abort.
func TestScenarioDoubleFreeThroughDeclaredMalloc(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.heap_canary", true)
	objs := parseSrc(t, `
		extern void *malloc(long size);
		extern void free(void *ptr);
		int main() {
			void *p = malloc(16);
			free(p);
			free(p);
			return 0;
		}
	`)
	prog, err := Generate(objs, cfg)
	require.NoError(t, err)
	vm := NewVM(prog, cfg)
	StandardFFI(cfg).InstallOn(vm)
	_, err = vm.Run("main")
	assert.Error(t, err)
}

func TestScenarioVLA(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int main() {
			int n = 5;
			int a[n];
			for (int i = 0; i < n; i = i + 1) a[i] = i * 10;
			return a[0] + a[1] + a[2] + a[3] + a[4] - 58;
		}
	`, "main")
	assert.Equal(t, int64(42), ret)
}

func TestScenarioAlloca(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int sum(int *p, int n) {
			int total = 0;
			for (int i = 0; i < n; i = i + 1) total = total + p[i];
			return total;
		}
		int main() {
			int *buf = alloca(5 * 8);
			for (int i = 0; i < 5; i = i + 1) buf[i] = i + 1;
			return sum(buf, 5) - 15 + 42;
		}
	`, "main")
	assert.Equal(t, int64(42), ret)
}

// TestScenarioSetjmpLongjmp exercises a non-local jump out of a nested
// call back to its setjmp, the classic jmp_buf-as-error-unwind idiom:
// main sets the checkpoint, calls a function that never returns
// normally, and the longjmp's value becomes setjmp's second "return".
func TestScenarioSetjmpLongjmp(t *testing.T) {
	ret := compileAndRun(t, nil, `
		long env[4];
		void fail() { longjmp(env, 42); }
		int main() {
			int r = setjmp(env);
			if (r != 0) return r;
			fail();
			return 0;
		}
	`, "main")
	assert.Equal(t, int64(42), ret)
}

// TestScenarioVaArgSum exercises a hand-rolled variadic function
// (as opposed to the printf FFI bridge, which never touches
// va_list): va_start/va_arg/va_end walking the caller-funneled
// integer A-register spill to sum a run of trailing int arguments.
func TestScenarioVaArgSum(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int sum_variadic(int count, ...) {
			va_list ap;
			va_start(ap, count);
			int total = 0;
			for (int i = 0; i < count; i = i + 1) {
				total = total + va_arg(ap, int);
			}
			va_end(ap);
			return total;
		}
		int main() {
			return sum_variadic(3, 10, 15, 17);
		}
	`, "main")
	assert.Equal(t, int64(42), ret)
}

// TestScenarioCFIViolation mirrors spec.md's S6: a return whose
// address doesn't match the top of the shadow stack LEV3 maintains —
// the runtime signature of a return slot that was overwritten via
// pointer arithmetic — must abort rather than hand control to it.
func TestScenarioCFIViolation(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("sanitize.cfi", true)
	vm := newTestVM(cfg)
	vm.prog.Text = []Instruction{{Op: OpReturn}}
	vm.frames = append(vm.frames, frame{bp: 0, returnPC: 42})
	vm.shadow = append(vm.shadow, 999) // corrupted: doesn't match the frame's real returnPC
	vm.pc = 0

	err := vm.step()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CFI")
}

// TestIsolationAcrossCompilerInstances enforces spec.md §5's isolation
// requirement: two Compiler values created in the same process must
// not observe each other's __COUNTER__ sequence, since neither keeps
// any package-level mutable state. Anonymous-symbol numbering is not
// compared here.
func TestIsolationAcrossCompilerInstances(t *testing.T) {
	src := `long a = __COUNTER__; long b = __COUNTER__; long c = __COUNTER__;`

	c1 := NewCompiler(nil, nil)
	require.NoError(t, c1.CompileString("u1.c", src))
	c2 := NewCompiler(nil, nil)
	require.NoError(t, c2.CompileString("u2.c", src))

	objs1, err := c1.Link()
	require.NoError(t, err)
	objs2, err := c2.Link()
	require.NoError(t, err)

	cVal1 := findGlobalInt(objs1, "c")
	cVal2 := findGlobalInt(objs2, "c")
	require.NotNil(t, cVal1)
	require.NotNil(t, cVal2)
	assert.Equal(t, *cVal1, *cVal2, "each fresh compiler starts __COUNTER__ at 0 independently")
}

func findGlobalInt(objs *Obj, name string) *int64 {
	for o := objs; o != nil; o = o.Next {
		if o.Name == name && o.Kind == ObjGlobalVar && len(o.InitData) >= 8 {
			v := getI64(o.InitData)
			return &v
		}
	}
	return nil
}
