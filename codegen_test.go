package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileAndRun(t *testing.T, cfg *Config, src, entry string) int64 {
	t.Helper()
	if cfg == nil {
		cfg = NewConfig()
	}
	objs := parseSrc(t, src)
	prog, err := Generate(objs, cfg)
	require.NoError(t, err)
	vm := NewVM(prog, cfg)
	StandardFFI(cfg).InstallOn(vm)
	ret, err := vm.Run(entry)
	require.NoError(t, err)
	return ret
}

func TestCodegenArithmetic(t *testing.T) {
	ret := compileAndRun(t, nil, "int main() { return 2 + 3 * 4; }", "main")
	assert.Equal(t, int64(14), ret)
}

func TestCodegenFunctionCall(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int add(int a, int b) { return a + b; }
		int main() { return add(3, 4); }
	`, "main")
	assert.Equal(t, int64(7), ret)
}

func TestCodegenForwardCallReference(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int main() { return helper(10); }
		int helper(int x) { return x * 2; }
	`, "main")
	assert.Equal(t, int64(20), ret)
}

func TestCodegenIfElse(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int main() {
			int x = 5;
			if (x > 3) { return 1; } else { return 0; }
		}
	`, "main")
	assert.Equal(t, int64(1), ret)
}

func TestCodegenForLoopSum(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int main() {
			int sum = 0;
			int i;
			for (i = 0; i < 5; i = i + 1) {
				sum = sum + i;
			}
			return sum;
		}
	`, "main")
	assert.Equal(t, int64(10), ret)
}

func TestCodegenTernary(t *testing.T) {
	ret := compileAndRun(t, nil, "int main() { int x = 7; return x > 5 ? 1 : 2; }", "main")
	assert.Equal(t, int64(1), ret)
}

func TestCodegenLogicalShortCircuit(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int f() { return 1; }
		int main() { return (0 && f()) || 1; }
	`, "main")
	assert.Equal(t, int64(1), ret)
}

func TestCodegenSwitchDispatch(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int main() {
			int x = 2;
			switch (x) {
			case 1: return 10;
			case 2: return 20;
			default: return 0;
			}
		}
	`, "main")
	assert.Equal(t, int64(20), ret)
}

func TestCodegenGotoLoop(t *testing.T) {
	ret := compileAndRun(t, nil, `
		int main() {
			int i = 0;
		top:
			if (i >= 3) goto done;
			i = i + 1;
			goto top;
		done:
			return i;
		}
	`, "main")
	assert.Equal(t, int64(3), ret)
}
