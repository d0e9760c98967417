package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSrc(t *testing.T, src string) *Obj {
	t.Helper()
	file := NewFile("test.c", 0, []byte(src))
	arena := NewArena(0)
	lex := NewLexer(file, arena)
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	pp := NewPreprocessor(NewInMemoryIncludeLoader(), nil, arena)
	tok, err = pp.Process(tok)
	require.NoError(t, err)
	objs, diags, err := Parse(tok, arena)
	require.NoError(t, err)
	require.Empty(t, diags)
	return objs
}

func findFunc(objs *Obj, name string) *Obj {
	for o := objs; o != nil; o = o.Next {
		if o.Kind == ObjFunction && o.Name == name {
			return o
		}
	}
	return nil
}

func TestParseSimpleFunction(t *testing.T) {
	objs := parseSrc(t, "int add(int a, int b) { return a + b; }")
	fn := findFunc(objs, "add")
	require.NotNil(t, fn)
	assert.True(t, fn.IsDefined)
	assert.NotNil(t, fn.Body)
	require.NotNil(t, fn.Params)
	assert.Equal(t, "a", fn.Params.Name)
	assert.Equal(t, "b", fn.Params.Next.Name)
}

func TestParseAsmStatementIsParsedAndIgnored(t *testing.T) {
	objs := parseSrc(t, `int f(void) { asm volatile("nop" ::: "memory"); return 1; }`)
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	require.NotEmpty(t, fn.Body.Stmts)
	assert.Equal(t, NdNullExpr, fn.Body.Stmts[0].Kind)
}

func TestParseFileScopeAsm(t *testing.T) {
	objs := parseSrc(t, `asm(".globl _start"); int g;`)
	require.NotNil(t, objs)
}

func TestParseStaticAssertPassingConditionIsNoop(t *testing.T) {
	objs := parseSrc(t, `int f(void) { _Static_assert(1 + 1 == 2, "math works"); return 0; }`)
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	require.NotEmpty(t, fn.Body.Stmts)
	assert.Equal(t, NdNullExpr, fn.Body.Stmts[0].Kind)
}

func TestParseStaticAssertFailingConditionErrors(t *testing.T) {
	file := NewFile("test.c", 0, []byte(`int f(void) { _Static_assert(0, "never"); return 0; }`))
	arena := NewArena(0)
	lex := NewLexer(file, arena)
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	pp := NewPreprocessor(NewInMemoryIncludeLoader(), nil, arena)
	tok, err = pp.Process(tok)
	require.NoError(t, err)
	_, _, err = Parse(tok, arena)
	assert.Error(t, err)
}

func TestParseAlignasOverridesNaturalAlignment(t *testing.T) {
	objs := parseSrc(t, `int f(void) { _Alignas(16) char buf[4]; return 0; }`)
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	require.NotNil(t, fn.Locals)
	assert.Equal(t, 16, fn.Locals.Ty.Align)
}

func TestParseAlignasNeverShrinksAlignment(t *testing.T) {
	objs := parseSrc(t, `int f(void) { _Alignas(1) long n; return 0; }`)
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	require.NotNil(t, fn.Locals)
	assert.GreaterOrEqual(t, fn.Locals.Ty.Align, 8)
}

func TestParseGlobalVar(t *testing.T) {
	objs := parseSrc(t, "int counter;")
	require.NotNil(t, objs)
	assert.Equal(t, "counter", objs.Name)
	assert.Equal(t, ObjGlobalVar, objs.Kind)
}

func TestParseIfElse(t *testing.T) {
	objs := parseSrc(t, "int f(int x) { if (x) { return 1; } else { return 0; } }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	stmt := fn.Body.Stmts[0]
	require.Equal(t, NdIf, stmt.Kind)
	assert.NotNil(t, stmt.Cond)
	assert.NotNil(t, stmt.Then)
	assert.NotNil(t, stmt.Else)
}

func TestParseForLoop(t *testing.T) {
	objs := parseSrc(t, "int f() { int i; for (i = 0; i < 10; i = i + 1) { } return 0; }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	var forNode *Node
	for _, s := range fn.Body.Stmts {
		if s.Kind == NdFor {
			forNode = s
		}
	}
	require.NotNil(t, forNode)
	assert.NotNil(t, forNode.Init)
	assert.NotNil(t, forNode.Cond)
	assert.NotNil(t, forNode.Inc)
}

func TestParseWhileLoop(t *testing.T) {
	objs := parseSrc(t, "int f() { while (1) { break; } return 0; }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	assert.Equal(t, NdWhile, fn.Body.Stmts[0].Kind)
}

func TestParseSwitchCases(t *testing.T) {
	objs := parseSrc(t, `int f(int x) {
		switch (x) {
		case 1: return 10;
		case 2: return 20;
		default: return 0;
		}
	}`)
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	var sw *Node
	for _, s := range fn.Body.Stmts {
		if s.Kind == NdSwitch {
			sw = s
		}
	}
	require.NotNil(t, sw)
	assert.Len(t, sw.CaseList, 3)
}

func TestParseStructDeclAndMemberAccess(t *testing.T) {
	objs := parseSrc(t, `
		struct Point { int x; int y; };
		int f() {
			struct Point p;
			p.x = 1;
			return p.x;
		}
	`)
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
}

func TestParseCompoundAssign(t *testing.T) {
	objs := parseSrc(t, "int f() { int x; x += 5; return x; }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	var assignStmt *Node
	for _, s := range fn.Body.Stmts {
		if s.Kind == NdExprStmt && s.LHS != nil && s.LHS.Kind == NdAssign {
			assignStmt = s
		}
	}
	require.NotNil(t, assignStmt)
}

func TestParseTernary(t *testing.T) {
	objs := parseSrc(t, "int f(int x) { return x ? 1 : 2; }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
}

func TestParseSizeof(t *testing.T) {
	objs := parseSrc(t, "int f() { return sizeof(int); }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
}

func TestParseDesignatedArrayInitializer(t *testing.T) {
	objs := parseSrc(t, "int f() { int a[4] = {[2] = 5}; return a[2]; }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
}

func TestParseDesignatedStructInitializer(t *testing.T) {
	objs := parseSrc(t, `
		struct Point { int x; int y; };
		int f() {
			struct Point p = {.y = 3, .x = 1};
			return p.x;
		}
	`)
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
}

func TestParseGotoAndLabel(t *testing.T) {
	objs := parseSrc(t, "int f() { goto done; done: return 1; }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
	var hasGoto, hasLabel bool
	for _, s := range fn.Body.Stmts {
		if s.Kind == NdGoto {
			hasGoto = true
		}
		if s.Kind == NdLabel {
			hasLabel = true
		}
	}
	assert.True(t, hasGoto)
	assert.True(t, hasLabel)
}

func TestParseCompoundLiteral(t *testing.T) {
	objs := parseSrc(t, `
		struct Point { int x; int y; };
		int f() {
			struct Point *p = &(struct Point){1, 2};
			return p->x;
		}
	`)
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
}

func TestParseStatementExpression(t *testing.T) {
	objs := parseSrc(t, "int f() { return ({ int x = 1; x + 1; }); }")
	fn := findFunc(objs, "f")
	require.NotNil(t, fn)
}
