package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseUnit(t *testing.T, name, src string) *Obj {
	t.Helper()
	file := NewFile(name, 0, []byte(src))
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

func TestLinkDeclarationThenDefinition(t *testing.T) {
	u1 := parseUnit(t, "a.c", "extern int counter;")
	u2 := parseUnit(t, "b.c", "int counter;")
	merged, err := Link(u1, u2)
	require.NoError(t, err)
	found := false
	for o := merged; o != nil; o = o.Next {
		if o.Name == "counter" {
			found = true
			assert.True(t, o.IsDefined)
		}
	}
	assert.True(t, found)
}

func TestLinkTwoDefinitionsIsError(t *testing.T) {
	u1 := parseUnit(t, "a.c", "int counter;")
	u2 := parseUnit(t, "b.c", "int counter;")
	_, err := Link(u1, u2)
	assert.Error(t, err)
}

func TestLinkTwoDeclarationsKeepsFirst(t *testing.T) {
	u1 := parseUnit(t, "a.c", "extern int counter;")
	u2 := parseUnit(t, "b.c", "extern int counter;")
	merged, err := Link(u1, u2)
	require.NoError(t, err)
	assert.NotNil(t, merged)
}

func TestLinkFunctionAcrossUnits(t *testing.T) {
	u1 := parseUnit(t, "a.c", "int add(int a, int b);")
	u2 := parseUnit(t, "b.c", "int add(int a, int b) { return a + b; }")
	merged, err := Link(u1, u2)
	require.NoError(t, err)
	fn := findFunc(merged, "add")
	require.NotNil(t, fn)
	assert.True(t, fn.IsDefined)
	assert.NotNil(t, fn.Body)
}
