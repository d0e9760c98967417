package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preprocessSrc(t *testing.T, src string) string {
	t.Helper()
	file := NewFile("test.c", 0, []byte(src))
	arena := NewArena(0)
	lex := NewLexer(file, arena)
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	pp := NewPreprocessor(NewInMemoryIncludeLoader(), nil, arena)
	out, err := pp.Process(tok)
	require.NoError(t, err)
	var b []string
	for t := out; t != nil && t.Kind != TkEOF; t = t.Next {
		b = append(b, t.Lexeme)
	}
	s := ""
	for _, x := range b {
		s += x + " "
	}
	return s
}

func TestPreprocessObjectMacro(t *testing.T) {
	out := preprocessSrc(t, "#define N 10\nN")
	assert.Equal(t, "10 ", out)
}

func TestPreprocessFunctionMacro(t *testing.T) {
	out := preprocessSrc(t, "#define ADD(a, b) ((a) + (b))\nADD(1, 2)")
	assert.Equal(t, "( ( 1 ) + ( 2 ) ) ", out)
}

func TestPreprocessStringize(t *testing.T) {
	out := preprocessSrc(t, "#define STR(x) #x\nSTR(hello)")
	assert.Equal(t, `"hello" `, out)
}

func TestPreprocessPaste(t *testing.T) {
	out := preprocessSrc(t, "#define CAT(a, b) a##b\nCAT(foo, bar)")
	assert.Equal(t, "foobar ", out)
}

func TestPreprocessConditionalTrue(t *testing.T) {
	out := preprocessSrc(t, "#if 1\nyes\n#else\nno\n#endif")
	assert.Equal(t, "yes ", out)
}

func TestPreprocessConditionalFalse(t *testing.T) {
	out := preprocessSrc(t, "#if 0\nyes\n#else\nno\n#endif")
	assert.Equal(t, "no ", out)
}

func TestPreprocessDefinedOperator(t *testing.T) {
	out := preprocessSrc(t, "#define FOO\n#if defined(FOO)\nyes\n#endif")
	assert.Equal(t, "yes ", out)
}

func TestPreprocessNoSelfRecursion(t *testing.T) {
	out := preprocessSrc(t, "#define FOO FOO + 1\nFOO")
	assert.Equal(t, "FOO + 1 ", out)
}

func TestPreprocessVarargs(t *testing.T) {
	out := preprocessSrc(t, "#define LOG(fmt, ...) f(fmt, __VA_ARGS__)\nLOG(\"x\", 1, 2)")
	assert.Contains(t, out, "1")
	assert.Contains(t, out, "2")
}

func TestPreprocessInclude(t *testing.T) {
	loader := NewInMemoryIncludeLoader()
	loader.Add("foo.h", []byte("int included_value;"))
	file := NewFile("test.c", 0, []byte(`#include "foo.h"`))
	arena := NewArena(0)
	lex := NewLexer(file, arena)
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	pp := NewPreprocessor(loader, nil, arena)
	out, err := pp.Process(tok)
	require.NoError(t, err)
	assert.Equal(t, "int", out.Lexeme)
}

func intTokens(tok *Token) []int64 {
	var vals []int64
	for t := tok; t != nil && t.Kind != TkEOF; t = t.Next {
		if t.Kind == TkNum {
			vals = append(vals, t.IntVal)
		}
	}
	return vals
}

func TestPreprocessEmbedSplicesByteConstants(t *testing.T) {
	loader := NewInMemoryIncludeLoader()
	loader.Add("data.bin", []byte{1, 2, 3})
	file := NewFile("test.c", 0, []byte(`#embed "data.bin"`))
	arena := NewArena(0)
	lex := NewLexer(file, arena)
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	pp := NewPreprocessor(loader, nil, arena)
	out, err := pp.Process(tok)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, intTokens(out))
}

func TestPreprocessEmbedLimitTruncates(t *testing.T) {
	loader := NewInMemoryIncludeLoader()
	loader.Add("data.bin", []byte{1, 2, 3, 4, 5})
	file := NewFile("test.c", 0, []byte(`#embed "data.bin" limit(2)`))
	arena := NewArena(0)
	lex := NewLexer(file, arena)
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	pp := NewPreprocessor(loader, nil, arena)
	out, err := pp.Process(tok)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, intTokens(out))
}

func TestPreprocessEmbedIfEmptyUsedForZeroLengthResource(t *testing.T) {
	loader := NewInMemoryIncludeLoader()
	loader.Add("empty.bin", []byte{})
	file := NewFile("test.c", 0, []byte(`#embed "empty.bin" if_empty(0)`))
	arena := NewArena(0)
	lex := NewLexer(file, arena)
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	pp := NewPreprocessor(loader, nil, arena)
	out, err := pp.Process(tok)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, intTokens(out))
}

func TestPreprocessEmbedPrefixAndSuffix(t *testing.T) {
	loader := NewInMemoryIncludeLoader()
	loader.Add("data.bin", []byte{5})
	file := NewFile("test.c", 0, []byte(`#embed "data.bin" prefix(9,) suffix(,9)`))
	arena := NewArena(0)
	lex := NewLexer(file, arena)
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	pp := NewPreprocessor(loader, nil, arena)
	out, err := pp.Process(tok)
	require.NoError(t, err)
	assert.Equal(t, []int64{9, 5, 9}, intTokens(out))
}
