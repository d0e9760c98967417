package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []*Token {
	t.Helper()
	file := NewFile("test.c", 0, []byte(src))
	lex := NewLexer(file, NewArena(0))
	tok, err := lex.Tokenize()
	require.NoError(t, err)
	var out []*Token
	for tok != nil {
		out = append(out, tok)
		if tok.Kind == TkEOF {
			break
		}
		tok = tok.Next
	}
	return out
}

func TestLexKeywordsAndIdents(t *testing.T) {
	toks := lexAll(t, "int x = foo;")
	require.Len(t, toks, 6)
	assert.Equal(t, TkKeyword, toks[0].Kind)
	assert.Equal(t, "int", toks[0].Lexeme)
	assert.Equal(t, TkIdent, toks[1].Kind)
	assert.Equal(t, TkPunct, toks[2].Kind)
	assert.Equal(t, TkIdent, toks[3].Kind)
	assert.Equal(t, ";", toks[4].Lexeme)
	assert.Equal(t, TkEOF, toks[5].Kind)
}

func TestLexLongestMatchPunctuator(t *testing.T) {
	toks := lexAll(t, "a <<= b")
	assert.Equal(t, "<<=", toks[1].Lexeme)
}

func TestLexPPNumberDeferredConversion(t *testing.T) {
	toks := lexAll(t, "123")
	require.Equal(t, TkPPNum, toks[0].Kind)
	require.NoError(t, ConvertPPNumber(toks[0]))
	assert.Equal(t, TkNum, toks[0].Kind)
	assert.Equal(t, int64(123), toks[0].IntVal)
}

func TestLexFloatConstant(t *testing.T) {
	toks := lexAll(t, "3.14")
	require.NoError(t, ConvertPPNumber(toks[0]))
	assert.Equal(t, ValFloat, toks[0].ValKind)
	assert.InDelta(t, 3.14, toks[0].FloatVal, 1e-9)
}

func TestLexStringEscapes(t *testing.T) {
	toks := lexAll(t, `"a\nb"`)
	require.Equal(t, TkString, toks[0].Kind)
	assert.Equal(t, "a\nb", string(toks[0].Bytes))
}

func TestLexCharLiteral(t *testing.T) {
	toks := lexAll(t, `'\x41'`)
	require.Equal(t, TkChar, toks[0].Kind)
	assert.Equal(t, int64('A'), toks[0].IntVal)
}

func TestLexSkipsComments(t *testing.T) {
	toks := lexAll(t, "a /* comment */ // line comment\n b")
	require.Len(t, toks, 3)
	assert.Equal(t, "a", toks[0].Lexeme)
	assert.Equal(t, "b", toks[1].Lexeme)
	assert.True(t, toks[1].AtBOL)
}

func TestConcatAdjacentStrings(t *testing.T) {
	toks := lexAll(t, `"foo" "bar"`)
	merged := ConcatAdjacentStrings(toks[0])
	assert.Equal(t, "foobar", string(merged.Bytes))
	assert.Equal(t, TkEOF, merged.Next.Kind)
}

func TestLexWidePrefixedString(t *testing.T) {
	toks := lexAll(t, `L"wide"`)
	require.Equal(t, TkString, toks[0].Kind)
	assert.True(t, toks[0].IsWide)
}
