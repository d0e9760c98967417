package jcc

import (
	"fmt"
	"strconv"
	"strings"
)

// macroHandler computes a dynamic builtin macro's expansion (e.g.
// __LINE__) given the token that triggered it.
type macroHandler func(pp *Preprocessor, tmpl *Token) *Token

type macroParam struct {
	name string
}

// Macro mirrors chibicc/original_source's Macro: an object-like macro
// has a nil Params/VaArgsName and a literal Body; a function-like
// macro substitutes Params (and optionally __VA_ARGS__) into Body; a
// builtin macro has a Handler instead of a Body and is recomputed at
// every expansion site.
type Macro struct {
	Name       string
	ObjLike    bool
	Params     []macroParam
	VaArgsName string
	Body       *Token
	Handler    macroHandler
}

type macroArg struct {
	name      string
	isVaArgs  bool
	tok       *Token
}

type condCtx int

const (
	condInThen condCtx = iota
	condInElif
	condInElse
)

type condIncl struct {
	next     *condIncl
	ctx      condCtx
	tok      *Token
	included bool
}

// Preprocessor expands macros and directives over a Token chain,
// implementing the Prosser hideset algorithm the same way
// original_source/src/preprocess.c does. One Preprocessor instance
// owns its own macro table and conditional stack, so two instances
// never share state.
type Preprocessor struct {
	macros        *HashMap // name -> *Macro
	cond          *condIncl
	pragmaOnce    map[string]bool
	includeGuards map[string]string
	counter       int
	loader        IncludeLoader
	searchPaths   []string
	arena         *Arena
	nextFileNum   int
	diags         []Diagnostic
	fileCache     map[string]*File
}

func NewPreprocessor(loader IncludeLoader, searchPaths []string, arena *Arena) *Preprocessor {
	pp := &Preprocessor{
		macros:        &HashMap{},
		pragmaOnce:    map[string]bool{},
		includeGuards: map[string]string{},
		loader:        loader,
		searchPaths:   searchPaths,
		arena:         arena,
		nextFileNum:   1,
		fileCache:     map[string]*File{},
	}
	pp.initBuiltins()
	return pp
}

func (pp *Preprocessor) Diagnostics() []Diagnostic { return pp.diags }

func (pp *Preprocessor) warn(tok *Token, format string, args ...any) {
	pp.diags = append(pp.diags, Diagnostic{
		Severity: SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
		Span:     tok.Span,
		Chain:    tok.expansionChain(),
	})
}

func (pp *Preprocessor) errorf(tok *Token, format string, args ...any) error {
	return NewFatalError("preprocess", fmt.Sprintf(format, args...), tok.Span)
}

func isHash(tok *Token) bool { return tok.AtBOL && tok.Is("#") }

func copyToken(t *Token) *Token {
	c := *t
	c.Next = nil
	return &c
}

func newEOF(tok *Token) *Token {
	c := copyToken(tok)
	c.Kind = TkEOF
	c.Lexeme = ""
	return c
}

func appendToks(a, b *Token) *Token {
	if a == nil || a.Kind == TkEOF {
		return b
	}
	var head Token
	cur := &head
	for t := a; t.Kind != TkEOF; t = t.Next {
		cur.Next = t
		cur = t
	}
	cur.Next = b
	return head.Next
}

// copyLine copies tokens up to (not including) the next at_bol token,
// returning *rest pointing at that boundary.
func copyLine(tok *Token) (line, rest *Token) {
	var head Token
	cur := &head
	for !tok.AtBOL {
		cur.Next = copyToken(tok)
		cur = cur.Next
		tok = tok.Next
	}
	cur.Next = newEOF(tok)
	return head.Next, tok
}

func skipLine(pp *Preprocessor, tok *Token) *Token {
	if tok.AtBOL {
		return tok
	}
	pp.warn(tok, "extra token")
	for !tok.AtBOL {
		tok = tok.Next
	}
	return tok
}

func skip(pp *Preprocessor, tok *Token, s string) (*Token, error) {
	if !tok.Is(s) {
		return nil, pp.errorf(tok, "expected %q", s)
	}
	return tok.Next, nil
}

func skipCondIncl2(tok *Token) *Token {
	for tok.Kind != TkEOF {
		if isHash(tok) && (tok.Next.Is("if") || tok.Next.Is("ifdef") || tok.Next.Is("ifndef")) {
			tok = skipCondIncl2(tok.Next.Next)
			continue
		}
		if isHash(tok) && tok.Next.Is("endif") {
			return tok.Next.Next
		}
		tok = tok.Next
	}
	return tok
}

// skipCondIncl skips tokens until the matching #elif/#else/#endif,
// handling nested #if blocks so the first #else/#endif encountered
// belongs to this one.
func skipCondIncl(tok *Token) *Token {
	for tok.Kind != TkEOF {
		if isHash(tok) && (tok.Next.Is("if") || tok.Next.Is("ifdef") || tok.Next.Is("ifndef")) {
			tok = skipCondIncl2(tok.Next.Next)
			continue
		}
		if isHash(tok) && (tok.Next.Is("elif") || tok.Next.Is("else") || tok.Next.Is("endif")) {
			break
		}
		tok = tok.Next
	}
	return tok
}

func (pp *Preprocessor) pushCondIncl(tok *Token, included bool) *condIncl {
	ci := &condIncl{next: pp.cond, ctx: condInThen, tok: tok, included: included}
	pp.cond = ci
	return ci
}

func (pp *Preprocessor) findMacro(tok *Token) *Macro {
	if tok.Kind != TkIdent && tok.Kind != TkKeyword {
		return nil
	}
	if v, ok := pp.macros.GetString(tok.Lexeme); ok {
		return v.(*Macro)
	}
	return nil
}

func (pp *Preprocessor) addMacro(name string, objLike bool, body *Token) *Macro {
	m := &Macro{Name: name, ObjLike: objLike, Body: body}
	pp.macros.PutString(name, m)
	return m
}

// DefineMacro registers an object-like macro from a literal body,
// tokenized against a synthetic <built-in> file, for command-line/API
// style -D definitions.
func (pp *Preprocessor) DefineMacro(name, body string) error {
	f := NewFile("<built-in>", 0, []byte(body))
	lx := NewLexer(f, pp.arena)
	toks, err := lx.Tokenize()
	if err != nil {
		return err
	}
	pp.addMacro(name, true, toks)
	return nil
}

func (pp *Preprocessor) UndefMacro(name string) {
	pp.macros.Delete([]byte(name))
}

func readMacroParams(pp *Preprocessor, tok *Token) (params []macroParam, vaArgsName string, rest *Token, err error) {
	for !tok.Is(")") {
		if len(params) > 0 {
			tok, err = skip(pp, tok, ",")
			if err != nil {
				return nil, "", nil, err
			}
		}
		if tok.Is("...") {
			return params, "__VA_ARGS__", tok.Next.Next, nil
		}
		if tok.Kind != TkIdent {
			return nil, "", nil, pp.errorf(tok, "expected an identifier")
		}
		if tok.Next.Is("...") {
			name := tok.Lexeme
			rest, err = skip(pp, tok.Next.Next, ")")
			return params, name, rest, err
		}
		params = append(params, macroParam{name: tok.Lexeme})
		tok = tok.Next
	}
	return params, "", tok.Next, nil
}

func readMacroDefinition(pp *Preprocessor, tok *Token) (rest *Token, err error) {
	if tok.Kind != TkIdent {
		return nil, pp.errorf(tok, "macro name must be an identifier")
	}
	name := tok.Lexeme
	tok = tok.Next

	if !tok.HasSpace && tok.Is("(") {
		params, vaArgsName, afterParams, err := readMacroParams(pp, tok.Next)
		if err != nil {
			return nil, err
		}
		body, rest := copyLine(afterParams)
		m := pp.addMacro(name, false, body)
		m.Params = params
		m.VaArgsName = vaArgsName
		return rest, nil
	}
	body, rest := copyLine(tok)
	pp.addMacro(name, true, body)
	return rest, nil
}

func readMacroArgOne(pp *Preprocessor, tok *Token, readRest bool) (arg *macroArg, rest *Token, err error) {
	var head Token
	cur := &head
	level := 0
	for {
		if level == 0 && tok.Is(")") {
			break
		}
		if level == 0 && !readRest && tok.Is(",") {
			break
		}
		if tok.Kind == TkEOF {
			return nil, nil, pp.errorf(tok, "premature end of input in macro argument list")
		}
		if tok.Is("(") {
			level++
		} else if tok.Is(")") {
			level--
		}
		cur.Next = copyToken(tok)
		cur = cur.Next
		tok = tok.Next
	}
	cur.Next = newEOF(tok)
	return &macroArg{tok: head.Next}, tok, nil
}

func readMacroArgs(pp *Preprocessor, tok *Token, params []macroParam, vaArgsName string) (args []*macroArg, rest *Token, err error) {
	start := tok
	tok = tok.Next.Next // skip name and "("

	for _, p := range params {
		if len(args) > 0 {
			tok, err = skip(pp, tok, ",")
			if err != nil {
				return nil, nil, err
			}
		}
		a, next, err := readMacroArgOne(pp, tok, false)
		if err != nil {
			return nil, nil, err
		}
		a.name = p.name
		tok = next
		args = append(args, a)
	}

	if vaArgsName != "" {
		var a *macroArg
		if tok.Is(")") {
			a = &macroArg{tok: newEOF(tok)}
		} else {
			if len(args) > 0 {
				tok, err = skip(pp, tok, ",")
				if err != nil {
					return nil, nil, err
				}
			}
			var next *Token
			a, next, err = readMacroArgOne(pp, tok, true)
			if err != nil {
				return nil, nil, err
			}
			tok = next
		}
		a.name = vaArgsName
		a.isVaArgs = true
		args = append(args, a)
	} else if len(args) < len(params) {
		return nil, nil, pp.errorf(start, "too few arguments")
	}

	rest, err = skip(pp, tok, ")")
	return args, rest, err
}

func findArg(args []*macroArg, tok *Token) *macroArg {
	for _, a := range args {
		if tok.Lexeme == a.name {
			return a
		}
	}
	return nil
}

func joinTokens(tok, end *Token) string {
	var b strings.Builder
	for t := tok; t != end && t.Kind != TkEOF; t = t.Next {
		if t != tok && t.HasSpace {
			b.WriteByte(' ')
		}
		b.WriteString(tokenText(t))
	}
	return b.String()
}

// tokenText reconstructs the literal spelling of a token for joining
// and stringizing; most tokens keep their original lexeme, but
// string/char literals are re-quoted since Bytes holds the decoded
// form.
func tokenText(t *Token) string {
	switch t.Kind {
	case TkString:
		return quoteString(t.Bytes, t.IsWide)
	case TkChar:
		return fmt.Sprintf("'%c'", rune(t.IntVal))
	case TkNum:
		if t.ValKind == ValFloat {
			return strconv.FormatFloat(t.FloatVal, 'g', -1, 64)
		}
		return strconv.FormatInt(t.IntVal, 10)
	default:
		return t.Lexeme
	}
}

func quoteString(b []byte, wide bool) string {
	var out strings.Builder
	if wide {
		out.WriteByte('L')
	}
	out.WriteByte('"')
	for _, c := range b {
		switch c {
		case '"', '\\':
			out.WriteByte('\\')
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	out.WriteByte('"')
	return out.String()
}

func newStrToken(pp *Preprocessor, s string, tmpl *Token) *Token {
	return &Token{
		Kind: TkString, File: tmpl.File, Span: tmpl.Span, Lexeme: quoteString([]byte(s), false),
		ValKind: ValBytes, Bytes: pp.arena.Bytes([]byte(s)),
	}
}

// stringize implements the '#' operator: join the argument's tokens
// (with original inter-token spacing) and wrap the result in a string
// token.
func stringize(pp *Preprocessor, hash, arg *Token) *Token {
	return newStrToken(pp, joinTokens(arg, nil), hash)
}

// paste implements the '##' operator by re-lexing the concatenation
// of the two tokens' spellings; a paste that doesn't yield exactly
// one valid token is a fatal error.
func paste(pp *Preprocessor, lhs, rhs *Token) (*Token, error) {
	buf := tokenText(lhs) + tokenText(rhs)
	f := NewFile(lhs.File.Name, lhs.File.Num, []byte(buf))
	lx := NewLexer(f, pp.arena)
	toks, err := lx.Tokenize()
	if err != nil || toks == nil || toks.Next == nil || toks.Next.Kind != TkEOF {
		return nil, pp.errorf(lhs, "pasting forms %q, an invalid token", buf)
	}
	return toks, nil
}

func hasVarargs(args []*macroArg) bool {
	for _, a := range args {
		if a.name == "__VA_ARGS__" {
			return a.tok.Kind != TkEOF
		}
	}
	return false
}

// subst replaces a function-like macro body's parameters with the
// supplied arguments, handling '#', '##', __VA_OPT__, and the GNU
// ",##__VA_ARGS__" comma-swallow extension, mirroring
// original_source/src/preprocess.c's subst().
func (pp *Preprocessor) subst(tok *Token, args []*macroArg) (*Token, error) {
	var head Token
	cur := &head

	for tok.Kind != TkEOF {
		if tok.Is("#") {
			arg := findArg(args, tok.Next)
			if arg == nil {
				return nil, pp.errorf(tok.Next, "'#' is not followed by a macro parameter")
			}
			cur.Next = stringize(pp, tok, arg.tok)
			cur = cur.Next
			tok = tok.Next.Next
			continue
		}

		if tok.Is(",") && tok.Next.Is("##") {
			if arg := findArg(args, tok.Next.Next); arg != nil && arg.isVaArgs {
				if arg.tok.Kind == TkEOF {
					tok = tok.Next.Next.Next
				} else {
					cur.Next = copyToken(tok)
					cur = cur.Next
					tok = tok.Next.Next
				}
				continue
			}
		}

		if tok.Is("##") {
			if cur == &head {
				return nil, pp.errorf(tok, "'##' cannot appear at start of macro expansion")
			}
			if tok.Next.Kind == TkEOF {
				return nil, pp.errorf(tok, "'##' cannot appear at end of macro expansion")
			}
			if arg := findArg(args, tok.Next); arg != nil {
				if arg.tok.Kind != TkEOF {
					pasted, err := paste(pp, cur, arg.tok)
					if err != nil {
						return nil, err
					}
					*cur = *pasted
					for t := arg.tok.Next; t.Kind != TkEOF; t = t.Next {
						cur.Next = copyToken(t)
						cur = cur.Next
					}
				}
				tok = tok.Next.Next
				continue
			}
			pasted, err := paste(pp, cur, tok.Next)
			if err != nil {
				return nil, err
			}
			*cur = *pasted
			tok = tok.Next.Next
			continue
		}

		arg := findArg(args, tok)

		if arg != nil && tok.Next.Is("##") {
			rhs := tok.Next.Next
			if arg.tok.Kind == TkEOF {
				if arg2 := findArg(args, rhs); arg2 != nil {
					for t := arg2.tok; t.Kind != TkEOF; t = t.Next {
						cur.Next = copyToken(t)
						cur = cur.Next
					}
				} else {
					cur.Next = copyToken(rhs)
					cur = cur.Next
				}
				tok = rhs.Next
				continue
			}
			for t := arg.tok; t.Kind != TkEOF; t = t.Next {
				cur.Next = copyToken(t)
				cur = cur.Next
			}
			tok = tok.Next
			continue
		}

		if tok.Is("__VA_OPT__") && tok.Next.Is("(") {
			inner, next, err := readMacroArgOne(pp, tok.Next.Next, true)
			if err != nil {
				return nil, err
			}
			if hasVarargs(args) {
				for t := inner.tok; t.Kind != TkEOF; t = t.Next {
					cur.Next = t
					cur = t
				}
			}
			tok, err = skip(pp, next, ")")
			if err != nil {
				return nil, err
			}
			continue
		}

		if arg != nil {
			expanded, err := pp.preprocess2(arg.tok)
			if err != nil {
				return nil, err
			}
			expanded.AtBOL = tok.AtBOL
			expanded.HasSpace = tok.HasSpace
			for t := expanded; t.Kind != TkEOF; t = t.Next {
				cur.Next = copyToken(t)
				cur = cur.Next
			}
			tok = tok.Next
			continue
		}

		cur.Next = copyToken(tok)
		cur = cur.Next
		tok = tok.Next
	}

	cur.Next = tok
	return head.Next, nil
}

// expandMacro expands tok in place if it names a macro, returning the
// new head of the (possibly unchanged) remainder and true, or false if
// tok is not a macro invocation (e.g. it's in its own hideset, or a
// func-like macro name with no following "(").
func (pp *Preprocessor) expandMacro(tok *Token) (rest *Token, expanded bool, err error) {
	if tok.Hideset.Contains(tok.Lexeme) {
		return nil, false, nil
	}
	m := pp.findMacro(tok)
	if m == nil {
		return nil, false, nil
	}

	if m.Handler != nil {
		r := m.Handler(pp, tok)
		r.Next = tok.Next
		return r, true, nil
	}

	if m.ObjLike {
		hs := tok.Hideset.Union(&Hideset{name: m.Name})
		body := addHideset(m.Body, hs)
		for t := body; t.Kind != TkEOF; t = t.Next {
			t.Origin = tok
		}
		rest = appendToks(body, tok.Next)
		rest.AtBOL = tok.AtBOL
		rest.HasSpace = tok.HasSpace
		return rest, true, nil
	}

	if !tok.Next.Is("(") {
		return nil, false, nil
	}

	macroTok := tok
	args, afterArgs, err := readMacroArgs(pp, tok, m.Params, m.VaArgsName)
	if err != nil {
		return nil, false, err
	}
	// afterArgs points past the closing ')'; walk the original token
	// chain to that ')' so the hideset is
	// (HS(macro name) ∩ HS(closing paren)) ∪ {name}.
	rparen := macroTok
	for rparen.Next != afterArgs {
		rparen = rparen.Next
	}
	hs := macroTok.Hideset.Intersect(rparen.Hideset)
	hs = hs.Union(&Hideset{name: m.Name})

	body, err := pp.subst(m.Body, args)
	if err != nil {
		return nil, false, err
	}
	body = addHideset(body, hs)
	for t := body; t.Kind != TkEOF; t = t.Next {
		t.Origin = macroTok
	}
	rest = appendToks(body, afterArgs)
	rest.AtBOL = macroTok.AtBOL
	rest.HasSpace = macroTok.HasSpace
	return rest, true, nil
}

func addHideset(tok *Token, hs *Hideset) *Token {
	var head Token
	cur := &head
	for t := tok; t.Kind != TkEOF; t = t.Next {
		c := copyToken(t)
		c.Hideset = c.Hideset.Union(hs)
		cur.Next = c
		cur = c
	}
	cur.Next = newEOF(tok)
	return head.Next
}

func detectIncludeGuard(tok *Token) string {
	if !isHash(tok) || !tok.Next.Is("ifndef") {
		return ""
	}
	tok = tok.Next.Next
	if tok.Kind != TkIdent {
		return ""
	}
	macro := tok.Lexeme
	tok = tok.Next
	if !isHash(tok) || !tok.Next.Is("define") || tok.Next.Next.Lexeme != macro {
		return ""
	}
	for tok.Kind != TkEOF {
		if !isHash(tok) {
			tok = tok.Next
			continue
		}
		if tok.Next.Is("endif") && tok.Next.Next.Kind == TkEOF {
			return macro
		}
		if tok.Next.Is("if") || tok.Next.Is("ifdef") || tok.Next.Is("ifndef") {
			tok = skipCondIncl2(tok.Next.Next)
		} else {
			tok = tok.Next
		}
	}
	return ""
}

func (pp *Preprocessor) includeFile(tok *Token, path string, filenameTok *Token) (*Token, error) {
	if pp.pragmaOnce[path] {
		return tok, nil
	}
	if guard, ok := pp.includeGuards[path]; ok {
		if _, stillDefined := pp.macros.GetString(guard); stillDefined {
			return tok, nil
		}
	}

	f, ok := pp.fileCache[path]
	if !ok {
		content, err := pp.loader.Read(path)
		if err != nil {
			return nil, pp.errorf(filenameTok, "%s: cannot open include file: %s", path, err)
		}
		f = NewFile(path, pp.nextFileNum, content)
		pp.nextFileNum++
		pp.fileCache[path] = f
	}

	lx := NewLexer(f, pp.arena)
	included, err := lx.Tokenize()
	if err != nil {
		return nil, err
	}

	if guard := detectIncludeGuard(included); guard != "" {
		pp.includeGuards[path] = guard
	}

	return appendToks(included, tok), nil
}

func readIncludeFilename(pp *Preprocessor, tok *Token) (name string, quoted bool, rest *Token, err error) {
	if tok.Kind == TkString {
		rest = skipLine(pp, tok.Next)
		return string(tok.Bytes), true, rest, nil
	}
	if tok.Is("<") {
		start := tok.Next
		for !tok.Is(">") {
			if tok.AtBOL || tok.Kind == TkEOF {
				return "", false, nil, pp.errorf(tok, "expected '>'")
			}
			tok = tok.Next
		}
		rest = skipLine(pp, tok.Next)
		return joinTokens(start, tok), false, rest, nil
	}
	if tok.Kind == TkIdent {
		line, after := copyLine(tok)
		expanded, err := pp.preprocess2(line)
		if err != nil {
			return "", false, nil, err
		}
		name, quoted, _, err := readIncludeFilename(pp, expanded)
		return name, quoted, after, err
	}
	return "", false, nil, pp.errorf(tok, "expected a filename")
}

// readEmbedFilename is readIncludeFilename's counterpart for #embed:
// it stops right after the filename instead of skipping to end of
// line, since #embed's parameter clauses (prefix/suffix/limit/
// if_empty) follow the filename on the same directive line.
func readEmbedFilename(pp *Preprocessor, tok *Token) (name string, quoted bool, rest *Token, err error) {
	if tok.Kind == TkString {
		return string(tok.Bytes), true, tok.Next, nil
	}
	if tok.Is("<") {
		start := tok.Next
		t := tok.Next
		for !t.Is(">") {
			if t.AtBOL || t.Kind == TkEOF {
				return "", false, nil, pp.errorf(tok, "expected '>'")
			}
			t = t.Next
		}
		return joinTokens(start, t), false, t.Next, nil
	}
	return "", false, nil, pp.errorf(tok, "expected a filename")
}

// readEmbedParamTokens captures the balanced-paren token list of a
// prefix/suffix/if_empty clause, copying tokens the same way macro
// argument capture does so the originals aren't spliced twice.
func readEmbedParamTokens(pp *Preprocessor, tok *Token) (toks *Token, rest *Token, err error) {
	if !tok.Is("(") {
		return nil, nil, pp.errorf(tok, "expected '(' after #embed parameter")
	}
	tok = tok.Next
	var head Token
	cur := &head
	depth := 1
	for {
		if tok.Kind == TkEOF {
			return nil, nil, pp.errorf(tok, "unterminated #embed parameter")
		}
		if tok.Is("(") {
			depth++
		} else if tok.Is(")") {
			depth--
			if depth == 0 {
				tok = tok.Next
				break
			}
		}
		c := copyToken(tok)
		cur.Next = c
		cur = c
		tok = tok.Next
	}
	cur.Next = newEOF(tok)
	return head.Next, tok, nil
}

func readEmbedLimit(pp *Preprocessor, tok *Token) (n int, rest *Token, err error) {
	if !tok.Is("(") {
		return 0, nil, pp.errorf(tok, "expected '(' after limit")
	}
	tok = tok.Next
	if tok.Kind == TkPPNum {
		if err := ConvertPPNumber(tok); err != nil {
			return 0, nil, err
		}
	}
	if tok.Kind != TkNum || tok.ValKind != ValInt {
		return 0, nil, pp.errorf(tok, "expected an integer constant in limit()")
	}
	n = int(tok.IntVal)
	tok = tok.Next
	if !tok.Is(")") {
		return 0, nil, pp.errorf(tok, "expected ')' after limit(N)")
	}
	return n, tok.Next, nil
}

func commaToken(tmpl *Token) *Token {
	return &Token{Kind: TkPunct, File: tmpl.File, Span: tmpl.Span, Lexeme: ","}
}

// embedDataTokens renders a resource's bytes as the comma-separated
// list of integer constants #embed expands to, suitable for splicing
// directly into a braced initializer the way `{ #embed "f" }` needs.
func embedDataTokens(pp *Preprocessor, data []byte, tmpl *Token) *Token {
	var head Token
	cur := &head
	for i, b := range data {
		if i > 0 {
			c := commaToken(tmpl)
			cur.Next = c
			cur = c
		}
		n := numToken(pp, int64(b), tmpl)
		cur.Next = n
		cur = n
	}
	cur.Next = newEOF(tmpl)
	return head.Next
}

// readEmbed implements #embed "file" [params...] (C23): resolve and
// read the resource through the same IncludeLoader #include uses,
// apply limit(N) by truncating, and expand to prefix tokens + the
// byte list + suffix tokens, or to if_empty's tokens when the
// (possibly limit-truncated) resource has zero bytes.
func (pp *Preprocessor) readEmbed(start, tok *Token) (*Token, error) {
	name, quoted, next, err := readEmbedFilename(pp, tok)
	if err != nil {
		return nil, err
	}

	limit := -1
	var prefix, suffix, ifEmpty *Token
	for !next.AtBOL && next.Kind != TkEOF {
		switch {
		case next.Is("prefix"):
			toks, rest, perr := readEmbedParamTokens(pp, next.Next)
			if perr != nil {
				return nil, perr
			}
			prefix, next = toks, rest
		case next.Is("suffix"):
			toks, rest, perr := readEmbedParamTokens(pp, next.Next)
			if perr != nil {
				return nil, perr
			}
			suffix, next = toks, rest
		case next.Is("if_empty"):
			toks, rest, perr := readEmbedParamTokens(pp, next.Next)
			if perr != nil {
				return nil, perr
			}
			ifEmpty, next = toks, rest
		case next.Is("limit"):
			n, rest, perr := readEmbedLimit(pp, next.Next)
			if perr != nil {
				return nil, perr
			}
			limit, next = n, rest
		default:
			return nil, pp.errorf(next, "unknown #embed parameter %q", next.Lexeme)
		}
	}
	next = skipLine(pp, next)

	dir := dirOf(start.File.Name)
	path, _, rerr := pp.loader.Resolve(name, dir, quoted, pp.searchPaths, 0)
	if rerr != nil {
		path = name
	}
	data, rerr := pp.loader.Read(path)
	if rerr != nil {
		return nil, pp.errorf(start, "%s: cannot open embed resource: %s", path, rerr)
	}
	if limit >= 0 && limit < len(data) {
		data = data[:limit]
	}

	var body *Token
	if len(data) == 0 {
		body = ifEmpty
	} else {
		body = appendToks(prefix, embedDataTokens(pp, data, start))
		body = appendToks(body, suffix)
	}
	return appendToks(body, next), nil
}

func readLineMarker(pp *Preprocessor, tok *Token) (*Token, error) {
	start := tok
	line, rest := copyLine(tok)
	processed, err := pp.preprocess2(line)
	if err != nil {
		return nil, err
	}
	if processed.Kind == TkPPNum {
		if err := ConvertPPNumber(processed); err != nil {
			return nil, err
		}
	}
	if processed.Kind != TkNum || processed.ValKind != ValInt {
		return nil, pp.errorf(processed, "invalid line marker")
	}
	start.File.LineDelta = int(processed.IntVal) - start.Location().Line
	return rest, nil
}

// preprocess2 is the directive/macro-expansion loop, mirroring
// original_source/src/preprocess.c's function of the same name.
func (pp *Preprocessor) preprocess2(tok *Token) (*Token, error) {
	var head Token
	cur := &head

	for tok.Kind != TkEOF {
		if rest, expanded, err := pp.expandMacro(tok); err != nil {
			return nil, err
		} else if expanded {
			tok = rest
			continue
		}

		if !isHash(tok) {
			cur.Next = tok
			cur = tok
			tok = tok.Next
			continue
		}

		start := tok
		tok = tok.Next

		switch {
		case tok.Is("include"):
			name, quoted, next, err := readIncludeFilename(pp, tok.Next)
			if err != nil {
				return nil, err
			}
			dir := dirOf(start.File.Name)
			path, _, rerr := pp.loader.Resolve(name, dir, quoted, pp.searchPaths, 0)
			if rerr != nil {
				path = name
			}
			tok, err = pp.includeFile(next, path, start.Next.Next)
			if err != nil {
				return nil, err
			}
			continue

		case tok.Is("include_next"):
			name, _, next, err := readIncludeFilename(pp, tok.Next)
			if err != nil {
				return nil, err
			}
			dir := dirOf(start.File.Name)
			path, _, rerr := pp.loader.Resolve(name, dir, false, pp.searchPaths, 0)
			if rerr != nil {
				path = name
			}
			tok, err = pp.includeFile(next, path, start.Next.Next)
			if err != nil {
				return nil, err
			}
			continue

		case tok.Is("embed"):
			var err error
			tok, err = pp.readEmbed(start, tok.Next)
			if err != nil {
				return nil, err
			}
			continue

		case tok.Is("define"):
			var err error
			tok, err = readMacroDefinition(pp, tok.Next)
			if err != nil {
				return nil, err
			}
			continue

		case tok.Is("undef"):
			tok = tok.Next
			if tok.Kind != TkIdent {
				return nil, pp.errorf(tok, "macro name must be an identifier")
			}
			pp.UndefMacro(tok.Lexeme)
			tok = skipLine(pp, tok.Next)
			continue

		case tok.Is("if"):
			val, next, err := pp.evalConstExprLine(tok.Next)
			if err != nil {
				return nil, err
			}
			pp.pushCondIncl(start, val != 0)
			tok = next
			if val == 0 {
				tok = skipCondIncl(tok)
			}
			continue

		case tok.Is("ifdef"):
			defined := pp.findMacro(tok.Next) != nil
			pp.pushCondIncl(tok, defined)
			tok = skipLine(pp, tok.Next.Next)
			if !defined {
				tok = skipCondIncl(tok)
			}
			continue

		case tok.Is("ifndef"):
			defined := pp.findMacro(tok.Next) != nil
			pp.pushCondIncl(tok, !defined)
			tok = skipLine(pp, tok.Next.Next)
			if defined {
				tok = skipCondIncl(tok)
			}
			continue

		case tok.Is("elif"):
			if pp.cond == nil || pp.cond.ctx == condInElse {
				return nil, pp.errorf(start, "stray #elif")
			}
			pp.cond.ctx = condInElif
			if pp.cond.included {
				tok = skipCondIncl(tok.Next)
				continue
			}
			val, next, err := pp.evalConstExprLine(tok.Next)
			if err != nil {
				return nil, err
			}
			if val != 0 {
				pp.cond.included = true
				tok = next
			} else {
				tok = skipCondIncl(next)
			}
			continue

		case tok.Is("else"):
			if pp.cond == nil || pp.cond.ctx == condInElse {
				return nil, pp.errorf(start, "stray #else")
			}
			pp.cond.ctx = condInElse
			tok = skipLine(pp, tok.Next)
			if pp.cond.included {
				tok = skipCondIncl(tok)
			}
			continue

		case tok.Is("endif"):
			if pp.cond == nil {
				return nil, pp.errorf(start, "stray #endif")
			}
			pp.cond = pp.cond.next
			tok = skipLine(pp, tok.Next)
			continue

		case tok.Is("line"):
			var err error
			tok, err = readLineMarker(pp, tok.Next)
			if err != nil {
				return nil, err
			}
			continue

		case tok.Kind == TkPPNum:
			var err error
			tok, err = readLineMarker(pp, tok)
			if err != nil {
				return nil, err
			}
			continue

		case tok.Is("pragma") && tok.Next.Is("once"):
			pp.pragmaOnce[tok.File.Name] = true
			tok = skipLine(pp, tok.Next.Next)
			continue

		case tok.Is("pragma"):
			for !tok.AtBOL {
				tok = tok.Next
			}
			continue

		case tok.Is("error"):
			return nil, pp.errorf(tok, "#error")
		}

		if tok.AtBOL {
			continue // null directive
		}
		return nil, pp.errorf(tok, "invalid preprocessor directive")
	}

	cur.Next = tok
	return head.Next, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func (pp *Preprocessor) initBuiltins() {
	add := func(name string, h macroHandler) {
		pp.macros.PutString(name, &Macro{Name: name, Handler: h})
	}
	add("__FILE__", func(pp *Preprocessor, tmpl *Token) *Token {
		return newStrToken(pp, tmpl.File.Name, tmpl)
	})
	add("__LINE__", func(pp *Preprocessor, tmpl *Token) *Token {
		line := tmpl.Location().Line + tmpl.File.LineDelta
		return numToken(pp, int64(line), tmpl)
	})
	add("__COUNTER__", func(pp *Preprocessor, tmpl *Token) *Token {
		v := pp.counter
		pp.counter++
		return numToken(pp, int64(v), tmpl)
	})
	add("__DATE__", func(pp *Preprocessor, tmpl *Token) *Token {
		return newStrToken(pp, "??? ?? ????", tmpl)
	})
	add("__TIME__", func(pp *Preprocessor, tmpl *Token) *Token {
		return newStrToken(pp, "??:??:??", tmpl)
	})
	add("__TIMESTAMP__", func(pp *Preprocessor, tmpl *Token) *Token {
		return newStrToken(pp, "??? ??? ?? ??:??:?? ????", tmpl)
	})
	pp.DefineMacro("__STDC__", "1")
	pp.DefineMacro("__STDC_VERSION__", "202311L")
}

func numToken(pp *Preprocessor, v int64, tmpl *Token) *Token {
	return &Token{Kind: TkNum, File: tmpl.File, Span: tmpl.Span, ValKind: ValInt, IntVal: v}
}

// Process runs the full preprocessing pipeline: macro/directive
// expansion followed by pp-number conversion and adjacent string
// literal concatenation, the same order as
// original_source/src/preprocess.c's top-level preprocess().
func (pp *Preprocessor) Process(tok *Token) (*Token, error) {
	out, err := pp.preprocess2(tok)
	if err != nil {
		return nil, err
	}
	if pp.cond != nil {
		return nil, pp.errorf(pp.cond.tok, "unterminated conditional directive")
	}
	for t := out; t != nil && t.Kind != TkEOF; t = t.Next {
		if t.Kind == TkPPNum {
			if err := ConvertPPNumber(t); err != nil {
				return nil, err
			}
		}
	}
	return ConcatAdjacentStrings(out), nil
}
