package jcc

import "fmt"

// Parser is a recursive-descent C11 parser. Declarators are parsed by
// the standard "outside-in, base then derived" pattern: declspec()
// reads the base type, then declarator() wraps it in pointer/array/
// function layers while walking outward from the identifier.
//
// Error recovery is "Level 2": recoverable records a Diagnostic,
// marks the offending node's type as TyErrorType, and the caller
// resynchronizes at the next statement boundary instead of unwinding
// the whole parse.
type Parser struct {
	tok     *Token
	arena   *Arena
	scope   *scopeStack
	globals *Obj // reverse declaration order; Parse() reverses back
	locals  *Obj
	curFn   *Obj
	gotos   []*Node
	labels  map[string]bool
	anonCount int
	diags   []Diagnostic
}

func NewParser(tok *Token, arena *Arena) *Parser {
	p := &Parser{tok: tok, arena: arena, scope: newScopeStack(), labels: map[string]bool{}}
	// va_list has no real memory layout of its own here: it's a
	// pointer into the callee's spilled-vararg block, the same
	// "opaque handle" simplification <stdarg.h> typically needs a
	// compiler intrinsic for. See genVaStart/genVaArg in codegen.go.
	p.scope.declareTypedef("va_list", PointerTo(TyVoidType))
	return p
}

func (p *Parser) Diagnostics() []Diagnostic { return p.diags }

func (p *Parser) cur() *Token  { return p.tok }
func (p *Parser) advance() *Token {
	t := p.tok
	if t.Kind != TkEOF {
		p.tok = t.Next
	}
	return t
}

func (p *Parser) at(s string) bool  { return p.tok.Is(s) }
func (p *Parser) atEOF() bool       { return p.tok.Kind == TkEOF }

func (p *Parser) consume(s string) bool {
	if p.at(s) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(s string) error {
	if !p.consume(s) {
		return p.errorf("expected %q, got %q", s, p.tok.Lexeme)
	}
	return nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return NewFatalError("parse", fmt.Sprintf(format, args...), p.tok.Span)
}

// recoverable records a Level-2 diagnostic and returns an error-typed
// stub node; callers resynchronize to the next safe boundary.
func (p *Parser) recoverable(tok *Token, format string, args ...any) *Node {
	p.diags = append(p.diags, Diagnostic{
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
		Span:     tok.Span,
		Chain:    tok.expansionChain(),
	})
	return errorNode(tok.Span)
}

// syncToStmtBoundary skips tokens until ';', '{', '}', or a
// statement-introducing keyword, so one bad statement doesn't cascade
// into spurious follow-on diagnostics.
func (p *Parser) syncToStmtBoundary() {
	for !p.atEOF() {
		if p.at(";") {
			p.advance()
			return
		}
		if p.at("{") || p.at("}") {
			return
		}
		switch p.tok.Lexeme {
		case "if", "for", "while", "do", "switch", "return", "goto", "break", "continue":
			if p.tok.Kind == TkKeyword {
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) newAnonName() string {
	p.anonCount++
	return fmt.Sprintf(".L.anon.%d", p.anonCount)
}

// ---- declaration specifiers -------------------------------------------------

type declSpec struct {
	ty        *Type
	isTypedef bool
	isStatic  bool
	isExtern  bool
	alignAs   int // >0 when an _Alignas(...) specifier overrides ty's natural alignment
}

var typeKeywords = map[string]bool{
	"void": true, "_Bool": true, "bool": true, "char": true, "short": true,
	"int": true, "long": true, "float": true, "double": true,
	"signed": true, "unsigned": true, "struct": true, "union": true, "enum": true,
	"typeof": true, "typeof_unqual": true, "const": true, "volatile": true,
	"restrict": true, "_Atomic": true,
}

func (p *Parser) isTypename() bool {
	if p.tok.Kind == TkKeyword && typeKeywords[p.tok.Lexeme] {
		return true
	}
	if p.tok.Kind == TkIdent {
		if e := p.scope.findVar(p.tok.Lexeme); e != nil && e.typeDef != nil {
			return true
		}
	}
	return false
}

// declspec parses storage-class specifiers, type qualifiers, and a
// type-specifier sequence, combining primitive keywords the way C
// allows ("unsigned long long" etc., collapsed to our 64-bit longs).
func (p *Parser) declspec() (*declSpec, error) {
	ds := &declSpec{}
	counts := map[string]int{}

	for p.isTypename() || p.at("inline") || p.at("_Noreturn") || p.at("auto") || p.at("register") || p.at("_Alignas") {
		switch {
		case p.at("_Alignas"):
			p.advance()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			if p.isTypename() {
				t, err := p.typename()
				if err != nil {
					return nil, err
				}
				ds.alignAs = t.Align
			} else {
				n, err := p.constExpr()
				if err != nil {
					return nil, err
				}
				ds.alignAs = int(n)
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			continue
		case p.at("typedef"):
			ds.isTypedef = true
			p.advance()
			continue
		case p.at("static"):
			ds.isStatic = true
			p.advance()
			continue
		case p.at("extern"):
			ds.isExtern = true
			p.advance()
			continue
		case p.at("const"), p.at("volatile"), p.at("restrict"), p.at("_Atomic"),
			p.at("inline"), p.at("_Noreturn"), p.at("auto"), p.at("register"):
			p.advance()
			continue
		case p.at("struct"):
			ty, err := p.structUnionDecl(false)
			if err != nil {
				return nil, err
			}
			ds.ty = ty
			continue
		case p.at("union"):
			ty, err := p.structUnionDecl(true)
			if err != nil {
				return nil, err
			}
			ds.ty = ty
			continue
		case p.at("enum"):
			ty, err := p.enumDecl()
			if err != nil {
				return nil, err
			}
			ds.ty = ty
			continue
		case p.at("typeof") || p.at("typeof_unqual"):
			p.advance()
			if err := p.expect("("); err != nil {
				return nil, err
			}
			var ty *Type
			if p.isTypename() {
				t, err := p.typename()
				if err != nil {
					return nil, err
				}
				ty = t
			} else {
				e, err := p.expr()
				if err != nil {
					return nil, err
				}
				addType(e)
				ty = e.Ty
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			ds.ty = ty
			continue
		case p.tok.Kind == TkIdent:
			e := p.scope.findVar(p.tok.Lexeme)
			ds.ty = e.typeDef
			p.advance()
			continue
		}

		counts[p.tok.Lexeme]++
		p.advance()
	}

	if ds.ty == nil {
		ds.ty = primitiveFromCounts(counts)
	}
	if ds.alignAs > 0 {
		// _Alignas never shrinks below the type's natural alignment;
		// CopyType keeps the singleton primitives (TyIntType etc.)
		// untouched by cloning before overriding Align.
		aligned := CopyType(ds.ty)
		if aligned.Align < ds.alignAs {
			aligned.Align = ds.alignAs
		}
		ds.ty = aligned
	}
	return ds, nil
}

func primitiveFromCounts(c map[string]int) *Type {
	switch {
	case c["void"] > 0:
		return TyVoidType
	case c["_Bool"] > 0 || c["bool"] > 0:
		return TyBoolType
	case c["double"] > 0:
		return TyDoubleType
	case c["float"] > 0:
		return TyFloatType
	case c["char"] > 0:
		if c["unsigned"] > 0 {
			return TyUCharType
		}
		return TyCharType
	case c["short"] > 0:
		if c["unsigned"] > 0 {
			return TyUShortType
		}
		return TyShortType
	case c["long"] > 0:
		if c["unsigned"] > 0 {
			return TyULongType
		}
		return TyLongType
	case c["unsigned"] > 0:
		return TyUIntType
	default:
		return TyIntType
	}
}

func (p *Parser) structUnionDecl(isUnion bool) (*Type, error) {
	p.advance() // struct/union
	var tag string
	if p.tok.Kind == TkIdent {
		tag = p.tok.Lexeme
		p.advance()
	}

	if tag != "" && !p.at("{") {
		if ty := p.scope.findTag(tag); ty != nil {
			return ty, nil
		}
		ty := StructType()
		if isUnion {
			ty = UnionType()
		}
		p.scope.declareTag(tag, ty)
		return ty, nil
	}

	ty := StructType()
	if isUnion {
		ty = UnionType()
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	if err := p.structMembers(ty); err != nil {
		return nil, err
	}
	if isUnion {
		p.layoutUnion(ty)
	} else {
		p.layoutStruct(ty)
	}
	if tag != "" {
		p.scope.declareTag(tag, ty)
	}
	return ty, nil
}

func (p *Parser) structMembers(ty *Type) error {
	var head Member
	cur := &head
	for !p.at("}") {
		ds, err := p.declspec()
		if err != nil {
			return err
		}
		first := true
		for !p.consume(";") {
			if !first {
				if err := p.expect(","); err != nil {
					return err
				}
			}
			first = false
			mty, name, err := p.declarator(ds.ty)
			if err != nil {
				return err
			}
			m := &Member{Ty: mty, Name: name}
			if p.consume(":") {
				v, err := p.constExpr()
				if err != nil {
					return err
				}
				m.IsBitfield = true
				m.BitWidth = int(v)
			}
			cur.Next = m
			cur = m
		}
	}
	if err := p.expect("}"); err != nil {
		return err
	}
	ty.Members = head.Next
	return nil
}

func alignTo(n, align int) int {
	return (n + align - 1) / align * align
}

func (p *Parser) layoutStruct(ty *Type) {
	offset := 0
	maxAlign := 1
	bitOffset := 0
	for m := ty.Members; m != nil; m = m.Next {
		if m.IsBitfield {
			unit := m.Ty.Size * 8
			if bitOffset+m.BitWidth > unit {
				offset = alignTo(offset, m.Ty.Align) + m.Ty.Size
				bitOffset = 0
			} else if bitOffset == 0 {
				offset = alignTo(offset, m.Ty.Align)
			}
			m.Offset = offset
			m.BitOffset = bitOffset
			bitOffset += m.BitWidth
			if maxAlign < m.Ty.Align {
				maxAlign = m.Ty.Align
			}
			continue
		}
		bitOffset = 0
		offset = alignTo(offset, m.Ty.Align)
		m.Offset = offset
		offset += m.Ty.Size
		if maxAlign < m.Ty.Align {
			maxAlign = m.Ty.Align
		}
	}
	if bitOffset > 0 {
		offset++
	}
	ty.Align = maxAlign
	ty.Size = alignTo(offset, maxAlign)
}

func (p *Parser) layoutUnion(ty *Type) {
	maxAlign, maxSize := 1, 0
	for m := ty.Members; m != nil; m = m.Next {
		m.Offset = 0
		if maxAlign < m.Ty.Align {
			maxAlign = m.Ty.Align
		}
		if maxSize < m.Ty.Size {
			maxSize = m.Ty.Size
		}
	}
	ty.Align = maxAlign
	ty.Size = alignTo(maxSize, maxAlign)
}

func (p *Parser) enumDecl() (*Type, error) {
	p.advance() // enum
	var tag string
	if p.tok.Kind == TkIdent {
		tag = p.tok.Lexeme
		p.advance()
	}
	if tag != "" && !p.at("{") {
		if ty := p.scope.findTag(tag); ty != nil {
			return ty, nil
		}
		ty := EnumType()
		p.scope.declareTag(tag, ty)
		return ty, nil
	}

	ty := EnumType()
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var val int64
	for !p.at("}") {
		if p.tok.Kind != TkIdent {
			return nil, p.errorf("expected an enumerator")
		}
		name := p.tok.Lexeme
		p.advance()
		if p.consume("=") {
			v, err := p.constExpr()
			if err != nil {
				return nil, err
			}
			val = v
		}
		p.scope.declareEnumConst(name, val)
		val++
		if !p.consume(",") {
			break
		}
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	if tag != "" {
		p.scope.declareTag(tag, ty)
	}
	return ty, nil
}

// ---- declarators -------------------------------------------------------

func (p *Parser) pointers(base *Type) (*Type, error) {
	for p.consume("*") {
		base = PointerTo(base)
		for p.at("const") || p.at("volatile") || p.at("restrict") || p.at("_Atomic") {
			if p.at("const") {
				base.IsConst = true
			}
			p.advance()
		}
	}
	return base, nil
}

// declarator parses a full declarator: pointers, then a direct
// declarator (identifier or parenthesized declarator), then array or
// function suffixes, composing the type outside-in the way chibicc's
// declarator()/type_suffix() pair does.
func (p *Parser) declarator(base *Type) (*Type, *Token, error) {
	ty, err := p.pointers(base)
	if err != nil {
		return nil, nil, err
	}

	if p.consume("(") {
		// Nested declarator: parse the inner declarator against a
		// placeholder, read the suffix against base, then splice.
		placeholder := &Type{}
		innerTy, name, err := p.declarator(placeholder)
		if err != nil {
			return nil, nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, nil, err
		}
		full, err := p.typeSuffix(ty)
		if err != nil {
			return nil, nil, err
		}
		*placeholder = *full
		return innerTy, name, nil
	}

	var name *Token
	if p.tok.Kind == TkIdent {
		name = p.tok
		p.advance()
	}
	full, err := p.typeSuffix(ty)
	return full, name, err
}

func (p *Parser) typeSuffix(base *Type) (*Type, error) {
	if p.consume("(") {
		return p.funcParams(base)
	}
	if p.consume("[") {
		if p.consume("]") {
			base, err := p.typeSuffix(base)
			if err != nil {
				return nil, err
			}
			return ArrayOf(base, -1), nil
		}
		if !isConstIntExprStart(p.tok) {
			lenExpr, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			inner, err := p.typeSuffix(base)
			if err != nil {
				return nil, err
			}
			return VLAOf(inner, lenExpr), nil
		}
		n, err := p.constExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect("]"); err != nil {
			return nil, err
		}
		inner, err := p.typeSuffix(base)
		if err != nil {
			return nil, err
		}
		return ArrayOf(inner, int(n)), nil
	}
	return base, nil
}

// isConstIntExprStart is a light heuristic: a leading number/char/
// paren-of-constants is treated as a constant array bound; anything
// else (an identifier, typically) means a VLA bound.
func isConstIntExprStart(tok *Token) bool {
	return tok.Kind == TkNum || tok.Kind == TkChar || tok.Is("(") || tok.Is("+") || tok.Is("-")
}

func (p *Parser) funcParams(returnTy *Type) (*Type, error) {
	ty := FuncType(returnTy)
	var head Type
	cur := &head
	for !p.at(")") {
		if cur != &head {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		if p.at("...") {
			p.advance()
			ty.IsVariadic = true
			break
		}
		if p.at("void") && p.tokAfterVoidIsCloseParen() {
			p.advance()
			break
		}
		ds, err := p.declspec()
		if err != nil {
			return nil, err
		}
		pty, name, err := p.declarator(ds.ty)
		if err != nil {
			return nil, err
		}
		if pty.Kind == TyArray {
			pty = PointerTo(pty.Base)
		}
		cur.Next = pty
		cur = pty
		pname := ""
		if name != nil {
			pname = name.Lexeme
		}
		ty.ParamNames = append(ty.ParamNames, pname)
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	ty.Params = head.Next
	return ty, nil
}

func (p *Parser) tokAfterVoidIsCloseParen() bool {
	return p.tok.Next != nil && p.tok.Next.Is(")")
}

func (p *Parser) typename() (*Type, error) {
	ds, err := p.declspec()
	if err != nil {
		return nil, err
	}
	ty, _, err := p.declarator(ds.ty)
	return ty, err
}

func (p *Parser) constExpr() (int64, error) {
	e, err := p.conditional()
	if err != nil {
		return 0, err
	}
	addType(e)
	return evalConstIntNode(e), nil
}

// evalConstIntNode folds a (already type-checked) constant integer
// expression tree; used for array bounds, bitfield widths, case
// labels, and enumerator values, all of which must be compile-time
// constants in standard C.
func evalConstIntNode(n *Node) int64 {
	if n == nil {
		return 0
	}
	switch n.Kind {
	case NdNum:
		return n.IntVal
	case NdNeg:
		return -evalConstIntNode(n.LHS)
	case NdNot:
		if evalConstIntNode(n.LHS) == 0 {
			return 1
		}
		return 0
	case NdBitNot:
		return ^evalConstIntNode(n.LHS)
	case NdAdd:
		return evalConstIntNode(n.LHS) + evalConstIntNode(n.RHS)
	case NdSub:
		return evalConstIntNode(n.LHS) - evalConstIntNode(n.RHS)
	case NdMul:
		return evalConstIntNode(n.LHS) * evalConstIntNode(n.RHS)
	case NdDiv:
		r := evalConstIntNode(n.RHS)
		if r == 0 {
			return 0
		}
		return evalConstIntNode(n.LHS) / r
	case NdMod:
		r := evalConstIntNode(n.RHS)
		if r == 0 {
			return 0
		}
		return evalConstIntNode(n.LHS) % r
	case NdBitAnd:
		return evalConstIntNode(n.LHS) & evalConstIntNode(n.RHS)
	case NdBitOr:
		return evalConstIntNode(n.LHS) | evalConstIntNode(n.RHS)
	case NdBitXor:
		return evalConstIntNode(n.LHS) ^ evalConstIntNode(n.RHS)
	case NdShl:
		return evalConstIntNode(n.LHS) << uint(evalConstIntNode(n.RHS))
	case NdShr:
		return evalConstIntNode(n.LHS) >> uint(evalConstIntNode(n.RHS))
	case NdCond:
		if evalConstIntNode(n.Cond) != 0 {
			return evalConstIntNode(n.Then)
		}
		return evalConstIntNode(n.Else)
	case NdEq:
		return boolToInt(evalConstIntNode(n.LHS) == evalConstIntNode(n.RHS))
	case NdNe:
		return boolToInt(evalConstIntNode(n.LHS) != evalConstIntNode(n.RHS))
	case NdLt:
		return boolToInt(evalConstIntNode(n.LHS) < evalConstIntNode(n.RHS))
	case NdLe:
		return boolToInt(evalConstIntNode(n.LHS) <= evalConstIntNode(n.RHS))
	case NdGt:
		return boolToInt(evalConstIntNode(n.LHS) > evalConstIntNode(n.RHS))
	case NdGe:
		return boolToInt(evalConstIntNode(n.LHS) >= evalConstIntNode(n.RHS))
	case NdLogAnd:
		return boolToInt(evalConstIntNode(n.LHS) != 0 && evalConstIntNode(n.RHS) != 0)
	case NdLogOr:
		return boolToInt(evalConstIntNode(n.LHS) != 0 || evalConstIntNode(n.RHS) != 0)
	case NdCast:
		return evalConstIntNode(n.LHS)
	default:
		return 0
	}
}
