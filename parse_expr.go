package jcc

// Expression parsing follows the standard C precedence cascade:
// assign -> conditional -> logOr -> logAnd -> bitOr -> bitXor ->
// bitAnd -> equality -> relational -> shift -> add -> mul -> cast ->
// unary -> postfix -> primary. Every constructor below threads the
// result through addType so later passes never see an untyped node
// except the error stub from recoverable().

func (p *Parser) expr() (*Node, error) {
	n, err := p.assign()
	if err != nil {
		return nil, err
	}
	for p.consume(",") {
		rhs, err := p.assign()
		if err != nil {
			return nil, err
		}
		n = &Node{Kind: NdComma, LHS: n, RHS: rhs, Span: n.Span}
		addType(n)
	}
	return n, nil
}

func (p *Parser) assign() (*Node, error) {
	n, err := p.conditional()
	if err != nil {
		return nil, err
	}
	switch {
	case p.consume("="):
		rhs, err := p.assign()
		if err != nil {
			return nil, err
		}
		n = &Node{Kind: NdAssign, LHS: n, RHS: rhs, Span: n.Span}
	case p.atCompoundAssign():
		op := p.advance()
		rhs, err := p.assign()
		if err != nil {
			return nil, err
		}
		kind := compoundOpKind(op.Lexeme)
		inner := &Node{Kind: kind, LHS: n, RHS: rhs, Span: n.Span}
		n = &Node{Kind: NdAssign, LHS: n, RHS: inner, Span: n.Span}
	}
	addType(n)
	return n, nil
}

func (p *Parser) atCompoundAssign() bool {
	switch p.tok.Lexeme {
	case "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "<<=", ">>=":
		return p.tok.Kind == TkPunct
	}
	return false
}

func compoundOpKind(op string) NodeKind {
	switch op {
	case "+=":
		return NdAdd
	case "-=":
		return NdSub
	case "*=":
		return NdMul
	case "/=":
		return NdDiv
	case "%=":
		return NdMod
	case "&=":
		return NdBitAnd
	case "|=":
		return NdBitOr
	case "^=":
		return NdBitXor
	case "<<=":
		return NdShl
	case ">>=":
		return NdShr
	}
	return NdAdd
}

func (p *Parser) conditional() (*Node, error) {
	cond, err := p.logOr()
	if err != nil {
		return nil, err
	}
	if !p.consume("?") {
		return cond, nil
	}
	then, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	els, err := p.conditional()
	if err != nil {
		return nil, err
	}
	n := &Node{Kind: NdCond, Cond: cond, Then: then, Else: els, Span: cond.Span}
	addType(n)
	return n, nil
}

func (p *Parser) binaryLevel(ops []string, kindOf func(string) NodeKind, next func() (*Node, error)) (*Node, error) {
	n, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, op := range ops {
			if p.tok.Lexeme == op && p.tok.Kind == TkPunct {
				matched = op
				break
			}
		}
		if matched == "" {
			break
		}
		p.advance()
		rhs, err := next()
		if err != nil {
			return nil, err
		}
		n = &Node{Kind: kindOf(matched), LHS: n, RHS: rhs, Span: n.Span}
		addType(n)
	}
	return n, nil
}

func (p *Parser) logOr() (*Node, error) {
	return p.binaryLevel([]string{"||"}, func(string) NodeKind { return NdLogOr }, p.logAnd)
}
func (p *Parser) logAnd() (*Node, error) {
	return p.binaryLevel([]string{"&&"}, func(string) NodeKind { return NdLogAnd }, p.bitOr)
}
func (p *Parser) bitOr() (*Node, error) {
	return p.binaryLevel([]string{"|"}, func(string) NodeKind { return NdBitOr }, p.bitXor)
}
func (p *Parser) bitXor() (*Node, error) {
	return p.binaryLevel([]string{"^"}, func(string) NodeKind { return NdBitXor }, p.bitAnd)
}
func (p *Parser) bitAnd() (*Node, error) {
	return p.binaryLevel([]string{"&"}, func(string) NodeKind { return NdBitAnd }, p.equality)
}
func (p *Parser) equality() (*Node, error) {
	return p.binaryLevel([]string{"==", "!="}, func(s string) NodeKind {
		if s == "==" {
			return NdEq
		}
		return NdNe
	}, p.relational)
}
func (p *Parser) relational() (*Node, error) {
	return p.binaryLevel([]string{"<", "<=", ">", ">="}, func(s string) NodeKind {
		switch s {
		case "<":
			return NdLt
		case "<=":
			return NdLe
		case ">":
			return NdGt
		default:
			return NdGe
		}
	}, p.shift)
}
func (p *Parser) shift() (*Node, error) {
	return p.binaryLevel([]string{"<<", ">>"}, func(s string) NodeKind {
		if s == "<<" {
			return NdShl
		}
		return NdShr
	}, p.additive)
}
func (p *Parser) additive() (*Node, error) {
	return p.binaryLevel([]string{"+", "-"}, func(s string) NodeKind {
		if s == "+" {
			return NdAdd
		}
		return NdSub
	}, p.multiplicative)
}
func (p *Parser) multiplicative() (*Node, error) {
	return p.binaryLevel([]string{"*", "/", "%"}, func(s string) NodeKind {
		switch s {
		case "*":
			return NdMul
		case "/":
			return NdDiv
		default:
			return NdMod
		}
	}, p.cast)
}

// cast handles both C-style casts "(T)e" and compound literals
// "(T){...}", disambiguated by whether '{' follows the closing paren.
func (p *Parser) cast() (*Node, error) {
	if p.at("(") && p.tokenAfterParenStartsTypename() {
		start := p.tok
		p.advance()
		ty, err := p.typename()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		if p.at("{") {
			return p.compoundLiteral(ty, start)
		}
		operand, err := p.cast()
		if err != nil {
			return nil, err
		}
		n := &Node{Kind: NdCast, LHS: operand, Ty: ty, Span: start.Span}
		return n, nil
	}
	return p.unary()
}

func (p *Parser) tokenAfterParenStartsTypename() bool {
	next := p.tok.Next
	if next == nil {
		return false
	}
	if next.Kind == TkKeyword && typeKeywords[next.Lexeme] {
		return true
	}
	if next.Kind == TkIdent {
		if e := p.scope.findVar(next.Lexeme); e != nil && e.typeDef != nil {
			return true
		}
	}
	return false
}

// compoundLiteral parses "(T){ initializer-list }" as an anonymous
// local (or global, at file scope) object, returning a reference to
// it; initializer lowers the values into a memzero followed by
// per-member assignments, and the returned comma node runs those
// before yielding the object itself.
func (p *Parser) compoundLiteral(ty *Type, tok *Token) (*Node, error) {
	name := p.newAnonName()
	obj := &Obj{Name: name, Ty: ty, Kind: ObjLocalVar}
	if p.curFn == nil {
		obj.Kind = ObjGlobalVar
		obj.IsDefined = true
	}
	p.declareLocalOrGlobal(obj)
	varNode := &Node{Kind: NdVar, Obj: obj, Span: tok.Span}
	addType(varNode)
	init, err := p.initializer(varNode, ty)
	if err != nil {
		return nil, err
	}
	n := &Node{Kind: NdComma, LHS: init, RHS: varNode, Span: tok.Span}
	addType(n)
	return n, nil
}

func (p *Parser) declareLocalOrGlobal(obj *Obj) {
	if obj.Kind == ObjGlobalVar {
		obj.Next = p.globals
		p.globals = obj
	} else {
		obj.Next = p.locals
		p.locals = obj
	}
	p.scope.declareVar(obj.Name, obj)
}

func (p *Parser) unary() (*Node, error) {
	tok := p.tok
	switch {
	case p.consume("+"):
		return p.cast()
	case p.consume("-"):
		v, err := p.cast()
		if err != nil {
			return nil, err
		}
		n := &Node{Kind: NdNeg, LHS: v, Span: tok.Span}
		addType(n)
		return n, nil
	case p.consume("!"):
		v, err := p.cast()
		if err != nil {
			return nil, err
		}
		n := &Node{Kind: NdNot, LHS: v, Span: tok.Span}
		addType(n)
		return n, nil
	case p.consume("~"):
		v, err := p.cast()
		if err != nil {
			return nil, err
		}
		n := &Node{Kind: NdBitNot, LHS: v, Span: tok.Span}
		addType(n)
		return n, nil
	case p.consume("*"):
		v, err := p.cast()
		if err != nil {
			return nil, err
		}
		n := &Node{Kind: NdDeref, LHS: v, Span: tok.Span}
		addType(n)
		return n, nil
	case p.at("&&") || p.at("&"):
		if p.consume("&&") || (p.consume("&") && p.consume("&")) { // labels-as-values: &&label
			if p.tok.Kind != TkIdent {
				return nil, p.errorf("expected a label name after '&&'")
			}
			label := p.tok.Lexeme
			p.advance()
			n := &Node{Kind: NdLabelVal, Label: label, Span: tok.Span}
			addType(n)
			return n, nil
		}
		v, err := p.cast()
		if err != nil {
			return nil, err
		}
		n := &Node{Kind: NdAddr, LHS: v, Span: tok.Span}
		addType(n)
		return n, nil
	case p.consume("++"):
		v, err := p.unary()
		if err != nil {
			return nil, err
		}
		return p.incDec(v, NdAdd, tok)
	case p.consume("--"):
		v, err := p.unary()
		if err != nil {
			return nil, err
		}
		return p.incDec(v, NdSub, tok)
	case p.at("sizeof"):
		return p.sizeofExpr()
	case p.at("_Alignof"):
		return p.alignofExpr()
	}
	return p.postfix()
}

func (p *Parser) incDec(v *Node, kind NodeKind, tok *Token) (*Node, error) {
	one := &Node{Kind: NdNum, IntVal: 1, Span: tok.Span, Ty: TyIntType}
	inner := &Node{Kind: kind, LHS: v, RHS: one, Span: tok.Span}
	n := &Node{Kind: NdAssign, LHS: v, RHS: inner, Span: tok.Span}
	addType(n)
	return n, nil
}

func (p *Parser) sizeofExpr() (*Node, error) {
	tok := p.advance()
	if p.at("(") && p.tokenAfterParenStartsTypename() {
		p.advance()
		ty, err := p.typename()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return &Node{Kind: NdNum, IntVal: int64(ty.Size), Ty: TyULongType, Span: tok.Span}, nil
	}
	v, err := p.unary()
	if err != nil {
		return nil, err
	}
	addType(v)
	return &Node{Kind: NdNum, IntVal: int64(v.Ty.Size), Ty: TyULongType, Span: tok.Span}, nil
}

func (p *Parser) alignofExpr() (*Node, error) {
	tok := p.advance()
	if err := p.expect("("); err != nil {
		return nil, err
	}
	ty, err := p.typename()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return &Node{Kind: NdNum, IntVal: int64(ty.Align), Ty: TyULongType, Span: tok.Span}, nil
}

func (p *Parser) postfix() (*Node, error) {
	n, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.tok
		switch {
		case p.consume("["):
			idx, err := p.expr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			sum := &Node{Kind: NdAdd, LHS: n, RHS: idx, Span: tok.Span}
			addType(sum)
			n = &Node{Kind: NdDeref, LHS: sum, Span: tok.Span}
			addType(n)
		case p.consume("."):
			n, err = p.memberAccess(n, tok, false)
			if err != nil {
				return nil, err
			}
		case p.consume("->"):
			n, err = p.memberAccess(n, tok, true)
			if err != nil {
				return nil, err
			}
		case p.consume("++"):
			n, err = p.postIncDec(n, NdAdd, tok)
			if err != nil {
				return nil, err
			}
		case p.consume("--"):
			n, err = p.postIncDec(n, NdSub, tok)
			if err != nil {
				return nil, err
			}
		default:
			return n, nil
		}
	}
}

func (p *Parser) postIncDec(v *Node, kind NodeKind, tok *Token) (*Node, error) {
	assign, err := p.incDec(v, kind, tok)
	if err != nil {
		return nil, err
	}
	one := &Node{Kind: NdNum, IntVal: 1, Ty: TyIntType, Span: tok.Span}
	undo := &Node{Kind: oppositeKind(kind), LHS: assign, RHS: one, Span: tok.Span}
	addType(undo)
	return undo, nil
}

func oppositeKind(k NodeKind) NodeKind {
	if k == NdAdd {
		return NdSub
	}
	return NdAdd
}

func (p *Parser) memberAccess(base *Node, tok *Token, arrow bool) (*Node, error) {
	if arrow {
		base = &Node{Kind: NdDeref, LHS: base, Span: tok.Span}
		addType(base)
	}
	if p.tok.Kind != TkIdent {
		return nil, p.errorf("expected a member name")
	}
	name := p.tok.Lexeme
	p.advance()
	ty := base.Ty
	if ty == nil || (ty.Kind != TyStruct && ty.Kind != TyUnion) {
		return p.recoverable(tok, "not a struct or union"), nil
	}
	for m := ty.Members; m != nil; m = m.Next {
		if m.Name != nil && m.Name.Lexeme == name {
			n := &Node{Kind: NdMember, LHS: base, Member: m, Span: tok.Span}
			addType(n)
			return n, nil
		}
	}
	return p.recoverable(tok, "no member named %q", name), nil
}

func (p *Parser) primary() (*Node, error) {
	tok := p.tok
	switch {
	case p.consume("("):
		if p.at("{") {
			return p.stmtExpr(tok)
		}
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return n, nil
	case tok.Kind == TkNum:
		p.advance()
		n := &Node{Kind: NdNum, Span: tok.Span}
		if tok.ValKind == ValFloat {
			n.FloatVal = tok.FloatVal
			n.Ty = TyDoubleType
		} else {
			n.IntVal = tok.IntVal
			n.IsUnsignd = tok.IsUnsigned
			n.Ty = TyIntType
			if tok.IsUnsigned {
				n.Ty = TyUIntType
			}
		}
		return n, nil
	case tok.Kind == TkChar:
		p.advance()
		return &Node{Kind: NdNum, IntVal: tok.IntVal, Ty: TyIntType, Span: tok.Span}, nil
	case tok.Kind == TkString:
		p.advance()
		return p.stringLiteral(tok)
	case tok.Is("sizeof"):
		return p.sizeofExpr()
	case tok.Is("_Generic"):
		return p.genericSelection()
	case tok.Kind == TkIdent:
		return p.identPrimary(tok)
	}
	return p.recoverable(tok, "expected an expression, got %q", tok.Lexeme), nil
}

func (p *Parser) identPrimary(tok *Token) (*Node, error) {
	name := tok.Lexeme
	p.advance()

	if name == "va_arg" && p.at("(") {
		return p.vaArgExpr(tok)
	}

	if p.at("(") {
		return p.funcall(name, tok)
	}

	entry := p.scope.findVar(name)
	if entry == nil {
		return p.recoverable(tok, "undefined identifier %q", name), nil
	}
	if entry.isEnum {
		return &Node{Kind: NdNum, IntVal: entry.enumVal, Ty: TyIntType, Span: tok.Span}, nil
	}
	n := &Node{Kind: NdVar, Obj: entry.obj, Span: tok.Span}
	addType(n)
	return n, nil
}

// vaArgExpr parses `va_arg(ap, type)`, the one variadic builtin whose
// second "argument" is a type-name rather than an expression — the
// same reason sizeof/cast need their own parse path instead of going
// through the generic comma-separated argument list funcall() uses.
func (p *Parser) vaArgExpr(tok *Token) (*Node, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	ap, err := p.assign()
	if err != nil {
		return nil, err
	}
	if err := p.expect(","); err != nil {
		return nil, err
	}
	ty, err := p.typename()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	n := &Node{Kind: NdFuncall, FuncName: "va_arg", Args: []*Node{ap}, FuncTy: FuncType(ty), Span: tok.Span}
	addType(n)
	return n, nil
}

func (p *Parser) funcall(name string, tok *Token) (*Node, error) {
	p.advance() // "("
	var args []*Node
	for !p.at(")") {
		if len(args) > 0 {
			if err := p.expect(","); err != nil {
				return nil, err
			}
		}
		a, err := p.assign()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	n := &Node{Kind: NdFuncall, FuncName: name, Args: args, Span: tok.Span}
	switch name {
	case "alloca":
		n.FuncTy = FuncType(PointerTo(TyVoidType))
	case "setjmp":
		n.FuncTy = FuncType(TyIntType)
	case "longjmp":
		n.FuncTy = FuncType(TyVoidType)
	case "va_start", "va_end":
		n.FuncTy = FuncType(TyVoidType)
	default:
		if entry := p.scope.findVar(name); entry != nil && entry.obj != nil {
			n.FuncTy = entry.obj.Ty
		} else {
			n.IsFFI = true
			n.FuncTy = FuncType(TyIntType)
			n.FuncTy.IsVariadic = true
		}
	}
	addType(n)
	return n, nil
}

// genericSelection evaluates _Generic at parse time (our type system
// is fully resolved by then), returning only the chosen association's
// expression.
func (p *Parser) genericSelection() (*Node, error) {
	tok := p.advance()
	if err := p.expect("("); err != nil {
		return nil, err
	}
	ctrl, err := p.assign()
	if err != nil {
		return nil, err
	}
	addType(ctrl)
	var chosen, def *Node
	for p.consume(",") {
		if p.consume("default") {
			if err := p.expect(":"); err != nil {
				return nil, err
			}
			e, err := p.assign()
			if err != nil {
				return nil, err
			}
			def = e
			continue
		}
		ty, err := p.typename()
		if err != nil {
			return nil, err
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		e, err := p.assign()
		if err != nil {
			return nil, err
		}
		if chosen == nil && IsCompatible(ty, ctrl.Ty) {
			chosen = e
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	if chosen != nil {
		return chosen, nil
	}
	if def != nil {
		return def, nil
	}
	return p.recoverable(tok, "no matching _Generic association"), nil
}

func (p *Parser) stringLiteral(tok *Token) (*Node, error) {
	name := p.newAnonName()
	ty := ArrayOf(TyCharType, len(tok.Bytes)+1)
	obj := &Obj{Name: name, Ty: ty, Kind: ObjGlobalVar, IsStatic: true, IsDefined: true, InitData: append(append([]byte{}, tok.Bytes...), 0)}
	obj.Next = p.globals
	p.globals = obj
	n := &Node{Kind: NdVar, Obj: obj, Span: tok.Span}
	addType(n)
	return n, nil
}

// stmtExpr parses a GNU statement expression "({ ... })": the value
// of the expression is the value of its last expression-statement.
func (p *Parser) stmtExpr(tok *Token) (*Node, error) {
	p.scope.push()
	defer p.scope.pop()
	block, err := p.compoundStmt()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	n := &Node{Kind: NdStmtExpr, Body: block, Span: tok.Span}
	addType(n)
	return n, nil
}
