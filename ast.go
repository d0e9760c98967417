package jcc

// NodeKind tags an AST node the same way tree.go's NodeType tags a PEG
// tree node; unlike a Go interface per node kind, every Node carries
// every field any kind might need, left zero otherwise. Go's garbage
// collector resolves the cyclic-type problem that the tagged/arena
// indirection note worries about, so kept/child nodes are plain
// pointers rather than arena indices, and every Node is an ordinary
// Go heap value (see NewNode).
type NodeKind int

const (
	NdNum      NodeKind = iota // integer or floating literal
	NdVar                      // variable reference
	NdMember                   // struct/union member access: obj.field
	NdDeref                    // *p
	NdAddr                     // &x
	NdAdd
	NdSub
	NdMul
	NdDiv
	NdMod
	NdBitAnd
	NdBitOr
	NdBitXor
	NdShl
	NdShr
	NdEq
	NdNe
	NdLt
	NdLe
	NdGt
	NdGe
	NdLogAnd // short-circuit &&
	NdLogOr  // short-circuit ||
	NdNot
	NdBitNot
	NdNeg
	NdCast
	NdFuncall
	NdCond   // a ? b : c
	NdComma  // a, b
	NdAssign
	NdBlock
	NdExprStmt
	NdIf
	NdFor
	NdDo
	NdWhile
	NdSwitch
	NdCase
	NdGoto
	NdLabel
	NdReturn
	NdStmtExpr  // ({ ... })
	NdLabelVal  // &&label
	NdGotoExpr  // goto *expr
	NdCAS       // _Atomic compare-and-swap
	NdExch      // _Atomic exchange
	NdMemzero   // implicit zero-init
	NdNullExpr  // no-op placeholder, e.g. empty for-clause
	NdVLAPtr    // pointer to a VLA's runtime-computed base
)

// Node is the compiler's AST node: every operation in spec.md's node
// kind list is one NodeKind value away from the rest, not a distinct
// Go type, so passes that only care about a node's Ty/Span/Kind don't
// need a type switch to reach them.
type Node struct {
	Kind NodeKind
	Ty   *Type
	Span Span

	// Literals.
	IntVal    int64
	FloatVal  float64
	IsUnsignd bool

	// NdVar / NdMember.
	Obj       *Obj
	Member    *Member
	LHS, RHS  *Node

	// NdIf/NdFor/NdDo/NdWhile/NdSwitch.
	Cond, Then, Else *Node
	Init, Inc        *Node
	Body             *Node
	CaseList         []*Node // NdSwitch: its NdCase children
	CaseVal          int64   // NdCase: the matched value; only meaningful when !IsDefault
	IsDefaultCase    bool

	// NdBlock.
	Stmts []*Node

	// NdFuncall.
	FuncName string
	FuncTy   *Type
	Args     []*Node
	IsFFI    bool

	// NdGoto/NdLabel/NdLabelVal/NdGotoExpr.
	Label   string
	UniqueLabel string

	// NdCAS/NdExch.
	AtomicAddr, AtomicOld, AtomicNew *Node

	// Set by a recoverable parse/type error: diagnostics have already
	// been recorded, so later passes must not emit secondary ones for
	// any node whose Ty is TyErrorType.
}

// NewNode allocates a Node of the given kind. Go's GC handles the
// cyclic type graphs the original C arena-handle design had to work
// around, so nodes are ordinary heap values rather than arena slots;
// see DESIGN.md for the full rationale.
func NewNode(kind NodeKind, span Span) *Node {
	return &Node{Kind: kind, Span: span}
}

func errorNode(span Span) *Node {
	return &Node{Kind: NdNullExpr, Ty: TyErrorType, Span: span}
}

// ObjKind distinguishes a named Obj's linkage/role.
type ObjKind int

const (
	ObjGlobalVar ObjKind = iota
	ObjLocalVar
	ObjParam
	ObjFunction
)

// Obj is a named program entity (spec.md's data model): a variable or
// function with linkage, type, and (for functions) a body and local
// list walked in declaration order to lay out frame slots.
type Obj struct {
	Next *Obj
	Name string
	Ty   *Type
	Kind ObjKind

	IsStatic   bool
	IsExtern   bool
	IsDefined  bool
	IsFunction bool

	// Globals.
	InitData []byte

	// Functions.
	Params   *Obj // linked via Next, declaration order
	Locals   *Obj
	Body     *Node
	StackSize int
	IsVariadic bool

	// Locals/params: offset from bp, set during frame layout.
	Offset int

	// CodeAddr is the text-segment word offset codegen assigns this
	// function; patched in once codegen reaches its definition.
	CodeAddr int
}
