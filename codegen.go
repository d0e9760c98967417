package jcc

import "fmt"

// Program is the linked, code-generated image the VM executes: a
// flat text segment of Instructions plus a data segment backing every
// global's storage. There is no on-disk serialization format; Program
// only ever exists in-process between Generate and Run.
type Program struct {
	Text      []Instruction
	Data      []byte
	Globals   map[string]int // name -> byte offset into Data
	FuncAddr  map[string]int // name -> word offset into Text
	Funcs     map[string]*Obj
	SourceMap *SourceMap // word offset -> originating source span, for runtime diagnostics
}

// Codegen lowers a linked Obj list into a Program. It is single-pass
// over each function body, with label/jump targets resolved by a
// patch list rather than a second full pass, mirroring how a small
// register-machine compiler typically backpatches forward jumps.
type Codegen struct {
	prog *Program
	cfg  *Config

	curFn      *Obj
	frameSlots map[*Obj]int // Obj -> byte offset from BP
	frameSize  int

	freeRegs map[Reg]bool

	breakTarget    []string
	continueTarget []string
	labelDefs      map[string]int
	patches        map[string][]int // label name -> Text indices whose Target field needs patching
	funcPatches    map[string][]int // callee name -> Text indices, resolved once every function is generated
	anonLabel      int
	canaryOff      int // byte offset from bp of the current function's stack canary, or -1 if disabled
	curSpan        Span // span of the node genStmt/genExpr is currently lowering, for SourceMap.Record

	vaSpillOff     int // byte offset from bp of the current function's vararg spill block, or -1 if not variadic
	vaFixedIntRegs int // count of the current function's fixed (non-float) params, i.e. how many A-regs va_start skips past
}

func NewCodegen(cfg *Config) *Codegen {
	free := map[Reg]bool{}
	for _, r := range scratchRegs {
		free[r] = true
	}
	return &Codegen{
		prog:       &Program{Globals: map[string]int{}, FuncAddr: map[string]int{}, Funcs: map[string]*Obj{}, SourceMap: &SourceMap{}},
		cfg:        cfg,
		freeRegs:   free,
		labelDefs:   map[string]int{},
		patches:     map[string][]int{},
		funcPatches: map[string][]int{},
	}
}

// Generate lowers every function and global in objs into prog.Text
// and prog.Data, returning the finished Program.
func Generate(objs *Obj, cfg *Config) (*Program, error) {
	cg := NewCodegen(cfg)
	for o := objs; o != nil; o = o.Next {
		if o.Kind == ObjGlobalVar && o.IsDefined {
			cg.layoutGlobal(o)
		}
	}
	for o := objs; o != nil; o = o.Next {
		if o.Kind == ObjFunction && o.IsDefined {
			if err := cg.genFunction(o); err != nil {
				return nil, err
			}
		}
	}
	for name, idxs := range cg.funcPatches {
		pos, ok := cg.prog.FuncAddr[name]
		if !ok {
			// Declared (prototype) but never defined in any linked
			// translation unit: per spec.md §6's FFI matching rules,
			// fall back to a foreign-function call rather than a hard
			// link error — the runtime FFI policy (disabled/deny_fatal)
			// decides whether an unresolved name is fatal.
			for _, idx := range idxs {
				cg.prog.Text[idx].Op = OpCallFFI
			}
			continue
		}
		for _, idx := range idxs {
			cg.prog.Text[idx].Target = pos
		}
	}
	return cg.prog, nil
}

func (cg *Codegen) layoutGlobal(o *Obj) {
	off := len(cg.prog.Data)
	data := o.InitData
	if data == nil {
		data = make([]byte, o.Ty.Size)
	}
	cg.prog.Data = append(cg.prog.Data, data...)
	cg.prog.Globals[o.Name] = off
}

func (cg *Codegen) allocReg() Reg {
	for _, r := range scratchRegs {
		if cg.freeRegs[r] {
			cg.freeRegs[r] = false
			return r
		}
	}
	panic("codegen: out of scratch registers")
}

func (cg *Codegen) freeReg(r Reg) {
	cg.freeRegs[r] = true
}

func (cg *Codegen) emit(i Instruction) int {
	idx := len(cg.prog.Text)
	cg.prog.Text = append(cg.prog.Text, i)
	cg.prog.SourceMap.Record(idx, cg.curSpan)
	return idx
}

func (cg *Codegen) newAnonLabel(prefix string) string {
	cg.anonLabel++
	return fmt.Sprintf(".L.%s.%d", prefix, cg.anonLabel)
}

func (cg *Codegen) defineLabel(name string) {
	pos := len(cg.prog.Text)
	cg.labelDefs[name] = pos
	for _, idx := range cg.patches[name] {
		cg.prog.Text[idx].Target = pos
		cg.prog.Text[idx].Imm = int64(pos)
	}
	delete(cg.patches, name)
}

// emitJump emits a jump/branch whose Target is resolved immediately
// if the label is already defined, or queued for patching otherwise.
func (cg *Codegen) emitJump(op Opcode, cond Reg, label string) {
	idx := cg.emit(Instruction{Op: op, Src1: cond})
	if pos, ok := cg.labelDefs[label]; ok {
		cg.prog.Text[idx].Target = pos
	} else {
		cg.patches[label] = append(cg.patches[label], idx)
	}
}

func (cg *Codegen) genFunction(fn *Obj) error {
	cg.curFn = fn
	cg.frameSlots = map[*Obj]int{}
	cg.frameSize = 0
	cg.breakTarget = nil
	cg.continueTarget = nil

	cg.prog.FuncAddr[fn.Name] = len(cg.prog.Text)
	cg.prog.Funcs[fn.Name] = fn
	fn.CodeAddr = len(cg.prog.Text)

	for l := fn.Locals; l != nil; l = l.Next {
		cg.frameSize = alignTo(cg.frameSize, l.Ty.Align)
		cg.frameSlots[l] = cg.frameSize
		l.Offset = cg.frameSize
		cg.frameSize += l.Ty.Size
	}

	canaryOff := -1
	if cg.cfg.GetBool("sanitize.stack_canary") {
		cg.frameSize = alignTo(cg.frameSize, 8)
		canaryOff = cg.frameSize
		cg.frameSize += 8
	}

	cg.vaSpillOff = -1
	cg.vaFixedIntRegs = 0
	if fn.IsVariadic {
		for _, p := range paramList(fn.Params) {
			if !IsFlonum(p.Ty) {
				cg.vaFixedIntRegs++
			}
		}
		if cg.vaFixedIntRegs > len(intArgRegs) {
			cg.vaFixedIntRegs = len(intArgRegs)
		}
		cg.frameSize = alignTo(cg.frameSize, 8)
		cg.vaSpillOff = cg.frameSize
		cg.frameSize += 8 * len(intArgRegs)
	}

	fn.StackSize = alignTo(cg.frameSize, 16)
	cg.canaryOff = canaryOff

	cg.emit(Instruction{Op: OpEnterFrame, Imm: int64(fn.StackSize), Size: canaryOff})

	for i, p := range paramList(fn.Params) {
		dst := cg.allocReg()
		if i < len(intArgRegs) {
			cg.emit(Instruction{Op: OpMov, Dst: dst, Src1: intArgRegs[i]})
		}
		cg.storeVar(p, dst)
		cg.freeReg(dst)
	}

	// Variadic prologue spill: the caller funneled every vararg
	// (floats included, via a bit-cast) into the integer A-registers
	// starting right after the fixed params, so dumping all of A0..A7
	// into one contiguous block here gives va_arg a flat array to walk
	// regardless of what each argument's real type was.
	if fn.IsVariadic {
		base := cg.allocReg()
		cg.emit(Instruction{Op: OpLoadAddr, Dst: base, Src1: RegBP, Imm: int64(cg.vaSpillOff)})
		for i, r := range intArgRegs {
			slot := cg.addrPlusImm(base, int64(i*8))
			cg.emit(Instruction{Op: OpStore64, Src1: slot, Src2: r})
			cg.freeReg(slot)
		}
		cg.freeReg(base)
	}

	if err := cg.genStmt(fn.Body); err != nil {
		return err
	}

	cg.emit(Instruction{Op: OpLeaveFrame, Imm: int64(cg.canaryOff)})
	cg.emit(Instruction{Op: OpReturn})

	if len(cg.patches) > 0 {
		return fmt.Errorf("codegen: unresolved label(s) in %q", fn.Name)
	}
	return nil
}

func paramList(head *Obj) []*Obj {
	var out []*Obj
	for o := head; o != nil; o = o.Next {
		out = append(out, o)
	}
	return out
}

// genStmt lowers a statement node; statements never leave a value in
// a register.
func (cg *Codegen) genStmt(n *Node) error {
	if n == nil {
		return nil
	}
	cg.curSpan = n.Span
	switch n.Kind {
	case NdBlock:
		for _, s := range n.Stmts {
			if err := cg.genStmt(s); err != nil {
				return err
			}
		}
	case NdExprStmt:
		r, err := cg.genExpr(n.LHS)
		if err != nil {
			return err
		}
		cg.freeReg(r)
	case NdIf:
		elseLbl := cg.newAnonLabel("else")
		endLbl := cg.newAnonLabel("endif")
		cond, err := cg.genExpr(n.Cond)
		if err != nil {
			return err
		}
		cg.emitJump(OpBranchFalse, cond, elseLbl)
		cg.freeReg(cond)
		if err := cg.genStmt(n.Then); err != nil {
			return err
		}
		cg.emitJump(OpJmp, RegZero, endLbl)
		cg.defineLabel(elseLbl)
		if n.Else != nil {
			if err := cg.genStmt(n.Else); err != nil {
				return err
			}
		}
		cg.defineLabel(endLbl)
	case NdFor:
		startLbl := cg.newAnonLabel("forstart")
		contLbl := cg.newAnonLabel("forcont")
		endLbl := cg.newAnonLabel("forend")
		if n.Init != nil {
			if err := cg.genStmt(n.Init); err != nil {
				return err
			}
		}
		cg.defineLabel(startLbl)
		if n.Cond != nil {
			cond, err := cg.genExpr(n.Cond)
			if err != nil {
				return err
			}
			cg.emitJump(OpBranchFalse, cond, endLbl)
			cg.freeReg(cond)
		}
		cg.breakTarget = append(cg.breakTarget, endLbl)
		cg.continueTarget = append(cg.continueTarget, contLbl)
		if err := cg.genStmt(n.Body); err != nil {
			return err
		}
		cg.breakTarget = cg.breakTarget[:len(cg.breakTarget)-1]
		cg.continueTarget = cg.continueTarget[:len(cg.continueTarget)-1]
		cg.defineLabel(contLbl)
		if n.Inc != nil {
			r, err := cg.genExpr(n.Inc)
			if err != nil {
				return err
			}
			cg.freeReg(r)
		}
		cg.emitJump(OpJmp, RegZero, startLbl)
		cg.defineLabel(endLbl)
	case NdWhile:
		startLbl := cg.newAnonLabel("whilestart")
		endLbl := cg.newAnonLabel("whileend")
		cg.defineLabel(startLbl)
		cond, err := cg.genExpr(n.Cond)
		if err != nil {
			return err
		}
		cg.emitJump(OpBranchFalse, cond, endLbl)
		cg.freeReg(cond)
		cg.breakTarget = append(cg.breakTarget, endLbl)
		cg.continueTarget = append(cg.continueTarget, startLbl)
		if err := cg.genStmt(n.Body); err != nil {
			return err
		}
		cg.breakTarget = cg.breakTarget[:len(cg.breakTarget)-1]
		cg.continueTarget = cg.continueTarget[:len(cg.continueTarget)-1]
		cg.emitJump(OpJmp, RegZero, startLbl)
		cg.defineLabel(endLbl)
	case NdDo:
		startLbl := cg.newAnonLabel("dostart")
		contLbl := cg.newAnonLabel("docont")
		endLbl := cg.newAnonLabel("doend")
		cg.defineLabel(startLbl)
		cg.breakTarget = append(cg.breakTarget, endLbl)
		cg.continueTarget = append(cg.continueTarget, contLbl)
		if err := cg.genStmt(n.Body); err != nil {
			return err
		}
		cg.breakTarget = cg.breakTarget[:len(cg.breakTarget)-1]
		cg.continueTarget = cg.continueTarget[:len(cg.continueTarget)-1]
		cg.defineLabel(contLbl)
		cond, err := cg.genExpr(n.Cond)
		if err != nil {
			return err
		}
		cg.emitJump(OpBranchTrue, cond, startLbl)
		cg.freeReg(cond)
		cg.defineLabel(endLbl)
	case NdSwitch:
		endLbl := cg.newAnonLabel("switchend")
		val, err := cg.genExpr(n.Cond)
		if err != nil {
			return err
		}
		var defaultLbl string
		for i, c := range n.CaseList {
			lbl := cg.newAnonLabel(fmt.Sprintf("case%d", i))
			c.UniqueLabel = lbl
			if c.IsDefaultCase {
				defaultLbl = lbl
				continue
			}
			imm := cg.allocReg()
			cg.emit(Instruction{Op: OpLoadImm, Dst: imm, Imm: c.CaseVal})
			eq := cg.allocReg()
			cg.emit(Instruction{Op: OpEq, Dst: eq, Src1: val, Src2: imm})
			cg.freeReg(imm)
			cg.emitJump(OpBranchTrue, eq, lbl)
			cg.freeReg(eq)
		}
		cg.freeReg(val)
		if defaultLbl != "" {
			cg.emitJump(OpJmp, RegZero, defaultLbl)
		} else {
			cg.emitJump(OpJmp, RegZero, endLbl)
		}
		cg.breakTarget = append(cg.breakTarget, endLbl)
		if err := cg.genStmt(n.Body); err != nil {
			return err
		}
		cg.breakTarget = cg.breakTarget[:len(cg.breakTarget)-1]
		cg.defineLabel(endLbl)
	case NdCase:
		if n.UniqueLabel != "" {
			cg.defineLabel(n.UniqueLabel)
		}
		if err := cg.genStmt(n.LHS); err != nil {
			return err
		}
	case NdLabel:
		cg.defineLabel("user$" + n.Label)
		if err := cg.genStmt(n.LHS); err != nil {
			return err
		}
	case NdGoto:
		switch n.Label {
		case "break":
			cg.emitJump(OpJmp, RegZero, cg.breakTarget[len(cg.breakTarget)-1])
		case "continue":
			cg.emitJump(OpJmp, RegZero, cg.continueTarget[len(cg.continueTarget)-1])
		default:
			cg.emitJump(OpJmp, RegZero, "user$"+n.Label)
		}
	case NdGotoExpr:
		target, err := cg.genExpr(n.LHS)
		if err != nil {
			return err
		}
		cg.emit(Instruction{Op: OpJmpIndirect, Src1: target})
		cg.freeReg(target)
	case NdReturn:
		if n.LHS != nil {
			r, err := cg.genExpr(n.LHS)
			if err != nil {
				return err
			}
			dst := RegA0
			if IsFlonum(n.LHS.Ty) {
				dst = RegFA0
				cg.emit(Instruction{Op: OpMovF, Dst: dst, Src1: r})
			} else {
				cg.emit(Instruction{Op: OpMov, Dst: dst, Src1: r})
			}
			cg.freeReg(r)
		}
		cg.emit(Instruction{Op: OpLeaveFrame, Imm: int64(cg.canaryOff)})
		cg.emit(Instruction{Op: OpReturn})
	case NdNullExpr, NdMemzero:
		r, err := cg.genExpr(n)
		if err != nil {
			return err
		}
		cg.freeReg(r)
	}
	return nil
}

// genExpr lowers an expression node, returning the scratch register
// holding its value (or, for struct/array types, its address).
func (cg *Codegen) genExpr(n *Node) (Reg, error) {
	cg.curSpan = n.Span
	switch n.Kind {
	case NdNum:
		dst := cg.allocReg()
		if IsFlonum(n.Ty) {
			cg.emit(Instruction{Op: OpLoadImmF, Dst: dst, FImm: n.FloatVal})
		} else {
			cg.emit(Instruction{Op: OpLoadImm, Dst: dst, Imm: n.IntVal})
		}
		return dst, nil
	case NdVar:
		return cg.loadVar(n.Obj), nil
	case NdMemzero:
		addr := cg.lvalueAddr(n.LHS)
		cg.emit(Instruction{Op: OpMemzero, Dst: addr, Size: n.LHS.Ty.Size})
		return addr, nil
	case NdNullExpr:
		return cg.allocReg(), nil
	case NdVLAPtr:
		return cg.genVLAAlloc(n)
	case NdAssign:
		return cg.genAssign(n)
	case NdComma:
		l, err := cg.genExpr(n.LHS)
		if err != nil {
			return 0, err
		}
		cg.freeReg(l)
		return cg.genExpr(n.RHS)
	case NdCond:
		return cg.genCond(n)
	case NdLogAnd, NdLogOr:
		return cg.genShortCircuit(n)
	case NdAddr:
		return cg.lvalueAddr(n.LHS), nil
	case NdDeref:
		addr, err := cg.genExpr(n.LHS)
		if err != nil {
			return 0, err
		}
		if cg.cfg.GetBool("sanitize.bounds") {
			cg.emit(Instruction{Op: OpCheckBounds, Src1: addr})
		}
		if cg.cfg.GetBool("sanitize.memory_tagging") {
			cg.emit(Instruction{Op: OpCheckAlive, Src1: addr})
		}
		if n.Ty != nil && (n.Ty.Kind == TyStruct || n.Ty.Kind == TyUnion || n.Ty.Kind == TyArray) {
			return addr, nil
		}
		dst := cg.allocReg()
		cg.emit(Instruction{Op: loadOpFor(n.Ty), Dst: dst, Src1: addr})
		cg.freeReg(addr)
		return dst, nil
	case NdMember:
		base := cg.lvalueAddr(n.LHS)
		off := cg.allocReg()
		cg.emit(Instruction{Op: OpLoadImm, Dst: off, Imm: int64(n.Member.Offset)})
		addr := cg.allocReg()
		cg.emit(Instruction{Op: OpAddI, Dst: addr, Src1: base, Src2: off})
		cg.freeReg(base)
		cg.freeReg(off)
		if n.Ty != nil && (n.Ty.Kind == TyStruct || n.Ty.Kind == TyUnion || n.Ty.Kind == TyArray) {
			return addr, nil
		}
		dst := cg.allocReg()
		cg.emit(Instruction{Op: loadOpFor(n.Ty), Dst: dst, Src1: addr})
		cg.freeReg(addr)
		return dst, nil
	case NdCast:
		return cg.genCast(n)
	case NdNeg:
		v, err := cg.genExpr(n.LHS)
		if err != nil {
			return 0, err
		}
		dst := cg.allocReg()
		if IsFlonum(n.Ty) {
			cg.emit(Instruction{Op: OpNegF, Dst: dst, Src1: v})
		} else {
			cg.emit(Instruction{Op: OpNeg, Dst: dst, Src1: v})
		}
		cg.freeReg(v)
		return dst, nil
	case NdNot:
		v, err := cg.genExpr(n.LHS)
		if err != nil {
			return 0, err
		}
		dst := cg.allocReg()
		cg.emit(Instruction{Op: OpNot, Dst: dst, Src1: v})
		cg.freeReg(v)
		return dst, nil
	case NdBitNot:
		v, err := cg.genExpr(n.LHS)
		if err != nil {
			return 0, err
		}
		dst := cg.allocReg()
		cg.emit(Instruction{Op: OpBitNot, Dst: dst, Src1: v})
		cg.freeReg(v)
		return dst, nil
	case NdFuncall:
		return cg.genFuncall(n)
	case NdStmtExpr:
		return cg.genStmtExpr(n)
	case NdLabelVal:
		dst := cg.allocReg()
		idx := cg.emit(Instruction{Op: OpLoadImm, Dst: dst})
		label := "user$" + n.Label
		if pos, ok := cg.labelDefs[label]; ok {
			cg.prog.Text[idx].Imm = int64(pos)
		} else {
			cg.patches[label] = append(cg.patches[label], idx)
		}
		return dst, nil
	case NdCAS:
		addr, err := cg.genExpr(n.AtomicAddr)
		if err != nil {
			return 0, err
		}
		old, err := cg.genExpr(n.AtomicOld)
		if err != nil {
			return 0, err
		}
		nw, err := cg.genExpr(n.AtomicNew)
		if err != nil {
			return 0, err
		}
		dst := cg.allocReg()
		cg.emit(Instruction{Op: OpCAS, Dst: dst, Src1: addr, Src2: old, Imm: int64(nw)})
		cg.freeReg(addr)
		cg.freeReg(old)
		cg.freeReg(nw)
		return dst, nil
	case NdExch:
		addr, err := cg.genExpr(n.AtomicAddr)
		if err != nil {
			return 0, err
		}
		nw, err := cg.genExpr(n.AtomicNew)
		if err != nil {
			return 0, err
		}
		dst := cg.allocReg()
		cg.emit(Instruction{Op: OpAtomicExchange, Dst: dst, Src1: addr, Src2: nw})
		cg.freeReg(addr)
		cg.freeReg(nw)
		return dst, nil
	}

	if n.Kind == NdAdd || n.Kind == NdSub {
		if IsPointerLike(n.LHS.Ty) || IsPointerLike(n.RHS.Ty) {
			return cg.genPointerArith(n)
		}
	}
	return cg.genBinary(n)
}

// genPointerArith lowers pointer/array/VLA +/- int and pointer - pointer,
// applying C's implicit scale-by-sizeof(element) rule; the AST never
// inserts an explicit scale node (unlike casts), so codegen does it here.
func (cg *Codegen) genPointerArith(n *Node) (Reg, error) {
	lhsPtr, rhsPtr := IsPointerLike(n.LHS.Ty), IsPointerLike(n.RHS.Ty)

	if n.Kind == NdSub && lhsPtr && rhsPtr {
		l, err := cg.genExpr(n.LHS)
		if err != nil {
			return 0, err
		}
		r, err := cg.genExpr(n.RHS)
		if err != nil {
			return 0, err
		}
		dst := cg.allocReg()
		cg.emit(Instruction{Op: OpSubI, Dst: dst, Src1: l, Src2: r})
		cg.freeReg(l)
		cg.freeReg(r)
		if elem := n.LHS.Ty.Base.Size; elem > 1 {
			sz := cg.allocReg()
			cg.emit(Instruction{Op: OpLoadImm, Dst: sz, Imm: int64(elem)})
			cg.emit(Instruction{Op: OpDivI, Dst: dst, Src1: dst, Src2: sz})
			cg.freeReg(sz)
		}
		return dst, nil
	}

	ptrNode, intNode := n.LHS, n.RHS
	if !lhsPtr {
		ptrNode, intNode = n.RHS, n.LHS
	}
	p, err := cg.genExpr(ptrNode)
	if err != nil {
		return 0, err
	}
	idx, err := cg.genExpr(intNode)
	if err != nil {
		return 0, err
	}
	elem := ptrNode.Ty.Base.Size
	scaled := idx
	if elem > 1 {
		sz := cg.allocReg()
		cg.emit(Instruction{Op: OpLoadImm, Dst: sz, Imm: int64(elem)})
		m := cg.allocReg()
		cg.emit(Instruction{Op: OpMulI, Dst: m, Src1: idx, Src2: sz})
		cg.freeReg(idx)
		cg.freeReg(sz)
		scaled = m
	}
	dst := cg.allocReg()
	op := OpAddI
	if n.Kind == NdSub {
		op = OpSubI
	}
	cg.emit(Instruction{Op: op, Dst: dst, Src1: p, Src2: scaled})
	cg.freeReg(p)
	cg.freeReg(scaled)
	return dst, nil
}

var binOpTable = map[NodeKind]struct{ i, u, f Opcode }{
	NdAdd:    {OpAddI, OpAddU, OpAddF},
	NdSub:    {OpSubI, OpSubU, OpSubF},
	NdMul:    {OpMulI, OpMulU, OpMulF},
	NdDiv:    {OpDivI, OpDivU, OpDivF},
	NdMod:    {OpModI, OpModU, OpModI},
	NdBitAnd: {OpAnd, OpAnd, OpAnd},
	NdBitOr:  {OpOr, OpOr, OpOr},
	NdBitXor: {OpXor, OpXor, OpXor},
	NdShl:    {OpShl, OpShl, OpShl},
	NdShr:    {OpShr, OpShrU, OpShr},
	NdEq:     {OpEq, OpEq, OpEq},
	NdNe:     {OpNe, OpNe, OpNe},
	NdLt:     {OpLtI, OpLtU, OpLtF},
	NdLe:     {OpLeI, OpLeU, OpLeF},
	NdGt:     {OpLtI, OpLtU, OpLtF}, // swapped operands at emission
	NdGe:     {OpLeI, OpLeU, OpLeF}, // swapped operands at emission
}

func (cg *Codegen) genBinary(n *Node) (Reg, error) {
	entry, ok := binOpTable[n.Kind]
	if !ok {
		return 0, fmt.Errorf("codegen: unhandled node kind %d", n.Kind)
	}
	lhs, rhs := n.LHS, n.RHS
	swap := n.Kind == NdGt || n.Kind == NdGe
	if swap {
		lhs, rhs = rhs, lhs
	}
	l, err := cg.genExpr(lhs)
	if err != nil {
		return 0, err
	}
	r, err := cg.genExpr(rhs)
	if err != nil {
		return 0, err
	}
	op := entry.i
	ty := n.LHS.Ty
	switch {
	case IsFlonum(ty):
		op = entry.f
	case ty != nil && ty.IsUnsigned:
		op = entry.u
	}
	dst := cg.allocReg()
	cg.emit(Instruction{Op: op, Dst: dst, Src1: l, Src2: r})
	cg.freeReg(l)
	cg.freeReg(r)
	return dst, nil
}

func (cg *Codegen) genCond(n *Node) (Reg, error) {
	elseLbl := cg.newAnonLabel("condelse")
	endLbl := cg.newAnonLabel("condend")
	dst := cg.allocReg()
	cond, err := cg.genExpr(n.Cond)
	if err != nil {
		return 0, err
	}
	cg.emitJump(OpBranchFalse, cond, elseLbl)
	cg.freeReg(cond)
	then, err := cg.genExpr(n.Then)
	if err != nil {
		return 0, err
	}
	cg.emit(Instruction{Op: OpMov, Dst: dst, Src1: then})
	cg.freeReg(then)
	cg.emitJump(OpJmp, RegZero, endLbl)
	cg.defineLabel(elseLbl)
	els, err := cg.genExpr(n.Else)
	if err != nil {
		return 0, err
	}
	cg.emit(Instruction{Op: OpMov, Dst: dst, Src1: els})
	cg.freeReg(els)
	cg.defineLabel(endLbl)
	return dst, nil
}

func (cg *Codegen) genShortCircuit(n *Node) (Reg, error) {
	shortLbl := cg.newAnonLabel("sc")
	endLbl := cg.newAnonLabel("scend")
	dst := cg.allocReg()
	l, err := cg.genExpr(n.LHS)
	if err != nil {
		return 0, err
	}
	if n.Kind == NdLogAnd {
		cg.emitJump(OpBranchFalse, l, shortLbl)
	} else {
		cg.emitJump(OpBranchTrue, l, shortLbl)
	}
	cg.freeReg(l)
	r, err := cg.genExpr(n.RHS)
	if err != nil {
		return 0, err
	}
	zero := cg.allocReg()
	cg.emit(Instruction{Op: OpLoadImm, Dst: zero, Imm: 0})
	cg.emit(Instruction{Op: OpNe, Dst: dst, Src1: r, Src2: zero})
	cg.freeReg(zero)
	cg.freeReg(r)
	cg.emitJump(OpJmp, RegZero, endLbl)
	cg.defineLabel(shortLbl)
	imm := int64(0)
	if n.Kind == NdLogOr {
		imm = 1
	}
	cg.emit(Instruction{Op: OpLoadImm, Dst: dst, Imm: imm})
	cg.defineLabel(endLbl)
	return dst, nil
}

func (cg *Codegen) genCast(n *Node) (Reg, error) {
	v, err := cg.genExpr(n.LHS)
	if err != nil {
		return 0, err
	}
	from, to := n.LHS.Ty, n.Ty
	dst := cg.allocReg()
	switch {
	case IsFlonum(to) && IsInteger(from):
		cg.emit(Instruction{Op: OpIntToFloat, Dst: dst, Src1: v})
	case IsInteger(to) && IsFlonum(from):
		cg.emit(Instruction{Op: OpFloatToInt, Dst: dst, Src1: v})
	case IsInteger(to) && to.Size == 1:
		op := OpSignExtend8
		if to.IsUnsigned {
			op = OpZeroExtend8
		}
		cg.emit(Instruction{Op: op, Dst: dst, Src1: v})
	case IsInteger(to) && to.Size == 2:
		op := OpSignExtend16
		if to.IsUnsigned {
			op = OpZeroExtend16
		}
		cg.emit(Instruction{Op: op, Dst: dst, Src1: v})
	case IsInteger(to) && to.Size == 4:
		op := OpSignExtend32
		if to.IsUnsigned {
			op = OpZeroExtend32
		}
		cg.emit(Instruction{Op: op, Dst: dst, Src1: v})
	default:
		cg.emit(Instruction{Op: OpMov, Dst: dst, Src1: v})
	}
	cg.freeReg(v)
	return dst, nil
}

func (cg *Codegen) genAssign(n *Node) (Reg, error) {
	if n.LHS.Ty != nil && (n.LHS.Ty.Kind == TyStruct || n.LHS.Ty.Kind == TyUnion) {
		dstAddr := cg.lvalueAddr(n.LHS)
		srcAddr, err := cg.genExpr(n.RHS)
		if err != nil {
			return 0, err
		}
		cg.emit(Instruction{Op: OpMemcpy, Dst: dstAddr, Src1: srcAddr, Size: n.LHS.Ty.Size})
		cg.freeReg(srcAddr)
		return dstAddr, nil
	}
	addr := cg.lvalueAddr(n.LHS)
	val, err := cg.genExpr(n.RHS)
	if err != nil {
		return 0, err
	}
	if cg.cfg.GetBool("sanitize.bounds") {
		cg.emit(Instruction{Op: OpCheckBounds, Src1: addr})
	}
	if cg.cfg.GetBool("sanitize.memory_tagging") {
		cg.emit(Instruction{Op: OpCheckAlive, Src1: addr})
	}
	cg.emit(Instruction{Op: storeOpFor(n.LHS.Ty), Src1: addr, Src2: val})
	cg.freeReg(addr)
	return val, nil
}

// lvalueAddr returns a register holding n's address, for every node
// kind that can appear on a struct-assignment or '&' left-hand side.
func (cg *Codegen) lvalueAddr(n *Node) Reg {
	switch n.Kind {
	case NdVar:
		return cg.varAddr(n.Obj)
	case NdDeref:
		addr, _ := cg.genExpr(n.LHS)
		return addr
	case NdMember:
		base := cg.lvalueAddr(n.LHS)
		off := cg.allocReg()
		cg.emit(Instruction{Op: OpLoadImm, Dst: off, Imm: int64(n.Member.Offset)})
		addr := cg.allocReg()
		cg.emit(Instruction{Op: OpAddI, Dst: addr, Src1: base, Src2: off})
		cg.freeReg(base)
		cg.freeReg(off)
		return addr
	case NdComma:
		l, _ := cg.genExpr(n.LHS)
		cg.freeReg(l)
		return cg.lvalueAddr(n.RHS)
	}
	addr, _ := cg.genExpr(n)
	return addr
}

func (cg *Codegen) varAddr(o *Obj) Reg {
	dst := cg.allocReg()
	if o.Kind == ObjGlobalVar {
		cg.emit(Instruction{Op: OpLoadAddr, Dst: dst, Imm: int64(cg.prog.Globals[o.Name])})
	} else {
		cg.emit(Instruction{Op: OpLoadAddr, Dst: dst, Src1: RegBP, Imm: int64(cg.frameSlots[o])})
	}
	return dst
}

func (cg *Codegen) loadVar(o *Obj) Reg {
	addr := cg.varAddr(o)
	if o.Ty.Kind == TyStruct || o.Ty.Kind == TyUnion || o.Ty.Kind == TyArray {
		return addr
	}
	dst := cg.allocReg()
	cg.emit(Instruction{Op: loadOpFor(o.Ty), Dst: dst, Src1: addr})
	cg.freeReg(addr)
	return dst
}

func (cg *Codegen) storeVar(o *Obj, val Reg) {
	addr := cg.varAddr(o)
	cg.emit(Instruction{Op: storeOpFor(o.Ty), Src1: addr, Src2: val})
	cg.freeReg(addr)
}

func loadOpFor(ty *Type) Opcode {
	if ty == nil {
		return OpLoad64
	}
	switch ty.Size {
	case 1:
		return OpLoad8
	case 2:
		return OpLoad16
	case 4:
		return OpLoad32
	default:
		return OpLoad64
	}
}

func storeOpFor(ty *Type) Opcode {
	if ty == nil {
		return OpStore64
	}
	switch ty.Size {
	case 1:
		return OpStore8
	case 2:
		return OpStore16
	case 4:
		return OpStore32
	default:
		return OpStore64
	}
}

// genVLAAlloc lowers the declaration point of a variable-length array:
// evaluate its length expression, multiply by the element size, hand
// the byte count to OpMalloc (the VM's alloca-equivalent), and store
// the resulting pointer into the VLA variable's own frame slot — the
// slot holds a pointer rather than inline storage, the same way
// VLAOf gives the type a fixed 8-byte size in type.go.
func (cg *Codegen) genVLAAlloc(n *Node) (Reg, error) {
	lenReg, err := cg.genExpr(n.LHS)
	if err != nil {
		return 0, err
	}
	elemSize := cg.allocReg()
	cg.emit(Instruction{Op: OpLoadImm, Dst: elemSize, Imm: int64(n.Obj.Ty.Base.Size)})
	sizeReg := cg.allocReg()
	cg.emit(Instruction{Op: OpMulI, Dst: sizeReg, Src1: lenReg, Src2: elemSize})
	cg.freeReg(lenReg)
	cg.freeReg(elemSize)
	ptr := cg.allocReg()
	cg.emit(Instruction{Op: OpMalloc, Dst: ptr, Src1: sizeReg})
	cg.freeReg(sizeReg)
	cg.storeVar(n.Obj, ptr)
	return ptr, nil
}

// genAlloca lowers alloca(n): identical to the VLA path, minus storing
// into a declared variable's frame slot, since the caller assigns the
// result itself. The allocation still only lives as long as the VM
// heap block backing it, which outlives the call (unlike real stack
// alloca) — documented as a deliberate simplification, not hidden.
func (cg *Codegen) genAlloca(n *Node) (Reg, error) {
	size, err := cg.genExpr(n.Args[0])
	if err != nil {
		return 0, err
	}
	ptr := cg.allocReg()
	cg.emit(Instruction{Op: OpMalloc, Dst: ptr, Src1: size})
	cg.freeReg(size)
	return ptr, nil
}

// addrPlusImm returns a register holding base+off, freeing neither
// input.
func (cg *Codegen) addrPlusImm(base Reg, off int64) Reg {
	o := cg.allocReg()
	cg.emit(Instruction{Op: OpLoadImm, Dst: o, Imm: off})
	dst := cg.allocReg()
	cg.emit(Instruction{Op: OpAddI, Dst: dst, Src1: base, Src2: o})
	cg.freeReg(o)
	return dst
}

// genSetjmp lowers setjmp(buf). The OpSetjmp opcode records buf's
// resume point as the instruction immediately following it — the
// start of the buf+24 address computation and OpLoad64 this function
// emits to fetch the return value out of the jmp_buf's word3 — so a
// later longjmp through the same buf (which restores buf's register)
// re-enters here and picks up the value longjmp stored, exactly as if
// this call had returned a second time.
func (cg *Codegen) genSetjmp(n *Node) (Reg, error) {
	buf, err := cg.genExpr(n.Args[0])
	if err != nil {
		return 0, err
	}
	idx := cg.emit(Instruction{Op: OpSetjmp, Src1: buf})
	cg.prog.Text[idx].Imm = int64(idx + 1)

	retAddr := cg.addrPlusImm(buf, 24)
	dst := cg.allocReg()
	cg.emit(Instruction{Op: OpLoad64, Dst: dst, Src1: retAddr})
	cg.freeReg(retAddr)
	cg.freeReg(buf)
	return dst, nil
}

// genLongjmp lowers longjmp(buf, val): stash val in the jmp_buf's
// word3 then transfer control; genFuncall's caller discards the
// returned register since longjmp never returns to its own call site.
func (cg *Codegen) genLongjmp(n *Node) (Reg, error) {
	buf, err := cg.genExpr(n.Args[0])
	if err != nil {
		return 0, err
	}
	val, err := cg.genExpr(n.Args[1])
	if err != nil {
		return 0, err
	}
	retAddr := cg.addrPlusImm(buf, 24)
	cg.emit(Instruction{Op: OpStore64, Src1: retAddr, Src2: val})
	cg.freeReg(retAddr)
	cg.freeReg(val)
	cg.emit(Instruction{Op: OpLongjmp, Src1: buf})
	cg.freeReg(buf)
	return cg.allocReg(), nil
}

// countParams returns the number of fixed (non-"...") parameters a
// function type declares.
func countParams(ty *Type) int {
	n := 0
	for p := ty.Params; p != nil; p = p.Next {
		n++
	}
	return n
}

// genVaStart lowers va_start(ap, last): ap is pointed at the vararg
// spill block's first unconsumed word, i.e. past the slots the fixed
// params already claimed. The named "last parameter" argument is
// evaluated like any other expression and then discarded — this
// runtime already knows where its own fixed params end without
// needing to cross-check against it.
func (cg *Codegen) genVaStart(n *Node) (Reg, error) {
	last, err := cg.genExpr(n.Args[1])
	if err != nil {
		return 0, err
	}
	cg.freeReg(last)

	base := cg.allocReg()
	cg.emit(Instruction{Op: OpLoadAddr, Dst: base, Src1: RegBP, Imm: int64(cg.vaSpillOff + cg.vaFixedIntRegs*8)})
	apAddr := cg.lvalueAddr(n.Args[0])
	cg.emit(Instruction{Op: OpStore64, Src1: apAddr, Src2: base})
	cg.freeReg(apAddr)
	cg.freeReg(base)
	return cg.allocReg(), nil
}

// genVaArg lowers va_arg(ap, type): read one word-aligned slot out of
// ap's current position, reinterpreting its bits as a float when type
// is a float type (mirroring the bit-cast the call site funneled it
// in with), then advance ap by one word.
func (cg *Codegen) genVaArg(n *Node) (Reg, error) {
	apAddr := cg.lvalueAddr(n.Args[0])
	cur := cg.allocReg()
	cg.emit(Instruction{Op: OpLoad64, Dst: cur, Src1: apAddr})

	dst := cg.allocReg()
	if IsFlonum(n.Ty) {
		bits := cg.allocReg()
		cg.emit(Instruction{Op: OpLoad64, Dst: bits, Src1: cur})
		cg.emit(Instruction{Op: OpIntBitsToFloat, Dst: dst, Src1: bits})
		cg.freeReg(bits)
	} else {
		cg.emit(Instruction{Op: loadOpFor(n.Ty), Dst: dst, Src1: cur})
	}

	next := cg.addrPlusImm(cur, 8)
	cg.emit(Instruction{Op: OpStore64, Src1: apAddr, Src2: next})
	cg.freeReg(next)
	cg.freeReg(cur)
	cg.freeReg(apAddr)
	return dst, nil
}

// genFuncall dispatches alloca/setjmp/longjmp straight to a VM opcode
// instead of OpCall/OpCallFFI (the three builtins spec.md calls out as
// needing VM-level support), then lowers a normal call's arguments
// into the A-register/FA-register calling convention. A struct/union
// argument is passed as the register holding its address, and a
// struct/union result comes back as the address of the callee's own
// frame copy; there is no return-buffer pool, so that address is only
// valid until the next call reuses the frame area.
func (cg *Codegen) genFuncall(n *Node) (Reg, error) {
	switch n.FuncName {
	case "alloca":
		return cg.genAlloca(n)
	case "setjmp":
		return cg.genSetjmp(n)
	case "longjmp":
		return cg.genLongjmp(n)
	case "va_start":
		return cg.genVaStart(n)
	case "va_arg":
		return cg.genVaArg(n)
	case "va_end":
		ap, err := cg.genExpr(n.Args[0])
		if err != nil {
			return 0, err
		}
		cg.freeReg(ap)
		return cg.allocReg(), nil // spill-block design needs no teardown
	}

	isVariadic := !n.IsFFI && n.FuncTy != nil && n.FuncTy.IsVariadic
	fixedCount := countParams(n.FuncTy)

	var intArgs, floatArgs, vaArgs []Reg
	for i, a := range n.Args {
		v, err := cg.genExpr(a)
		if err != nil {
			return 0, err
		}
		switch {
		case isVariadic && i >= fixedCount && IsFlonum(a.Ty):
			bits := cg.allocReg()
			cg.emit(Instruction{Op: OpFloatBitsToInt, Dst: bits, Src1: v})
			cg.freeReg(v)
			vaArgs = append(vaArgs, bits)
		case isVariadic && i >= fixedCount:
			vaArgs = append(vaArgs, v)
		case IsFlonum(a.Ty):
			floatArgs = append(floatArgs, v)
		default:
			intArgs = append(intArgs, v)
		}
	}
	for i, v := range intArgs {
		if i < len(intArgRegs) {
			cg.emit(Instruction{Op: OpMov, Dst: intArgRegs[i], Src1: v})
		}
		cg.freeReg(v)
	}
	for i, v := range floatArgs {
		if i < len(floatArgRegs) {
			cg.emit(Instruction{Op: OpMovF, Dst: floatArgRegs[i], Src1: v})
		}
		cg.freeReg(v)
	}
	// The variadic tail always funnels into the integer A-registers,
	// continuing right after the fixed int args, so the callee's
	// prologue can spill one contiguous A0..A7 block for va_arg to
	// walk regardless of each argument's original type.
	for i, v := range vaArgs {
		idx := len(intArgs) + i
		if idx < len(intArgRegs) {
			cg.emit(Instruction{Op: OpMov, Dst: intArgRegs[idx], Src1: v})
		}
		cg.freeReg(v)
	}

	op := OpCall
	if n.IsFFI {
		op = OpCallFFI
	}
	// FuncObj must carry the callee's name even when the callee has no
	// internal definition yet (a forward-referenced internal function)
	// or never will (an FFI call) — prog.Funcs is only populated once a
	// function's body is generated, so OpCallFFI's name lookup would
	// otherwise see a nil FuncObj for exactly the calls that need it.
	funcObj := cg.prog.Funcs[n.FuncName]
	if funcObj == nil {
		funcObj = &Obj{Name: n.FuncName}
	}
	idx := cg.emit(Instruction{Op: op, Imm: int64(len(n.Args)), FuncObj: funcObj})
	if !n.IsFFI {
		if pos, ok := cg.prog.FuncAddr[n.FuncName]; ok {
			cg.prog.Text[idx].Target = pos
		} else {
			cg.funcPatches[n.FuncName] = append(cg.funcPatches[n.FuncName], idx)
		}
	}

	dst := cg.allocReg()
	if n.Ty != nil && (n.Ty.Kind == TyStruct || n.Ty.Kind == TyUnion) {
		// Struct-by-value return: NdReturn left the address of the
		// callee's local copy in A0; the caller must copy out of it
		// before making another call that could reuse that frame.
		cg.emit(Instruction{Op: OpMov, Dst: dst, Src1: RegA0})
	} else if IsFlonum(n.Ty) {
		cg.emit(Instruction{Op: OpMovF, Dst: dst, Src1: RegFA0})
	} else {
		cg.emit(Instruction{Op: OpMov, Dst: dst, Src1: RegA0})
	}
	return dst, nil
}

func (cg *Codegen) genStmtExpr(n *Node) (Reg, error) {
	if n.Body == nil || len(n.Body.Stmts) == 0 {
		return cg.allocReg(), nil
	}
	for _, s := range n.Body.Stmts[:len(n.Body.Stmts)-1] {
		if err := cg.genStmt(s); err != nil {
			return 0, err
		}
	}
	last := n.Body.Stmts[len(n.Body.Stmts)-1]
	if last.Kind == NdExprStmt {
		return cg.genExpr(last.LHS)
	}
	if err := cg.genStmt(last); err != nil {
		return 0, err
	}
	return cg.allocReg(), nil
}
