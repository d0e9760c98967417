package jcc

// addType assigns node.Ty bottom-up, the same traversal chibicc's
// add_type performs. Error nodes propagate TyErrorType without
// recursing further, which is what lets Level-2 recovery suppress
// cascading diagnostics.
func addType(n *Node) {
	if n == nil || n.Ty != nil {
		return
	}

	addType(n.LHS)
	addType(n.RHS)
	addType(n.Cond)
	addType(n.Then)
	addType(n.Else)
	addType(n.Init)
	addType(n.Inc)
	addType(n.Body)
	for _, s := range n.Stmts {
		addType(s)
	}
	for _, a := range n.Args {
		addType(a)
	}
	for _, c := range n.CaseList {
		addType(c)
	}
	addType(n.AtomicAddr)
	addType(n.AtomicOld)
	addType(n.AtomicNew)

	switch n.Kind {
	case NdNum:
		if n.Ty == nil {
			n.Ty = TyIntType
		}
	case NdAdd, NdSub:
		if n.LHS != nil && n.RHS != nil && IsNumeric(n.LHS.Ty) && IsNumeric(n.RHS.Ty) {
			n.Ty = CommonType(n.LHS.Ty, n.RHS.Ty)
		} else if n.LHS != nil && IsPointerLike(n.LHS.Ty) {
			if n.Kind == NdSub && n.RHS != nil && IsPointerLike(n.RHS.Ty) {
				n.Ty = TyLongType
			} else {
				n.Ty = n.LHS.Ty
			}
		} else if n.RHS != nil && IsPointerLike(n.RHS.Ty) {
			n.Ty = n.RHS.Ty
		} else {
			n.Ty = TyIntType
		}
	case NdMul, NdDiv, NdMod, NdBitAnd, NdBitOr, NdBitXor:
		n.Ty = CommonType(n.LHS.Ty, n.RHS.Ty)
	case NdShl, NdShr:
		n.Ty = n.LHS.Ty
	case NdNeg:
		n.Ty = n.LHS.Ty
	case NdBitNot, NdNot:
		n.Ty = TyIntType
	case NdEq, NdNe, NdLt, NdLe, NdGt, NdGe, NdLogAnd, NdLogOr:
		n.Ty = TyIntType
	case NdAssign:
		if n.LHS.Ty.Kind == TyArray {
			n.LHS.Ty = TyErrorType
		}
		n.Ty = n.LHS.Ty
	case NdComma:
		n.Ty = n.RHS.Ty
	case NdMember:
		n.Ty = n.Member.Ty
	case NdAddr:
		if n.LHS.Ty.Kind == TyArray {
			n.Ty = PointerTo(n.LHS.Ty.Base)
		} else {
			n.Ty = PointerTo(n.LHS.Ty)
		}
	case NdDeref:
		if n.LHS.Ty == nil || (n.LHS.Ty.Base == nil) {
			n.Ty = TyErrorType
		} else {
			n.Ty = n.LHS.Ty.Base
		}
	case NdVar:
		n.Ty = n.Obj.Ty
	case NdFuncall:
		if n.FuncTy != nil {
			n.Ty = n.FuncTy.ReturnTy
		} else {
			n.Ty = TyIntType
		}
	case NdStmtExpr:
		if n.Body != nil && len(n.Body.Stmts) > 0 {
			last := n.Body.Stmts[len(n.Body.Stmts)-1]
			if last.Kind == NdExprStmt {
				n.Ty = last.LHS.Ty
			}
		}
		if n.Ty == nil {
			n.Ty = TyVoidType
		}
	case NdCond:
		if IsNumeric(n.Then.Ty) && IsNumeric(n.Else.Ty) {
			n.Ty = CommonType(n.Then.Ty, n.Else.Ty)
		} else {
			n.Ty = n.Then.Ty
		}
	case NdCAS, NdExch:
		n.Ty = TyIntType
	case NdLabelVal:
		n.Ty = PointerTo(TyVoidType)
	case NdVLAPtr:
		n.Ty = PointerTo(n.Obj.Ty.Base)
	case NdMemzero, NdNullExpr, NdBlock, NdExprStmt, NdIf, NdFor, NdDo, NdWhile,
		NdSwitch, NdCase, NdGoto, NdLabel, NdReturn, NdGotoExpr:
		// statements carry no value type
	}

	if n.Ty == nil {
		n.Ty = TyIntType
	}
}
