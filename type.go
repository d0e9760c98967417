package jcc

// TypeKind tags a Type's variant; structural fields (Base, Params,
// Members, ...) that don't apply to a given kind stay zero.
type TypeKind int

const (
	TyVoid TypeKind = iota
	TyBool
	TyChar
	TyShort
	TyInt
	TyLong
	TyFloat
	TyDouble
	TyLDouble
	TyEnum
	TyPtr
	TyArray
	TyVLA
	TyFunc
	TyStruct
	TyUnion
	TyError
)

// Type is the C type graph node. Structs, unions, and function
// parameter chains are mutated in place while the parser discovers
// members, so Type is always handled by pointer; CopyType is the only
// way to get a distinct value (used to attach an origin for typedefs).
type Type struct {
	Kind        TypeKind
	Size        int
	Align       int
	IsUnsigned  bool
	IsConst     bool
	IsAtomic    bool
	IsFlexible  bool // struct/union with a trailing flexible array member

	// Origin points back at the type this one was copied from (e.g.
	// via a typedef); IsCompatible unwraps it before comparing kinds.
	Origin *Type

	Base     *Type // Pointer/Array/VLA element type
	ArrayLen int   // Array: >=0 length, -1 = incomplete

	VLALen *Node // VLA: length expression, evaluated at the declaration point

	ReturnTy    *Type
	Params      *Type // linked via Next
	Next        *Type
	IsVariadic  bool
	ParamNames  []string

	Members *Member // Struct/Union
	Tag     string
}

var (
	TyVoidType  = &Type{Kind: TyVoid, Size: 1, Align: 1}
	TyBoolType  = &Type{Kind: TyBool, Size: 1, Align: 1}
	TyCharType  = &Type{Kind: TyChar, Size: 1, Align: 1}
	TyShortType = &Type{Kind: TyShort, Size: 2, Align: 2}
	TyIntType   = &Type{Kind: TyInt, Size: 4, Align: 4}
	TyLongType  = &Type{Kind: TyLong, Size: 8, Align: 8}

	TyUCharType  = &Type{Kind: TyChar, Size: 1, Align: 1, IsUnsigned: true}
	TyUShortType = &Type{Kind: TyShort, Size: 2, Align: 2, IsUnsigned: true}
	TyUIntType   = &Type{Kind: TyInt, Size: 4, Align: 4, IsUnsigned: true}
	TyULongType  = &Type{Kind: TyLong, Size: 8, Align: 8, IsUnsigned: true}

	TyFloatType   = &Type{Kind: TyFloat, Size: 4, Align: 4}
	TyDoubleType  = &Type{Kind: TyDouble, Size: 8, Align: 8}
	TyLDoubleType = &Type{Kind: TyLDouble, Size: 16, Align: 16}

	TyErrorType = &Type{Kind: TyError, Size: 0, Align: 1}
)

// Member is a struct/union field: a name, type, byte offset, and
// (when IsBitfield) the packed bit position within its storage unit.
type Member struct {
	Next       *Member
	Ty         *Type
	Name       *Token
	Offset     int
	IsBitfield bool
	BitOffset  int
	BitWidth   int
}

func newType(kind TypeKind, size, align int) *Type {
	return &Type{Kind: kind, Size: size, Align: align}
}

func IsInteger(ty *Type) bool {
	if ty == nil {
		return false
	}
	switch ty.Kind {
	case TyBool, TyChar, TyShort, TyInt, TyLong, TyEnum:
		return true
	}
	return false
}

func IsFlonum(ty *Type) bool {
	if ty == nil {
		return false
	}
	switch ty.Kind {
	case TyFloat, TyDouble, TyLDouble:
		return true
	}
	return false
}

func IsNumeric(ty *Type) bool { return IsInteger(ty) || IsFlonum(ty) }

// IsPointerLike reports whether ty decays to an address for arithmetic
// purposes: a true pointer, an array, or a VLA (all three carry a Base
// element type and use C's scaled-by-sizeof(Base) add/subtract rule).
func IsPointerLike(ty *Type) bool {
	if ty == nil {
		return false
	}
	switch ty.Kind {
	case TyPtr, TyArray, TyVLA:
		return true
	}
	return false
}

func IsErrorType(ty *Type) bool { return ty != nil && ty.Kind == TyError }

// IsCompatible recursively compares two types, unwrapping typedef
// origins first, exactly as spec.md's type-compatibility invariant
// requires (reflexive, symmetric, transitive).
func IsCompatible(t1, t2 *Type) bool {
	if t1 == t2 {
		return true
	}
	if t1.Origin != nil {
		return IsCompatible(t1.Origin, t2)
	}
	if t2.Origin != nil {
		return IsCompatible(t1, t2.Origin)
	}
	if t1.Kind != t2.Kind {
		return false
	}
	switch t1.Kind {
	case TyChar, TyShort, TyInt, TyLong:
		return t1.IsUnsigned == t2.IsUnsigned
	case TyFloat, TyDouble, TyLDouble:
		return true
	case TyPtr:
		return IsCompatible(t1.Base, t2.Base)
	case TyFunc:
		if !IsCompatible(t1.ReturnTy, t2.ReturnTy) || t1.IsVariadic != t2.IsVariadic {
			return false
		}
		p1, p2 := t1.Params, t2.Params
		for p1 != nil && p2 != nil {
			if !IsCompatible(p1, p2) {
				return false
			}
			p1, p2 = p1.Next, p2.Next
		}
		return p1 == nil && p2 == nil
	case TyArray:
		if !IsCompatible(t1.Base, t2.Base) {
			return false
		}
		return t1.ArrayLen == t2.ArrayLen
	}
	return false
}

// CopyType clones ty, recording it as the clone's Origin so typedef
// uses remain compatible with the type they alias while still being a
// distinct value the parser can attach const/volatile qualifiers to.
func CopyType(ty *Type) *Type {
	clone := *ty
	clone.Origin = ty
	return &clone
}

func PointerTo(base *Type) *Type {
	ty := newType(TyPtr, 8, 8)
	ty.Base = base
	ty.IsUnsigned = true
	return ty
}

func FuncType(returnTy *Type) *Type {
	ty := newType(TyFunc, 1, 1)
	ty.ReturnTy = returnTy
	return ty
}

func ArrayOf(base *Type, length int) *Type {
	ty := newType(TyArray, base.Size*length, base.Align)
	ty.Base = base
	ty.ArrayLen = length
	return ty
}

func VLAOf(base *Type, length *Node) *Type {
	ty := newType(TyVLA, 8, 8)
	ty.Base = base
	ty.VLALen = length
	return ty
}

func EnumType() *Type { return newType(TyEnum, 4, 4) }

func StructType() *Type { return newType(TyStruct, 0, 1) }

func UnionType() *Type { return newType(TyUnion, 0, 1) }

// integerPromotion implements C99 6.3.1.1: anything narrower than int
// promotes to int.
func integerPromotion(ty *Type) *Type {
	if ty == nil || ty.Kind == TyError || !IsInteger(ty) {
		return ty
	}
	if ty.Size < 4 {
		return TyIntType
	}
	return ty
}

func integerRank(ty *Type) int {
	switch ty.Kind {
	case TyLong:
		return 4
	case TyInt, TyEnum:
		return 3
	case TyShort:
		return 2
	case TyChar:
		return 1
	case TyBool:
		return 0
	default:
		return -1
	}
}

// CommonType implements the usual arithmetic conversions, C11 §6.3.1.8.
func CommonType(ty1, ty2 *Type) *Type {
	if ty1 == nil || ty2 == nil || ty1.Kind == TyError || ty2.Kind == TyError {
		return TyErrorType
	}
	if ty1.Base != nil {
		return PointerTo(ty1.Base)
	}
	if ty1.Kind == TyFunc {
		return PointerTo(ty1)
	}
	if ty2.Kind == TyFunc {
		return PointerTo(ty2)
	}
	if ty1.Kind == TyLDouble || ty2.Kind == TyLDouble {
		return TyLDoubleType
	}
	if ty1.Kind == TyDouble || ty2.Kind == TyDouble {
		return TyDoubleType
	}
	if ty1.Kind == TyFloat || ty2.Kind == TyFloat {
		return TyFloatType
	}

	ty1 = integerPromotion(ty1)
	ty2 = integerPromotion(ty2)

	if ty1.Kind == ty2.Kind && ty1.IsUnsigned == ty2.IsUnsigned {
		return ty1
	}
	if ty1.IsUnsigned == ty2.IsUnsigned {
		if integerRank(ty1) >= integerRank(ty2) {
			return ty1
		}
		return ty2
	}

	var unsignedTy, signedTy *Type
	if ty1.IsUnsigned {
		unsignedTy, signedTy = ty1, ty2
	} else {
		unsignedTy, signedTy = ty2, ty1
	}
	if integerRank(unsignedTy) >= integerRank(signedTy) {
		return unsignedTy
	}
	if signedTy.Size > unsignedTy.Size {
		return signedTy
	}
	result := CopyType(signedTy)
	result.IsUnsigned = true
	return result
}
