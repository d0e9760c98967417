package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCompatibleReflexiveSymmetric(t *testing.T) {
	assert.True(t, IsCompatible(TyIntType, TyIntType))
	assert.False(t, IsCompatible(TyIntType, TyUIntType))
	assert.False(t, IsCompatible(TyUIntType, TyIntType))
	assert.True(t, IsCompatible(TyFloatType, TyFloatType))
}

func TestIsCompatiblePointer(t *testing.T) {
	p1 := PointerTo(TyIntType)
	p2 := PointerTo(TyIntType)
	assert.True(t, IsCompatible(p1, p2))
	assert.False(t, IsCompatible(p1, PointerTo(TyCharType)))
}

func TestIsCompatibleUnwrapsTypedefOrigin(t *testing.T) {
	named := CopyType(TyIntType)
	assert.True(t, IsCompatible(named, TyIntType))
	assert.True(t, IsCompatible(TyIntType, named))
}

func TestCommonTypeIntFloat(t *testing.T) {
	assert.Equal(t, TyDoubleType, CommonType(TyIntType, TyDoubleType))
	assert.Equal(t, TyFloatType, CommonType(TyFloatType, TyCharType))
}

func TestCommonTypeIntegerPromotion(t *testing.T) {
	got := CommonType(TyCharType, TyCharType)
	assert.Equal(t, TyIntType, got)
}

func TestCommonTypeUnsignedDominance(t *testing.T) {
	got := CommonType(TyIntType, TyUIntType)
	assert.True(t, got.IsUnsigned)
	assert.Equal(t, TyInt, got.Kind)
}

func TestCommonTypeSignedWidensOverUnsigned(t *testing.T) {
	got := CommonType(TyLongType, TyUIntType)
	assert.False(t, got.IsUnsigned)
	assert.Equal(t, TyLong, got.Kind)
}

func TestCommonTypeErrorPropagates(t *testing.T) {
	got := CommonType(TyErrorType, TyIntType)
	assert.Equal(t, TyError, got.Kind)
}

func TestArrayOfSize(t *testing.T) {
	arr := ArrayOf(TyIntType, 10)
	assert.Equal(t, 40, arr.Size)
	assert.Equal(t, 4, arr.Align)
}

func TestPointerToIsUnsignedWord(t *testing.T) {
	p := PointerTo(TyCharType)
	assert.Equal(t, 8, p.Size)
	assert.True(t, p.IsUnsigned)
}
