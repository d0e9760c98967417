package jcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFIResolveExactMatch(t *testing.T) {
	cfg := NewConfig()
	reg := NewFFIRegistry(cfg)
	reg.Register(&FFIEntry{Name: "foo", IntArgs: 2, Fn: func(vm *VM, argc int) error { return nil }})
	e, err := reg.Resolve("foo", 2)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "foo", e.Name)
}

func TestFFIResolveVariadicBaseName(t *testing.T) {
	cfg := NewConfig()
	reg := NewFFIRegistry(cfg)
	reg.Register(&FFIEntry{Name: "printf", IntArgs: 1, Variadic: true, Fn: func(vm *VM, argc int) error { return nil }})
	e, err := reg.Resolve("printf", 4)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.True(t, e.Variadic)
}

func TestFFIResolveUnregisteredWarnAndSkip(t *testing.T) {
	cfg := NewConfig()
	reg := NewFFIRegistry(cfg)
	e, err := reg.Resolve("nonexistent", 0)
	assert.NoError(t, err)
	assert.Nil(t, e)
}

func TestFFIResolveUnregisteredDenyFatal(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("ffi.deny_fatal", true)
	reg := NewFFIRegistry(cfg)
	_, err := reg.Resolve("nonexistent", 0)
	assert.Error(t, err)
}

func TestFFIDisabledRejectsAllCalls(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("ffi.disabled", true)
	reg := NewFFIRegistry(cfg)
	reg.Register(&FFIEntry{Name: "foo", Fn: func(vm *VM, argc int) error { return nil }})
	_, err := reg.Resolve("foo", 0)
	assert.Error(t, err)
}

func TestFFITypeCheckRejectsWrongArity(t *testing.T) {
	cfg := NewConfig()
	cfg.SetBool("ffi.type_check", true)
	reg := NewFFIRegistry(cfg)
	reg.Register(&FFIEntry{Name: "foo", IntArgs: 2, Fn: func(vm *VM, argc int) error { return nil }})
	_, err := reg.Resolve("foo", 1)
	assert.Error(t, err)
}

func TestStandardFFIRegistersPutcharPutsPrintfAbort(t *testing.T) {
	cfg := NewConfig()
	reg := StandardFFI(cfg)
	vm := newTestVM(cfg)
	reg.InstallOn(vm)
	for _, name := range []string{"putchar", "puts", "printf", "abort"} {
		_, err := reg.Resolve(name, 1)
		assert.NoError(t, err)
	}
}
