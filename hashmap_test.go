package jcc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashMapPutGet(t *testing.T) {
	var m HashMap
	m.PutString("foo", 1)
	m.PutString("bar", 2)
	v, ok := m.GetString("foo")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = m.GetString("bar")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = m.GetString("baz")
	assert.False(t, ok)
}

func TestHashMapOverwrite(t *testing.T) {
	var m HashMap
	m.PutString("k", 1)
	m.PutString("k", 2)
	v, _ := m.GetString("k")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, m.Len())
}

func TestHashMapDeleteKeepsOtherKeysReachable(t *testing.T) {
	var m HashMap
	for i := 0; i < 100; i++ {
		m.PutString(fmt.Sprintf("key%d", i), i)
	}
	for i := 0; i < 50; i++ {
		m.Delete([]byte(fmt.Sprintf("key%d", i)))
	}
	assert.Equal(t, 50, m.Len())
	for i := 50; i < 100; i++ {
		v, ok := m.GetString(fmt.Sprintf("key%d", i))
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	for i := 0; i < 50; i++ {
		_, ok := m.GetString(fmt.Sprintf("key%d", i))
		assert.False(t, ok)
	}
}

func TestHashMapRehashTriggersAtHighWatermark(t *testing.T) {
	var m HashMap
	for i := 0; i < hashmapInitSize; i++ {
		m.PutString(fmt.Sprintf("k%d", i), i)
	}
	assert.Greater(t, len(m.buckets), hashmapInitSize)
}
