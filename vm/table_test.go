package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterminism(t *testing.T) {
	// Invariant 2: hash is invariant across VM instances for the same bytes.
	a := New(DefaultOptions())
	b := New(DefaultOptions())
	sa := a.newString([]byte("determinism"))
	sb := b.newString([]byte("determinism"))
	assert.Equal(t, sa.Hash, sb.Hash)
	assert.Equal(t, hashBytes([]byte("determinism")), sa.Hash)
}

func TestInterningPointerIdentity(t *testing.T) {
	// Invariant 1: allocate(s1) == allocate(s2) by pointer identity iff bytes equal.
	m := New(DefaultOptions())
	a := m.newString([]byte("abc"))
	b := m.newString([]byte("abc"))
	c := m.newString([]byte("abd"))
	require.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestTableSetGetDelete(t *testing.T) {
	tbl := NewTable()
	vm := New(DefaultOptions())
	key := vm.newString([]byte("key"))

	isNew := tbl.Set(key, IntValue(7))
	assert.True(t, isNew)

	v, ok := tbl.Get(key)
	require.True(t, ok)
	assert.Equal(t, int64(7), v.AsInt())

	isNew = tbl.Set(key, IntValue(8))
	assert.False(t, isNew)
	v, _ = tbl.Get(key)
	assert.Equal(t, int64(8), v.AsInt())

	assert.True(t, tbl.Delete(key))
	_, ok = tbl.Get(key)
	assert.False(t, ok)
}

func TestTableGrowsPastLoadFactor(t *testing.T) {
	tbl := NewTable()
	vm := New(DefaultOptions())
	for i := 0; i < 200; i++ {
		key := vm.newString([]byte{byte(i), byte(i >> 8)})
		tbl.Set(key, IntValue(int64(i)))
	}
	assert.Equal(t, 200, tbl.Count())
}

func TestFindStringByContent(t *testing.T) {
	vm := New(DefaultOptions())
	s := vm.newString([]byte("needle"))
	found := vm.strings.FindString([]byte("needle"), hashBytes([]byte("needle")))
	require.Same(t, s, found)
	assert.Nil(t, vm.strings.FindString([]byte("absent"), hashBytes([]byte("absent"))))
}
