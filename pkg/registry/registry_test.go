package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseRegistry_RegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[string]()

	require.NoError(t, r.Register("a", "alpha"))
	require.NoError(t, r.Register("b", "beta"))

	val, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", val)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestBaseRegistry_DuplicateRejected(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("x", 1))
	assert.Error(t, r.Register("x", 2))
}

func TestBaseRegistry_EmptyNameRejected(t *testing.T) {
	r := NewBaseRegistry[int]()
	assert.Error(t, r.Register("", 1))
}

func TestBaseRegistry_ListSorted(t *testing.T) {
	r := NewBaseRegistry[string]()
	require.NoError(t, r.Register("zeta", "z"))
	require.NoError(t, r.Register("alpha", "a"))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())
	assert.Equal(t, []string{"a", "z"}, r.List())
}

func TestBaseRegistry_RemoveAndClear(t *testing.T) {
	r := NewBaseRegistry[int]()
	require.NoError(t, r.Register("x", 1))

	require.NoError(t, r.Remove("x"))
	assert.Error(t, r.Remove("x"))

	require.NoError(t, r.Register("y", 2))
	r.Clear()
	assert.Equal(t, 0, r.Count())
}
