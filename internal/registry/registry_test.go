package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavyforge/heavyforge/internal/registry"
)

func TestRegistryRegisterGetListCount(t *testing.T) {
	r := registry.New[int]()
	require.NoError(t, r.Register("a", 1))
	require.NoError(t, r.Register("b", 2))

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, r.Count())
	assert.ElementsMatch(t, []string{"a", "b"}, r.Names())
	assert.ElementsMatch(t, []int{1, 2}, r.List())
}

func TestRegistryRejectsEmptyNameAndDuplicate(t *testing.T) {
	r := registry.New[string]()
	assert.Error(t, r.Register("", "x"))

	require.NoError(t, r.Register("dup", "first"))
	assert.Error(t, r.Register("dup", "second"))

	v, _ := r.Get("dup")
	assert.Equal(t, "first", v, "a rejected re-registration must not overwrite the existing entry")
}
