package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/vigil/pkg/util"
)

func TestSetOf(t *testing.T) {
	s := util.SetOf("a", "b", "a")

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("c"))
}

func TestSetAddRemove(t *testing.T) {
	s := util.Set[int]{}
	assert.True(t, s.IsEmpty())

	s.Add(1)
	s.Add(2)
	assert.Equal(t, 2, s.Len())

	s.Remove(1)
	assert.False(t, s.Contains(1))
	assert.True(t, s.Contains(2))
}

func TestSetClear(t *testing.T) {
	s := util.SetOf("x", "y")
	s.Clear()

	assert.True(t, s.IsEmpty())
	assert.False(t, s.Contains("x"))

	s.Add("z")
	assert.True(t, s.Contains("z"))
}

func TestSetClone(t *testing.T) {
	s := util.SetOf("a")
	c := s.Clone()
	c.Add("b")

	assert.True(t, c.Contains("a"))
	assert.False(t, s.Contains("b"))
}
