package omap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetPreservesInsertionOrder(t *testing.T) {
	m := New[string, int]()
	m.Set("b", 2)
	m.Set("a", 1)
	m.Set("c", 3)

	assert.Equal(t, []string{"b", "a", "c"}, m.Keys())
}

func TestSetUpdateKeepsPosition(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 99)

	assert.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 99, v)
}

func TestDeleteShiftsRemainingOrder(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)
	m.Delete("b")

	assert.Equal(t, []string{"a", "c"}, m.Keys())
	assert.False(t, m.Has("b"))
	assert.Equal(t, 2, m.Len())

	var seen []string
	m.Each(func(k string, v int) { seen = append(seen, k) })
	assert.Equal(t, []string{"a", "c"}, seen)
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Delete("z")
	assert.Equal(t, 1, m.Len())
}

func TestGetMissingReturnsZeroValue(t *testing.T) {
	m := New[string, int]()
	v, ok := m.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}
