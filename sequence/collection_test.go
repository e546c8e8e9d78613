package sequence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/casualjim/flow/sequence"
	"github.com/hashicorp/errwrap"
	"github.com/stretchr/testify/assert"
)

func TestMap_Order(t *testing.T) {
	m := sequence.MapOf("z", 1, "a", 2)
	m.Set("m", 3).Set("z", 4)

	assert.Equal(t, 3, m.Len())
	assert.Equal(t, []sequence.Value{"z", "a", "m"}, m.Keys())
	assert.Equal(t, []sequence.Value{4, 2, 3}, m.Values())
	assert.Equal(t, "{z:4 a:2 m:3}", m.String())

	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = m.Get("b")
	assert.False(t, ok)

	var visited int
	m.Each(func(_, _ sequence.Value) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestMap_Nil(t *testing.T) {
	var m *sequence.Map
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.IsList())
	assert.Empty(t, m.Keys())
}

func TestMapOf_OddArguments(t *testing.T) {
	assert.Panics(t, func() { sequence.MapOf("key") })
}

func TestAggregateError(t *testing.T) {
	e1, e2 := errors.New("one"), errors.New("two")
	d := sequence.Define("aggregate").Together(func(_ *sequence.Run, key, _ sequence.Value, _ sequence.Args, next *sequence.Next) {
		switch key {
		case 1:
			next.Fail(e1)
		case 3:
			next.Fail(e2)
		default:
			next.Done(key)
		}
	})

	_, err := runAndWait(t, d, nil, []int{0, 0, 0, 0})
	agg, ok := sequence.AsAggregate(err)
	if assert.True(t, ok) {
		assert.Equal(t, 2, agg.Len())
		assert.Equal(t, []sequence.Value{1, 3}, agg.Keys())
		assert.Equal(t, []error{e1, e2}, agg.WrappedErrors())
		assert.EqualError(t, agg, "2 entries failed: 1: one; 3: two")
		assert.True(t, errors.Is(err, e2))
	}

	wrapped := errwrap.Wrapf("validation failed: {{err}}", err)
	agg, ok = sequence.AsAggregate(wrapped)
	if assert.True(t, ok) {
		assert.Equal(t, 2, agg.Len())
	}

	_, ok = sequence.AsAggregate(fmt.Errorf("plain"))
	assert.False(t, ok)
}
