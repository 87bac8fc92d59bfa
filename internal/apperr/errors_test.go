package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{InvalidArgument, 400},
		{InsufficientBalance, 400},
		{InvalidState, 400},
		{Forbidden, 403},
		{NotFound, 404},
		{InternalInvariant, 500},
	}
	for _, c := range cases {
		err := New(c.kind, "boom")
		assert.Equal(t, c.want, err.Code())
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(InvalidArgument, "wrapped", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "wrapped")
	assert.Contains(t, err.Error(), "underlying")
}

func TestAs(t *testing.T) {
	err := Invalid("bad thing: %s", "reason")
	got, ok := As(err)
	if !ok {
		t.Fatal("expected As to recognize *Error")
	}
	assert.Equal(t, InvalidArgument, got.Kind)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, NotFound, NotFoundf("x").Kind)
	assert.Equal(t, InsufficientBalance, InsufficientBalancef("x").Kind)
	assert.Equal(t, Forbidden, Forbiddenf("x").Kind)
	assert.Equal(t, InvalidState, InvalidStatef("x").Kind)
}
