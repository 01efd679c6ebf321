package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(CodeUnavailable, "redis unreachable")
	assert.EqualError(t, err, "redis unreachable")
	assert.True(t, HasCode(err, CodeUnavailable))
	assert.False(t, HasCode(err, CodeInternal))
}

func TestWrap_PreservesOriginalCode(t *testing.T) {
	inner := New(CodeUnavailable, "dial timeout")
	outer := Wrap(inner, CodeInternal, "load attempt window")

	assert.True(t, HasCode(outer, CodeUnavailable), "wrapping must not overwrite the original code")
	assert.True(t, errors.Is(outer, &Error{Code: CodeUnavailable}))
}

func TestWrap_PlainError(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	outer := Wrap(inner, CodeUnavailable, "tier call failed")

	assert.True(t, HasCode(outer, CodeUnavailable))
	assert.ErrorIs(t, outer, inner)
}

func TestHasCode_NonDomainError(t *testing.T) {
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
	assert.False(t, HasCode(nil, CodeInternal))
}
