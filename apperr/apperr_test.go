package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, NotFound, KindOf(NotFoundf("user %d not found", 3)))
	assert.Equal(t, Conflict, KindOf(fmt.Errorf("ctx: %w", Conflictf("exists"))))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Internal, KindOf(Wrap(errors.New("db"), "save")))
}

func TestIsSentinel(t *testing.T) {
	err := fmt.Errorf("respond: %w", Forbiddenf("not yours"))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, "save connection")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "save connection: disk full", err.Error())
}
