package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WrappedError(t *testing.T) {
	err := fmt.Errorf("booking: %w", SlotUnavailable("provider %s busy", "p1"))

	assert.Equal(t, KindSlotUnavailable, KindOf(err))
	assert.True(t, Is(err, KindSlotUnavailable))
	assert.False(t, Is(err, KindNotFound))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestUpstream_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream("load provider", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "UPSTREAM: load provider: connection refused", err.Error())
}
