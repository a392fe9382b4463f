package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	base := New(InvalidInput, "card types must not be empty")
	wrapped := fmt.Errorf("generate: %w", base)

	assert.Equal(t, InvalidInput, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, &Error{Kind: InvalidInput}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: UpstreamFailure}))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
}

func TestUpstreamCarriesIDAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream(cause, "job-42", "generation backend failed")

	assert.Equal(t, UpstreamFailure, err.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "generation backend failed (job-42): connection refused", err.Error())
}
