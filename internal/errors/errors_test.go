package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var sentinels = []error{
	ErrValidation,
	ErrRemoteOperation,
	ErrOrderingPrecondition,
	ErrNotFound,
	ErrConflict,
	ErrAPIRequest,
	ErrAPIResponse,
}

func TestSentinelErrors_ImplementErrorInterface(t *testing.T) {
	for _, err := range sentinels {
		assert.NotEmpty(t, err.Error(), "sentinel error should have non-empty message")
	}
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinel errors should be distinct: %q vs %q", sentinels[i], sentinels[j])
		}
	}
}

func TestSentinelErrors_ExpectedMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrValidation, "validation failed"},
		{ErrRemoteOperation, "remote operation failed"},
		{ErrOrderingPrecondition, "ordering precondition violated"},
		{ErrNotFound, "record not found"},
		{ErrConflict, "record already exists"},
		{ErrAPIRequest, "API request failed"},
		{ErrAPIResponse, "unexpected API response"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

func TestSentinelErrors_SurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("inserting place p1: %w", ErrRemoteOperation)
	assert.ErrorIs(t, wrapped, ErrRemoteOperation)
	assert.NotErrorIs(t, wrapped, ErrValidation)
}

func TestIsTransient(t *testing.T) {
	inner := fmt.Errorf("%w: server returned 503", ErrAPIResponse)
	err := fmt.Errorf("updating transfer T1: %w", &TransientError{Err: inner})

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrAPIResponse)
	assert.Equal(t, inner.Error(), (&TransientError{Err: inner}).Error())

	assert.False(t, IsTransient(inner))
	assert.False(t, IsTransient(nil))
}
