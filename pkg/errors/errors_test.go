package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("append: %w", Clone(ErrValidation, "message body is required"))

	got := FromError(wrapped)

	assert.Equal(t, ErrValidation.Code, got.Code)
	assert.Equal(t, "message body is required", got.Message)
	assert.Equal(t, http.StatusBadRequest, got.Status)
}

func TestFromErrorFallsBackToInternal(t *testing.T) {
	got := FromError(stdErrors.New("boom"))

	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.Nil(t, FromError(nil))
}

func TestIsMatchesByCode(t *testing.T) {
	err := Unavailable(stdErrors.New("connection refused"))

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.NotErrorIs(t, err, ErrAccessDenied)
	assert.Contains(t, err.Error(), "connection refused")
}
