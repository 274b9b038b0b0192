package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodesMapToStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ErrNotFound.StatusCode())
	assert.Equal(t, http.StatusBadRequest, ErrInvalidOperation.StatusCode())
	assert.Equal(t, http.StatusUnprocessableEntity, ErrValidation.StatusCode())
	assert.Equal(t, http.StatusConflict, ErrConflict.StatusCode())
	assert.Equal(t, http.StatusServiceUnavailable, ErrUnavailable.StatusCode())

	// Unknown codes fall back to 500
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("NO_SUCH_CODE").StatusCode())
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("post"))

	notFound, ok := AsAPIError(err)
	assert.True(t, ok)
	assert.Equal(t, ErrNotFound, notFound.Code)
	assert.Equal(t, ErrNotFound, CodeOf(err))
}

func TestCodeOfForeignError(t *testing.T) {
	assert.Equal(t, ErrInternalError, CodeOf(fmt.Errorf("plain error")))
}

func TestValidationErrorCarriesField(t *testing.T) {
	err := ValidationError("content", "content must not be empty")
	assert.Equal(t, "content", err.Field)
	assert.Contains(t, err.Error(), "field: content")
}
