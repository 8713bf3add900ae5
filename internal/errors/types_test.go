package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorHTTPMapping(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, NewSystemError(ErrCodeDatabaseError, "boom").HTTPCode)
	assert.Equal(t, http.StatusBadRequest, NewValidationError("bad").HTTPCode)
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("knowledge base").HTTPCode)
	assert.Equal(t, http.StatusInternalServerError, NewConfigurationError("no key").HTTPCode)
	assert.Equal(t, http.StatusInternalServerError, NewUpstreamError("llm", 502, "bad gateway").HTTPCode)
	assert.Equal(t, http.StatusInternalServerError, NewEmptyResponseError("llm").HTTPCode)
}

func TestNotFoundErrorMessage(t *testing.T) {
	err := NewNotFoundError("document")
	assert.Equal(t, "document not found", err.Message)
	assert.Equal(t, ErrCodeResourceNotFound, err.Code)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsNotFound(NewValidationError("x")))
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewSystemError(ErrCodeDatabaseError, "query failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGetAppErrorWrapsUnknown(t *testing.T) {
	plain := stderrors.New("something broke")
	appErr := GetAppError(plain)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeInternalServer, appErr.Code)
	assert.ErrorIs(t, appErr, plain)

	original := NewValidationError("bad input")
	assert.Same(t, original, GetAppError(original))
}

func TestValidateStructFieldDetails(t *testing.T) {
	type payload struct {
		Name  string `validate:"required,max=5"`
		Count int    `validate:"gte=0"`
	}

	assert.Nil(t, ValidateStruct(payload{Name: "ok", Count: 1}))

	appErr := ValidateStruct(payload{Name: "", Count: -1})
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)

	details, ok := appErr.Details.(map[string]interface{})
	require.True(t, ok)
	fields, ok := details["errors"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, fields, 2)
	assert.Equal(t, "Name", fields[0]["field"])
	assert.Equal(t, "required", fields[0]["tag"])
	assert.Equal(t, "Name is required", fields[0]["message"])
	assert.Equal(t, "Count", fields[1]["field"])
}
