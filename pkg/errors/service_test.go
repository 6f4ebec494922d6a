package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceErrorConstructors(t *testing.T) {
	notFound := NewNotFoundError("заказ", "abc")
	assert.Equal(t, http.StatusNotFound, notFound.Code)
	assert.ErrorIs(t, notFound, ErrNotFound)

	badRequest := NewBadRequestError("пустое тело")
	assert.Equal(t, http.StatusBadRequest, badRequest.Code)
	assert.ErrorIs(t, badRequest, ErrBadRequest)

	validation := NewValidationError("limit", "вне диапазона")
	assert.Equal(t, http.StatusBadRequest, validation.Code)
	assert.Contains(t, validation.Message, "limit")

	internal := NewInternalServerError(nil)
	assert.Equal(t, http.StatusInternalServerError, internal.Code)
	assert.ErrorIs(t, internal, ErrInternalServer)
}

func TestToHTTPResponseMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"service error несет свой код", NewNotFoundError("заказ", 1), http.StatusNotFound},
		{"не найдено", ErrNotFound, http.StatusNotFound},
		{"конфликт идемпотентности", ErrIdempotencyConflict, http.StatusConflict},
		{"внешний сервис недоступен", ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{"некорректный запрос", ErrBadRequest, http.StatusBadRequest},
		{"неизвестная ошибка", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := ToHTTPResponse(tt.err)
			assert.Equal(t, tt.code, code)
		})
	}
}
