package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wallet-sync/internal/types"
)

type backendFailure struct{ msg string }

func (b *backendFailure) Error() string                { return b.msg }
func (b *backendFailure) ErrorCategory() ErrorCategory { return CategoryBackend }

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"conflict", NewConflictError("NOT_CANCELLABLE", "in flight"), CategoryConflict},
		{"wrapped abandoned", fmt.Errorf("create: %w", NewAbandonedError("unlock attempts exhausted")), CategoryAbandoned},
		{"foreign categorizer", &backendFailure{"boom"}, CategoryBackend},
		{"plain error", stderrors.New("x"), CategorySystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}

func TestCategorize(t *testing.T) {
	t.Run("backend errors keep their message", func(t *testing.T) {
		cat := Categorize(&backendFailure{"keyring locked"})
		assert.Equal(t, CategoryBackend, cat.Category)
		assert.Equal(t, "keyring locked", cat.Message)
		assert.Equal(t, http.StatusBadGateway, cat.StatusCode)
		assert.Equal(t, "BACKEND", cat.Code)
	})

	t.Run("service errors are validation failures", func(t *testing.T) {
		cat := Categorize(&types.ServiceError{Code: "INVALID_INPUT", Message: "name required"})
		assert.Equal(t, CategoryValidation, cat.Category)
		assert.Equal(t, http.StatusBadRequest, cat.StatusCode)
	})

	t.Run("unknown errors are internal", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, Categorize(stderrors.New("x")).StatusCode)
	})
}

func TestCategorizedError_Is(t *testing.T) {
	err := fmt.Errorf("create account: %w", NewAbandonedError("cancelled"))

	assert.True(t, stderrors.Is(err, &CategorizedError{Category: CategoryAbandoned}))
	assert.True(t, stderrors.Is(err, &CategorizedError{Code: "COMMAND_ABANDONED"}))
	assert.False(t, stderrors.Is(err, &CategorizedError{Code: "NOT_FOUND"}))
	assert.True(t, IsAbandoned(err))
	assert.False(t, IsRejectedPatch(err))
	assert.Equal(t, http.StatusConflict, Categorize(err).StatusCode)
}

func TestToServiceError(t *testing.T) {
	cat := NewNotFoundError("account", "eth:hd:0x1")
	svc := cat.ToServiceError()

	assert.Equal(t, cat.Code, svc.Code)
	assert.Equal(t, cat.Message, svc.Message)
	assert.Equal(t, "not_found", svc.Details["category"])
	assert.NotContains(t, cat.Details, "category", "the source error is not modified")
}
