package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCategoryQuery, CodeUnknownField, "unknown field: pressure")
	assert.Equal(t, "[QUERY:UNKNOWN_FIELD] unknown field: pressure", err.Error())

	wrapped := Wrap(ErrCategoryStore, CodeWriteFailed, "put failed", stderrors.New("disk full"))
	assert.Equal(t, "[STORE:WRITE_FAILED] put failed: disk full", wrapped.Error())
}

func TestUnwrap(t *testing.T) {
	cause := stderrors.New("database is locked")
	err := NewStoreError(CodeWriteFailed, "put failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsMatchesCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewQueryError(CodeUnknownField, "unknown field: x"))
	assert.ErrorIs(t, err, New(ErrCategoryQuery, CodeUnknownField, ""))
	assert.NotErrorIs(t, err, New(ErrCategoryQuery, CodeParseError, ""))
}

func TestRetryableClassification(t *testing.T) {
	assert.True(t, IsRetryable(NewStoreError(CodeWriteFailed, "busy", nil)))
	assert.True(t, IsRetryable(NewCatalogError(CodeRefreshFailed, "sample failed", nil)))
	assert.False(t, IsRetryable(NewStoreError(CodeUnrecoverable, "gave up", nil)))
	assert.False(t, IsRetryable(NewIntakeError(CodeMalformedPayload, "bad json", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewIntakeError(CodeBadTopic, "no device segment", nil))
	assert.Equal(t, ErrCategoryIntake, GetCategory(err))
	assert.Equal(t, CodeBadTopic, GetCode(err))
	assert.Equal(t, ErrorCategory(""), GetCategory(stderrors.New("plain")))
}

func TestWithDetails(t *testing.T) {
	base := NewQueryError(CodeParseError, "bad expression")
	detailed := base.WithDetails(map[string]interface{}{"position": 12})
	assert.Nil(t, base.Details)
	assert.Equal(t, 12, detailed.Details["position"])
}
