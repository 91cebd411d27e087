package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Precondition("当前状态为 %s，需要 %s", "DRAFT", "APPROVED")

	assert.True(t, errors.Is(err, ErrPreconditionViolation))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsPrecondition(fmt.Errorf("approve: %w", err)))
}

func TestNotFoundCarriesEntity(t *testing.T) {
	err := NotFound("ECN", "abc")

	assert.True(t, IsNotFound(err))
	assert.Equal(t, "ECN", err.Details["entity"])
	assert.Equal(t, http.StatusNotFound, HTTPStatusOf(err))
	assert.Equal(t, CodeNotFound, CodeOf(fmt.Errorf("wrap: %w", err)))
}

func TestPlainErrorsMapToInternal(t *testing.T) {
	err := errors.New("boom")

	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusOf(err))
	assert.Equal(t, "boom", MessageOf(err))
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("db down")
	err := ConfigurationGap("变更类型 %s 未配置审批矩阵", "DESIGN").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConfigurationGap)
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatusOf(err))
}
