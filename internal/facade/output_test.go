package facade

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewResponse_SuccessCarriesResultAndTiming(t *testing.T) {
	started := time.Now().Add(-5 * time.Millisecond)
	r := NewResponse("req-1", started, map[string]int{"id": 7}, nil)

	assert.True(t, r.Success)
	assert.Equal(t, "req-1", r.RequestID)
	assert.Empty(t, r.Error)
	assert.GreaterOrEqual(t, r.DurationMs, int64(0))
}

func TestNewResponse_FailureCarriesErrorMessageNotResult(t *testing.T) {
	r := NewResponse("req-2", time.Now(), "ignored", errors.New("boom"))
	assert.False(t, r.Success)
	assert.Equal(t, "boom", r.Error)
	assert.Nil(t, r.Result)
}
