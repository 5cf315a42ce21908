package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	inner := stderrors.New("disk io error")
	err := NewStoreUnavailable("history_add", inner)

	assert.Equal(t, "[store] store unavailable during history_add: disk io error", err.Error())
	assert.True(t, stderrors.Is(err, inner), "wrapped cause must stay reachable")

	bare := NewUnknownRateRule("bogus")
	assert.Equal(t, "[config] unknown rate limit rule: bogus", bare.Error())
}

func TestIsErrorType_SeesThroughWrappers(t *testing.T) {
	storeErr := NewStoreCorruptValue("history:g1", stderrors.New("bad json"))
	assert.True(t, IsErrorType(storeErr, ErrorTypeStore))
	assert.False(t, IsErrorType(storeErr, ErrorTypeConfig))

	wrapped := fmt.Errorf("loading history: %w", storeErr)
	assert.True(t, IsErrorType(wrapped, ErrorTypeStore))

	assert.False(t, IsErrorType(stderrors.New("plain"), ErrorTypeStore))
	assert.False(t, IsErrorType(nil, ErrorTypeStore))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewStoreUnavailable("get", stderrors.New("down"))))
	assert.False(t, IsRetryable(NewConfigMissingRequired("STORE_PATH")))
	assert.False(t, IsRetryable(stderrors.New("unknown")))
}
