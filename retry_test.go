package ddcproxy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetry(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		failures int
		err      error
		calls    int
		ok       bool
	}{
		{"first try", 3, 0, nil, 1, true},
		{"second try", 3, 1, ErrNoAck, 2, true},
		{"exhausted", 3, 5, ErrNoAck, 3, false},
		{"zero attempts runs once", 0, 5, ErrNoAck, 1, false},
		{"canceled stops early", 5, 5, context.Canceled, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			res, err := Retry(tt.attempts, func() (int, error) {
				calls++
				if calls <= tt.failures {
					return 0, tt.err
				}
				return 42, nil
			})
			assert.Equal(t, tt.calls, calls)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, 42, res)
				return
			}
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestRetryErrLimitMessage(t *testing.T) {
	err := RetryErr(2, func() error { return ErrNoAck })
	assert.ErrorIs(t, err, ErrNoAck)
	assert.Contains(t, err.Error(), "retry limit reached")
}

func TestUnexpectedConditionsShareRoot(t *testing.T) {
	assert.ErrorIs(t, ErrUnexpectedStart, ErrUnexpectedBusCondition)
	assert.ErrorIs(t, ErrUnexpectedStop, ErrUnexpectedBusCondition)
	assert.NotErrorIs(t, ErrUnexpectedStart, ErrUnexpectedStop)
}
