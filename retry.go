package ddcproxy

import (
	"context"
	"errors"
	"fmt"
)

// Retry calls op up to attempts times and returns the first successful
// result. Context errors end the loop early.
func Retry[T any](attempts int, op func() (T, error)) (T, error) {
	var res T
	var err error
	if attempts < 1 {
		attempts = 1
	}
	for i := attempts; i > 0; i-- {
		res, err = op()
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
	}
	return res, fmt.Errorf("%w (retry limit reached)", err)
}

// RetryErr is Retry for operations without a result.
func RetryErr(attempts int, op func() error) error {
	_, err := Retry(attempts, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
