package kafka

import (
	"errors"
	"fmt"
	"time"
)

// RetryError makes the consumer hand the same record to the handler again
// once After has passed, without committing it.
type RetryError struct {
	Err   error
	After time.Duration
}

func Retry(err error, after time.Duration) error {
	return &RetryError{Err: err, After: after}
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry in %v: %v", e.After, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// retryAfter reports whether err asks for a retry and how long to wait.
func retryAfter(err error) (time.Duration, bool) {
	var re *RetryError
	if !errors.As(err, &re) {
		return 0, false
	}
	return re.After, true
}
