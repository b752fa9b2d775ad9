package connectors

import (
	"fmt"
	"time"
)

// ThrottleError: вызов не выполнялся: хост выбит предохранителем или origin превысил лимит.
// Релей не ретраит, RetryAfter: подсказка вызывающему.
type ThrottleError struct {
	Host       string
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled %s: retry after %v (cause: %v)", e.Host, e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
