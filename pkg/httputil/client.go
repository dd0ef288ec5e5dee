package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// NewRestyClient returns a resty client with the given timeout.
// Retries are only enabled for idempotent callers; message sends use zero.
func NewRestyClient(timeout time.Duration, retries int) *resty.Client {
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if retries > 0 {
		c.SetRetryCount(retries).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(3 * time.Second)
	}
	return c
}
