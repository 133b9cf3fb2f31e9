package ai

import (
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 90 * time.Second

func newRESTClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
}

// checkResponse turns a resty outcome into the tagged provider error, or nil.
// Adapters decode the body themselves so that parse failures stay Malformed
// instead of surfacing as transport errors.
func checkResponse(provider string, resp *resty.Response, err error) error {
	if err != nil {
		return Unreachable(provider, err)
	}
	if resp.IsError() {
		return Rejected(provider, resp.StatusCode(), errorMessage(resp.Body()))
	}
	return nil
}
