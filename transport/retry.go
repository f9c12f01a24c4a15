package transport

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var errRetryableStatus = errors.New("transport: retryable status")

// Retry re-sends idempotent requests (GET, HEAD, DELETE) on transport errors
// and 5xx responses, at most maxRetries times with a constant delay. Other
// methods and 4xx responses pass through untouched. The last 5xx response is
// returned as is once retries are exhausted.
func Retry(maxRetries int, delay time.Duration) Middleware {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if delay < 0 {
		delay = 0
	}
	return func(next HTTPDoer) HTTPDoer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			if maxRetries == 0 || !retryableMethod(req.Method) {
				return next.Do(req)
			}
			ctx := req.Context()
			policy := backoff.WithContext(
				backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(maxRetries)),
				ctx,
			)

			var (
				last    *http.Response
				attempt int
			)
			operation := func() error {
				if last != nil {
					discard(last)
					last = nil
				}
				attemptReq, err := rewind(req, attempt)
				attempt++
				if err != nil {
					return backoff.Permanent(err)
				}
				res, err := next.Do(attemptReq)
				if err != nil {
					if ctx.Err() != nil {
						return backoff.Permanent(err)
					}
					return err
				}
				if res.StatusCode >= http.StatusInternalServerError {
					last = res
					return errRetryableStatus
				}
				last = res
				return nil
			}

			err := backoff.Retry(operation, policy)
			if err == nil {
				return last, nil
			}
			if errors.Is(err, errRetryableStatus) && last != nil {
				return last, nil
			}
			if last != nil {
				discard(last)
			}
			return nil, err
		})
	}
}

func retryableMethod(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	default:
		return false
	}
}

func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || !hasBody(req) {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("transport: request body cannot be re-sent")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Body = body
	return out, nil
}

func discard(res *http.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, DefaultResponseBodyLimit))
	_ = res.Body.Close()
}
