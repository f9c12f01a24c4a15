package transport

import (
	"fmt"
	"io"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// ReadBody reads and closes res.Body, failing when it exceeds limit bytes.
func ReadBody(res *http.Response, limit int64) ([]byte, error) {
	if res == nil || res.Body == nil {
		return nil, nil
	}
	defer res.Body.Close()
	if limit <= 0 {
		limit = DefaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"status_code": res.StatusCode},
		)
	}
	if int64(len(body)) > limit {
		return nil, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"status_code":      res.StatusCode,
				"response_limit_b": limit,
			},
		)
	}
	return body, nil
}
