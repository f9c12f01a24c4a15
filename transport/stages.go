package transport

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// BasicAuth attaches the application credentials to every request.
func BasicAuth(username string, password string) Middleware {
	username = strings.TrimSpace(username)
	return func(next HTTPDoer) HTTPDoer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			if username == "" {
				return next.Do(req)
			}
			out := req.Clone(req.Context())
			out.SetBasicAuth(username, password)
			return next.Do(out)
		})
	}
}

// HeaderDefaults sets each header only when the caller left it empty.
func HeaderDefaults(headers map[string]string) Middleware {
	defaults := make(map[string]string, len(headers))
	for key, value := range headers {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		defaults[http.CanonicalHeaderKey(key)] = strings.TrimSpace(value)
	}
	return func(next HTTPDoer) HTTPDoer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			out := req.Clone(req.Context())
			for key, value := range defaults {
				if out.Header.Get(key) == "" {
					out.Header.Set(key, value)
				}
			}
			// Content-Type only describes a body.
			if !hasBody(out) && req.Header.Get("Content-Type") == "" {
				out.Header.Del("Content-Type")
			}
			return next.Do(out)
		})
	}
}

// ContentLength buffers bodies of unknown length so every request carries an
// explicit Content-Length and a GetBody for re-sends.
func ContentLength() Middleware {
	return func(next HTTPDoer) HTTPDoer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			if !hasBody(req) {
				out := req.Clone(req.Context())
				out.ContentLength = 0
				out.Body = http.NoBody
				out.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
				return next.Do(out)
			}
			if req.ContentLength > 0 && req.GetBody != nil {
				return next.Do(req)
			}
			payload, err := io.ReadAll(req.Body)
			_ = req.Body.Close()
			if err != nil {
				return nil, transportWrapError(
					err,
					goerrors.CategoryBadInput,
					"transport: buffer request body",
					http.StatusBadRequest,
					requestMetadata(req),
				)
			}
			out := req.Clone(req.Context())
			out.Body = io.NopCloser(bytes.NewReader(payload))
			out.ContentLength = int64(len(payload))
			out.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(payload)), nil
			}
			return next.Do(out)
		})
	}
}

func hasBody(req *http.Request) bool {
	return req != nil && req.Body != nil && req.Body != http.NoBody
}
