package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Redirect follows up to maxRedirects hops. 301, 302 and 303 are re-issued as
// GET without a body; 307 and 308 keep method and body. Credentials are
// dropped when a hop leaves the original host.
func Redirect(maxRedirects int) Middleware {
	if maxRedirects < 0 {
		maxRedirects = 0
	}
	return func(next HTTPDoer) HTTPDoer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			originHost := req.URL.Host
			current := req
			for hops := 0; ; hops++ {
				res, err := next.Do(current)
				if err != nil {
					return nil, err
				}
				if !isRedirect(res.StatusCode) {
					return res, nil
				}
				location := strings.TrimSpace(res.Header.Get("Location"))
				if location == "" {
					return res, nil
				}
				if hops >= maxRedirects {
					discard(res)
					return nil, transportError(
						fmt.Sprintf("transport: stopped after %d redirects", maxRedirects),
						goerrors.CategoryExternal,
						http.StatusBadGateway,
						requestMetadata(current),
					)
				}
				target, err := current.URL.Parse(location)
				if err != nil {
					discard(res)
					return nil, transportWrapError(
						err,
						goerrors.CategoryExternal,
						"transport: invalid redirect location",
						http.StatusBadGateway,
						requestMetadata(current),
					)
				}
				nextReq, ok, err := redirectRequest(current, res.StatusCode, target)
				if err != nil {
					discard(res)
					return nil, err
				}
				if !ok {
					return res, nil
				}
				discard(res)
				if nextReq.URL.Host != originHost {
					nextReq.Header.Del("Authorization")
					nextReq.Header.Del("Cookie")
				}
				current = nextReq
			}
		})
	}
}

func redirectRequest(current *http.Request, status int, target *url.URL) (*http.Request, bool, error) {
	out := current.Clone(current.Context())
	out.URL = target
	out.Host = ""
	out.RequestURI = ""

	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if out.Method != http.MethodGet && out.Method != http.MethodHead {
			out.Method = http.MethodGet
		}
		out.Body = http.NoBody
		out.GetBody = nil
		out.ContentLength = 0
		out.Header.Del("Content-Type")
		out.Header.Del("Content-Length")
		return out, true, nil
	default:
		if !hasBody(current) {
			return out, true, nil
		}
		// Without GetBody the body cannot be replayed; hand the redirect back.
		if current.GetBody == nil {
			return nil, false, nil
		}
		body, err := current.GetBody()
		if err != nil {
			return nil, false, err
		}
		out.Body = body
		return out, true, nil
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}
