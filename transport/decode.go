package transport

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Decode advertises gzip and transparently decodes gzip responses.
func Decode() Middleware {
	return func(next HTTPDoer) HTTPDoer {
		return DoerFunc(func(req *http.Request) (*http.Response, error) {
			out := req
			if req.Header.Get("Accept-Encoding") == "" {
				out = req.Clone(req.Context())
				out.Header.Set("Accept-Encoding", "gzip")
			}
			res, err := next.Do(out)
			if err != nil || res == nil {
				return res, err
			}
			if !strings.EqualFold(strings.TrimSpace(res.Header.Get("Content-Encoding")), "gzip") {
				return res, nil
			}
			if out.Method == http.MethodHead || res.StatusCode == http.StatusNoContent {
				return res, nil
			}
			reader, err := gzip.NewReader(res.Body)
			if err != nil {
				discard(res)
				return nil, transportWrapError(
					err,
					goerrors.CategoryExternal,
					"transport: decode gzip response",
					http.StatusBadGateway,
					requestMetadata(out),
				)
			}
			res.Body = &gzipBody{reader: reader, source: res.Body}
			res.Header.Del("Content-Encoding")
			res.Header.Del("Content-Length")
			res.ContentLength = -1
			res.Uncompressed = true
			return res, nil
		})
	}
}

type gzipBody struct {
	reader *gzip.Reader
	source io.ReadCloser
}

func (b *gzipBody) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}

func (b *gzipBody) Close() error {
	readerErr := b.reader.Close()
	if err := b.source.Close(); err != nil {
		return err
	}
	return readerErr
}
