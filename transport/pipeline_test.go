package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-crowdauth/core"
	goerrors "github.com/goliatone/go-errors"
)

func testDirectoryConfig(url string) core.DirectoryConfig {
	cfg := core.DefaultConfig().Directory
	cfg.URL = url
	cfg.AppName = "portal"
	cfg.AppPassword = "app-secret"
	cfg.RetryDelayMS = 1
	return cfg
}

func TestDirectoryStagesOrder(t *testing.T) {
	pipeline := NewDirectoryPipeline(testDirectoryConfig("http://crowd.local"), nil)
	want := []string{StageBasicAuth, StageHeaderDefaults, StageContentLength, StageRetry, StageDecode, StageRedirect}
	if got := pipeline.Stages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected stages %v, got %v", want, got)
	}
}

func TestPipeline_StagesRunOutermostFirst(t *testing.T) {
	var order []string
	mark := func(name string) Stage {
		return Stage{Name: name, Wrap: func(next HTTPDoer) HTTPDoer {
			return DoerFunc(func(req *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.Do(req)
			})
		}}
	}
	base := DoerFunc(func(*http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}}, nil
	})
	pipeline := NewPipeline(base, mark("a"), Stage{Name: "skipped"}, mark("b"))
	req, _ := http.NewRequest(http.MethodGet, "http://crowd.local/x", nil)
	if _, err := pipeline.Do(req); err != nil {
		t.Fatalf("do: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"a", "b", "base"}) {
		t.Fatalf("unexpected order %v", order)
	}
	if !reflect.DeepEqual(pipeline.Stages(), []string{"a", "b"}) {
		t.Fatalf("expected nil stages dropped, got %v", pipeline.Stages())
	}
}

func TestDirectoryPipeline_SetsAuthAndHeaders(t *testing.T) {
	var captured *http.Request
	var capturedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		capturedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	pipeline := NewDirectoryPipeline(testDirectoryConfig(server.URL), NewBaseClient(time.Second))
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/rest/usermanagement/1/session", io.NopCloser(strings.NewReader(`{"username":"alice"}`)))
	res, err := pipeline.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = res.Body.Close()

	user, pass, ok := captured.BasicAuth()
	if !ok || user != "portal" || pass != "app-secret" {
		t.Fatalf("expected application basic auth, got %q/%q", user, pass)
	}
	if captured.Header.Get("Accept") != "application/json" || captured.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("expected json headers, got %v", captured.Header)
	}
	if captured.Header.Get("User-Agent") != core.DefaultUserAgent {
		t.Fatalf("expected user agent, got %q", captured.Header.Get("User-Agent"))
	}
	if captured.ContentLength != int64(len(capturedBody)) || len(capturedBody) == 0 {
		t.Fatalf("expected explicit content length, got %d for %d bytes", captured.ContentLength, len(capturedBody))
	}
}

func TestHeaderDefaults_KeepsCallerHeaders(t *testing.T) {
	var got http.Header
	base := DoerFunc(func(req *http.Request) (*http.Response, error) {
		got = req.Header
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Header: http.Header{}}, nil
	})
	doer := HeaderDefaults(map[string]string{"accept": "application/json", "User-Agent": "default"})(base)
	req, _ := http.NewRequest(http.MethodGet, "http://crowd.local", nil)
	req.Header.Set("User-Agent", "custom")
	if _, err := doer.Do(req); err != nil {
		t.Fatalf("do: %v", err)
	}
	if got.Get("User-Agent") != "custom" || got.Get("Accept") != "application/json" {
		t.Fatalf("unexpected headers %v", got)
	}
	if req.Header.Get("Accept") != "" {
		t.Fatalf("expected caller request to stay untouched")
	}
}

func TestRetry_IdempotentOn5xxOnly(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	pipeline := NewDirectoryPipeline(testDirectoryConfig(server.URL), NewBaseClient(time.Second))
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/rest/usermanagement/1/user?username=alice", nil)
	res, err := pipeline.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK || calls.Load() != 3 {
		t.Fatalf("expected success after 3 attempts, got status=%d calls=%d", res.StatusCode, calls.Load())
	}
}

func TestRetry_ExhaustedReturnsLast5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	pipeline := NewDirectoryPipeline(testDirectoryConfig(server.URL), NewBaseClient(time.Second))
	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/rest/usermanagement/1/session/tok", nil)
	res, err := pipeline.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts ending in 503, got status=%d calls=%d", res.StatusCode, calls.Load())
	}
}

func TestRetry_NeverRetriesPostOr4xx(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
	}{
		{name: "post 5xx", method: http.MethodPost, status: http.StatusInternalServerError},
		{name: "get 4xx", method: http.MethodGet, status: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			pipeline := NewDirectoryPipeline(testDirectoryConfig(server.URL), NewBaseClient(time.Second))
			req, _ := http.NewRequest(tc.method, server.URL+"/x", nil)
			res, err := pipeline.Do(req)
			if err != nil {
				t.Fatalf("do: %v", err)
			}
			_ = res.Body.Close()
			if calls.Load() != 1 {
				t.Fatalf("expected a single attempt, got %d", calls.Load())
			}
		})
	}
}

func TestRetry_TransportErrors(t *testing.T) {
	var calls int
	base := DoerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection reset")
	})
	doer := Retry(2, 0)(base)
	req, _ := http.NewRequest(http.MethodGet, "http://crowd.local", nil)
	if _, err := doer.Do(req); err == nil {
		t.Fatalf("expected error after retries")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRedirect_SeeOtherBecomesGet(t *testing.T) {
	var finalMethod string
	var finalAuth bool
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusSeeOther)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		finalMethod = r.Method
		_, _, finalAuth = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	pipeline := NewDirectoryPipeline(testDirectoryConfig(server.URL), NewBaseClient(time.Second))
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/start", strings.NewReader(`{}`))
	res, err := pipeline.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = res.Body.Close()
	if res.StatusCode != http.StatusOK || finalMethod != http.MethodGet {
		t.Fatalf("expected GET on final hop, got %s status=%d", finalMethod, res.StatusCode)
	}
	if !finalAuth {
		t.Fatalf("expected credentials carried on a same-host redirect")
	}
}

func TestRedirect_TemporaryKeepsMethodAndBody(t *testing.T) {
	var finalMethod, finalBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		finalMethod = r.Method
		payload, _ := io.ReadAll(r.Body)
		finalBody = string(payload)
		w.WriteHeader(http.StatusCreated)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	pipeline := NewDirectoryPipeline(testDirectoryConfig(server.URL), NewBaseClient(time.Second))
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/start", strings.NewReader(`{"a":1}`))
	res, err := pipeline.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = res.Body.Close()
	if finalMethod != http.MethodPost || finalBody != `{"a":1}` {
		t.Fatalf("expected POST with body, got %s %q", finalMethod, finalBody)
	}
}

func TestRedirect_Limit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer server.Close()

	cfg := testDirectoryConfig(server.URL)
	cfg.MaxRedirects = 2
	pipeline := NewDirectoryPipeline(cfg, NewBaseClient(time.Second))
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/loop", nil)
	_, err := pipeline.Do(req)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external redirect error, got %v", err)
	}
}

func TestDecode_GzipAfterRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte(`{"name":"alice"}`))
		_ = zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	pipeline := NewDirectoryPipeline(testDirectoryConfig(server.URL), NewBaseClient(time.Second))
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/start", nil)
	res, err := pipeline.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	body, err := ReadBody(res, 0)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != `{"name":"alice"}` {
		t.Fatalf("expected decoded body, got %q", body)
	}
}

func TestReadBody_LimitReturnsRichError(t *testing.T) {
	res := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("12345"))}
	_, err := ReadBody(res, 4)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorDirectoryUnavailable || rich.Code != http.StatusBadGateway {
		t.Fatalf("unexpected envelope %+v", rich)
	}
}

func TestPipeline_NilReturnsRichError(t *testing.T) {
	var pipeline *Pipeline
	_, err := pipeline.Do(&http.Request{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal envelope, got %v", err)
	}
}
