package transport

import (
	"net/http"
	"time"

	"github.com/goliatone/go-crowdauth/core"
	goerrors "github.com/goliatone/go-errors"
)

const (
	StageBasicAuth      = "basic_auth"
	StageHeaderDefaults = "header_defaults"
	StageContentLength  = "content_length"
	StageRetry          = "retry"
	StageDecode         = "decode"
	StageRedirect       = "redirect"
)

const DefaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

type Middleware func(next HTTPDoer) HTTPDoer

// Stage is one named request transform. Stages run outermost first.
type Stage struct {
	Name string
	Wrap Middleware
}

// Pipeline is an HTTPDoer built from an explicit ordered list of stages over a
// base doer.
type Pipeline struct {
	stages []Stage
	doer   HTTPDoer
}

func NewPipeline(base HTTPDoer, stages ...Stage) *Pipeline {
	if base == nil {
		base = NewBaseClient(0)
	}
	doer := base
	kept := make([]Stage, 0, len(stages))
	for index := len(stages) - 1; index >= 0; index-- {
		stage := stages[index]
		if stage.Wrap == nil {
			continue
		}
		doer = stage.Wrap(doer)
	}
	for _, stage := range stages {
		if stage.Wrap != nil {
			kept = append(kept, stage)
		}
	}
	return &Pipeline{stages: kept, doer: doer}
}

func (p *Pipeline) Do(req *http.Request) (*http.Response, error) {
	if p == nil || p.doer == nil {
		return nil, transportError(
			"transport: pipeline is not configured",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if req == nil {
		return nil, transportError(
			"transport: request is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			nil,
		)
	}
	return p.doer.Do(req)
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.stages))
	for _, stage := range p.stages {
		names = append(names, stage.Name)
	}
	return names
}

// DirectoryStages is the transport policy for directory calls: application
// credentials first so every retry and redirect re-sends them, redirects
// innermost so decoding sees only the final response.
func DirectoryStages(cfg core.DirectoryConfig) []Stage {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = core.DefaultUserAgent
	}
	return []Stage{
		{Name: StageBasicAuth, Wrap: BasicAuth(cfg.AppName, cfg.AppPassword)},
		{Name: StageHeaderDefaults, Wrap: HeaderDefaults(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
			"User-Agent":   userAgent,
		})},
		{Name: StageContentLength, Wrap: ContentLength()},
		{Name: StageRetry, Wrap: Retry(cfg.MaxRetries, cfg.RetryDelay())},
		{Name: StageDecode, Wrap: Decode()},
		{Name: StageRedirect, Wrap: Redirect(cfg.MaxRedirects)},
	}
}

func NewDirectoryPipeline(cfg core.DirectoryConfig, base HTTPDoer) *Pipeline {
	if base == nil {
		base = NewBaseClient(cfg.Timeout())
	}
	return NewPipeline(base, DirectoryStages(cfg)...)
}

// NewBaseClient returns an http.Client that never follows redirects itself;
// the Redirect stage owns that policy.
func NewBaseClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = core.DefaultDirectoryTimeoutSeconds * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func requestMetadata(req *http.Request) map[string]any {
	if req == nil || req.URL == nil {
		return nil
	}
	return map[string]any{
		"method": req.Method,
		"host":   req.URL.Host,
		"path":   req.URL.Path,
	}
}
