package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-crowdauth/core"
	"github.com/goliatone/go-crowdauth/transport"
)

const basePath = "/rest/usermanagement"

const (
	opAuthenticate      = "authenticate"
	opFetchSession      = "fetch_session"
	opRefreshSession    = "refresh_session"
	opInvalidateSession = "invalidate_session"
	opUserExists        = "user_exists"
	opFetchIdentity     = "fetch_identity"
	opFetchGroups       = "fetch_groups"
)

// Client speaks the Crowd usermanagement REST API. It is safe for concurrent
// use once built.
type Client struct {
	baseURL   string
	doer      transport.HTTPDoer
	timeout   time.Duration
	bodyLimit int64
}

type clientBuilder struct {
	base      transport.HTTPDoer
	doer      transport.HTTPDoer
	bodyLimit int64
}

type ClientOption func(*clientBuilder)

// WithBaseDoer replaces the innermost HTTP doer; the directory pipeline still
// wraps it.
func WithBaseDoer(doer transport.HTTPDoer) ClientOption {
	return func(b *clientBuilder) {
		b.base = doer
	}
}

// WithDoer bypasses the directory pipeline entirely.
func WithDoer(doer transport.HTTPDoer) ClientOption {
	return func(b *clientBuilder) {
		b.doer = doer
	}
}

func WithResponseBodyLimit(limit int64) ClientOption {
	return func(b *clientBuilder) {
		b.bodyLimit = limit
	}
}

func NewClient(cfg core.DirectoryConfig, opts ...ClientOption) (*Client, error) {
	if err := cfg.ValidateEndpoint(); err != nil {
		return nil, err
	}
	builder := clientBuilder{bodyLimit: transport.DefaultResponseBodyLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	doer := builder.doer
	if doer == nil {
		doer = transport.NewDirectoryPipeline(cfg, builder.base)
	}
	if builder.bodyLimit <= 0 {
		builder.bodyLimit = transport.DefaultResponseBodyLimit
	}
	return &Client{
		baseURL:   strings.TrimSpace(cfg.URL) + basePath,
		doer:      doer,
		timeout:   cfg.Timeout(),
		bodyLimit: builder.bodyLimit,
	}, nil
}

// Authenticate opens a session bound to sourceIP. The outcome is accepted
// only when the directory answers 201 for the submitted username. 401/403 and
// 5xx are errors because they mean the application itself cannot be served.
func (c *Client) Authenticate(ctx context.Context, creds core.Credentials, sourceIP string) (core.SessionToken, bool, error) {
	payload := authenticateRequest{
		Username:          creds.Username,
		Password:          creds.Password,
		ValidationFactors: remoteAddress(sourceIP),
	}
	status, body, err := c.call(ctx, opAuthenticate, http.MethodPost, "/1/session", nil, payload)
	if err != nil {
		return "", false, err
	}
	switch {
	case status == http.StatusCreated:
	case refused(status), status < http.StatusBadRequest:
		// Only 201 opens a session; other 2xx and unfollowed 3xx answers are refusals.
		return "", false, nil
	default:
		return "", false, operationError(opAuthenticate, status, ErrUnexpectedStatus)
	}
	var session sessionResponse
	if err := decode(opAuthenticate, status, body, &session); err != nil {
		return "", false, err
	}
	if err := session.validate(); err != nil {
		return "", false, operationError(opAuthenticate, status, err)
	}
	if session.User.Name != creds.Username {
		return "", false, nil
	}
	return core.SessionToken(session.Token), true, nil
}

func (c *Client) FetchSession(ctx context.Context, token core.SessionToken) (core.Session, bool, error) {
	if token.Empty() {
		return core.Session{}, false, nil
	}
	status, body, err := c.call(ctx, opFetchSession, http.MethodGet, "/1/session/"+url.PathEscape(token.String()), nil, nil)
	if err != nil {
		return core.Session{}, false, err
	}
	switch {
	case status == http.StatusOK:
	case refused(status):
		return core.Session{}, false, nil
	default:
		return core.Session{}, false, operationError(opFetchSession, status, ErrUnexpectedStatus)
	}
	var session sessionResponse
	if err := decode(opFetchSession, status, body, &session); err != nil {
		return core.Session{}, false, err
	}
	if err := session.validate(); err != nil {
		return core.Session{}, false, operationError(opFetchSession, status, err)
	}
	if session.Token != token.String() {
		return core.Session{}, false, nil
	}
	return core.Session{Username: session.User.Name, Token: core.SessionToken(session.Token)}, true, nil
}

func (c *Client) RefreshSession(ctx context.Context, token core.SessionToken, sourceIP string) (core.SessionToken, bool, error) {
	if token.Empty() {
		return "", false, nil
	}
	status, body, err := c.call(ctx, opRefreshSession, http.MethodPost,
		"/1/session/"+url.PathEscape(token.String()), nil, remoteAddress(sourceIP))
	if err != nil {
		return "", false, err
	}
	switch {
	case status == http.StatusOK:
	case refused(status):
		return "", false, nil
	default:
		return "", false, operationError(opRefreshSession, status, ErrUnexpectedStatus)
	}
	var refreshed refreshResponse
	if err := decode(opRefreshSession, status, body, &refreshed); err != nil {
		return "", false, err
	}
	if strings.TrimSpace(refreshed.Token) == "" {
		return "", false, operationError(opRefreshSession, status, malformedField("token"))
	}
	return core.SessionToken(refreshed.Token), true, nil
}

// InvalidateSession reports true only for 204.
func (c *Client) InvalidateSession(ctx context.Context, token core.SessionToken) (bool, error) {
	if token.Empty() {
		return false, nil
	}
	status, _, err := c.call(ctx, opInvalidateSession, http.MethodDelete, "/1/session/"+url.PathEscape(token.String()), nil, nil)
	if err != nil {
		return false, err
	}
	if status >= http.StatusInternalServerError {
		return false, operationError(opInvalidateSession, status, ErrUnexpectedStatus)
	}
	return status == http.StatusNoContent, nil
}

func (c *Client) UserExists(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, nil
	}
	status, _, err := c.call(ctx, opUserExists, http.MethodGet, "/1/user", url.Values{"username": {username}}, nil)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusOK:
		return true, nil
	case refused(status):
		return false, nil
	default:
		return false, operationError(opUserExists, status, ErrUnexpectedStatus)
	}
}

// FetchIdentity returns the user with expanded attributes and direct groups.
// A user whose groups cannot be found keeps an empty group set; a fault while
// fetching groups fails the whole fetch.
func (c *Client) FetchIdentity(ctx context.Context, username string) (core.RemoteIdentity, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return core.RemoteIdentity{}, false, nil
	}
	status, body, err := c.call(ctx, opFetchIdentity, http.MethodGet, "/1/user",
		url.Values{"username": {username}, "expand": {"attributes"}}, nil)
	if err != nil {
		return core.RemoteIdentity{}, false, err
	}
	switch {
	case status == http.StatusOK:
	case refused(status):
		return core.RemoteIdentity{}, false, nil
	default:
		return core.RemoteIdentity{}, false, operationError(opFetchIdentity, status, ErrUnexpectedStatus)
	}
	var user userResponse
	if err := decode(opFetchIdentity, status, body, &user); err != nil {
		return core.RemoteIdentity{}, false, err
	}
	if err := user.validate(); err != nil {
		return core.RemoteIdentity{}, false, operationError(opFetchIdentity, status, err)
	}

	groups, found, err := c.FetchGroups(ctx, user.Name)
	if err != nil {
		return core.RemoteIdentity{}, false, err
	}
	if !found {
		groups = []string{}
	}
	return core.RemoteIdentity{
		Key:         user.Key,
		Username:    user.Name,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		Groups:      groups,
		Attributes:  user.attributeMap(),
	}, true, nil
}

// FetchGroups lists direct memberships only.
func (c *Client) FetchGroups(ctx context.Context, username string) ([]string, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, nil
	}
	status, body, err := c.call(ctx, opFetchGroups, http.MethodGet, "/1/user/group/direct", url.Values{"username": {username}}, nil)
	if err != nil {
		return nil, false, err
	}
	switch {
	case status == http.StatusOK:
	case refused(status):
		return nil, false, nil
	default:
		return nil, false, operationError(opFetchGroups, status, ErrUnexpectedStatus)
	}
	var groups groupsResponse
	if err := decode(opFetchGroups, status, body, &groups); err != nil {
		return nil, false, err
	}
	return groups.names(), true, nil
}

func (c *Client) call(
	ctx context.Context,
	operation string,
	method string,
	path string,
	query url.Values,
	payload any,
) (int, []byte, error) {
	if c == nil || c.doer == nil {
		return 0, nil, operationError(operation, 0, fmt.Errorf("directory client is not configured"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, operationError(operation, 0, err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, operationError(operation, 0, err)
	}
	res, err := c.doer.Do(req)
	if err != nil {
		return 0, nil, operationError(operation, 0, err)
	}
	raw, err := transport.ReadBody(res, c.bodyLimit)
	if err != nil {
		return res.StatusCode, nil, operationError(operation, res.StatusCode, err)
	}
	return res.StatusCode, raw, nil
}

func decode(operation string, status int, body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return operationError(operation, status, fmt.Errorf("%w: empty body", ErrMalformedResponse))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return operationError(operation, status, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	return nil
}

// refused covers the 4xx answers that carry a semantic no. 401 and 403 mean
// the application itself was rejected and surface as errors.
func refused(status int) bool {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return false
	}
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

var _ core.DirectoryClient = (*Client)(nil)
