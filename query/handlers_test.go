package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-crowdauth/core"
	goerrors "github.com/goliatone/go-errors"
)

type stubIdentityReader struct {
	lookupFn   func(ctx context.Context, id string) (core.LocalUser, bool, error)
	rememberFn func(ctx context.Context, id string, token string) (core.LocalUser, bool, error)
	searchFn   func(ctx context.Context, fragment string) ([]core.LocalUser, error)
}

func (s stubIdentityReader) LookupByLocalID(ctx context.Context, id string) (core.LocalUser, bool, error) {
	if s.lookupFn == nil {
		return core.LocalUser{}, false, nil
	}
	return s.lookupFn(ctx, id)
}

func (s stubIdentityReader) LookupByRememberToken(ctx context.Context, id string, token string) (core.LocalUser, bool, error) {
	if s.rememberFn == nil {
		return core.LocalUser{}, false, nil
	}
	return s.rememberFn(ctx, id, token)
}

func (s stubIdentityReader) SearchByDisplayName(ctx context.Context, fragment string) ([]core.LocalUser, error) {
	if s.searchFn == nil {
		return []core.LocalUser{}, nil
	}
	return s.searchFn(ctx, fragment)
}

type stubSessionReader func(ctx context.Context, token core.SessionToken) (core.Session, bool, error)

func (f stubSessionReader) ValidateSession(ctx context.Context, token core.SessionToken) (core.Session, bool, error) {
	return f(ctx, token)
}

func TestLookupUserQuery_QueryDelegates(t *testing.T) {
	called := false
	reader := stubIdentityReader{
		lookupFn: func(_ context.Context, id string) (core.LocalUser, bool, error) {
			called = true
			if id != "u1" {
				t.Fatalf("unexpected lookup id %q", id)
			}
			return core.LocalUser{ID: "u1", Username: "alice"}, true, nil
		},
	}
	result, err := NewLookupUserQuery(reader).Query(context.Background(), LookupUserMessage{UserID: "u1"})
	if err != nil {
		t.Fatalf("query lookup user: %v", err)
	}
	if !called {
		t.Fatalf("expected identity reader invocation")
	}
	if !result.Found || result.User.Username != "alice" {
		t.Fatalf("unexpected lookup result: %#v", result)
	}
}

func TestLookupUserQuery_NotFoundIsNotAnError(t *testing.T) {
	result, err := NewLookupUserQuery(stubIdentityReader{}).Query(context.Background(), LookupUserMessage{UserID: "ghost"})
	if err != nil {
		t.Fatalf("expected not found without error, got %v", err)
	}
	if result.Found {
		t.Fatalf("expected not found result, got %#v", result)
	}
}

func TestLookupUserQuery_PropagatesReaderError(t *testing.T) {
	reader := stubIdentityReader{
		lookupFn: func(context.Context, string) (core.LocalUser, bool, error) {
			return core.LocalUser{}, false, fmt.Errorf("boom")
		},
	}
	if _, err := NewLookupUserQuery(reader).Query(context.Background(), LookupUserMessage{UserID: "u1"}); err == nil {
		t.Fatalf("expected reader error")
	}
}

func TestLookupByRememberTokenQuery_QueryDelegates(t *testing.T) {
	reader := stubIdentityReader{
		rememberFn: func(_ context.Context, id string, token string) (core.LocalUser, bool, error) {
			if id != "u1" || token != "remember-1" {
				t.Fatalf("unexpected remember payload: %q %q", id, token)
			}
			return core.LocalUser{ID: "u1"}, true, nil
		},
	}
	result, err := NewLookupByRememberTokenQuery(reader).Query(context.Background(), LookupByRememberTokenMessage{
		UserID:        "u1",
		RememberToken: "remember-1",
	})
	if err != nil {
		t.Fatalf("query remember token: %v", err)
	}
	if !result.Found || result.User.ID != "u1" {
		t.Fatalf("unexpected remember result: %#v", result)
	}
}

func TestSearchUsersQuery_QueryDelegates(t *testing.T) {
	reader := stubIdentityReader{
		searchFn: func(_ context.Context, fragment string) ([]core.LocalUser, error) {
			if fragment != "lid" {
				t.Fatalf("unexpected search fragment %q", fragment)
			}
			return []core.LocalUser{{Username: "alice"}}, nil
		},
	}
	users, err := NewSearchUsersQuery(reader).Query(context.Background(), SearchUsersMessage{Fragment: "lid"})
	if err != nil {
		t.Fatalf("query search: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("unexpected search result: %#v", users)
	}
}

func TestValidateSessionQuery_QueryDelegates(t *testing.T) {
	reader := stubSessionReader(func(_ context.Context, token core.SessionToken) (core.Session, bool, error) {
		if token != "tok-1" {
			t.Fatalf("unexpected token %q", token)
		}
		return core.Session{Username: "alice", Token: token}, true, nil
	})
	result, err := NewValidateSessionQuery(reader).Query(context.Background(), ValidateSessionMessage{Token: "tok-1"})
	if err != nil {
		t.Fatalf("query validate session: %v", err)
	}
	if !result.Found || result.Session.Username != "alice" {
		t.Fatalf("unexpected session result: %#v", result)
	}
}

func TestMessageValidation(t *testing.T) {
	tests := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{name: "lookup valid", msg: LookupUserMessage{UserID: "u1"}},
		{name: "lookup missing id", msg: LookupUserMessage{}, wantErr: true},
		{name: "remember valid", msg: LookupByRememberTokenMessage{UserID: "u1", RememberToken: "r"}},
		{name: "remember missing token", msg: LookupByRememberTokenMessage{UserID: "u1"}, wantErr: true},
		{name: "remember missing id", msg: LookupByRememberTokenMessage{RememberToken: "r"}, wantErr: true},
		{name: "session valid", msg: ValidateSessionMessage{Token: "tok"}},
		{name: "session missing token", msg: ValidateSessionMessage{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLookupUserMessage_ValidateReturnsRichError(t *testing.T) {
	err := (LookupUserMessage{}).Validate()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var qry *LookupUserQuery
	_, err := qry.Query(context.Background(), LookupUserMessage{UserID: "u1"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if _, err := NewValidateSessionQuery(nil).Query(context.Background(), ValidateSessionMessage{Token: "t"}); err == nil {
		t.Fatalf("expected missing session reader error")
	}
}
