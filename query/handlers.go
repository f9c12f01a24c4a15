package query

import (
	"context"

	"github.com/goliatone/go-crowdauth/core"
)

// IdentityReader is the read surface of core.SessionValidator.
type IdentityReader interface {
	LookupByLocalID(ctx context.Context, id string) (core.LocalUser, bool, error)
	LookupByRememberToken(ctx context.Context, id string, rememberToken string) (core.LocalUser, bool, error)
	SearchByDisplayName(ctx context.Context, fragment string) ([]core.LocalUser, error)
}

type SessionReader interface {
	ValidateSession(ctx context.Context, token core.SessionToken) (core.Session, bool, error)
}

// LookupUserQuery may contact the directory when the local row is stale.
type LookupUserQuery struct {
	reader IdentityReader
}

func NewLookupUserQuery(reader IdentityReader) *LookupUserQuery {
	return &LookupUserQuery{reader: reader}
}

func (q *LookupUserQuery) Query(ctx context.Context, msg LookupUserMessage) (UserLookup, error) {
	if q == nil || q.reader == nil {
		return UserLookup{}, queryDependencyError("query: identity reader is required")
	}
	if err := msg.Validate(); err != nil {
		return UserLookup{}, err
	}
	user, found, err := q.reader.LookupByLocalID(ctx, msg.UserID)
	if err != nil {
		return UserLookup{}, err
	}
	return UserLookup{User: user, Found: found}, nil
}

type LookupByRememberTokenQuery struct {
	reader IdentityReader
}

func NewLookupByRememberTokenQuery(reader IdentityReader) *LookupByRememberTokenQuery {
	return &LookupByRememberTokenQuery{reader: reader}
}

func (q *LookupByRememberTokenQuery) Query(ctx context.Context, msg LookupByRememberTokenMessage) (UserLookup, error) {
	if q == nil || q.reader == nil {
		return UserLookup{}, queryDependencyError("query: identity reader is required")
	}
	if err := msg.Validate(); err != nil {
		return UserLookup{}, err
	}
	user, found, err := q.reader.LookupByRememberToken(ctx, msg.UserID, msg.RememberToken)
	if err != nil {
		return UserLookup{}, err
	}
	return UserLookup{User: user, Found: found}, nil
}

type SearchUsersQuery struct {
	reader IdentityReader
}

func NewSearchUsersQuery(reader IdentityReader) *SearchUsersQuery {
	return &SearchUsersQuery{reader: reader}
}

func (q *SearchUsersQuery) Query(ctx context.Context, msg SearchUsersMessage) ([]core.LocalUser, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: identity reader is required")
	}
	return q.reader.SearchByDisplayName(ctx, msg.Fragment)
}

type ValidateSessionQuery struct {
	reader SessionReader
}

func NewValidateSessionQuery(reader SessionReader) *ValidateSessionQuery {
	return &ValidateSessionQuery{reader: reader}
}

func (q *ValidateSessionQuery) Query(ctx context.Context, msg ValidateSessionMessage) (SessionLookup, error) {
	if q == nil || q.reader == nil {
		return SessionLookup{}, queryDependencyError("query: session reader is required")
	}
	if err := msg.Validate(); err != nil {
		return SessionLookup{}, err
	}
	session, found, err := q.reader.ValidateSession(ctx, msg.Token)
	if err != nil {
		return SessionLookup{}, err
	}
	return SessionLookup{Session: session, Found: found}, nil
}
