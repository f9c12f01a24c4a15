package query

import (
	"strings"

	"github.com/goliatone/go-crowdauth/core"
)

const (
	TypeLookupUser            = "crowdauth.query.user.lookup"
	TypeLookupByRememberToken = "crowdauth.query.user.remember_token"
	TypeSearchUsers           = "crowdauth.query.user.search"
	TypeValidateSession       = "crowdauth.query.session.validate"
)

type LookupUserMessage struct {
	UserID string
}

func (LookupUserMessage) Type() string { return TypeLookupUser }

func (m LookupUserMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	return nil
}

type LookupByRememberTokenMessage struct {
	UserID        string
	RememberToken string
}

func (LookupByRememberTokenMessage) Type() string { return TypeLookupByRememberToken }

func (m LookupByRememberTokenMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return queryValidationError("user_id", "user id is required")
	}
	if strings.TrimSpace(m.RememberToken) == "" {
		return queryValidationError("remember_token", "remember token is required")
	}
	return nil
}

// SearchUsersMessage with a blank fragment yields no users.
type SearchUsersMessage struct {
	Fragment string
}

func (SearchUsersMessage) Type() string { return TypeSearchUsers }

type ValidateSessionMessage struct {
	Token core.SessionToken
}

func (ValidateSessionMessage) Type() string { return TypeValidateSession }

func (m ValidateSessionMessage) Validate() error {
	if m.Token.Empty() {
		return queryValidationError("token", "session token is required")
	}
	return nil
}

// UserLookup carries the found flag so a missing user is not an error.
type UserLookup struct {
	User  core.LocalUser
	Found bool
}

type SessionLookup struct {
	Session core.Session
	Found   bool
}
