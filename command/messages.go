package command

import (
	"strings"

	"github.com/goliatone/go-crowdauth/core"
)

const (
	TypeLogin               = "crowdauth.command.login"
	TypeLogout              = "crowdauth.command.logout"
	TypeRefreshSession      = "crowdauth.command.session.refresh"
	TypeUpdateRememberToken = "crowdauth.command.remember_token.update"
)

type LoginMessage struct {
	Credentials core.Credentials
	SourceIP    string
}

func (LoginMessage) Type() string { return TypeLogin }

func (m LoginMessage) Validate() error {
	if strings.TrimSpace(m.Credentials.Username) == "" {
		return commandValidationError("username", "username is required")
	}
	if m.Credentials.Password == "" {
		return commandValidationError("password", "password is required")
	}
	return nil
}

type LogoutMessage struct {
	Token core.SessionToken
}

func (LogoutMessage) Type() string { return TypeLogout }

func (m LogoutMessage) Validate() error {
	if m.Token.Empty() {
		return commandValidationError("token", "session token is required")
	}
	return nil
}

type RefreshSessionMessage struct {
	UserID   string
	SourceIP string
}

func (RefreshSessionMessage) Type() string { return TypeRefreshSession }

func (m RefreshSessionMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

// UpdateRememberTokenMessage with an empty token clears the stored one.
type UpdateRememberTokenMessage struct {
	UserID        string
	RememberToken string
}

func (UpdateRememberTokenMessage) Type() string { return TypeUpdateRememberToken }

func (m UpdateRememberTokenMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}
