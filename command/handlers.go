package command

import (
	"context"

	"github.com/goliatone/go-crowdauth/core"
	gocmd "github.com/goliatone/go-command"
)

// SessionService is the mutating surface of core.SessionValidator.
type SessionService interface {
	LoginWithCredentials(ctx context.Context, creds core.Credentials, sourceIP string) (core.Principal, error)
	Logout(ctx context.Context, token core.SessionToken) error
	RefreshSession(ctx context.Context, id string, sourceIP string) (core.LocalUser, error)
	UpdateRememberToken(ctx context.Context, id string, rememberToken string) error
}

// LoginCommand stores the core.Principal in the context result collector.
type LoginCommand struct {
	service SessionService
}

func NewLoginCommand(service SessionService) *LoginCommand {
	return &LoginCommand{service: service}
}

func (c *LoginCommand) Execute(ctx context.Context, msg LoginMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: login service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	principal, err := c.service.LoginWithCredentials(ctx, msg.Credentials, msg.SourceIP)
	if err != nil {
		return err
	}
	storeResult(ctx, principal)
	return nil
}

type LogoutCommand struct {
	service SessionService
}

func NewLogoutCommand(service SessionService) *LogoutCommand {
	return &LogoutCommand{service: service}
}

func (c *LogoutCommand) Execute(ctx context.Context, msg LogoutMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: logout service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.Logout(ctx, msg.Token)
}

// RefreshSessionCommand stores the refreshed core.LocalUser.
type RefreshSessionCommand struct {
	service SessionService
}

func NewRefreshSessionCommand(service SessionService) *RefreshSessionCommand {
	return &RefreshSessionCommand{service: service}
}

func (c *RefreshSessionCommand) Execute(ctx context.Context, msg RefreshSessionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh session service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	user, err := c.service.RefreshSession(ctx, msg.UserID, msg.SourceIP)
	if err != nil {
		return err
	}
	storeResult(ctx, user)
	return nil
}

type UpdateRememberTokenCommand struct {
	service SessionService
}

func NewUpdateRememberTokenCommand(service SessionService) *UpdateRememberTokenCommand {
	return &UpdateRememberTokenCommand{service: service}
}

func (c *UpdateRememberTokenCommand) Execute(ctx context.Context, msg UpdateRememberTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: remember token service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.UpdateRememberToken(ctx, msg.UserID, msg.RememberToken)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
