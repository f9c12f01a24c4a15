package command

import (
	"github.com/goliatone/go-crowdauth/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Commander[LoginMessage]               = (*LoginCommand)(nil)
	_ gocmd.Commander[LogoutMessage]              = (*LogoutCommand)(nil)
	_ gocmd.Commander[RefreshSessionMessage]      = (*RefreshSessionCommand)(nil)
	_ gocmd.Commander[UpdateRememberTokenMessage] = (*UpdateRememberTokenCommand)(nil)

	_ SessionService = (*core.SessionValidator)(nil)
)
