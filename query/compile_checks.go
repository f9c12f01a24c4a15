package query

import (
	"github.com/goliatone/go-crowdauth/core"
	gocmd "github.com/goliatone/go-command"
)

var (
	_ gocmd.Querier[LookupUserMessage, UserLookup]            = (*LookupUserQuery)(nil)
	_ gocmd.Querier[LookupByRememberTokenMessage, UserLookup] = (*LookupByRememberTokenQuery)(nil)
	_ gocmd.Querier[SearchUsersMessage, []core.LocalUser]     = (*SearchUsersQuery)(nil)
	_ gocmd.Querier[ValidateSessionMessage, SessionLookup]    = (*ValidateSessionQuery)(nil)

	_ IdentityReader = (*core.SessionValidator)(nil)
	_ SessionReader  = (*core.SessionValidator)(nil)
)
