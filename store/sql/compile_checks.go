package sqlstore

import "github.com/goliatone/go-crowdauth/core"

var (
	_ core.IdentityStore        = (*IdentityStore)(nil)
	_ core.UserRepository       = (*UserStore)(nil)
	_ core.UserRepository       = (*CachedUserRepository)(nil)
	_ core.GroupRepository      = (*GroupStore)(nil)
	_ core.MembershipRepository = (*MembershipStore)(nil)
	_ core.Repositories         = (*txRepositories)(nil)
)
