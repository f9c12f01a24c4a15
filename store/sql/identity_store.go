package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-crowdauth/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

// IdentityStore is the bun-backed core.IdentityStore. Reads and writes made
// through the Repositories handed to RunInTx share a single database
// transaction.
type IdentityStore struct {
	db          *bun.DB
	users       *UserStore
	groups      *GroupStore
	memberships *MembershipStore
	cachedUsers *CachedUserRepository
}

type IdentityStoreOption func(*IdentityStore) error

// WithUserCache serves user lookups by id from cacheService.
func WithUserCache(cacheService repositorycache.CacheService) IdentityStoreOption {
	return func(s *IdentityStore) error {
		if cacheService == nil {
			return nil
		}
		cached, err := NewCachedUserRepository(s.users, cacheService)
		if err != nil {
			return err
		}
		s.cachedUsers = cached
		return nil
	}
}

func NewIdentityStore(db *bun.DB, opts ...IdentityStoreOption) (*IdentityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	users, err := NewUserStore(db)
	if err != nil {
		return nil, err
	}
	groups, err := NewGroupStore(db)
	if err != nil {
		return nil, err
	}
	memberships, err := NewMembershipStore(db)
	if err != nil {
		return nil, err
	}
	store := &IdentityStore{
		db:          db,
		users:       users,
		groups:      groups,
		memberships: memberships,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(store); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (s *IdentityStore) Users() core.UserRepository {
	if s == nil {
		return nil
	}
	if s.cachedUsers != nil {
		return s.cachedUsers
	}
	return s.users
}

func (s *IdentityStore) Groups() core.GroupRepository {
	if s == nil {
		return nil
	}
	return s.groups
}

func (s *IdentityStore) Memberships() core.MembershipRepository {
	if s == nil {
		return nil
	}
	return s.memberships
}

func (s *IdentityStore) GroupStore() *GroupStore {
	if s == nil {
		return nil
	}
	return s.groups
}

func (s *IdentityStore) DB() *bun.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// RunInTx commits when fn returns nil and rolls back otherwise. Cached users
// written inside the transaction are dropped once it finishes.
func (s *IdentityStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx core.Repositories) error) error {
	if s == nil || s.db == nil || s.users == nil {
		return fmt.Errorf("sqlstore: identity store is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: transaction callback is required")
	}

	touched := map[string]struct{}{}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &txRepositories{
			users: s.users.withTx(tx, func(id string) {
				touched[id] = struct{}{}
			}),
			groups:      s.groups.withTx(tx),
			memberships: s.memberships.withTx(tx),
		})
	})

	if s.cachedUsers != nil {
		for id := range touched {
			if invalidateErr := s.cachedUsers.Invalidate(ctx, id); invalidateErr != nil {
				err = errors.Join(err, invalidateErr)
			}
		}
	}
	return err
}

type txRepositories struct {
	users       *UserStore
	groups      *GroupStore
	memberships *MembershipStore
}

func (t *txRepositories) Users() core.UserRepository             { return t.users }
func (t *txRepositories) Groups() core.GroupRepository           { return t.groups }
func (t *txRepositories) Memberships() core.MembershipRepository { return t.memberships }
