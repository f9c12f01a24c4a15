package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-crowdauth/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const userCacheKeyPrefix = "go-crowdauth::user::v1"

var errCachedUserMissing = errors.New("sqlstore: user not found")

// CachedUserRepository serves GetByID from the cache. Every other read goes
// to the base repository, and writes drop the cached row.
type CachedUserRepository struct {
	base  core.UserRepository
	cache repositorycache.CacheService
}

func NewCachedUserRepository(
	base core.UserRepository,
	cacheService repositorycache.CacheService,
) (*CachedUserRepository, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base user repository is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: user cache service is required")
	}
	return &CachedUserRepository{base: base, cache: cacheService}, nil
}

// UserCacheKey returns go-crowdauth::user::v1::<id> with the id URL-path
// escaped.
func UserCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: user id is required")
	}
	return strings.Join([]string{userCacheKeyPrefix, url.PathEscape(id)}, "::"), nil
}

func (r *CachedUserRepository) GetByID(ctx context.Context, id string) (core.LocalUser, bool, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.LocalUser{}, false, fmt.Errorf("sqlstore: cached user repository is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return core.LocalUser{}, false, nil
	}
	cacheKey, err := UserCacheKey(id)
	if err != nil {
		return core.LocalUser{}, false, err
	}
	user, err := repositorycache.GetOrFetch(ctx, r.cache, cacheKey, func(ctx context.Context) (core.LocalUser, error) {
		fetched, found, fetchErr := r.base.GetByID(ctx, id)
		if fetchErr != nil {
			return core.LocalUser{}, fetchErr
		}
		if !found {
			return core.LocalUser{}, errCachedUserMissing
		}
		return fetched.Clone(), nil
	})
	if errors.Is(err, errCachedUserMissing) {
		return core.LocalUser{}, false, nil
	}
	if err != nil {
		return core.LocalUser{}, false, err
	}
	return user.Clone(), true, nil
}

func (r *CachedUserRepository) GetByCrowdKey(ctx context.Context, crowdKey string) (core.LocalUser, bool, error) {
	if r == nil || r.base == nil {
		return core.LocalUser{}, false, fmt.Errorf("sqlstore: cached user repository is not configured")
	}
	return r.base.GetByCrowdKey(ctx, crowdKey)
}

func (r *CachedUserRepository) GetByUsername(ctx context.Context, username string) (core.LocalUser, bool, error) {
	if r == nil || r.base == nil {
		return core.LocalUser{}, false, fmt.Errorf("sqlstore: cached user repository is not configured")
	}
	return r.base.GetByUsername(ctx, username)
}

func (r *CachedUserRepository) GetBySSOToken(ctx context.Context, token core.SessionToken) (core.LocalUser, bool, error) {
	if r == nil || r.base == nil {
		return core.LocalUser{}, false, fmt.Errorf("sqlstore: cached user repository is not configured")
	}
	return r.base.GetBySSOToken(ctx, token)
}

func (r *CachedUserRepository) Save(ctx context.Context, user core.LocalUser) (core.LocalUser, error) {
	if r == nil || r.base == nil || r.cache == nil {
		return core.LocalUser{}, fmt.Errorf("sqlstore: cached user repository is not configured")
	}
	saved, err := r.base.Save(ctx, user)
	if err != nil {
		return core.LocalUser{}, err
	}
	if err := r.Invalidate(ctx, saved.ID); err != nil {
		return core.LocalUser{}, err
	}
	return saved, nil
}

func (r *CachedUserRepository) UpdateTokens(ctx context.Context, id string, ssoToken core.SessionToken, rememberToken string) error {
	if r == nil || r.base == nil || r.cache == nil {
		return fmt.Errorf("sqlstore: cached user repository is not configured")
	}
	if err := r.base.UpdateTokens(ctx, id, ssoToken, rememberToken); err != nil {
		return err
	}
	return r.Invalidate(ctx, id)
}

func (r *CachedUserRepository) SearchByDisplayName(ctx context.Context, fragment string) ([]core.LocalUser, error) {
	if r == nil || r.base == nil {
		return nil, fmt.Errorf("sqlstore: cached user repository is not configured")
	}
	return r.base.SearchByDisplayName(ctx, fragment)
}

func (r *CachedUserRepository) Invalidate(ctx context.Context, id string) error {
	if r == nil || r.cache == nil {
		return nil
	}
	cacheKey, err := UserCacheKey(id)
	if err != nil {
		return err
	}
	return r.cache.Delete(ctx, cacheKey)
}
