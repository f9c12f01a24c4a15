package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryIdentityStore is an IdentityStore held in process memory. RunInTx
// works on a copy of the state and swaps it in only when fn succeeds; fn must
// use the tx repositories, the store's own accessors block until it returns.
type MemoryIdentityStore struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

type memoryState struct {
	users   map[string]LocalUser
	groups  map[string]LocalGroup
	members map[string]map[string]time.Time
}

func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{
		state: &memoryState{
			users:   map[string]LocalUser{},
			groups:  map[string]LocalGroup{},
			members: map[string]map[string]time.Time{},
		},
		now: utcNow,
	}
}

func (s *MemoryIdentityStore) Users() UserRepository {
	return &memoryRepositories{store: s}
}

func (s *MemoryIdentityStore) Groups() GroupRepository {
	return &memoryRepositories{store: s}
}

func (s *MemoryIdentityStore) Memberships() MembershipRepository {
	return &memoryRepositories{store: s}
}

func (s *MemoryIdentityStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error {
	if s == nil {
		return fmt.Errorf("core: memory identity store is not configured")
	}
	if fn == nil {
		return fmt.Errorf("core: transaction callback is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	working := s.state.clone()
	if err := fn(ctx, &memoryTx{repos: &memoryRepositories{store: s, tx: working}}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = working
	return nil
}

type memoryTx struct {
	repos *memoryRepositories
}

func (t *memoryTx) Users() UserRepository             { return t.repos }
func (t *memoryTx) Groups() GroupRepository           { return t.repos }
func (t *memoryTx) Memberships() MembershipRepository { return t.repos }

// memoryRepositories implements all three repositories. A nil tx means the
// call runs against the committed state under the store lock.
type memoryRepositories struct {
	store *MemoryIdentityStore
	tx    *memoryState
}

func (r *memoryRepositories) with(fn func(state *memoryState) error) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("core: memory identity store is not configured")
	}
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func (r *memoryRepositories) GetByID(_ context.Context, id string) (LocalUser, bool, error) {
	return r.findUser(func(user LocalUser) bool { return user.ID == strings.TrimSpace(id) })
}

func (r *memoryRepositories) GetByCrowdKey(_ context.Context, crowdKey string) (LocalUser, bool, error) {
	return r.findUser(func(user LocalUser) bool { return user.CrowdKey == strings.TrimSpace(crowdKey) })
}

func (r *memoryRepositories) GetByUsername(_ context.Context, username string) (LocalUser, bool, error) {
	return r.findUser(func(user LocalUser) bool { return user.Username == strings.TrimSpace(username) })
}

func (r *memoryRepositories) GetBySSOToken(_ context.Context, token SessionToken) (LocalUser, bool, error) {
	if token.Empty() {
		return LocalUser{}, false, nil
	}
	return r.findUser(func(user LocalUser) bool { return user.SSOToken == token })
}

func (r *memoryRepositories) findUser(match func(LocalUser) bool) (LocalUser, bool, error) {
	var (
		found LocalUser
		ok    bool
	)
	err := r.with(func(state *memoryState) error {
		for _, user := range state.users {
			if match(user) {
				found, ok = user.Clone(), true
				return nil
			}
		}
		return nil
	})
	return found, ok, err
}

func (r *memoryRepositories) Save(_ context.Context, user LocalUser) (LocalUser, error) {
	var saved LocalUser
	err := r.with(func(state *memoryState) error {
		user.CrowdKey = strings.TrimSpace(user.CrowdKey)
		user.Username = strings.TrimSpace(user.Username)
		if user.CrowdKey == "" || user.Username == "" {
			return fmt.Errorf("core: crowd key and username are required")
		}
		if user.ID == "" {
			user.ID = uuid.NewString()
			if user.CreatedAt.IsZero() {
				user.CreatedAt = r.store.now()
			}
		} else if _, ok := state.users[user.ID]; !ok {
			return ErrUserNotFound
		}
		for id, existing := range state.users {
			if id == user.ID {
				continue
			}
			if existing.CrowdKey == user.CrowdKey {
				return fmt.Errorf("core: crowd key %q already stored", user.CrowdKey)
			}
			if existing.Username == user.Username {
				return fmt.Errorf("core: username %q already stored", user.Username)
			}
		}
		if user.UpdatedAt.IsZero() {
			user.UpdatedAt = user.CreatedAt
		}
		user.Groups = nil
		state.users[user.ID] = user
		saved = user.Clone()
		return nil
	})
	return saved, err
}

func (r *memoryRepositories) UpdateTokens(_ context.Context, id string, ssoToken SessionToken, rememberToken string) error {
	return r.with(func(state *memoryState) error {
		user, ok := state.users[strings.TrimSpace(id)]
		if !ok {
			return ErrUserNotFound
		}
		user.SSOToken = ssoToken
		user.RememberToken = rememberToken
		state.users[user.ID] = user
		return nil
	})
}

func (r *memoryRepositories) SearchByDisplayName(_ context.Context, fragment string) ([]LocalUser, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	out := []LocalUser{}
	if fragment == "" {
		return out, nil
	}
	err := r.with(func(state *memoryState) error {
		for _, user := range state.users {
			if strings.Contains(strings.ToLower(user.DisplayName), fragment) {
				out = append(out, user.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, err
}

func (r *memoryRepositories) GetByName(_ context.Context, name string) (LocalGroup, bool, error) {
	var (
		found LocalGroup
		ok    bool
	)
	err := r.with(func(state *memoryState) error {
		found, ok = state.groupByName(strings.TrimSpace(name))
		return nil
	})
	return found, ok, err
}

func (r *memoryRepositories) GetOrCreate(_ context.Context, name string) (LocalGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return LocalGroup{}, fmt.Errorf("core: group name is required")
	}
	var group LocalGroup
	err := r.with(func(state *memoryState) error {
		if existing, ok := state.groupByName(name); ok {
			group = existing
			return nil
		}
		now := r.store.now()
		group = LocalGroup{ID: uuid.NewString(), Name: name, CreatedAt: now, UpdatedAt: now}
		state.groups[group.ID] = group
		return nil
	})
	return group, err
}

func (r *memoryRepositories) ListGroups(_ context.Context, userID string) ([]LocalGroup, error) {
	out := []LocalGroup{}
	err := r.with(func(state *memoryState) error {
		for groupID := range state.members[strings.TrimSpace(userID)] {
			if group, ok := state.groups[groupID]; ok {
				out = append(out, group)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

func (r *memoryRepositories) ReplaceMemberships(_ context.Context, userID string, groupIDs []string) error {
	userID = strings.TrimSpace(userID)
	return r.with(func(state *memoryState) error {
		if _, ok := state.users[userID]; !ok {
			return ErrUserNotFound
		}
		now := r.store.now()
		previous := state.members[userID]
		next := make(map[string]time.Time, len(groupIDs))
		for _, groupID := range groupIDs {
			if _, ok := state.groups[groupID]; !ok {
				return fmt.Errorf("core: group %q not found", groupID)
			}
			if createdAt, ok := previous[groupID]; ok {
				next[groupID] = createdAt
				continue
			}
			next[groupID] = now
		}
		state.members[userID] = next
		return nil
	})
}

func (s *memoryState) groupByName(name string) (LocalGroup, bool) {
	for _, group := range s.groups {
		if group.Name == name {
			return group, true
		}
	}
	return LocalGroup{}, false
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		users:   make(map[string]LocalUser, len(s.users)),
		groups:  make(map[string]LocalGroup, len(s.groups)),
		members: make(map[string]map[string]time.Time, len(s.members)),
	}
	for id, user := range s.users {
		out.users[id] = user.Clone()
	}
	for id, group := range s.groups {
		out.groups[id] = group
	}
	for userID, edges := range s.members {
		copied := make(map[string]time.Time, len(edges))
		for groupID, createdAt := range edges {
			copied[groupID] = createdAt
		}
		out.members[userID] = copied
	}
	return out
}
