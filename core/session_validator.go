package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SessionValidator drives login and lookup against the directory and keeps the
// local store reconciled. It holds no mutable state of its own.
type SessionValidator struct {
	config    Config
	directory DirectoryClient
	store     IdentityStore
	engine    *IdentitySyncEngine
	now       func() time.Time

	loggerProvider LoggerProvider
	instrumentation
}

func NewSessionValidator(cfg Config, directory DirectoryClient, store IdentityStore, opts ...Option) (*SessionValidator, error) {
	if directory == nil {
		return nil, fmt.Errorf("core: directory client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("core: identity store is required")
	}
	builder := defaultValidatorBuilder(cfg)
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	builder.resolveLogger()
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.now == nil {
		builder.now = utcNow
	}

	resolved, err := ResolveConfig(context.Background(), builder.runtimeConfig, builder.configProvider, builder.optionsResolver)
	if err != nil {
		return nil, err
	}

	engine := builder.syncEngine
	if engine == nil {
		engine = newIdentitySyncEngine(store, builder)
	}

	return &SessionValidator{
		config:         resolved,
		directory:      directory,
		store:          store,
		engine:         engine,
		now:            builder.now,
		loggerProvider: builder.loggerProvider,
		instrumentation: instrumentation{
			logger:  builder.logger,
			metrics: builder.metricsRecorder,
		},
	}, nil
}

func (s *SessionValidator) Config() Config {
	if s == nil {
		return Config{}
	}
	cfg := s.config
	cfg.AppGroups = append([]string(nil), s.config.AppGroups...)
	return cfg
}

func (s *SessionValidator) LoggerProvider() LoggerProvider {
	if s == nil {
		return nil
	}
	return s.loggerProvider
}

// LoginWithCredentials authenticates against the directory, validates the
// issued token, fetches the canonical identity and reconciles it locally.
func (s *SessionValidator) LoginWithCredentials(ctx context.Context, creds Credentials, sourceIP string) (principal Principal, err error) {
	if err := s.ready(); err != nil {
		return Principal{}, err
	}
	startedAt := time.Now()
	username := creds.Username
	state := StateStart
	defer func() {
		s.observe(ctx, startedAt, "login", err, map[string]any{
			"username":  username,
			"source_ip": sourceIP,
			"state":     string(state),
		})
	}()

	if creds.Empty() {
		return Principal{}, rejected(RejectBadCredentials, state, ErrCredentialsRequired)
	}
	// The echoed username must equal what was typed, so padding is refused
	// rather than trimmed.
	if strings.TrimSpace(username) != username {
		return Principal{}, rejected(RejectBadCredentials, state, ErrUsernamePadded)
	}
	state = StateCredentialsSubmitted

	token, accepted, err := s.directory.Authenticate(ctx, creds, sourceIP)
	if err != nil {
		return Principal{}, rejected(RejectDirectoryUnavailable, state, err)
	}
	if !accepted || token.Empty() {
		return Principal{}, rejected(RejectBadCredentials, state, nil)
	}
	state = StateTokenIssued

	session, found, err := s.directory.FetchSession(ctx, token)
	if err != nil {
		return Principal{}, rejected(RejectDirectoryUnavailable, state, err)
	}
	if !found {
		return Principal{}, rejected(RejectIdentityUnavailable, state, fmt.Errorf("core: issued session token not found"))
	}
	if session.Username != username {
		return Principal{}, rejected(RejectIdentityMismatch, state,
			fmt.Errorf("core: session belongs to %q", session.Username))
	}

	identity, found, err := s.directory.FetchIdentity(ctx, username)
	if err != nil {
		return Principal{}, rejected(RejectDirectoryUnavailable, state, err)
	}
	if !found {
		return Principal{}, rejected(RejectIdentityUnavailable, state, fmt.Errorf("core: identity for %q not found", username))
	}
	if identity.Username != username {
		return Principal{}, rejected(RejectIdentityMismatch, state,
			fmt.Errorf("core: identity reports username %q", identity.Username))
	}
	state = StateIdentityFetched

	user, err := s.engine.Reconcile(ctx, ReconcileInput{Identity: identity, SessionToken: token})
	if err != nil {
		return Principal{}, rejected(RejectPersistenceFailure, state, err)
	}
	state = StateReconciled

	if !s.permitted(user) {
		return Principal{}, rejected(RejectNotPermitted, state, nil)
	}
	state = StateAuthenticated
	return Principal{User: user, Token: token, Attributes: cloneAttributes(identity.Attributes)}, nil
}

// LookupByLocalID returns the local user, re-validating it against the
// directory once it is older than the refresh interval. A user the directory
// no longer knows is reported as not found.
func (s *SessionValidator) LookupByLocalID(ctx context.Context, id string) (user LocalUser, found bool, err error) {
	if err := s.ready(); err != nil {
		return LocalUser{}, false, err
	}
	startedAt := time.Now()
	refreshed := false
	defer func() {
		s.observe(ctx, startedAt, "lookup", err, map[string]any{
			"user_id":   id,
			"found":     found,
			"refreshed": refreshed,
		})
	}()

	id = strings.TrimSpace(id)
	if id == "" {
		return LocalUser{}, false, nil
	}
	stored, ok, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		return LocalUser{}, false, rejected(RejectPersistenceFailure, StateStart, err)
	}
	if !ok {
		return LocalUser{}, false, nil
	}

	if stored.Fresh(s.now(), s.config.RefreshDuration()) {
		stored, err = s.withGroups(ctx, stored)
		if err != nil {
			return LocalUser{}, false, rejected(RejectPersistenceFailure, StateReconciled, err)
		}
		if !s.permitted(stored) {
			return LocalUser{}, false, nil
		}
		return stored, true, nil
	}

	refreshed = true
	exists, err := s.directory.UserExists(ctx, stored.Username)
	if err != nil {
		return LocalUser{}, false, rejected(RejectDirectoryUnavailable, StateStart, err)
	}
	if !exists {
		return LocalUser{}, false, nil
	}
	identity, ok, err := s.directory.FetchIdentity(ctx, stored.Username)
	if err != nil {
		return LocalUser{}, false, rejected(RejectDirectoryUnavailable, StateStart, err)
	}
	if !ok {
		return LocalUser{}, false, nil
	}
	if identity.Username != stored.Username {
		s.log(ctx, "error", "lookup identity mismatch", map[string]any{
			"user_id":            id,
			"stored_username":    stored.Username,
			"directory_username": identity.Username,
		})
		return LocalUser{}, false, nil
	}
	// The username now belongs to another directory identity. Reconciling would
	// hand this id's caller a different local row.
	if strings.TrimSpace(identity.Key) != stored.CrowdKey {
		s.log(ctx, "error", "lookup identity key mismatch", map[string]any{
			"user_id":             id,
			"username":            stored.Username,
			"stored_crowd_key":    stored.CrowdKey,
			"directory_crowd_key": identity.Key,
		})
		return LocalUser{}, false, nil
	}

	reconciled, err := s.engine.Reconcile(ctx, ReconcileInput{Identity: identity})
	if err != nil {
		return LocalUser{}, false, rejected(RejectPersistenceFailure, StateIdentityFetched, err)
	}
	if !s.permitted(reconciled) {
		return LocalUser{}, false, nil
	}
	return reconciled, true, nil
}

// Logout invalidates the directory session best effort and always clears the
// local tokens. Only a local failure is returned.
func (s *SessionValidator) Logout(ctx context.Context, token SessionToken) (err error) {
	if err := s.ready(); err != nil {
		return err
	}
	startedAt := time.Now()
	invalidated := false
	defer func() {
		s.observe(ctx, startedAt, "logout", err, map[string]any{
			"invalidated": invalidated,
		})
	}()

	if token.Empty() {
		return nil
	}
	ok, invalidateErr := s.directory.InvalidateSession(ctx, token)
	switch {
	case invalidateErr != nil:
		s.log(ctx, "warn", "logout directory invalidation failed", map[string]any{"error": invalidateErr.Error()})
	case !ok:
		s.log(ctx, "warn", "logout directory invalidation refused", nil)
	default:
		invalidated = true
	}

	return s.store.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		user, found, err := tx.Users().GetBySSOToken(ctx, token)
		if err != nil {
			return rejected(RejectPersistenceFailure, StateStart, err)
		}
		if !found {
			return nil
		}
		if err := tx.Users().UpdateTokens(ctx, user.ID, "", ""); err != nil {
			return rejected(RejectPersistenceFailure, StateStart, err)
		}
		return nil
	})
}

// ValidateSession asks the directory whether token is still live.
func (s *SessionValidator) ValidateSession(ctx context.Context, token SessionToken) (session Session, found bool, err error) {
	if err := s.ready(); err != nil {
		return Session{}, false, err
	}
	startedAt := time.Now()
	defer func() {
		s.observe(ctx, startedAt, "validate_session", err, map[string]any{"found": found})
	}()
	if token.Empty() {
		return Session{}, false, nil
	}
	session, found, err = s.directory.FetchSession(ctx, token)
	if err != nil {
		return Session{}, false, rejected(RejectDirectoryUnavailable, StateTokenIssued, err)
	}
	return session, found, nil
}

// RefreshSession rebinds the stored SSO token of a user to a new source IP.
func (s *SessionValidator) RefreshSession(ctx context.Context, id string, sourceIP string) (user LocalUser, err error) {
	if err := s.ready(); err != nil {
		return LocalUser{}, err
	}
	startedAt := time.Now()
	defer func() {
		s.observe(ctx, startedAt, "refresh_session", err, map[string]any{
			"user_id":   id,
			"source_ip": sourceIP,
		})
	}()

	stored, ok, err := s.store.Users().GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return LocalUser{}, rejected(RejectPersistenceFailure, StateStart, err)
	}
	if !ok || stored.SSOToken.Empty() {
		return LocalUser{}, rejected(RejectIdentityUnavailable, StateStart, ErrUserNotFound)
	}
	token, accepted, err := s.directory.RefreshSession(ctx, stored.SSOToken, sourceIP)
	if err != nil {
		return LocalUser{}, rejected(RejectDirectoryUnavailable, StateTokenIssued, err)
	}
	if !accepted || token.Empty() {
		return LocalUser{}, rejected(RejectIdentityUnavailable, StateTokenIssued, fmt.Errorf("core: session refresh refused"))
	}
	if err := s.store.Users().UpdateTokens(ctx, stored.ID, token, stored.RememberToken); err != nil {
		return LocalUser{}, rejected(RejectPersistenceFailure, StateTokenIssued, err)
	}
	stored.SSOToken = token
	stored, err = s.withGroups(ctx, stored)
	if err != nil {
		return LocalUser{}, rejected(RejectPersistenceFailure, StateTokenIssued, err)
	}
	return stored, nil
}

// LookupByRememberToken is a local lookup; it never contacts the directory.
func (s *SessionValidator) LookupByRememberToken(ctx context.Context, id string, rememberToken string) (LocalUser, bool, error) {
	if err := s.ready(); err != nil {
		return LocalUser{}, false, err
	}
	if strings.TrimSpace(rememberToken) == "" {
		return LocalUser{}, false, nil
	}
	user, ok, err := s.store.Users().GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return LocalUser{}, false, rejected(RejectPersistenceFailure, StateStart, err)
	}
	if !ok || user.RememberToken != rememberToken {
		return LocalUser{}, false, nil
	}
	user, err = s.withGroups(ctx, user)
	if err != nil {
		return LocalUser{}, false, rejected(RejectPersistenceFailure, StateStart, err)
	}
	return user, true, nil
}

func (s *SessionValidator) UpdateRememberToken(ctx context.Context, id string, rememberToken string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.store.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		user, ok, err := tx.Users().GetByID(ctx, strings.TrimSpace(id))
		if err != nil {
			return rejected(RejectPersistenceFailure, StateStart, err)
		}
		if !ok {
			return rejected(RejectIdentityUnavailable, StateStart, ErrUserNotFound)
		}
		if err := tx.Users().UpdateTokens(ctx, user.ID, user.SSOToken, rememberToken); err != nil {
			return rejected(RejectPersistenceFailure, StateStart, err)
		}
		return nil
	})
}

func (s *SessionValidator) SearchByDisplayName(ctx context.Context, fragment string) ([]LocalUser, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	users, err := s.store.Users().SearchByDisplayName(ctx, fragment)
	if err != nil {
		return nil, rejected(RejectPersistenceFailure, StateStart, err)
	}
	for index := range users {
		users[index], err = s.withGroups(ctx, users[index])
		if err != nil {
			return nil, rejected(RejectPersistenceFailure, StateStart, err)
		}
	}
	return users, nil
}

func (s *SessionValidator) withGroups(ctx context.Context, user LocalUser) (LocalUser, error) {
	groups, err := s.store.Memberships().ListGroups(ctx, user.ID)
	if err != nil {
		return LocalUser{}, err
	}
	user.Groups = groupNames(groups)
	return user, nil
}

func cloneAttributes(attributes map[string]string) map[string]string {
	if len(attributes) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(attributes))
	for key, value := range attributes {
		out[key] = value
	}
	return out
}

func (s *SessionValidator) permitted(user LocalUser) bool {
	if len(s.config.AppGroups) == 0 {
		return true
	}
	for _, group := range s.config.AppGroups {
		if user.IsMemberOf(group) {
			return true
		}
	}
	return false
}

func (s *SessionValidator) ready() error {
	if s == nil || s.directory == nil || s.store == nil || s.engine == nil {
		return fmt.Errorf("core: session validator is not configured")
	}
	return nil
}
