package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	reconcileStepValidate    = "validate"
	reconcileStepLookup      = "lookup_user"
	reconcileStepDisplace    = "displace_username"
	reconcileStepSaveUser    = "save_user"
	reconcileStepGroups      = "resolve_groups"
	reconcileStepMemberships = "replace_memberships"
	reconcileStepCommit      = "commit"
)

// IdentitySyncEngine folds a RemoteIdentity into the local store. Every
// reconcile is a single transaction.
type IdentitySyncEngine struct {
	store IdentityStore
	now   func() time.Time
	instrumentation
}

func NewIdentitySyncEngine(store IdentityStore, opts ...Option) (*IdentitySyncEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("core: identity store is required")
	}
	builder := defaultValidatorBuilder(Config{})
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	builder.resolveLogger()
	return newIdentitySyncEngine(store, builder), nil
}

func newIdentitySyncEngine(store IdentityStore, builder validatorBuilder) *IdentitySyncEngine {
	now := builder.now
	if now == nil {
		now = utcNow
	}
	metrics := builder.metricsRecorder
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &IdentitySyncEngine{
		store: store,
		now:   now,
		instrumentation: instrumentation{
			logger:  builder.logger,
			metrics: metrics,
		},
	}
}

// Reconcile upserts the user by crowd key, refreshes profile and token, and
// makes the membership set equal the fetched groups exactly. Unchanged input
// yields the same local state apart from UpdatedAt.
func (e *IdentitySyncEngine) Reconcile(ctx context.Context, in ReconcileInput) (user LocalUser, err error) {
	if e == nil || e.store == nil {
		return LocalUser{}, fmt.Errorf("core: sync engine is not configured")
	}
	startedAt := time.Now()
	identity := in.Identity
	identity.Key = strings.TrimSpace(identity.Key)
	identity.Username = strings.TrimSpace(identity.Username)
	defer func() {
		e.observe(ctx, startedAt, "reconcile", err, map[string]any{
			"crowd_key": identity.Key,
			"username":  identity.Username,
			"groups":    len(user.Groups),
		})
	}()

	if err := identity.Validate(); err != nil {
		return LocalUser{}, &ReconciliationError{CrowdKey: identity.Key, Step: reconcileStepValidate, Cause: err}
	}
	groups := NormalizeGroupNames(identity.Groups)
	now := e.now().UTC()

	var reconciled LocalUser
	txErr := e.store.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		users := tx.Users()
		current, found, err := users.GetByCrowdKey(ctx, identity.Key)
		if err != nil {
			return &ReconciliationError{CrowdKey: identity.Key, Step: reconcileStepLookup, Cause: err}
		}
		if !found {
			current = LocalUser{
				CrowdKey:  identity.Key,
				Username:  identity.Username,
				Email:     identity.Email,
				CreatedAt: now,
			}
		}
		if err := displaceUsernameHolder(ctx, users, identity); err != nil {
			return &ReconciliationError{CrowdKey: identity.Key, Step: reconcileStepDisplace, Cause: err}
		}

		current.Username = identity.Username
		current.Email = identity.Email
		current.DisplayName = identity.DisplayName
		current.FirstName = identity.FirstName
		current.LastName = identity.LastName
		if !in.SessionToken.Empty() {
			current.SSOToken = in.SessionToken
		}
		current.UpdatedAt = now

		saved, err := users.Save(ctx, current)
		if err != nil {
			return &ReconciliationError{CrowdKey: identity.Key, Step: reconcileStepSaveUser, Cause: err}
		}

		groupIDs := make([]string, 0, len(groups))
		for _, name := range groups {
			group, err := tx.Groups().GetOrCreate(ctx, name)
			if err != nil {
				return &ReconciliationError{
					CrowdKey: identity.Key,
					Step:     reconcileStepGroups,
					Cause:    fmt.Errorf("group %q: %w", name, err),
				}
			}
			groupIDs = append(groupIDs, group.ID)
		}
		if err := tx.Memberships().ReplaceMemberships(ctx, saved.ID, groupIDs); err != nil {
			return &ReconciliationError{CrowdKey: identity.Key, Step: reconcileStepMemberships, Cause: err}
		}

		saved.Groups = append([]string(nil), groups...)
		reconciled = saved
		return nil
	})
	if txErr != nil {
		var reconcileErr *ReconciliationError
		if errors.As(txErr, &reconcileErr) {
			return LocalUser{}, txErr
		}
		return LocalUser{}, &ReconciliationError{CrowdKey: identity.Key, Step: reconcileStepCommit, Cause: txErr}
	}
	return reconciled, nil
}

// displaceUsernameHolder moves a row of another crowd key off the incoming
// username so the two identities never share a record.
func displaceUsernameHolder(ctx context.Context, users UserRepository, identity RemoteIdentity) error {
	holder, found, err := users.GetByUsername(ctx, identity.Username)
	if err != nil {
		return err
	}
	if !found || holder.CrowdKey == identity.Key {
		return nil
	}
	holder.Username = DisplacedUsername(holder.Username, holder.CrowdKey)
	_, err = users.Save(ctx, holder)
	return err
}
