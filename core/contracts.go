package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

// DirectoryClient is the wire contract with the remote directory. The bool
// result carries the semantic outcome (accepted, found); error is reserved
// for transport faults and malformed responses.
type DirectoryClient interface {
	Authenticate(ctx context.Context, creds Credentials, sourceIP string) (SessionToken, bool, error)
	FetchSession(ctx context.Context, token SessionToken) (Session, bool, error)
	RefreshSession(ctx context.Context, token SessionToken, sourceIP string) (SessionToken, bool, error)
	InvalidateSession(ctx context.Context, token SessionToken) (bool, error)
	UserExists(ctx context.Context, username string) (bool, error)
	FetchIdentity(ctx context.Context, username string) (RemoteIdentity, bool, error)
	FetchGroups(ctx context.Context, username string) ([]string, bool, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (LocalUser, bool, error)
	GetByCrowdKey(ctx context.Context, crowdKey string) (LocalUser, bool, error)
	GetByUsername(ctx context.Context, username string) (LocalUser, bool, error)
	GetBySSOToken(ctx context.Context, token SessionToken) (LocalUser, bool, error)
	// Save inserts when ID is empty and updates otherwise. UpdatedAt is
	// persisted as given.
	Save(ctx context.Context, user LocalUser) (LocalUser, error)
	UpdateTokens(ctx context.Context, id string, ssoToken SessionToken, rememberToken string) error
	SearchByDisplayName(ctx context.Context, fragment string) ([]LocalUser, error)
}

type GroupRepository interface {
	GetByName(ctx context.Context, name string) (LocalGroup, bool, error)
	GetOrCreate(ctx context.Context, name string) (LocalGroup, error)
}

type MembershipRepository interface {
	ListGroups(ctx context.Context, userID string) ([]LocalGroup, error)
	// ReplaceMemberships makes the user's edge set equal groupIDs exactly.
	ReplaceMemberships(ctx context.Context, userID string, groupIDs []string) error
}

type Repositories interface {
	Users() UserRepository
	Groups() GroupRepository
	Memberships() MembershipRepository
}

// IdentityStore is the local authoritative record store. RunInTx must commit
// every write made through tx or none of them.
type IdentityStore interface {
	Repositories
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
