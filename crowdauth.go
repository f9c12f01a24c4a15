package crowdauth

import "github.com/goliatone/go-crowdauth/core"

type Config = core.Config

type DirectoryConfig = core.DirectoryConfig

type Option = core.Option

type SessionValidator = core.SessionValidator

type IdentitySyncEngine = core.IdentitySyncEngine

type DirectoryClient = core.DirectoryClient
type IdentityStore = core.IdentityStore
type MetricsRecorder = core.MetricsRecorder
type ConfigProvider = core.ConfigProvider
type OptionsResolver = core.OptionsResolver

type Credentials = core.Credentials
type SessionToken = core.SessionToken
type Session = core.Session
type Principal = core.Principal
type LocalUser = core.LocalUser
type RemoteIdentity = core.RemoteIdentity

type RejectedError = core.RejectedError
type RejectReason = core.RejectReason

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithClock           = core.WithClock
	WithSyncEngine      = core.WithSyncEngine
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewSessionValidator(cfg Config, directory DirectoryClient, store IdentityStore, opts ...Option) (*SessionValidator, error) {
	return core.NewSessionValidator(cfg, directory, store, opts...)
}

func NewMemoryIdentityStore() *core.MemoryIdentityStore {
	return core.NewMemoryIdentityStore()
}
