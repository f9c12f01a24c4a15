package crowdauth

import (
	"context"
	"fmt"

	"github.com/goliatone/go-crowdauth/core"
	"github.com/goliatone/go-crowdauth/directory"
)

// Bootstrap describes everything New needs beyond validator options. Store
// is required; Directory defaults to the HTTP client built from the resolved
// directory config.
type Bootstrap struct {
	Config           Config
	Store            IdentityStore
	Directory        DirectoryClient
	DirectoryOptions []directory.ClientOption
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
}

// New resolves the config once, builds the directory client from the
// effective directory settings and returns a facade over the validator.
func New(ctx context.Context, in Bootstrap, opts ...Option) (*Facade, error) {
	if in.Store == nil {
		return nil, fmt.Errorf("crowdauth: identity store is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	resolved, err := core.ResolveConfig(ctx, in.Config, in.ConfigProvider, in.OptionsResolver)
	if err != nil {
		return nil, err
	}

	client := in.Directory
	if client == nil {
		httpClient, err := directory.NewClient(resolved.Directory, in.DirectoryOptions...)
		if err != nil {
			return nil, err
		}
		client = httpClient
	}

	validator, err := core.NewSessionValidator(resolved, client, in.Store, opts...)
	if err != nil {
		return nil, err
	}
	return NewFacade(validator)
}
