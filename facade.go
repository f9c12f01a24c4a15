package crowdauth

import (
	"fmt"

	crowdcommand "github.com/goliatone/go-crowdauth/command"
	crowdquery "github.com/goliatone/go-crowdauth/query"
)

type CommandQueryService interface {
	crowdcommand.SessionService
	crowdquery.IdentityReader
	crowdquery.SessionReader
}

type Commands struct {
	Login               *crowdcommand.LoginCommand
	Logout              *crowdcommand.LogoutCommand
	RefreshSession      *crowdcommand.RefreshSessionCommand
	UpdateRememberToken *crowdcommand.UpdateRememberTokenCommand
}

type Queries struct {
	LookupUser            *crowdquery.LookupUserQuery
	LookupByRememberToken *crowdquery.LookupByRememberTokenQuery
	SearchUsers           *crowdquery.SearchUsersQuery
	ValidateSession       *crowdquery.ValidateSessionQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("crowdauth: command/query service is required")
	}
	facade := &Facade{service: service}
	facade.commands = Commands{
		Login:               crowdcommand.NewLoginCommand(service),
		Logout:              crowdcommand.NewLogoutCommand(service),
		RefreshSession:      crowdcommand.NewRefreshSessionCommand(service),
		UpdateRememberToken: crowdcommand.NewUpdateRememberTokenCommand(service),
	}
	facade.queries = Queries{
		LookupUser:            crowdquery.NewLookupUserQuery(service),
		LookupByRememberToken: crowdquery.NewLookupByRememberTokenQuery(service),
		SearchUsers:           crowdquery.NewSearchUsersQuery(service),
		ValidateSession:       crowdquery.NewValidateSessionQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Validator returns the session validator when the facade was built over
// one, which is always the case for facades returned by New.
func (f *Facade) Validator() *SessionValidator {
	if f == nil {
		return nil
	}
	validator, _ := f.service.(*SessionValidator)
	return validator
}
