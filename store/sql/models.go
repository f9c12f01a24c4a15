package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-crowdauth/core"
	"github.com/uptrace/bun"
)

type userRecord struct {
	bun.BaseModel `bun:"table:crowd_auth_users,alias:cau"`

	ID            string    `bun:"id,pk"`
	CrowdKey      string    `bun:"crowd_key,notnull"`
	Username      string    `bun:"username,notnull"`
	Email         string    `bun:"email,notnull"`
	DisplayName   string    `bun:"display_name,notnull"`
	FirstName     string    `bun:"first_name,notnull"`
	LastName      string    `bun:"last_name,notnull"`
	SSOToken      string    `bun:"sso_token,notnull"`
	RememberToken string    `bun:"remember_token,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type groupRecord struct {
	bun.BaseModel `bun:"table:crowd_auth_groups,alias:cag"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type membershipRecord struct {
	bun.BaseModel `bun:"table:crowd_auth_group_user,alias:cagu"`

	UserID    string    `bun:"user_id,pk"`
	GroupID   string    `bun:"group_id,pk"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newUserRecord(user core.LocalUser, now time.Time) *userRecord {
	record := &userRecord{
		ID:            strings.TrimSpace(user.ID),
		CrowdKey:      strings.TrimSpace(user.CrowdKey),
		Username:      strings.TrimSpace(user.Username),
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		SSOToken:      user.SSOToken.String(),
		RememberToken: user.RememberToken,
		CreatedAt:     user.CreatedAt.UTC(),
		UpdatedAt:     user.UpdatedAt.UTC(),
	}
	if user.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	return record
}

func (r *userRecord) toDomain() core.LocalUser {
	if r == nil {
		return core.LocalUser{}
	}
	return core.LocalUser{
		ID:            r.ID,
		CrowdKey:      r.CrowdKey,
		Username:      r.Username,
		Email:         r.Email,
		DisplayName:   r.DisplayName,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		SSOToken:      core.SessionToken(r.SSOToken),
		RememberToken: r.RememberToken,
		Groups:        []string{},
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func (r *groupRecord) toDomain() core.LocalGroup {
	if r == nil {
		return core.LocalGroup{}
	}
	return core.LocalGroup{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}
