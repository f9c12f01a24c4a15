package core

import (
	"slices"
	"sort"
	"strings"
	"time"
)

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Username) == "" || c.Password == ""
}

// String never renders the password.
func (c Credentials) String() string {
	return "Credentials{Username:" + c.Username + ", Password:[redacted]}"
}

// SessionToken is issued by the directory and bound to the source IP it was
// issued or refreshed for. Its validity is decided by the directory only.
type SessionToken string

func (t SessionToken) String() string {
	return string(t)
}

func (t SessionToken) Empty() bool {
	return strings.TrimSpace(string(t)) == ""
}

type Session struct {
	Username string
	Token    SessionToken
}

// RemoteIdentity is the canonical identity as returned by the directory on a
// single fetch. It is never cached.
type RemoteIdentity struct {
	Key         string
	Username    string
	Email       string
	DisplayName string
	FirstName   string
	LastName    string
	Groups      []string
	Attributes  map[string]string
}

func (r RemoteIdentity) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return ErrIdentityKeyRequired
	}
	if strings.TrimSpace(r.Username) == "" {
		return ErrIdentityUsernameRequired
	}
	return nil
}

type LocalUser struct {
	ID            string
	CrowdKey      string
	Username      string
	Email         string
	DisplayName   string
	FirstName     string
	LastName      string
	SSOToken      SessionToken
	RememberToken string
	Groups        []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (u LocalUser) IsMemberOf(group string) bool {
	group = strings.TrimSpace(group)
	if group == "" {
		return false
	}
	return slices.Contains(u.Groups, group)
}

// Fresh reports whether the record was reconciled less than interval ago.
func (u LocalUser) Fresh(now time.Time, interval time.Duration) bool {
	if u.UpdatedAt.IsZero() || interval <= 0 {
		return false
	}
	return now.Sub(u.UpdatedAt) < interval
}

func (u LocalUser) Clone() LocalUser {
	cloned := u
	cloned.Groups = append([]string(nil), u.Groups...)
	return cloned
}

type LocalGroup struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal is the authenticated, locally backed user handed to the host
// after a successful login. Attributes come from that login's identity fetch
// and are not stored locally, so lookups never carry them.
type Principal struct {
	User       LocalUser
	Token      SessionToken
	Attributes map[string]string
}

func (p Principal) Username() string {
	return p.User.Username
}

func (p Principal) IsMemberOf(group string) bool {
	return p.User.IsMemberOf(group)
}

type ReconcileInput struct {
	Identity RemoteIdentity
	// SessionToken replaces the stored SSO token. Empty keeps the stored one.
	SessionToken SessionToken
}

// NormalizeGroupNames trims, drops empties and dedupes while keeping the
// first spelling seen. Group names are case sensitive.
func NormalizeGroupNames(names []string) []string {
	if len(names) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

func groupNames(groups []LocalGroup) []string {
	names := make([]string, 0, len(groups))
	for _, group := range groups {
		names = append(names, group.Name)
	}
	return NormalizeGroupNames(names)
}

// DisplacedUsername is the username a stale row is moved to when another
// crowd key claims its username.
func DisplacedUsername(username string, crowdKey string) string {
	return strings.TrimSpace(username) + "#" + strings.TrimSpace(crowdKey)
}
