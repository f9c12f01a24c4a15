package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crowdauth/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var userUpdateColumns = []string{
	"crowd_key",
	"username",
	"email",
	"display_name",
	"first_name",
	"last_name",
	"sso_token",
	"remember_token",
	"updated_at",
}

type UserStore struct {
	db   bun.IDB
	tx   *bun.Tx
	repo repository.Repository[*userRecord]
	now  func() time.Time

	// touched is told about every user row written through this store.
	touched func(id string)
}

func NewUserStore(db *bun.DB) (*UserStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*userRecord](db, userHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid user repository wiring: %w", err)
		}
	}
	return &UserStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *UserStore) withTx(tx bun.Tx, touched func(id string)) *UserStore {
	return &UserStore{db: tx, tx: &tx, repo: s.repo, now: s.now, touched: touched}
}

func (s *UserStore) GetByID(ctx context.Context, id string) (core.LocalUser, bool, error) {
	if s == nil || s.db == nil {
		return core.LocalUser{}, false, fmt.Errorf("sqlstore: user store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.LocalUser{}, false, nil
	}
	if s.tx != nil || s.repo == nil {
		return s.findBy(ctx, "id", id)
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", id),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.LocalUser{}, false, err
	}
	if len(records) == 0 {
		return core.LocalUser{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *UserStore) GetByCrowdKey(ctx context.Context, crowdKey string) (core.LocalUser, bool, error) {
	if s == nil || s.db == nil {
		return core.LocalUser{}, false, fmt.Errorf("sqlstore: user store is not configured")
	}
	return s.findBy(ctx, "crowd_key", strings.TrimSpace(crowdKey))
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (core.LocalUser, bool, error) {
	if s == nil || s.db == nil {
		return core.LocalUser{}, false, fmt.Errorf("sqlstore: user store is not configured")
	}
	return s.findBy(ctx, "username", strings.TrimSpace(username))
}

func (s *UserStore) GetBySSOToken(ctx context.Context, token core.SessionToken) (core.LocalUser, bool, error) {
	if s == nil || s.db == nil {
		return core.LocalUser{}, false, fmt.Errorf("sqlstore: user store is not configured")
	}
	if token.Empty() {
		return core.LocalUser{}, false, nil
	}
	return s.findBy(ctx, "sso_token", token.String())
}

func (s *UserStore) Save(ctx context.Context, user core.LocalUser) (core.LocalUser, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.LocalUser{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	if strings.TrimSpace(user.CrowdKey) == "" {
		return core.LocalUser{}, core.ErrIdentityKeyRequired
	}
	if strings.TrimSpace(user.Username) == "" {
		return core.LocalUser{}, core.ErrIdentityUsernameRequired
	}

	record := newUserRecord(user, s.now())
	if record.ID == "" {
		record.ID = uuid.NewString()
		if err := s.insert(ctx, record); err != nil {
			return core.LocalUser{}, err
		}
	} else {
		res, err := s.db.NewUpdate().
			Model(record).
			Column(userUpdateColumns...).
			Where("id = ?", record.ID).
			Exec(ctx)
		if err != nil {
			return core.LocalUser{}, err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return core.LocalUser{}, core.ErrUserNotFound
		}
	}
	s.touch(record.ID)

	saved := record.toDomain()
	saved.Groups = nil
	return saved, nil
}

func (s *UserStore) UpdateTokens(ctx context.Context, id string, ssoToken core.SessionToken, rememberToken string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: user store is not configured")
	}
	id = strings.TrimSpace(id)
	res, err := s.db.NewUpdate().
		Model((*userRecord)(nil)).
		Set("sso_token = ?", ssoToken.String()).
		Set("remember_token = ?", rememberToken).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.ErrUserNotFound
	}
	s.touch(id)
	return nil
}

// SearchByDisplayName matches case-insensitively anywhere in the display
// name, ordered by username.
func (s *UserStore) SearchByDisplayName(ctx context.Context, fragment string) ([]core.LocalUser, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: user store is not configured")
	}
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	if fragment == "" {
		return []core.LocalUser{}, nil
	}
	pattern := "%" + escapeLike(fragment) + "%"

	var records []*userRecord
	if s.tx != nil || s.repo == nil {
		if err := s.db.NewSelect().
			Model(&records).
			Where("LOWER(display_name) LIKE ? ESCAPE '\\'", pattern).
			OrderExpr("username ASC").
			Scan(ctx); err != nil {
			return nil, err
		}
	} else {
		listed, _, err := s.repo.List(ctx,
			repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("LOWER(display_name) LIKE ? ESCAPE '\\'", pattern)
			}),
			repository.OrderBy("username ASC"),
		)
		if err != nil {
			return nil, err
		}
		records = listed
	}

	out := make([]core.LocalUser, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *UserStore) insert(ctx context.Context, record *userRecord) error {
	if s.tx != nil {
		_, err := s.repo.CreateTx(ctx, *s.tx, record)
		return err
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *UserStore) findBy(ctx context.Context, column string, value string) (core.LocalUser, bool, error) {
	if value == "" {
		return core.LocalUser{}, false, nil
	}
	record := new(userRecord)
	err := s.db.NewSelect().
		Model(record).
		Where(column+" = ?", value).
		Limit(1).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return core.LocalUser{}, false, nil
	}
	if err != nil {
		return core.LocalUser{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *UserStore) touch(id string) {
	if s.touched != nil && id != "" {
		s.touched(id)
	}
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func utcNow() time.Time {
	return time.Now().UTC()
}
