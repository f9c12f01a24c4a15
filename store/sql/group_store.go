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

type GroupStore struct {
	db   bun.IDB
	repo repository.Repository[*groupRecord]
	now  func() time.Time
}

func NewGroupStore(db *bun.DB) (*GroupStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*groupRecord](db, groupHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid group repository wiring: %w", err)
		}
	}
	return &GroupStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *GroupStore) withTx(tx bun.Tx) *GroupStore {
	return &GroupStore{db: tx, repo: s.repo, now: s.now}
}

func (s *GroupStore) GetByName(ctx context.Context, name string) (core.LocalGroup, bool, error) {
	if s == nil || s.db == nil {
		return core.LocalGroup{}, false, fmt.Errorf("sqlstore: group store is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.LocalGroup{}, false, nil
	}
	record := new(groupRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return core.LocalGroup{}, false, nil
	}
	if err != nil {
		return core.LocalGroup{}, false, err
	}
	return record.toDomain(), true, nil
}

// GetOrCreate inserts the group when missing. A concurrent insert of the same
// name is absorbed by the unique index and the surviving row is returned.
func (s *GroupStore) GetOrCreate(ctx context.Context, name string) (core.LocalGroup, error) {
	if s == nil || s.db == nil {
		return core.LocalGroup{}, fmt.Errorf("sqlstore: group store is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.LocalGroup{}, fmt.Errorf("sqlstore: group name is required")
	}
	existing, found, err := s.GetByName(ctx, name)
	if err != nil {
		return core.LocalGroup{}, err
	}
	if found {
		return existing, nil
	}

	now := s.now()
	record := &groupRecord{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (name) DO NOTHING").
		Exec(ctx); err != nil {
		return core.LocalGroup{}, err
	}

	stored, found, err := s.GetByName(ctx, name)
	if err != nil {
		return core.LocalGroup{}, err
	}
	if !found {
		return core.LocalGroup{}, fmt.Errorf("sqlstore: group %q vanished after insert", name)
	}
	return stored, nil
}

// ListAll is used by operators to audit which groups have been mirrored.
func (s *GroupStore) ListAll(ctx context.Context) ([]core.LocalGroup, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: group store is not configured")
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("name ASC"))
	if err != nil {
		return nil, err
	}
	out := make([]core.LocalGroup, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
