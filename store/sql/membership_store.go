package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crowdauth/core"
	"github.com/uptrace/bun"
)

type MembershipStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewMembershipStore(db *bun.DB) (*MembershipStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &MembershipStore{db: db, now: utcNow}, nil
}

func (s *MembershipStore) withTx(tx bun.Tx) *MembershipStore {
	return &MembershipStore{db: tx, now: s.now}
}

func (s *MembershipStore) ListGroups(ctx context.Context, userID string) ([]core.LocalGroup, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: membership store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []core.LocalGroup{}, nil
	}
	var records []*groupRecord
	if err := s.db.NewSelect().
		Model(&records).
		Join("JOIN crowd_auth_group_user AS cagu ON cagu.group_id = cag.id").
		Where("cagu.user_id = ?", userID).
		OrderExpr("cag.name ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.LocalGroup, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ReplaceMemberships deletes the edges that are no longer wanted and inserts
// the missing ones. Edges present before and after keep their created_at.
func (s *MembershipStore) ReplaceMemberships(ctx context.Context, userID string, groupIDs []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: membership store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.ErrUserNotFound
	}
	wanted := uniqueIDs(groupIDs)

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*userRecord)(nil)).
			Where("id = ?", userID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return core.ErrUserNotFound
		}

		var current []string
		if err := tx.NewSelect().
			Model((*membershipRecord)(nil)).
			Column("group_id").
			Where("user_id = ?", userID).
			Scan(ctx, &current); err != nil {
			return err
		}

		remove := tx.NewDelete().
			Model((*membershipRecord)(nil)).
			Where("user_id = ?", userID)
		if len(wanted) > 0 {
			remove = remove.Where("group_id NOT IN (?)", bun.In(wanted))
		}
		if _, err := remove.Exec(ctx); err != nil {
			return err
		}

		kept := make(map[string]struct{}, len(current))
		for _, groupID := range current {
			kept[groupID] = struct{}{}
		}
		now := s.now()
		missing := make([]membershipRecord, 0, len(wanted))
		for _, groupID := range wanted {
			if _, ok := kept[groupID]; ok {
				continue
			}
			missing = append(missing, membershipRecord{
				UserID:    userID,
				GroupID:   groupID,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		if len(missing) == 0 {
			return nil
		}
		_, err = tx.NewInsert().Model(&missing).Exec(ctx)
		return err
	})
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
