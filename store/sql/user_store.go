package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-identity-transfer/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type UserStore struct {
	db   *bun.DB
	repo repository.Repository[*userRecord]
	now  func() time.Time
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
	return &UserStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// ListCandidates returns up to query.Limit records matching the phase filter,
// ordered by (registered_at, id) and starting strictly after query.After.
func (s *UserStore) ListCandidates(ctx context.Context, query core.CandidateQuery) ([]core.UserRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: user store is not configured")
	}
	if err := query.Validate(); err != nil {
		return nil, err
	}

	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return candidateSelect(q, query, s.idExpr())
		}),
		repository.SelectPaginate(query.Limit, 0),
	)
	if err != nil {
		return nil, err
	}

	users := make([]core.UserRecord, 0, len(records))
	for _, record := range records {
		users = append(users, record.toDomain())
	}
	return users, nil
}

// candidateSelect applies the phase filter, the keyset predicate and the scan
// order. idExpr must order ids bytewise, matching core.ScanPosition.Before.
func candidateSelect(q *bun.SelectQuery, query core.CandidateQuery, idExpr string) *bun.SelectQuery {
	q = q.Where("?TableAlias.apple_sub IS NOT NULL").
		Where("?TableAlias.apple_sub <> ''")
	switch query.Phase {
	case core.PhaseResolveTransfer:
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.apple_transfer_sub IS NULL").
				WhereOr("?TableAlias.apple_transfer_sub = ''")
		})
	case core.PhaseExchangeIdentity:
		q = q.Where("?TableAlias.apple_transfer_sub IS NOT NULL").
			Where("?TableAlias.apple_transfer_sub <> ''")
	}
	if after := query.After; after != nil {
		at := after.RegisteredAt.UTC()
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.registered_at > ?", at).
				WhereOr("?TableAlias.registered_at = ? AND "+idExpr+" > ?", at, after.ID)
		})
	}
	return q.OrderExpr("?TableAlias.registered_at ASC, " + idExpr + " ASC")
}

// idExpr pins postgres to the C collation; a users table created outside
// these migrations may carry a locale collation on id. sqlite compares TEXT
// bytewise already.
func (s *UserStore) idExpr() string {
	if s.db != nil && s.db.Dialect().Name() == dialect.PG {
		return `?TableAlias.id COLLATE "C"`
	}
	return "?TableAlias.id"
}

// SetTransferSub stores transferSub only while the record has none.
func (s *UserStore) SetTransferSub(ctx context.Context, id string, transferSub string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: user store is not configured")
	}
	id = strings.TrimSpace(id)
	transferSub = strings.TrimSpace(transferSub)
	if id == "" {
		return false, fmt.Errorf("sqlstore: user id is required")
	}
	if transferSub == "" {
		return false, core.ErrMissingTransferSub
	}

	res, err := s.db.NewUpdate().
		Model((*userRecord)(nil)).
		Set("apple_transfer_sub = ?", transferSub).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("apple_sub IS NOT NULL").
		Where("apple_sub <> ''").
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("apple_transfer_sub IS NULL").
				WhereOr("apple_transfer_sub = ''")
		}).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// storedWhitespace is trimmed from a stored sub before it is compared.
const storedWhitespace = " \t\r\n"

// SetProviderIdentity overwrites sub and email in one statement, only while
// the stored sub still equals expectedSub.
func (s *UserStore) SetProviderIdentity(ctx context.Context, id string, expectedSub string, identity core.ProviderIdentity) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: user store is not configured")
	}
	id = strings.TrimSpace(id)
	expectedSub = strings.TrimSpace(expectedSub)
	if id == "" {
		return false, fmt.Errorf("sqlstore: user id is required")
	}
	if expectedSub == "" {
		return false, core.ErrMissingProviderSub
	}
	if err := identity.Validate(); err != nil {
		return false, err
	}

	res, err := s.db.NewUpdate().
		Model((*userRecord)(nil)).
		Set("apple_sub = ?", strings.TrimSpace(identity.Sub)).
		Set("apple_email = ?", strings.TrimSpace(identity.Email)).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Where("TRIM(apple_sub, ?) = ?", storedWhitespace, expectedSub).
		Where("apple_transfer_sub IS NOT NULL").
		Where("apple_transfer_sub <> ''").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (s *UserStore) Get(ctx context.Context, id string) (core.UserRecord, error) {
	if s == nil || s.db == nil {
		return core.UserRecord{}, fmt.Errorf("sqlstore: user store is not configured")
	}
	record := &userRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.UserRecord{}, fmt.Errorf("%w: id %q", core.ErrRecordNotFound, id)
		}
		return core.UserRecord{}, err
	}
	return record.toDomain(), nil
}

// Insert adds users to the table. Records without an id get a generated one.
func (s *UserStore) Insert(ctx context.Context, users ...core.UserRecord) ([]core.UserRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: user store is not configured")
	}
	out := make([]core.UserRecord, 0, len(users))
	for _, user := range users {
		if user.RegisteredAt.IsZero() {
			return out, fmt.Errorf("sqlstore: registered_at is required for user %q", user.ID)
		}
		record := userRecordFromDomain(user)
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		record.UpdatedAt = s.now()
		if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
			return out, err
		}
		out = append(out, record.toDomain())
	}
	return out, nil
}
