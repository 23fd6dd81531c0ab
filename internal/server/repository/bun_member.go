package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	server "github.com/charadev96/gatehouse/internal/server/domain"
	shared "github.com/charadev96/gatehouse/internal/shared/domain"
	"github.com/charadev96/gatehouse/internal/shared/infra"
)

type BunMemberRepository struct {
	db *bun.DB
}

func NewBunMemberRepository(ctx context.Context, db *bun.DB) (*BunMemberRepository, error) {
	r := &BunMemberRepository{
		db: db,
	}
	tx := infra.ExtractTx(ctx, r.db)
	_, err := tx.NewCreateTable().
		Model((*member)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return r, fmt.Errorf("failed to create repository: %w", err)
	}
	for _, idx := range []string{
		"CREATE INDEX IF NOT EXISTS members_expires_at ON members (expires_at) WHERE expires_at IS NOT NULL",
		"CREATE INDEX IF NOT EXISTS members_platform_user_id ON members (platform_user_id) WHERE platform_user_id IS NOT NULL",
	} {
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return r, fmt.Errorf("failed to create index: %w", err)
		}
	}
	return r, nil
}

func (r *BunMemberRepository) UpsertRoster(ctx context.Context, identity, displayName string) error {
	tx := infra.ExtractTx(ctx, r.db)
	m := &member{
		Identity:    server.NormalizeIdentity(identity),
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := tx.NewInsert().
		Model(m).
		On("CONFLICT (identity) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert roster entry: %w", err)
	}
	return nil
}

func (r *BunMemberRepository) GetByIdentity(ctx context.Context, identity string) (server.Member, error) {
	tx := infra.ExtractTx(ctx, r.db)
	m := new(member)
	err := tx.NewSelect().
		Model(m).
		Where("identity = ?", server.NormalizeIdentity(identity)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = shared.ErrNotExist
		}
		return server.Member{}, fmt.Errorf("failed to get member: %w", err)
	}
	return m.toDomain(), nil
}

func (r *BunMemberRepository) GetByPlatformUserID(ctx context.Context, userID int64) (server.Member, error) {
	tx := infra.ExtractTx(ctx, r.db)
	m := new(member)
	err := tx.NewSelect().
		Model(m).
		Where("platform_user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = shared.ErrNotExist
		}
		return server.Member{}, fmt.Errorf("failed to get member: %w", err)
	}
	return m.toDomain(), nil
}

func (r *BunMemberRepository) SetInvitation(ctx context.Context, identity, link string, issuedAt, expiresAt time.Time) error {
	tx := infra.ExtractTx(ctx, r.db)
	identity = server.NormalizeIdentity(identity)
	res, err := tx.NewUpdate().
		Model((*member)(nil)).
		Set("invite_link = ?", link).
		Set("invite_issued_at = ?", issuedAt.UTC()).
		Set("invite_expires_at = ?", expiresAt.UTC()).
		Where("identity = ?", identity).
		Where("invite_link IS NULL").
		Where("active_from IS NULL").
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set invitation: %w", err)
	}
	return r.applied(ctx, res, identity)
}

func (r *BunMemberRepository) ActivateSubscription(ctx context.Context, identity string, userID int64, from, until time.Time) error {
	tx := infra.ExtractTx(ctx, r.db)
	identity = server.NormalizeIdentity(identity)
	res, err := tx.NewUpdate().
		Model((*member)(nil)).
		Set("platform_user_id = ?", userID).
		Set("active_from = ?", from.UTC()).
		Set("expires_at = ?", until.UTC()).
		Set("invite_link = NULL").
		Set("invite_issued_at = NULL").
		Set("invite_expires_at = NULL").
		Where("identity = ?", identity).
		Where("active_from IS NULL").
		Where("revoked_at IS NULL").
		Where("platform_user_id IS NULL OR platform_user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	return r.applied(ctx, res, identity)
}

func (r *BunMemberRepository) MarkRevoked(ctx context.Context, identity string, at time.Time) error {
	tx := infra.ExtractTx(ctx, r.db)
	identity = server.NormalizeIdentity(identity)
	res, err := tx.NewUpdate().
		Model((*member)(nil)).
		Set("revoked_at = ?", at.UTC()).
		Where("identity = ?", identity).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark member revoked: %w", err)
	}
	return r.applied(ctx, res, identity)
}

func (r *BunMemberRepository) MarkWarned(ctx context.Context, identity string) error {
	tx := infra.ExtractTx(ctx, r.db)
	identity = server.NormalizeIdentity(identity)
	res, err := tx.NewUpdate().
		Model((*member)(nil)).
		Set("warned = ?", true).
		Where("identity = ?", identity).
		Where("warned = ?", false).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark member warned: %w", err)
	}
	return r.applied(ctx, res, identity)
}

func (r *BunMemberRepository) Reset(ctx context.Context, identity string) error {
	tx := infra.ExtractTx(ctx, r.db)
	identity = server.NormalizeIdentity(identity)
	res, err := tx.NewUpdate().
		Model((*member)(nil)).
		Set("invite_link = NULL").
		Set("invite_issued_at = NULL").
		Set("invite_expires_at = NULL").
		Set("active_from = NULL").
		Set("expires_at = NULL").
		Set("revoked_at = NULL").
		Set("warned = ?", false).
		Where("identity = ?", identity).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to reset member: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to reset member: %w", shared.ErrNotExist)
	}
	return nil
}

func (r *BunMemberRepository) Delete(ctx context.Context, identity string) error {
	tx := infra.ExtractTx(ctx, r.db)
	m := &member{Identity: server.NormalizeIdentity(identity)}
	_, err := tx.NewDelete().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return nil
}

func (r *BunMemberRepository) ListExpired(ctx context.Context, asOf time.Time) ([]server.Member, error) {
	tx := infra.ExtractTx(ctx, r.db)
	var rows []member
	err := tx.NewSelect().
		Model(&rows).
		Where("active_from IS NOT NULL").
		Where("revoked_at IS NULL").
		Where("expires_at <= ?", asOf.UTC()).
		Order("identity ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired members: %w", err)
	}
	return toDomainList(rows), nil
}

func (r *BunMemberRepository) ListNearExpiry(ctx context.Context, asOf time.Time, within time.Duration) ([]server.Member, error) {
	tx := infra.ExtractTx(ctx, r.db)
	var rows []member
	err := tx.NewSelect().
		Model(&rows).
		Where("active_from IS NOT NULL").
		Where("revoked_at IS NULL").
		Where("warned = ?", false).
		Where("expires_at > ?", asOf.UTC()).
		Where("expires_at <= ?", asOf.Add(within).UTC()).
		Order("identity ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list near-expiry members: %w", err)
	}
	return toDomainList(rows), nil
}

func (r *BunMemberRepository) ListActive(ctx context.Context, asOf time.Time) ([]server.Member, error) {
	tx := infra.ExtractTx(ctx, r.db)
	var rows []member
	err := tx.NewSelect().
		Model(&rows).
		Where("active_from IS NOT NULL").
		Where("revoked_at IS NULL").
		Where("expires_at > ?", asOf.UTC()).
		Order("identity ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active members: %w", err)
	}
	return toDomainList(rows), nil
}

func (r *BunMemberRepository) ListKnown(ctx context.Context) ([]server.Member, error) {
	tx := infra.ExtractTx(ctx, r.db)
	var rows []member
	err := tx.NewSelect().
		Model(&rows).
		Order("identity ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return toDomainList(rows), nil
}

func (r *BunMemberRepository) Counts(ctx context.Context, asOf time.Time) (server.MemberCounts, error) {
	tx := infra.ExtractTx(ctx, r.db)
	var counts server.MemberCounts
	total, err := tx.NewSelect().Model((*member)(nil)).Count(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to count members: %w", err)
	}
	active, err := tx.NewSelect().Model((*member)(nil)).
		Where("active_from IS NOT NULL").
		Where("revoked_at IS NULL").
		Where("expires_at > ?", asOf.UTC()).
		Count(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to count active members: %w", err)
	}
	expired, err := tx.NewSelect().Model((*member)(nil)).
		Where("revoked_at IS NOT NULL OR (active_from IS NOT NULL AND expires_at <= ?)", asOf.UTC()).
		Count(ctx)
	if err != nil {
		return counts, fmt.Errorf("failed to count expired members: %w", err)
	}
	counts.Total = total
	counts.Active = active
	counts.Expired = expired
	return counts, nil
}

// applied distinguishes a guarded update that found the row in an
// unexpected state (ErrStale) from one that found no row at all
// (ErrNotExist).
func (r *BunMemberRepository) applied(ctx context.Context, res sql.Result, identity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n > 0 {
		return nil
	}
	tx := infra.ExtractTx(ctx, r.db)
	exists, err := tx.NewSelect().
		Model((*member)(nil)).
		Where("identity = ?", identity).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if !exists {
		return shared.ErrNotExist
	}
	return shared.ErrStale
}

type member struct {
	bun.BaseModel `bun:"table:members"`

	Identity        string    `bun:",pk"`
	DisplayName     string    `bun:",nullzero"`
	PlatformUserID  int64     `bun:",nullzero"`
	InviteLink      string    `bun:",unique,nullzero"`
	InviteIssuedAt  time.Time `bun:",nullzero"`
	InviteExpiresAt time.Time `bun:",nullzero"`
	ActiveFrom      time.Time `bun:",nullzero"`
	ExpiresAt       time.Time `bun:",nullzero"`
	RevokedAt       time.Time `bun:",nullzero"`
	Warned          bool      `bun:",notnull,default:false"`
	CreatedAt       time.Time `bun:",nullzero,notnull"`
}

func (m *member) toDomain() server.Member {
	return server.Member{
		Identity:        m.Identity,
		DisplayName:     m.DisplayName,
		PlatformUserID:  m.PlatformUserID,
		InviteLink:      m.InviteLink,
		InviteIssuedAt:  m.InviteIssuedAt,
		InviteExpiresAt: m.InviteExpiresAt,
		ActiveFrom:      m.ActiveFrom,
		ExpiresAt:       m.ExpiresAt,
		RevokedAt:       m.RevokedAt,
		Warned:          m.Warned,
		CreatedAt:       m.CreatedAt,
	}
}

func toDomainList(rows []member) []server.Member {
	members := make([]server.Member, 0, len(rows))
	for i := range rows {
		members = append(members, rows[i].toDomain())
	}
	return members
}
