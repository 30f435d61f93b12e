package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/invitation/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invite *domain.Invite) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO organization_invites (id, org_id, email, role, token_hash, invited_by, status, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invite.ID,
		invite.OrgID,
		invite.Email,
		invite.Role,
		invite.TokenHash,
		invite.InvitedBy,
		invite.Status,
		invite.ExpiresAt,
		invite.CreatedAt,
		invite.UpdatedAt,
	).Error
}

func (r *repository) FindByTokenHash(ctx context.Context, tokenHash string) (*domain.Invite, error) {
	return r.first(ctx, "token_hash = ?", tokenHash)
}

func (r *repository) FindPendingByEmail(ctx context.Context, orgID snowflake.ID, email string) (*domain.Invite, error) {
	return r.first(ctx, "org_id = ? AND email = ? AND status = ?", orgID, email, domain.StatusPending)
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*domain.Invite, error) {
	var invite domain.Invite
	err := r.db.WithContext(ctx).Where(query, args...).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *repository) Rotate(ctx context.Context, invite *domain.Invite) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE organization_invites
		 SET token_hash = ?, role = ?, invited_by = ?, expires_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		invite.TokenHash,
		invite.Role,
		invite.InvitedBy,
		invite.ExpiresAt,
		invite.UpdatedAt,
		invite.ID,
		domain.StatusPending,
	).Error
}

func (r *repository) MarkConsumed(ctx context.Context, inviteID, userID snowflake.ID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organization_invites
		 SET status = ?, consumed_at = ?, consumed_by = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND consumed_at IS NULL`,
		domain.StatusAccepted,
		now,
		userID,
		now,
		inviteID,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Revoke(ctx context.Context, orgID, inviteID snowflake.ID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE organization_invites SET status = ?, updated_at = ?
		 WHERE id = ? AND org_id = ? AND status = ?`,
		domain.StatusRevoked,
		now,
		inviteID,
		orgID,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListPending(ctx context.Context, orgID snowflake.ID) ([]domain.Invite, error) {
	var invites []domain.Invite
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND status = ?", orgID, domain.StatusPending).
		Order("created_at DESC").
		Find(&invites).Error
	if err != nil {
		return nil, err
	}
	return invites, nil
}

func (r *repository) IsMemberByEmail(ctx context.Context, orgID snowflake.ID, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM organization_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.org_id = ? AND LOWER(u.email) = ?`,
		orgID,
		email,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
