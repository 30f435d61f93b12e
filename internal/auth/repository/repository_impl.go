package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(conn *gorm.DB) (domain.Repository, domain.SessionRepository) {
	r := &repo{db: conn}
	return r, r
}

func (r *repo) Create(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if db.IsDuplicateKeyErr(err) {
		return domain.ErrUserExists
	}
	return err
}

func (r *repo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repo) FindByExternalID(ctx context.Context, provider, externalID string) (*domain.User, error) {
	return r.first(ctx, "provider = ? AND external_id = ?", provider, externalID)
}

func (r *repo) first(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) CreateSession(ctx context.Context, session *domain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("session_token_hash = ?", tokenHash).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error {
	return r.updateSession(ctx, sessionID, "last_seen_at", lastSeen)
}

func (r *repo) RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error {
	return r.updateSession(ctx, sessionID, "revoked_at", revokedAt)
}

func (r *repo) updateSession(ctx context.Context, sessionID snowflake.ID, column string, value time.Time) error {
	tx := r.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", sessionID).Update(column, value)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}
