package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/audit/masking"
	"github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionTokenBytes = 32
	defaultSessionTTL = 7 * 24 * time.Hour

	minPasswordLength = 8
)

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	Repo        domain.Repository
	SessionRepo domain.SessionRepository
	GenID       *snowflake.Node
	Clock       clock.Clock
}

type Service struct {
	log         *zap.Logger
	repo        domain.Repository
	sessionRepo domain.SessionRepository
	genID       *snowflake.Node
	clock       clock.Clock
	sessionTTL  time.Duration
}

func New(p Params) domain.Service {
	ttl := p.Config.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		log:         p.Log.Named("auth.service"),
		repo:        p.Repo,
		sessionRepo: p.SessionRepo,
		genID:       p.GenID,
		clock:       clk,
		sessionTTL:  ttl,
	}
}

func (s *Service) CreateUser(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if len(strings.TrimSpace(req.Password)) < minPasswordLength {
		return nil, domain.ErrWeakPassword
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, domain.ErrUserExists
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = DefaultDisplayName(email)
	}
	now := s.clock.Now()
	user := &domain.User{
		ID:           s.genID.Generate(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: &hashed,
		Provider:     domain.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.log.Info("user created", zap.String("user_id", user.ID.String()))
	return user, nil
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil || strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if user.PasswordHash == nil || !verifyPassword(req.Password, *user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	return s.StartSession(ctx, user, req.SessionMeta)
}

func (s *Service) StartSession(ctx context.Context, user *domain.User, meta domain.SessionMeta) (*domain.LoginResult, error) {
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: HashToken(rawToken),
		UserAgent:        strings.TrimSpace(meta.UserAgent),
		IPAddress:        strings.TrimSpace(meta.IPAddress),
		ExpiresAt:        now.Add(s.sessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		User:      user,
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
		SessionID: session.ID,
	}, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}
	if session.RevokedAt != nil {
		return nil
	}
	return s.sessionRepo.RevokeSession(ctx, session.ID, s.clock.Now())
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, domain.ErrInvalidSession
	}

	session, err := s.sessionRepo.GetSessionByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, err
	}

	now := s.clock.Now()
	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if now.After(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	if err := s.sessionRepo.UpdateLastSeen(ctx, session.ID, now); err != nil {
		return nil, err
	}
	session.LastSeenAt = now
	return session, nil
}

func (s *Service) GetUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) ResolveExternalUser(ctx context.Context, claims domain.ExternalClaims) (*domain.User, error) {
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, domain.ErrInvalidToken
	}

	user, err := s.repo.FindByExternalID(ctx, domain.ProviderJWT, subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	email, err := NormalizeEmail(claims.Email)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	displayName := strings.TrimSpace(claims.Name)
	if displayName == "" {
		displayName = DefaultDisplayName(email)
	}

	now := s.clock.Now()
	user = &domain.User{
		ID:          s.genID.Generate(),
		Email:       email,
		DisplayName: displayName,
		Provider:    domain.ProviderJWT,
		ExternalID:  &subject,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if !errors.Is(err, domain.ErrUserExists) {
			return nil, err
		}
		// Either a concurrent request for the same subject won, or the
		// address already belongs to an account. Tokens are signed with our
		// own secret, so the address is trusted.
		if existing, findErr := s.repo.FindByExternalID(ctx, domain.ProviderJWT, subject); findErr == nil {
			return existing, nil
		}
		existing, findErr := s.repo.FindByEmail(ctx, email)
		if findErr != nil {
			return nil, findErr
		}
		s.log.Warn("bearer token linked to existing account by email",
			zap.String("user_id", existing.ID.String()),
			zap.String("provider", existing.Provider),
			zap.String("email", masking.MaskEmail(email)),
		)
		return existing, nil
	}

	s.log.Info("external user materialized", zap.String("user_id", user.ID.String()))
	return user, nil
}

// NormalizeEmail returns the lower-cased bare address or an error.
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

// DefaultDisplayName is the local part of the address.
func DefaultDisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local = strings.TrimSpace(local); local != "" {
		return local
	}
	return email
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken is the storage form of an opaque bearer secret.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
