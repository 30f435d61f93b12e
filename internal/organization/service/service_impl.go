package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     domain.Repository
	GenID    *snowflake.Node
	Clock    clock.Clock
	Authz    authorization.Service
	AuditSvc auditdomain.Service `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     domain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	authz    authorization.Service
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("organization.service"),
		repo:     p.Repo,
		genID:    p.GenID,
		clock:    p.Clock,
		authz:    p.Authz,
		auditSvc: p.AuditSvc,
	}
}

// CreateOwnedOrganization inserts organization orgID and its single owner
// membership through repo, which is expected to be bound to a transaction.
func CreateOwnedOrganization(ctx context.Context, repo domain.Repository, genID *snowflake.Node, orgID, ownerID snowflake.ID, name string, now time.Time) (*domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > domain.MaxNameLength {
		return nil, domain.ErrInvalidName
	}

	orgSlug, fallback, err := uniqueSlug(ctx, repo, name, orgID)
	if err != nil {
		return nil, err
	}

	org := &domain.Organization{
		ID:                 orgID,
		Name:               name,
		Slug:               orgSlug,
		SubscriptionStatus: domain.SubscriptionTrialing,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = repo.CreateOrganization(ctx, org)
	if db.IsDuplicateKeyErr(err) && org.Slug != fallback {
		// Another organization took the slug after the existence check.
		org.Slug = fallback
		err = repo.CreateOrganization(ctx, org)
	}
	if err != nil {
		return nil, err
	}

	member := &domain.OrganizationMember{
		ID:        genID.Generate(),
		OrgID:     orgID,
		UserID:    ownerID,
		Role:      domain.RoleOwner,
		CreatedAt: now,
	}
	if err := repo.CreateMembership(ctx, member); err != nil {
		return nil, err
	}
	return org, nil
}

// uniqueSlug returns the preferred slug for name and the id-suffixed
// fallback that cannot collide.
func uniqueSlug(ctx context.Context, repo domain.Repository, name string, orgID snowflake.ID) (string, string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "org"
	}
	fallback := base + "-" + strings.ToLower(orgID.Base36())
	exists, err := repo.SlugExists(ctx, base)
	if err != nil {
		return "", "", err
	}
	if exists {
		return fallback, fallback, nil
	}
	return base, fallback, nil
}

func (s *service) Create(ctx context.Context, userID snowflake.ID, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	now := s.clock.Now()
	var org *domain.Organization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		created, err := CreateOwnedOrganization(ctx, repo, s.genID, s.genID.Generate(), userID, req.Name, now)
		if err != nil {
			return err
		}
		org = created
		return repo.UpsertActiveOrg(ctx, userID, created.ID, now)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, org.ID, "organization.created", map[string]any{"name": org.Name, "slug": org.Slug})
	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("user_id", userID.String()),
	)

	return toResponse(org, domain.RoleOwner), nil
}

func (s *service) ListForUser(ctx context.Context, userID snowflake.ID) ([]domain.OrganizationListResponseItem, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}

	items, err := s.repo.ListMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}

	var activeID snowflake.ID
	profile, err := s.repo.GetProfile(ctx, userID)
	switch {
	case err == nil && profile.ActiveOrgID != nil:
		activeID = *profile.ActiveOrgID
	case err != nil && !errors.Is(err, domain.ErrProfileNotFound):
		return nil, err
	}

	resp := make([]domain.OrganizationListResponseItem, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.OrganizationListResponseItem{
			ID:                 item.ID.String(),
			Name:               item.Name,
			Slug:               item.Slug,
			Role:               item.Role,
			SubscriptionStatus: item.SubscriptionStatus,
			Active:             item.ID == activeID,
			CreatedAt:          item.CreatedAt,
		})
	}
	return resp, nil
}

func (s *service) Get(ctx context.Context, userID, orgID snowflake.ID) (*domain.OrganizationResponse, error) {
	member, err := s.requireMember(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return toResponse(org, member.Role), nil
}

func (s *service) UpdateSettings(ctx context.Context, userID, orgID snowflake.ID, req domain.UpdateSettingsRequest) (*domain.OrganizationResponse, error) {
	member, err := s.requireMember(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, authorization.UserActor(userID), orgID, authorization.ObjectOrganization, authorization.ActionOrganizationUpdate); err != nil {
		return nil, err
	}

	patch := domain.OrganizationPatch{}
	changed := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len([]rune(name)) > domain.MaxNameLength {
			return nil, domain.ErrInvalidName
		}
		patch.Name = &name
		changed["name"] = name
	}
	if req.LogoURL != nil {
		logoURL := strings.TrimSpace(*req.LogoURL)
		if logoURL != "" && !validLogoURL(logoURL) {
			return nil, domain.ErrInvalidLogoURL
		}
		patch.LogoURL = &logoURL
		changed["logo_url"] = logoURL
	}

	if len(changed) > 0 {
		if err := s.repo.UpdateOrganization(ctx, orgID, patch, s.clock.Now()); err != nil {
			return nil, err
		}
		s.audit(ctx, orgID, "organization.updated", changed)
	}

	org, err := s.repo.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return toResponse(org, member.Role), nil
}

func (s *service) ListMembers(ctx context.Context, userID, orgID snowflake.ID) ([]domain.MemberResponse, error) {
	if _, err := s.requireMember(ctx, userID, orgID); err != nil {
		return nil, err
	}

	items, err := s.repo.ListMembers(ctx, orgID)
	if err != nil {
		return nil, err
	}
	resp := make([]domain.MemberResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, domain.MemberResponse{
			UserID:      item.UserID.String(),
			Email:       item.Email,
			DisplayName: item.DisplayName,
			Role:        item.Role,
			JoinedAt:    item.CreatedAt,
		})
	}
	return resp, nil
}

func (s *service) requireMember(ctx context.Context, userID, orgID snowflake.ID) (*domain.OrganizationMember, error) {
	if userID == 0 {
		return nil, domain.ErrInvalidUser
	}
	if orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	member, err := s.repo.FindMembership(ctx, userID, orgID)
	if errors.Is(err, domain.ErrMembershipNotFound) {
		return nil, domain.ErrNotAMember
	}
	if err != nil {
		return nil, err
	}
	return member, nil
}

func (s *service) audit(ctx context.Context, orgID snowflake.ID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     action,
		TargetType: "organization",
		TargetID:   orgID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("failed to audit organization change", zap.String("action", action), zap.Error(err))
	}
}

func validLogoURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "https" || parsed.Scheme == "http") && parsed.Host != ""
}

func toResponse(org *domain.Organization, role string) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:                 org.ID.String(),
		Name:               org.Name,
		Slug:               org.Slug,
		SubscriptionStatus: org.SubscriptionStatus,
		LogoURL:            org.LogoURL,
		Role:               role,
		CreatedAt:          org.CreatedAt,
	}
}
