package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/audit/masking"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	authservice "github.com/smallbiznis/fieldops/internal/auth/service"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/smallbiznis/fieldops/internal/invitation/domain"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/providers/email"
	"github.com/smallbiznis/fieldops/internal/provisioning"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const inviteTokenBytes = 32

var errConsumedConcurrently = errors.New("invite consumed concurrently")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Policy   *config.TenancyPolicyHolder
	Repo     domain.Repository
	OrgRepo  orgdomain.Repository
	Authz    authorization.Service
	Email    email.Provider
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type service struct {
	db        *gorm.DB
	log       *zap.Logger
	publicURL string
	policy    *config.TenancyPolicyHolder
	repo      domain.Repository
	orgRepo   orgdomain.Repository
	authz     authorization.Service
	email     email.Provider
	genID     *snowflake.Node
	clock     clock.Clock
	auditSvc  auditdomain.Service
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:        p.DB,
		log:       p.Log.Named("invitation.service"),
		publicURL: strings.TrimRight(p.Config.PublicURL, "/"),
		policy:    p.Policy,
		repo:      p.Repo,
		orgRepo:   p.OrgRepo,
		authz:     p.Authz,
		email:     p.Email,
		genID:     p.GenID,
		clock:     p.Clock,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
	}
}

func (s *service) SendInvite(ctx context.Context, req domain.SendInviteRequest) (*domain.SendInviteResult, error) {
	address, err := authservice.NormalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	policy := s.policy.Get()
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = orgdomain.RoleMember
	}
	if !orgdomain.ValidRole(role) || role == orgdomain.RoleOwner || !policy.Invites.RoleAllowed(role) {
		return nil, domain.ErrInvalidRole
	}

	if err := s.requireManager(ctx, req.InviterID, req.OrgID); err != nil {
		return nil, err
	}

	isMember, err := s.repo.IsMemberByEmail(ctx, req.OrgID, address)
	if err != nil {
		return nil, err
	}
	if isMember {
		return nil, domain.ErrAlreadyMember
	}

	org, err := s.orgRepo.GetOrganization(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	token, err := newInviteToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var expiresAt *time.Time
	if policy.Invites.TTL > 0 {
		exp := now.Add(policy.Invites.TTL)
		expiresAt = &exp
	}

	invite := &domain.Invite{
		OrgID:     req.OrgID,
		Email:     address,
		Role:      role,
		TokenHash: authservice.HashToken(token),
		InvitedBy: req.InviterID,
		Status:    domain.StatusPending,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rotated := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindPendingByEmail(ctx, req.OrgID, address)
		switch {
		case err == nil:
			invite.ID = existing.ID
			invite.CreatedAt = existing.CreatedAt
			rotated = true
			return repo.Rotate(ctx, invite)
		case errors.Is(err, domain.ErrInviteNotFound):
			invite.ID = s.genID.Generate()
			return repo.Create(ctx, invite)
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	inviteURL := s.publicURL + "/invite/" + token
	s.notify(ctx, org, invite, inviteURL, req.InviterName)
	s.metrics.RecordInviteSent(ctx, role)
	s.audit(ctx, req.OrgID, "invite.sent", invite.ID, map[string]any{
		"email":   masking.MaskEmail(address),
		"role":    role,
		"rotated": rotated,
	})

	return &domain.SendInviteResult{
		InviteID:  invite.ID,
		Token:     token,
		InviteURL: inviteURL,
		ExpiresAt: expiresAt,
		Rotated:   rotated,
	}, nil
}

func (s *service) notify(ctx context.Context, org *orgdomain.Organization, invite *domain.Invite, inviteURL, inviterName string) {
	if s.email == nil {
		return
	}
	data := map[string]any{
		"OrgName":     org.Name,
		"Role":        invite.Role,
		"InviteURL":   inviteURL,
		"InviterName": strings.TrimSpace(inviterName),
	}
	if invite.ExpiresAt != nil {
		data["ExpiresAt"] = invite.ExpiresAt.Format("January 2, 2006")
	}
	subject := fmt.Sprintf("You're invited to join %s", org.Name)
	if err := s.email.SendTemplate(ctx, []string{invite.Email}, subject, email.TemplateInviteMember, data); err != nil {
		s.log.Warn("failed to send invite email",
			zap.String("invite_id", invite.ID.String()),
			zap.String("email", masking.MaskEmail(invite.Email)),
			zap.Error(err),
		)
	}
}

func (s *service) Preview(ctx context.Context, token string) (*domain.PreviewResponse, error) {
	invite, err := s.pendingInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	org, err := s.orgRepo.GetOrganization(ctx, invite.OrgID)
	if errors.Is(err, orgdomain.ErrOrganizationNotFound) {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, err
	}
	return &domain.PreviewResponse{
		OrgID:     org.ID.String(),
		OrgName:   org.Name,
		Email:     invite.Email,
		Role:      invite.Role,
		ExpiresAt: invite.ExpiresAt,
	}, nil
}

func (s *service) pendingInvite(ctx context.Context, token string) (*domain.Invite, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	invite, err := s.repo.FindByTokenHash(ctx, authservice.HashToken(token))
	if errors.Is(err, domain.ErrInviteNotFound) {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, err
	}
	if invite.Status != domain.StatusPending || invite.Expired(s.clock.Now()) {
		return nil, domain.ErrInvalidOrExpiredToken
	}
	return invite, nil
}

// AcceptInvite redeems token for the caller: it creates the membership when
// missing, marks the invite consumed and makes the organization active.
func (s *service) AcceptInvite(ctx context.Context, identity *authdomain.Identity, token string) (*domain.AcceptResult, error) {
	if identity == nil || identity.UserID == 0 {
		return nil, provisioning.ErrUnauthenticated
	}
	token = strings.TrimSpace(token)
	if token == "" {
		s.metrics.RecordInviteAccepted(ctx, "rejected")
		return nil, domain.ErrInvalidOrExpiredToken
	}
	tokenHash := authservice.HashToken(token)
	log := s.log.With(zap.String("user_id", identity.UserID.String()))

	invite, err := s.repo.FindByTokenHash(ctx, tokenHash)
	if errors.Is(err, domain.ErrInviteNotFound) {
		s.metrics.RecordInviteAccepted(ctx, "rejected")
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, s.persistence(log, err)
	}

	if invite.ConsumedBy != nil {
		return s.replay(ctx, invite, identity.UserID, log)
	}

	now := s.clock.Now()
	if invite.Status != domain.StatusPending || invite.Expired(now) {
		s.metrics.RecordInviteAccepted(ctx, "rejected")
		return nil, domain.ErrInvalidOrExpiredToken
	}

	if !strings.EqualFold(strings.TrimSpace(invite.Email), strings.TrimSpace(identity.Email)) {
		log.Warn("invite email does not match accepting user",
			zap.String("invite_id", invite.ID.String()),
			zap.String("invite_email", masking.MaskEmail(invite.Email)),
			zap.String("user_email", masking.MaskEmail(identity.Email)),
		)
		if s.policy.Get().Invites.RequireEmailMatch {
			s.metrics.RecordInviteAccepted(ctx, "email_mismatch")
			return nil, domain.ErrEmailMismatch
		}
	}

	var role string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		orgRepo := s.orgRepo.WithTx(tx)

		ok, err := repo.MarkConsumed(ctx, invite.ID, identity.UserID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errConsumedConcurrently
		}

		member, err := orgRepo.FindMembership(ctx, identity.UserID, invite.OrgID)
		switch {
		case err == nil:
			role = member.Role
		case errors.Is(err, orgdomain.ErrMembershipNotFound):
			role = invite.Role
			if err := orgRepo.CreateMembership(ctx, &orgdomain.OrganizationMember{
				ID:        s.genID.Generate(),
				OrgID:     invite.OrgID,
				UserID:    identity.UserID,
				Role:      invite.Role,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		default:
			return err
		}

		return orgRepo.UpsertActiveOrg(ctx, identity.UserID, invite.OrgID, now)
	})
	if errors.Is(err, errConsumedConcurrently) {
		current, err := s.repo.FindByTokenHash(ctx, tokenHash)
		if err != nil {
			return nil, s.persistence(log, err)
		}
		if current.ConsumedBy == nil {
			s.metrics.RecordInviteAccepted(ctx, "rejected")
			return nil, domain.ErrInvalidOrExpiredToken
		}
		return s.replay(ctx, current, identity.UserID, log)
	}
	if err != nil {
		return nil, s.persistence(log, err)
	}

	s.metrics.RecordInviteAccepted(ctx, "accepted")
	s.audit(ctx, invite.OrgID, "invite.accepted", invite.ID, map[string]any{
		"user_id": identity.UserID.String(),
		"role":    role,
	})
	log.Info("invite accepted", zap.String("org_id", invite.OrgID.String()), zap.String("role", role))

	return &domain.AcceptResult{OrgID: invite.OrgID, Role: role}, nil
}

// replay answers a second presentation of a consumed token: the consuming user
// gets the same result and the organization becomes active again, anyone else
// is rejected.
func (s *service) replay(ctx context.Context, invite *domain.Invite, userID snowflake.ID, log *zap.Logger) (*domain.AcceptResult, error) {
	if invite.ConsumedBy == nil || *invite.ConsumedBy != userID {
		log.Warn("consumed invite presented by another user", zap.String("invite_id", invite.ID.String()))
		s.metrics.RecordInviteAccepted(ctx, "rejected")
		return nil, domain.ErrInvalidOrExpiredToken
	}
	member, err := s.orgRepo.FindMembership(ctx, userID, invite.OrgID)
	if errors.Is(err, orgdomain.ErrMembershipNotFound) {
		s.metrics.RecordInviteAccepted(ctx, "rejected")
		return nil, domain.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, s.persistence(log, err)
	}
	if err := s.orgRepo.UpsertActiveOrg(ctx, userID, invite.OrgID, s.clock.Now()); err != nil {
		return nil, s.persistence(log, err)
	}
	s.metrics.RecordInviteAccepted(ctx, "replayed")
	return &domain.AcceptResult{OrgID: invite.OrgID, Role: member.Role, Replayed: true}, nil
}

func (s *service) ListPending(ctx context.Context, actorID, orgID snowflake.ID) ([]domain.InviteResponse, error) {
	if err := s.requireManager(ctx, actorID, orgID); err != nil {
		return nil, err
	}
	invites, err := s.repo.ListPending(ctx, orgID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	resp := make([]domain.InviteResponse, 0, len(invites))
	for i := range invites {
		invite := invites[i]
		if invite.Expired(now) {
			continue
		}
		resp = append(resp, domain.InviteResponse{
			ID:        invite.ID.String(),
			Email:     invite.Email,
			Role:      invite.Role,
			Status:    invite.Status,
			ExpiresAt: invite.ExpiresAt,
			CreatedAt: invite.CreatedAt,
		})
	}
	return resp, nil
}

func (s *service) Revoke(ctx context.Context, actorID, orgID, inviteID snowflake.ID) error {
	if err := s.requireManager(ctx, actorID, orgID); err != nil {
		return err
	}
	ok, err := s.repo.Revoke(ctx, orgID, inviteID, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInviteNotFound
	}
	s.audit(ctx, orgID, "invite.revoked", inviteID, nil)
	return nil
}

func (s *service) requireManager(ctx context.Context, actorID, orgID snowflake.ID) error {
	if actorID == 0 {
		return provisioning.ErrUnauthenticated
	}
	if orgID == 0 {
		return orgdomain.ErrInvalidOrganization
	}
	if _, err := s.orgRepo.FindMembership(ctx, actorID, orgID); err != nil {
		if errors.Is(err, orgdomain.ErrMembershipNotFound) {
			return orgdomain.ErrNotAMember
		}
		return err
	}
	return s.authz.Authorize(ctx, authorization.UserActor(actorID), orgID, authorization.ObjectInvite, authorization.ActionInviteCreate)
}

func (s *service) audit(ctx context.Context, orgID snowflake.ID, action string, inviteID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     action,
		TargetType: "invite",
		TargetID:   inviteID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("failed to audit invite", zap.String("action", action), zap.Error(err))
	}
}

func (s *service) persistence(log *zap.Logger, err error) error {
	log.Error("invite store failure", zap.Error(err))
	return fmt.Errorf("%w: %v", provisioning.ErrPersistence, err)
}

func newInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
