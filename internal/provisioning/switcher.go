package provisioning

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Switcher interface {
	SwitchActiveOrg(ctx context.Context, userID, orgID snowflake.ID) error
	// ActiveOrg returns the active organization only while a membership
	// still backs it.
	ActiveOrg(ctx context.Context, userID snowflake.ID) (snowflake.ID, bool, error)
}

type SwitcherParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Repo     orgdomain.Repository
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type switcher struct {
	db       *gorm.DB
	log      *zap.Logger
	repo     orgdomain.Repository
	clock    clock.Clock
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewSwitcher(p SwitcherParams) Switcher {
	return &switcher{
		db:       p.DB,
		log:      p.Log.Named("provisioning.switcher"),
		repo:     p.Repo,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *switcher) SwitchActiveOrg(ctx context.Context, userID, orgID snowflake.ID) error {
	if userID == 0 {
		return ErrUnauthenticated
	}
	if orgID == 0 {
		return ErrNotAMember
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindMembership(ctx, userID, orgID); err != nil {
			if errors.Is(err, orgdomain.ErrMembershipNotFound) {
				return ErrNotAMember
			}
			return err
		}
		return repo.UpsertActiveOrg(ctx, userID, orgID, s.clock.Now())
	})
	switch {
	case errors.Is(err, ErrNotAMember):
		s.metrics.RecordActiveOrgSwitch(ctx, "not_a_member")
		return err
	case err != nil:
		s.metrics.RecordActiveOrgSwitch(ctx, "failed")
		s.log.Error("switch active organization failed", zap.String("user_id", userID.String()), zap.Error(err))
		return persistence(err)
	}

	s.metrics.RecordActiveOrgSwitch(ctx, "switched")
	if s.auditSvc != nil {
		if err := s.auditSvc.Record(ctx, auditdomain.Entry{
			OrgID:      &orgID,
			Action:     "organization.switched",
			TargetType: "organization",
			TargetID:   orgID.String(),
			Metadata:   map[string]any{"user_id": userID.String()},
		}); err != nil {
			s.log.Warn("failed to audit organization switch", zap.Error(err))
		}
	}
	return nil
}

func (s *switcher) ActiveOrg(ctx context.Context, userID snowflake.ID) (snowflake.ID, bool, error) {
	if userID == 0 {
		return 0, false, ErrUnauthenticated
	}
	profile, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, orgdomain.ErrProfileNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, persistence(err)
	}
	if profile.ActiveOrgID == nil {
		return 0, false, nil
	}

	orgID := *profile.ActiveOrgID
	if _, err := s.repo.FindMembership(ctx, userID, orgID); err != nil {
		if errors.Is(err, orgdomain.ErrMembershipNotFound) {
			return 0, false, nil
		}
		return 0, false, persistence(err)
	}
	return orgID, true, nil
}
