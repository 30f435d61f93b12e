// Package provisioning gives every signed-in user exactly one place to land:
// EnsureOrganization creates the first organization on demand and the
// Switcher moves the active organization pointer between memberships.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/smallbiznis/fieldops/internal/lock"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	orgservice "github.com/smallbiznis/fieldops/internal/organization/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	outcomeCreated  = "created"
	outcomeExisting = "existing"
	outcomeRaceLost = "race_lost"
	outcomeFailed   = "failed"
)

// Result reports the organization the user now has active.
type Result struct {
	OrgID   snowflake.ID
	Created bool
}

type Provisioner interface {
	EnsureOrganization(ctx context.Context, identity *authdomain.Identity, requestedName string) (Result, error)
}

type ProvisionerParams struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Config         config.Config
	Policy         *config.TenancyPolicyHolder
	Repo           orgdomain.Repository
	Locker         lock.Locker
	GenID          *snowflake.Node
	Clock          clock.Clock
	AuditSvc       auditdomain.Service     `optional:"true"`
	Metrics        *metrics.Metrics        `optional:"true"`
	TenancyMetrics *metrics.TenancyMetrics `optional:"true"`
}

type provisioner struct {
	db             *gorm.DB
	log            *zap.Logger
	policy         *config.TenancyPolicyHolder
	repo           orgdomain.Repository
	locker         lock.Locker
	genID          *snowflake.Node
	clock          clock.Clock
	lockTTL        time.Duration
	lockWait       time.Duration
	auditSvc       auditdomain.Service
	metrics        *metrics.Metrics
	tenancyMetrics *metrics.TenancyMetrics
}

func NewProvisioner(p ProvisionerParams) Provisioner {
	lockTTL := p.Config.Provisioning.LockTTL
	if lockTTL <= 0 {
		lockTTL = 15 * time.Second
	}
	lockWait := p.Config.Provisioning.LockWait
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &provisioner{
		db:             p.DB,
		log:            p.Log.Named("provisioning.service"),
		policy:         p.Policy,
		repo:           p.Repo,
		locker:         p.Locker,
		genID:          p.GenID,
		clock:          p.Clock,
		lockTTL:        lockTTL,
		lockWait:       lockWait,
		auditSvc:       p.AuditSvc,
		metrics:        p.Metrics,
		tenancyMetrics: p.TenancyMetrics,
	}
}

func lockKey(userID snowflake.ID) string {
	return fmt.Sprintf("provisioning:user:%s", userID)
}

// EnsureOrganization returns the caller's active organization, creating the
// first one when the user has no membership at all. Repeated calls are safe.
func (p *provisioner) EnsureOrganization(ctx context.Context, identity *authdomain.Identity, requestedName string) (Result, error) {
	if identity == nil || identity.UserID == 0 {
		return Result{}, ErrUnauthenticated
	}
	userID := identity.UserID
	log := p.log.With(zap.String("user_id", userID.String()))

	result, err := p.ensure(ctx, identity, requestedName, log)
	if err != nil {
		p.tenancyMetrics.IncProvisioningFailure(err)
		p.metrics.RecordOrgProvisioned(ctx, outcomeFailed)
		log.Error("ensure organization failed", zap.Error(err))
		return Result{}, persistence(err)
	}
	return result, nil
}

func (p *provisioner) ensure(ctx context.Context, identity *authdomain.Identity, requestedName string, log *zap.Logger) (Result, error) {
	userID := identity.UserID

	profile, err := p.repo.EnsureProfile(ctx, userID, p.clock.Now())
	if err != nil {
		return Result{}, err
	}
	if orgID, ok, err := p.backedActiveOrg(ctx, profile); err != nil {
		return Result{}, err
	} else if ok {
		p.metrics.RecordOrgProvisioned(ctx, outcomeExisting)
		return Result{OrgID: orgID}, nil
	}

	release, err := p.acquire(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release provisioning lock", zap.Error(err))
		}
	}()

	// Another request may have finished while this one waited.
	profile, err = p.repo.GetProfile(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if orgID, ok, err := p.backedActiveOrg(ctx, profile); err != nil {
		return Result{}, err
	} else if ok {
		p.metrics.RecordOrgProvisioned(ctx, outcomeExisting)
		return Result{OrgID: orgID}, nil
	}

	first, err := p.repo.FirstMembership(ctx, userID)
	switch {
	case err == nil:
		if err := p.repo.UpsertActiveOrg(ctx, userID, first.OrgID, p.clock.Now()); err != nil {
			return Result{}, err
		}
		log.Info("active organization repaired", zap.String("org_id", first.OrgID.String()))
		p.metrics.RecordOrgProvisioned(ctx, outcomeExisting)
		return Result{OrgID: first.OrgID}, nil
	case !errors.Is(err, orgdomain.ErrMembershipNotFound):
		return Result{}, err
	}

	name := fallbackName(requestedName, identity, p.policy.Get().DefaultOrgName)
	org, err := p.create(ctx, userID, name)
	if errors.Is(err, orgdomain.ErrClaimExists) {
		return p.adoptClaim(ctx, userID, log)
	}
	if err != nil {
		return Result{}, err
	}

	p.audit(ctx, org, identity)
	p.metrics.RecordOrgProvisioned(ctx, outcomeCreated)
	log.Info("organization provisioned", zap.String("org_id", org.ID.String()))
	return Result{OrgID: org.ID, Created: true}, nil
}

func (p *provisioner) backedActiveOrg(ctx context.Context, profile *orgdomain.Profile) (snowflake.ID, bool, error) {
	if profile == nil || profile.ActiveOrgID == nil {
		return 0, false, nil
	}
	orgID := *profile.ActiveOrgID
	_, err := p.repo.FindMembership(ctx, profile.UserID, orgID)
	if errors.Is(err, orgdomain.ErrMembershipNotFound) {
		p.log.Warn("active organization has no membership",
			zap.String("user_id", profile.UserID.String()),
			zap.String("org_id", orgID.String()),
		)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return orgID, true, nil
}

func (p *provisioner) acquire(ctx context.Context, userID snowflake.ID) (lock.Release, error) {
	start := time.Now()
	release, err := p.locker.Acquire(ctx, lockKey(userID), p.lockTTL, p.lockWait)
	outcome := metrics.LockOutcomeAcquired
	switch {
	case errors.Is(err, lock.ErrTimeout):
		outcome = metrics.LockOutcomeTimeout
	case err != nil:
		outcome = metrics.LockOutcomeError
	}
	p.tenancyMetrics.ObserveLockWait("provisioning", outcome, time.Since(start).Seconds())
	return release, err
}

func (p *provisioner) create(ctx context.Context, userID snowflake.ID, name string) (*orgdomain.Organization, error) {
	now := p.clock.Now()
	orgID := p.genID.Generate()

	var org *orgdomain.Organization
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		if err := repo.InsertProvisioningClaim(ctx, &orgdomain.ProvisioningClaim{
			UserID:    userID,
			OrgID:     orgID,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		created, err := orgservice.CreateOwnedOrganization(ctx, repo, p.genID, orgID, userID, name, now)
		if err != nil {
			return err
		}
		org = created
		return repo.UpsertActiveOrg(ctx, userID, orgID, now)
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// adoptClaim returns the organization recorded by the request that won the
// provisioning claim.
func (p *provisioner) adoptClaim(ctx context.Context, userID snowflake.ID, log *zap.Logger) (Result, error) {
	claim, err := p.repo.GetProvisioningClaim(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if _, err := p.repo.FindMembership(ctx, userID, claim.OrgID); err != nil {
		return Result{}, err
	}
	if err := p.repo.UpsertActiveOrg(ctx, userID, claim.OrgID, p.clock.Now()); err != nil {
		return Result{}, err
	}
	log.Info("provisioning race lost, using existing organization", zap.String("org_id", claim.OrgID.String()))
	p.metrics.RecordOrgProvisioned(ctx, outcomeRaceLost)
	return Result{OrgID: claim.OrgID}, nil
}

func (p *provisioner) audit(ctx context.Context, org *orgdomain.Organization, identity *authdomain.Identity) {
	if p.auditSvc == nil {
		return
	}
	if err := p.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      &org.ID,
		Action:     "organization.provisioned",
		TargetType: "organization",
		TargetID:   org.ID.String(),
		Metadata: map[string]any{
			"name":    org.Name,
			"slug":    org.Slug,
			"user_id": identity.UserID.String(),
		},
	}); err != nil {
		p.log.Warn("failed to audit provisioning", zap.Error(err))
	}
}

// fallbackName picks the organization name: the requested one, then the
// user's display name, then the email local part, then the policy default.
func fallbackName(requested string, identity *authdomain.Identity, defaultName string) string {
	if name := strings.TrimSpace(requested); name != "" {
		return truncateName(name)
	}
	if identity != nil {
		if display := strings.TrimSpace(identity.DisplayName); display != "" {
			return truncateName(display + "'s Organization")
		}
		if local, _, ok := strings.Cut(strings.TrimSpace(identity.Email), "@"); ok && strings.TrimSpace(local) != "" {
			return truncateName(strings.TrimSpace(local) + "'s Organization")
		}
	}
	if name := strings.TrimSpace(defaultName); name != "" {
		return truncateName(name)
	}
	return config.DefaultTenancyPolicy().DefaultOrgName
}

func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) <= orgdomain.MaxNameLength {
		return name
	}
	return strings.TrimSpace(string(runes[:orgdomain.MaxNameLength]))
}
