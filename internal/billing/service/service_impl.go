package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/billing/domain"
	"github.com/smallbiznis/fieldops/internal/billing/stripe"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/smallbiznis/fieldops/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Config   config.Config
	Repo     domain.Repository
	OrgRepo  orgdomain.Repository
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	verifier *stripe.Verifier
	repo     domain.Repository
	orgRepo  orgdomain.Repository
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("billing.webhook"),
		verifier: stripe.NewVerifier(p.Config.Stripe.WebhookSecret, p.Config.Stripe.WebhookTolerance),
		repo:     p.Repo,
		orgRepo:  p.OrgRepo,
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

// HandleStripeWebhook verifies a Stripe delivery and applies it to the
// organization's subscription status. Deliveries are recorded by event id so
// a redelivered event is acknowledged without being applied twice.
func (s *service) HandleStripeWebhook(ctx context.Context, payload []byte, headers http.Header) (*domain.WebhookResult, error) {
	now := s.clock.Now()
	if err := s.verifier.Verify(payload, headers.Get(stripe.SignatureHeader), now); err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			s.log.Error("stripe webhook received but STRIPE_WEBHOOK_SECRET is not set")
		} else {
			s.log.Warn("stripe webhook signature rejected")
		}
		s.metrics.RecordWebhookEvent(ctx, domain.ProviderStripe, "unknown", "rejected")
		return nil, err
	}

	change, err := stripe.Parse(payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, domain.ProviderStripe, "unknown", "rejected")
		return nil, err
	}

	result := &domain.WebhookResult{
		EventID:   change.ProviderEventID,
		EventType: change.EventType,
		OrgID:     change.OrgID,
		Status:    change.Status,
	}
	log := s.log.With(
		zap.String("event_id", change.ProviderEventID),
		zap.String("event_type", change.EventType),
	)

	var previous string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		inserted, err := repo.InsertEvent(ctx, &domain.Event{
			ID:              s.genID.Generate(),
			Provider:        change.Provider,
			ProviderEventID: change.ProviderEventID,
			EventType:       change.EventType,
			OrgID:           change.OrgID,
			Payload:         datatypes.JSON(payload),
			ReceivedAt:      now,
			ProcessedAt:     &now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			result.Outcome = domain.OutcomeDuplicate
			return nil
		}
		if change.Ignored {
			result.Outcome = domain.OutcomeIgnored
			return nil
		}

		orgRepo := s.orgRepo.WithTx(tx)
		org, err := orgRepo.GetOrganization(ctx, *change.OrgID)
		if errors.Is(err, orgdomain.ErrOrganizationNotFound) {
			result.Outcome = domain.OutcomeUnknownOrg
			return nil
		}
		if err != nil {
			return err
		}
		previous = org.SubscriptionStatus

		if err := orgRepo.UpdateSubscriptionStatus(ctx, org.ID, change.Status, now); err != nil {
			return err
		}
		if err := s.mirror(ctx, repo, change, now); err != nil {
			return err
		}
		result.Outcome = domain.OutcomeApplied
		return nil
	})
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, domain.ProviderStripe, change.EventType, "failed")
		log.Error("stripe webhook processing failed", zap.Error(err))
		return nil, err
	}

	s.metrics.RecordWebhookEvent(ctx, domain.ProviderStripe, change.EventType, result.Outcome)
	switch result.Outcome {
	case domain.OutcomeApplied:
		log.Info("subscription status updated",
			zap.String("org_id", change.OrgID.String()),
			zap.String("from", previous),
			zap.String("to", change.Status),
		)
		s.audit(ctx, change, previous)
	case domain.OutcomeUnknownOrg:
		log.Warn("stripe webhook references unknown organization", zap.String("org_id", change.OrgID.String()))
	default:
		log.Debug("stripe webhook acknowledged", zap.String("outcome", result.Outcome))
	}
	return result, nil
}

// mirror keeps the processor ids already known when an event omits them.
func (s *service) mirror(ctx context.Context, repo domain.Repository, change *domain.StatusChange, now time.Time) error {
	sub := &domain.Subscription{
		OrgID:                  *change.OrgID,
		Provider:               change.Provider,
		ProviderCustomerID:     change.ProviderCustomerID,
		ProviderSubscriptionID: change.ProviderSubscriptionID,
		Status:                 change.Status,
		UpdatedAt:              now,
	}
	existing, err := repo.GetSubscription(ctx, sub.OrgID)
	switch {
	case err == nil:
		if sub.ProviderCustomerID == "" {
			sub.ProviderCustomerID = existing.ProviderCustomerID
		}
		if sub.ProviderSubscriptionID == "" {
			sub.ProviderSubscriptionID = existing.ProviderSubscriptionID
		}
	case !errors.Is(err, domain.ErrSubscriptionNotFound):
		return err
	}
	return repo.UpsertSubscription(ctx, sub)
}

func (s *service) audit(ctx context.Context, change *domain.StatusChange, previous string) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      change.OrgID,
		Action:     "billing.status_changed",
		TargetType: "organization",
		TargetID:   change.OrgID.String(),
		Metadata: map[string]any{
			"provider":        change.Provider,
			"event_id":        change.ProviderEventID,
			"event_type":      change.EventType,
			"from":            previous,
			"to":              change.Status,
			"provider_status": change.ProviderStatus,
		},
	}); err != nil {
		s.log.Warn("failed to audit subscription change", zap.Error(err))
	}
}
