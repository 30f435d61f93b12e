package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	auditrepo "github.com/smallbiznis/fieldops/internal/audit/repository"
	auditservice "github.com/smallbiznis/fieldops/internal/audit/service"
	"github.com/smallbiznis/fieldops/internal/billing/domain"
	"github.com/smallbiznis/fieldops/internal/billing/repository"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	orgrepo "github.com/smallbiznis/fieldops/internal/organization/repository"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "whsec_fieldops"

type testEnv struct {
	db      *gorm.DB
	clock   *clock.FakeClock
	orgRepo orgdomain.Repository
	repo    domain.Repository
	svc     domain.Service
	orgID   snowflake.ID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&orgdomain.Organization{},
		&domain.Subscription{},
		&domain.Event{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
	orgRepo := orgrepo.NewRepository(conn)
	repo := repository.NewRepository(conn)

	orgID := node.Generate()
	require.NoError(t, orgRepo.CreateOrganization(context.Background(), &orgdomain.Organization{
		ID:        orgID,
		Name:      "Acme",
		Slug:      "acme",
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}))

	cfg := config.Config{Stripe: config.StripeConfig{WebhookSecret: testSecret, WebhookTolerance: 5 * time.Minute}}
	svc := NewService(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Config:  cfg,
		Repo:    repo,
		OrgRepo: orgRepo,
		GenID:   node,
		Clock:   clk,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: clk,
		}),
	})
	return &testEnv{db: conn, clock: clk, orgRepo: orgRepo, repo: repo, svc: svc, orgID: orgID}
}

func (e *testEnv) signed(payload []byte) http.Header {
	ts := e.clock.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testSecret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	headers := http.Header{}
	headers.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return headers
}

func (e *testEnv) status(t *testing.T) string {
	t.Helper()
	org, err := e.orgRepo.GetOrganization(context.Background(), e.orgID)
	require.NoError(t, err)
	return org.SubscriptionStatus
}

func subscriptionEvent(eventID, eventType, status string, orgID snowflake.ID) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":%q,"data":{"object":{"id":"sub_123","customer":"cus_123","status":%q,"metadata":{"org_id":%q}}}}`,
		eventID, eventType, status, orgID.String(),
	))
}

func TestWebhookLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assert.Equal(t, orgdomain.SubscriptionTrialing, env.status(t))

	checkout := []byte(fmt.Sprintf(
		`{"id":"evt_checkout","type":"checkout.session.completed","data":{"object":{"id":"cs_1","customer":"cus_123","subscription":"sub_123","metadata":{"org_id":%q}}}}`,
		env.orgID.String(),
	))
	result, err := env.svc.HandleStripeWebhook(ctx, checkout, env.signed(checkout))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, result.Outcome)
	assert.Equal(t, orgdomain.SubscriptionActive, env.status(t))

	sub, err := env.repo.GetSubscription(ctx, env.orgID)
	require.NoError(t, err)
	assert.Equal(t, "cus_123", sub.ProviderCustomerID)
	assert.Equal(t, "sub_123", sub.ProviderSubscriptionID)

	pastDue := subscriptionEvent("evt_past_due", "customer.subscription.updated", "past_due", env.orgID)
	_, err = env.svc.HandleStripeWebhook(ctx, pastDue, env.signed(pastDue))
	require.NoError(t, err)
	assert.Equal(t, orgdomain.SubscriptionPastDue, env.status(t))

	deleted := subscriptionEvent("evt_deleted", "customer.subscription.deleted", "canceled", env.orgID)
	_, err = env.svc.HandleStripeWebhook(ctx, deleted, env.signed(deleted))
	require.NoError(t, err)
	assert.Equal(t, orgdomain.SubscriptionCanceled, env.status(t))

	sub, err = env.repo.GetSubscription(ctx, env.orgID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.SubscriptionCanceled, sub.Status)

	var audits int64
	require.NoError(t, env.db.Model(&auditdomain.AuditLog{}).Where("action = ?", "billing.status_changed").Count(&audits).Error)
	assert.Equal(t, int64(3), audits)
}

func TestWebhookDuplicateDeliveryIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	active := subscriptionEvent("evt_once", "customer.subscription.updated", "active", env.orgID)
	first, err := env.svc.HandleStripeWebhook(ctx, active, env.signed(active))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, first.Outcome)

	// A later event moves the status on; replaying the first must not undo it.
	canceled := subscriptionEvent("evt_cancel", "customer.subscription.deleted", "canceled", env.orgID)
	_, err = env.svc.HandleStripeWebhook(ctx, canceled, env.signed(canceled))
	require.NoError(t, err)

	replay, err := env.svc.HandleStripeWebhook(ctx, active, env.signed(active))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, replay.Outcome)
	assert.Equal(t, orgdomain.SubscriptionCanceled, env.status(t))

	var events int64
	require.NoError(t, env.db.Model(&domain.Event{}).Count(&events).Error)
	assert.Equal(t, int64(2), events)
}

func TestWebhookIgnoredEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload []byte
		outcome string
	}{
		{"other type", []byte(`{"id":"evt_invoice","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`), domain.OutcomeIgnored},
		{"no org id", []byte(`{"id":"evt_no_org","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","status":"active"}}}`), domain.OutcomeIgnored},
		{"unknown org", subscriptionEvent("evt_unknown", "customer.subscription.updated", "active", snowflake.ID(99)), domain.OutcomeUnknownOrg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.svc.HandleStripeWebhook(ctx, tt.payload, env.signed(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.outcome, result.Outcome)
		})
	}
	assert.Equal(t, orgdomain.SubscriptionTrialing, env.status(t))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payload := subscriptionEvent("evt_forged", "customer.subscription.updated", "active", env.orgID)

	headers := http.Header{}
	headers.Set("Stripe-Signature", "t=1,v1=deadbeef")
	_, err := env.svc.HandleStripeWebhook(ctx, payload, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	stale := env.signed(payload)
	env.clock.Advance(10 * time.Minute)
	_, err = env.svc.HandleStripeWebhook(ctx, payload, stale)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	assert.Equal(t, orgdomain.SubscriptionTrialing, env.status(t))
	var events int64
	require.NoError(t, env.db.Model(&domain.Event{}).Count(&events).Error)
	assert.Zero(t, events)
}
