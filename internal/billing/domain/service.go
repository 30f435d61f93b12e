package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

const (
	OutcomeApplied    = "applied"
	OutcomeDuplicate  = "duplicate"
	OutcomeIgnored    = "ignored"
	OutcomeUnknownOrg = "unknown_org"
)

type Service interface {
	HandleStripeWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookResult, error)
}

type WebhookResult struct {
	EventID   string
	EventType string
	OrgID     *snowflake.ID
	Status    string
	Outcome   string
}

var (
	ErrNotConfigured        = errors.New("webhook_not_configured")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidEvent         = errors.New("invalid_event")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
)
