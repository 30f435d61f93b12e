package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ProviderStripe = "stripe"

// Subscription mirrors the payment processor's view of an organization.
type Subscription struct {
	OrgID                  snowflake.ID `gorm:"primaryKey" json:"org_id"`
	Provider               string       `gorm:"type:text;not null" json:"provider"`
	ProviderCustomerID     string       `gorm:"column:provider_customer_id;type:text" json:"provider_customer_id"`
	ProviderSubscriptionID string       `gorm:"column:provider_subscription_id;type:text" json:"provider_subscription_id"`
	Status                 string       `gorm:"type:text;not null" json:"status"`
	UpdatedAt              time.Time    `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Event is one received webhook delivery, kept for idempotency.
type Event struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_billing_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"column:provider_event_id;type:text;not null;uniqueIndex:ux_billing_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string         `gorm:"column:event_type;type:text;not null" json:"event_type"`
	OrgID           *snowflake.ID  `gorm:"index" json:"org_id,omitempty"`
	Payload         datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

func (Event) TableName() string { return "billing_events" }

// StatusChange is a verified processor event reduced to what the
// organization's subscription_status needs.
type StatusChange struct {
	Provider               string
	ProviderEventID        string
	EventType              string
	OrgID                  *snowflake.ID
	Status                 string
	ProviderStatus         string
	ProviderCustomerID     string
	ProviderSubscriptionID string
	// Ignored is set for event types that do not affect the subscription.
	Ignored bool
}
