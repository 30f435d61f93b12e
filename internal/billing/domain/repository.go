package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// InsertEvent stores event unless the provider already delivered it and
	// reports whether a row was written.
	InsertEvent(ctx context.Context, event *Event) (bool, error)
	UpsertSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, orgID snowflake.ID) (*Subscription, error)
}
