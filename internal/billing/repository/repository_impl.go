package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/billing/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) InsertEvent(ctx context.Context, event *domain.Event) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) UpsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "org_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"provider",
				"provider_customer_id",
				"provider_subscription_id",
				"status",
				"updated_at",
			}),
		}).
		Create(sub).Error
}

func (r *repository) GetSubscription(ctx context.Context, orgID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := r.db.WithContext(ctx).Raw(
		`SELECT org_id, provider, provider_customer_id, provider_subscription_id, status, updated_at
		 FROM subscriptions
		 WHERE org_id = ?
		 LIMIT 1`,
		orgID,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.OrgID == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}
	return &sub, nil
}
