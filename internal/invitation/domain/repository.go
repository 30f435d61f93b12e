package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invite *Invite) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*Invite, error)
	FindPendingByEmail(ctx context.Context, orgID snowflake.ID, email string) (*Invite, error)
	Rotate(ctx context.Context, invite *Invite) error
	// MarkConsumed flips a pending, unconsumed invite to accepted. It reports
	// false when another request consumed it first.
	MarkConsumed(ctx context.Context, inviteID, userID snowflake.ID, now time.Time) (bool, error)
	Revoke(ctx context.Context, orgID, inviteID snowflake.ID, now time.Time) (bool, error)
	ListPending(ctx context.Context, orgID snowflake.ID) ([]Invite, error)
	IsMemberByEmail(ctx context.Context, orgID snowflake.ID, email string) (bool, error)
}
