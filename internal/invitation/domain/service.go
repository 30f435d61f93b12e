package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
)

type Service interface {
	SendInvite(ctx context.Context, req SendInviteRequest) (*SendInviteResult, error)
	Preview(ctx context.Context, token string) (*PreviewResponse, error)
	AcceptInvite(ctx context.Context, identity *authdomain.Identity, token string) (*AcceptResult, error)
	ListPending(ctx context.Context, actorID, orgID snowflake.ID) ([]InviteResponse, error)
	Revoke(ctx context.Context, actorID, orgID, inviteID snowflake.ID) error
}

type SendInviteRequest struct {
	InviterID   snowflake.ID
	InviterName string
	OrgID       snowflake.ID
	Email       string
	Role        string
}

type SendInviteResult struct {
	InviteID  snowflake.ID
	Token     string
	InviteURL string
	ExpiresAt *time.Time
	Rotated   bool
}

type PreviewResponse struct {
	OrgID     string     `json:"org_id"`
	OrgName   string     `json:"org_name"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type AcceptResult struct {
	OrgID snowflake.ID
	Role  string
	// Replayed is set when the same user presented an already consumed token.
	Replayed bool
}

type InviteResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

var (
	ErrInvalidOrExpiredToken = errors.New("invalid_or_expired_token")
	ErrInvalidEmail          = errors.New("invalid_email")
	ErrInvalidRole           = errors.New("invalid_role")
	ErrAlreadyMember         = errors.New("already_member")
	ErrEmailMismatch         = errors.New("email_mismatch")
	ErrInviteNotFound        = errors.New("invite_not_found")
)
