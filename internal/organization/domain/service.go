package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateOrganizationRequest) (*OrganizationResponse, error)
	ListForUser(ctx context.Context, userID snowflake.ID) ([]OrganizationListResponseItem, error)
	Get(ctx context.Context, userID, orgID snowflake.ID) (*OrganizationResponse, error)
	UpdateSettings(ctx context.Context, userID, orgID snowflake.ID, req UpdateSettingsRequest) (*OrganizationResponse, error)
	ListMembers(ctx context.Context, userID, orgID snowflake.ID) ([]MemberResponse, error)
}

type CreateOrganizationRequest struct {
	Name string `json:"name"`
}

type UpdateSettingsRequest struct {
	Name    *string `json:"name"`
	LogoURL *string `json:"logo_url"`
}

type OrganizationResponse struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	SubscriptionStatus string    `json:"subscription_status"`
	LogoURL            *string   `json:"logo_url,omitempty"`
	Role               string    `json:"role,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type OrganizationListResponseItem struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	Role               string    `json:"role"`
	SubscriptionStatus string    `json:"subscription_status"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
}

type MemberResponse struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
}

var (
	ErrInvalidName               = errors.New("invalid_name")
	ErrInvalidUser               = errors.New("invalid_user")
	ErrInvalidOrganization       = errors.New("invalid_organization")
	ErrInvalidLogoURL            = errors.New("invalid_logo_url")
	ErrInvalidSubscriptionStatus = errors.New("invalid_subscription_status")
	ErrNotAMember                = errors.New("not_a_member")
	ErrOrganizationNotFound      = errors.New("organization_not_found")
	ErrMembershipNotFound        = errors.New("membership_not_found")
	ErrMembershipExists          = errors.New("membership_exists")
	ErrProfileNotFound           = errors.New("profile_not_found")
	ErrClaimExists               = errors.New("provisioning_claim_exists")
	ErrClaimNotFound             = errors.New("provisioning_claim_not_found")
)
