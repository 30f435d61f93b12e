package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	// StartSession opens a session for an already verified user, e.g. right after signup.
	StartSession(ctx context.Context, user *User, meta SessionMeta) (*LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	// ResolveExternalUser finds or creates the user behind a verified bearer token.
	ResolveExternalUser(ctx context.Context, claims ExternalClaims) (*User, error)
}

type CreateUserRequest struct {
	Email       string
	Password    string
	DisplayName string
}

type SessionMeta struct {
	UserAgent string
	IPAddress string
}

type LoginRequest struct {
	Email    string
	Password string
	SessionMeta
}

type LoginResult struct {
	User      *User
	RawToken  string
	ExpiresAt time.Time
	SessionID snowflake.ID
}

// ExternalClaims are the verified claims of a bearer token.
type ExternalClaims struct {
	Subject string
	Email   string
	Name    string
}
