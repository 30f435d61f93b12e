// Package domain contains the user, session and identity types shared by the
// auth collaborator and everything that needs to know who is calling.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	ProviderLocal = "local"
	ProviderJWT   = "jwt"
)

// User is an account. Local users carry a password hash; users that arrive
// through a bearer token carry the token subject in ExternalID.
type User struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Email        string       `gorm:"type:text;not null;uniqueIndex"`
	DisplayName  string       `gorm:"column:display_name;type:text;not null;default:''"`
	PasswordHash *string      `gorm:"column:password_hash;type:text"`
	Provider     string       `gorm:"type:text;not null;default:'local'"`
	ExternalID   *string      `gorm:"column:external_id;type:text;uniqueIndex"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

func (User) TableName() string { return "users" }

type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:text;not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null"`
}

func (Session) TableName() string { return "sessions" }

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID      snowflake.ID
	Email       string
	DisplayName string
	Provider    string
	SessionID   snowflake.ID
}

func IdentityFromUser(u *User) *Identity {
	if u == nil {
		return nil
	}
	return &Identity{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Provider:    u.Provider,
	}
}
