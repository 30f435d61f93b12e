package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	MaxNameLength    = 200
	MaxAddressLength = 500
)

type Customer struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Email     *string      `gorm:"type:text" json:"email,omitempty"`
	Phone     *string      `gorm:"type:text" json:"phone,omitempty"`
	Address   *string      `gorm:"type:text" json:"address,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }
