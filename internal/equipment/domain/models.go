package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const MaxFieldLength = 200

// Equipment is a serviced unit, optionally installed at a customer.
type Equipment struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID  `gorm:"not null;index" json:"org_id"`
	CustomerID   *snowflake.ID `gorm:"index" json:"customer_id,omitempty"`
	Code         *string       `gorm:"column:equipment_code;type:text" json:"equipment_code,omitempty"`
	Make         *string       `gorm:"type:text" json:"make,omitempty"`
	Model        *string       `gorm:"type:text" json:"model,omitempty"`
	SerialNumber *string       `gorm:"column:serial_number;type:text" json:"serial_number,omitempty"`
	Notes        *string       `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Equipment) TableName() string { return "equipment" }
