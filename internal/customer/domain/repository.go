package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	// Pattern is a prepared LIKE pattern, empty for no search.
	Pattern  string
	BeforeID snowflake.ID
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	Update(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter) ([]*Customer, error)
}
