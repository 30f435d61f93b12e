package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Pattern    string
	CustomerID *snowflake.ID
	BeforeID   snowflake.ID
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *Equipment) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Equipment, error)
	Update(ctx context.Context, db *gorm.DB, item *Equipment) error
	// Delete reports false when no row of orgID matched.
	Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error)
	CountJobLinks(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (int64, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter) ([]*Equipment, error)
}
