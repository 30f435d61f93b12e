package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, org_id, name, email, phone, address, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.OrgID,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.Address,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET name = ?, email = ?, phone = ?, address = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.Address,
		customer.UpdatedAt,
		customer.OrgID,
		customer.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, name, email, phone, address, created_at, updated_at
		 FROM customers WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListFilter) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("org_id = ?", orgID)
	if filter.Pattern != "" {
		stmt = stmt.Where(
			"(LOWER(name) LIKE ? ESCAPE '!' OR LOWER(COALESCE(email, '')) LIKE ? ESCAPE '!' OR LOWER(COALESCE(phone, '')) LIKE ? ESCAPE '!')",
			filter.Pattern, filter.Pattern, filter.Pattern,
		)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	err := stmt.
		Order("id desc").
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}
