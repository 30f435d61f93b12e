package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/equipment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.Equipment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO equipment (id, org_id, customer_id, equipment_code, make, model, serial_number, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.OrgID,
		item.CustomerID,
		item.Code,
		item.Make,
		item.Model,
		item.SerialNumber,
		item.Notes,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Equipment, error) {
	var item domain.Equipment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, equipment_code, make, model, serial_number, notes, created_at, updated_at
		 FROM equipment WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, item *domain.Equipment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE equipment
		 SET customer_id = ?, equipment_code = ?, make = ?, model = ?, serial_number = ?, notes = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		item.CustomerID,
		item.Code,
		item.Make,
		item.Model,
		item.SerialNumber,
		item.Notes,
		item.UpdatedAt,
		item.OrgID,
		item.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM equipment WHERE org_id = ? AND id = ?`, orgID, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CountJobLinks(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Table("job_equipment").
		Where("org_id = ? AND equipment_id = ?", orgID, id).
		Count(&count).Error
	return count, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListFilter) ([]*domain.Equipment, error) {
	var items []*domain.Equipment
	stmt := db.WithContext(ctx).
		Model(&domain.Equipment{}).
		Where("org_id = ?", orgID)
	if filter.Pattern != "" {
		stmt = stmt.Where(
			"(LOWER(COALESCE(make, '')) LIKE ? ESCAPE '!' OR LOWER(COALESCE(model, '')) LIKE ? ESCAPE '!' OR LOWER(COALESCE(serial_number, '')) LIKE ? ESCAPE '!' OR LOWER(COALESCE(equipment_code, '')) LIKE ? ESCAPE '!')",
			filter.Pattern, filter.Pattern, filter.Pattern, filter.Pattern,
		)
	}
	if filter.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Order("id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
