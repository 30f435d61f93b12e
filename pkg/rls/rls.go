package rls

import (
	"strconv"

	"gorm.io/gorm"
)

// WithTenant scopes the current postgres transaction to orgID so row-level
// security policies keyed on app.current_org_id apply. Other dialects have
// no equivalent and are left untouched.
func WithTenant(tx *gorm.DB, orgID int64) error {
	if tx == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT set_config('app.current_org_id', ?, true)", strconv.FormatInt(orgID, 10)).Error
}
