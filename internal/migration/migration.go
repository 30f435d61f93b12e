package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	billingdomain "github.com/smallbiznis/fieldops/internal/billing/domain"
	customerdomain "github.com/smallbiznis/fieldops/internal/customer/domain"
	equipmentdomain "github.com/smallbiznis/fieldops/internal/equipment/domain"
	invitationdomain "github.com/smallbiznis/fieldops/internal/invitation/domain"
	jobdomain "github.com/smallbiznis/fieldops/internal/job/domain"
	organizationdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"gorm.io/gorm"
)

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&authdomain.User{},
		&authdomain.Session{},
		&organizationdomain.Organization{},
		&organizationdomain.OrganizationMember{},
		&organizationdomain.Profile{},
		&organizationdomain.ProvisioningClaim{},
		&invitationdomain.Invite{},
		&auditdomain.AuditLog{},
		&billingdomain.Subscription{},
		&billingdomain.Event{},
		&customerdomain.Customer{},
		&equipmentdomain.Equipment{},
		&jobdomain.Job{},
		&jobdomain.JobNote{},
		&jobdomain.JobEquipment{},
	}
}

// Run brings the schema up to date. Postgres gets the versioned SQL
// migrations including row-level security; mysql and sqlite are
// auto-migrated from the models.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Closing the migrator would close the shared *sql.DB.

	return nil
}
