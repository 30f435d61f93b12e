package migration

import (
	"github.com/smallbiznis/fieldops/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates on startup unless DATABASE_AUTO_MIGRATE is off.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("schema migrations skipped")
			return nil
		}
		if err := Run(conn); err != nil {
			return err
		}
		log.Info("schema up to date", zap.String("dialect", conn.Dialector.Name()))
		return nil
	}),
)
