package db

import (
	"context"
	"fmt"
	"strings"

	obslogger "github.com/smallbiznis/fieldops/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(FromAppConfig),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	Log       *zap.Logger
}

// New opens the primary database, applies pool limits and installs the
// tracing and pool-metrics plugins.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Config)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewGormLogger(obslogger.DefaultGormLoggerConfig()),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", p.Config.Type, err)
	}

	if err := conn.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(p.Config.Name),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return nil, fmt.Errorf("install otelgorm: %w", err)
	}

	if strings.EqualFold(p.Config.Type, TypePostgres) || strings.TrimSpace(p.Config.Type) == "" {
		if err := conn.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          p.Config.Name,
			RefreshInterval: 15,
			StartServer:     false,
		})); err != nil {
			return nil, fmt.Errorf("install gorm prometheus: %w", err)
		}
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if p.Config.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(p.Config.MaxIdleConn)
	}
	if p.Config.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(p.Config.MaxOpenConn)
	}
	if p.Config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.Config.ConnMaxLifetime)
	}
	if p.Config.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(p.Config.ConnMaxIdleTime)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		},
		OnStop: func(context.Context) error {
			p.Log.Info("closing database")
			return sqlDB.Close()
		},
	})

	return conn, nil
}
