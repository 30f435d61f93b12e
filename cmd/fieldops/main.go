package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/audit"
	"github.com/smallbiznis/fieldops/internal/auth"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/billing"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/smallbiznis/fieldops/internal/customer"
	"github.com/smallbiznis/fieldops/internal/equipment"
	"github.com/smallbiznis/fieldops/internal/invitation"
	"github.com/smallbiznis/fieldops/internal/job"
	"github.com/smallbiznis/fieldops/internal/lock"
	"github.com/smallbiznis/fieldops/internal/migration"
	"github.com/smallbiznis/fieldops/internal/observability"
	"github.com/smallbiznis/fieldops/internal/organization"
	"github.com/smallbiznis/fieldops/internal/providers"
	"github.com/smallbiznis/fieldops/internal/provisioning"
	"github.com/smallbiznis/fieldops/internal/ratelimit"
	"github.com/smallbiznis/fieldops/internal/server"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("FIELDOPS")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "fieldops",
		Short:         "Multi-tenant field service backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(v)
		},
	}
	root.PersistentFlags().Int64("node-id", 1, "snowflake node id, unique per running instance")
	_ = v.BindPFlag("node_id", root.PersistentFlags().Lookup("node-id"))

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(v)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context())
		},
	})
	return root
}

func serve(v *viper.Viper) error {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(snowflakeNode(v.GetInt64("node_id"))),
		db.Module,
		clock.Module,
		lock.Module,
		ratelimit.Module,
		providers.Module,
		migration.Module,

		// Functional Domains
		authorization.Module,
		audit.Module,
		auth.Module,
		organization.Module,
		provisioning.Module,
		invitation.Module,
		billing.Module,
		customer.Module,
		equipment.Module,
		job.Module,

		server.Module,
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func migrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
			if err := migration.Run(conn); err != nil {
				return err
			}
			log.Info("schema up to date", zap.String("dialect", conn.Dialector.Name()))
			return nil
		}),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	return app.Stop(ctx)
}

func snowflakeNode(nodeID int64) func() (*snowflake.Node, error) {
	return func() (*snowflake.Node, error) {
		return snowflake.NewNode(nodeID)
	}
}
