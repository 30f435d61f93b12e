package email

import (
	"github.com/smallbiznis/fieldops/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns the SMTP provider, or a no-op provider that only logs
// when SMTP_HOST is unset.
func NewFromConfig(cfg config.Config, log *zap.Logger) Provider {
	if cfg.Email.SMTPHost == "" {
		log.Named("providers.email").Warn("SMTP_HOST not set, emails will be logged and dropped")
		return NewNoOp(log)
	}
	return NewSMTP(Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}
