package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// TenancyPolicy carries the operator-tunable rules for provisioning and invites.
type TenancyPolicy struct {
	DefaultOrgName string       `mapstructure:"defaultOrgName"`
	Invites        InvitePolicy `mapstructure:"invites"`
}

type InvitePolicy struct {
	TTL               time.Duration `mapstructure:"ttl"`
	AllowedRoles      []string      `mapstructure:"allowedRoles"`
	RequireEmailMatch bool          `mapstructure:"requireEmailMatch"`
}

func DefaultTenancyPolicy() TenancyPolicy {
	return TenancyPolicy{
		DefaultOrgName: "My Organization",
		Invites: InvitePolicy{
			TTL:               7 * 24 * time.Hour,
			AllowedRoles:      []string{"admin", "member"},
			RequireEmailMatch: false,
		},
	}
}

// RoleAllowed reports whether role may be granted through an invite.
func (p InvitePolicy) RoleAllowed(role string) bool {
	for _, allowed := range p.AllowedRoles {
		if strings.EqualFold(allowed, role) {
			return true
		}
	}
	return false
}

type TenancyPolicyHolder struct {
	current atomic.Value // holds TenancyPolicy
}

// NewStaticTenancyPolicyHolder returns a holder that never reloads.
func NewStaticTenancyPolicyHolder(policy TenancyPolicy) *TenancyPolicyHolder {
	holder := &TenancyPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewTenancyPolicyHolder(cfg Config, log *zap.Logger) (*TenancyPolicyHolder, error) {
	log = log.Named("config.tenancy")
	v := viper.New()

	if cfg.TenancyPolicyPath != "" {
		v.SetConfigFile(cfg.TenancyPolicyPath)
	} else {
		v.SetConfigName("tenancy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/fieldops")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FIELDOPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTenancyPolicy()
	v.SetDefault("tenancy.defaultOrgName", defaults.DefaultOrgName)
	v.SetDefault("tenancy.invites.ttl", defaults.Invites.TTL)
	v.SetDefault("tenancy.invites.allowedRoles", defaults.Invites.AllowedRoles)
	v.SetDefault("tenancy.invites.requireEmailMatch", defaults.Invites.RequireEmailMatch)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodeTenancyPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticTenancyPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeTenancyPolicy(v)
		if err != nil {
			log.Warn("tenancy policy reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("tenancy policy reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *TenancyPolicyHolder) Get() TenancyPolicy {
	return h.current.Load().(TenancyPolicy)
}

func decodeTenancyPolicy(v *viper.Viper) (TenancyPolicy, error) {
	var policy TenancyPolicy
	if err := v.UnmarshalKey("tenancy", &policy); err != nil {
		return TenancyPolicy{}, err
	}
	policy.DefaultOrgName = strings.TrimSpace(policy.DefaultOrgName)
	if err := validateTenancyPolicy(policy); err != nil {
		return TenancyPolicy{}, err
	}
	return policy, nil
}

func validateTenancyPolicy(policy TenancyPolicy) error {
	if policy.DefaultOrgName == "" {
		return errors.New("tenancy.defaultOrgName cannot be empty")
	}
	if policy.Invites.TTL < 0 {
		return errors.New("tenancy.invites.ttl cannot be negative")
	}
	if len(policy.Invites.AllowedRoles) == 0 {
		return errors.New("tenancy.invites.allowedRoles cannot be empty")
	}
	for _, role := range policy.Invites.AllowedRoles {
		if strings.EqualFold(strings.TrimSpace(role), "owner") {
			return errors.New("tenancy.invites.allowedRoles cannot include owner")
		}
	}
	return nil
}
