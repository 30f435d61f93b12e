package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTenancyPolicyDefaultsWithoutFile(t *testing.T) {
	holder, err := NewTenancyPolicyHolder(Config{}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, "My Organization", policy.DefaultOrgName)
	assert.Equal(t, 7*24*time.Hour, policy.Invites.TTL)
	assert.True(t, policy.Invites.RoleAllowed("member"))
	assert.True(t, policy.Invites.RoleAllowed("ADMIN"))
	assert.False(t, policy.Invites.RoleAllowed("owner"))
	assert.False(t, policy.Invites.RequireEmailMatch)
}

func TestTenancyPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenancy.yml")
	content := []byte(`tenancy:
  defaultOrgName: "Workshop"
  invites:
    ttl: 48h
    allowedRoles: ["member"]
    requireEmailMatch: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewTenancyPolicyHolder(Config{TenancyPolicyPath: path}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, "Workshop", policy.DefaultOrgName)
	assert.Equal(t, 48*time.Hour, policy.Invites.TTL)
	assert.True(t, policy.Invites.RequireEmailMatch)
	assert.False(t, policy.Invites.RoleAllowed("admin"))
}

func TestTenancyPolicyRejectsOwnerInvites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenancy.yml")
	content := []byte(`tenancy:
  invites:
    allowedRoles: ["owner", "member"]
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	_, err := NewTenancyPolicyHolder(Config{TenancyPolicyPath: path}, zap.NewNop())
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("PROVISIONING_LOCK_WAIT", "not-a-duration")
	t.Setenv("REDIS_ADDR", " ")

	cfg := Load()
	assert.True(t, cfg.AuthCookieSecure)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 5*time.Second, cfg.Provisioning.LockWait)
	assert.Equal(t, 15*time.Second, cfg.Provisioning.LockTTL)
	assert.False(t, cfg.Redis.Enabled())
	assert.Equal(t, 5*time.Minute, cfg.Stripe.WebhookTolerance)
}
