package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&domain.Organization{},
		&domain.OrganizationMember{},
		&domain.Profile{},
		&domain.ProvisioningClaim{},
	))
	return NewRepository(conn)
}

func TestProfilePointer(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	userID := snowflake.ID(10)

	_, err := repo.GetProfile(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)

	profile, err := repo.EnsureProfile(ctx, userID, now)
	require.NoError(t, err)
	assert.Nil(t, profile.ActiveOrgID)

	_, err = repo.EnsureProfile(ctx, userID, now)
	require.NoError(t, err)

	require.NoError(t, repo.SetActiveOrgIfNull(ctx, userID, 100, now))
	require.NoError(t, repo.SetActiveOrgIfNull(ctx, userID, 200, now))
	profile, err = repo.GetProfile(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, profile.ActiveOrgID)
	assert.Equal(t, snowflake.ID(100), *profile.ActiveOrgID)

	require.NoError(t, repo.UpsertActiveOrg(ctx, userID, 300, now))
	profile, err = repo.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(300), *profile.ActiveOrgID)

	require.NoError(t, repo.UpsertActiveOrg(ctx, 11, 400, now))
	profile, err = repo.GetProfile(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(400), *profile.ActiveOrgID)
}

func TestMembershipUniqueness(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateMembership(ctx, &domain.OrganizationMember{ID: 1, OrgID: 5, UserID: 9, Role: domain.RoleOwner, CreatedAt: now}))
	err := repo.CreateMembership(ctx, &domain.OrganizationMember{ID: 2, OrgID: 5, UserID: 9, Role: domain.RoleMember, CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrMembershipExists)

	_, err = repo.FindMembership(ctx, 9, 6)
	assert.ErrorIs(t, err, domain.ErrMembershipNotFound)

	require.NoError(t, repo.CreateMembership(ctx, &domain.OrganizationMember{ID: 3, OrgID: 6, UserID: 9, Role: domain.RoleMember, CreatedAt: now.Add(time.Minute)}))
	first, err := repo.FirstMembership(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(5), first.OrgID)
}

func TestProvisioningClaimIsUnique(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.InsertProvisioningClaim(ctx, &domain.ProvisioningClaim{UserID: 1, OrgID: 10, CreatedAt: now}))
	err := repo.InsertProvisioningClaim(ctx, &domain.ProvisioningClaim{UserID: 1, OrgID: 11, CreatedAt: now})
	assert.ErrorIs(t, err, domain.ErrClaimExists)

	claim, err := repo.GetProvisioningClaim(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(10), claim.OrgID)

	_, err = repo.GetProvisioningClaim(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)
}

func TestSubscriptionStatusUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	org := &domain.Organization{ID: 77, Name: "Acme", Slug: "acme", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.CreateOrganization(ctx, org))

	exists, err := repo.SlugExists(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.UpdateSubscriptionStatus(ctx, 77, domain.SubscriptionActive, now))
	got, err := repo.GetOrganization(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionActive, got.SubscriptionStatus)

	assert.ErrorIs(t, repo.UpdateSubscriptionStatus(ctx, 78, domain.SubscriptionActive, now), domain.ErrOrganizationNotFound)
}
