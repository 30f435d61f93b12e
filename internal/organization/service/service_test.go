package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/organization/repository"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db   *gorm.DB
	svc  domain.Service
	repo domain.Repository
	node *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&authdomain.User{},
		&domain.Organization{},
		&domain.OrganizationMember{},
		&domain.Profile{},
		&domain.ProvisioningClaim{},
	))

	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	repo := repository.NewRepository(conn)
	svc := NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Repo:  repo,
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)),
		Authz: authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer}),
	})
	return &testEnv{db: conn, svc: svc, repo: repo, node: node}
}

func (e *testEnv) createUser(t *testing.T, email string) snowflake.ID {
	t.Helper()
	now := time.Now().UTC()
	user := authdomain.User{ID: e.node.Generate(), Email: email, Provider: authdomain.ProviderLocal, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, e.db.Create(&user).Error)
	return user.ID
}

func (e *testEnv) addMember(t *testing.T, orgID, userID snowflake.ID, role string) {
	t.Helper()
	require.NoError(t, e.repo.CreateMembership(context.Background(), &domain.OrganizationMember{
		ID:        e.node.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestCreateMakesOwnerAndActivates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.createUser(t, "owner@example.com")

	org, err := env.svc.Create(ctx, userID, domain.CreateOrganizationRequest{Name: "  Acme Repairs "})
	require.NoError(t, err)
	assert.Equal(t, "Acme Repairs", org.Name)
	assert.Equal(t, "acme-repairs", org.Slug)
	assert.Equal(t, domain.RoleOwner, org.Role)
	assert.Equal(t, domain.SubscriptionTrialing, org.SubscriptionStatus)

	orgID, err := snowflake.ParseString(org.ID)
	require.NoError(t, err)

	profile, err := env.repo.GetProfile(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, profile.ActiveOrgID)
	assert.Equal(t, orgID, *profile.ActiveOrgID)

	var owners int64
	require.NoError(t, env.db.Model(&domain.OrganizationMember{}).Where("org_id = ? AND role = ?", orgID, domain.RoleOwner).Count(&owners).Error)
	assert.Equal(t, int64(1), owners)

	second, err := env.svc.Create(ctx, userID, domain.CreateOrganizationRequest{Name: "Acme Repairs"})
	require.NoError(t, err)
	assert.NotEqual(t, org.Slug, second.Slug)
	assert.Contains(t, second.Slug, "acme-repairs-")

	list, err := env.svc.ListForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.False(t, list[0].Active)
	assert.True(t, list[1].Active)
}

func TestCreateRejectsBlankName(t *testing.T) {
	env := newTestEnv(t)
	userID := env.createUser(t, "blank@example.com")

	_, err := env.svc.Create(context.Background(), userID, domain.CreateOrganizationRequest{Name: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestNonMemberCannotReadOrganization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "a@example.com")
	stranger := env.createUser(t, "b@example.com")

	org, err := env.svc.Create(ctx, owner, domain.CreateOrganizationRequest{Name: "Private"})
	require.NoError(t, err)
	orgID, _ := snowflake.ParseString(org.ID)

	_, err = env.svc.Get(ctx, stranger, orgID)
	assert.ErrorIs(t, err, domain.ErrNotAMember)

	_, err = env.svc.ListMembers(ctx, stranger, orgID)
	assert.ErrorIs(t, err, domain.ErrNotAMember)

	name := "Hijacked"
	_, err = env.svc.UpdateSettings(ctx, stranger, orgID, domain.UpdateSettingsRequest{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotAMember)
}

func TestUpdateSettingsRequiresManager(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com")
	tech := env.createUser(t, "tech@example.com")

	org, err := env.svc.Create(ctx, owner, domain.CreateOrganizationRequest{Name: "Shop"})
	require.NoError(t, err)
	orgID, _ := snowflake.ParseString(org.ID)
	env.addMember(t, orgID, tech, domain.RoleMember)

	name := "Tech Shop"
	_, err = env.svc.UpdateSettings(ctx, tech, orgID, domain.UpdateSettingsRequest{Name: &name})
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	logo := "https://cdn.example.com/logo.png"
	updated, err := env.svc.UpdateSettings(ctx, owner, orgID, domain.UpdateSettingsRequest{Name: &name, LogoURL: &logo})
	require.NoError(t, err)
	assert.Equal(t, "Tech Shop", updated.Name)
	require.NotNil(t, updated.LogoURL)
	assert.Equal(t, logo, *updated.LogoURL)

	bad := "javascript:alert(1)"
	_, err = env.svc.UpdateSettings(ctx, owner, orgID, domain.UpdateSettingsRequest{LogoURL: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidLogoURL)

	members, err := env.svc.ListMembers(ctx, tech, orgID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "owner@example.com", members[0].Email)
	assert.Equal(t, domain.RoleOwner, members[0].Role)
	assert.Equal(t, "tech@example.com", members[1].Email)
}

// staleSlugRepo answers SlugExists as a concurrent creator would have seen it
// just before the other insert landed.
type staleSlugRepo struct {
	domain.Repository
}

func (staleSlugRepo) SlugExists(context.Context, string) (bool, error) {
	return false, nil
}

func TestCreateOwnedOrganizationRetriesTakenSlug(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	name := "Info's Organization"
	first := env.createUser(t, "info@a.example")
	second := env.createUser(t, "info@b.example")

	taken, err := env.svc.Create(ctx, first, domain.CreateOrganizationRequest{Name: name})
	require.NoError(t, err)
	require.Equal(t, slug.Make(name), taken.Slug)

	orgID := env.node.Generate()
	var org *domain.Organization
	err = env.db.Transaction(func(tx *gorm.DB) error {
		var err error
		org, err = CreateOwnedOrganization(ctx, staleSlugRepo{env.repo.WithTx(tx)}, env.node, orgID, second, name, time.Now().UTC())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, slug.Make(name)+"-"+strings.ToLower(orgID.Base36()), org.Slug)

	member, err := env.repo.FindMembership(ctx, second, orgID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, member.Role)

	var count int64
	require.NoError(t, env.db.Model(&domain.Organization{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}
