package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	auditrepo "github.com/smallbiznis/fieldops/internal/audit/repository"
	auditservice "github.com/smallbiznis/fieldops/internal/audit/service"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/auth/identity"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/customer/domain"
	"github.com/smallbiznis/fieldops/internal/customer/repository"
	"github.com/smallbiznis/fieldops/internal/orgcontext"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/tenant"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  domain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&orgdomain.OrganizationMember{},
		&domain.Customer{},
		&auditdomain.AuditLog{},
	))

	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Authz: authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer}),
		Clock: clk,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: clk,
		}),
	})
	return &testEnv{db: conn, node: node, svc: svc}
}

// member returns a request context for a new user holding role in orgID.
func (e *testEnv) member(t *testing.T, orgID snowflake.ID, role string) context.Context {
	t.Helper()
	userID := e.node.Generate()
	require.NoError(t, e.db.Create(&orgdomain.OrganizationMember{
		ID:        e.node.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}).Error)
	ctx := identity.WithIdentity(context.Background(), &authdomain.Identity{UserID: userID})
	return orgcontext.WithOrgID(ctx, orgID)
}

func strPtr(v string) *string { return &v }

func TestCreateAndGetCustomer(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	ctx := env.member(t, orgID, orgdomain.RoleMember)

	created, err := env.svc.Create(ctx, domain.CreateCustomerRequest{
		Name:    "  Harbor Dental ",
		Email:   "frontdesk@harbor.example",
		Phone:   "+1 (555) 010-2020",
		Address: "12 Pier Rd",
	})
	require.NoError(t, err)
	assert.Equal(t, "Harbor Dental", created.Name)
	require.NotNil(t, created.Email)
	assert.Equal(t, "frontdesk@harbor.example", *created.Email)
	assert.Equal(t, orgID, created.OrgID)

	got, err := env.svc.GetByID(ctx, created.ID.String())
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	require.NotNil(t, got.Address)
	assert.Equal(t, "12 Pier Rd", *got.Address)

	var audits int64
	require.NoError(t, env.db.Model(&auditdomain.AuditLog{}).Where("action = ?", "customer.created").Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestCreateCustomerValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.member(t, env.node.Generate(), orgdomain.RoleAdmin)

	tests := []struct {
		name    string
		req     domain.CreateCustomerRequest
		wantErr error
	}{
		{"blank name", domain.CreateCustomerRequest{Name: "   "}, domain.ErrInvalidName},
		{"bad email", domain.CreateCustomerRequest{Name: "A", Email: "nope"}, domain.ErrInvalidEmail},
		{"bad phone", domain.CreateCustomerRequest{Name: "A", Phone: "call me"}, domain.ErrInvalidPhone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCustomersAreIsolatedByOrganization(t *testing.T) {
	env := newTestEnv(t)
	orgA := env.node.Generate()
	orgB := env.node.Generate()
	ctxA := env.member(t, orgA, orgdomain.RoleOwner)
	ctxB := env.member(t, orgB, orgdomain.RoleOwner)

	customer, err := env.svc.Create(ctxA, domain.CreateCustomerRequest{Name: "Only in A"})
	require.NoError(t, err)

	_, err = env.svc.GetByID(ctxB, customer.ID.String())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.svc.Update(ctxB, customer.ID.String(), domain.UpdateCustomerRequest{Name: strPtr("Hijacked")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := env.svc.List(ctxB, domain.ListCustomerRequest{})
	require.NoError(t, err)
	assert.Empty(t, list.Customers)

	// A user of org B pointing the request at org A is not a member there.
	crossed := orgcontext.WithOrgID(ctxB, orgA)
	_, err = env.svc.List(crossed, domain.ListCustomerRequest{})
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestListCustomersSearchAndPaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.member(t, env.node.Generate(), orgdomain.RoleMember)

	for _, name := range []string{"Northside Bakery", "North Star Gym", "Lakeside Cafe", "100% Juice Bar"} {
		_, err := env.svc.Create(ctx, domain.CreateCustomerRequest{Name: name})
		require.NoError(t, err)
	}

	found, err := env.svc.List(ctx, domain.ListCustomerRequest{Query: "NORTH"})
	require.NoError(t, err)
	require.Len(t, found.Customers, 2)
	assert.Equal(t, "North Star Gym", found.Customers[0].Name)

	literal, err := env.svc.List(ctx, domain.ListCustomerRequest{Query: "100%"})
	require.NoError(t, err)
	require.Len(t, literal.Customers, 1)

	first, err := env.svc.List(ctx, domain.ListCustomerRequest{Page: pagination.Page{Limit: 3}})
	require.NoError(t, err)
	assert.Len(t, first.Customers, 3)
	assert.True(t, first.HasMore)

	second, err := env.svc.List(ctx, domain.ListCustomerRequest{Page: pagination.Page{Limit: 3, PageToken: first.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, second.Customers, 1)
	assert.Equal(t, "Northside Bakery", second.Customers[0].Name)
	assert.False(t, second.HasMore)
}

func TestUpdateCustomer(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.member(t, env.node.Generate(), orgdomain.RoleMember)

	created, err := env.svc.Create(ctx, domain.CreateCustomerRequest{Name: "Old Name", Phone: "555-0100"})
	require.NoError(t, err)

	updated, err := env.svc.Update(ctx, created.ID.String(), domain.UpdateCustomerRequest{
		Name:  strPtr("New Name"),
		Phone: strPtr(""),
		Email: strPtr("ops@new.example"),
	})
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.Name)
	assert.Nil(t, updated.Phone)
	require.NotNil(t, updated.Email)

	_, err = env.svc.Update(ctx, "abc", domain.UpdateCustomerRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestCustomerRequiresScope(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.List(context.Background(), domain.ListCustomerRequest{})
	assert.ErrorIs(t, err, tenant.ErrUnauthenticated)

	ctx := identity.WithIdentity(context.Background(), &authdomain.Identity{UserID: env.node.Generate()})
	_, err = env.svc.List(ctx, domain.ListCustomerRequest{})
	assert.ErrorIs(t, err, tenant.ErrNoActiveOrganization)
}
