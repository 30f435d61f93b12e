package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	auditrepo "github.com/smallbiznis/fieldops/internal/audit/repository"
	auditservice "github.com/smallbiznis/fieldops/internal/audit/service"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/smallbiznis/fieldops/internal/invitation/domain"
	"github.com/smallbiznis/fieldops/internal/invitation/repository"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	orgrepo "github.com/smallbiznis/fieldops/internal/organization/repository"
	orgservice "github.com/smallbiznis/fieldops/internal/organization/service"
	"github.com/smallbiznis/fieldops/internal/providers/email"
	"github.com/smallbiznis/fieldops/internal/provisioning"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockEmail struct {
	mock.Mock
}

func (m *mockEmail) Send(ctx context.Context, msg email.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockEmail) SendTemplate(ctx context.Context, to []string, subject string, templateName string, data any) error {
	return m.Called(ctx, to, subject, templateName, data).Error(0)
}

type testEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	orgRepo orgdomain.Repository
	email   *mockEmail
	svc     domain.Service
}

func newTestEnv(t *testing.T, policy config.TenancyPolicy) *testEnv {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&authdomain.User{},
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&orgdomain.Profile{},
		&domain.Invite{},
		&auditdomain.AuditLog{},
	))

	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	orgRepo := orgrepo.NewRepository(conn)
	mailer := &mockEmail{}

	svc := NewService(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Config:  config.Config{PublicURL: "https://app.example.com/"},
		Policy:  config.NewStaticTenancyPolicyHolder(policy),
		Repo:    repository.NewRepository(conn),
		OrgRepo: orgRepo,
		Authz:   authorization.NewService(authorization.Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer}),
		Email:   mailer,
		GenID:   node,
		Clock:   clk,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: clk,
		}),
	})

	return &testEnv{db: conn, node: node, clock: clk, orgRepo: orgRepo, email: mailer, svc: svc}
}

func (e *testEnv) createUser(t *testing.T, address string) *authdomain.Identity {
	t.Helper()
	now := e.clock.Now()
	user := authdomain.User{ID: e.node.Generate(), Email: address, Provider: authdomain.ProviderLocal, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, e.db.Create(&user).Error)
	return &authdomain.Identity{UserID: user.ID, Email: address}
}

func (e *testEnv) createOrg(t *testing.T, ownerID snowflake.ID, name string) snowflake.ID {
	t.Helper()
	var orgID snowflake.ID
	err := e.db.Transaction(func(tx *gorm.DB) error {
		org, err := orgservice.CreateOwnedOrganization(context.Background(), e.orgRepo.WithTx(tx), e.node, e.node.Generate(), ownerID, name, e.clock.Now())
		if err != nil {
			return err
		}
		orgID = org.ID
		return nil
	})
	require.NoError(t, err)
	return orgID
}

func (e *testEnv) addMember(t *testing.T, orgID, userID snowflake.ID, role string) {
	t.Helper()
	require.NoError(t, e.orgRepo.CreateMembership(context.Background(), &orgdomain.OrganizationMember{
		ID:        e.node.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Role:      role,
		CreatedAt: e.clock.Now(),
	}))
}

func (e *testEnv) expectEmail(to string) {
	e.email.On("SendTemplate", mock.Anything, []string{to}, mock.Anything, email.TemplateInviteMember, mock.Anything).Return(nil)
}

func TestSendAndAcceptInvite(t *testing.T) {
	env := newTestEnv(t, config.DefaultTenancyPolicy())
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com")
	orgID := env.createOrg(t, owner.UserID, "Acme Repairs")
	env.expectEmail("bob@example.com")

	sent, err := env.svc.SendInvite(ctx, domain.SendInviteRequest{
		InviterID: owner.UserID,
		OrgID:     orgID,
		Email:     " Bob@Example.com ",
		Role:      "member",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.Token)
	assert.Equal(t, "https://app.example.com/invite/"+sent.Token, sent.InviteURL)
	require.NotNil(t, sent.ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(7*24*time.Hour), *sent.ExpiresAt)
	assert.False(t, sent.Rotated)
	env.email.AssertExpectations(t)

	var stored domain.Invite
	require.NoError(t, env.db.First(&stored, "id = ?", sent.InviteID).Error)
	assert.NotEqual(t, sent.Token, stored.TokenHash)
	assert.Equal(t, "bob@example.com", stored.Email)

	preview, err := env.svc.Preview(ctx, sent.Token)
	require.NoError(t, err)
	assert.Equal(t, "Acme Repairs", preview.OrgName)
	assert.Equal(t, orgID.String(), preview.OrgID)
	assert.Equal(t, "member", preview.Role)

	bob := env.createUser(t, "bob@example.com")
	accepted, err := env.svc.AcceptInvite(ctx, bob, sent.Token)
	require.NoError(t, err)
	assert.Equal(t, orgID, accepted.OrgID)
	assert.Equal(t, orgdomain.RoleMember, accepted.Role)
	assert.False(t, accepted.Replayed)

	member, err := env.orgRepo.FindMembership(ctx, bob.UserID, orgID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.RoleMember, member.Role)

	profile, err := env.orgRepo.GetProfile(ctx, bob.UserID)
	require.NoError(t, err)
	require.NotNil(t, profile.ActiveOrgID)
	assert.Equal(t, orgID, *profile.ActiveOrgID)

	require.NoError(t, env.db.First(&stored, "id = ?", sent.InviteID).Error)
	assert.Equal(t, domain.StatusAccepted, stored.Status)
	require.NotNil(t, stored.ConsumedBy)
	assert.Equal(t, bob.UserID, *stored.ConsumedBy)

	var logs int64
	require.NoError(t, env.db.Model(&auditdomain.AuditLog{}).Where("action = ?", "invite.accepted").Count(&logs).Error)
	assert.Equal(t, int64(1), logs)
}

func TestAcceptInviteReplay(t *testing.T) {
	env := newTestEnv(t, config.DefaultTenancyPolicy())
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com")
	orgID := env.createOrg(t, owner.UserID, "Acme")
	env.expectEmail("carol@example.com")

	sent, err := env.svc.SendInvite(ctx, domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "carol@example.com", Role: "admin"})
	require.NoError(t, err)

	carol := env.createUser(t, "carol@example.com")
	_, err = env.svc.AcceptInvite(ctx, carol, sent.Token)
	require.NoError(t, err)

	again, err := env.svc.AcceptInvite(ctx, carol, sent.Token)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, orgdomain.RoleAdmin, again.Role)

	var members int64
	require.NoError(t, env.db.Model(&orgdomain.OrganizationMember{}).Where("org_id = ?", orgID).Count(&members).Error)
	assert.Equal(t, int64(2), members)

	mallory := env.createUser(t, "mallory@example.com")
	_, err = env.svc.AcceptInvite(ctx, mallory, sent.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	_, err = env.svc.Preview(ctx, sent.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)
}

func TestAcceptInviteReplaySwitchesBack(t *testing.T) {
	env := newTestEnv(t, config.DefaultTenancyPolicy())
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com")
	orgID := env.createOrg(t, owner.UserID, "Acme")
	env.expectEmail("dave@example.com")

	sent, err := env.svc.SendInvite(ctx, domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "dave@example.com", Role: "member"})
	require.NoError(t, err)

	dave := env.createUser(t, "dave@example.com")
	_, err = env.svc.AcceptInvite(ctx, dave, sent.Token)
	require.NoError(t, err)

	own := env.createOrg(t, dave.UserID, "Dave's Shop")
	require.NoError(t, env.orgRepo.UpsertActiveOrg(ctx, dave.UserID, own, env.clock.Now()))

	again, err := env.svc.AcceptInvite(ctx, dave, sent.Token)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	profile, err := env.orgRepo.GetProfile(ctx, dave.UserID)
	require.NoError(t, err)
	require.NotNil(t, profile.ActiveOrgID)
	assert.Equal(t, orgID, *profile.ActiveOrgID)
}

func TestSendInviteRotatesPendingInvite(t *testing.T) {
	env := newTestEnv(t, config.DefaultTenancyPolicy())
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com")
	orgID := env.createOrg(t, owner.UserID, "Acme")
	env.expectEmail("dave@example.com")

	first, err := env.svc.SendInvite(ctx, domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "dave@example.com"})
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	second, err := env.svc.SendInvite(ctx, domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "DAVE@example.com"})
	require.NoError(t, err)
	assert.True(t, second.Rotated)
	assert.Equal(t, first.InviteID, second.InviteID)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = env.svc.Preview(ctx, first.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	pending, err := env.svc.ListPending(ctx, owner.UserID, orgID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "dave@example.com", pending[0].Email)
	assert.Equal(t, orgdomain.RoleMember, pending[0].Role)
}

func TestSendInviteRejects(t *testing.T) {
	env := newTestEnv(t, config.DefaultTenancyPolicy())
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com")
	orgID := env.createOrg(t, owner.UserID, "Acme")
	member := env.createUser(t, "member@example.com")
	env.addMember(t, orgID, member.UserID, orgdomain.RoleMember)
	outsider := env.createUser(t, "outsider@example.com")

	tests := []struct {
		name    string
		req     domain.SendInviteRequest
		wantErr error
	}{
		{"owner role", domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "x@example.com", Role: "owner"}, domain.ErrInvalidRole},
		{"unknown role", domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "x@example.com", Role: "superuser"}, domain.ErrInvalidRole},
		{"bad email", domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "not-an-email"}, domain.ErrInvalidEmail},
		{"plain member", domain.SendInviteRequest{InviterID: member.UserID, OrgID: orgID, Email: "x@example.com"}, authorization.ErrForbidden},
		{"outsider", domain.SendInviteRequest{InviterID: outsider.UserID, OrgID: orgID, Email: "x@example.com"}, orgdomain.ErrNotAMember},
		{"existing member", domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "Member@Example.com"}, domain.ErrAlreadyMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.SendInvite(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	env.email.AssertNotCalled(t, "SendTemplate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAcceptInviteRejectsInvalidTokens(t *testing.T) {
	env := newTestEnv(t, config.DefaultTenancyPolicy())
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com")
	orgID := env.createOrg(t, owner.UserID, "Acme")
	erin := env.createUser(t, "erin@example.com")
	env.expectEmail("erin@example.com")
	env.expectEmail("frank@example.com")

	_, err := env.svc.AcceptInvite(ctx, nil, "whatever")
	assert.ErrorIs(t, err, provisioning.ErrUnauthenticated)

	_, err = env.svc.AcceptInvite(ctx, erin, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	_, err = env.svc.AcceptInvite(ctx, erin, "unknown-token")
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	expiring, err := env.svc.SendInvite(ctx, domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "erin@example.com"})
	require.NoError(t, err)
	revoked, err := env.svc.SendInvite(ctx, domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "frank@example.com"})
	require.NoError(t, err)

	require.NoError(t, env.svc.Revoke(ctx, owner.UserID, orgID, revoked.InviteID))
	assert.ErrorIs(t, env.svc.Revoke(ctx, owner.UserID, orgID, revoked.InviteID), domain.ErrInviteNotFound)

	frank := env.createUser(t, "frank@example.com")
	_, err = env.svc.AcceptInvite(ctx, frank, revoked.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	env.clock.Advance(8 * 24 * time.Hour)
	_, err = env.svc.AcceptInvite(ctx, erin, expiring.Token)
	assert.ErrorIs(t, err, domain.ErrInvalidOrExpiredToken)

	_, err = env.orgRepo.FindMembership(ctx, erin.UserID, orgID)
	assert.ErrorIs(t, err, orgdomain.ErrMembershipNotFound)
}

func TestAcceptInviteEmailMismatch(t *testing.T) {
	strict := config.DefaultTenancyPolicy()
	strict.Invites.RequireEmailMatch = true

	tests := []struct {
		name    string
		policy  config.TenancyPolicy
		wantErr error
	}{
		{"lenient policy accepts", config.DefaultTenancyPolicy(), nil},
		{"strict policy rejects", strict, domain.ErrEmailMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.policy)
			ctx := context.Background()
			owner := env.createUser(t, "owner@example.com")
			orgID := env.createOrg(t, owner.UserID, "Acme")
			env.expectEmail("gina@example.com")

			sent, err := env.svc.SendInvite(ctx, domain.SendInviteRequest{InviterID: owner.UserID, OrgID: orgID, Email: "gina@example.com"})
			require.NoError(t, err)

			other := env.createUser(t, "gina.personal@example.com")
			_, err = env.svc.AcceptInvite(ctx, other, sent.Token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestListPendingRequiresManager(t *testing.T) {
	env := newTestEnv(t, config.DefaultTenancyPolicy())
	ctx := context.Background()
	owner := env.createUser(t, "owner@example.com")
	orgID := env.createOrg(t, owner.UserID, "Acme")
	member := env.createUser(t, "member@example.com")
	env.addMember(t, orgID, member.UserID, orgdomain.RoleMember)

	_, err := env.svc.ListPending(ctx, member.UserID, orgID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	pending, err := env.svc.ListPending(ctx, owner.UserID, orgID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewInviteToken(t *testing.T) {
	a, err := newInviteToken()
	require.NoError(t, err)
	b, err := newInviteToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
	assert.False(t, strings.ContainsAny(a, "+/="))
}
