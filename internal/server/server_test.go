package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/auth/identity"
	"github.com/smallbiznis/fieldops/internal/auth/session"
	billingdomain "github.com/smallbiznis/fieldops/internal/billing/domain"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	customerdomain "github.com/smallbiznis/fieldops/internal/customer/domain"
	invitationdomain "github.com/smallbiznis/fieldops/internal/invitation/domain"
	"github.com/smallbiznis/fieldops/internal/orgcontext"
	organizationdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/provisioning"
	"github.com/smallbiznis/fieldops/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testUserID    = snowflake.ID(200)
	testSessionID = snowflake.ID(300)
	validToken    = "valid-session"
)

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) CreateUser(ctx context.Context, req authdomain.CreateUserRequest) (*authdomain.User, error) {
	args := m.Called(ctx, req)
	user, _ := args.Get(0).(*authdomain.User)
	return user, args.Error(1)
}

func (m *mockAuthService) Login(ctx context.Context, req authdomain.LoginRequest) (*authdomain.LoginResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*authdomain.LoginResult)
	return result, args.Error(1)
}

func (m *mockAuthService) StartSession(ctx context.Context, user *authdomain.User, meta authdomain.SessionMeta) (*authdomain.LoginResult, error) {
	args := m.Called(ctx, user, meta)
	result, _ := args.Get(0).(*authdomain.LoginResult)
	return result, args.Error(1)
}

func (m *mockAuthService) Logout(ctx context.Context, rawToken string) error {
	return m.Called(ctx, rawToken).Error(0)
}

// Authenticate and GetUser back the session cookie every request carries,
// so they answer without expectations.
func (m *mockAuthService) Authenticate(ctx context.Context, rawToken string) (*authdomain.Session, error) {
	if rawToken != validToken {
		return nil, authdomain.ErrSessionNotFound
	}
	return &authdomain.Session{ID: testSessionID, UserID: testUserID}, nil
}

func (m *mockAuthService) GetUser(ctx context.Context, id snowflake.ID) (*authdomain.User, error) {
	return testUser(), nil
}

func (m *mockAuthService) ResolveExternalUser(ctx context.Context, claims authdomain.ExternalClaims) (*authdomain.User, error) {
	args := m.Called(ctx, claims)
	user, _ := args.Get(0).(*authdomain.User)
	return user, args.Error(1)
}

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) EnsureOrganization(ctx context.Context, id *authdomain.Identity, requestedName string) (provisioning.Result, error) {
	args := m.Called(ctx, id, requestedName)
	return args.Get(0).(provisioning.Result), args.Error(1)
}

type mockSwitcher struct {
	mock.Mock
}

func (m *mockSwitcher) SwitchActiveOrg(ctx context.Context, userID, orgID snowflake.ID) error {
	return m.Called(ctx, userID, orgID).Error(0)
}

func (m *mockSwitcher) ActiveOrg(ctx context.Context, userID snowflake.ID) (snowflake.ID, bool, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(snowflake.ID), args.Bool(1), args.Error(2)
}

type mockInvitations struct {
	invitationdomain.Service
	mock.Mock
}

func (m *mockInvitations) AcceptInvite(ctx context.Context, id *authdomain.Identity, token string) (*invitationdomain.AcceptResult, error) {
	args := m.Called(ctx, id, token)
	result, _ := args.Get(0).(*invitationdomain.AcceptResult)
	return result, args.Error(1)
}

func (m *mockInvitations) SendInvite(ctx context.Context, req invitationdomain.SendInviteRequest) (*invitationdomain.SendInviteResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*invitationdomain.SendInviteResult)
	return result, args.Error(1)
}

type fakeOrgRepo struct {
	organizationdomain.Repository
	members map[snowflake.ID]string
}

func (f *fakeOrgRepo) FindMembership(ctx context.Context, userID, orgID snowflake.ID) (*organizationdomain.OrganizationMember, error) {
	role, ok := f.members[orgID]
	if !ok || userID != testUserID {
		return nil, organizationdomain.ErrMembershipNotFound
	}
	return &organizationdomain.OrganizationMember{OrgID: orgID, UserID: userID, Role: role}, nil
}

type fakeCustomers struct {
	customerdomain.Service
	lastOrgID snowflake.ID
	lastRole  string
}

func (f *fakeCustomers) List(ctx context.Context, req customerdomain.ListCustomerRequest) (customerdomain.ListCustomerResponse, error) {
	f.lastOrgID, _ = orgcontext.OrgIDFromContext(ctx)
	f.lastRole = orgcontext.RoleFromContext(ctx)
	return customerdomain.ListCustomerResponse{Customers: []customerdomain.Customer{}}, nil
}

type fakeBilling struct {
	err error
}

func (f *fakeBilling) HandleStripeWebhook(ctx context.Context, payload []byte, headers http.Header) (*billingdomain.WebhookResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &billingdomain.WebhookResult{EventID: "evt_1", Outcome: billingdomain.OutcomeApplied}, nil
}

type testServer struct {
	engine      *gin.Engine
	auth        *mockAuthService
	provisioner *mockProvisioner
	switcher    *mockSwitcher
	invites     *mockInvitations
	orgRepo     *fakeOrgRepo
	customers   *fakeCustomers
	billing     *fakeBilling
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{AuthJWTSecret: "test-secret", AuthJWTIssuer: "idp"}
	sessions := session.NewManager(cfg)
	ts := &testServer{
		engine:      gin.New(),
		auth:        &mockAuthService{},
		provisioner: &mockProvisioner{},
		switcher:    &mockSwitcher{},
		invites:     &mockInvitations{},
		orgRepo:     &fakeOrgRepo{members: map[snowflake.ID]string{}},
		customers:   &fakeCustomers{},
		billing:     &fakeBilling{},
	}
	ts.engine.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin:      ts.engine,
		Cfg:      cfg,
		Log:      zap.NewNop(),
		Authsvc:  ts.auth,
		Sessions: sessions,
		Resolver: identity.NewResolver(identity.ResolverParams{
			Log:      zap.NewNop(),
			Auth:     ts.auth,
			Sessions: sessions,
			Tokens:   identity.NewTokenVerifier(cfg),
		}),
		Provisioner:   ts.provisioner,
		Switcher:      ts.switcher,
		OrgRepo:       ts.orgRepo,
		InvitationSvc: ts.invites,
		CustomerSvc:   ts.customers,
		BillingSvc:    ts.billing,
		Limiter:       limiter,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func testUser() *authdomain.User {
	return &authdomain.User{ID: testUserID, Email: "ana@example.com", DisplayName: "Ana", Provider: authdomain.ProviderLocal}
}

func signedIn() *http.Cookie {
	return &http.Cookie{Name: session.DefaultCookieName, Value: validToken}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestEnsureOrg(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/ensure-org", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "unauthenticated"}, decode(t, rec))

	ts.provisioner.On("EnsureOrganization", mock.Anything, mock.MatchedBy(func(id *authdomain.Identity) bool {
		return id.UserID == testUserID
	}), "Acme").Return(provisioning.Result{OrgID: 55, Created: true}, nil).Once()

	rec = ts.do(t, http.MethodPost, "/api/ensure-org", map[string]string{"name": "Acme"}, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "55", body["org_id"])

	ts.provisioner.On("EnsureOrganization", mock.Anything, mock.Anything, "").
		Return(provisioning.Result{}, provisioning.ErrPersistence).Once()

	rec = ts.do(t, http.MethodPost, "/api/ensure-org", nil, signedIn())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "persistence_failure"}, decode(t, rec))
	ts.provisioner.AssertExpectations(t)
}

func TestEnsureOrgChunkedEmptyBody(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.provisioner.On("EnsureOrganization", mock.Anything, mock.Anything, "").
		Return(provisioning.Result{OrgID: 55}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/ensure-org", io.NopCloser(strings.NewReader("")))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(signedIn())
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true, "org_id": "55", "created": false}, decode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/ensure-org", "not an object", signedIn())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "invalid_request"}, decode(t, rec))
	ts.provisioner.AssertExpectations(t)
}

func TestSwitchOrg(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/orgs/switch", map[string]string{"orgId": "55"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/orgs/switch", map[string]string{"orgId": "nope"}, signedIn())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.switcher.On("SwitchActiveOrg", mock.Anything, testUserID, snowflake.ID(66)).
		Return(organizationdomain.ErrNotAMember).Once()
	rec = ts.do(t, http.MethodPost, "/api/orgs/switch", map[string]string{"orgId": "66"}, signedIn())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "not_a_member"}, decode(t, rec))

	ts.switcher.On("SwitchActiveOrg", mock.Anything, testUserID, snowflake.ID(55)).Return(nil).Once()
	rec = ts.do(t, http.MethodPost, "/api/orgs/switch", map[string]string{"orgId": "55"}, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ok": true, "org_id": "55"}, decode(t, rec))
	ts.switcher.AssertExpectations(t)
}

func TestInviteLandingStashesTokenForAnonymousVisitor(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/invite/tok-1", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next=/dashboard", rec.Header().Get("Location"))

	stashed := responseCookie(rec, session.InviteCookieName)
	require.NotNil(t, stashed)
	assert.Equal(t, "tok-1", stashed.Value)
	assert.True(t, stashed.HttpOnly)
	ts.invites.AssertNotCalled(t, "AcceptInvite", mock.Anything, mock.Anything, mock.Anything)
}

func TestInviteLandingAcceptsForSignedInUser(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.invites.On("AcceptInvite", mock.Anything, mock.Anything, "tok-1").
		Return(&invitationdomain.AcceptResult{OrgID: 55, Role: "member"}, nil).Once()
	rec := ts.do(t, http.MethodGet, "/invite/tok-1", nil, signedIn())
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	ts.invites.On("AcceptInvite", mock.Anything, mock.Anything, "tok-2").
		Return(nil, invitationdomain.ErrInvalidOrExpiredToken).Once()
	rec = ts.do(t, http.MethodGet, "/invite/tok-2", nil, signedIn())
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard?invite_error=invalid_or_expired_token", rec.Header().Get("Location"))
	ts.invites.AssertExpectations(t)
}

func loginResult() *authdomain.LoginResult {
	return &authdomain.LoginResult{
		User:      testUser(),
		RawToken:  "fresh-session",
		ExpiresAt: time.Now().Add(time.Hour),
		SessionID: testSessionID,
	}
}

func TestLoginConsumesStashedInviteOnce(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.auth.On("Login", mock.Anything, mock.Anything).Return(loginResult(), nil)
	ts.invites.On("AcceptInvite", mock.Anything, mock.MatchedBy(func(id *authdomain.Identity) bool {
		return id.UserID == testUserID
	}), "tok-1").Return(&invitationdomain.AcceptResult{OrgID: 55, Role: "member"}, nil).Once()

	creds := map[string]string{"email": "ana@example.com", "password": "secret-password"}
	rec := ts.do(t, http.MethodPost, "/auth/login", creds, &http.Cookie{Name: session.InviteCookieName, Value: "tok-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "55", body["active_org_id"])
	assert.NotContains(t, body, "invite_error")

	cleared := responseCookie(rec, session.InviteCookieName)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
	sid := responseCookie(rec, session.DefaultCookieName)
	require.NotNil(t, sid)
	assert.Equal(t, "fresh-session", sid.Value)

	ts.invites.AssertExpectations(t)
	ts.provisioner.AssertNotCalled(t, "EnsureOrganization", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginClearsStashedInviteOnFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.auth.On("Login", mock.Anything, mock.Anything).Return(loginResult(), nil)
	ts.invites.On("AcceptInvite", mock.Anything, mock.Anything, "stale").
		Return(nil, invitationdomain.ErrInvalidOrExpiredToken).Once()
	ts.provisioner.On("EnsureOrganization", mock.Anything, mock.Anything, "").
		Return(provisioning.Result{OrgID: 77, Created: true}, nil).Once()

	creds := map[string]string{"email": "ana@example.com", "password": "secret-password"}
	rec := ts.do(t, http.MethodPost, "/auth/login", creds, &http.Cookie{Name: session.InviteCookieName, Value: "stale"})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "invalid_or_expired_token", body["invite_error"])
	assert.Equal(t, "77", body["active_org_id"])

	cleared := responseCookie(rec, session.InviteCookieName)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
	ts.invites.AssertExpectations(t)
	ts.provisioner.AssertExpectations(t)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.auth.On("Login", mock.Anything, mock.Anything).Return(nil, authdomain.ErrInvalidCredentials)

	rec := ts.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "ana@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unauthorized", body["error"].(map[string]any)["type"])
}

func TestAuthRateLimit(t *testing.T) {
	limiter := ratelimit.NewWithStore(config.RateLimitConfig{
		Enabled:   true,
		AuthRate:  0.5,
		AuthBurst: 1,
	}, ratelimit.NewMemoryStore(clock.NewFakeClock(time.Date(2026, 9, 14, 8, 0, 0, 0, time.UTC))), zap.NewNop())
	ts := newTestServer(t, limiter)
	ts.auth.On("Login", mock.Anything, mock.Anything).Return(nil, authdomain.ErrInvalidCredentials).Once()

	creds := map[string]string{"email": "ana@example.com", "password": "wrong"}
	rec := ts.do(t, http.MethodPost, "/auth/login", creds)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/auth/login", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	ts.auth.AssertExpectations(t)
}

func TestTenantContext(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.orgRepo.members[55] = organizationdomain.RoleOwner

	t.Run("rejects an org header the caller is not a member of", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/customers", nil)
		req.Header.Set(HeaderOrg, "66")
		req.AddCookie(signedIn())
		rec := httptest.NewRecorder()
		ts.engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "not_a_member", decode(t, rec)["error"].(map[string]any)["message"])
	})

	t.Run("uses a member org header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/customers", nil)
		req.Header.Set(HeaderOrg, "55")
		req.AddCookie(signedIn())
		rec := httptest.NewRecorder()
		ts.engine.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, snowflake.ID(55), ts.customers.lastOrgID)
		assert.Equal(t, organizationdomain.RoleOwner, ts.customers.lastRole)
	})

	t.Run("provisions when there is no active org", func(t *testing.T) {
		ts.switcher.On("ActiveOrg", mock.Anything, testUserID).Return(snowflake.ID(0), false, nil).Once()
		ts.provisioner.On("EnsureOrganization", mock.Anything, mock.Anything, "").
			Return(provisioning.Result{OrgID: 55, Created: true}, nil).Once()
		ts.customers.lastOrgID = 0

		rec := ts.do(t, http.MethodGet, "/api/customers", nil, signedIn())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, snowflake.ID(55), ts.customers.lastOrgID)
		ts.switcher.AssertExpectations(t)
		ts.provisioner.AssertExpectations(t)
	})

	t.Run("requires identity", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/customers", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestSendInvite(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.invites.On("SendInvite", mock.Anything, invitationdomain.SendInviteRequest{
		InviterID:   testUserID,
		InviterName: "Ana",
		OrgID:       55,
		Email:       "bo@example.com",
		Role:        organizationdomain.RoleMember,
	}).Return(&invitationdomain.SendInviteResult{InviteID: 9, InviteURL: "https://app.example.com/invite/abc"}, nil).Once()

	rec := ts.do(t, http.MethodPost, "/api/orgs/invite", map[string]string{"orgId": "55", "email": "bo@example.com"}, signedIn())
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "9", body["invite_id"])
	assert.Equal(t, "https://app.example.com/invite/abc", body["invite_url"])

	ts.invites.On("SendInvite", mock.Anything, mock.Anything).Return(nil, invitationdomain.ErrAlreadyMember).Once()
	rec = ts.do(t, http.MethodPost, "/api/orgs/invite", map[string]string{"orgId": "55", "email": "ana@example.com"}, signedIn())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, map[string]any{"ok": false, "error": "already_member"}, decode(t, rec))
	ts.invites.AssertExpectations(t)
}

func TestStripeWebhook(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{name: "applied", code: http.StatusOK},
		{name: "bad signature", err: billingdomain.ErrInvalidSignature, code: http.StatusBadRequest},
		{name: "not configured", err: billingdomain.ErrNotConfigured, code: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			ts.billing.err = tc.err

			req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewBufferString(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=00")
			rec := httptest.NewRecorder()
			ts.engine.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}
