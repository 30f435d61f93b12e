package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/audit/repository"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/observability/obscontext"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) auditdomain.Service {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
	})
}

func TestRecordCapturesActorAndRequest(t *testing.T) {
	svc := newTestService(t)
	orgID := snowflake.ID(500)

	ctx := obscontext.WithActor(context.Background(), auditdomain.ActorTypeUser, "42")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	ctx = obscontext.WithClient(ctx, "127.0.0.1", "test-agent")

	require.NoError(t, svc.Record(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     "organization.provisioned",
		TargetType: "organization",
		TargetID:   orgID.String(),
		Metadata:   map[string]any{"name": "Acme"},
	}))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{OrgID: orgID})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "42", *entry.ActorID)
	assert.Equal(t, "req-1", entry.Metadata["request_id"])
	assert.Equal(t, "Acme", entry.Metadata["name"])
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "127.0.0.1", *entry.IPAddress)
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc := newTestService(t)
	orgID := snowflake.ID(7)

	require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{OrgID: &orgID, Action: "billing.status_changed"}))
	assert.ErrorIs(t, svc.Record(context.Background(), auditdomain.Entry{Action: " "}), auditdomain.ErrInvalidAction)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{OrgID: orgID})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, auditdomain.ActorTypeSystem, resp.AuditLogs[0].ActorType)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
}

func TestListPaginates(t *testing.T) {
	svc := newTestService(t)
	orgID := snowflake.ID(9)
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(context.Background(), auditdomain.Entry{OrgID: &orgID, Action: "customer.created"}))
	}

	first, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{OrgID: orgID, Page: pagination.Page{Limit: 3}})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 3)
	assert.True(t, first.HasMore)

	second, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		OrgID: orgID,
		Page:  pagination.Page{Limit: 3, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 2)
	assert.False(t, second.HasMore)
	assert.Less(t, int64(second.AuditLogs[0].ID), int64(first.AuditLogs[2].ID))

	_, err = svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)
}
