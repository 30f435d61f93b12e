package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/observability/obscontext"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Record(ctx context.Context, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := obscontext.ActorFromContext(ctx)
	if actorType == "" {
		actorType = auditdomain.ActorTypeSystem
	}
	ipAddress, userAgent := obscontext.ClientFromContext(ctx)

	payload := datatypes.JSONMap{}
	for key, value := range entry.Metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if correlationID := obscontext.CorrelationIDFromContext(ctx); correlationID != "" {
		payload["correlation_id"] = correlationID
	}

	log := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      entry.OrgID,
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		Metadata:   payload,
		IPAddress:  optional(ipAddress),
		UserAgent:  optional(userAgent),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &log); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.OrgID == 0 {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidOrganization
	}

	beforeID, err := pagination.BeforeID(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	limit := pagination.NormalizeLimit(req.Limit)
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:    req.OrgID,
		Action:   req.Action,
		BeforeID: beforeID,
		Limit:    limit,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, info := pagination.Trim(items, limit, func(entry *auditdomain.AuditLog) string {
		return entry.ID.String()
	})
	return auditdomain.ListAuditLogResponse{PageInfo: info, AuditLogs: items}, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
