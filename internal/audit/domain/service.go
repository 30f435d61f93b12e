package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry describes one audited action. Actor, request and client fields are
// taken from the context.
type Entry struct {
	OrgID      *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type ListAuditLogRequest struct {
	pagination.Page
	OrgID  snowflake.ID
	Action string
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []*AuditLog `json:"audit_logs"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAction       = errors.New("invalid_action")
)
