package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrganization = "organization"
	ObjectMember       = "member"
	ObjectInvite       = "invite"
	ObjectCustomer     = "customer"
	ObjectEquipment    = "equipment"
	ObjectJob          = "job"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionOrganizationView   = "organization.view"
	ActionOrganizationUpdate = "organization.update"

	ActionMemberView = "member.view"

	ActionInviteCreate = "invite.create"

	ActionCustomerView   = "customer.view"
	ActionCustomerCreate = "customer.create"
	ActionCustomerUpdate = "customer.update"

	ActionEquipmentView   = "equipment.view"
	ActionEquipmentCreate = "equipment.create"
	ActionEquipmentUpdate = "equipment.update"
	ActionEquipmentDelete = "equipment.delete"

	ActionJobView   = "job.view"
	ActionJobCreate = "job.create"
	ActionJobUpdate = "job.update"

	ActionAuditLogView = "audit_log.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize must not be called while the caller holds an open transaction on
// the same pool: the role lookup and grouping sync use the root handle.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	if orgID == 0 {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	userID, err := parseUserActor(actor)
	if err != nil {
		return err
	}

	role, err := s.roleForUser(ctx, orgID, userID)
	if err != nil {
		if err == ErrForbidden {
			s.auditDenied(ctx, orgID, actor, object, action)
		}
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID)
	roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
	if err := s.ensureGrouping(actor, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, orgID, actor, object, action)
		return ErrForbidden
	}
	return nil
}

func parseUserActor(actor string) (snowflake.ID, error) {
	if !strings.HasPrefix(actor, "user:") {
		return 0, ErrInvalidActor
	}
	userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
	if err != nil || userID == 0 {
		return 0, ErrInvalidActor
	}
	return userID, nil
}

func (s *ServiceImpl) roleForUser(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

// ensureGrouping keeps exactly one role link per subject and domain so a
// role change in organization_members takes effect on the next check.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, orgID snowflake.ID, actor string, object string, action string) {
	s.log.Info("authorization denied",
		zap.String("actor", actor),
		zap.String("org_id", orgID.String()),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	_ = s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      &orgID,
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": actor,
		},
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	memberActions := [][2]string{
		{ObjectOrganization, ActionOrganizationView},
		{ObjectMember, ActionMemberView},
		{ObjectCustomer, ActionCustomerView},
		{ObjectCustomer, ActionCustomerCreate},
		{ObjectCustomer, ActionCustomerUpdate},
		{ObjectEquipment, ActionEquipmentView},
		{ObjectEquipment, ActionEquipmentCreate},
		{ObjectEquipment, ActionEquipmentUpdate},
		{ObjectJob, ActionJobView},
		{ObjectJob, ActionJobCreate},
		{ObjectJob, ActionJobUpdate},
	}
	managerActions := [][2]string{
		{ObjectOrganization, ActionOrganizationUpdate},
		{ObjectInvite, ActionInviteCreate},
		{ObjectEquipment, ActionEquipmentDelete},
		{ObjectAuditLog, ActionAuditLogView},
	}

	policies := make([][]string, 0, 3*len(memberActions)+2*len(managerActions))
	for _, role := range []string{"role:member", "role:admin", "role:owner"} {
		for _, pair := range memberActions {
			policies = append(policies, []string{role, pair[0], pair[1]})
		}
	}
	for _, role := range []string{"role:admin", "role:owner"} {
		for _, pair := range managerActions {
			policies = append(policies, []string{role, pair[0], pair[1]})
		}
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
