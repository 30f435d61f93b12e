package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/auth/identity"
	"github.com/smallbiznis/fieldops/internal/auth/session"
	"github.com/smallbiznis/fieldops/internal/authorization"
	billingdomain "github.com/smallbiznis/fieldops/internal/billing/domain"
	"github.com/smallbiznis/fieldops/internal/config"
	customerdomain "github.com/smallbiznis/fieldops/internal/customer/domain"
	equipmentdomain "github.com/smallbiznis/fieldops/internal/equipment/domain"
	invitationdomain "github.com/smallbiznis/fieldops/internal/invitation/domain"
	jobdomain "github.com/smallbiznis/fieldops/internal/job/domain"
	"github.com/smallbiznis/fieldops/internal/observability"
	obslogger "github.com/smallbiznis/fieldops/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/fieldops/internal/observability/metrics"
	obstracing "github.com/smallbiznis/fieldops/internal/observability/tracing"
	organizationdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/provisioning"
	"github.com/smallbiznis/fieldops/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authsvc         authdomain.Service
	sessions        *session.Manager
	resolver        *identity.Resolver
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	provisioner     provisioning.Provisioner
	switcher        provisioning.Switcher
	organizationSvc organizationdomain.Service
	orgRepo         organizationdomain.Repository
	invitationSvc   invitationdomain.Service
	customerSvc     customerdomain.Service
	equipmentSvc    equipmentdomain.Service
	jobSvc          jobdomain.Service
	billingSvc      billingdomain.Service
	limiter         *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Authsvc         authdomain.Service
	Sessions        *session.Manager
	Resolver        *identity.Resolver
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	Provisioner     provisioning.Provisioner
	Switcher        provisioning.Switcher
	OrganizationSvc organizationdomain.Service
	OrgRepo         organizationdomain.Repository
	InvitationSvc   invitationdomain.Service
	CustomerSvc     customerdomain.Service
	EquipmentSvc    equipmentdomain.Service
	JobSvc          jobdomain.Service
	BillingSvc      billingdomain.Service
	Limiter         *ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authsvc:         p.Authsvc,
		sessions:        p.Sessions,
		resolver:        p.Resolver,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		provisioner:     p.Provisioner,
		switcher:        p.Switcher,
		organizationSvc: p.OrganizationSvc,
		orgRepo:         p.OrgRepo,
		invitationSvc:   p.InvitationSvc,
		customerSvc:     p.CustomerSvc,
		equipmentSvc:    p.EquipmentSvc,
		jobSvc:          p.JobSvc,
		billingSvc:      p.BillingSvc,
		limiter:         p.Limiter,
	}

	svc.registerAuthRoutes()
	svc.registerInviteRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth", s.ResolveIdentity())

	auth.POST("/signup", s.RateLimit(ratelimit.PolicyAuth), s.Signup)
	auth.POST("/login", s.RateLimit(ratelimit.PolicyAuth), s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.RequireIdentity(), s.Me)
}

func (s *Server) registerInviteRoutes() {
	s.engine.GET("/invite/:token", s.RateLimit(ratelimit.PolicyInvite), s.ResolveIdentity(), s.InviteLanding)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// Signed by the payment processor, not by a user.
	api.POST("/stripe/webhook", s.StripeWebhook)

	api.Use(s.ResolveIdentity())

	// -------- Provisioning --------
	api.POST("/ensure-org", s.EnsureOrg)
	api.POST("/orgs/switch", s.SwitchOrg)

	// -------- Invites --------
	api.GET("/invites/:token", s.RateLimit(ratelimit.PolicyInvite), s.PreviewInvite)
	api.POST("/invites/accept", s.RateLimit(ratelimit.PolicyInvite), s.AcceptInvite)
	api.POST("/orgs/invite", s.SendInvite)

	// -------- Organizations --------
	orgs := api.Group("/orgs", s.RequireIdentity())
	{
		orgs.GET("", s.ListOrgs)
		orgs.POST("", s.CreateOrg)
		orgs.GET("/active", s.ActiveOrg)
		orgs.GET("/:id", s.GetOrg)
		orgs.PATCH("/:id", s.UpdateOrg)
		orgs.GET("/:id/members", s.ListMembers)
		orgs.GET("/:id/invites", s.ListInvites)
		orgs.DELETE("/:id/invites/:inviteId", s.RevokeInvite)
		orgs.GET("/:id/audit-logs", s.authorizeOrgParam(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	}

	tenant := api.Group("", s.RequireIdentity(), s.TenantContext())

	// -------- Customers --------
	tenant.GET("/customers", s.ListCustomers)
	tenant.POST("/customers", s.CreateCustomer)
	tenant.GET("/customers/:id", s.GetCustomerByID)
	tenant.PATCH("/customers/:id", s.UpdateCustomer)

	// -------- Equipment --------
	tenant.GET("/equipment", s.ListEquipment)
	tenant.POST("/equipment", s.CreateEquipment)
	tenant.GET("/equipment/:id", s.GetEquipmentByID)
	tenant.PATCH("/equipment/:id", s.UpdateEquipment)
	tenant.DELETE("/equipment/:id", s.DeleteEquipment)

	// -------- Jobs --------
	tenant.GET("/jobs", s.ListJobs)
	tenant.POST("/jobs", s.CreateJob)
	tenant.GET("/jobs/:id", s.GetJobByID)
	tenant.PATCH("/jobs/:id", s.RescheduleJob)
	tenant.PATCH("/jobs/:id/assignee", s.AssignJob)
	tenant.PATCH("/jobs/:id/status", s.UpdateJobStatus)
	tenant.POST("/jobs/:id/notes", s.AddJobNote)
	tenant.GET("/jobs/:id/notes", s.ListJobNotes)
	tenant.POST("/jobs/:id/equipment", s.LinkJobEquipment)
}
