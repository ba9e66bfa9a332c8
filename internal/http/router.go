package http

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/outreachpass/passhub/internal/auth"
	"github.com/outreachpass/passhub/internal/config"
	"github.com/outreachpass/passhub/internal/http/handlers"
	"github.com/outreachpass/passhub/internal/http/middlewares"
	"github.com/outreachpass/passhub/internal/observability"
	"github.com/outreachpass/passhub/internal/queue/amqppub"
	"github.com/outreachpass/passhub/internal/repo/postgres"
)

type RouterDeps struct {
	Cfg  config.Config
	Pool *pgxpool.Pool
	Prom *observability.Prom
	Reg  *prometheus.Registry
	JWT  *auth.Manager
	Pub  amqppub.Publisher
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(otelgin.Middleware("passhub-api"))

	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}

	// health + metrics

	healthHandler := handlers.NewHealthHandler(deps.Pool)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/readyz", healthHandler.Readyz)

	if deps.Reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Reg, promhttp.HandlerOpts{})))
	}

	// wire up repositories

	jobsRepo := postgres.NewJobsRepo(deps.Pool, deps.Prom)
	attendeesRepo := postgres.NewAttendeesRepo(deps.Pool, deps.Prom)
	adminUsersRepo := postgres.NewAdminUsersRepo(deps.Pool, deps.Prom)

	// wire up handlers

	passesHandler := handlers.NewPassesHandler(jobsRepo, attendeesRepo, deps.Pub)
	adminJobsHandler := handlers.NewAdminJobsHandler(jobsRepo)
	authHandler := handlers.NewAuthHandler(adminUsersRepo, deps.JWT)

	r.POST("/auth/login", authHandler.Login)

	r.POST("/attendees/:id/issue", passesHandler.IssuePass)
	r.GET("/passes/jobs/:id", passesHandler.GetJob)

	// admin routes need a valid access token

	authMw := middlewares.NewAuthMiddleware(deps.JWT)

	admin := r.Group("/admin", authMw.RequireAuth())
	admin.GET("/jobs", adminJobsHandler.List)
	admin.GET("/jobs/:id", adminJobsHandler.GetByID)
	admin.POST("/jobs/:id/retry", adminJobsHandler.Retry)
	admin.POST("/jobs/reprocess-dead", adminJobsHandler.ReprocessDead)

	return r
}
