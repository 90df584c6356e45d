package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relaypoint/outreach-engine/internal/config"
	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/dispatch"
	"github.com/relaypoint/outreach-engine/internal/http/middleware"
	"github.com/relaypoint/outreach-engine/internal/kvstore"
	"github.com/relaypoint/outreach-engine/internal/metrics"
	"github.com/relaypoint/outreach-engine/internal/repository"
	"github.com/relaypoint/outreach-engine/internal/scheduler"
	"github.com/relaypoint/outreach-engine/internal/service/promotion"
	"github.com/relaypoint/outreach-engine/internal/service/schedule"
)

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, mysqlDB, clickhouseDB *sqlx.DB, rds *redis.Client, logger *zap.Logger) *Server {
	// repos (MySQL)
	businessesRepo := repository.NewBusinessesRepository(mysqlDB)
	recipientsRepo := repository.NewRecipientsRepository(mysqlDB)
	draftsRepo := repository.NewDraftsRepository(mysqlDB)
	convsRepo := repository.NewConversationsRepository(mysqlDB)
	deliveriesRepo := repository.NewDeliveriesRepository(mysqlDB, convsRepo)
	consentRepo := repository.NewConsentRepository(mysqlDB)

	// repos (ClickHouse)
	chDeliveriesRepo := repository.NewCHDeliveriesRepository(clickhouseDB)

	// consent
	gate := consent.NewGate(consentRepo, recipientsRepo, consentRepo, logger)
	verification := consent.NewVerification(
		kvstore.New(rds, "consent:"),
		gate,
		cfg.Consent.VerificationTTL,
	)

	// dispatch over the delayed-task scheduler
	tasks := scheduler.NewRedisScheduler(rds, logger)
	dispatcher := dispatch.New(tasks, deliveriesRepo, logger)

	// services
	promoteSvc := promotion.New(draftsRepo, deliveriesRepo, gate, dispatcher, logger)
	scheduleSvc := schedule.New(deliveriesRepo, draftsRepo, dispatcher, logger)

	// echo
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.APIKeyMiddleware(businessesRepo)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:biz:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/drafts", createDraftHandler(draftsRepo))
	v1.GET("/drafts", listDraftsHandler(draftsRepo))
	v1.POST("/drafts/:id/promote", promoteDraftHandler(promoteSvc))
	v1.POST("/drafts/promote-batch", promoteBatchHandler(promoteSvc))
	v1.PATCH("/drafts/:id", editDraftHandler(scheduleSvc))
	v1.POST("/drafts/:id/reject", rejectDraftHandler(scheduleSvc))
	v1.DELETE("/drafts/:id", deleteDraftHandler(scheduleSvc))
	v1.POST("/deliveries/:id/reschedule", rescheduleHandler(scheduleSvc))
	v1.POST("/deliveries/:id/cancel", cancelHandler(scheduleSvc))
	v1.GET("/recipients/:id/conversation", conversationHandler(convsRepo, deliveriesRepo))
	v1.POST("/consent/events", recordConsentHandler(gate))
	v1.GET("/consent/events", listConsentEventsHandler(consentRepo))
	v1.POST("/consent/verify/start", verifyStartHandler(verification))
	v1.POST("/consent/verify/confirm", verifyConfirmHandler(verification))
	v1.GET("/reports/deliveries", listDeliveriesHandler(chDeliveriesRepo))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	log.Printf("http: listening on %s", addr)
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
