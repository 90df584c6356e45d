package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relaypoint/outreach-engine/internal/config"
	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/db"
	"github.com/relaypoint/outreach-engine/internal/executor"
	"github.com/relaypoint/outreach-engine/internal/gateway"
	"github.com/relaypoint/outreach-engine/internal/logger"
	"github.com/relaypoint/outreach-engine/internal/metrics"
	"github.com/relaypoint/outreach-engine/internal/repository"
	"github.com/relaypoint/outreach-engine/internal/scheduler"
)

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "Run the delivery executor (polls due tasks and sends them)",
	RunE:  runExecutor,
}

func runExecutor(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) MySQL
	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	// 3) Redis
	rds, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = rds.Close() }()

	// 4) repositories
	convsRepo := repository.NewConversationsRepository(dbx)
	deliveriesRepo := repository.NewDeliveriesRepository(dbx, convsRepo)
	recipientsRepo := repository.NewRecipientsRepository(dbx)
	consentRepo := repository.NewConsentRepository(dbx)

	// 5) providers round-robin gateway
	var provs []gateway.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		provs = append(provs,
			gateway.NewHTTPProvider(
				pc.Name,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.SendPath,
				pc.TimeoutMs,
				pc.Breaker.FailThreshold,
				pc.Breaker.OpenForMs,
			),
		)
	}
	if len(provs) == 0 {
		return fmt.Errorf("no providers enabled in config")
	}
	gw := gateway.NewMultiProvider(provs, cfg.Gateway.MaxAttempts)

	// 6) consent gate + executor; the scheduler doubles as the requeue path
	// for tasks that fire before their batch row commits
	gate := consent.NewGate(consentRepo, recipientsRepo, consentRepo, logger.Log)
	tasks := scheduler.NewRedisScheduler(rds, logger.Log)
	exec := executor.New(deliveriesRepo, recipientsRepo, gate, gw, tasks, logger.Log)

	// 7) poller over the delayed-task set; payload is the delivery id
	poller := scheduler.NewPoller(rds, func(ctx context.Context, payload string) {
		exec.Execute(ctx, payload)
	}, logger.Log)
	if cfg.Scheduler.PollInterval > 0 {
		poller.Interval = cfg.Scheduler.PollInterval
	}
	if cfg.Scheduler.ClaimBatch > 0 {
		poller.ClaimBatch = cfg.Scheduler.ClaimBatch
	}
	if cfg.Scheduler.Workers > 0 {
		poller.Workers = cfg.Scheduler.Workers
	}

	// 8) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> executor started interval=%s claimBatch=%d workers=%d providers=%d",
		poller.Interval, poller.ClaimBatch, poller.Workers, len(provs))

	return poller.Run(ctx)
}
