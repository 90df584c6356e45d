package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/relaypoint/outreach-engine/internal/config"
	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/db"
	"github.com/relaypoint/outreach-engine/internal/kafka"
	"github.com/relaypoint/outreach-engine/internal/logger"
	"github.com/relaypoint/outreach-engine/internal/metrics"
	"github.com/relaypoint/outreach-engine/internal/repository"
	"github.com/relaypoint/outreach-engine/internal/worker"
)

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Consume inbound replies and apply consent keywords",
	RunE:  runInbound,
}

func runInbound(cmd *cobra.Command, args []string) error {
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

	// 3) repositories + consent gate
	convsRepo := repository.NewConversationsRepository(dbx)
	recipientsRepo := repository.NewRecipientsRepository(dbx)
	consentRepo := repository.NewConsentRepository(dbx)
	gate := consent.NewGate(consentRepo, recipientsRepo, consentRepo, logger.Log)

	// 4) kafka consumer
	topic := cfg.Kafka.InboundTopic
	if topic == "" {
		topic = "messages.inbound"
	}
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "outreach-inbound"
	}

	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewInbound(consumer, gate, convsRepo, logger.Log)

	// 5) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf(">> inbound started topic=%s group=%s workers=%d", topic, groupID, w.Workers)

	return w.Run(ctx)
}
