package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Shopify/sarama"

	"github.com/elghonerox/solarsentinel-depin/internal/classifier"
	"github.com/elghonerox/solarsentinel-depin/internal/config"
	"github.com/elghonerox/solarsentinel-depin/internal/faults"
	"github.com/elghonerox/solarsentinel-depin/internal/index"
	"github.com/elghonerox/solarsentinel-depin/internal/ledger"
	"github.com/elghonerox/solarsentinel-depin/internal/metrics"
	"github.com/elghonerox/solarsentinel-depin/internal/pipeline"
	"github.com/elghonerox/solarsentinel-depin/internal/reward"
	"github.com/elghonerox/solarsentinel-depin/internal/server"
	"github.com/elghonerox/solarsentinel-depin/internal/telemetry"
)

const indexerGroupID = "solarsentinel-indexer"

func main() {
	// Load configuration; a missing operator identity is fatal before any
	// traffic is served.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v (%s)", err, faults.HintOf(err))
	}

	logger := newLogger(cfg.Log)

	// Establish the single long-lived ledger session shared by the audit
	// producer, the reward producer, and the indexer.
	session, err := ledger.NewSession(cfg.Ledger, cfg.Operator)
	if err != nil {
		log.Fatalf("Failed to dial ledger network: %v", err)
	}

	ledgerClient, err := ledger.NewClient(session, cfg.Ledger)
	if err != nil {
		log.Fatalf("Failed to create ledger client: %v", err)
	}

	rewardProducer, err := sarama.NewSyncProducerFromClient(session.Client())
	if err != nil {
		log.Fatalf("Failed to create reward producer: %v", err)
	}
	rewardSvc := reward.NewService(rewardProducer, cfg.Reward, cfg.Ledger.RewardTopic, cfg.Operator.AccountID)
	if rewardSvc.Simulated() {
		logger.Warn("no reward token configured, minting in simulated mode")
	}

	classifierClient := classifier.NewClient(cfg.Classifier)
	generator := telemetry.NewGenerator()

	idx := index.Disabled(logger)
	if cfg.IndexEnabled() {
		idx = index.New(cfg.Index, logger)
	} else {
		logger.Warn("no secondary index configured, historical reads will be empty")
	}

	m := metrics.New()
	orchestrator := pipeline.New(generator, classifierClient, ledgerClient, rewardSvc,
		cfg.Operator.AccountID, pipeline.Options{
			MintAmount:      cfg.Reward.MintAmount,
			ClassifyTimeout: cfg.Classifier.Timeout,
			LedgerTimeout:   cfg.Ledger.SubmitTimeout,
		}, logger, m)

	srv := server.New(cfg.Server, server.Deps{
		Runner:     orchestrator,
		Generator:  generator,
		Ledger:     ledgerClient,
		Reward:     rewardSvc,
		History:    idx,
		Classifier: classifierClient,
		Metrics:    m.Handler(),
		AccountID:  cfg.Operator.AccountID,
	}, logger)

	// Create context that can be canceled
	ctx, cancel := context.WithCancel(context.Background())

	// Resolve the audit topic up front so the indexer can join it; lazy
	// resolution on the first run covers a failure here.
	topicCtx, topicCancel := context.WithTimeout(ctx, cfg.Ledger.RequestTimeout)
	if topicID, err := ledgerClient.EnsureTopic(topicCtx); err != nil {
		logger.Warn("topic not resolved at startup, will retry on first run", "error", err)
	} else {
		logger.Info("audit topic ready", "topicId", topicID, "network", session.Network())
	}
	topicCancel()

	var indexer *index.Indexer
	if idx.Enabled() {
		indexer, err = index.NewIndexer(session.Client(), indexerGroupID, idx, ledgerClient.Topic, logger)
		if err != nil {
			log.Fatalf("Failed to create indexer: %v", err)
		}
		go func() {
			if err := indexer.Run(ctx); err != nil {
				logger.Error("indexer stopped", "error", err)
			}
		}()
		go idx.DrainErrors(ctx)
	}

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	logger.Info("solarsentinel pipeline ready",
		"operator", cfg.Operator.AccountID,
		"network", session.Network(),
		"simulatedRewards", rewardSvc.Simulated())

	// Handle termination signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("received termination signal, shutting down")

	cancel()
	srv.Shutdown(cfg.Server.ShutdownTimeout)

	if indexer != nil {
		if err := indexer.Close(); err != nil {
			logger.Warn("indexer close failed", "error", err)
		}
	}
	if err := ledgerClient.Close(); err != nil {
		logger.Warn("ledger client close failed", "error", err)
	}
	if err := rewardProducer.Close(); err != nil {
		logger.Warn("reward producer close failed", "error", err)
	}
	if err := session.Close(); err != nil {
		logger.Warn("session close failed", "error", err)
	}
	idx.Close()

	logger.Info("shutdown complete")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
