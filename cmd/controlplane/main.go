// Command controlplane runs the sentryd control plane: the HTTP API,
// the run worker, and the daily snapshot job in one process, all
// sharing a single database pool, event log, and broker.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentctl/sentryd/pkg/api"
	"github.com/agentctl/sentryd/pkg/broker"
	"github.com/agentctl/sentryd/pkg/config"
	"github.com/agentctl/sentryd/pkg/database"
	"github.com/agentctl/sentryd/pkg/egress"
	"github.com/agentctl/sentryd/pkg/eventlog"
	"github.com/agentctl/sentryd/pkg/learning"
	"github.com/agentctl/sentryd/pkg/policy"
	"github.com/agentctl/sentryd/pkg/runworker"
	"github.com/agentctl/sentryd/pkg/snapshot"
	"github.com/agentctl/sentryd/pkg/store"
	"github.com/agentctl/sentryd/pkg/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	slog.Info("starting sentryd control plane", "version", version.Full(), "http_addr", cfg.HTTPAddr)

	dbClient, err := database.NewClient(cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database, migrations applied")

	st := store.New(dbClient.DB)
	evtLog := eventlog.New()
	br := broker.New()

	policyCfg := policy.Config{
		KillSwitchExternalWrite: cfg.PolicyKillSwitchExternalWrite,
		EnforcementMode:         cfg.PolicyEnforcementMode,
	}

	egressCtrl := egress.New(st, egress.Config{
		Policy:             policyCfg,
		Approvals:          st,
		MaxRequestsPerHour: cfg.EgressMaxRequestsPerHour,
	})
	learner := learning.New(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunWorkerEnabled {
		worker := runworker.New(dbClient.DB, st, evtLog, br, egressCtrl, learner, runworker.Config{
			BatchLimit: cfg.RunWorkerBatchLimit,
			LeaseTTL:   cfg.RunWorkerLeaseTTL,
		})
		worker.Start(ctx, cfg.RunWorkerPollInterval)
		slog.Info("run worker started", "poll_interval", cfg.RunWorkerPollInterval, "lease_ttl", cfg.RunWorkerLeaseTTL)
	}

	if cfg.SnapshotJobEnabled {
		job, err := snapshot.New(dbClient.DB, st, evtLog, br, cfg.SnapshotSchedule)
		if err != nil {
			log.Fatalf("create snapshot job: %v", err)
		}
		job.Start(ctx)
		slog.Info("snapshot job started", "schedule", cfg.SnapshotSchedule)
	}

	srv, err := api.New(api.Deps{
		DB:                   dbClient.DB,
		Store:                st,
		Log:                  evtLog,
		Broker:               br,
		EgressCtrl:           egressCtrl,
		Learner:              learner,
		PolicyCfg:            policyCfg,
		PromotionLoopEnabled: cfg.PromotionLoopEnabled,
	})
	if err != nil {
		log.Fatalf("build api server: %v", err)
	}

	slog.Info("http server listening", "addr", cfg.HTTPAddr)
	if err := srv.Start(ctx, cfg.HTTPAddr); err != nil {
		slog.Error("api server exited", "error", err)
	}
	slog.Info("sentryd control plane stopped")
}
