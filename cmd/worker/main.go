package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/snies/snies-admin/cmd/worker/cli"
	"github.com/snies/snies-admin/internal/app"
	"github.com/snies/snies-admin/internal/audit"
	jobmetrics "github.com/snies/snies-admin/internal/jobs"
	"github.com/snies/snies-admin/internal/platform/db"
	"github.com/snies/snies-admin/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadWorkerConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg.LogFormat, cfg.LogLevel, "snies-worker")

	if len(os.Args) > 1 {
		if err := runCommand(ctx, cfg, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	auditRepo := audit.NewRepository(pool)
	recordJob := audit.NewRecordJob(auditRepo, logger, metrics)
	pruneJob := audit.NewPruneJob(auditRepo, logger, metrics)

	pruneTask, err := jobs.NewAuditPruneTask(cfg.AuditRetentionDays)
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAuditRecord, Handler: recordJob.Handle},
			{Type: jobs.TaskAuditPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AuditPruneSchedule, Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

// runCommand handles the manual subcommands: "stats" and "trigger <job>".
func runCommand(ctx context.Context, cfg *app.WorkerConfig, args []string) error {
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Println(s)
		}
		return nil
	case "trigger":
		if len(args) < 2 {
			return fmt.Errorf("usage: worker trigger <job>")
		}
		info, err := jobsCLI.Trigger(ctx, args[1], cfg.AuditRetentionDays)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
