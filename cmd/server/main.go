// Package main is the entry point for Overseer, the background work
// orchestrator. It decides on a recurring cadence whether autonomous
// work should run, schedules it alongside interactive user-triggered
// work, and bounds the total cost of unsupervised work via a token
// budget.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/config"
	"github.com/aristath/overseer/internal/dispatch"
	"github.com/aristath/overseer/internal/evaluate"
	"github.com/aristath/overseer/internal/heartbeat"
	"github.com/aristath/overseer/internal/journal"
	"github.com/aristath/overseer/internal/maintenance"
	"github.com/aristath/overseer/internal/reliability"
	"github.com/aristath/overseer/internal/server"
	"github.com/aristath/overseer/internal/store"
	"github.com/aristath/overseer/internal/sysmon"
	"github.com/aristath/overseer/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Str("data_dir", cfg.DataDir).Int("port", cfg.Port).Msg("Overseer starting")

	// Durable store for journal and budget state.
	db, err := store.Open(store.Config{
		Path:    filepath.Join(cfg.DataDir, "overseer.db"),
		Profile: store.ProfileStandard,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer db.Close()

	// Change journal, hydrated from disk.
	jrnl := journal.New(journal.Config{
		MaxEvents:  cfg.Journal.MaxEvents,
		SummaryCap: cfg.Journal.SummaryCap,
	}, store.NewJournalStore(db), log)
	if err := jrnl.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load journal state")
	}

	// Budget guard, hydrated from disk.
	guard := budget.New(budget.Limits{
		BackgroundHourlyTokens: cfg.Budget.BackgroundHourlyTokens,
		BackgroundDailyTokens:  cfg.Budget.BackgroundDailyTokens,
		EnforceUserCaps:        cfg.Budget.EnforceUserCaps,
		UserDailyTokens:        cfg.Budget.UserDailyTokens,
	}, store.NewBudgetStore(db), log)
	if err := guard.Load(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load budget state")
	}

	// Dispatcher with the handler registry for built-in job kinds.
	registry := dispatch.NewRegistry()
	dispatcher := dispatch.New(dispatch.Config{
		Registry: registry,
		Budget:   guard,
		Journal:  jrnl,
		UserHold: cfg.Dispatch.UserHold,
		Log:      log,
	})

	// Optional S3-compatible snapshot backups.
	var backupSvc *reliability.BackupService
	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		backupSvc = reliability.NewBackupService(db, s3Client, cfg.Backup.KeepCount, log)
	}
	maintenance.RegisterHandlers(registry, db, backupSvc)

	// Evaluator chain: hosts register domain evaluators here. Empty by
	// default; the heartbeat still tracks versions and drains queues.
	evaluator := evaluate.NewMulti()

	hb := heartbeat.New(heartbeat.Config{
		Interval:     cfg.Heartbeat.Interval,
		Jitter:       cfg.Heartbeat.Jitter,
		EvalDeadline: cfg.Heartbeat.EvalDeadline,
		WakeDelay:    cfg.Heartbeat.WakeDelay,
	}, jrnl, dispatcher, guard, evaluator, log)
	hb.Start()

	maint := maintenance.New(dispatcher, log)
	if err := maint.Start(cfg.Backup.Enabled); err != nil {
		log.Fatal().Err(err).Msg("Failed to start maintenance scheduler")
	}

	var monitor *sysmon.Monitor
	if cfg.Sysmon.Enabled {
		monitor = sysmon.New(sysmon.Config{
			Interval:   cfg.Sysmon.Interval,
			CPUHighPct: cfg.Sysmon.CPUHighPct,
			MemHighPct: cfg.Sysmon.MemHighPct,
		}, jrnl, log)
		monitor.Start()
	}

	srv := server.New(server.Config{
		Port:       cfg.Port,
		Journal:    jrnl,
		Dispatcher: dispatcher,
		Budget:     guard,
		Heartbeat:  hb,
		Log:        log,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}

	if monitor != nil {
		monitor.Stop()
	}
	maint.Stop()
	hb.Stop()
	dispatcher.Wait()

	log.Info().Msg("Overseer stopped")
}
