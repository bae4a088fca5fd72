// Package maintenance schedules the orchestrator's own housekeeping
// jobs on a cron cadence and feeds them through the dispatcher like any
// other background work.
package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/overseer/internal/budget"
	"github.com/aristath/overseer/internal/dispatch"
	"github.com/aristath/overseer/internal/reliability"
	"github.com/aristath/overseer/internal/store"
)

// Built-in job kinds.
const (
	KindStoreMaintenance = "store_maintenance"
	KindStoreBackup      = "store_backup"
)

// Default schedules (cron with seconds field).
const (
	scheduleMaintenance = "0 30 2 * * *" // Daily at 02:30
	scheduleBackup      = "0 0 3 * * *"  // Daily at 03:00
)

// Service owns the cron instance and the housekeeping job handlers.
type Service struct {
	cron       *cron.Cron
	dispatcher *dispatch.Dispatcher
	log        zerolog.Logger
}

// New creates the maintenance service.
func New(dispatcher *dispatch.Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		cron:       cron.New(cron.WithSeconds()),
		dispatcher: dispatcher,
		log:        log.With().Str("component", "maintenance").Logger(),
	}
}

// RegisterHandlers installs the built-in job kinds. backupSvc may be
// nil when backups are disabled; the backup kind is then not offered.
func RegisterHandlers(registry *dispatch.Registry, db *store.DB, backupSvc *reliability.BackupService) {
	registry.Register(KindStoreMaintenance, func(ctx context.Context, rc *dispatch.RunContext) (*dispatch.Result, error) {
		if err := db.Vacuum(ctx); err != nil {
			return nil, err
		}
		return &dispatch.Result{Output: "store vacuumed"}, nil
	})

	if backupSvc != nil {
		registry.Register(KindStoreBackup, func(ctx context.Context, rc *dispatch.RunContext) (*dispatch.Result, error) {
			if err := backupSvc.Run(ctx); err != nil {
				return nil, err
			}
			return &dispatch.Result{Output: "backup uploaded"}, nil
		})
	}
}

// Start registers the cron entries and starts the scheduler.
// backupEnabled gates the backup entry.
func (s *Service) Start(backupEnabled bool) error {
	if err := s.addEntry(scheduleMaintenance, KindStoreMaintenance); err != nil {
		return err
	}
	if backupEnabled {
		if err := s.addEntry(scheduleBackup, KindStoreBackup); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.log.Info().Bool("backup", backupEnabled).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron scheduler, waiting for in-flight entries.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Maintenance scheduler stopped")
}

func (s *Service) addEntry(schedule, kind string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		res := s.dispatcher.Enqueue(&dispatch.Job{
			Kind:      kind,
			Class:     budget.ClassBackground,
			Priority:  8,
			DedupeKey: kind,
			Source:    "maintenance",
		})
		if res.Duplicate {
			s.log.Debug().Str("kind", kind).Msg("Housekeeping job already in flight, skipped")
			return
		}
		s.log.Info().Str("kind", kind).Str("job_id", res.JobID).Msg("Housekeeping job enqueued")
	})
	return err
}
