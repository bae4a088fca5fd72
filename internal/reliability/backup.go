package reliability

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/overseer/internal/store"
)

// backupPrefix namespaces backup objects inside the bucket.
const backupPrefix = "overseer/"

// BackupService snapshots the orchestrator store and uploads it to
// object storage, rotating old backups past a retention count.
type BackupService struct {
	db        *store.DB
	client    *S3Client
	keepCount int
	log       zerolog.Logger
}

// NewBackupService creates a backup service.
func NewBackupService(db *store.DB, client *S3Client, keepCount int, log zerolog.Logger) *BackupService {
	if keepCount <= 0 {
		keepCount = 7
	}
	return &BackupService{
		db:        db,
		client:    client,
		keepCount: keepCount,
		log:       log.With().Str("component", "backup").Logger(),
	}
}

// Run creates and uploads one backup, then rotates. Registered as the
// store_backup job kind.
func (s *BackupService) Run(ctx context.Context) error {
	start := time.Now()

	stagingDir, err := os.MkdirTemp("", "overseer-backup-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	snapPath := filepath.Join(stagingDir, "state.db")
	if err := s.db.SnapshotTo(ctx, snapPath); err != nil {
		return fmt.Errorf("failed to snapshot store: %w", err)
	}

	gzPath := snapPath + ".gz"
	if err := gzipFile(snapPath, gzPath); err != nil {
		return fmt.Errorf("failed to compress snapshot: %w", err)
	}

	f, err := os.Open(gzPath)
	if err != nil {
		return fmt.Errorf("failed to open compressed snapshot: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("%sstate-%s.db.gz", backupPrefix, start.UTC().Format("2006-01-02T15-04-05"))
	if err := s.client.Upload(ctx, key, f); err != nil {
		return err
	}

	s.log.Info().
		Str("key", key).
		Dur("elapsed", time.Since(start)).
		Msg("Backup uploaded")

	return s.rotate(ctx)
}

// rotate deletes the oldest backups beyond the retention count.
func (s *BackupService) rotate(ctx context.Context) error {
	keys, err := s.client.ListKeys(ctx, backupPrefix)
	if err != nil {
		return err
	}
	if len(keys) <= s.keepCount {
		return nil
	}
	for _, key := range keys[:len(keys)-s.keepCount] {
		if err := s.client.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", key).Msg("Old backup rotated out")
	}
	return nil
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
