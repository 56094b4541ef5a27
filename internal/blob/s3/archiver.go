package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/calebwray/swapflow/internal/domain"
)

const (
	defaultRetention = 30 * 24 * time.Hour
	defaultInterval  = time.Hour
	defaultBatchSize = 500

	archiveLockKey = "history-archive"
	archiveLockTTL = 5 * time.Minute
)

// BlobPutter is the upload surface the archiver needs.
type BlobPutter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// ArchiveSource reads and prunes settled history rows. The Postgres history
// store satisfies it.
type ArchiveSource interface {
	ListTerminalBefore(ctx context.Context, before time.Time, limit int) ([]domain.HistoryRecord, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// Locker serializes archive runs across instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ArchiverConfig controls retention and batching. Zero values fall back to
// 30 days retention, hourly runs, and batches of 500 rows.
type ArchiverConfig struct {
	Retention time.Duration
	Interval  time.Duration
	BatchSize int
}

// Archiver periodically exports terminal (confirmed or failed) orders older
// than the retention window to S3 as JSONL, then deletes the exported rows
// from Postgres. A distributed lock keeps concurrent instances from
// exporting the same rows.
type Archiver struct {
	writer    BlobPutter
	source    ArchiveSource
	locks     Locker
	logger    *slog.Logger
	retention time.Duration
	interval  time.Duration
	batchSize int
}

// NewArchiver creates an Archiver.
func NewArchiver(writer BlobPutter, source ArchiveSource, locks Locker, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Archiver{
		writer:    writer,
		source:    source,
		locks:     locks,
		logger:    logger.With(slog.String("component", "archiver")),
		retention: cfg.Retention,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Run archives on the configured interval until ctx is cancelled. Errors from
// individual runs are logged, not fatal.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce exports and prunes all eligible rows, returning how many were
// archived. A held lock means another instance is already running; that
// counts as a clean zero-row run.
func (a *Archiver) RunOnce(ctx context.Context) (int64, error) {
	unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.DebugContext(ctx, "archive lock held elsewhere, skipping")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: acquire archive lock: %w", err)
	}
	defer unlock()

	cutoff := time.Now().UTC().Add(-a.retention)

	var total int64
	for {
		n, err := a.archiveBatch(ctx, cutoff)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(a.batchSize) {
			break
		}
	}

	if total > 0 {
		a.logger.InfoContext(ctx, "archive run complete",
			slog.Int64("archived", total),
			slog.Time("cutoff", cutoff),
		)
	}
	return total, nil
}

// archiveBatch exports one batch of rows and deletes them only after the
// upload succeeded, so a failed upload never loses data.
func (a *Archiver) archiveBatch(ctx context.Context, cutoff time.Time) (int64, error) {
	records, err := a.source.ListTerminalBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list archivable orders: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal archive batch: %w", err)
	}

	key := archiveKey(time.Now().UTC())
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload archive %s: %w", key, err)
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.OrderID
	}
	deleted, err := a.source.DeleteByIDs(ctx, ids)
	if err != nil {
		return int64(len(records)), fmt.Errorf("s3blob: prune archived orders: %w", err)
	}

	a.logger.InfoContext(ctx, "archive batch uploaded",
		slog.String("key", key),
		slog.Int("records", len(records)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(records)), nil
}

// archiveKey partitions uploads by month with a unique per-run object name.
//
//	archive/orders/2026-08/20260825T140000Z.jsonl
func archiveKey(now time.Time) string {
	return fmt.Sprintf("archive/orders/%s/%s.jsonl",
		now.Format("2006-01"), now.Format("20060102T150405Z"))
}

// marshalJSONL serializes records as newline-delimited JSON, one compact
// object per line.
func marshalJSONL(records []domain.HistoryRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
