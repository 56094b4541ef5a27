package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calebwray/swapflow/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// HistoryStore implements domain.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHistoryStore creates a HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool, logger *slog.Logger) *HistoryStore {
	return &HistoryStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "history_store")),
	}
}

// insertOrderQuery seeds updated_at from the received timestamp so a fresh
// row's list cursor equals its receivedAt exactly.
const insertOrderQuery = `
		INSERT INTO order_history (
			order_id, order_type, token_in, token_out, amount,
			status, status_history, received_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $8)
		ON CONFLICT (order_id) DO NOTHING`

// Insert creates the row for a new order. Re-inserting an existing order ID
// is a no-op so intake retries stay idempotent.
func (s *HistoryStore) Insert(ctx context.Context, rec domain.HistoryRecord) error {
	trail, err := json.Marshal(rec.StatusHistory)
	if err != nil {
		return fmt.Errorf("postgres: marshal status trail for %s: %w", rec.OrderID, err)
	}

	_, err = s.pool.Exec(ctx, insertOrderQuery,
		rec.OrderID, string(rec.OrderType), rec.TokenIn, rec.TokenOut,
		strconv.FormatUint(rec.Amount, 10),
		string(rec.Status), string(trail), rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", rec.OrderID, err)
	}
	return nil
}

// AppendStatus sets the latest status, appends one trail entry, and writes
// any non-empty side fields, all in a single statement. A missing row is
// logged and swallowed so worker retries never crash on it.
func (s *HistoryStore) AppendStatus(ctx context.Context, upd domain.StatusUpdate) error {
	entry, err := json.Marshal([]domain.StatusEntry{{
		Status:     upd.Status,
		Detail:     upd.Detail,
		Link:       upd.Link,
		RecordedAt: time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("postgres: marshal status entry for %s: %w", upd.OrderID, err)
	}

	const query = `
		UPDATE order_history SET
			status          = $2,
			status_history  = status_history || $3::jsonb,
			venue           = COALESCE(NULLIF($4, ''), venue),
			tx_hash         = COALESCE(NULLIF($5, ''), tx_hash),
			executed_amount = CASE WHEN $6 = '' THEN executed_amount ELSE $6::numeric END,
			last_error      = COALESCE(NULLIF($7, ''), last_error),
			explorer_link   = COALESCE(NULLIF($8, ''), explorer_link),
			updated_at      = NOW()
		WHERE order_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		upd.OrderID, string(upd.Status), string(entry),
		upd.Venue, upd.TxHash, upd.ExecutedAmount, upd.LastError, upd.Link,
	)
	if err != nil {
		return fmt.Errorf("postgres: append status for %s: %w", upd.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WarnContext(ctx, "status update for unknown order",
			slog.String("order_id", upd.OrderID),
			slog.String("status", string(upd.Status)),
		)
	}
	return nil
}

// RecordRoutingDecision stores the winning venue and its quote on the row
// without touching the status trail.
func (s *HistoryStore) RecordRoutingDecision(ctx context.Context, orderID string, quote domain.QuoteResponse) error {
	payload, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("postgres: marshal quote for %s: %w", orderID, err)
	}

	const query = `
		UPDATE order_history SET
			venue          = $2,
			quote_response = $3::jsonb,
			updated_at     = NOW()
		WHERE order_id = $1`

	tag, err := s.pool.Exec(ctx, query, orderID, quote.Venue, string(payload))
	if err != nil {
		return fmt.Errorf("postgres: record routing decision for %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.WarnContext(ctx, "routing decision for unknown order",
			slog.String("order_id", orderID),
		)
	}
	return nil
}

const historySelectCols = `order_id, order_type, token_in, token_out,
	amount::text, status, status_history, venue, tx_hash,
	COALESCE(executed_amount::text, ''), quote_response, last_error,
	explorer_link, received_at, updated_at`

func scanHistoryFromRow(scanner interface{ Scan(dest ...any) error }) (domain.HistoryRecord, error) {
	var (
		rec       domain.HistoryRecord
		orderType string
		status    string
		amountStr string
		trailRaw  []byte
		quoteRaw  []byte
	)

	err := scanner.Scan(
		&rec.OrderID, &orderType, &rec.TokenIn, &rec.TokenOut,
		&amountStr, &status, &trailRaw, &rec.Venue, &rec.TxHash,
		&rec.ExecutedAmount, &quoteRaw, &rec.LastError,
		&rec.ExplorerLink, &rec.ReceivedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.HistoryRecord{}, err
	}

	rec.OrderType = domain.OrderType(orderType)
	rec.Status = domain.Status(status)

	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("postgres: parse amount %q for %s: %w", amountStr, rec.OrderID, err)
	}
	rec.Amount = amount

	if len(trailRaw) > 0 {
		if err := json.Unmarshal(trailRaw, &rec.StatusHistory); err != nil {
			return domain.HistoryRecord{}, fmt.Errorf("postgres: decode status trail for %s: %w", rec.OrderID, err)
		}
	}
	if len(quoteRaw) > 0 {
		rec.QuoteResponse = &domain.QuoteResponse{}
		if err := json.Unmarshal(quoteRaw, rec.QuoteResponse); err != nil {
			return domain.HistoryRecord{}, fmt.Errorf("postgres: decode quote for %s: %w", rec.OrderID, err)
		}
	}

	return rec, nil
}

// List returns one page of history rows in updated_at-descending order using
// keyset pagination. The limit is clamped to [1, 200] with a default of 50.
func (s *HistoryStore) List(ctx context.Context, opts domain.HistoryListOpts) (domain.HistoryPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	const query = `
		SELECT ` + historySelectCols + `
		FROM order_history
		WHERE ($1::timestamptz IS NULL OR updated_at < $1)
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, opts.Cursor, limit)
	if err != nil {
		return domain.HistoryPage{}, fmt.Errorf("postgres: list history: %w", err)
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanHistoryFromRow(rows)
		if err != nil {
			return domain.HistoryPage{}, fmt.Errorf("postgres: scan history row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return domain.HistoryPage{}, fmt.Errorf("postgres: iterate history rows: %w", err)
	}

	page := domain.HistoryPage{Records: records}
	if len(records) == limit {
		cursor := records[len(records)-1].UpdatedAt
		page.NextCursor = &cursor
	}
	return page, nil
}

// GetByID retrieves a single order's history row.
func (s *HistoryStore) GetByID(ctx context.Context, orderID string) (domain.HistoryRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+historySelectCols+` FROM order_history WHERE order_id = $1`, orderID)

	rec, err := scanHistoryFromRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HistoryRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.HistoryRecord{}, fmt.Errorf("postgres: get order %s: %w", orderID, err)
	}
	return rec, nil
}

// ListTerminalBefore returns up to limit confirmed or failed orders last
// updated before the cutoff, oldest first. The archiver drains eligible rows
// through it.
func (s *HistoryStore) ListTerminalBefore(ctx context.Context, before time.Time, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	const query = `
		SELECT ` + historySelectCols + `
		FROM order_history
		WHERE status IN ('confirmed', 'failed') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal orders: %w", err)
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanHistoryFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan terminal order: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate terminal orders: %w", err)
	}
	return records, nil
}

// DeleteByIDs removes the given orders and returns how many rows went away.
func (s *HistoryStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM order_history WHERE order_id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete archived orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.HistoryStore = (*HistoryStore)(nil)
