// Package sqlite implements the command repository on the embedded store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/felipemaragno/beacon/internal/clock"
	"github.com/felipemaragno/beacon/internal/domain"
	"github.com/felipemaragno/beacon/internal/store"
)

// RetentionWindow is the hard floor for durable records: anything older is
// excluded from queries, though not actively purged by that mechanism alone.
const RetentionWindow = 30 * 24 * time.Hour

// CommandRepository persists commands in the embedded SQLite table. The
// process id identifies the runtime instance that wrote each record, which
// partitions "same-process remaining" from "other-process retryable".
type CommandRepository struct {
	store     *store.Store
	processID string
	clock     clock.Clock
	logger    *slog.Logger
}

func NewCommandRepository(s *store.Store, processID string, clk clock.Clock, logger *slog.Logger) *CommandRepository {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CommandRepository{
		store:     s,
		processID: processID,
		clock:     clk,
		logger:    logger,
	}
}

func (r *CommandRepository) IsRegistered(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.store.DB().QueryRowContext(ctx,
		`SELECT 1 FROM commands WHERE id = ?`, id,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup command %s: %w", id, err)
	}
	return true, nil
}

func (r *CommandRepository) Register(ctx context.Context, c *domain.Command) error {
	if !c.Properties.Retryable {
		return nil
	}

	payload, err := domain.EncodeCommand(c)
	if err != nil {
		return fmt.Errorf("register command %s: %w", c.ID, err)
	}

	now := r.clock.Now().Unix()
	ready := 0
	if c.Properties.ReadyOnBackground {
		ready = 1
	}

	// Upsert on command id: re-registering refreshes the payload so consumed
	// backoff budget survives process restarts, and moves ownership to the
	// current process run. created_at is immutable to keep the retention
	// floor anchored at first registration.
	_, err = r.store.DB().ExecContext(ctx, `
		INSERT INTO commands (id, process_id, payload, ready_on_background, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			process_id = excluded.process_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, c.ID, r.processID, payload, ready, c.CreatedAt.Unix(), now)
	if err != nil {
		return fmt.Errorf("register command %s: %w", c.ID, err)
	}
	return nil
}

func (r *CommandRepository) Unregister(ctx context.Context, id string) error {
	_, err := r.store.DB().ExecContext(ctx, `DELETE FROM commands WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("unregister command %s: %w", id, err)
	}
	return nil
}

func (r *CommandRepository) UnregisterAll(ctx context.Context) error {
	_, err := r.store.DB().ExecContext(ctx, `DELETE FROM commands`)
	if err != nil {
		return fmt.Errorf("unregister all commands: %w", err)
	}
	return nil
}

func (r *CommandRepository) Commands(ctx context.Context) ([]*domain.Command, error) {
	return r.query(ctx, `
		SELECT payload FROM commands
		WHERE created_at > ?
		ORDER BY created_at
	`, r.retentionFloor())
}

func (r *CommandRepository) RetryableCommands(ctx context.Context) ([]*domain.Command, error) {
	return r.query(ctx, `
		SELECT payload FROM commands
		WHERE created_at > ? AND process_id != ?
		ORDER BY created_at
	`, r.retentionFloor(), r.processID)
}

func (r *CommandRepository) retentionFloor() int64 {
	return r.clock.Now().Add(-RetentionWindow).Unix()
}

func (r *CommandRepository) query(ctx context.Context, q string, args ...any) ([]*domain.Command, error) {
	rows, err := r.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var commands []*domain.Command
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		c, err := domain.DecodeCommand(payload)
		if err != nil {
			// Decode failure is non-fatal: log and drop the record.
			r.logger.Warn("dropping undecodable command record", "error", err)
			continue
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}
