// Package repository defines durable bookkeeping for retryable commands.
package repository

import (
	"context"

	"github.com/felipemaragno/beacon/internal/domain"
)

// CommandRepository persists retryable commands until their bundle is
// delivered. Storage is best-effort: implementations report errors, but the
// pipeline logs and continues; durability never blocks delivery.
type CommandRepository interface {
	// IsRegistered reports whether a record for the command id exists.
	// Advisory only; duplicates are still accepted by the pipeline.
	IsRegistered(ctx context.Context, id string) (bool, error)

	// Register persists the command. Re-registering an existing id refreshes
	// the stored payload, so consumed backoff budget survives process
	// restarts. No-op for non-retryable commands.
	Register(ctx context.Context, c *domain.Command) error

	// Unregister removes the record. Removing a missing record is not an
	// error.
	Unregister(ctx context.Context, id string) error

	// UnregisterAll truncates the table (opt-out / teardown).
	UnregisterAll(ctx context.Context) error

	// Commands returns all records within the retention window, regardless
	// of owning process.
	Commands(ctx context.Context) ([]*domain.Command, error)

	// RetryableCommands returns records within the retention window written
	// by a different process run: the resurrection set fed back into the
	// pipeline at startup.
	RetryableCommands(ctx context.Context) ([]*domain.Command, error)
}
