// Package queue defines the local durable queue that keeps captured sales
// safe on the terminal until the Sales Backend acknowledges them.
package queue

import (
	"context"
	"errors"

	"dukapos/terminal/internal/domain"
)

var (
	// ErrStorageUnavailable means local persistence could not be prepared.
	// Offline capture is unavailable for the session; the till must surface
	// this instead of silently losing sales.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrDuplicateID is returned when a sale id is enqueued twice. Sale ids
	// are generated client-side, so this indicates a programming error.
	ErrDuplicateID = errors.New("duplicate sale id")

	// ErrInvalidSale is returned for records that violate capture invariants.
	ErrInvalidSale = errors.New("invalid sale")
)

// Queue is the crash-safe store of pending sales. Implementations must
// survive process restarts (the in-memory variant exists for tests and
// explicitly does not) and must be safe for concurrent use.
type Queue interface {
	// Enqueue durably appends one record. The write must be visible to
	// subsequent reads even after a restart before Enqueue returns.
	Enqueue(ctx context.Context, sale domain.PendingSale) error

	// ListUnsynced returns pending records ordered by CreatedAt ascending,
	// ties broken by id. Records already synced or marked failed are
	// excluded. Does not mutate state.
	ListUnsynced(ctx context.Context) ([]domain.PendingSale, error)

	// ListAll returns every record regardless of status, for diagnostics
	// and export, in the same order as ListUnsynced.
	ListAll(ctx context.Context) ([]domain.PendingSale, error)

	// MarkSynced flips the record to synced. Calling it twice, or for an id
	// that no longer exists, is a no-op rather than an error.
	MarkSynced(ctx context.Context, id string) error

	// MarkFailed annotates the record as terminally rejected by the backend,
	// excluding it from further automatic retry. Distinct from synced.
	MarkFailed(ctx context.Context, id string, reason string) error

	// PurgeSynced deletes synced records and reports how many were removed.
	// Best-effort; partial completion only delays storage reclamation.
	PurgeSynced(ctx context.Context) (int, error)
}
