// Package backend defines the Sales Backend collaborator: a remote store
// that persists captured sales and deduplicates on the client-supplied id.
package backend

import (
	"context"
	"errors"

	"dukapos/terminal/internal/domain"
)

var (
	// ErrUnavailable classifies transient failures (network, timeout, 5xx).
	// The sync engine keeps the record queued and retries on the next pass.
	ErrUnavailable = errors.New("sales backend unavailable")

	// ErrRejected classifies permanent failures (validation, dangling
	// references). Resubmitting the same record cannot succeed; it must be
	// marked failed and routed to operator review.
	ErrRejected = errors.New("sale rejected by backend")
)

// Client is the insert surface of the Sales Backend. InsertSale must be safe
// to call twice for the same sale id: a lost acknowledgment is retried, and
// the backend deduplicates on id.
type Client interface {
	InsertSale(ctx context.Context, sale domain.PendingSale) error
	Ping(ctx context.Context) error
}

// IsRetryable reports whether resubmission of the failed insert could
// plausibly succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
