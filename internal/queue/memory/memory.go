// Package memory implements the queue in process memory. It does not survive
// restarts and exists for tests and development without local storage.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"dukapos/terminal/internal/domain"
	"dukapos/terminal/internal/queue"
)

type Queue struct {
	mu    sync.RWMutex
	sales map[string]domain.PendingSale
}

func New() *Queue {
	return &Queue{sales: make(map[string]domain.PendingSale)}
}

func (q *Queue) Enqueue(_ context.Context, sale domain.PendingSale) error {
	if sale.ID == "" {
		return queue.ErrInvalidSale
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.sales[sale.ID]; exists {
		return queue.ErrDuplicateID
	}
	q.sales[sale.ID] = sale
	return nil
}

func (q *Queue) snapshot(filter func(domain.PendingSale) bool) []domain.PendingSale {
	q.mu.RLock()
	defer q.mu.RUnlock()

	sales := make([]domain.PendingSale, 0, len(q.sales))
	for _, sale := range q.sales {
		if filter == nil || filter(sale) {
			sales = append(sales, sale)
		}
	}
	slices.SortFunc(sales, func(a, b domain.PendingSale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sales
}

func (q *Queue) ListUnsynced(_ context.Context) ([]domain.PendingSale, error) {
	return q.snapshot(func(sale domain.PendingSale) bool {
		return sale.Status == domain.SaleStatusPending
	}), nil
}

func (q *Queue) ListAll(_ context.Context) ([]domain.PendingSale, error) {
	return q.snapshot(nil), nil
}

func (q *Queue) MarkSynced(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sale, exists := q.sales[id]
	if !exists || sale.Status == domain.SaleStatusSynced {
		return nil
	}
	now := time.Now().UTC()
	sale.Status = domain.SaleStatusSynced
	sale.FailReason = ""
	sale.SyncedAt = &now
	q.sales[id] = sale
	return nil
}

func (q *Queue) MarkFailed(_ context.Context, id string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	sale, exists := q.sales[id]
	if !exists || sale.Status == domain.SaleStatusSynced {
		return nil
	}
	sale.Status = domain.SaleStatusFailed
	sale.FailReason = reason
	q.sales[id] = sale
	return nil
}

func (q *Queue) PurgeSynced(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, sale := range q.sales {
		if sale.Status == domain.SaleStatusSynced {
			delete(q.sales, id)
			removed++
		}
	}
	return removed, nil
}
