// Package redisq implements the queue on a redis hash, for terminals that
// run a local redis with append-only persistence. Records are stored as JSON
// under one hash key so a single HGETALL recovers the whole queue.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dukapos/terminal/internal/domain"
	"dukapos/terminal/internal/queue"
)

const defaultKey = "dukapos:pending-sales"

type Queue struct {
	client *redis.Client
	key    string
}

func New(addr string, password string, db int, key string) *Queue {
	if strings.TrimSpace(key) == "" {
		key = defaultKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Queue{client: client, key: key}
}

// Ping verifies redis is reachable; callers treat failure as storage
// unavailable for the session.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", queue.ErrStorageUnavailable, err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, sale domain.PendingSale) error {
	if sale.ID == "" {
		return queue.ErrInvalidSale
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("encode sale %s: %w", sale.ID, err)
	}

	stored, err := q.client.HSetNX(ctx, q.key, sale.ID, payload).Result()
	if err != nil {
		return fmt.Errorf("spool sale %s: %w", sale.ID, err)
	}
	if !stored {
		return queue.ErrDuplicateID
	}
	return nil
}

func (q *Queue) list(ctx context.Context) ([]domain.PendingSale, error) {
	raw, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}

	sales := make([]domain.PendingSale, 0, len(raw))
	for _, val := range raw {
		var sale domain.PendingSale
		if err := json.Unmarshal([]byte(val), &sale); err != nil {
			continue
		}
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.PendingSale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sales, nil
}

func (q *Queue) ListUnsynced(ctx context.Context) ([]domain.PendingSale, error) {
	sales, err := q.list(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]domain.PendingSale, 0, len(sales))
	for _, sale := range sales {
		if sale.Status == domain.SaleStatusPending {
			pending = append(pending, sale)
		}
	}
	return pending, nil
}

func (q *Queue) ListAll(ctx context.Context) ([]domain.PendingSale, error) {
	return q.list(ctx)
}

func (q *Queue) update(ctx context.Context, id string, mutate func(*domain.PendingSale)) error {
	val, err := q.client.HGet(ctx, q.key, id).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sale %s: %w", id, err)
	}

	var sale domain.PendingSale
	if err := json.Unmarshal([]byte(val), &sale); err != nil {
		return fmt.Errorf("decode sale %s: %w", id, err)
	}
	mutate(&sale)

	payload, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("encode sale %s: %w", id, err)
	}
	if err := q.client.HSet(ctx, q.key, id, payload).Err(); err != nil {
		return fmt.Errorf("write sale %s: %w", id, err)
	}
	return nil
}

func (q *Queue) MarkSynced(ctx context.Context, id string) error {
	return q.update(ctx, id, func(sale *domain.PendingSale) {
		if sale.Status == domain.SaleStatusSynced {
			return
		}
		now := time.Now().UTC()
		sale.Status = domain.SaleStatusSynced
		sale.FailReason = ""
		sale.SyncedAt = &now
	})
}

func (q *Queue) MarkFailed(ctx context.Context, id string, reason string) error {
	return q.update(ctx, id, func(sale *domain.PendingSale) {
		if sale.Status == domain.SaleStatusSynced {
			return
		}
		sale.Status = domain.SaleStatusFailed
		sale.FailReason = reason
	})
}

func (q *Queue) PurgeSynced(ctx context.Context) (int, error) {
	sales, err := q.list(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		if sale.Status == domain.SaleStatusSynced {
			ids = append(ids, sale.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	removed, err := q.client.HDel(ctx, q.key, ids...).Result()
	return int(removed), err
}
