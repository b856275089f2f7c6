// Package file implements the durable queue as one JSON document per sale in
// a spool directory. Writes go through a temp file and rename so a crash
// mid-write never corrupts an existing record.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"dukapos/terminal/internal/domain"
	"dukapos/terminal/internal/queue"
)

type Queue struct {
	dir    string
	logger *zap.Logger
}

// New prepares the spool directory, creating it on first use. Opening the
// same directory twice is harmless.
func New(dir string, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("%w: empty spool directory", queue.ErrStorageUnavailable)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", queue.ErrStorageUnavailable, err)
	}

	// Verify the directory is actually writable before reporting offline
	// capture as available.
	probe := filepath.Join(dir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("%w: %v", queue.ErrStorageUnavailable, err)
	}
	_ = os.Remove(probe)

	return &Queue{dir: dir, logger: logger}, nil
}

func (q *Queue) path(id string) string {
	return filepath.Join(q.dir, id+".json")
}

func (q *Queue) Enqueue(_ context.Context, sale domain.PendingSale) error {
	if sale.ID == "" {
		return queue.ErrInvalidSale
	}
	if _, err := os.Stat(q.path(sale.ID)); err == nil {
		return queue.ErrDuplicateID
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat sale %s: %w", sale.ID, err)
	}

	return q.write(sale)
}

// write persists the record with write-temp / fsync / rename so the spool
// never holds a partially written record.
func (q *Queue) write(sale domain.PendingSale) error {
	payload, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("encode sale %s: %w", sale.ID, err)
	}

	tmp, err := os.CreateTemp(q.dir, sale.ID+".tmp-")
	if err != nil {
		return fmt.Errorf("spool sale %s: %w", sale.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("spool sale %s: %w", sale.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("spool sale %s: %w", sale.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("spool sale %s: %w", sale.ID, err)
	}
	if err := os.Rename(tmpName, q.path(sale.ID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("spool sale %s: %w", sale.ID, err)
	}
	return nil
}

func (q *Queue) read(id string) (domain.PendingSale, error) {
	var sale domain.PendingSale
	raw, err := os.ReadFile(q.path(id))
	if err != nil {
		return sale, err
	}
	if err := json.Unmarshal(raw, &sale); err != nil {
		return sale, err
	}
	return sale, nil
}

func (q *Queue) list() ([]domain.PendingSale, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}

	sales := make([]domain.PendingSale, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sale, err := q.read(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// An unreadable record stays on disk for manual inspection but
			// must not block the rest of the queue.
			q.logger.Warn("skipping unreadable spool record",
				zap.String("file", name), zap.Error(err))
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

func (q *Queue) ListUnsynced(_ context.Context) ([]domain.PendingSale, error) {
	sales, err := q.list()
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

func (q *Queue) ListAll(_ context.Context) ([]domain.PendingSale, error) {
	return q.list()
}

func (q *Queue) MarkSynced(_ context.Context, id string) error {
	sale, err := q.read(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("mark synced %s: %w", id, err)
	}
	if sale.Status == domain.SaleStatusSynced {
		return nil
	}

	now := nowUTC()
	sale.Status = domain.SaleStatusSynced
	sale.FailReason = ""
	sale.SyncedAt = &now
	return q.write(sale)
}

func (q *Queue) MarkFailed(_ context.Context, id string, reason string) error {
	sale, err := q.read(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("mark failed %s: %w", id, err)
	}
	// Synced is terminal; an acknowledged sale never reverts.
	if sale.Status == domain.SaleStatusSynced {
		return nil
	}
	sale.Status = domain.SaleStatusFailed
	sale.FailReason = reason
	return q.write(sale)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func (q *Queue) PurgeSynced(_ context.Context) (int, error) {
	sales, err := q.list()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sale := range sales {
		if sale.Status != domain.SaleStatusSynced {
			continue
		}
		if err := os.Remove(q.path(sale.ID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			// Partial purge is fine; the record is retried on a later sweep.
			q.logger.Warn("purge failed", zap.String("sale_id", sale.ID), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
