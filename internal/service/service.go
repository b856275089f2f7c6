// Package service is the capture path: the boundary between a completed
// checkout and durable storage. A sale counts as captured the moment it is
// durably queued; the backend round-trip never gates the cashier.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dukapos/terminal/internal/connectivity"
	"dukapos/terminal/internal/domain"
	"dukapos/terminal/internal/queue"
	"dukapos/terminal/internal/syncer"
	"dukapos/terminal/internal/xid"
)

// ErrCaptureFailed means the local enqueue failed and the checkout is not
// complete; the cashier must retry the action.
var ErrCaptureFailed = errors.New("capture failed")

type Service struct {
	queue      queue.Queue
	engine     *syncer.Engine
	monitor    *connectivity.Monitor
	logger     *zap.Logger
	terminalID string
	businessID string

	// commissionCents is the flat commission per service line unit credited
	// to the serving staff member (barbershop policy).
	commissionCents int64
}

func New(q queue.Queue, engine *syncer.Engine, monitor *connectivity.Monitor, logger *zap.Logger, terminalID string, businessID string, commissionCents int64) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		queue:           q,
		engine:          engine,
		monitor:         monitor,
		logger:          logger,
		terminalID:      terminalID,
		businessID:      businessID,
		commissionCents: commissionCents,
	}
}

// CaptureSale validates and durably queues one checkout. It returns success
// as soon as the enqueue is durable; when the terminal is online it also
// fires a best-effort sync so the common case reaches the backend quickly.
func (s *Service) CaptureSale(ctx context.Context, req domain.CaptureRequest) (domain.CaptureResponse, error) {
	sale, err := s.buildSale(req)
	if err != nil {
		return domain.CaptureResponse{}, err
	}

	if err := s.queue.Enqueue(ctx, sale); err != nil {
		if errors.Is(err, queue.ErrDuplicateID) {
			// Sale ids are generated here, so a collision is a bug, not a
			// condition to retry.
			s.logger.Error("duplicate sale id on enqueue", zap.String("sale_id", sale.ID))
		}
		return domain.CaptureResponse{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	online := s.monitor != nil && s.monitor.Online()
	s.logger.Info("sale captured",
		zap.String("sale_id", sale.ID),
		zap.String("receipt", sale.ReceiptNumber),
		zap.Int64("total_cents", sale.TotalCents),
		zap.Bool("online", online))

	if online && s.engine != nil {
		// Fire and forget; the capture result never waits on the network.
		s.engine.Trigger(context.WithoutCancel(ctx))
	}

	return domain.CaptureResponse{
		SaleID:        sale.ID,
		ReceiptNumber: sale.ReceiptNumber,
		TotalCents:    sale.TotalCents,
		Queued:        !online,
		CreatedAt:     sale.CreatedAt.Format(time.RFC3339),
	}, nil
}

func (s *Service) buildSale(req domain.CaptureRequest) (domain.PendingSale, error) {
	businessID := strings.TrimSpace(req.BusinessID)
	if businessID == "" {
		businessID = s.businessID
	}
	staffID := strings.TrimSpace(req.StaffID)
	if businessID == "" || staffID == "" {
		return domain.PendingSale{}, fmt.Errorf("%w: business and staff required", queue.ErrInvalidSale)
	}
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return domain.PendingSale{}, fmt.Errorf("%w: unsupported payment method %q", queue.ErrInvalidSale, req.PaymentMethod)
	}
	if len(req.Items) == 0 {
		return domain.PendingSale{}, fmt.Errorf("%w: empty cart", queue.ErrInvalidSale)
	}

	items := make([]domain.SaleLine, 0, len(req.Items))
	total := int64(0)
	serviceUnits := 0
	for _, line := range req.Items {
		if line.Qty < 1 || line.UnitPriceCents < 0 {
			return domain.PendingSale{}, fmt.Errorf("%w: bad line qty or price", queue.ErrInvalidSale)
		}
		if (line.ProductID == "") == (line.ServiceID == "") {
			return domain.PendingSale{}, fmt.Errorf("%w: line must reference exactly one product or service", queue.ErrInvalidSale)
		}
		lineTotal := int64(line.Qty) * line.UnitPriceCents
		items = append(items, domain.SaleLine{
			ProductID:      line.ProductID,
			ServiceID:      line.ServiceID,
			Name:           strings.TrimSpace(line.Name),
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     lineTotal,
		})
		total += lineTotal
		if line.ServiceID != "" {
			serviceUnits += line.Qty
		}
	}

	// The total shown to the cashier must equal the sum of the lines at the
	// moment of capture; it is frozen here and never recomputed.
	if req.TotalCents != 0 && req.TotalCents != total {
		return domain.PendingSale{}, fmt.Errorf("%w: total %d does not match line sum %d",
			queue.ErrInvalidSale, req.TotalCents, total)
	}

	var commissions []domain.Commission
	if serviceUnits > 0 && s.commissionCents > 0 {
		commissions = []domain.Commission{{
			StaffID:     staffID,
			AmountCents: s.commissionCents * int64(serviceUnits),
		}}
	}

	return domain.PendingSale{
		ID:            uuid.NewString(),
		BusinessID:    businessID,
		StaffID:       staffID,
		CustomerID:    strings.TrimSpace(req.CustomerID),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		TotalCents:    total,
		PaymentMethod: req.PaymentMethod,
		Items:         items,
		Commissions:   commissions,
		Notes:         strings.TrimSpace(req.Notes),
		ReceiptNumber: xid.Receipt(),
		Status:        domain.SaleStatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// SyncNow runs a synchronous sync pass (pull-to-refresh).
func (s *Service) SyncNow(ctx context.Context) error {
	if s.engine == nil {
		return nil
	}
	return s.engine.Sync(ctx)
}

func (s *Service) ListSales(ctx context.Context) ([]domain.PendingSale, error) {
	return s.queue.ListAll(ctx)
}

func (s *Service) ListPending(ctx context.Context) ([]domain.PendingSale, error) {
	return s.queue.ListUnsynced(ctx)
}

// PurgeSynced removes acknowledged records from local storage.
func (s *Service) PurgeSynced(ctx context.Context) (int, error) {
	removed, err := s.queue.PurgeSynced(ctx)
	if err != nil {
		s.logger.Warn("purge synced failed", zap.Error(err))
		return removed, err
	}
	if removed > 0 {
		s.logger.Info("purged synced sales", zap.Int("removed", removed))
	}
	return removed, nil
}

// Status reports connectivity and queue depth for the till banner.
func (s *Service) Status(ctx context.Context) (domain.TerminalStatus, error) {
	status := domain.TerminalStatus{
		TerminalID: s.terminalID,
		Online:     s.monitor != nil && s.monitor.Online(),
		Syncing:    s.engine != nil && s.engine.Syncing(),
	}

	sales, err := s.queue.ListAll(ctx)
	if err != nil {
		return status, err
	}
	for _, sale := range sales {
		switch sale.Status {
		case domain.SaleStatusPending:
			status.PendingCount++
		case domain.SaleStatusFailed:
			status.FailedCount++
		}
	}
	return status, nil
}
