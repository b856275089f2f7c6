// Package postgres inserts sales directly into the platform database for
// deployments where the terminal has a database route. The insert is
// idempotent on sale id via ON CONFLICT DO NOTHING, so a retried submission
// after a lost acknowledgment never duplicates rows.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dukapos/terminal/internal/backend"
	"dukapos/terminal/internal/domain"
	"dukapos/terminal/internal/xid"
)

type Client struct {
	db *sql.DB
}

// New configures the client. It does not require the database to be
// reachable: a terminal may start offline, and the connectivity monitor
// discovers the backend once the network returns.
func New(databaseURL string) (*Client, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	return c.db.PingContext(pingCtx)
}

func (c *Client) InsertSale(ctx context.Context, sale domain.PendingSale) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err, sale.ID)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sales (id, business_id, staff_id, customer_id, customer_name, customer_phone,
			total_amount_cents, payment_method, status, notes, receipt_number, created_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,'completed',$9,$10,$11)
		ON CONFLICT (id) DO NOTHING
	`, sale.ID, sale.BusinessID, sale.StaffID, sale.CustomerID, sale.CustomerName, sale.CustomerPhone,
		sale.TotalCents, sale.PaymentMethod, sale.Notes, sale.ReceiptNumber, sale.CreatedAt)
	if err != nil {
		return classify(err, sale.ID)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return classify(err, sale.ID)
	}
	if inserted == 0 {
		// A previous attempt already landed this sale; nothing to redo.
		return nil
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, service_id, quantity, unit_price_cents, total_price_cents)
			VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5,$6,$7)
		`, xid.New("si"), sale.ID, item.ProductID, item.ServiceID, item.Qty, item.UnitPriceCents, item.TotalCents)
		if err != nil {
			return classify(err, sale.ID)
		}
	}

	for _, commission := range sale.Commissions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO commissions (id, sale_id, staff_id, commission_amount_cents, status, created_at)
			VALUES ($1,$2,$3,$4,'pending',$5)
		`, xid.New("comm"), sale.ID, commission.StaffID, commission.AmountCents, sale.CreatedAt)
		if err != nil {
			return classify(err, sale.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err, sale.ID)
	}
	return nil
}

// classify maps database failures onto the retryable / non-retryable split.
// Integrity violations (a deleted staff member, malformed values) cannot
// succeed on retry; everything else is assumed transient.
func classify(err error, saleID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502", "23503", "23514", "22P02", "22001", "22003":
			return fmt.Errorf("%w: sale %s: %s", backend.ErrRejected, saleID, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: sale %s: %v", backend.ErrUnavailable, saleID, err)
}
