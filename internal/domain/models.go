package domain

import "time"

// SaleLine is one cart line frozen at capture time. Exactly one of
// ProductID / ServiceID is set. Prices are copied by value so later catalog
// edits never change a captured sale.
type SaleLine struct {
	ProductID      string `json:"product_id,omitempty"`
	ServiceID      string `json:"service_id,omitempty"`
	Name           string `json:"name,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

// Commission is a staff commission earned on a sale, computed at capture and
// persisted to the backend together with the sale.
type Commission struct {
	StaffID     string `json:"staff_id"`
	AmountCents int64  `json:"amount_cents"`
}

// PendingSale is a completed checkout awaiting persistence to the Sales
// Backend. ID is generated once at capture time and doubles as the backend
// idempotency key; CreatedAt orders sync submissions.
type PendingSale struct {
	ID            string       `json:"id"`
	BusinessID    string       `json:"business_id"`
	StaffID       string       `json:"staff_id"`
	CustomerID    string       `json:"customer_id,omitempty"`
	CustomerName  string       `json:"customer_name,omitempty"`
	CustomerPhone string       `json:"customer_phone,omitempty"`
	TotalCents    int64        `json:"total_cents"`
	PaymentMethod string       `json:"payment_method"`
	Items         []SaleLine   `json:"items"`
	Commissions   []Commission `json:"commissions,omitempty"`
	Notes         string       `json:"notes,omitempty"`
	ReceiptNumber string       `json:"receipt_number"`
	Status        string       `json:"status"`
	FailReason    string       `json:"fail_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	SyncedAt      *time.Time   `json:"synced_at,omitempty"`
}

type CaptureLine struct {
	ProductID      string `json:"product_id,omitempty"`
	ServiceID      string `json:"service_id,omitempty"`
	Name           string `json:"name,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type CaptureRequest struct {
	BusinessID    string `json:"business_id,omitempty"`
	StaffID       string `json:"staff_id"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	PaymentMethod string `json:"payment_method"`
	Notes         string `json:"notes,omitempty"`
	// TotalCents is the total shown to the cashier. When non-zero it must
	// match the sum of the lines or the capture is rejected.
	TotalCents int64         `json:"total_cents,omitempty"`
	Items      []CaptureLine `json:"items"`
}

type CaptureResponse struct {
	SaleID        string `json:"sale_id"`
	ReceiptNumber string `json:"receipt_number"`
	TotalCents    int64  `json:"total_cents"`
	// Queued is true when the terminal was offline and the sale is waiting
	// for the next sync pass.
	Queued    bool   `json:"queued"`
	CreatedAt string `json:"created_at"`
}

type SaleListResponse struct {
	Sales []PendingSale `json:"sales"`
}

// TerminalStatus backs the offline banner and sync indicator on the till.
type TerminalStatus struct {
	TerminalID   string `json:"terminal_id"`
	Online       bool   `json:"online"`
	Syncing      bool   `json:"syncing"`
	PendingCount int    `json:"pending_count"`
	FailedCount  int    `json:"failed_count"`
}

type PurgeResponse struct {
	Removed int `json:"removed"`
}

const (
	PaymentCash         = "cash"
	PaymentMpesa        = "mpesa"
	PaymentCard         = "card"
	PaymentBankTransfer = "bank_transfer"
)

const (
	SaleStatusPending = "pending"
	SaleStatusSynced  = "synced"
	SaleStatusFailed  = "failed"
)

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentCash, PaymentMpesa, PaymentCard, PaymentBankTransfer:
		return true
	}
	return false
}
