package models

import (
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/shopspring/decimal"
)

// CreateRefundRequest is the payload a tasker posts to open a refund.
type CreateRefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type ConfirmPaymentRequest struct {
	ReceiptURL string `json:"receipt_url"`
}

// AdminActionRequest carries optional notes for verify and approve, and the
// mandatory reason for reject.
type AdminActionRequest struct {
	AdminNotes string `json:"admin_notes"`
}

// Envelope is the response shape of single-object endpoints and of every
// failure. At most one payload field is set.
type Envelope struct {
	Success bool                          `json:"success"`
	Request *domain.RefundRequest         `json:"request,omitempty"`
	Stats   map[domain.RefundStatus]int64 `json:"stats,omitempty"`
	Wallet  *domain.Wallet                `json:"wallet,omitempty"`
	Error   string                        `json:"error,omitempty"`
}

// RefundList always carries the requests key, even when empty.
type RefundList struct {
	Success  bool                   `json:"success"`
	Requests []domain.RefundRequest `json:"requests"`
	Limit    int                    `json:"limit,omitempty"`
	Offset   int                    `json:"offset,omitempty"`
}

type NotificationList struct {
	Success       bool                  `json:"success"`
	Notifications []domain.Notification `json:"notifications"`
}

// TokenResponse is printed by the token command and returned by dev tooling.
type TokenResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	ExpiresIn string `json:"expires_in"`
}
