package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleTasker Role = "tasker"
	RoleClient Role = "client"
	RoleBoth   Role = "both"
	RoleAdmin  Role = "admin"
)

// CanRequestRefund reports whether the role owns a tasker wallet.
func (r Role) CanRequestRefund() bool {
	return r == RoleTasker || r == RoleBoth
}

// User is a marketplace account together with its mutable wallet balance.
type User struct {
	ID            uuid.UUID       `json:"id"`
	Email         string          `json:"email"`
	FullName      string          `json:"full_name"`
	Role          Role            `json:"role"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Session is the resolved caller of an operation. The zero value is an
// unauthenticated caller.
type Session struct {
	UserID uuid.UUID
	Role   Role
}

func (s Session) Authenticated() bool { return s.UserID != uuid.Nil }
func (s Session) IsAdmin() bool       { return s.Role == RoleAdmin }

type RefundStatus string

const (
	StatusPending          RefundStatus = "pending"
	StatusPaymentConfirmed RefundStatus = "payment_confirmed"
	StatusAdminVerifying   RefundStatus = "admin_verifying"
	StatusApproved         RefundStatus = "approved"
	StatusRejected         RefundStatus = "rejected"
)

// OpenStatuses are the non-terminal statuses. A tasker holds at most one
// request in any of them.
var OpenStatuses = []RefundStatus{StatusPending, StatusPaymentConfirmed, StatusAdminVerifying}

var AllStatuses = []RefundStatus{
	StatusPending, StatusPaymentConfirmed, StatusAdminVerifying, StatusApproved, StatusRejected,
}

// RefundRequest is a tasker's request to withdraw part of the wallet balance.
type RefundRequest struct {
	ID            uuid.UUID       `json:"id"`
	TaskerID      uuid.UUID       `json:"tasker_id"`
	Amount        decimal.Decimal `json:"amount"`
	ReferenceCode string          `json:"reference_code"`
	Status        RefundStatus    `json:"status"`
	ReceiptURL    string          `json:"receipt_url,omitempty"`
	AdminID       *uuid.UUID      `json:"admin_id,omitempty"`
	AdminNotes    string          `json:"admin_notes,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RefundFilter narrows admin listings. An empty Status matches every status.
type RefundFilter struct {
	TaskerID *uuid.UUID
	Status   RefundStatus
	Limit    int
	Offset   int
}

type LedgerEntryType string

const (
	LedgerWithdrawal LedgerEntryType = "withdrawal"
	LedgerDeposit    LedgerEntryType = "deposit"
	LedgerRefund     LedgerEntryType = "refund"
)

// LedgerEntry is an immutable balance-affecting event. Amount is signed.
type LedgerEntry struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        LedgerEntryType `json:"type"`
	ReferenceID *uuid.UUID      `json:"reference_id,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Notification is an in-app message shown to a single user.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Link      string     `json:"link,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Wallet is the read model of a user's balance and ledger.
type Wallet struct {
	UserID  uuid.UUID       `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Entries []LedgerEntry   `json:"entries"`
}
