package store

import (
	"context"
	_ "embed"
	"errors"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrOpenRequestExists is raised by the partial unique index that allows
	// one non-terminal refund request per tasker.
	ErrOpenRequestExists = errors.New("open refund request already exists")
	ErrDuplicateCode     = errors.New("reference code already exists")
	ErrNegativeBalance   = errors.New("wallet balance cannot go negative")
)

//go:embed schema.sql
var Schema string

// Queries is the set of statements the refund lifecycle issues. Lock*
// variants take a row lock when run inside WithTx.
type Queries interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	LockUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	ListUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)

	InsertLedgerEntry(ctx context.Context, entry *domain.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, userID uuid.UUID) ([]domain.LedgerEntry, error)

	ReferenceCodeExists(ctx context.Context, code string) (bool, error)
	HasOpenRefundRequest(ctx context.Context, taskerID uuid.UUID) (bool, error)
	InsertRefundRequest(ctx context.Context, req *domain.RefundRequest) error
	GetRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error)
	LockRefundRequest(ctx context.Context, id uuid.UUID) (*domain.RefundRequest, error)
	UpdateRefundRequest(ctx context.Context, req *domain.RefundRequest) error
	ListRefundRequests(ctx context.Context, filter domain.RefundFilter) ([]domain.RefundRequest, error)
	CountRefundRequestsByStatus(ctx context.Context) (map[domain.RefundStatus]int64, error)

	InsertNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID) ([]domain.Notification, error)
}
