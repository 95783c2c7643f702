package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/store"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// ListTaskerRefundRequests returns the caller's own requests, newest first.
func (s *Service) ListTaskerRefundRequests(ctx context.Context, sess domain.Session) ([]domain.RefundRequest, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	taskerID := sess.UserID
	reqs, err := s.repo.ListRefundRequests(ctx, domain.RefundFilter{TaskerID: &taskerID})
	if err != nil {
		return nil, domain.Persistence("Failed to fetch refund requests", err)
	}
	return reqs, nil
}

// ListAllRefundRequests is the admin queue. A zero limit means the default
// page size; larger limits are capped.
func (s *Service) ListAllRefundRequests(ctx context.Context, sess domain.Session, filter domain.RefundFilter) ([]domain.RefundRequest, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.Invalid("Invalid status filter: %s", filter.Status)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, domain.Invalid("Limit and offset must not be negative")
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultPageSize
	}
	filter.Limit = min(filter.Limit, MaxPageSize)

	reqs, err := s.repo.ListRefundRequests(ctx, filter)
	if err != nil {
		return nil, domain.Persistence("Failed to fetch refund requests", err)
	}
	return reqs, nil
}

// GetRefundRequest is visible to the owning tasker and to admins.
func (s *Service) GetRefundRequest(ctx context.Context, sess domain.Session, id uuid.UUID) (*domain.RefundRequest, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	req, err := s.repo.GetRefundRequest(ctx, id)
	if err != nil {
		return nil, wrap(refundNotFound(err), "Failed to fetch refund request")
	}
	if req.TaskerID != sess.UserID && !sess.IsAdmin() {
		return nil, domain.Unauthorized("You can only view your own refund requests")
	}
	return req, nil
}

// RefundStats counts requests per status, including zero counts.
func (s *Service) RefundStats(ctx context.Context, sess domain.Session) (map[domain.RefundStatus]int64, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	counts, err := s.repo.CountRefundRequestsByStatus(ctx)
	if err != nil {
		return nil, domain.Persistence("Failed to fetch refund statistics", err)
	}
	for _, st := range domain.AllStatuses {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts, nil
}

func (s *Service) GetWallet(ctx context.Context, sess domain.Session) (*domain.Wallet, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	user, err := s.repo.GetUser(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("User profile not found")
	}
	if err != nil {
		return nil, domain.Persistence("Failed to fetch wallet", err)
	}
	entries, err := s.repo.ListLedgerEntries(ctx, user.ID)
	if err != nil {
		return nil, domain.Persistence("Failed to fetch wallet", err)
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return &domain.Wallet{UserID: user.ID, Balance: user.WalletBalance, Entries: entries}, nil
}

func (s *Service) ListNotifications(ctx context.Context, sess domain.Session) ([]domain.Notification, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	ns, err := s.repo.ListNotifications(ctx, sess.UserID)
	if err != nil {
		return nil, domain.Persistence("Failed to fetch notifications", err)
	}
	return ns, nil
}
