package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/punchamoorthee/refundops/internal/domain"
	"github.com/punchamoorthee/refundops/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errInsufficientBalance = domain.Invalid("Insufficient wallet balance")

// CreateRefundRequest opens a pending refund for the calling tasker. The
// balance and open-request checks run under a lock on the tasker's row.
func (s *Service) CreateRefundRequest(ctx context.Context, sess domain.Session, amount decimal.Decimal) (*domain.RefundRequest, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	if !sess.Role.CanRequestRefund() {
		return nil, domain.Unauthorized("Only taskers can request refunds")
	}
	if err := s.limits.Validate(amount); err != nil {
		return nil, err
	}

	var created *domain.RefundRequest
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		tasker, err := q.LockUser(ctx, sess.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("User profile not found")
		}
		if err != nil {
			return err
		}
		if tasker.WalletBalance.LessThan(amount) {
			return errInsufficientBalance
		}

		open, err := q.HasOpenRefundRequest(ctx, tasker.ID)
		if err != nil {
			return err
		}
		if open {
			return domain.InvalidState("You already have a pending refund request")
		}

		code, err := s.codes.Generate(ctx, q)
		if err != nil {
			return err
		}
		now := s.now()
		req := &domain.RefundRequest{
			ID:            uuid.New(),
			TaskerID:      tasker.ID,
			Amount:        amount,
			ReferenceCode: code,
			Status:        domain.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := q.InsertRefundRequest(ctx, req); err != nil {
			if errors.Is(err, store.ErrOpenRequestExists) {
				return domain.InvalidState("You already have a pending refund request")
			}
			return err
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, wrap(err, "Failed to create refund request")
	}

	refundTransitions.WithLabelValues(string(domain.StatusPending)).Inc()
	s.logger.Info("refund request created",
		zap.String("request_id", created.ID.String()),
		zap.String("tasker_id", created.TaskerID.String()),
		zap.String("reference_code", created.ReferenceCode),
		zap.String("amount", created.Amount.String()),
	)
	s.notifyAdmins(ctx, created, "refund_request",
		"New refund request",
		"A tasker requested a refund of "+created.Amount.String()+" ("+created.ReferenceCode+").")
	return created, nil
}

// ConfirmPayment records the tasker's proof of payment on a pending request.
func (s *Service) ConfirmPayment(ctx context.Context, sess domain.Session, id uuid.UUID, receiptURL string) (*domain.RefundRequest, error) {
	if !sess.Authenticated() {
		return nil, domain.ErrNotAuthenticated
	}
	receiptURL = strings.TrimSpace(receiptURL)
	if err := validateReceiptURL(receiptURL); err != nil {
		return nil, err
	}

	var updated *domain.RefundRequest
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		req, err := q.LockRefundRequest(ctx, id)
		if err != nil {
			return refundNotFound(err)
		}
		if req.TaskerID != sess.UserID {
			return domain.Unauthorized("You can only confirm payment for your own refund requests")
		}
		if !req.CanConfirmPayment() {
			return domain.InvalidState("Cannot confirm payment for request with status: %s", req.Status)
		}

		now := s.now()
		req.Status = domain.StatusPaymentConfirmed
		req.ReceiptURL = receiptURL
		req.ConfirmedAt = &now
		req.UpdatedAt = now
		if err := q.UpdateRefundRequest(ctx, req); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, wrap(err, "Failed to confirm payment")
	}

	refundTransitions.WithLabelValues(string(updated.Status)).Inc()
	s.logger.Info("refund payment confirmed",
		zap.String("request_id", updated.ID.String()),
		zap.String("reference_code", updated.ReferenceCode),
	)
	s.notifyAdmins(ctx, updated, "refund_payment_confirmed",
		"Refund payment confirmed",
		"Payment for refund "+updated.ReferenceCode+" was confirmed and is ready for review.")
	return updated, nil
}

// MarkAsVerifying moves a request into admin review.
func (s *Service) MarkAsVerifying(ctx context.Context, sess domain.Session, id uuid.UUID, notes string) (*domain.RefundRequest, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)

	var updated *domain.RefundRequest
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		req, err := q.LockRefundRequest(ctx, id)
		if err != nil {
			return refundNotFound(err)
		}
		if !req.CanMarkVerifying() {
			return domain.InvalidState("Cannot mark request as verifying with status: %s", req.Status)
		}

		adminID := sess.UserID
		req.Status = domain.StatusAdminVerifying
		req.AdminID = &adminID
		if notes != "" {
			req.AdminNotes = notes
		}
		req.UpdatedAt = s.now()
		if err := q.UpdateRefundRequest(ctx, req); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return nil, wrap(err, "Failed to update refund request")
	}

	refundTransitions.WithLabelValues(string(updated.Status)).Inc()
	s.logger.Info("refund request under verification",
		zap.String("request_id", updated.ID.String()),
		zap.String("admin_id", sess.UserID.String()),
	)
	return updated, nil
}

// ApproveRefundRequest debits the tasker's wallet, appends the withdrawal to
// the ledger and marks the request approved, all in one transaction.
func (s *Service) ApproveRefundRequest(ctx context.Context, sess domain.Session, id uuid.UUID, notes string) (*domain.RefundRequest, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)

	var (
		approved *domain.RefundRequest
		balance  decimal.Decimal
	)
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		req, err := q.LockRefundRequest(ctx, id)
		if err != nil {
			return refundNotFound(err)
		}
		if !req.CanApprove() {
			return domain.InvalidState("Cannot approve request with status: %s", req.Status)
		}

		tasker, err := q.LockUser(ctx, req.TaskerID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("Tasker not found")
		}
		if err != nil {
			return err
		}
		if tasker.WalletBalance.LessThan(req.Amount) {
			return errInsufficientBalance
		}

		balance, err = q.AdjustBalance(ctx, tasker.ID, req.Amount.Neg())
		if errors.Is(err, store.ErrNegativeBalance) {
			return errInsufficientBalance
		}
		if err != nil {
			return err
		}

		now := s.now()
		refID := req.ID
		if err := q.InsertLedgerEntry(ctx, &domain.LedgerEntry{
			ID:          uuid.New(),
			UserID:      tasker.ID,
			Amount:      req.Amount.Neg(),
			Type:        domain.LedgerWithdrawal,
			ReferenceID: &refID,
			Notes:       req.ReferenceCode,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		adminID := sess.UserID
		req.Status = domain.StatusApproved
		req.AdminID = &adminID
		if notes != "" {
			req.AdminNotes = notes
		}
		req.ApprovedAt = &now
		req.UpdatedAt = now
		if err := q.UpdateRefundRequest(ctx, req); err != nil {
			return err
		}
		approved = req
		return nil
	})
	if err != nil {
		return nil, wrap(err, "Failed to approve refund request")
	}

	refundTransitions.WithLabelValues(string(approved.Status)).Inc()
	s.logger.Info("refund request approved",
		zap.String("request_id", approved.ID.String()),
		zap.String("admin_id", sess.UserID.String()),
		zap.String("amount", approved.Amount.String()),
		zap.String("balance_after", balance.String()),
	)
	s.emailTasker(ctx, approved, templateApproved)
	return approved, nil
}

// RejectRefundRequest closes a request with a mandatory reason. Unless
// strict rejection is enabled, any status may be rejected.
func (s *Service) RejectRefundRequest(ctx context.Context, sess domain.Session, id uuid.UUID, notes string) (*domain.RefundRequest, error) {
	if err := requireAdmin(sess); err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, domain.Invalid("Admin notes are required when rejecting a refund request")
	}

	var rejected *domain.RefundRequest
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		req, err := q.LockRefundRequest(ctx, id)
		if err != nil {
			return refundNotFound(err)
		}
		if s.strictReject && req.Status.Terminal() {
			return domain.InvalidState("Cannot reject request with status: %s", req.Status)
		}
		if req.Status.Terminal() {
			s.logger.Warn("rejecting refund request in terminal status",
				zap.String("request_id", req.ID.String()),
				zap.String("status", string(req.Status)),
			)
		}

		adminID := sess.UserID
		req.Status = domain.StatusRejected
		req.AdminID = &adminID
		req.AdminNotes = notes
		req.UpdatedAt = s.now()
		if err := q.UpdateRefundRequest(ctx, req); err != nil {
			return err
		}
		rejected = req
		return nil
	})
	if err != nil {
		return nil, wrap(err, "Failed to reject refund request")
	}

	refundTransitions.WithLabelValues(string(rejected.Status)).Inc()
	s.logger.Info("refund request rejected",
		zap.String("request_id", rejected.ID.String()),
		zap.String("admin_id", sess.UserID.String()),
	)
	s.emailTasker(ctx, rejected, templateRejected)
	return rejected, nil
}

func validateReceiptURL(raw string) error {
	if raw == "" {
		return domain.Invalid("Receipt URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.Invalid("Receipt URL must be a valid http or https URL")
	}
	return nil
}
