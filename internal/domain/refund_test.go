package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAmountLimitsValidate(t *testing.T) {
	t.Parallel()

	limits := DefaultAmountLimits()
	cases := []struct {
		amount  string
		wantErr string
	}{
		{"0", "Amount must be greater than zero"},
		{"-5", "Amount must be greater than zero"},
		{"49.99", "Minimum refund amount is 50"},
		{"50", ""},
		{"10000", ""},
		{"10000.01", "Maximum refund amount is 10000"},
		{"50.0001", "Amount must have at most two decimal places"},
		{"75.505", "Amount must have at most two decimal places"},
		{"75.50", ""},
		{"75.500", ""},
	}
	for _, tc := range cases {
		err := limits.Validate(decimal.RequireFromString(tc.amount))
		if tc.wantErr == "" {
			if err != nil {
				t.Errorf("amount %s: unexpected error %v", tc.amount, err)
			}
			continue
		}
		if err == nil || err.Error() != tc.wantErr {
			t.Errorf("amount %s: expected %q, got %v", tc.amount, tc.wantErr, err)
		}
		if KindOf(err) != KindValidation {
			t.Errorf("amount %s: expected validation kind, got %s", tc.amount, KindOf(err))
		}
	}
}

func TestTransitionGuards(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status                      RefundStatus
		confirm, verifying, approve bool
	}{
		{StatusPending, true, true, false},
		{StatusPaymentConfirmed, false, true, true},
		{StatusAdminVerifying, false, false, true},
		{StatusApproved, false, false, false},
		{StatusRejected, false, false, false},
	}
	for _, tc := range cases {
		r := &RefundRequest{Status: tc.status}
		if got := r.CanConfirmPayment(); got != tc.confirm {
			t.Errorf("%s: CanConfirmPayment = %v", tc.status, got)
		}
		if got := r.CanMarkVerifying(); got != tc.verifying {
			t.Errorf("%s: CanMarkVerifying = %v", tc.status, got)
		}
		if got := r.CanApprove(); got != tc.approve {
			t.Errorf("%s: CanApprove = %v", tc.status, got)
		}
		if tc.status.Terminal() == tc.status.Open() {
			t.Errorf("%s: terminal and open must be exclusive", tc.status)
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := fmt.Errorf("approve: %w", Persistence("Failed to update refund request", cause))

	if KindOf(err) != KindPersistence {
		t.Fatalf("expected persistence kind, got %s", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	var de *Error
	if !errors.As(err, &de) || de.Error() != "Failed to update refund request: connection reset" {
		t.Fatalf("unexpected message: %v", err)
	}
	if KindOf(ErrNotAuthenticated) != KindAuthentication {
		t.Fatal("expected authentication kind")
	}
}
