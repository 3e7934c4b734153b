package payment

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

func TestStatusTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusInvalid:       false,
		StatusOpenedPayment: false,
		StatusClosedPayment: false,
		StatusFailedPayment: true,
		StatusOpenedCancel:  false,
		StatusClosedCancel:  true,
		StatusFailedCancel:  true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %t, want %t", status, got, want)
		}
	}
}

func TestRecordCloneIsIndependent(t *testing.T) {
	rec := &Record{
		PaymentID: newTestID(0x01),
		Amount:    big.NewInt(100),
		PaidPoint: big.NewInt(100),
		FeePoint:  big.NewInt(1),
		Status:    StatusOpenedPayment,
	}
	clone := rec.Clone()
	clone.Amount.SetInt64(5)
	clone.Status = StatusClosedPayment
	if rec.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("clone mutation leaked into original amount")
	}
	if rec.Status != StatusOpenedPayment {
		t.Fatalf("clone mutation leaked into original status")
	}
	if rec.EscrowTotal().Cmp(big.NewInt(101)) != 0 {
		t.Fatalf("escrow total = %s, want 101", rec.EscrowTotal())
	}
}

func TestSecretHashMatchesLock(t *testing.T) {
	secret := []byte("the-reveal")
	lock := SecretHash(secret)
	if SecretHash(secret) != lock {
		t.Fatalf("secret hash must be deterministic")
	}
	if SecretHash([]byte("other")) == lock {
		t.Fatalf("distinct secrets must not collide")
	}
}

func TestErrorCodes(t *testing.T) {
	cases := map[error]string{
		ErrDuplicatePayment:       "duplicate-payment-id",
		ErrBadSignature:           "bad-signature",
		ErrSecretMismatch:         "secret-mismatch",
		ErrInsufficientBalance:    "insufficient-balance",
		ErrInsufficientFeeBalance: "insufficient-fee-account-balance",
		ErrInvalidState:           "invalid-state-transition",
		ErrWindowExpired:          "cancellation-window-expired",
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", err, got, want)
		}
		wrapped := fmt.Errorf("context: %w", err)
		if got := ErrorCode(wrapped); got != want {
			t.Fatalf("ErrorCode(wrapped %v) = %q, want %q", err, got, want)
		}
	}
	if got := ErrorCode(errors.New("boom")); got != "internal-error" {
		t.Fatalf("unknown error code = %q", got)
	}
}
