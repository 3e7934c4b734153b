package payment

import (
	"errors"

	"loyalchain/native/shop"
)

var (
	ErrNotConfigured          = errors.New("payment: engine not configured")
	ErrPaymentNotFound        = errors.New("payment: not found")
	ErrDuplicatePayment       = errors.New("payment: duplicate payment id")
	ErrBadSignature           = errors.New("payment: bad signature")
	ErrSecretMismatch         = errors.New("payment: secret mismatch")
	ErrInsufficientBalance    = errors.New("payment: insufficient balance")
	ErrInsufficientFeeBalance = errors.New("payment: insufficient fee account balance")
	ErrInvalidState           = errors.New("payment: invalid state transition")
	ErrWindowExpired          = errors.New("payment: cancellation window expired")
	ErrInvalidAmount          = errors.New("payment: amount must be positive")
)

// ErrorCode maps an engine error to the short opaque token surfaced to
// callers on the wire.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicatePayment):
		return "duplicate-payment-id"
	case errors.Is(err, ErrBadSignature):
		return "bad-signature"
	case errors.Is(err, ErrSecretMismatch):
		return "secret-mismatch"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient-balance"
	case errors.Is(err, ErrInsufficientFeeBalance):
		return "insufficient-fee-account-balance"
	case errors.Is(err, ErrInvalidState):
		return "invalid-state-transition"
	case errors.Is(err, ErrWindowExpired):
		return "cancellation-window-expired"
	case errors.Is(err, ErrPaymentNotFound):
		return "payment-not-found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid-amount"
	case errors.Is(err, shop.ErrShopNotFound):
		return "shop-not-found"
	default:
		return "internal-error"
	}
}
