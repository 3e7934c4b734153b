package payment

import (
	"math/big"
)

// Status represents the lifecycle states of a payment record. Transitions
// form a strict DAG; a record never returns to a prior state.
type Status uint8

const (
	StatusInvalid Status = iota
	StatusOpenedPayment
	StatusClosedPayment
	StatusFailedPayment
	StatusOpenedCancel
	StatusClosedCancel
	StatusFailedCancel
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusFailedCancel
}

// Terminal reports whether the record can never transition again.
// CLOSED_PAYMENT is not terminal because a cancellation may still open.
func (s Status) Terminal() bool {
	switch s {
	case StatusFailedPayment, StatusClosedCancel, StatusFailedCancel:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "INVALID"
	case StatusOpenedPayment:
		return "OPENED_PAYMENT"
	case StatusClosedPayment:
		return "CLOSED_PAYMENT"
	case StatusFailedPayment:
		return "FAILED_PAYMENT"
	case StatusOpenedCancel:
		return "OPENED_CANCEL"
	case StatusClosedCancel:
		return "CLOSED_CANCEL"
	case StatusFailedCancel:
		return "FAILED_CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Record captures a payment held in escrow. The point/token views of the
// amount and fee are fixed when the payment opens; UsedValueShop is set at
// settlement. Records are never deleted: once terminal they remain queryable
// for audit.
type Record struct {
	PaymentID  [32]byte `json:"paymentId"`
	PurchaseID string   `json:"purchaseId"`
	Amount     *big.Int `json:"amount"`
	Currency   string   `json:"currency"`
	ShopID     [32]byte `json:"shopId"`
	Account    [20]byte `json:"account"`
	SecretLock [32]byte `json:"secretLock"`
	Timestamp  int64    `json:"timestamp"`

	PaidPoint *big.Int `json:"paidPoint"`
	PaidToken *big.Int `json:"paidToken"`
	PaidValue *big.Int `json:"paidValue"`
	FeePoint  *big.Int `json:"feePoint"`
	FeeToken  *big.Int `json:"feeToken"`
	FeeValue  *big.Int `json:"feeValue"`

	UsedValueShop *big.Int `json:"usedValueShop"`

	Status Status `json:"status"`
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Clone returns a deep copy so callers can safely mutate the result without
// affecting the stored record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Amount = cloneBig(r.Amount)
	clone.PaidPoint = cloneBig(r.PaidPoint)
	clone.PaidToken = cloneBig(r.PaidToken)
	clone.PaidValue = cloneBig(r.PaidValue)
	clone.FeePoint = cloneBig(r.FeePoint)
	clone.FeeToken = cloneBig(r.FeeToken)
	clone.FeeValue = cloneBig(r.FeeValue)
	clone.UsedValueShop = cloneBig(r.UsedValueShop)
	return &clone
}

// EscrowTotal returns the point amount held for the record while a payment or
// cancellation is in flight.
func (r *Record) EscrowTotal() *big.Int {
	return new(big.Int).Add(cloneBig(r.PaidPoint), cloneBig(r.FeePoint))
}
