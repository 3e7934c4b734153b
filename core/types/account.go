package types

import "math/big"

// Account tracks the two balance denominations carried by every participant:
// spendable loyalty points and the transferable token backing them. The nonce
// is consumed once per authorized call and provides replay protection.
type Account struct {
	Nonce        uint64   `json:"nonce"`
	BalancePoint *big.Int `json:"balancePoint"`
	BalanceToken *big.Int `json:"balanceToken"`
	PaymentAgent []byte   `json:"paymentAgent,omitempty"`
}

// Normalize replaces nil balance fields with zero values so callers can rely
// on non-nil big.Int pointers.
func (a *Account) Normalize() *Account {
	if a == nil {
		return &Account{BalancePoint: big.NewInt(0), BalanceToken: big.NewInt(0)}
	}
	if a.BalancePoint == nil {
		a.BalancePoint = big.NewInt(0)
	}
	if a.BalanceToken == nil {
		a.BalanceToken = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).Normalize()
	}
	clone := &Account{
		Nonce:        a.Nonce,
		BalancePoint: big.NewInt(0),
		BalanceToken: big.NewInt(0),
	}
	if a.BalancePoint != nil {
		clone.BalancePoint = new(big.Int).Set(a.BalancePoint)
	}
	if a.BalanceToken != nil {
		clone.BalanceToken = new(big.Int).Set(a.BalanceToken)
	}
	if len(a.PaymentAgent) > 0 {
		clone.PaymentAgent = append([]byte(nil), a.PaymentAgent...)
	}
	return clone
}
