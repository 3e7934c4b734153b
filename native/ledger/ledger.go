package ledger

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"loyalchain/core/types"
	"loyalchain/storage"
)

// Kind selects which of the two per-account denominations an operation
// touches.
type Kind uint8

const (
	Point Kind = iota
	Token
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrNonceMismatch       = errors.New("ledger: nonce mismatch")
	ErrNegativeAmount      = errors.New("ledger: negative amount")
	ErrUnknownKind         = errors.New("ledger: unknown balance kind")
)

var accountPrefix = []byte("ledger/account/")

// Config carries the reserved accounts and fee parameters the ledger exposes
// to the payment engine.
type Config struct {
	SystemAccount        [20]byte
	FeeCollectionAccount [20]byte
	FeeBps               uint32
}

// Ledger owns every account balance and replay nonce. All mutations are
// serialized under a single mutex so check-and-write sequences are atomic
// from the caller's point of view.
type Ledger struct {
	mu  sync.Mutex
	db  storage.Database
	cfg Config
}

// New creates a ledger backed by the supplied database.
func New(db storage.Database, cfg Config) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database required")
	}
	if cfg.FeeBps > 10_000 {
		return nil, fmt.Errorf("ledger: fee bps out of range: %d", cfg.FeeBps)
	}
	return &Ledger{db: db, cfg: cfg}, nil
}

func accountKey(addr [20]byte) []byte {
	return append(append([]byte(nil), accountPrefix...), []byte(hex.EncodeToString(addr[:]))...)
}

func (l *Ledger) getAccount(addr [20]byte) (*types.Account, error) {
	raw, err := l.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return (&types.Account{}).Normalize(), nil
	}
	if err != nil {
		return nil, err
	}
	acc := &types.Account{}
	if err := json.Unmarshal(raw, acc); err != nil {
		return nil, fmt.Errorf("ledger: decode account: %w", err)
	}
	return acc.Normalize(), nil
}

func (l *Ledger) putAccount(addr [20]byte, acc *types.Account) error {
	raw, err := json.Marshal(acc.Normalize())
	if err != nil {
		return fmt.Errorf("ledger: encode account: %w", err)
	}
	return l.db.Put(accountKey(addr), raw)
}

func balanceFor(acc *types.Account, kind Kind) (*big.Int, error) {
	switch kind {
	case Point:
		return acc.BalancePoint, nil
	case Token:
		return acc.BalanceToken, nil
	default:
		return nil, ErrUnknownKind
	}
}

func setBalance(acc *types.Account, kind Kind, v *big.Int) {
	if kind == Point {
		acc.BalancePoint = v
		return
	}
	acc.BalanceToken = v
}

// BalanceOf returns the current balance of the given kind.
func (l *Ledger) BalanceOf(addr [20]byte, kind Kind) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.getAccount(addr)
	if err != nil {
		return nil, err
	}
	bal, err := balanceFor(acc, kind)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(bal), nil
}

// NonceOf returns the account's current replay nonce.
func (l *Ledger) NonceOf(addr [20]byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.getAccount(addr)
	if err != nil {
		return 0, err
	}
	return acc.Nonce, nil
}

// ConsumeNonce atomically compares the stored nonce against the expected
// value and increments it. A mismatch leaves the account untouched.
func (l *Ledger) ConsumeNonce(addr [20]byte, expected uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.getAccount(addr)
	if err != nil {
		return err
	}
	if acc.Nonce != expected {
		return fmt.Errorf("%w: have %d, signed %d", ErrNonceMismatch, acc.Nonce, expected)
	}
	acc.Nonce++
	return l.putAccount(addr, acc)
}

// Debit subtracts amount from the account, failing the whole call if the
// balance would go negative.
func (l *Ledger) Debit(addr [20]byte, kind Kind, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debitLocked(addr, kind, amount)
}

func (l *Ledger) debitLocked(addr [20]byte, kind Kind, amount *big.Int) error {
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	acc, err := l.getAccount(addr)
	if err != nil {
		return err
	}
	bal, err := balanceFor(acc, kind)
	if err != nil {
		return err
	}
	if bal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amt)
	}
	setBalance(acc, kind, new(big.Int).Sub(bal, amt))
	return l.putAccount(addr, acc)
}

// Credit adds amount to the account.
func (l *Ledger) Credit(addr [20]byte, kind Kind, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.creditLocked(addr, kind, amount)
}

func (l *Ledger) creditLocked(addr [20]byte, kind Kind, amount *big.Int) error {
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	acc, err := l.getAccount(addr)
	if err != nil {
		return err
	}
	bal, err := balanceFor(acc, kind)
	if err != nil {
		return err
	}
	setBalance(acc, kind, new(big.Int).Add(bal, amt))
	return l.putAccount(addr, acc)
}

// Transfer atomically debits from and credits to. The debit-side shortfall
// check runs before any write.
func (l *Ledger) Transfer(from, to [20]byte, kind Kind, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	amt, err := checkAmount(amount)
	if err != nil {
		return err
	}
	if amt.Sign() == 0 || from == to {
		return nil
	}
	fromAcc, err := l.getAccount(from)
	if err != nil {
		return err
	}
	fromBal, err := balanceFor(fromAcc, kind)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amt)
	}
	toAcc, err := l.getAccount(to)
	if err != nil {
		return err
	}
	toBal, err := balanceFor(toAcc, kind)
	if err != nil {
		return err
	}
	setBalance(fromAcc, kind, new(big.Int).Sub(fromBal, amt))
	setBalance(toAcc, kind, new(big.Int).Add(toBal, amt))
	if err := l.putAccount(from, fromAcc); err != nil {
		return err
	}
	return l.putAccount(to, toAcc)
}

// SystemAccount returns the account fees are distributed from.
func (l *Ledger) SystemAccount() [20]byte { return l.cfg.SystemAccount }

// FeeCollectionAccount returns the account that accumulates collected fees.
func (l *Ledger) FeeCollectionAccount() [20]byte { return l.cfg.FeeCollectionAccount }

// FeeBps returns the configured payment fee rate in basis points.
func (l *Ledger) FeeBps() uint32 { return l.cfg.FeeBps }

// PaymentAgentOf returns the alternate signer registered for the account, if
// any.
func (l *Ledger) PaymentAgentOf(addr [20]byte) ([20]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var agent [20]byte
	acc, err := l.getAccount(addr)
	if err != nil {
		return agent, false, err
	}
	if len(acc.PaymentAgent) != 20 {
		return agent, false, nil
	}
	copy(agent[:], acc.PaymentAgent)
	return agent, true, nil
}

// SetPaymentAgent registers (or, with the zero address, clears) the account's
// alternate authorized signer.
func (l *Ledger) SetPaymentAgent(addr, agent [20]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, err := l.getAccount(addr)
	if err != nil {
		return err
	}
	if agent == ([20]byte{}) {
		acc.PaymentAgent = nil
	} else {
		acc.PaymentAgent = append([]byte(nil), agent[:]...)
	}
	return l.putAccount(addr, acc)
}

func checkAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	return new(big.Int).Set(amount), nil
}
