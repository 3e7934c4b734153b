package shop

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"loyalchain/native/rates"
	"loyalchain/storage"
)

// Status reflects whether a shop may receive settlements.
type Status uint8

const (
	StatusInvalid Status = iota
	StatusActive
	StatusInactive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	default:
		return "INVALID"
	}
}

// ParseStatus maps the wire form of a status back to its value.
func ParseStatus(value string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ACTIVE":
		return StatusActive, nil
	case "INACTIVE":
		return StatusInactive, nil
	default:
		return StatusInvalid, fmt.Errorf("%w: unknown status %q", ErrInvalidShop, value)
	}
}

var (
	ErrShopExists     = errors.New("shop: already registered")
	ErrShopNotFound   = errors.New("shop: not found")
	ErrInvalidShop    = errors.New("shop: invalid definition")
	ErrUnauthorized   = errors.New("shop: unauthorized")
	ErrUsageExists    = errors.New("shop: usage already recorded")
	ErrUsageNotFound  = errors.New("shop: usage not recorded")
	ErrUsageReversed  = errors.New("shop: usage already reversed")
	ErrUsageMismatch  = errors.New("shop: usage amount mismatch")
	ErrNegativeUsage  = errors.New("shop: negative usage amount")
	errUsageUnderflow = errors.New("shop: used amount underflow")
)

var (
	recordPrefix = []byte("shop/record/")
	totalPrefix  = []byte("shop/usage/total/")
	entryPrefix  = []byte("shop/usage/entry/")
)

// Shop holds the registry record for a single merchant.
type Shop struct {
	ID       [32]byte `json:"id"`
	Name     string   `json:"name"`
	Status   Status   `json:"status"`
	Currency string   `json:"currency"`
	Account  [20]byte `json:"account"`
	Delegate [20]byte `json:"delegate"`
}

// Clone returns a copy of the shop record.
func (s *Shop) Clone() *Shop {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// UsageEntry is one append-only line of a shop's used-amount ledger. A
// reversal never deletes the entry; it flips the Reversed flag and keeps the
// original figures for audit.
type UsageEntry struct {
	PurchaseID string   `json:"purchaseId"`
	PaymentID  [32]byte `json:"paymentId"`
	Amount     *big.Int `json:"amount"`
	Reversed   bool     `json:"reversed"`
	RecordedAt int64    `json:"recordedAt"`
	ReversedAt int64    `json:"reversedAt,omitempty"`
}

// Registry persists shop records and their used-amount accounting.
type Registry struct {
	mu    sync.Mutex
	db    storage.Database
	nowFn func() int64
}

// NewRegistry creates a shop registry backed by the supplied database.
func NewRegistry(db storage.Database) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("shop: database required")
	}
	return &Registry{db: db, nowFn: func() int64 { return time.Now().Unix() }}, nil
}

// SetNowFunc overrides the registry clock, primarily for tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func recordKey(id [32]byte) []byte {
	return append(append([]byte(nil), recordPrefix...), []byte(hex.EncodeToString(id[:]))...)
}

func totalKey(id [32]byte) []byte {
	return append(append([]byte(nil), totalPrefix...), []byte(hex.EncodeToString(id[:]))...)
}

func entryKey(id [32]byte, purchaseID string, paymentID [32]byte) []byte {
	key := append(append([]byte(nil), entryPrefix...), []byte(hex.EncodeToString(id[:]))...)
	key = append(key, '/')
	key = append(key, []byte(purchaseID)...)
	key = append(key, '/')
	return append(key, []byte(hex.EncodeToString(paymentID[:]))...)
}

// Register persists a new shop record. Identifiers are caller-supplied and
// must be unique.
func (r *Registry) Register(s *Shop) error {
	if s == nil {
		return ErrInvalidShop
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidShop)
	}
	currency := rates.NormalizeCurrency(s.Currency)
	if currency == "" {
		return fmt.Errorf("%w: currency required", ErrInvalidShop)
	}
	if s.Account == ([20]byte{}) {
		return fmt.Errorf("%w: account required", ErrInvalidShop)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.db.Has(recordKey(s.ID))
	if err != nil {
		return err
	}
	if ok {
		return ErrShopExists
	}
	clone := s.Clone()
	clone.Currency = currency
	if clone.Status == StatusInvalid {
		clone.Status = StatusActive
	}
	return r.putShop(clone)
}

func (r *Registry) putShop(s *Shop) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("shop: encode record: %w", err)
	}
	return r.db.Put(recordKey(s.ID), raw)
}

func (r *Registry) getShop(id [32]byte) (*Shop, bool, error) {
	raw, err := r.db.Get(recordKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s := &Shop{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, false, fmt.Errorf("shop: decode record: %w", err)
	}
	return s, true, nil
}

// Get returns the shop record for the given identifier.
func (r *Registry) Get(id [32]byte) (*Shop, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok, err := r.getShop(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return s.Clone(), true, nil
}

// SetDelegate registers (or clears, with the zero address) the alternate
// signer authorized to act for the shop. Only the shop account may rotate it.
func (r *Registry) SetDelegate(id [32]byte, caller, delegate [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok, err := r.getShop(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrShopNotFound
	}
	if caller != s.Account {
		return ErrUnauthorized
	}
	s.Delegate = delegate
	return r.putShop(s)
}

// SetStatus updates the shop's settlement eligibility.
func (r *Registry) SetStatus(id [32]byte, status Status) error {
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("%w: status %d", ErrInvalidShop, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok, err := r.getShop(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrShopNotFound
	}
	s.Status = status
	return r.putShop(s)
}

// RecordUsage appends a settled amount to the shop's used-amount ledger,
// keyed by (purchaseId, paymentId). Recording the same pair twice fails.
func (r *Registry) RecordUsage(id [32]byte, amount *big.Int, purchaseID string, paymentID [32]byte) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeUsage
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok, err := r.getShop(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrShopNotFound
	}
	key := entryKey(id, purchaseID, paymentID)
	exists, err := r.db.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrUsageExists
	}
	entry := &UsageEntry{
		PurchaseID: purchaseID,
		PaymentID:  paymentID,
		Amount:     new(big.Int).Set(amount),
		RecordedAt: r.nowFn(),
	}
	total, err := r.usedAmount(id)
	if err != nil {
		return err
	}
	if err := r.putEntry(key, entry); err != nil {
		return err
	}
	return r.putTotal(id, new(big.Int).Add(total, amount))
}

// ReverseUsage marks a previously recorded usage entry as reversed and
// subtracts its amount from the running total. The entry itself is retained.
func (r *Registry) ReverseUsage(id [32]byte, amount *big.Int, purchaseID string, paymentID [32]byte) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeUsage
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := entryKey(id, purchaseID, paymentID)
	raw, err := r.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUsageNotFound
	}
	if err != nil {
		return err
	}
	entry := &UsageEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return fmt.Errorf("shop: decode usage entry: %w", err)
	}
	if entry.Reversed {
		return ErrUsageReversed
	}
	if entry.Amount == nil || entry.Amount.Cmp(amount) != 0 {
		return ErrUsageMismatch
	}
	total, err := r.usedAmount(id)
	if err != nil {
		return err
	}
	if total.Cmp(amount) < 0 {
		return errUsageUnderflow
	}
	entry.Reversed = true
	entry.ReversedAt = r.nowFn()
	if err := r.putEntry(key, entry); err != nil {
		return err
	}
	return r.putTotal(id, new(big.Int).Sub(total, amount))
}

// UsedAmount returns the shop's current settled total.
func (r *Registry) UsedAmount(id [32]byte) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usedAmount(id)
}

// UsageOf returns the ledger entry recorded for the (purchaseId, paymentId)
// pair, if any.
func (r *Registry) UsageOf(id [32]byte, purchaseID string, paymentID [32]byte) (*UsageEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, err := r.db.Get(entryKey(id, purchaseID, paymentID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	entry := &UsageEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, false, fmt.Errorf("shop: decode usage entry: %w", err)
	}
	return entry, true, nil
}

func (r *Registry) usedAmount(id [32]byte) (*big.Int, error) {
	raw, err := r.db.Get(totalKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	total, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("shop: corrupt usage total")
	}
	return total, nil
}

func (r *Registry) putEntry(key []byte, entry *UsageEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("shop: encode usage entry: %w", err)
	}
	return r.db.Put(key, raw)
}

func (r *Registry) putTotal(id [32]byte, total *big.Int) error {
	return r.db.Put(totalKey(id), []byte(total.String()))
}
