package rates

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

var (
	// ErrUnknownCurrency indicates that no rate is registered for the
	// requested currency code.
	ErrUnknownCurrency = errors.New("rates: unknown currency")
	// ErrNoTokenRate indicates the point/token exchange rate has not been
	// configured.
	ErrNoTokenRate = errors.New("rates: token rate not configured")
	// ErrInvalidRate rejects zero or negative exchange rates.
	ErrInvalidRate = errors.New("rates: rate must be positive")
)

// Source produces immutable rate snapshots. The payment engine takes exactly
// one snapshot per operation so every conversion inside a single call uses
// the same rates.
type Source interface {
	Snapshot() (*Snapshot, error)
}

// Snapshot is a frozen view of the rate table. All conversions truncate
// toward zero; callers that need remainder-free amounts must normalize them
// before settling.
type Snapshot struct {
	pointPerUnit  map[string]*big.Rat
	tokenPerPoint *big.Rat
}

// NormalizeCurrency returns the canonical uppercase form of a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func truncate(v *big.Rat) *big.Int {
	return new(big.Int).Quo(v.Num(), v.Denom())
}

// ToPoint converts an external-currency amount into loyalty points.
func (s *Snapshot) ToPoint(amount *big.Int, currency string) (*big.Int, error) {
	if s == nil {
		return nil, ErrUnknownCurrency
	}
	rate, ok := s.pointPerUnit[NormalizeCurrency(currency)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, currency)
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	v := new(big.Rat).SetInt(amount)
	v.Mul(v, rate)
	return truncate(v), nil
}

// ToToken converts a point amount into the backing token denomination.
func (s *Snapshot) ToToken(point *big.Int) (*big.Int, error) {
	if s == nil || s.tokenPerPoint == nil {
		return nil, ErrNoTokenRate
	}
	if point == nil {
		return big.NewInt(0), nil
	}
	v := new(big.Rat).SetInt(point)
	v.Mul(v, s.tokenPerPoint)
	return truncate(v), nil
}

// Convert translates an amount between two external currencies through the
// point denomination.
func (s *Snapshot) Convert(amount *big.Int, from, to string) (*big.Int, error) {
	if s == nil {
		return nil, ErrUnknownCurrency
	}
	fromRate, ok := s.pointPerUnit[NormalizeCurrency(from)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, from)
	}
	toRate, ok := s.pointPerUnit[NormalizeCurrency(to)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, to)
	}
	if amount == nil {
		return big.NewInt(0), nil
	}
	v := new(big.Rat).SetInt(amount)
	v.Mul(v, fromRate)
	v.Quo(v, toRate)
	return truncate(v), nil
}

// Oracle maintains a mutable rate table and hands out frozen snapshots.
// Updates never affect snapshots already taken.
type Oracle struct {
	mu            sync.RWMutex
	pointPerUnit  map[string]*big.Rat
	tokenPerPoint *big.Rat
}

// NewOracle creates an empty rate oracle.
func NewOracle() *Oracle {
	return &Oracle{pointPerUnit: make(map[string]*big.Rat)}
}

// SetRate registers the point value of one unit of the given currency.
func (o *Oracle) SetRate(currency string, rate *big.Rat) error {
	code := NormalizeCurrency(currency)
	if code == "" {
		return fmt.Errorf("%w: empty code", ErrUnknownCurrency)
	}
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pointPerUnit[code] = new(big.Rat).Set(rate)
	return nil
}

// SetTokenRate registers how many tokens back a single point.
func (o *Oracle) SetTokenRate(rate *big.Rat) error {
	if rate == nil || rate.Sign() <= 0 {
		return ErrInvalidRate
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokenPerPoint = new(big.Rat).Set(rate)
	return nil
}

// Snapshot returns a frozen copy of the current rate table.
func (o *Oracle) Snapshot() (*Snapshot, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.tokenPerPoint == nil {
		return nil, ErrNoTokenRate
	}
	snap := &Snapshot{
		pointPerUnit:  make(map[string]*big.Rat, len(o.pointPerUnit)),
		tokenPerPoint: new(big.Rat).Set(o.tokenPerPoint),
	}
	for code, rate := range o.pointPerUnit {
		snap.pointPerUnit[code] = new(big.Rat).Set(rate)
	}
	return snap, nil
}
