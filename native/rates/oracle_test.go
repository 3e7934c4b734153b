package rates

import (
	"errors"
	"math/big"
	"testing"
)

func newTestOracle(t *testing.T) *Oracle {
	t.Helper()
	o := NewOracle()
	if err := o.SetRate("USD", big.NewRat(1, 1)); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if err := o.SetRate("KRW", big.NewRat(1, 1000)); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if err := o.SetTokenRate(big.NewRat(1, 2)); err != nil {
		t.Fatalf("set token rate: %v", err)
	}
	return o
}

func TestSnapshotConversions(t *testing.T) {
	o := newTestOracle(t)
	snap, err := o.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	point, err := snap.ToPoint(big.NewInt(100), "usd")
	if err != nil {
		t.Fatalf("to point: %v", err)
	}
	if point.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("point = %s, want 100", point)
	}

	// 1 point backs 1/2 token; conversion truncates toward zero.
	token, err := snap.ToToken(big.NewInt(101))
	if err != nil {
		t.Fatalf("to token: %v", err)
	}
	if token.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("token = %s, want 50", token)
	}

	krw, err := snap.Convert(big.NewInt(3), "USD", "KRW")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if krw.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("krw = %s, want 3000", krw)
	}

	if _, err := snap.ToPoint(big.NewInt(1), "EUR"); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("err = %v, want ErrUnknownCurrency", err)
	}
}

func TestSnapshotIsFrozen(t *testing.T) {
	o := newTestOracle(t)
	snap, err := o.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := o.SetRate("USD", big.NewRat(2, 1)); err != nil {
		t.Fatalf("update rate: %v", err)
	}
	point, err := snap.ToPoint(big.NewInt(10), "USD")
	if err != nil {
		t.Fatalf("to point: %v", err)
	}
	if point.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("snapshot drifted after oracle update: %s", point)
	}
	fresh, _ := o.Snapshot()
	point, _ = fresh.ToPoint(big.NewInt(10), "USD")
	if point.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("fresh snapshot must see the update: %s", point)
	}
}

func TestOracleValidation(t *testing.T) {
	o := NewOracle()
	if err := o.SetRate("USD", big.NewRat(0, 1)); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("err = %v, want ErrInvalidRate", err)
	}
	if err := o.SetRate("  ", big.NewRat(1, 1)); !errors.Is(err, ErrUnknownCurrency) {
		t.Fatalf("err = %v, want ErrUnknownCurrency", err)
	}
	if _, err := o.Snapshot(); !errors.Is(err, ErrNoTokenRate) {
		t.Fatalf("err = %v, want ErrNoTokenRate", err)
	}
}
