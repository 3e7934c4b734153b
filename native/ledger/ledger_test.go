package ledger

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"loyalchain/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	l, err := New(db, Config{
		SystemAccount:        testAddr(0x01),
		FeeCollectionAccount: testAddr(0x02),
		FeeBps:               100,
	})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func TestCreditDebitRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	addr := testAddr(0xAA)
	if err := l.Credit(addr, Point, big.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Debit(addr, Point, big.NewInt(200)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	bal, err := l.BalanceOf(addr, Point)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("balance = %s, want 300", bal)
	}
	// Token balance is tracked independently.
	tok, err := l.BalanceOf(addr, Token)
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	if tok.Sign() != 0 {
		t.Fatalf("token balance = %s, want 0", tok)
	}
}

func TestDebitRejectsOverdraft(t *testing.T) {
	l := newTestLedger(t)
	addr := testAddr(0xAB)
	if err := l.Credit(addr, Point, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Debit(addr, Point, big.NewInt(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	bal, _ := l.BalanceOf(addr, Point)
	if bal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("failed debit must not change the balance")
	}
}

func TestTransferIsAtomic(t *testing.T) {
	l := newTestLedger(t)
	from, to := testAddr(0xAC), testAddr(0xAD)
	if err := l.Credit(from, Token, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Transfer(from, to, Token, big.NewInt(6)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	toBal, _ := l.BalanceOf(to, Token)
	if toBal.Sign() != 0 {
		t.Fatalf("failed transfer credited the recipient")
	}
	if err := l.Transfer(from, to, Token, big.NewInt(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	fromBal, _ := l.BalanceOf(from, Token)
	toBal, _ = l.BalanceOf(to, Token)
	if fromBal.Sign() != 0 || toBal.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("transfer result from=%s to=%s", fromBal, toBal)
	}
}

func TestConsumeNonce(t *testing.T) {
	l := newTestLedger(t)
	addr := testAddr(0xAE)
	nonce, err := l.NonceOf(addr)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("fresh nonce = %d, want 0", nonce)
	}
	if err := l.ConsumeNonce(addr, 0); err != nil {
		t.Fatalf("consume: %v", err)
	}
	// Replays of the consumed value must fail.
	if err := l.ConsumeNonce(addr, 0); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("err = %v, want ErrNonceMismatch", err)
	}
	nonce, _ = l.NonceOf(addr)
	if nonce != 1 {
		t.Fatalf("nonce = %d, want 1", nonce)
	}
}

func TestNegativeAmountsRejected(t *testing.T) {
	l := newTestLedger(t)
	addr := testAddr(0xAF)
	if err := l.Credit(addr, Point, big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("credit err = %v, want ErrNegativeAmount", err)
	}
	if err := l.Debit(addr, Point, big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("debit err = %v, want ErrNegativeAmount", err)
	}
}

func TestPaymentAgentRegistration(t *testing.T) {
	l := newTestLedger(t)
	addr, agent := testAddr(0xB0), testAddr(0xB1)
	if _, ok, err := l.PaymentAgentOf(addr); err != nil || ok {
		t.Fatalf("fresh account must have no agent (ok=%t err=%v)", ok, err)
	}
	if err := l.SetPaymentAgent(addr, agent); err != nil {
		t.Fatalf("set agent: %v", err)
	}
	got, ok, err := l.PaymentAgentOf(addr)
	if err != nil || !ok {
		t.Fatalf("agent lookup (ok=%t err=%v)", ok, err)
	}
	if got != agent {
		t.Fatalf("agent mismatch")
	}
	if err := l.SetPaymentAgent(addr, [20]byte{}); err != nil {
		t.Fatalf("clear agent: %v", err)
	}
	if _, ok, _ := l.PaymentAgentOf(addr); ok {
		t.Fatalf("agent not cleared")
	}
}

func TestConfigAccessors(t *testing.T) {
	l := newTestLedger(t)
	if l.SystemAccount() != testAddr(0x01) || l.FeeCollectionAccount() != testAddr(0x02) {
		t.Fatalf("reserved account accessors mismatch")
	}
	if l.FeeBps() != 100 {
		t.Fatalf("fee bps = %d, want 100", l.FeeBps())
	}
	db := storage.NewMemDB()
	if _, err := New(db, Config{FeeBps: 10_001}); err == nil {
		t.Fatalf("fee bps above 10000 must be rejected")
	}
}
