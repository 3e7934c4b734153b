package payment

import (
	"fmt"
	"math/big"
	"time"

	"loyalchain/core/events"
	"loyalchain/core/types"
	"loyalchain/native/ledger"
	"loyalchain/native/rates"
	"loyalchain/native/shop"
)

// CancelWindow bounds how long after a payment opened a shop may still open a
// cancellation against the settled record.
const CancelWindow = 7 * 24 * time.Hour

// State persists payment records keyed by payment id.
type State interface {
	PaymentPut(*Record) error
	PaymentGet(id [32]byte) (*Record, bool)
}

// Ledger is the balance/nonce collaborator. Every read is fresh and every
// write goes through one of its atomic primitives; the engine never caches
// balances.
type Ledger interface {
	BalanceOf(addr [20]byte, kind ledger.Kind) (*big.Int, error)
	NonceOf(addr [20]byte) (uint64, error)
	ConsumeNonce(addr [20]byte, expected uint64) error
	Debit(addr [20]byte, kind ledger.Kind, amount *big.Int) error
	Credit(addr [20]byte, kind ledger.Kind, amount *big.Int) error
	Transfer(from, to [20]byte, kind ledger.Kind, amount *big.Int) error
	SystemAccount() [20]byte
	FeeCollectionAccount() [20]byte
	FeeBps() uint32
	PaymentAgentOf(addr [20]byte) ([20]byte, bool, error)
}

// ShopRegistry is the merchant collaborator consulted at settlement and
// cancellation.
type ShopRegistry interface {
	Get(id [32]byte) (*shop.Shop, bool, error)
	RecordUsage(id [32]byte, amount *big.Int, purchaseID string, paymentID [32]byte) error
	ReverseUsage(id [32]byte, amount *big.Int, purchaseID string, paymentID [32]byte) error
}

type paymentEvent struct {
	evt *types.Event
}

func (e paymentEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e paymentEvent) Event() *types.Event { return e.evt }

func (e paymentEvent) Attributes() map[string]string {
	if e.evt == nil {
		return nil
	}
	return e.evt.Attributes
}

// Engine is the payment escrow state machine. It orchestrates the ledger,
// shop registry and rate source to open, settle, refund and cancel payments.
// The execution environment serializes calls; the engine holds no lock of its
// own.
type Engine struct {
	state   State
	ledger  Ledger
	shops   ShopRegistry
	rates   rates.Source
	emitter events.Emitter
	holding [20]byte
	chainID int64
	nowFn   func() int64
}

// NewEngine creates a payment engine with a no-op emitter. Collaborators are
// wired via the Set* methods before first use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the payment record store.
func (e *Engine) SetState(state State) { e.state = state }

// SetLedger configures the balance/nonce collaborator.
func (e *Engine) SetLedger(l Ledger) { e.ledger = l }

// SetShopRegistry configures the merchant collaborator.
func (e *Engine) SetShopRegistry(r ShopRegistry) { e.shops = r }

// SetRateSource configures the currency rate collaborator.
func (e *Engine) SetRateSource(src rates.Source) { e.rates = src }

// SetHoldingAccount configures the reserved account that escrows funds while
// a payment or cancellation is in flight.
func (e *Engine) SetHoldingAccount(addr [20]byte) { e.holding = addr }

// SetChainID configures the environment identity committed to by every
// signature.
func (e *Engine) SetChainID(id int64) { e.chainID = id }

// SetNowFunc overrides the engine clock. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(paymentEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ensureConfigured() error {
	if e == nil || e.state == nil || e.ledger == nil || e.shops == nil || e.rates == nil {
		return ErrNotConfigured
	}
	if e.holding == ([20]byte{}) {
		return fmt.Errorf("%w: holding account", ErrNotConfigured)
	}
	return nil
}

func (e *Engine) payerBalance(addr [20]byte) *big.Int {
	bal, err := e.ledger.BalanceOf(addr, ledger.Point)
	if err != nil {
		return big.NewInt(0)
	}
	return bal
}

// OpenRequest carries the payer-signed fields of an open-payment call.
type OpenRequest struct {
	PaymentID  [32]byte
	PurchaseID string
	Amount     *big.Int
	Currency   string
	ShopID     [32]byte
	Account    [20]byte
	SecretLock [32]byte
}

// normalizedFee applies the configured fee rate to the external-currency
// amount. The basis point division truncates, so the fee never carries a
// fractional remainder that could not settle.
func normalizedFee(amount *big.Int, feeBps uint32) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(feeBps)))
	return fee.Quo(fee, big.NewInt(10_000))
}

// OpenPayment verifies the payer's signature, escrows the converted point
// amount plus fee into the holding account and stores the new record. Every
// rejection happens before any balance or nonce mutation.
func (e *Engine) OpenPayment(req OpenRequest, sig []byte) (*Record, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := rates.NormalizeCurrency(req.Currency)
	if existing, ok := e.state.PaymentGet(req.PaymentID); ok && existing.Status != StatusInvalid {
		return nil, ErrDuplicatePayment
	}
	signer, nonce, err := e.resolveOpenSigner(req, currency, sig)
	if err != nil {
		return nil, err
	}

	snap, err := e.rates.Snapshot()
	if err != nil {
		return nil, err
	}
	paidPoint, err := snap.ToPoint(req.Amount, currency)
	if err != nil {
		return nil, err
	}
	paidToken, err := snap.ToToken(paidPoint)
	if err != nil {
		return nil, err
	}
	feeValue := normalizedFee(req.Amount, e.ledger.FeeBps())
	feePoint, err := snap.ToPoint(feeValue, currency)
	if err != nil {
		return nil, err
	}
	feeToken, err := snap.ToToken(feePoint)
	if err != nil {
		return nil, err
	}

	escrow := new(big.Int).Add(paidPoint, feePoint)
	balance, err := e.ledger.BalanceOf(req.Account, ledger.Point)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(escrow) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, balance, escrow)
	}

	if err := e.ledger.ConsumeNonce(signer, nonce); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(req.Account, e.holding, ledger.Point, escrow); err != nil {
		return nil, err
	}

	rec := &Record{
		PaymentID:     req.PaymentID,
		PurchaseID:    req.PurchaseID,
		Amount:        cloneBig(req.Amount),
		Currency:      currency,
		ShopID:        req.ShopID,
		Account:       req.Account,
		SecretLock:    req.SecretLock,
		Timestamp:     e.now(),
		PaidPoint:     paidPoint,
		PaidToken:     paidToken,
		PaidValue:     cloneBig(req.Amount),
		FeePoint:      feePoint,
		FeeToken:      feeToken,
		FeeValue:      feeValue,
		UsedValueShop: big.NewInt(0),
		Status:        StatusOpenedPayment,
	}
	if err := e.state.PaymentPut(rec); err != nil {
		return nil, err
	}
	e.emit(newPaymentEvent(EventTypePaymentOpened, rec, e.payerBalance(rec.Account), nil))
	return rec.Clone(), nil
}

// resolveOpenSigner checks the signature against the payer first and then, if
// one is registered, against the payer's payment agent. First match wins.
func (e *Engine) resolveOpenSigner(req OpenRequest, currency string, sig []byte) ([20]byte, uint64, error) {
	candidates := [][20]byte{req.Account}
	if agent, ok, err := e.ledger.PaymentAgentOf(req.Account); err == nil && ok {
		candidates = append(candidates, agent)
	} else if err != nil {
		return [20]byte{}, 0, err
	}
	for _, candidate := range candidates {
		nonce, err := e.ledger.NonceOf(candidate)
		if err != nil {
			return [20]byte{}, 0, err
		}
		digest := OpenPaymentHash(e.chainID, req.PaymentID, req.PurchaseID, req.Amount, currency, req.ShopID, candidate, nonce)
		recovered, err := recoverSigner(digest, sig)
		if err != nil {
			continue
		}
		if recovered == candidate {
			return candidate, nonce, nil
		}
	}
	return [20]byte{}, 0, ErrBadSignature
}

// ClosePayment settles (confirm=true) or refunds (confirm=false) an opened
// payment after verifying the revealed secret against the record's lock.
//
// On settlement the escrowed points are burned from the holding account and
// the token-denominated fee moves from the system account to fee collection.
// If the system account lacks funds the fee sub-step is skipped and
// settlement still completes. A refund returns the full escrow to the payer
// instead.
func (e *Engine) ClosePayment(paymentID [32]byte, secret []byte, confirm bool) (*Record, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	rec, ok := e.state.PaymentGet(paymentID)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if rec.Status != StatusOpenedPayment {
		return nil, fmt.Errorf("%w: close in status %s", ErrInvalidState, rec.Status)
	}
	if SecretHash(secret) != rec.SecretLock {
		return nil, ErrSecretMismatch
	}

	escrow := rec.EscrowTotal()
	if !confirm {
		if err := e.ledger.Transfer(e.holding, rec.Account, ledger.Point, escrow); err != nil {
			return nil, err
		}
		rec.Status = StatusFailedPayment
		if err := e.state.PaymentPut(rec); err != nil {
			return nil, err
		}
		e.emit(newPaymentEvent(EventTypePaymentFailed, rec, e.payerBalance(rec.Account), nil))
		return rec.Clone(), nil
	}

	// Every fallible collaborator call runs before the first balance
	// mutation so a failed settlement leaves the escrow untouched.
	s, found, err := e.shops.Get(rec.ShopID)
	if err != nil {
		return nil, err
	}
	var used *big.Int
	if found && s.Status == shop.StatusActive {
		snap, err := e.rates.Snapshot()
		if err != nil {
			return nil, err
		}
		if used, err = snap.Convert(rec.PaidValue, rec.Currency, s.Currency); err != nil {
			return nil, err
		}
	}

	holdingBalance, err := e.ledger.BalanceOf(e.holding, ledger.Point)
	if err != nil {
		return nil, err
	}
	if holdingBalance.Cmp(escrow) < 0 {
		return nil, fmt.Errorf("%w: holding has %s, need %s", ErrInsufficientBalance, holdingBalance, escrow)
	}
	feeDistributed := false
	if rec.FeeToken != nil && rec.FeeToken.Sign() > 0 {
		systemBalance, err := e.ledger.BalanceOf(e.ledger.SystemAccount(), ledger.Token)
		if err != nil {
			return nil, err
		}
		// A short system account skips fee distribution rather than
		// failing the settlement.
		feeDistributed = systemBalance.Cmp(rec.FeeToken) >= 0
	}

	// The registry write is the last fallible step; a duplicate usage
	// entry aborts with no funds moved.
	if used != nil {
		if err := e.shops.RecordUsage(rec.ShopID, used, rec.PurchaseID, rec.PaymentID); err != nil {
			return nil, err
		}
		rec.UsedValueShop = used
	}

	if err := e.ledger.Debit(e.holding, ledger.Point, escrow); err != nil {
		return nil, err
	}
	if feeDistributed {
		if err := e.ledger.Transfer(e.ledger.SystemAccount(), e.ledger.FeeCollectionAccount(), ledger.Token, rec.FeeToken); err != nil {
			return nil, err
		}
	}
	rec.Status = StatusClosedPayment
	if err := e.state.PaymentPut(rec); err != nil {
		return nil, err
	}
	extra := map[string]string{"feeDistributed": fmt.Sprintf("%t", feeDistributed)}
	e.emit(newPaymentEvent(EventTypePaymentClosed, rec, e.payerBalance(rec.Account), extra))
	return rec.Clone(), nil
}

// OpenCancel begins cancellation of a settled payment. The call is authorized
// by the shop account or its registered delegate, must arrive inside the
// cancellation window, and aborts with no mutation when the fee collection
// account cannot return the token fee. Unlike the settle-time fee step, that
// shortfall is fatal here.
func (e *Engine) OpenCancel(paymentID [32]byte, newSecretLock [32]byte, sig []byte) (*Record, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	rec, ok := e.state.PaymentGet(paymentID)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if e.now() > rec.Timestamp+int64(CancelWindow/time.Second) {
		return nil, ErrWindowExpired
	}
	if rec.Status != StatusClosedPayment {
		return nil, fmt.Errorf("%w: cancel in status %s", ErrInvalidState, rec.Status)
	}
	s, found, err := e.shops.Get(rec.ShopID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, shop.ErrShopNotFound
	}
	signer, nonce, err := e.resolveCancelSigner(rec, s, sig)
	if err != nil {
		return nil, err
	}

	feeToken := cloneBig(rec.FeeToken)
	if feeToken.Sign() > 0 {
		feeBalance, err := e.ledger.BalanceOf(e.ledger.FeeCollectionAccount(), ledger.Token)
		if err != nil {
			return nil, err
		}
		if feeBalance.Cmp(feeToken) < 0 {
			return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFeeBalance, feeBalance, feeToken)
		}
	}

	if err := e.ledger.ConsumeNonce(signer, nonce); err != nil {
		return nil, err
	}
	if feeToken.Sign() > 0 {
		if err := e.ledger.Transfer(e.ledger.FeeCollectionAccount(), e.holding, ledger.Token, feeToken); err != nil {
			return nil, err
		}
	}
	if err := e.ledger.Credit(e.holding, ledger.Point, rec.EscrowTotal()); err != nil {
		return nil, err
	}
	rec.SecretLock = newSecretLock
	rec.Status = StatusOpenedCancel
	if err := e.state.PaymentPut(rec); err != nil {
		return nil, err
	}
	e.emit(newPaymentEvent(EventTypeCancelOpened, rec, e.payerBalance(rec.Account), nil))
	return rec.Clone(), nil
}

// resolveCancelSigner checks the signature against the shop account first and
// then against its delegate, if one is registered. First match wins.
func (e *Engine) resolveCancelSigner(rec *Record, s *shop.Shop, sig []byte) ([20]byte, uint64, error) {
	candidates := [][20]byte{s.Account}
	if s.Delegate != ([20]byte{}) {
		candidates = append(candidates, s.Delegate)
	}
	for _, candidate := range candidates {
		nonce, err := e.ledger.NonceOf(candidate)
		if err != nil {
			return [20]byte{}, 0, err
		}
		digest := CancelPaymentHash(e.chainID, rec.PaymentID, rec.PurchaseID, rec.ShopID, candidate, nonce)
		recovered, err := recoverSigner(digest, sig)
		if err != nil {
			continue
		}
		if recovered == candidate {
			return candidate, nonce, nil
		}
	}
	return [20]byte{}, 0, ErrBadSignature
}

// CloseCancel finalizes (confirm=true) or reverses (confirm=false) an open
// cancellation after verifying the revealed secret against the lock set at
// OpenCancel.
func (e *Engine) CloseCancel(paymentID [32]byte, secret []byte, confirm bool) (*Record, error) {
	if err := e.ensureConfigured(); err != nil {
		return nil, err
	}
	rec, ok := e.state.PaymentGet(paymentID)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	if rec.Status != StatusOpenedCancel {
		return nil, fmt.Errorf("%w: close cancel in status %s", ErrInvalidState, rec.Status)
	}
	if SecretHash(secret) != rec.SecretLock {
		return nil, ErrSecretMismatch
	}

	// Both branches verify the holding balances before any movement, so a
	// shortfall aborts with no mutation; under the conservation invariant
	// neither check should ever trigger.
	escrow := rec.EscrowTotal()
	feeToken := cloneBig(rec.FeeToken)
	holdingPoints, err := e.ledger.BalanceOf(e.holding, ledger.Point)
	if err != nil {
		return nil, err
	}
	if holdingPoints.Cmp(escrow) < 0 {
		return nil, fmt.Errorf("%w: holding has %s, need %s", ErrInsufficientBalance, holdingPoints, escrow)
	}
	if feeToken.Sign() > 0 {
		holdingTokens, err := e.ledger.BalanceOf(e.holding, ledger.Token)
		if err != nil {
			return nil, err
		}
		if holdingTokens.Cmp(feeToken) < 0 {
			return nil, fmt.Errorf("%w: holding has %s tokens, need %s", ErrInsufficientBalance, holdingTokens, feeToken)
		}
	}

	if confirm {
		// The registry write runs before the transfers so a usage
		// reversal failure leaves the escrow in place.
		if rec.UsedValueShop != nil && rec.UsedValueShop.Sign() > 0 {
			if err := e.shops.ReverseUsage(rec.ShopID, rec.UsedValueShop, rec.PurchaseID, rec.PaymentID); err != nil {
				return nil, err
			}
		}
		if feeToken.Sign() > 0 {
			if err := e.ledger.Transfer(e.holding, e.ledger.SystemAccount(), ledger.Token, feeToken); err != nil {
				return nil, err
			}
		}
		if err := e.ledger.Transfer(e.holding, rec.Account, ledger.Point, escrow); err != nil {
			return nil, err
		}
		rec.Status = StatusClosedCancel
		if err := e.state.PaymentPut(rec); err != nil {
			return nil, err
		}
		e.emit(newPaymentEvent(EventTypeCancelClosed, rec, e.payerBalance(rec.Account), nil))
		return rec.Clone(), nil
	}

	// Reversal burns the escrow again.
	if feeToken.Sign() > 0 {
		if err := e.ledger.Transfer(e.holding, e.ledger.FeeCollectionAccount(), ledger.Token, feeToken); err != nil {
			return nil, err
		}
	}
	if err := e.ledger.Debit(e.holding, ledger.Point, escrow); err != nil {
		return nil, err
	}
	rec.Status = StatusFailedCancel
	if err := e.state.PaymentPut(rec); err != nil {
		return nil, err
	}
	e.emit(newPaymentEvent(EventTypeCancelFailed, rec, e.payerBalance(rec.Account), nil))
	return rec.Clone(), nil
}

// PaymentOf returns the stored record for the given payment id.
func (e *Engine) PaymentOf(paymentID [32]byte) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, ErrNotConfigured
	}
	rec, ok := e.state.PaymentGet(paymentID)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return rec.Clone(), nil
}

// IsAvailable reports whether the payment id has never been used.
func (e *Engine) IsAvailable(paymentID [32]byte) bool {
	if e == nil || e.state == nil {
		return false
	}
	rec, ok := e.state.PaymentGet(paymentID)
	return !ok || rec.Status == StatusInvalid
}

// NonceOf returns the current signing nonce for the account. Relays query it
// before constructing an open or cancel authorization.
func (e *Engine) NonceOf(addr [20]byte) (uint64, error) {
	if e == nil || e.ledger == nil {
		return 0, ErrNotConfigured
	}
	return e.ledger.NonceOf(addr)
}
