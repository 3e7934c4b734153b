package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"loyalchain/crypto"
	"loyalchain/native/payment"
	"loyalchain/native/shop"
)

// PaymentRoutes exposes the escrow engine to off-chain relays. The engine
// expects serial, atomic calls from its execution environment; the handler
// mutex provides that guarantee here.
type PaymentRoutes struct {
	mu     sync.Mutex
	engine *payment.Engine
	logger *slog.Logger
}

func NewPaymentRoutes(engine *payment.Engine, logger *slog.Logger) *PaymentRoutes {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentRoutes{engine: engine, logger: logger}
}

type openPaymentRequest struct {
	PaymentID  string `json:"paymentId"`
	PurchaseID string `json:"purchaseId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ShopID     string `json:"shopId"`
	Account    string `json:"account"`
	SecretLock string `json:"secretLock"`
	Signature  string `json:"signature"`
}

type closePaymentRequest struct {
	PaymentID string `json:"paymentId"`
	Secret    string `json:"secret"`
	Confirm   bool   `json:"confirm"`
}

type openCancelRequest struct {
	PaymentID  string `json:"paymentId"`
	SecretLock string `json:"secretLock"`
	Signature  string `json:"signature"`
}

type paymentResponse struct {
	PaymentID     string `json:"paymentId"`
	PurchaseID    string `json:"purchaseId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	ShopID        string `json:"shopId"`
	Account       string `json:"account"`
	SecretLock    string `json:"secretLock"`
	Timestamp     int64  `json:"timestamp"`
	PaidPoint     string `json:"paidPoint"`
	PaidToken     string `json:"paidToken"`
	PaidValue     string `json:"paidValue"`
	FeePoint      string `json:"feePoint"`
	FeeToken      string `json:"feeToken"`
	FeeValue      string `json:"feeValue"`
	UsedValueShop string `json:"usedValueShop"`
	Status        string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newPaymentResponse(rec *payment.Record) paymentResponse {
	return paymentResponse{
		PaymentID:     hex.EncodeToString(rec.PaymentID[:]),
		PurchaseID:    rec.PurchaseID,
		Amount:        rec.Amount.String(),
		Currency:      rec.Currency,
		ShopID:        hex.EncodeToString(rec.ShopID[:]),
		Account:       hex.EncodeToString(rec.Account[:]),
		SecretLock:    hex.EncodeToString(rec.SecretLock[:]),
		Timestamp:     rec.Timestamp,
		PaidPoint:     rec.PaidPoint.String(),
		PaidToken:     rec.PaidToken.String(),
		PaidValue:     rec.PaidValue.String(),
		FeePoint:      rec.FeePoint.String(),
		FeeToken:      rec.FeeToken.String(),
		FeeValue:      rec.FeeValue.String(),
		UsedValueShop: rec.UsedValueShop.String(),
		Status:        rec.Status.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (p *PaymentRoutes) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), errorResponse{Error: payment.ErrorCode(err)})
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound), errors.Is(err, shop.ErrShopNotFound):
		return http.StatusNotFound
	case errors.Is(err, payment.ErrBadSignature), errors.Is(err, payment.ErrSecretMismatch):
		return http.StatusForbidden
	case errors.Is(err, payment.ErrDuplicatePayment),
		errors.Is(err, payment.ErrInvalidState),
		errors.Is(err, payment.ErrWindowExpired):
		return http.StatusConflict
	case errors.Is(err, payment.ErrInsufficientBalance),
		errors.Is(err, payment.ErrInsufficientFeeBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseHash32(value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid hash: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("invalid hash length: %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseAddr20(value string) ([20]byte, error) {
	var out [20]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid address: %w", err)
	}
	if len(raw) != 20 {
		return out, fmt.Errorf("invalid address length: %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseHex(value string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return raw, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", value)
	}
	return amount, nil
}

func (p *PaymentRoutes) Open(w http.ResponseWriter, r *http.Request) {
	var body openPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	paymentID, err := parseHash32(body.PaymentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	shopID, err := parseHash32(body.ShopID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	account, err := parseAddr20(body.Account)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	secretLock, err := parseHash32(body.SecretLock)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	sig, err := parseHex(body.Signature)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}

	req := payment.OpenRequest{
		PaymentID:  paymentID,
		PurchaseID: body.PurchaseID,
		Amount:     amount,
		Currency:   body.Currency,
		ShopID:     shopID,
		Account:    account,
		SecretLock: secretLock,
	}
	p.mu.Lock()
	rec, err := p.engine.OpenPayment(req, sig)
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("open payment rejected", "error", err, "code", payment.ErrorCode(err))
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPaymentResponse(rec))
}

func (p *PaymentRoutes) Close(w http.ResponseWriter, r *http.Request) {
	p.closeWith(w, r, func(paymentID [32]byte, secret []byte, confirm bool) (*payment.Record, error) {
		return p.engine.ClosePayment(paymentID, secret, confirm)
	})
}

func (p *PaymentRoutes) CancelClose(w http.ResponseWriter, r *http.Request) {
	p.closeWith(w, r, func(paymentID [32]byte, secret []byte, confirm bool) (*payment.Record, error) {
		return p.engine.CloseCancel(paymentID, secret, confirm)
	})
}

func (p *PaymentRoutes) closeWith(w http.ResponseWriter, r *http.Request, op func([32]byte, []byte, bool) (*payment.Record, error)) {
	var body closePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	paymentID, err := parseHash32(body.PaymentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	secret, err := parseHex(body.Secret)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	p.mu.Lock()
	rec, err := op(paymentID, secret, body.Confirm)
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("close rejected", "error", err, "code", payment.ErrorCode(err))
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(rec))
}

func (p *PaymentRoutes) CancelOpen(w http.ResponseWriter, r *http.Request) {
	var body openCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	paymentID, err := parseHash32(body.PaymentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	secretLock, err := parseHash32(body.SecretLock)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	sig, err := parseHex(body.Signature)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	p.mu.Lock()
	rec, err := p.engine.OpenCancel(paymentID, secretLock, sig)
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("open cancel rejected", "error", err, "code", payment.ErrorCode(err))
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(rec))
}

func (p *PaymentRoutes) Get(w http.ResponseWriter, r *http.Request) {
	paymentID, err := parseHash32(chi.URLParam(r, "paymentId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	p.mu.Lock()
	rec, err := p.engine.PaymentOf(paymentID)
	p.mu.Unlock()
	if err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(rec))
}

// Nonce reports the signing nonce relays must commit to in the next
// authorization for the account. Accepts both hex and bech32 addresses.
func (p *PaymentRoutes) Nonce(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	p.mu.Lock()
	nonce, err := p.engine.NonceOf(account)
	p.mu.Unlock()
	if err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": hex.EncodeToString(account[:]),
		"nonce":   nonce,
	})
}

func parseAccount(value string) ([20]byte, error) {
	if addr, err := parseAddr20(value); err == nil {
		return addr, nil
	}
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid account: %w", err)
	}
	var out [20]byte
	copy(out[:], decoded.Bytes())
	return out, nil
}

func (p *PaymentRoutes) Available(w http.ResponseWriter, r *http.Request) {
	paymentID, err := parseHash32(chi.URLParam(r, "paymentId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	p.mu.Lock()
	available := p.engine.IsAvailable(paymentID)
	p.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}
