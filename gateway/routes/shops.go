package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"loyalchain/native/shop"
)

// ShopRoutes exposes the merchant registry to operators. Registration and
// status changes come through here; settlement-time usage accounting is
// driven by the engine only.
type ShopRoutes struct {
	mu       sync.Mutex
	registry *shop.Registry
	logger   *slog.Logger
}

func NewShopRoutes(registry *shop.Registry, logger *slog.Logger) *ShopRoutes {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShopRoutes{registry: registry, logger: logger}
}

type registerShopRequest struct {
	ShopID   string `json:"shopId"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Account  string `json:"account"`
	Delegate string `json:"delegate,omitempty"`
	Status   string `json:"status,omitempty"`
}

type setDelegateRequest struct {
	Caller   string `json:"caller"`
	Delegate string `json:"delegate"`
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type shopResponse struct {
	ShopID     string `json:"shopId"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Currency   string `json:"currency"`
	Account    string `json:"account"`
	Delegate   string `json:"delegate,omitempty"`
	UsedAmount string `json:"usedAmount"`
}

func (s *ShopRoutes) newShopResponse(rec *shop.Shop) shopResponse {
	resp := shopResponse{
		ShopID:   hex.EncodeToString(rec.ID[:]),
		Name:     rec.Name,
		Status:   rec.Status.String(),
		Currency: rec.Currency,
		Account:  hex.EncodeToString(rec.Account[:]),
	}
	if rec.Delegate != ([20]byte{}) {
		resp.Delegate = hex.EncodeToString(rec.Delegate[:])
	}
	if used, err := s.registry.UsedAmount(rec.ID); err == nil {
		resp.UsedAmount = used.String()
	}
	return resp
}

func shopHTTPStatus(err error) int {
	switch {
	case errors.Is(err, shop.ErrShopNotFound):
		return http.StatusNotFound
	case errors.Is(err, shop.ErrShopExists):
		return http.StatusConflict
	case errors.Is(err, shop.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, shop.ErrInvalidShop):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *ShopRoutes) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, shopHTTPStatus(err), errorResponse{Error: err.Error()})
}

func (s *ShopRoutes) Register(w http.ResponseWriter, r *http.Request) {
	var body registerShopRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	shopID, err := parseHash32(body.ShopID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	account, err := parseAccount(body.Account)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	rec := &shop.Shop{
		ID:       shopID,
		Name:     body.Name,
		Currency: body.Currency,
		Account:  account,
	}
	if body.Delegate != "" {
		delegate, err := parseAccount(body.Delegate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
			return
		}
		rec.Delegate = delegate
	}
	if body.Status != "" {
		status, err := shop.ParseStatus(body.Status)
		if err != nil {
			s.writeError(w, err)
			return
		}
		rec.Status = status
	}

	s.mu.Lock()
	err = s.registry.Register(rec)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("shop registration rejected", "error", err)
		s.writeError(w, err)
		return
	}
	// The registry normalizes the currency and defaults the status on the
	// stored record, so respond with what it actually persisted.
	s.mu.Lock()
	stored, found, err := s.registry.Get(shopID)
	s.mu.Unlock()
	if err != nil || !found {
		s.writeError(w, shop.ErrShopNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, s.newShopResponse(stored))
}

func (s *ShopRoutes) Get(w http.ResponseWriter, r *http.Request) {
	shopID, err := parseHash32(chi.URLParam(r, "shopId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	s.mu.Lock()
	rec, found, err := s.registry.Get(shopID)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, shop.ErrShopNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.newShopResponse(rec))
}

func (s *ShopRoutes) SetDelegate(w http.ResponseWriter, r *http.Request) {
	shopID, err := parseHash32(chi.URLParam(r, "shopId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	var body setDelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	caller, err := parseAccount(body.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	var delegate [20]byte
	if body.Delegate != "" {
		if delegate, err = parseAccount(body.Delegate); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
			return
		}
	}

	s.mu.Lock()
	err = s.registry.SetDelegate(shopID, caller, delegate)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.mu.Lock()
	rec, _, err := s.registry.Get(shopID)
	s.mu.Unlock()
	if err != nil || rec == nil {
		s.writeError(w, shop.ErrShopNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.newShopResponse(rec))
}

func (s *ShopRoutes) SetStatus(w http.ResponseWriter, r *http.Request) {
	shopID, err := parseHash32(chi.URLParam(r, "shopId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	var body setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed-request"})
		return
	}
	status, err := shop.ParseStatus(body.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.mu.Lock()
	err = s.registry.SetStatus(shopID, status)
	s.mu.Unlock()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.mu.Lock()
	rec, _, err := s.registry.Get(shopID)
	s.mu.Unlock()
	if err != nil || rec == nil {
		s.writeError(w, shop.ErrShopNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.newShopResponse(rec))
}
