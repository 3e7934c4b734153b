package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"loyalchain/gateway/middleware"
)

// Config wires the payment handlers and the shared middleware into one
// router.
type Config struct {
	Payments      *PaymentRoutes
	Shops         *ShopRoutes
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
}

// New builds the relay-facing HTTP handler.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("payments"))
	}
	if cfg.Authenticator != nil {
		r.Use(cfg.Authenticator.Middleware())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	r.Route("/v1/payments", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware("payments"))
		}
		r.Post("/open", cfg.Payments.Open)
		r.Post("/close", cfg.Payments.Close)
		r.Post("/cancel/open", cfg.Payments.CancelOpen)
		r.Post("/cancel/close", cfg.Payments.CancelClose)
		r.Get("/{paymentId}", cfg.Payments.Get)
		r.Get("/{paymentId}/available", cfg.Payments.Available)
	})

	if cfg.Shops != nil {
		r.Route("/v1/shops", func(r chi.Router) {
			if cfg.RateLimiter != nil {
				r.Use(cfg.RateLimiter.Middleware("shops"))
			}
			r.Post("/", cfg.Shops.Register)
			r.Get("/{shopId}", cfg.Shops.Get)
			r.Put("/{shopId}/delegate", cfg.Shops.SetDelegate)
			r.Put("/{shopId}/status", cfg.Shops.SetStatus)
		})
	}

	r.Route("/v1/accounts", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware("accounts"))
		}
		r.Get("/{account}/nonce", cfg.Payments.Nonce)
	})

	return r
}
