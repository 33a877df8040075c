package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/ndmitriev/offerwall-system/internal/middleware"
	"github.com/ndmitriev/offerwall-system/internal/partner"
)

// SetupRouter настраивает HTTP-маршруты и middleware офферволл-сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	// Постбэки принимаются и GET, и POST: конвенция зависит от партнёра.
	r.Route("/postback", func(r chi.Router) {
		r.HandleFunc("/", h.Postback(partner.Generic{}))
		r.HandleFunc("/ayet", h.Postback(partner.Ayet{}))
		r.HandleFunc("/bitlabs", h.Postback(partner.BitLabs{}))
		r.HandleFunc("/cpx", h.Postback(partner.CPX{}))
		r.HandleFunc("/theoremreach", h.Postback(partner.TheoremReach{}))
		r.HandleFunc("/cpalead", h.Postback(partner.CPALead{}))
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/balance", h.GetBalance)
			r.Get("/ledger", h.GetLedger)
			r.Get("/completions", h.GetCompletions)

			r.Put("/wallet", h.UpdateWallet)
			r.Post("/payout", h.RequestPayout)
			r.Get("/payouts", h.GetPayouts)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(h.authMiddleware.RequireAdmin)

		r.Get("/payouts", h.ListPayouts)
		r.Post("/payouts/{id}/approve", h.ApprovePayout)
		r.Post("/payouts/{id}/paid", h.MarkPayoutPaid)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
