// Package handler содержит HTTP-обработчики API офферволл-сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ndmitriev/offerwall-system/internal/middleware"
	"github.com/ndmitriev/offerwall-system/internal/model"
	"github.com/ndmitriev/offerwall-system/internal/repository"
	"github.com/ndmitriev/offerwall-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, bool, error)
	ProcessPostback(ctx context.Context, partnerCode string, allowLazyOffer bool, ev model.ConversionEvent) (*model.PostbackResult, error)
	LogCallback(ctx context.Context, partnerCode, rawQuery, outcome string)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	GetCompletionsByUser(ctx context.Context, userID int64) ([]model.Completion, error)
	SetWalletAddress(ctx context.Context, userID int64, address string) error
	RequestPayout(ctx context.Context, userID, points int64, currency string) (*model.Payout, error)
	GetPayoutsByUser(ctx context.Context, userID int64) ([]model.Payout, error)
	GetPayoutsByStatus(ctx context.Context, status model.PayoutStatus) ([]model.Payout, error)
	ApprovePayout(ctx context.Context, id int64) error
	MarkPayoutPaid(ctx context.Context, id int64) error
}

// Handler реализует HTTP-обработчики API офферволл-сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	secrets        map[string]string
	verifyEnabled  bool
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, secrets map[string]string, verifyEnabled bool) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		secrets:        secrets,
		verifyEnabled:  verifyEnabled,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, false)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, isAdmin, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, isAdmin)
	w.WriteHeader(http.StatusOK)
}

// GetBalance возвращает баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, balance)
}

// GetLedger возвращает журнал изменений баланса текущего пользователя.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	entries, err := h.service.GetLedgerByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get ledger error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

type completionResponse struct {
	ID             int64  `json:"id"`
	OfferIDPartner string `json:"offer_id_partner,omitempty"`
	Points         int64  `json:"points"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	ReversedAt     string `json:"reversed_at,omitempty"`
}

// GetCompletions возвращает историю конверсий текущего пользователя.
func (h *Handler) GetCompletions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	completions, err := h.service.GetCompletionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get completions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(completions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]completionResponse, 0, len(completions))
	for _, c := range completions {
		cr := completionResponse{
			ID:             c.ID,
			OfferIDPartner: c.OfferIDPartner,
			Points:         c.CreditedPoints,
			Status:         string(c.Status),
			CreatedAt:      c.CreatedAt.Format(time.RFC3339),
		}
		if c.ReversedAt != nil {
			cr.ReversedAt = c.ReversedAt.Format(time.RFC3339)
		}
		resp = append(resp, cr)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type walletRequest struct {
	WalletAddress string `json:"wallet_address"`
}

// UpdateWallet сохраняет адрес криптокошелька текущего пользователя.
func (h *Handler) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req walletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.SetWalletAddress(r.Context(), userID, req.WalletAddress)
	if err != nil {
		if errors.Is(err, service.ErrInvalidWalletAddress) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("update wallet error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type payoutRequest struct {
	PointsAmount   int64  `json:"points_amount"`
	CryptoCurrency string `json:"crypto_currency"`
}

type payoutResponse struct {
	ID             int64  `json:"id"`
	ExternalID     string `json:"external_id"`
	PointsAmount   int64  `json:"points_amount"`
	FeePoints      int64  `json:"fee_points"`
	WalletAddress  string `json:"wallet_address"`
	CryptoCurrency string `json:"crypto_currency"`
	Status         string `json:"status"`
	RequestedAt    string `json:"requested_at"`
	ProcessedAt    string `json:"processed_at,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

func toPayoutResponse(p model.Payout) payoutResponse {
	resp := payoutResponse{
		ID:             p.ID,
		ExternalID:     p.ExternalID.String(),
		PointsAmount:   p.PointsAmount,
		FeePoints:      p.FeePoints,
		WalletAddress:  p.WalletAddress,
		CryptoCurrency: p.CryptoCurrency,
		Status:         string(p.Status),
		RequestedAt:    p.RequestedAt.Format(time.RFC3339),
	}
	if p.ProcessedAt != nil {
		resp.ProcessedAt = p.ProcessedAt.Format(time.RFC3339)
	}
	if p.CompletedAt != nil {
		resp.CompletedAt = p.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// RequestPayout создаёт заявку на вывод средств для текущего пользователя.
func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req payoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payout, err := h.service.RequestPayout(r.Context(), userID, req.PointsAmount, req.CryptoCurrency)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPayoutAmount) || errors.Is(err, service.ErrCurrencyRequired):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, service.ErrWalletNotSet) || errors.Is(err, service.ErrInvalidWalletAddress):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrNegativeBalance):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, service.ErrUserBanned):
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			h.logger.Error("request payout error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toPayoutResponse(*payout))
}

// GetPayouts возвращает историю заявок текущего пользователя на вывод средств.
func (h *Handler) GetPayouts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	payouts, err := h.service.GetPayoutsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get payouts error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(payouts) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]payoutResponse, 0, len(payouts))
	for _, p := range payouts {
		resp = append(resp, toPayoutResponse(p))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ListPayouts возвращает администратору заявки в указанном статусе (по умолчанию pending).
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	status := model.PayoutStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.PayoutStatusPending
	}

	switch status {
	case model.PayoutStatusPending, model.PayoutStatusApproved, model.PayoutStatusPaid:
	default:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payouts, err := h.service.GetPayoutsByStatus(r.Context(), status)
	if err != nil {
		h.logger.Error("list payouts error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]payoutResponse, 0, len(payouts))
	for _, p := range payouts {
		resp = append(resp, toPayoutResponse(p))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) payoutTransition(w http.ResponseWriter, r *http.Request, transition func(context.Context, int64) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err = transition(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPayoutNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrInvalidPayoutStatus):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("payout transition error", zap.Error(err), zap.Int64("payoutID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ApprovePayout переводит заявку на вывод в статус approved.
func (h *Handler) ApprovePayout(w http.ResponseWriter, r *http.Request) {
	h.payoutTransition(w, r, h.service.ApprovePayout)
}

// MarkPayoutPaid переводит заявку на вывод в статус paid.
func (h *Handler) MarkPayoutPaid(w http.ResponseWriter, r *http.Request) {
	h.payoutTransition(w, r, h.service.MarkPayoutPaid)
}
