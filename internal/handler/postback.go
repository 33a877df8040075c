package handler

import (
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/ndmitriev/offerwall-system/internal/model"
	"github.com/ndmitriev/offerwall-system/internal/partner"
	"github.com/ndmitriev/offerwall-system/internal/repository"
)

type postbackResponse struct {
	Status       string `json:"status"`
	NewBalance   *int64 `json:"new_balance,omitempty"`
	CompletionID int64  `json:"completion_id"`
}

type postbackError struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// Postback возвращает обработчик постбэков для указанного партнёрского адаптера.
// Последовательность одна для всех партнёров: проверка подписи, нормализация,
// обработка события, формирование ответа в ожидаемом партнёром формате.
func (h *Handler) Postback(adapter partner.Adapter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := adapter.Code()
		if code == partner.CodeGeneric {
			code = partner.ProviderCode(r)
		}

		if h.verifyEnabled {
			if err := adapter.Verify(r, h.secrets[adapter.Code()]); err != nil {
				h.logger.Warn("postback signature rejected",
					zap.String("partner", code),
					zap.Error(err),
				)
				h.service.LogCallback(r.Context(), code, r.URL.RawQuery, "invalid_signature")
				h.respondPostbackError(w, adapter, http.StatusForbidden, "invalid signature", "", nil)
				return
			}
		}

		ev, err := adapter.Normalize(r)
		if err != nil {
			h.service.LogCallback(r.Context(), code, r.URL.RawQuery, "malformed")
			h.respondPostbackError(w, adapter, http.StatusBadRequest, err.Error(), "", r.URL.Query())
			return
		}

		res, err := h.service.ProcessPostback(r.Context(), code, adapter.AllowsLazyOffer(), ev)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrUserNotFound),
				errors.Is(err, repository.ErrPartnerNotFound),
				errors.Is(err, repository.ErrCompletionNotFound):
				h.service.LogCallback(r.Context(), code, r.URL.RawQuery, "entity_not_found")
				h.respondPostbackError(w, adapter, http.StatusNotFound, err.Error(), "", nil)
			default:
				h.logger.Error("postback processing error",
					zap.String("partner", code),
					zap.String("callback_id", ev.PartnerTransactionID),
					zap.Error(err),
				)
				h.service.LogCallback(r.Context(), code, r.URL.RawQuery, "internal_error")
				h.respondPostbackError(w, adapter, http.StatusInternalServerError, "internal error", err.Error(), nil)
			}
			return
		}

		h.service.LogCallback(r.Context(), code, r.URL.RawQuery, string(res.Status))
		h.respondPostbackResult(w, adapter, res)
	}
}

func (h *Handler) respondPostbackResult(w http.ResponseWriter, adapter partner.Adapter, res *model.PostbackResult) {
	if adapter.ResponseShape() == partner.ResponseLegacyText {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("1"))
		return
	}

	resp := postbackResponse{
		Status:       string(res.Status),
		CompletionID: res.CompletionID,
	}
	if res.Status == model.PostbackStatusCredited {
		balance := res.NewBalance
		resp.NewBalance = &balance
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondPostbackError(w http.ResponseWriter, adapter partner.Adapter, status int, msg, details string, params url.Values) {
	if adapter.ResponseShape() == partner.ResponseLegacyText {
		http.Error(w, msg, status)
		return
	}

	resp := postbackError{
		Error:   msg,
		Details: details,
	}
	if params != nil {
		resp.Params = make(map[string]string, len(params))
		for k := range params {
			resp.Params[k] = params.Get(k)
		}
	}

	h.writeJSON(w, status, resp)
}
