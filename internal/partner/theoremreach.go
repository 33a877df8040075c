package partner

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/ndmitriev/offerwall-system/internal/model"
)

// TheoremReach реализует интеграцию с сетью TheoremReach.
// Подпись: HMAC-SHA1 от полного URL постбэка с вырезанным параметром hash,
// закодированный URL-безопасным base64 без выравнивания. Порядок query-параметров
// должен остаться исходным: пересборка через url.Values ломает подпись.
type TheoremReach struct{}

// Code возвращает код партнёра.
func (TheoremReach) Code() string { return CodeTheoremReach }

// ResponseShape возвращает формат ответа партнёру.
func (TheoremReach) ResponseShape() ResponseShape { return ResponseJSON }

// AllowsLazyOffer сообщает, что TheoremReach допускает ленивое создание оффера при первом постбэке.
func (TheoremReach) AllowsLazyOffer() bool { return true }

// Verify проверяет URL-подпись постбэка TheoremReach.
func (TheoremReach) Verify(r *http.Request, secret string) error {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(signedCallbackURL(r)))

	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	want = strings.NewReplacer("+", "-", "/", "_", "=", "", "\n", "").Replace(want)

	got := r.URL.Query().Get("hash")
	if got == "" || !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("%w: url hmac mismatch", ErrInvalidSignature)
	}

	return nil
}

// signedCallbackURL восстанавливает URL в том виде, в котором его подписал партнёр.
func signedCallbackURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	u := scheme + "://" + r.Host + r.URL.Path
	if q := stripHashParam(r.URL.RawQuery); q != "" {
		u += "?" + q
	}

	return u
}

// stripHashParam удаляет пару hash=... из сырой query-строки, сохраняя порядок остальных пар.
func stripHashParam(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	kept := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p == "hash" || strings.HasPrefix(p, "hash=") {
			continue
		}
		kept = append(kept, p)
	}

	return strings.Join(kept, "&")
}

// Normalize приводит параметры TheoremReach к каноническому событию конверсии.
func (TheoremReach) Normalize(r *http.Request) (model.ConversionEvent, error) {
	v := requestValues(r)
	ev := normalizeCommon(r, v)

	ev.ExternalUserID = firstParam(v, "user_id", "endUserId")
	if ev.ExternalUserID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}

	ev.PartnerTransactionID = firstParam(v, "tx_id", "transaction_id")
	if ev.PartnerTransactionID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}

	points, negative, err := parsePoints(firstParam(v, "reward", "points"))
	if err != nil {
		return model.ConversionEvent{}, err
	}

	status := firstParam(v, "status")
	ev.PartnerOfferID = firstParam(v, "offer_id")
	ev.OfferName = firstParam(v, "offer_name")
	ev.CreditedPoints = points
	ev.IsReversal = negative || strings.EqualFold(status, "chargeback") || status == "2"

	return ev, nil
}
