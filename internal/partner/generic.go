package partner

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ndmitriev/offerwall-system/internal/model"
)

// Generic реализует унаследованный универсальный постбэк, параметризованный
// полем provider. Ответ — голый текст "1" при успехе; контракт менять нельзя,
// на него завязана логика повторов у интеграций старого образца.
// Подпись: SHA-1 от конкатенации user_id + txid + points + секрет.
type Generic struct{}

// Code возвращает код партнёра.
func (Generic) Code() string { return CodeGeneric }

// ResponseShape возвращает формат ответа партнёру.
func (Generic) ResponseShape() ResponseShape { return ResponseLegacyText }

// AllowsLazyOffer сообщает, что универсальный постбэк не создаёт офферы лениво.
func (Generic) AllowsLazyOffer() bool { return false }

// Verify проверяет подпись универсального постбэка.
func (Generic) Verify(r *http.Request, secret string) error {
	v := requestValues(r)

	want := sha1hex(
		firstParam(v, "user_id", "uid", "subid"),
		firstParam(v, "txid", "trans_id", "transaction_id"),
		firstParam(v, "points", "amount", "reward"),
		secret,
	)

	got := firstParam(v, "hash")
	if got == "" || !equalDigest(got, want) {
		return fmt.Errorf("%w: hash mismatch", ErrInvalidSignature)
	}

	return nil
}

// Normalize приводит параметры универсального постбэка к каноническому событию конверсии.
func (Generic) Normalize(r *http.Request) (model.ConversionEvent, error) {
	v := requestValues(r)
	ev := normalizeCommon(r, v)

	ev.ExternalUserID = firstParam(v, "user_id", "uid", "subid")
	if ev.ExternalUserID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}

	ev.PartnerTransactionID = firstParam(v, "txid", "trans_id", "transaction_id")
	if ev.PartnerTransactionID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}

	points, negative, err := parsePoints(firstParam(v, "points", "amount", "reward"))
	if err != nil {
		return model.ConversionEvent{}, err
	}

	action := firstParam(v, "action")
	ev.PartnerOfferID = firstParam(v, "offer_id", "oid")
	ev.CreditedPoints = points
	ev.IsReversal = negative || strings.EqualFold(action, "reversal") || strings.EqualFold(action, "chargeback")

	return ev, nil
}

// ProviderCode возвращает код партнёра для атрибуции универсального постбэка:
// значение параметра provider либо generic по умолчанию.
func ProviderCode(r *http.Request) string {
	if p := strings.TrimSpace(r.URL.Query().Get("provider")); p != "" {
		return strings.ToLower(p)
	}
	return CodeGeneric
}
