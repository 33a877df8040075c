package partner

import (
	"fmt"
	"net/http"

	"github.com/ndmitriev/offerwall-system/internal/model"
)

// CPX реализует интеграцию с сетью CPX Research.
// Подпись: SHA-1 от конкатенации user_id + trans_id + amount_local + секрет.
// Поле status перегружено: "1" — начисление, "2" — чарджбэк.
type CPX struct{}

// Code возвращает код партнёра.
func (CPX) Code() string { return CodeCPX }

// ResponseShape возвращает формат ответа партнёру.
func (CPX) ResponseShape() ResponseShape { return ResponseJSON }

// AllowsLazyOffer сообщает, что CPX не допускает ленивое создание офферов.
func (CPX) AllowsLazyOffer() bool { return false }

// Verify проверяет подпись постбэка CPX.
func (CPX) Verify(r *http.Request, secret string) error {
	v := requestValues(r)

	want := sha1hex(
		firstParam(v, "user_id"),
		firstParam(v, "trans_id"),
		firstParam(v, "amount_local", "amount"),
		secret,
	)

	got := firstParam(v, "hash", "secure_hash")
	if got == "" || !equalDigest(got, want) {
		return fmt.Errorf("%w: hash mismatch", ErrInvalidSignature)
	}

	return nil
}

// Normalize приводит параметры CPX к каноническому событию конверсии.
func (CPX) Normalize(r *http.Request) (model.ConversionEvent, error) {
	v := requestValues(r)
	ev := normalizeCommon(r, v)

	ev.ExternalUserID = firstParam(v, "user_id")
	if ev.ExternalUserID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}

	ev.PartnerTransactionID = firstParam(v, "trans_id")
	if ev.PartnerTransactionID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}

	switch status := firstParam(v, "status"); status {
	case "", "1":
		ev.IsReversal = false
	case "2":
		ev.IsReversal = true
	default:
		return model.ConversionEvent{}, fmt.Errorf("%w: unsupported status %q", ErrMalformedPayload, status)
	}

	points, negative, err := parsePoints(firstParam(v, "amount_local", "amount"))
	if err != nil {
		return model.ConversionEvent{}, err
	}
	if negative {
		ev.IsReversal = true
	}

	ev.PartnerOfferID = firstParam(v, "offer_id")
	ev.CreditedPoints = points
	ev.MoneyValue = parseMoney(firstParam(v, "amount_usd"))

	return ev, nil
}
