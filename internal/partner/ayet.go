package partner

import (
	"fmt"
	"net/http"

	"github.com/ndmitriev/offerwall-system/internal/model"
)

// Ayet реализует интеграцию с сетью ayetstudios.
// Подпись: SHA-256 от конкатенации uid + transaction_id + currency_amount + секрет.
type Ayet struct{}

// Code возвращает код партнёра.
func (Ayet) Code() string { return CodeAyet }

// ResponseShape возвращает формат ответа партнёру.
func (Ayet) ResponseShape() ResponseShape { return ResponseJSON }

// AllowsLazyOffer сообщает, что ayet не допускает ленивое создание офферов.
func (Ayet) AllowsLazyOffer() bool { return false }

// Verify проверяет подпись постбэка ayet.
func (Ayet) Verify(r *http.Request, secret string) error {
	v := requestValues(r)

	want := sha256hex(
		firstParam(v, "uid", "external_identifier"),
		firstParam(v, "transaction_id", "tx_id"),
		firstParam(v, "currency_amount", "points", "amount"),
		secret,
	)

	got := firstParam(v, "hash")
	if got == "" || !equalDigest(got, want) {
		return fmt.Errorf("%w: hash mismatch", ErrInvalidSignature)
	}

	return nil
}

// Normalize приводит параметры ayet к каноническому событию конверсии.
func (Ayet) Normalize(r *http.Request) (model.ConversionEvent, error) {
	v := requestValues(r)
	ev := normalizeCommon(r, v)

	ev.ExternalUserID = firstParam(v, "uid", "external_identifier")
	if ev.ExternalUserID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}

	ev.PartnerTransactionID = firstParam(v, "transaction_id", "tx_id")
	if ev.PartnerTransactionID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}

	points, negative, err := parsePoints(firstParam(v, "currency_amount", "points", "amount"))
	if err != nil {
		return model.ConversionEvent{}, err
	}

	ev.PartnerOfferID = firstParam(v, "offer_id", "adslot_id")
	ev.CreditedPoints = points
	ev.MoneyValue = parseMoney(firstParam(v, "payout_usd", "payout"))
	ev.IsReversal = negative || firstParam(v, "is_chargeback") == "1"

	return ev, nil
}
