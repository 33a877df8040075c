package partner

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ndmitriev/offerwall-system/internal/model"
)

// BitLabs реализует интеграцию с сетью BitLabs (опросы).
// Подпись: SHA-256 от конкатенации uid + tx + val + секрет.
// Реверсал приходит либо как type=RECONCILIATION, либо как отрицательное val.
type BitLabs struct{}

// Code возвращает код партнёра.
func (BitLabs) Code() string { return CodeBitLabs }

// ResponseShape возвращает формат ответа партнёру.
func (BitLabs) ResponseShape() ResponseShape { return ResponseJSON }

// AllowsLazyOffer сообщает, что BitLabs не допускает ленивое создание офферов.
func (BitLabs) AllowsLazyOffer() bool { return false }

// Verify проверяет подпись постбэка BitLabs.
func (BitLabs) Verify(r *http.Request, secret string) error {
	v := requestValues(r)

	want := sha256hex(
		firstParam(v, "uid", "user_id"),
		firstParam(v, "tx", "tx_id", "transaction_id"),
		firstParam(v, "val", "raw", "reward"),
		secret,
	)

	got := firstParam(v, "hash")
	if got == "" || !equalDigest(got, want) {
		return fmt.Errorf("%w: hash mismatch", ErrInvalidSignature)
	}

	return nil
}

// Normalize приводит параметры BitLabs к каноническому событию конверсии.
func (BitLabs) Normalize(r *http.Request) (model.ConversionEvent, error) {
	v := requestValues(r)
	ev := normalizeCommon(r, v)

	ev.ExternalUserID = firstParam(v, "uid", "user_id")
	if ev.ExternalUserID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}

	ev.PartnerTransactionID = firstParam(v, "tx", "tx_id", "transaction_id")
	if ev.PartnerTransactionID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}

	points, negative, err := parsePoints(firstParam(v, "val", "raw", "reward"))
	if err != nil {
		return model.ConversionEvent{}, err
	}

	ev.PartnerOfferID = firstParam(v, "survey_id", "offer_id")
	ev.CreditedPoints = points
	ev.MoneyValue = parseMoney(firstParam(v, "usd_value", "val_usd"))
	ev.IsReversal = negative || strings.EqualFold(firstParam(v, "type"), "RECONCILIATION")

	return ev, nil
}
