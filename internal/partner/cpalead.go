package partner

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ndmitriev/offerwall-system/internal/model"
)

// CPALead реализует интеграцию с сетью CPAlead.
// Подпись: SHA-256 от конкатенации subid + lead_id + virtual_currency + секрет.
type CPALead struct{}

// Code возвращает код партнёра.
func (CPALead) Code() string { return CodeCPALead }

// ResponseShape возвращает формат ответа партнёру.
func (CPALead) ResponseShape() ResponseShape { return ResponseJSON }

// AllowsLazyOffer сообщает, что CPAlead не допускает ленивое создание офферов.
func (CPALead) AllowsLazyOffer() bool { return false }

// Verify проверяет подпись постбэка CPAlead.
func (CPALead) Verify(r *http.Request, secret string) error {
	v := requestValues(r)

	want := sha256hex(
		firstParam(v, "subid", "sub_id", "uid"),
		firstParam(v, "lead_id", "txn_id"),
		firstParam(v, "virtual_currency", "points", "payout"),
		secret,
	)

	got := firstParam(v, "hash", "signature")
	if got == "" || !equalDigest(got, want) {
		return fmt.Errorf("%w: hash mismatch", ErrInvalidSignature)
	}

	return nil
}

// Normalize приводит параметры CPAlead к каноническому событию конверсии.
func (CPALead) Normalize(r *http.Request) (model.ConversionEvent, error) {
	v := requestValues(r)
	ev := normalizeCommon(r, v)

	ev.ExternalUserID = firstParam(v, "subid", "sub_id", "uid")
	if ev.ExternalUserID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing user id", ErrMalformedPayload)
	}

	ev.PartnerTransactionID = firstParam(v, "lead_id", "txn_id")
	if ev.PartnerTransactionID == "" {
		return model.ConversionEvent{}, fmt.Errorf("%w: missing transaction id", ErrMalformedPayload)
	}

	points, negative, err := parsePoints(firstParam(v, "virtual_currency", "points", "payout"))
	if err != nil {
		return model.ConversionEvent{}, err
	}

	status := firstParam(v, "status")
	ev.PartnerOfferID = firstParam(v, "campaign_id", "offer_id")
	ev.CreditedPoints = points
	ev.MoneyValue = parseMoney(firstParam(v, "payout_usd"))
	ev.IsReversal = negative || strings.EqualFold(status, "reversed") || strings.EqualFold(status, "chargeback")

	return ev, nil
}
