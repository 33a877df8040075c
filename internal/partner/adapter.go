// Package partner содержит адаптеры партнёрских сетей: проверку подписи
// входящего постбэка и нормализацию партнёрских параметров в каноническое событие.
package partner

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ndmitriev/offerwall-system/internal/model"
	"github.com/ndmitriev/offerwall-system/internal/validation"
)

// Коды партнёрских интеграций. Совпадают со значениями partners.code в БД.
const (
	CodeAyet         = "ayet"
	CodeBitLabs      = "bitlabs"
	CodeCPX          = "cpx"
	CodeTheoremReach = "theoremreach"
	CodeCPALead      = "cpalead"
	CodeGeneric      = "generic"
)

// ErrInvalidSignature возвращается, когда подпись постбэка не совпадает с ожидаемой.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrMalformedPayload возвращается, когда обязательный параметр отсутствует или некорректен.
var ErrMalformedPayload = errors.New("malformed payload")

// ResponseShape определяет формат ответа, который ожидает партнёрская сеть.
type ResponseShape int

const (
	// ResponseJSON — JSON-тело с полем status.
	ResponseJSON ResponseShape = iota
	// ResponseLegacyText — голый текст "1" при успехе (конвенция партнёрских сетей старого образца).
	ResponseLegacyText
)

// Adapter описывает контракт одной партнёрской интеграции.
type Adapter interface {
	// Code возвращает стабильный код партнёра.
	Code() string
	// Verify проверяет подлинность постбэка по секрету партнёра.
	Verify(r *http.Request, secret string) error
	// Normalize приводит партнёрские параметры к каноническому событию конверсии.
	Normalize(r *http.Request) (model.ConversionEvent, error)
	// ResponseShape возвращает ожидаемый партнёром формат ответа.
	ResponseShape() ResponseShape
	// AllowsLazyOffer сообщает, допускает ли партнёр ленивое создание оффера при первом постбэке.
	AllowsLazyOffer() bool
}

// requestValues возвращает параметры запроса: query для GET, query+form для POST.
func requestValues(r *http.Request) url.Values {
	if err := r.ParseForm(); err == nil {
		return r.Form
	}
	return r.URL.Query()
}

// firstParam возвращает первое непустое значение из списка альтернативных имён параметра.
// Партнёры переименовывают поля между версиями интеграций, поэтому имена упорядочены.
func firstParam(v url.Values, keys ...string) string {
	for _, k := range keys {
		if val := strings.TrimSpace(v.Get(k)); val != "" {
			return val
		}
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// normalizeCommon заполняет общие для всех партнёров поля события.
func normalizeCommon(r *http.Request, v url.Values) model.ConversionEvent {
	ip := firstParam(v, "ip", "user_ip", "ip_address")
	if ip == "" {
		ip = clientIP(r)
	}

	return model.ConversionEvent{
		Country:    firstParam(v, "country", "country_code", "geo"),
		IP:         ip,
		UserAgent:  r.UserAgent(),
		DeviceInfo: firstParam(v, "device", "device_info", "os"),
	}
}

// parsePoints разбирает значение награды. Отрицательное значение означает реверсал,
// наружу возвращается положительная величина.
func parsePoints(raw string) (int64, bool, error) {
	d, err := validation.ParseAmount(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%w: reward amount %q: %s", ErrMalformedPayload, raw, err)
	}

	negative := d.IsNegative()
	if negative {
		d = d.Neg()
	}

	points, err := validation.PointsFromAmount(d)
	if err != nil {
		return 0, false, fmt.Errorf("%w: reward amount %q: %s", ErrMalformedPayload, raw, err)
	}

	return points, negative, nil
}

// parseMoney разбирает необязательное денежное значение (USD); при отсутствии
// или нечисловом значении возвращает ноль.
func parseMoney(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Decimal{}
	}
	d, err := validation.ParseAmount(raw)
	if err != nil {
		return decimal.Decimal{}
	}
	return d.Abs()
}

func sha256hex(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sha1hex(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// equalDigest сравнивает hex-дайджесты без утечки по времени и без учёта регистра.
func equalDigest(got, want string) bool {
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(strings.ToLower(want)))
}
