// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNotNumeric возвращается, когда значение суммы не является числом.
var ErrNotNumeric = errors.New("value is not numeric")

// ErrNotPositive возвращается, когда сумма после нормализации не строго положительна.
var ErrNotPositive = errors.New("value must be greater than zero")

// ParseAmount разбирает денежное или балльное значение из строкового параметра партнёра.
// Допускаются целые и дробные числа, включая отрицательные (реверсалы).
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Decimal{}, ErrNotNumeric
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrNotNumeric
	}

	return d, nil
}

// PointsFromAmount приводит значение суммы к целому количеству баллов.
// Дробная часть отбрасывается. Нулевое или отрицательное значение — ошибка валидации.
func PointsFromAmount(d decimal.Decimal) (int64, error) {
	points := d.IntPart()
	if points <= 0 {
		return 0, ErrNotPositive
	}
	return points, nil
}

// IsValidWalletAddress проверяет правдоподобность адреса криптокошелька:
// непустая строка из латинских букв и цифр разумной длины.
func IsValidWalletAddress(addr string) bool {
	if len(addr) < 20 || len(addr) > 128 {
		return false
	}

	for _, ch := range addr {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		default:
			return false
		}
	}

	return true
}
