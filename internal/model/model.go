// Package model содержит доменные сущности офферволл-сервиса.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID            int64
	Login         string
	PasswordHash  []byte
	PointsBalance int64
	LevelPoints   int64
	WalletAddress string
	IsAdmin       bool
	IsBanned      bool
	CreatedAt     time.Time
}

// Partner описывает интеграцию с партнёрской сетью.
type Partner struct {
	ID        int64
	Code      string
	Name      string
	IsEnabled bool
}

// Offer описывает кампанию партнёра в его собственном пространстве имён.
type Offer struct {
	ID             int64
	PartnerID      int64
	OfferIDPartner string
	Name           string
	Country        string
	IsActive       bool
	PayoutPoints   int64
}

// CompletionStatus описывает статус записи о конверсии.
type CompletionStatus string

const (
	CompletionStatusCredited CompletionStatus = "credited"
	CompletionStatusReversed CompletionStatus = "reversed"
)

// Completion — каноническая запись об одной начисленной (или отозванной) конверсии.
// Пара (PartnerID, PartnerCallbackID) уникальна и служит ключом идемпотентности.
type Completion struct {
	ID                int64
	UserID            int64
	PartnerID         int64
	OfferID           *int64
	OfferIDPartner    string
	PartnerCallbackID string
	CreditedPoints    int64
	MoneyValue        decimal.Decimal
	Status            CompletionStatus
	IP                string
	Country           string
	DeviceInfo        string
	CreatedAt         time.Time
	ReversedAt        *time.Time
}

// LedgerSource описывает источник изменения баланса.
type LedgerSource string

const (
	LedgerSourceCredit    LedgerSource = "credit"
	LedgerSourceDebit     LedgerSource = "debit"
	LedgerSourcePayout    LedgerSource = "payout"
	LedgerSourcePayoutFee LedgerSource = "payout_fee"
)

// ReferenceKind указывает тип сущности, на которую ссылается запись журнала.
type ReferenceKind string

const (
	ReferenceKindCompletion ReferenceKind = "completion"
	ReferenceKindPayout     ReferenceKind = "payout"
)

// LedgerEntry — неизменяемая запись журнала об одном изменении баланса.
type LedgerEntry struct {
	ID            int64         `json:"id"`
	UserID        int64         `json:"-"`
	Amount        int64         `json:"amount"`
	BalanceAfter  int64         `json:"balance_after"`
	Source        LedgerSource  `json:"source"`
	ReferenceKind ReferenceKind `json:"reference_kind"`
	ReferenceID   int64         `json:"reference_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PayoutStatus описывает состояние заявки на вывод средств.
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusApproved PayoutStatus = "approved"
	PayoutStatusPaid     PayoutStatus = "paid"
)

// Payout описывает заявку пользователя на вывод баллов на криптокошелёк.
type Payout struct {
	ID             int64
	ExternalID     uuid.UUID
	UserID         int64
	PointsAmount   int64
	FeePoints      int64
	WalletAddress  string
	CryptoCurrency string
	Status         PayoutStatus
	RequestedAt    time.Time
	ProcessedAt    *time.Time
	CompletedAt    *time.Time
}

// ConversionEvent — каноническое представление входящего постбэка
// после нормализации партнёрских параметров.
type ConversionEvent struct {
	ExternalUserID       string
	PartnerOfferID       string
	OfferName            string
	PartnerTransactionID string
	CreditedPoints       int64
	MoneyValue           decimal.Decimal
	Country              string
	IP                   string
	UserAgent            string
	DeviceInfo           string
	IsReversal           bool
}

// PostbackStatus — итог обработки постбэка в терминах ответа партнёру.
type PostbackStatus string

const (
	PostbackStatusCredited         PostbackStatus = "credited"
	PostbackStatusAlreadyProcessed PostbackStatus = "already_processed"
	PostbackStatusReversed         PostbackStatus = "reversed"
)

// PostbackResult содержит итог обработки одного постбэка.
type PostbackResult struct {
	Status       PostbackStatus
	CompletionID int64
	NewBalance   int64
}

// Balance содержит текущий баланс пользователя и накопленные очки уровня.
type Balance struct {
	Points      int64 `json:"points"`
	LevelPoints int64 `json:"level_points"`
}
