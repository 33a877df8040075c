// Package service реализует бизнес-логику офферволл-сервиса.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndmitriev/offerwall-system/internal/model"
	"github.com/ndmitriev/offerwall-system/internal/offerfeed"
	"github.com/ndmitriev/offerwall-system/internal/repository"
	"github.com/ndmitriev/offerwall-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrWalletNotSet возвращается при запросе вывода без настроенного адреса кошелька.
	ErrWalletNotSet = errors.New("wallet address is not set")
	// ErrInvalidWalletAddress возвращается при неправдоподобном адресе кошелька.
	ErrInvalidWalletAddress = errors.New("invalid wallet address")
	// ErrInvalidPayoutAmount возвращается при неположительной сумме вывода.
	ErrInvalidPayoutAmount = errors.New("payout amount must be positive")
	// ErrCurrencyRequired возвращается, если не указана криптовалюта вывода.
	ErrCurrencyRequired = errors.New("crypto currency is required")
	// ErrUserBanned возвращается при запросе вывода заблокированным пользователем.
	ErrUserBanned = errors.New("user is banned")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	SetWalletAddress(ctx context.Context, userID int64, address string) error
	GetPartnerByCode(ctx context.Context, code string) (*model.Partner, error)
	GetEnabledPartners(ctx context.Context) ([]model.Partner, error)
	GetOffer(ctx context.Context, partnerID int64, offerIDPartner string) (*model.Offer, error)
	EnsureOffer(ctx context.Context, partnerID int64, offerIDPartner, name string) (*model.Offer, error)
	UpsertOffer(ctx context.Context, o model.Offer) error
	GetCompletionByCallbackID(ctx context.Context, partnerID int64, callbackID string) (*model.Completion, error)
	GetCompletionsByUser(ctx context.Context, userID int64) ([]model.Completion, error)
	CreditCompletion(ctx context.Context, c *model.Completion) (int64, int64, error)
	ReverseCompletion(ctx context.Context, partnerID int64, callbackID string) (*model.Completion, int64, error)
	GetBalance(ctx context.Context, userID int64) (int64, int64, error)
	GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	CreatePayout(ctx context.Context, p *model.Payout) error
	GetPayoutsByUser(ctx context.Context, userID int64) ([]model.Payout, error)
	GetPayoutsByStatus(ctx context.Context, status model.PayoutStatus) ([]model.Payout, error)
	UpdatePayoutStatus(ctx context.Context, id int64, from, to model.PayoutStatus) error
	LogCallback(ctx context.Context, partnerCode, rawQuery, outcome string) error
}

// Service содержит бизнес-логику офферволл-сервиса.
type Service struct {
	repo       Repository
	feedClient *offerfeed.Client
	logger     *zap.Logger
	feePercent int64
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом фида офферов.
func NewService(repo Repository, feedClient *offerfeed.Client, logger *zap.Logger, feePercent int64) *Service {
	return &Service{
		repo:       repo,
		feedClient: feedClient,
		logger:     logger,
		feePercent: feePercent,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль и возвращает идентификатор пользователя
// и признак администратора.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, bool, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, false, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, false, ErrInvalidCredentials
	}

	return u.ID, u.IsAdmin, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ProcessPostback обрабатывает нормализованное событие конверсии: разрешает
// сущности, обеспечивает идемпотентность и выполняет начисление либо реверсал.
func (s *Service) ProcessPostback(ctx context.Context, partnerCode string, allowLazyOffer bool, ev model.ConversionEvent) (*model.PostbackResult, error) {
	p, err := s.repo.GetPartnerByCode(ctx, partnerCode)
	if err != nil {
		return nil, err
	}

	u, err := s.resolveUser(ctx, ev.ExternalUserID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetCompletionByCallbackID(ctx, p.ID, ev.PartnerTransactionID)
	if err != nil && !errors.Is(err, repository.ErrCompletionNotFound) {
		return nil, err
	}

	if ev.IsReversal {
		return s.processReversal(ctx, p, existing, ev)
	}

	if existing != nil {
		return &model.PostbackResult{
			Status:       model.PostbackStatusAlreadyProcessed,
			CompletionID: existing.ID,
		}, nil
	}

	offerID := s.resolveOffer(ctx, p, allowLazyOffer, ev)

	deviceInfo := ev.DeviceInfo
	if deviceInfo == "" {
		deviceInfo = ev.UserAgent
	}

	c := &model.Completion{
		UserID:            u.ID,
		PartnerID:         p.ID,
		OfferID:           offerID,
		OfferIDPartner:    ev.PartnerOfferID,
		PartnerCallbackID: ev.PartnerTransactionID,
		CreditedPoints:    ev.CreditedPoints,
		MoneyValue:        ev.MoneyValue,
		IP:                ev.IP,
		Country:           ev.Country,
		DeviceInfo:        deviceInfo,
	}

	completionID, newBalance, err := s.repo.CreditCompletion(ctx, c)
	if err != nil {
		// Гонка конкурентных дубликатов: уникальное ограничение сработало после
		// предварительной проверки. Отвечаем как на обычный повтор.
		if errors.Is(err, repository.ErrDuplicateCompletion) {
			dup, dupErr := s.repo.GetCompletionByCallbackID(ctx, p.ID, ev.PartnerTransactionID)
			if dupErr != nil {
				return nil, dupErr
			}
			return &model.PostbackResult{
				Status:       model.PostbackStatusAlreadyProcessed,
				CompletionID: dup.ID,
			}, nil
		}
		return nil, err
	}

	s.logger.Info("conversion credited",
		zap.String("partner", partnerCode),
		zap.Int64("user_id", u.ID),
		zap.String("callback_id", ev.PartnerTransactionID),
		zap.Int64("points", ev.CreditedPoints),
	)

	return &model.PostbackResult{
		Status:       model.PostbackStatusCredited,
		CompletionID: completionID,
		NewBalance:   newBalance,
	}, nil
}

func (s *Service) processReversal(ctx context.Context, p *model.Partner, existing *model.Completion, ev model.ConversionEvent) (*model.PostbackResult, error) {
	if existing != nil && existing.Status == model.CompletionStatusReversed {
		return &model.PostbackResult{
			Status:       model.PostbackStatusReversed,
			CompletionID: existing.ID,
		}, nil
	}

	c, newBalance, err := s.repo.ReverseCompletion(ctx, p.ID, ev.PartnerTransactionID)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyReversed) && existing != nil {
			return &model.PostbackResult{
				Status:       model.PostbackStatusReversed,
				CompletionID: existing.ID,
			}, nil
		}
		return nil, err
	}

	if newBalance < 0 {
		s.logger.Warn("reversal drove balance negative",
			zap.Int64("user_id", c.UserID),
			zap.Int64("balance", newBalance),
			zap.Int64("completion_id", c.ID),
		)
	}

	s.logger.Info("conversion reversed",
		zap.String("partner", p.Code),
		zap.Int64("completion_id", c.ID),
		zap.Int64("points", c.CreditedPoints),
	)

	return &model.PostbackResult{
		Status:       model.PostbackStatusReversed,
		CompletionID: c.ID,
		NewBalance:   newBalance,
	}, nil
}

func (s *Service) resolveUser(ctx context.Context, externalID string) (*model.User, error) {
	if id, err := strconv.ParseInt(externalID, 10, 64); err == nil {
		return s.repo.GetUserByID(ctx, id)
	}
	return s.repo.GetUserByLogin(ctx, externalID)
}

// resolveOffer возвращает ссылку на оффер либо nil, если оффер неизвестен.
// Неизвестный оффер не блокирует начисление: идентификатор партнёра сохраняется
// в самой конверсии, оператор может дозаполнить каталог позже.
func (s *Service) resolveOffer(ctx context.Context, p *model.Partner, allowLazy bool, ev model.ConversionEvent) *int64 {
	if ev.PartnerOfferID == "" {
		return nil
	}

	offer, err := s.repo.GetOffer(ctx, p.ID, ev.PartnerOfferID)
	if err == nil {
		return &offer.ID
	}

	if errors.Is(err, repository.ErrOfferNotFound) && allowLazy {
		offer, err = s.repo.EnsureOffer(ctx, p.ID, ev.PartnerOfferID, ev.OfferName)
		if err == nil {
			return &offer.ID
		}
	}

	s.logger.Warn("callback references unknown offer",
		zap.String("partner", p.Code),
		zap.String("offer_id_partner", ev.PartnerOfferID),
		zap.Error(err),
	)

	return nil
}

// GetBalance возвращает баланс пользователя в виде структуры model.Balance.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	points, levelPoints, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Points:      points,
		LevelPoints: levelPoints,
	}, nil
}

// GetLedgerByUser возвращает журнал изменений баланса пользователя.
func (s *Service) GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.repo.GetLedgerByUser(ctx, userID)
}

// GetCompletionsByUser возвращает историю конверсий пользователя.
func (s *Service) GetCompletionsByUser(ctx context.Context, userID int64) ([]model.Completion, error) {
	return s.repo.GetCompletionsByUser(ctx, userID)
}

// SetWalletAddress сохраняет адрес криптокошелька пользователя.
func (s *Service) SetWalletAddress(ctx context.Context, userID int64, address string) error {
	if !validation.IsValidWalletAddress(address) {
		return ErrInvalidWalletAddress
	}
	return s.repo.SetWalletAddress(ctx, userID, address)
}

// RequestPayout создаёт заявку на вывод средств с немедленным списанием баланса.
func (s *Service) RequestPayout(ctx context.Context, userID, points int64, currency string) (*model.Payout, error) {
	if points <= 0 {
		return nil, ErrInvalidPayoutAmount
	}
	if currency == "" {
		return nil, ErrCurrencyRequired
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.IsBanned {
		return nil, ErrUserBanned
	}
	if u.WalletAddress == "" {
		return nil, ErrWalletNotSet
	}

	fee := (points*s.feePercent + 99) / 100

	p := &model.Payout{
		ExternalID:     uuid.New(),
		UserID:         userID,
		PointsAmount:   points,
		FeePoints:      fee,
		WalletAddress:  u.WalletAddress,
		CryptoCurrency: currency,
	}

	if err := s.repo.CreatePayout(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("payout requested",
		zap.Int64("user_id", userID),
		zap.Int64("points", points),
		zap.Int64("fee", fee),
		zap.String("external_id", p.ExternalID.String()),
	)

	return p, nil
}

// GetPayoutsByUser возвращает историю заявок пользователя на вывод средств.
func (s *Service) GetPayoutsByUser(ctx context.Context, userID int64) ([]model.Payout, error) {
	return s.repo.GetPayoutsByUser(ctx, userID)
}

// GetPayoutsByStatus возвращает заявки на вывод в указанном статусе.
func (s *Service) GetPayoutsByStatus(ctx context.Context, status model.PayoutStatus) ([]model.Payout, error) {
	return s.repo.GetPayoutsByStatus(ctx, status)
}

// ApprovePayout переводит заявку из pending в approved.
func (s *Service) ApprovePayout(ctx context.Context, id int64) error {
	return s.repo.UpdatePayoutStatus(ctx, id, model.PayoutStatusPending, model.PayoutStatusApproved)
}

// MarkPayoutPaid переводит заявку из approved в paid.
func (s *Service) MarkPayoutPaid(ctx context.Context, id int64) error {
	return s.repo.UpdatePayoutStatus(ctx, id, model.PayoutStatusApproved, model.PayoutStatusPaid)
}

// LogCallback сохраняет сырой постбэк в журнал аудита. Ошибка записи не
// возвращается вызывающему: аудит не должен ронять путь начисления.
func (s *Service) LogCallback(ctx context.Context, partnerCode, rawQuery, outcome string) {
	if err := s.repo.LogCallback(ctx, partnerCode, rawQuery, outcome); err != nil {
		s.logger.Warn("callback audit log failed",
			zap.String("partner", partnerCode),
			zap.Error(err),
		)
	}
}

// StartOfferSync запускает фоновый процесс синхронизации каталогов офферов партнёров.
func (s *Service) StartOfferSync(ctx context.Context) {
	if s.feedClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		s.syncOffers(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.syncOffers(ctx)
			}
		}
	}()
}

func (s *Service) syncOffers(ctx context.Context) {
	partners, err := s.repo.GetEnabledPartners(ctx)
	if err != nil {
		s.logger.Warn("offer sync: list partners failed", zap.Error(err))
		return
	}

	for _, p := range partners {
		offers, err := s.feedClient.GetOffers(ctx, p.Code)
		if err != nil {
			s.logger.Warn("offer sync failed", zap.String("partner", p.Code), zap.Error(err))
			continue
		}

		for _, o := range offers {
			err := s.repo.UpsertOffer(ctx, model.Offer{
				PartnerID:      p.ID,
				OfferIDPartner: o.OfferID,
				Name:           o.Name,
				Country:        o.Country,
				IsActive:       o.IsActive,
				PayoutPoints:   o.PayoutPoints,
			})
			if err != nil {
				s.logger.Warn("offer upsert failed",
					zap.String("partner", p.Code),
					zap.String("offer_id", o.OfferID),
					zap.Error(err),
				)
			}
		}
	}
}
