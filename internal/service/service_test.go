package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/ndmitriev/offerwall-system/internal/model"
	"github.com/ndmitriev/offerwall-system/internal/repository"
)

type stubRepo struct {
	Repository

	partner *model.Partner
	user    *model.User

	existingCompletion *model.Completion
	completionOnRetry  *model.Completion
	completionCalls    int

	creditID      int64
	creditBalance int64
	creditErr     error
	credited      []*model.Completion

	reverseCompletion *model.Completion
	reverseBalance    int64
	reverseErr        error
	reverseCalls      int

	offer    *model.Offer
	offerErr error

	createdPayout *model.Payout
	payoutErr     error
}

func (s *stubRepo) GetPartnerByCode(ctx context.Context, code string) (*model.Partner, error) {
	if s.partner == nil {
		return nil, repository.ErrPartnerNotFound
	}
	return s.partner, nil
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	if s.user == nil {
		return nil, repository.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	if s.user == nil {
		return nil, repository.ErrUserNotFound
	}
	return s.user, nil
}

func (s *stubRepo) GetCompletionByCallbackID(ctx context.Context, partnerID int64, callbackID string) (*model.Completion, error) {
	s.completionCalls++
	if s.existingCompletion != nil {
		return s.existingCompletion, nil
	}
	if s.completionOnRetry != nil && s.completionCalls > 1 {
		return s.completionOnRetry, nil
	}
	return nil, repository.ErrCompletionNotFound
}

func (s *stubRepo) GetOffer(ctx context.Context, partnerID int64, offerIDPartner string) (*model.Offer, error) {
	if s.offer == nil {
		if s.offerErr != nil {
			return nil, s.offerErr
		}
		return nil, repository.ErrOfferNotFound
	}
	return s.offer, nil
}

func (s *stubRepo) EnsureOffer(ctx context.Context, partnerID int64, offerIDPartner, name string) (*model.Offer, error) {
	o := &model.Offer{ID: 77, PartnerID: partnerID, OfferIDPartner: offerIDPartner, Name: name}
	s.offer = o
	return o, nil
}

func (s *stubRepo) CreditCompletion(ctx context.Context, c *model.Completion) (int64, int64, error) {
	if s.creditErr != nil {
		return 0, 0, s.creditErr
	}
	s.credited = append(s.credited, c)
	return s.creditID, s.creditBalance, nil
}

func (s *stubRepo) ReverseCompletion(ctx context.Context, partnerID int64, callbackID string) (*model.Completion, int64, error) {
	s.reverseCalls++
	if s.reverseErr != nil {
		return nil, 0, s.reverseErr
	}
	return s.reverseCompletion, s.reverseBalance, nil
}

func (s *stubRepo) CreatePayout(ctx context.Context, p *model.Payout) error {
	if s.payoutErr != nil {
		return s.payoutErr
	}
	p.ID = 5
	s.createdPayout = p
	return nil
}

func newTestService(repo *stubRepo) *Service {
	return NewService(repo, nil, zap.NewNop(), 2)
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestProcessPostback_Credit(t *testing.T) {
	repo := &stubRepo{
		partner:       &model.Partner{ID: 1, Code: "cpx"},
		user:          &model.User{ID: 42},
		creditID:      10,
		creditBalance: 500,
	}
	svc := newTestService(repo)

	ev := model.ConversionEvent{
		ExternalUserID:       "42",
		PartnerTransactionID: "abc123",
		CreditedPoints:       500,
	}

	res, err := svc.ProcessPostback(context.Background(), "cpx", false, ev)
	if err != nil {
		t.Fatalf("process postback: %v", err)
	}

	if res.Status != model.PostbackStatusCredited {
		t.Fatalf("status = %s, want credited", res.Status)
	}
	if res.NewBalance != 500 {
		t.Fatalf("new balance = %d, want 500", res.NewBalance)
	}
	if len(repo.credited) != 1 {
		t.Fatalf("expected exactly one credit, got %d", len(repo.credited))
	}
}

func TestProcessPostback_Duplicate(t *testing.T) {
	repo := &stubRepo{
		partner: &model.Partner{ID: 1, Code: "cpx"},
		user:    &model.User{ID: 42},
		existingCompletion: &model.Completion{
			ID:     10,
			Status: model.CompletionStatusCredited,
		},
	}
	svc := newTestService(repo)

	ev := model.ConversionEvent{
		ExternalUserID:       "42",
		PartnerTransactionID: "abc123",
		CreditedPoints:       500,
	}

	res, err := svc.ProcessPostback(context.Background(), "cpx", false, ev)
	if err != nil {
		t.Fatalf("process postback: %v", err)
	}

	if res.Status != model.PostbackStatusAlreadyProcessed {
		t.Fatalf("status = %s, want already_processed", res.Status)
	}
	if res.CompletionID != 10 {
		t.Fatalf("completion id = %d, want 10", res.CompletionID)
	}
	if len(repo.credited) != 0 {
		t.Fatalf("duplicate must not be credited again")
	}
}

func TestProcessPostback_DuplicateRace(t *testing.T) {
	// Предварительная проверка дубликата прошла, но вставка упёрлась в
	// уникальное ограничение: ответ должен быть already_processed, а не 500.
	repo := &stubRepo{
		partner:           &model.Partner{ID: 1, Code: "cpx"},
		user:              &model.User{ID: 42},
		creditErr:         repository.ErrDuplicateCompletion,
		completionOnRetry: &model.Completion{ID: 11, Status: model.CompletionStatusCredited},
	}
	svc := newTestService(repo)

	ev := model.ConversionEvent{
		ExternalUserID:       "42",
		PartnerTransactionID: "abc123",
		CreditedPoints:       500,
	}

	res, err := svc.ProcessPostback(context.Background(), "cpx", false, ev)
	if err != nil {
		t.Fatalf("process postback: %v", err)
	}

	if res.Status != model.PostbackStatusAlreadyProcessed {
		t.Fatalf("status = %s, want already_processed", res.Status)
	}
	if res.CompletionID != 11 {
		t.Fatalf("completion id = %d, want 11", res.CompletionID)
	}
}

func TestProcessPostback_Reversal(t *testing.T) {
	repo := &stubRepo{
		partner: &model.Partner{ID: 1, Code: "cpx"},
		user:    &model.User{ID: 42},
		existingCompletion: &model.Completion{
			ID:             10,
			UserID:         42,
			CreditedPoints: 500,
			Status:         model.CompletionStatusCredited,
		},
		reverseCompletion: &model.Completion{
			ID:             10,
			UserID:         42,
			CreditedPoints: 500,
			Status:         model.CompletionStatusReversed,
		},
		reverseBalance: 0,
	}
	svc := newTestService(repo)

	ev := model.ConversionEvent{
		ExternalUserID:       "42",
		PartnerTransactionID: "abc123",
		CreditedPoints:       500,
		IsReversal:           true,
	}

	res, err := svc.ProcessPostback(context.Background(), "cpx", false, ev)
	if err != nil {
		t.Fatalf("process postback: %v", err)
	}

	if res.Status != model.PostbackStatusReversed {
		t.Fatalf("status = %s, want reversed", res.Status)
	}
	if res.CompletionID != 10 {
		t.Fatalf("completion id = %d, want 10", res.CompletionID)
	}
	if repo.reverseCalls != 1 {
		t.Fatalf("reverse calls = %d, want 1", repo.reverseCalls)
	}
}

func TestProcessPostback_ReversalIdempotent(t *testing.T) {
	repo := &stubRepo{
		partner: &model.Partner{ID: 1, Code: "cpx"},
		user:    &model.User{ID: 42},
		existingCompletion: &model.Completion{
			ID:     10,
			Status: model.CompletionStatusReversed,
		},
	}
	svc := newTestService(repo)

	ev := model.ConversionEvent{
		ExternalUserID:       "42",
		PartnerTransactionID: "abc123",
		CreditedPoints:       500,
		IsReversal:           true,
	}

	res, err := svc.ProcessPostback(context.Background(), "cpx", false, ev)
	if err != nil {
		t.Fatalf("process postback: %v", err)
	}

	if res.Status != model.PostbackStatusReversed {
		t.Fatalf("status = %s, want reversed", res.Status)
	}
	if repo.reverseCalls != 0 {
		t.Fatalf("already reversed completion must not be reversed again")
	}
}

func TestProcessPostback_ReversalWithoutCredit(t *testing.T) {
	repo := &stubRepo{
		partner:    &model.Partner{ID: 1, Code: "cpx"},
		user:       &model.User{ID: 42},
		reverseErr: repository.ErrCompletionNotFound,
	}
	svc := newTestService(repo)

	ev := model.ConversionEvent{
		ExternalUserID:       "42",
		PartnerTransactionID: "missing",
		CreditedPoints:       500,
		IsReversal:           true,
	}

	_, err := svc.ProcessPostback(context.Background(), "cpx", false, ev)
	if !errors.Is(err, repository.ErrCompletionNotFound) {
		t.Fatalf("err = %v, want ErrCompletionNotFound", err)
	}
}

func TestProcessPostback_LazyOffer(t *testing.T) {
	repo := &stubRepo{
		partner:       &model.Partner{ID: 4, Code: "theoremreach"},
		user:          &model.User{ID: 42},
		creditID:      12,
		creditBalance: 100,
	}
	svc := newTestService(repo)

	ev := model.ConversionEvent{
		ExternalUserID:       "42",
		PartnerOfferID:       "SURV1",
		OfferName:            "Daily Survey",
		PartnerTransactionID: "tr-1",
		CreditedPoints:       100,
	}

	_, err := svc.ProcessPostback(context.Background(), "theoremreach", true, ev)
	if err != nil {
		t.Fatalf("process postback: %v", err)
	}

	if repo.offer == nil || repo.offer.OfferIDPartner != "SURV1" {
		t.Fatalf("lazy offer was not created: %+v", repo.offer)
	}
	if len(repo.credited) != 1 || repo.credited[0].OfferID == nil {
		t.Fatalf("completion must reference the lazily created offer")
	}
}

func TestProcessPostback_UnknownOfferTolerated(t *testing.T) {
	repo := &stubRepo{
		partner:       &model.Partner{ID: 1, Code: "cpx"},
		user:          &model.User{ID: 42},
		creditID:      13,
		creditBalance: 100,
	}
	svc := newTestService(repo)

	ev := model.ConversionEvent{
		ExternalUserID:       "42",
		PartnerOfferID:       "UNKNOWN",
		PartnerTransactionID: "tr-2",
		CreditedPoints:       100,
	}

	res, err := svc.ProcessPostback(context.Background(), "cpx", false, ev)
	if err != nil {
		t.Fatalf("process postback: %v", err)
	}

	if res.Status != model.PostbackStatusCredited {
		t.Fatalf("status = %s, want credited", res.Status)
	}
	if repo.credited[0].OfferID != nil {
		t.Fatalf("unknown offer must produce a nil offer reference")
	}
	if repo.credited[0].OfferIDPartner != "UNKNOWN" {
		t.Fatalf("partner offer id must be preserved on the completion")
	}
}

func TestRequestPayout_FeeAndWallet(t *testing.T) {
	repo := &stubRepo{
		user: &model.User{ID: 42, WalletAddress: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"},
	}
	svc := newTestService(repo)

	p, err := svc.RequestPayout(context.Background(), 42, 1000, "BTC")
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}

	if p.FeePoints != 20 {
		t.Fatalf("fee = %d, want 20 (2%% of 1000)", p.FeePoints)
	}
	if p.WalletAddress != repo.user.WalletAddress {
		t.Fatalf("wallet = %q, want user wallet", p.WalletAddress)
	}
	if p.ExternalID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("external id must be generated")
	}
}

func TestRequestPayout_FeeRoundsUp(t *testing.T) {
	repo := &stubRepo{
		user: &model.User{ID: 42, WalletAddress: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"},
	}
	svc := newTestService(repo)

	p, err := svc.RequestPayout(context.Background(), 42, 101, "BTC")
	if err != nil {
		t.Fatalf("request payout: %v", err)
	}

	if p.FeePoints != 3 {
		t.Fatalf("fee = %d, want 3 (2%% of 101, rounded up)", p.FeePoints)
	}
}

func TestRequestPayout_Validation(t *testing.T) {
	repo := &stubRepo{
		user: &model.User{ID: 42},
	}
	svc := newTestService(repo)

	if _, err := svc.RequestPayout(context.Background(), 42, 0, "BTC"); !errors.Is(err, ErrInvalidPayoutAmount) {
		t.Fatalf("err = %v, want ErrInvalidPayoutAmount", err)
	}
	if _, err := svc.RequestPayout(context.Background(), 42, 100, ""); !errors.Is(err, ErrCurrencyRequired) {
		t.Fatalf("err = %v, want ErrCurrencyRequired", err)
	}
	if _, err := svc.RequestPayout(context.Background(), 42, 100, "BTC"); !errors.Is(err, ErrWalletNotSet) {
		t.Fatalf("err = %v, want ErrWalletNotSet", err)
	}

	repo.user.IsBanned = true
	repo.user.WalletAddress = "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"
	if _, err := svc.RequestPayout(context.Background(), 42, 100, "BTC"); !errors.Is(err, ErrUserBanned) {
		t.Fatalf("err = %v, want ErrUserBanned", err)
	}
}

func TestAuthenticateUser_WrongPassword(t *testing.T) {
	repo := &stubRepo{
		user: &model.User{ID: 42, Login: "user", PasswordHash: hashPassword("user", "pass")},
	}
	svc := newTestService(repo)

	if _, _, err := svc.AuthenticateUser(context.Background(), "user", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}

	id, isAdmin, err := svc.AuthenticateUser(context.Background(), "user", "pass")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id != 42 || isAdmin {
		t.Fatalf("id = %d, isAdmin = %v; want 42, false", id, isAdmin)
	}
}
