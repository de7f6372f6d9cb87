package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/tipstream/tip-service/internal/config"
	"github.com/tipstream/tip-service/internal/processor"
	"github.com/tipstream/tip-service/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrWorkerNotFound means the worker id resolves to nothing (HTTP 404).
var ErrWorkerNotFound = errors.New("worker not found")

// ErrWorkerNotReady means the worker exists but cannot take payments yet
// (HTTP 400, distinct from not-found).
var ErrWorkerNotReady = errors.New("worker is not ready to accept payments")

// ErrInvalidAmount means the tip amount is out of bounds or has sub-cent
// precision.
var ErrInvalidAmount = errors.New("invalid amount")

// PaymentService builds checkout links for tips. Nothing is persisted
// locally at link time; the webhook path records the transaction once the
// processor confirms payment.
type PaymentService struct {
	repo     repo.RepositoryInterface
	client   processor.Client
	cfg      config.PaymentsConfig
	frontend string
	log      *zap.SugaredLogger
}

// NewPaymentService returns PaymentService.
func NewPaymentService(r repo.RepositoryInterface, c processor.Client, pay config.PaymentsConfig, frontendURL string, logger *zap.SugaredLogger) *PaymentService {
	return &PaymentService{repo: r, client: c, cfg: pay, frontend: frontendURL, log: logger}
}

// CreatePaymentLink resolves the worker, computes the platform fee and asks
// the processor for a hosted checkout URL. The worker id and the fee travel
// in the session metadata so the later webhook can rebuild the transaction
// without trusting anything from this request.
func (s *PaymentService) CreatePaymentLink(ctx context.Context, workerID string, amount decimal.Decimal, currency string) (string, error) {
	amountMinor, err := s.toMinorUnits(amount)
	if err != nil {
		return "", err
	}

	worker, err := s.repo.GetWorkerByID(ctx, s.repo.DB(ctx), workerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrWorkerNotFound
		}
		return "", fmt.Errorf("load worker: %w", err)
	}
	if worker.StripeAccountID == nil || *worker.StripeAccountID == "" || !worker.IsOnboarded {
		return "", ErrWorkerNotReady
	}

	feeMinor := amountMinor * s.cfg.FeePercent / 100

	url, err := s.client.CreateCheckoutSession(ctx, processor.CheckoutParams{
		DestinationAccountID: *worker.StripeAccountID,
		AmountMinor:          amountMinor,
		FeeMinor:             feeMinor,
		Currency:             currency,
		ProductName:          "Tips for " + worker.Name,
		Metadata: map[string]string{
			processor.MetaWorkerID:    worker.ID,
			processor.MetaPlatformFee: strconv.FormatInt(feeMinor, 10),
		},
		SuccessURL: s.frontend + "/payment/success",
		CancelURL:  s.frontend + "/payment/cancel",
	})
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	s.log.Infof("checkout link created: worker=%s amount_minor=%d fee_minor=%d %s", worker.ID, amountMinor, feeMinor, currency)
	return url, nil
}

// toMinorUnits validates the bounds and converts 10.00 -> 1000. Amounts
// with more than two decimal places are rejected rather than rounded.
func (s *PaymentService) toMinorUnits(amount decimal.Decimal) (int64, error) {
	min := decimal.NewFromInt(s.cfg.MinAmount)
	max := decimal.NewFromInt(s.cfg.MaxAmount)
	if amount.LessThan(min) || amount.GreaterThan(max) {
		return 0, ErrInvalidAmount
	}
	minor := amount.Shift(2)
	if !minor.IsInteger() {
		return 0, ErrInvalidAmount
	}
	return minor.IntPart(), nil
}
