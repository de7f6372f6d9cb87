package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tipstream/tip-service/internal/config"
	"github.com/tipstream/tip-service/internal/logger"
	"github.com/tipstream/tip-service/internal/model"
	"github.com/tipstream/tip-service/internal/processor"
	"github.com/tipstream/tip-service/internal/repo"
)

// fakeProcessor records outbound calls instead of hitting Stripe.
type fakeProcessor struct {
	checkoutCalls int
	lastCheckout  processor.CheckoutParams
	checkoutURL   string
	checkoutErr   error

	accountID string
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, p processor.CheckoutParams) (string, error) {
	f.checkoutCalls++
	f.lastCheckout = p
	return f.checkoutURL, f.checkoutErr
}

func (f *fakeProcessor) CreateConnectedAccount(context.Context, string, string) (string, error) {
	if f.accountID == "" {
		f.accountID = "acct_" + uuid.NewString()[:8]
	}
	return f.accountID, nil
}

func (f *fakeProcessor) CreateOnboardingLink(_ context.Context, accountID, _, _ string) (string, error) {
	return "https://connect.stripe.test/onboard/" + accountID, nil
}

func (f *fakeProcessor) CreateLoginLink(_ context.Context, accountID string) (string, error) {
	return "https://connect.stripe.test/login/" + accountID, nil
}

func (f *fakeProcessor) GetBalance(_ context.Context, _ string, currency string) (processor.Balance, error) {
	return processor.Balance{
		Available: decimal.RequireFromString("12.50"),
		Pending:   decimal.RequireFromString("3.10"),
		Currency:  currency,
	}, nil
}

func newTestRepo(t *testing.T) repo.RepositoryInterface {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Worker{}, &model.Transaction{}, &model.OutboxEvent{}))

	// no expectations: cache misses and failed writes degrade gracefully
	rdb, _ := redismock.NewClientMock()
	log, _ := logger.NewLogger()
	return repo.NewRepository(db, rdb, &kafka.Writer{}, log)
}

func testPaymentsConfig() config.PaymentsConfig {
	return config.PaymentsConfig{FeePercent: 10, MaxWorkers: 10, MinAmount: 1, MaxAmount: 10000}
}

func seedWorker(t *testing.T, r repo.RepositoryInterface, accountID string, onboarded bool) *model.Worker {
	w := &model.Worker{
		ID:          uuid.NewString(),
		BusinessID:  uuid.NewString(),
		Name:        "Anna",
		Job:         "Waiter",
		IsOnboarded: onboarded,
	}
	if accountID != "" {
		w.StripeAccountID = &accountID
	}
	assert.NoError(t, r.CreateWorker(context.Background(), r.DB(context.Background()), w))
	return w
}

func TestCreatePaymentLink_UnknownWorker(t *testing.T) {
	r := newTestRepo(t)
	proc := &fakeProcessor{checkoutURL: "https://checkout.stripe.test/cs_1"}
	log, _ := logger.NewLogger()
	svc := NewPaymentService(r, proc, testPaymentsConfig(), "https://app.test", log)

	_, err := svc.CreatePaymentLink(context.Background(), uuid.NewString(), decimal.NewFromInt(10), "eur")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
	assert.Zero(t, proc.checkoutCalls, "processor must not be called for unknown workers")
}

func TestCreatePaymentLink_WorkerNotReady(t *testing.T) {
	r := newTestRepo(t)
	proc := &fakeProcessor{checkoutURL: "https://checkout.stripe.test/cs_1"}
	log, _ := logger.NewLogger()
	svc := NewPaymentService(r, proc, testPaymentsConfig(), "https://app.test", log)
	ctx := context.Background()

	// no connected account at all
	w1 := seedWorker(t, r, "", false)
	_, err := svc.CreatePaymentLink(ctx, w1.ID, decimal.NewFromInt(10), "eur")
	assert.ErrorIs(t, err, ErrWorkerNotReady)

	// account assigned but onboarding not confirmed
	w2 := &model.Worker{ID: uuid.NewString(), BusinessID: w1.BusinessID, Name: "Boris", Job: "Barman"}
	acct := "acct_pending"
	w2.StripeAccountID = &acct
	assert.NoError(t, r.CreateWorker(ctx, r.DB(ctx), w2))
	_, err = svc.CreatePaymentLink(ctx, w2.ID, decimal.NewFromInt(10), "eur")
	assert.ErrorIs(t, err, ErrWorkerNotReady)

	assert.Zero(t, proc.checkoutCalls)
}

func TestCreatePaymentLink_InvalidAmount(t *testing.T) {
	r := newTestRepo(t)
	proc := &fakeProcessor{}
	log, _ := logger.NewLogger()
	svc := NewPaymentService(r, proc, testPaymentsConfig(), "https://app.test", log)
	ctx := context.Background()
	w := seedWorker(t, r, "acct_ready", true)

	for _, amt := range []string{"0.50", "10001", "-5", "3.141"} {
		d, _ := decimal.NewFromString(amt)
		_, err := svc.CreatePaymentLink(ctx, w.ID, d, "eur")
		assert.ErrorIs(t, err, ErrInvalidAmount, "amount %s", amt)
	}
	assert.Zero(t, proc.checkoutCalls)
}

func TestCreatePaymentLink_MetadataContract(t *testing.T) {
	r := newTestRepo(t)
	proc := &fakeProcessor{checkoutURL: "https://checkout.stripe.test/cs_42"}
	log, _ := logger.NewLogger()
	svc := NewPaymentService(r, proc, testPaymentsConfig(), "https://app.test", log)
	ctx := context.Background()
	w := seedWorker(t, r, "acct_123", true)

	amt, _ := decimal.NewFromString("10.00")
	url, err := svc.CreatePaymentLink(ctx, w.ID, amt, "eur")
	assert.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.test/cs_42", url)

	assert.Equal(t, 1, proc.checkoutCalls)
	p := proc.lastCheckout
	assert.Equal(t, "acct_123", p.DestinationAccountID)
	assert.Equal(t, int64(1000), p.AmountMinor)
	assert.Equal(t, int64(100), p.FeeMinor)
	assert.Equal(t, "eur", p.Currency)
	assert.Equal(t, "Tips for Anna", p.ProductName)
	assert.Equal(t, w.ID, p.Metadata[processor.MetaWorkerID])
	assert.Equal(t, "100", p.Metadata[processor.MetaPlatformFee])
	assert.Equal(t, "https://app.test/payment/success", p.SuccessURL)
	assert.Equal(t, "https://app.test/payment/cancel", p.CancelURL)
}

func TestCreatePaymentLink_FeeFloors(t *testing.T) {
	r := newTestRepo(t)
	proc := &fakeProcessor{checkoutURL: "https://checkout.stripe.test/cs_1"}
	log, _ := logger.NewLogger()
	svc := NewPaymentService(r, proc, testPaymentsConfig(), "https://app.test", log)
	ctx := context.Background()
	w := seedWorker(t, r, "acct_floor", true)

	// 1.25 eur -> 125 cents -> 10% = 12.5, floored to 12
	amt, _ := decimal.NewFromString("1.25")
	_, err := svc.CreatePaymentLink(ctx, w.ID, amt, "eur")
	assert.NoError(t, err)
	assert.Equal(t, int64(12), proc.lastCheckout.FeeMinor)
	assert.Equal(t, "12", proc.lastCheckout.Metadata[processor.MetaPlatformFee])
}

func TestCreatePaymentLink_ProcessorFailure(t *testing.T) {
	r := newTestRepo(t)
	proc := &fakeProcessor{checkoutErr: errors.New("stripe: connection reset")}
	log, _ := logger.NewLogger()
	svc := NewPaymentService(r, proc, testPaymentsConfig(), "https://app.test", log)
	ctx := context.Background()
	w := seedWorker(t, r, "acct_down", true)

	_, err := svc.CreatePaymentLink(ctx, w.ID, decimal.NewFromInt(10), "eur")
	assert.Error(t, err)
	// wrapped processor error, none of the client-input kinds
	assert.NotErrorIs(t, err, ErrWorkerNotFound)
	assert.NotErrorIs(t, err, ErrWorkerNotReady)
	assert.NotErrorIs(t, err, ErrInvalidAmount)
	assert.ErrorContains(t, err, "connection reset")
}

func TestCreatePaymentLink_NoLocalWrite(t *testing.T) {
	r := newTestRepo(t)
	proc := &fakeProcessor{checkoutURL: "https://checkout.stripe.test/cs_1"}
	log, _ := logger.NewLogger()
	svc := NewPaymentService(r, proc, testPaymentsConfig(), "https://app.test", log)
	ctx := context.Background()
	w := seedWorker(t, r, "acct_nolocal", true)

	_, err := svc.CreatePaymentLink(ctx, w.ID, decimal.NewFromInt(20), "eur")
	assert.NoError(t, err)

	var count int64
	assert.NoError(t, r.DB(ctx).Model(&model.Transaction{}).Count(&count).Error)
	assert.Zero(t, count, "no transaction may exist before the webhook confirms payment")
}
