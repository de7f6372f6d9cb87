package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tipstream/tip-service/internal/logger"
	"github.com/tipstream/tip-service/internal/model"
)

func newRepo(t *testing.T) *Repository {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", t.Name())), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Worker{}, &model.Transaction{}, &model.OutboxEvent{}))

	rdb, _ := redismock.NewClientMock()
	log, err := logger.NewLogger()
	assert.NoError(t, err)
	return NewRepository(db, rdb, &kafka.Writer{}, log)
}

func TestCreateTransaction_DuplicatePaymentIntent(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	mk := func() *model.Transaction {
		return &model.Transaction{
			ID:                    uuid.NewString(),
			StripePaymentIntentID: "pi_unique",
			WorkerID:              uuid.NewString(),
			Amount:                decimal.RequireFromString("10.00"),
			PlatformFee:           decimal.RequireFromString("1.00"),
			WorkerAmount:          decimal.RequireFromString("9.00"),
			Currency:              "eur",
		}
	}

	assert.NoError(t, r.CreateTransaction(ctx, r.DB(ctx), mk()))
	err := r.CreateTransaction(ctx, r.DB(ctx), mk())
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	var count int64
	assert.NoError(t, r.DB(ctx).Model(&model.Transaction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestCreateTransaction_ConcurrentDuplicates(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	wg := sync.WaitGroup{}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.CreateTransaction(ctx, r.DB(ctx), &model.Transaction{
				ID:                    uuid.NewString(),
				StripePaymentIntentID: "pi_race",
				WorkerID:              uuid.NewString(),
				Amount:                decimal.RequireFromString("5.00"),
				PlatformFee:           decimal.RequireFromString("0.50"),
				WorkerAmount:          decimal.RequireFromString("4.50"),
				Currency:              "eur",
			})
		}()
	}
	wg.Wait()

	var count int64
	assert.NoError(t, r.DB(ctx).Model(&model.Transaction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "unique index must hold under concurrent delivery")
}

func TestMarkWorkerOnboarded_Monotonic(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	acct := "acct_repo"
	w := &model.Worker{ID: uuid.NewString(), BusinessID: uuid.NewString(), Name: "Ivan", Job: "Chef", StripeAccountID: &acct}
	assert.NoError(t, r.CreateWorker(ctx, r.DB(ctx), w))

	flipped, err := r.MarkWorkerOnboarded(ctx, r.DB(ctx), w.ID)
	assert.NoError(t, err)
	assert.True(t, flipped)

	// second flip reports no rows touched
	flipped, err = r.MarkWorkerOnboarded(ctx, r.DB(ctx), w.ID)
	assert.NoError(t, err)
	assert.False(t, flipped)

	got, err := r.GetWorkerByID(ctx, r.DB(ctx), w.ID)
	assert.NoError(t, err)
	assert.True(t, got.IsOnboarded)
}

func TestSetWorkerStripeAccount_AssignedOnce(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	w := &model.Worker{ID: uuid.NewString(), BusinessID: uuid.NewString(), Name: "Olga", Job: "Host"}
	assert.NoError(t, r.CreateWorker(ctx, r.DB(ctx), w))

	assert.NoError(t, r.SetWorkerStripeAccount(ctx, r.DB(ctx), w.ID, "acct_first"))
	assert.Error(t, r.SetWorkerStripeAccount(ctx, r.DB(ctx), w.ID, "acct_second"))

	got, err := r.GetWorkerByID(ctx, r.DB(ctx), w.ID)
	assert.NoError(t, err)
	assert.Equal(t, "acct_first", *got.StripeAccountID)
}

func TestSumWorkerAmount(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	workerID := uuid.NewString()

	for i, amt := range []string{"9.00", "4.50"} {
		assert.NoError(t, r.CreateTransaction(ctx, r.DB(ctx), &model.Transaction{
			ID:                    uuid.NewString(),
			StripePaymentIntentID: fmt.Sprintf("pi_sum_%d", i),
			WorkerID:              workerID,
			Amount:                decimal.RequireFromString(amt).Add(decimal.NewFromInt(1)),
			PlatformFee:           decimal.NewFromInt(1),
			WorkerAmount:          decimal.RequireFromString(amt),
			Currency:              "eur",
		}))
	}

	total, err := r.SumWorkerAmount(ctx, workerID)
	assert.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("13.50")), "total %s", total)

	// no rows for an unknown worker sums to zero
	total, err = r.SumWorkerAmount(ctx, uuid.NewString())
	assert.NoError(t, err)
	assert.True(t, total.IsZero())
}
