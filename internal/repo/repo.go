package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/tipstream/tip-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateTransaction is returned when a transaction with the same
// payment intent id already exists.
var ErrDuplicateTransaction = errors.New("duplicate transaction")

// RepositoryInterface restricts Repo methods (方便单元测试 mock)
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	CreateWorker(ctx context.Context, tx *gorm.DB, w *model.Worker) error
	GetWorkerByID(ctx context.Context, tx *gorm.DB, workerID string) (*model.Worker, error)
	GetWorkerByStripeAccountID(ctx context.Context, tx *gorm.DB, accountID string) (*model.Worker, error)
	ListWorkersByBusiness(ctx context.Context, businessID string) ([]model.Worker, error)
	SetWorkerStripeAccount(ctx context.Context, tx *gorm.DB, workerID, accountID string) error
	MarkWorkerOnboarded(ctx context.Context, tx *gorm.DB, workerID string) (bool, error)
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	GetTransactionByPaymentIntent(ctx context.Context, tx *gorm.DB, paymentIntentID string) (*model.Transaction, error)
	ListTransactionsByWorker(ctx context.Context, workerID string, limit int, since time.Time) ([]model.Transaction, error)
	SumWorkerAmount(ctx context.Context, workerID string) (decimal.Decimal, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheWorkerTotal(ctx context.Context, workerID string, total decimal.Decimal) error
	GetCachedWorkerTotal(ctx context.Context, workerID string) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreateWorker inserts a worker row.
func (r *Repository) CreateWorker(ctx context.Context, tx *gorm.DB, w *model.Worker) error {
	return tx.WithContext(ctx).Create(w).Error
}

// GetWorkerByID fetches one worker.
func (r *Repository) GetWorkerByID(ctx context.Context, tx *gorm.DB, workerID string) (*model.Worker, error) {
	var w model.Worker
	if err := tx.WithContext(ctx).Where("id = ?", workerID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWorkerByStripeAccountID resolves the worker owning a connected account.
func (r *Repository) GetWorkerByStripeAccountID(ctx context.Context, tx *gorm.DB, accountID string) (*model.Worker, error) {
	var w model.Worker
	if err := tx.WithContext(ctx).Where("stripe_account_id = ?", accountID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWorkersByBusiness returns all workers of one business.
func (r *Repository) ListWorkersByBusiness(ctx context.Context, businessID string) ([]model.Worker, error) {
	var ws []model.Worker
	err := r.db.WithContext(ctx).Where("business_id = ?", businessID).Order("created_at").Find(&ws).Error
	return ws, err
}

// SetWorkerStripeAccount assigns the connected-account id once; a worker
// that already has one is left untouched.
func (r *Repository) SetWorkerStripeAccount(ctx context.Context, tx *gorm.DB, workerID, accountID string) error {
	res := tx.WithContext(ctx).
		Model(&model.Worker{}).
		Where("id = ? AND stripe_account_id IS NULL", workerID).
		Update("stripe_account_id", accountID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("stripe account already assigned")
	}
	return nil
}

// MarkWorkerOnboarded flips is_onboarded true. The WHERE guard makes the
// transition monotonic: a second call (or a concurrent one) affects zero
// rows and reports flipped=false.
func (r *Repository) MarkWorkerOnboarded(ctx context.Context, tx *gorm.DB, workerID string) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&model.Worker{}).
		Where("id = ? AND is_onboarded = ?", workerID, false).
		Updates(map[string]interface{}{
			"is_onboarded": true,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CreateTransaction inserts a transaction; a payment-intent collision is
// absorbed by the unique index and surfaced as ErrDuplicateTransaction.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_payment_intent_id"}},
			DoNothing: true,
		}).
		Create(t)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

// GetTransactionByPaymentIntent looks up by the external payment id.
func (r *Repository) GetTransactionByPaymentIntent(ctx context.Context, tx *gorm.DB, paymentIntentID string) (*model.Transaction, error) {
	var t model.Transaction
	err := tx.WithContext(ctx).Where("stripe_payment_intent_id = ?", paymentIntentID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTransactionsByWorker fetches recent transactions, newest first.
func (r *Repository) ListTransactionsByWorker(ctx context.Context, workerID string, limit int, since time.Time) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := r.db.WithContext(ctx).
		Where("worker_id = ? AND created_at >= ?", workerID, since).
		Order("created_at desc").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// SumWorkerAmount totals worker_amount over all transactions of a worker.
func (r *Repository) SumWorkerAmount(ctx context.Context, workerID string) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("SUM(worker_amount)").
		Where("worker_id = ?", workerID).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheWorkerTotal writes Redis.
func (r *Repository) CacheWorkerTotal(ctx context.Context, workerID string, total decimal.Decimal) error {
	return r.rdb.Set(ctx, fmt.Sprintf("tips:total:%s", workerID), total.String(), 5*time.Minute).Err()
}

// GetCachedWorkerTotal reads Redis.
func (r *Repository) GetCachedWorkerTotal(ctx context.Context, workerID string) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("tips:total:%s", workerID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
