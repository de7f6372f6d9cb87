package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one reconciled tip payment. Amounts are stored in the
// currency's major unit (10.00, not 1000 cents). StripePaymentIntentID
// carries a unique index so a redelivered webhook turns into an insert
// conflict instead of a second row.
type Transaction struct {
	ID                    string          `gorm:"type:uuid;primaryKey"`
	StripePaymentIntentID string          `gorm:"size:64;not null;uniqueIndex"`
	WorkerID              string          `gorm:"type:uuid;not null;index"`
	Amount                decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	PlatformFee           decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	WorkerAmount          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Currency              string          `gorm:"size:8;not null"`
	CreatedAt             time.Time       `gorm:"autoCreateTime"`
}

func (Transaction) TableName() string { return "transaction" }
