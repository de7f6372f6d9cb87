package model

import "time"

// Worker is a tip recipient belonging to a business. StripeAccountID is
// assigned once by the onboarding flow; IsOnboarded flips true when Stripe
// confirms the connected account can take charges and payouts, and is never
// reset afterwards.
type Worker struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	BusinessID      string    `gorm:"type:uuid;not null;index"`
	Name            string    `gorm:"size:128;not null"`
	Job             string    `gorm:"size:128;not null"`
	StripeAccountID *string   `gorm:"size:64;uniqueIndex"`
	IsOnboarded     bool      `gorm:"not null;default:false"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (Worker) TableName() string { return "worker" }
