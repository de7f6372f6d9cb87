package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tipstream/tip-service/internal/model"
	"github.com/tipstream/tip-service/internal/processor"
	"github.com/tipstream/tip-service/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidSignature means the webhook payload did not pass signature
// verification and must not be processed.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookService verifies and reconciles asynchronous processor events.
// Deliveries are at-least-once and unordered, so every handler here has to
// be safe to run twice.
type WebhookService struct {
	repo   repo.RepositoryInterface
	secret string
	log    *zap.SugaredLogger
}

// NewWebhookService returns WebhookService.
func NewWebhookService(r repo.RepositoryInterface, webhookSecret string, logger *zap.SugaredLogger) *WebhookService {
	return &WebhookService{repo: r, secret: webhookSecret, log: logger}
}

// VerifyEvent checks the signature header against the exact bytes received
// on the wire. The body must not have been parsed and re-encoded upstream.
func (s *WebhookService) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.secret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// HandleWebhook verifies and dispatches in one call. A returned
// ErrInvalidSignature maps to 400; any other error is a store failure the
// transport should answer with 5xx so the processor redelivers.
func (s *WebhookService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.VerifyEvent(payload, sigHeader)
	if err != nil {
		return err
	}
	return s.HandleEvent(ctx, event)
}

// HandleEvent routes a verified event by type. Types outside the two the
// service cares about are acknowledged without action.
func (s *WebhookService) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			s.log.Warnf("webhook %s: malformed account payload: %v", event.ID, err)
			return nil
		}
		return s.handleAccountUpdated(ctx, &acct)
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			s.log.Warnf("webhook %s: malformed payment intent payload: %v", event.ID, err)
			return nil
		}
		return s.handlePaymentSucceeded(ctx, &pi)
	default:
		s.log.Debugf("webhook %s: ignoring event type %s", event.ID, event.Type)
		return nil
	}
}

// handleAccountUpdated flips the worker's onboarding flag once the account
// can both charge and pay out. The transition is one-way: later events with
// capabilities revoked never reset it.
func (s *WebhookService) handleAccountUpdated(ctx context.Context, acct *stripe.Account) error {
	if !(acct.ChargesEnabled && acct.PayoutsEnabled) {
		return nil
	}

	worker, err := s.repo.GetWorkerByStripeAccountID(ctx, s.repo.DB(ctx), acct.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warnf("account.updated for unknown account %s, dropping", acct.ID)
			return nil
		}
		return fmt.Errorf("lookup worker by account: %w", err)
	}
	if worker.IsOnboarded {
		return nil
	}

	return s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		flipped, err := s.repo.MarkWorkerOnboarded(ctx, tx, worker.ID)
		if err != nil {
			return err
		}
		if !flipped {
			// lost the race to a concurrent delivery, already onboarded
			return nil
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"worker_id":         worker.ID,
			"stripe_account_id": acct.ID,
		})
		evt := &model.OutboxEvent{
			Aggregate: "Worker", AggregateID: worker.ID,
			EventType: model.EventWorkerOnboarded, Payload: string(payload),
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		s.log.Infof("worker %s (%s) onboarded", worker.Name, worker.ID)
		return nil
	})
}

// handlePaymentSucceeded turns a succeeded payment intent plus the metadata
// planted at checkout time into a transaction row. All money facts come
// from the verified event, never from the original checkout request.
func (s *WebhookService) handlePaymentSucceeded(ctx context.Context, pi *stripe.PaymentIntent) error {
	workerIDStr, ok := pi.Metadata[processor.MetaWorkerID]
	if !ok {
		s.log.Warnf("payment %s skipped: no %s metadata", pi.ID, processor.MetaWorkerID)
		return nil
	}
	workerID, err := uuid.Parse(workerIDStr)
	if err != nil {
		s.log.Warnf("payment %s skipped: bad worker id %q", pi.ID, workerIDStr)
		return nil
	}

	var feeMinor int64
	if feeStr, ok := pi.Metadata[processor.MetaPlatformFee]; ok {
		if feeMinor, err = strconv.ParseInt(feeStr, 10, 64); err != nil {
			s.log.Warnf("payment %s: unparseable %s %q, assuming 0", pi.ID, processor.MetaPlatformFee, feeStr)
			feeMinor = 0
		}
	}

	amount := decimal.NewFromInt(pi.Amount).Shift(-2)
	platformFee := decimal.NewFromInt(feeMinor).Shift(-2)
	workerAmount := amount.Sub(platformFee)

	// cheap duplicate short-circuit; the unique index is the real guard
	if _, err := s.repo.GetTransactionByPaymentIntent(ctx, s.repo.DB(ctx), pi.ID); err == nil {
		s.log.Infof("payment %s already reconciled", pi.ID)
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("idempotency check: %w", err)
	}

	// An unknown worker id is a data-quality problem, not a reason to lose
	// the money record: the row is kept for manual reconciliation.
	if _, err := s.repo.GetWorkerByID(ctx, s.repo.DB(ctx), workerID.String()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warnf("payment %s references unknown worker %s, storing orphan transaction", pi.ID, workerID)
		} else {
			return fmt.Errorf("resolve worker: %w", err)
		}
	}

	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		t := &model.Transaction{
			ID:                    uuid.NewString(),
			StripePaymentIntentID: pi.ID,
			WorkerID:              workerID.String(),
			Amount:                amount,
			PlatformFee:           platformFee,
			WorkerAmount:          workerAmount,
			Currency:              string(pi.Currency),
			CreatedAt:             time.Now().UTC(),
		}
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			if errors.Is(err, repo.ErrDuplicateTransaction) {
				s.log.Infof("payment %s already reconciled (insert conflict)", pi.ID)
				return nil
			}
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"transaction_id": t.ID,
			"worker_id":      t.WorkerID,
			"amount":         t.Amount,
			"platform_fee":   t.PlatformFee,
			"worker_amount":  t.WorkerAmount,
			"currency":       t.Currency,
		})
		evt := &model.OutboxEvent{
			Aggregate: "Transaction", AggregateID: t.ID,
			EventType: model.EventTipRecorded, Payload: string(payload),
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		s.log.Infof("payment saved: %s %s for worker %s", amount, t.Currency, t.WorkerID)
		return nil
	})
	if err != nil {
		return err
	}

	// refresh the cached total now that the row is committed
	if total, err := s.repo.SumWorkerAmount(ctx, workerID.String()); err == nil {
		if err := s.repo.CacheWorkerTotal(ctx, workerID.String(), total); err != nil {
			s.log.Warn(err)
		}
	}
	return nil
}
