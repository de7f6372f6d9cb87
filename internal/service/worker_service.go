package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tipstream/tip-service/internal/config"
	"github.com/tipstream/tip-service/internal/model"
	"github.com/tipstream/tip-service/internal/processor"
	"github.com/tipstream/tip-service/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrWorkerExists means a worker with the same name already belongs to the
// business.
var ErrWorkerExists = errors.New("worker with this name already exists")

// ErrWorkerLimit means the business reached its worker cap.
var ErrWorkerLimit = errors.New("worker limit reached")

// WorkerService manages workers and their Stripe Connect onboarding. The
// onboarding flag itself is only ever set by the webhook path.
type WorkerService struct {
	repo     repo.RepositoryInterface
	client   processor.Client
	cfg      config.PaymentsConfig
	frontend string
	log      *zap.SugaredLogger
}

// NewWorkerService returns WorkerService.
func NewWorkerService(r repo.RepositoryInterface, c processor.Client, pay config.PaymentsConfig, frontendURL string, logger *zap.SugaredLogger) *WorkerService {
	return &WorkerService{repo: r, client: c, cfg: pay, frontend: frontendURL, log: logger}
}

// CreateWorker adds a worker to a business. Names are unique per business,
// case-insensitively, and each business has a worker cap.
func (s *WorkerService) CreateWorker(ctx context.Context, businessID, name, job string) (*model.Worker, error) {
	name = strings.TrimSpace(name)
	job = strings.TrimSpace(job)
	if name == "" {
		return nil, errors.New("name is required")
	}

	existing, err := s.repo.ListWorkersByBusiness(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	for _, w := range existing {
		if strings.EqualFold(w.Name, name) {
			return nil, ErrWorkerExists
		}
	}
	if len(existing) >= s.cfg.MaxWorkers {
		return nil, ErrWorkerLimit
	}

	worker := &model.Worker{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		Name:       name,
		Job:        job,
	}
	if err := s.repo.CreateWorker(ctx, s.repo.DB(ctx), worker); err != nil {
		return nil, fmt.Errorf("create worker: %w", err)
	}
	return worker, nil
}

// GetWorker fetches one worker.
func (s *WorkerService) GetWorker(ctx context.Context, workerID string) (*model.Worker, error) {
	w, err := s.repo.GetWorkerByID(ctx, s.repo.DB(ctx), workerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkerNotFound
		}
		return nil, err
	}
	return w, nil
}

// ListWorkers returns all workers of a business.
func (s *WorkerService) ListWorkers(ctx context.Context, businessID string) ([]model.Worker, error) {
	return s.repo.ListWorkersByBusiness(ctx, businessID)
}

// StartOnboarding creates the connected account on first call and returns a
// fresh onboarding link. Account links expire, so repeat calls mint a new
// link against the already-assigned account.
func (s *WorkerService) StartOnboarding(ctx context.Context, workerID, email string) (string, error) {
	worker, err := s.GetWorker(ctx, workerID)
	if err != nil {
		return "", err
	}

	accountID := ""
	if worker.StripeAccountID != nil {
		accountID = *worker.StripeAccountID
	}
	if accountID == "" {
		accountID, err = s.client.CreateConnectedAccount(ctx, email, worker.Name)
		if err != nil {
			return "", fmt.Errorf("create connected account: %w", err)
		}
		if err := s.repo.SetWorkerStripeAccount(ctx, s.repo.DB(ctx), worker.ID, accountID); err != nil {
			return "", fmt.Errorf("assign stripe account: %w", err)
		}
		s.log.Infof("connected account %s created for worker %s", accountID, worker.ID)
	}

	url, err := s.client.CreateOnboardingLink(ctx, accountID,
		s.frontend+"/dashboard", s.frontend+"/onboarding/success")
	if err != nil {
		return "", fmt.Errorf("create onboarding link: %w", err)
	}
	return url, nil
}

// CreateLoginLink mints an express-dashboard login link for an onboarded
// worker.
func (s *WorkerService) CreateLoginLink(ctx context.Context, workerID string) (string, error) {
	worker, err := s.GetWorker(ctx, workerID)
	if err != nil {
		return "", err
	}
	if worker.StripeAccountID == nil || *worker.StripeAccountID == "" {
		return "", ErrWorkerNotReady
	}
	return s.client.CreateLoginLink(ctx, *worker.StripeAccountID)
}

// GetWorkerBalance reads the connected account's balance from the processor.
func (s *WorkerService) GetWorkerBalance(ctx context.Context, workerID, currency string) (processor.Balance, error) {
	worker, err := s.GetWorker(ctx, workerID)
	if err != nil {
		return processor.Balance{}, err
	}
	if worker.StripeAccountID == nil || *worker.StripeAccountID == "" {
		return processor.Balance{}, ErrWorkerNotReady
	}
	return s.client.GetBalance(ctx, *worker.StripeAccountID, currency)
}
