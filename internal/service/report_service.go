package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tipstream/tip-service/internal/model"
	"github.com/tipstream/tip-service/internal/repo"
	"go.uber.org/zap"
)

// ReportService serves per-worker tip history and totals.
type ReportService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

// NewReportService returns ReportService.
func NewReportService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *ReportService {
	return &ReportService{repo: r, log: logger}
}

// GetHistory fetches recent transactions, newest first.
func (s *ReportService) GetHistory(ctx context.Context, workerID string, limit int, since time.Time) ([]model.Transaction, error) {
	return s.repo.ListTransactionsByWorker(ctx, workerID, limit, since)
}

// GetWorkerTotal returns the worker's lifetime tip total, read through the
// cache.
func (s *ReportService) GetWorkerTotal(ctx context.Context, workerID string) (decimal.Decimal, error) {
	total, err := s.repo.GetCachedWorkerTotal(ctx, workerID)
	if err == nil {
		return total, nil
	}
	total, err = s.repo.SumWorkerAmount(ctx, workerID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheWorkerTotal(ctx, workerID, total); err != nil {
		s.log.Warn(err)
	}
	return total, nil
}
