package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/and161185/workmarket/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Storage interface {
	ListExpertIDs(ctx context.Context) ([]int, error)
	ExpertOrderCounts(ctx context.Context, expertID int) (model.OrderCounts, error)
	ExpertAverageRating(ctx context.Context, expertID int) (float64, error)
	ExpertEarnings(ctx context.Context, expertID int) (decimal.Decimal, error)
	ExpertAvgResponse(ctx context.Context, expertID int) (time.Duration, error)
	SaveExpertStatistics(ctx context.Context, stats model.ExpertStatistics) error
}

// Aggregator пересчитывает производную статистику эксперта.
// Идемпотентен: повторный вызов дает тот же результат.
type Aggregator struct {
	storage Storage
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewAggregator(storage Storage, logger *zap.SugaredLogger) *Aggregator {
	return &Aggregator{storage: storage, logger: logger, now: time.Now}
}

func (a *Aggregator) Recompute(ctx context.Context, expertID int) (model.ExpertStatistics, error) {
	counts, err := a.storage.ExpertOrderCounts(ctx, expertID)
	if err != nil {
		return model.ExpertStatistics{}, fmt.Errorf("order counts: %w", err)
	}
	rating, err := a.storage.ExpertAverageRating(ctx, expertID)
	if err != nil {
		return model.ExpertStatistics{}, fmt.Errorf("average rating: %w", err)
	}
	earnings, err := a.storage.ExpertEarnings(ctx, expertID)
	if err != nil {
		return model.ExpertStatistics{}, fmt.Errorf("earnings: %w", err)
	}
	response, err := a.storage.ExpertAvgResponse(ctx, expertID)
	if err != nil {
		return model.ExpertStatistics{}, fmt.Errorf("avg response: %w", err)
	}

	stats := model.ExpertStatistics{
		ExpertID:        expertID,
		TotalOrders:     counts.Total,
		CompletedOrders: counts.Completed,
		CancelledOrders: counts.Cancelled,
		InProgress:      counts.InProgress,
		AverageRating:   round2(rating),
		SuccessRate:     successRate(counts.Completed, counts.Cancelled),
		TotalEarnings:   earnings,
		AvgResponse:     response,
		UpdatedAt:       a.now(),
	}

	if err := a.storage.SaveExpertStatistics(ctx, stats); err != nil {
		return model.ExpertStatistics{}, fmt.Errorf("save statistics: %w", err)
	}
	return stats, nil
}

// RecomputeAll обновляет статистику всех экспертов.
// Ошибка одного эксперта логируется и не прерывает остальных.
func (a *Aggregator) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := a.storage.ListExpertIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list experts: %w", err)
	}

	updated := 0
	for _, id := range ids {
		if _, err := a.Recompute(ctx, id); err != nil {
			a.logger.Errorw("recompute expert statistics", "expert_id", id, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}

func successRate(completed, cancelled int) float64 {
	total := completed + cancelled
	if total == 0 {
		return 0
	}
	return round2(float64(completed) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
