package stats

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const retryDelay = 5 * time.Second

// Queue — буфер пересчетов статистики. Машина состояний заказа кладет сюда
// id эксперта на терминальных переходах, воркеры пересчитывают в фоне.
type Queue struct {
	ch     chan int
	logger *zap.SugaredLogger
}

func NewQueue(size int, logger *zap.SugaredLogger) *Queue {
	return &Queue{
		ch:     make(chan int, size),
		logger: logger,
	}
}

// Schedule не блокирует: при переполненном буфере пересчет пропускается,
// его доберет периодический полный обход.
func (q *Queue) Schedule(expertID int) {
	select {
	case q.ch <- expertID:
	default:
		q.logger.Warnw("stats queue full, recompute skipped", "expert_id", expertID)
	}
}

// Run запускает воркеров до отмены контекста.
func (q *Queue) Run(ctx context.Context, agg *Aggregator, workers int) {
	for i := 0; i < workers; i++ {
		go q.worker(ctx, agg)
	}
}

func (q *Queue) worker(ctx context.Context, agg *Aggregator) {
	for {
		select {
		case <-ctx.Done():
			return
		case expertID := <-q.ch:
			if _, err := agg.Recompute(ctx, expertID); err != nil {
				q.logger.Errorw("recompute expert statistics", "expert_id", expertID, "error", err)
				// одна повторная попытка после паузы, дальше догонит полный обход
				time.Sleep(retryDelay)
				if _, err := agg.Recompute(ctx, expertID); err != nil {
					q.logger.Errorw("recompute retry failed", "expert_id", expertID, "error", err)
				}
			}
		}
	}
}
