package server

import (
	"context"
	"time"

	"github.com/and161185/workmarket/internal/discount"
	"github.com/and161185/workmarket/internal/notify"
)

const (
	statsRefreshInterval  = time.Hour
	discountSweepInterval = 24 * time.Hour
)

// RunBackgroundJobs гоняет фоновые задачи до отмены контекста: полный
// пересчет статистики и рассылку о почти доступных скидках. Обе задачи
// идемпотентны, повторный прогон безопасен.
func (srv *Server) RunBackgroundJobs(ctx context.Context) {
	go srv.statsRefreshLoop(ctx)
	go srv.discountSweepLoop(ctx)
}

func (srv *Server) statsRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(statsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated, err := srv.stats.RecomputeAll(ctx)
			if err != nil {
				srv.deps.Logger.Errorf("stats refresh: %v", err)
				continue
			}
			srv.deps.Logger.Infow("stats refresh", "updated", updated)
		}
	}
}

func (srv *Server) discountSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(discountSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.sweepUpcomingDiscounts(ctx)
		}
	}
}

// sweepUpcomingDiscounts находит клиентов, которым до скидки осталось
// немного, и шлет каждому событие со списком.
func (srv *Server) sweepUpcomingDiscounts(ctx context.Context) {
	rules, err := srv.storage.ListDiscountRules(ctx)
	if err != nil {
		srv.deps.Logger.Errorf("discount sweep: list rules: %v", err)
		return
	}

	clientIDs, err := srv.storage.ListClientIDs(ctx)
	if err != nil {
		srv.deps.Logger.Errorf("discount sweep: list clients: %v", err)
		return
	}

	now := time.Now()
	notified := 0
	for _, clientID := range clientIDs {
		stats, err := srv.storage.GetClientStats(ctx, clientID)
		if err != nil {
			srv.deps.Logger.Errorf("discount sweep: client %d: %v", clientID, err)
			continue
		}

		upcoming := discount.NearlyAvailable(rules, stats, now)
		if len(upcoming) == 0 {
			continue
		}

		srv.notifier.Notify(ctx, notify.EventUpcomingDiscounts, map[string]any{
			"client_id": clientID,
			"upcoming":  upcoming,
		})
		notified++
	}
	srv.deps.Logger.Infow("discount sweep", "notified", notified)
}
