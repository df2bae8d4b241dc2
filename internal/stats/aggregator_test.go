package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/and161185/workmarket/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

type fakeStorage struct {
	mu        sync.Mutex
	ids       []int
	counts    map[int]model.OrderCounts
	ratings   map[int]float64
	earnings  map[int]decimal.Decimal
	responses map[int]time.Duration
	failFor   int
	saved     map[int]model.ExpertStatistics
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		counts:    map[int]model.OrderCounts{},
		ratings:   map[int]float64{},
		earnings:  map[int]decimal.Decimal{},
		responses: map[int]time.Duration{},
		saved:     map[int]model.ExpertStatistics{},
	}
}

func (f *fakeStorage) ListExpertIDs(ctx context.Context) ([]int, error) {
	return f.ids, nil
}

func (f *fakeStorage) ExpertOrderCounts(ctx context.Context, expertID int) (model.OrderCounts, error) {
	if expertID == f.failFor {
		return model.OrderCounts{}, errors.New("storage down")
	}
	return f.counts[expertID], nil
}

func (f *fakeStorage) ExpertAverageRating(ctx context.Context, expertID int) (float64, error) {
	return f.ratings[expertID], nil
}

func (f *fakeStorage) ExpertEarnings(ctx context.Context, expertID int) (decimal.Decimal, error) {
	if v, ok := f.earnings[expertID]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

func (f *fakeStorage) ExpertAvgResponse(ctx context.Context, expertID int) (time.Duration, error) {
	return f.responses[expertID], nil
}

func (f *fakeStorage) SaveExpertStatistics(ctx context.Context, stats model.ExpertStatistics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[stats.ExpertID] = stats
	return nil
}

func (f *fakeStorage) savedFor(expertID int) (model.ExpertStatistics, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.saved[expertID]
	return s, ok
}

func TestRecompute(t *testing.T) {
	storage := newFakeStorage()
	storage.counts[1] = model.OrderCounts{Total: 10, Completed: 7, Cancelled: 2, InProgress: 1}
	storage.ratings[1] = 4.333333
	storage.earnings[1] = decimal.NewFromInt(15000)
	storage.responses[1] = 3 * time.Hour

	agg := NewAggregator(storage, zaptest.NewLogger(t).Sugar())
	got, err := agg.Recompute(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 7 / (7+2) * 100 = 77.78 с округлением до сотых
	if got.SuccessRate != 77.78 {
		t.Errorf("SuccessRate = %v; want 77.78", got.SuccessRate)
	}
	if got.AverageRating != 4.33 {
		t.Errorf("AverageRating = %v; want 4.33", got.AverageRating)
	}
	if !got.TotalEarnings.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("TotalEarnings = %s; want 15000", got.TotalEarnings)
	}
	if got.AvgResponse != 3*time.Hour {
		t.Errorf("AvgResponse = %v; want 3h", got.AvgResponse)
	}
	if _, ok := storage.saved[1]; !ok {
		t.Error("статистика должна быть сохранена")
	}
}

func TestRecomputeNoFinishedOrders(t *testing.T) {
	storage := newFakeStorage()
	storage.counts[1] = model.OrderCounts{Total: 2, InProgress: 2}

	agg := NewAggregator(storage, zaptest.NewLogger(t).Sugar())
	got, err := agg.Recompute(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SuccessRate != 0 {
		t.Errorf("SuccessRate = %v; want 0 при отсутствии завершенных заказов", got.SuccessRate)
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	storage := newFakeStorage()
	storage.counts[1] = model.OrderCounts{Total: 3, Completed: 3}
	storage.ratings[1] = 5

	agg := NewAggregator(storage, zaptest.NewLogger(t).Sugar())
	agg.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	first, err := agg.Recompute(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := agg.Recompute(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("повторный пересчет дал другой результат: %+v vs %+v", first, second)
	}
}

func TestRecomputeAllSkipsFailures(t *testing.T) {
	storage := newFakeStorage()
	storage.ids = []int{1, 2, 3}
	storage.failFor = 2
	for _, id := range storage.ids {
		storage.counts[id] = model.OrderCounts{Total: 1, Completed: 1}
	}

	agg := NewAggregator(storage, zaptest.NewLogger(t).Sugar())
	updated, err := agg.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d; want 2", updated)
	}
	if _, ok := storage.saved[2]; ok {
		t.Error("упавший эксперт не должен быть сохранен")
	}
	for _, id := range []int{1, 3} {
		if _, ok := storage.saved[id]; !ok {
			t.Errorf("эксперт %d должен быть пересчитан несмотря на сбой соседа", id)
		}
	}
}

func TestQueueSchedule(t *testing.T) {
	q := NewQueue(1, zaptest.NewLogger(t).Sugar())

	q.Schedule(1)
	// буфер полон: второй вызов не должен блокировать
	done := make(chan struct{})
	go func() {
		q.Schedule(2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Schedule заблокировался на полной очереди")
	}
}

func TestQueueWorkerRecomputes(t *testing.T) {
	storage := newFakeStorage()
	storage.counts[7] = model.OrderCounts{Total: 1, Completed: 1}
	agg := NewAggregator(storage, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue(8, zaptest.NewLogger(t).Sugar())
	q.Run(ctx, agg, 1)
	q.Schedule(7)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := storage.savedFor(7); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("воркер не пересчитал статистику")
}
