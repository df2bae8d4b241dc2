package matching

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/workmarket/internal/model"
)

type fakeStorage struct {
	candidates   []Candidate
	activeOrders int
	lastActivity time.Time
	stats        model.ExpertStatistics
}

func (f *fakeStorage) ListCandidates(ctx context.Context, subjectID int) ([]Candidate, error) {
	return f.candidates, nil
}

func (f *fakeStorage) CountActiveOrders(ctx context.Context, expertID int) (int, error) {
	return f.activeOrders, nil
}

func (f *fakeStorage) GetExpertStatistics(ctx context.Context, expertID int) (model.ExpertStatistics, error) {
	return f.stats, nil
}

func (f *fakeStorage) GetLastActivity(ctx context.Context, expertID int) (time.Time, error) {
	return f.lastActivity, nil
}

func candidate(expertID, years, workload int, rating, successRate float64) Candidate {
	return Candidate{
		Specialization: model.Specialization{ExpertID: expertID, SubjectID: 1, ExperienceYears: years, IsVerified: true},
		Stats:          model.ExpertStatistics{ExpertID: expertID, AverageRating: rating, SuccessRate: successRate},
		Workload:       workload,
	}
}

func TestScoreOrdering(t *testing.T) {
	// Сильный эксперт обязан ранжироваться строго выше слабого.
	strong := candidate(1, 10, 0, 5, 100)
	weak := candidate(2, 2, 4, 3, 50)

	if Score(strong) <= Score(weak) {
		t.Errorf("score(strong)=%v должен быть больше score(weak)=%v", Score(strong), Score(weak))
	}
}

func TestScoreCoefficients(t *testing.T) {
	// 0.4*5 + 0.003*100 + 0.2*10 + 0.1*(1-0) = 4.4
	got := Score(candidate(1, 10, 0, 5, 100))
	if diff := got - 4.4; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score = %v; want 4.4", got)
	}
}

func TestFindMatches(t *testing.T) {
	storage := &fakeStorage{candidates: []Candidate{
		candidate(1, 2, 4, 3, 50),
		candidate(2, 10, 0, 5, 100),
		candidate(3, 1, 5, 5, 100), // загрузка на пределе, отсекается
		candidate(4, 3, 1, 4, 80),
	}}
	svc := NewService(storage)

	matches, err := svc.FindMatches(context.Background(), model.Order{SubjectID: 1}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantOrder := []int{2, 4, 1}
	if len(matches) != len(wantOrder) {
		t.Fatalf("ожидалось %d кандидатов, got %d", len(wantOrder), len(matches))
	}
	for i, want := range wantOrder {
		if matches[i].ExpertID != want {
			t.Errorf("matches[%d].ExpertID = %d; want %d", i, matches[i].ExpertID, want)
		}
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Error("кандидаты должны быть отсортированы по убыванию score")
		}
	}
}

func TestFindMatchesLimit(t *testing.T) {
	storage := &fakeStorage{candidates: []Candidate{
		candidate(1, 1, 0, 4, 80),
		candidate(2, 2, 0, 4, 80),
		candidate(3, 3, 0, 4, 80),
	}}
	svc := NewService(storage)

	matches, err := svc.FindMatches(context.Background(), model.Order{SubjectID: 1}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("limit не сработал: %d кандидатов", len(matches))
	}
}

func TestFindMatchesTieBreakByExpertID(t *testing.T) {
	// Одинаковые показатели: порядок детерминирован по id эксперта.
	storage := &fakeStorage{candidates: []Candidate{
		candidate(9, 5, 2, 4, 90),
		candidate(3, 5, 2, 4, 90),
		candidate(6, 5, 2, 4, 90),
	}}
	svc := NewService(storage)

	matches, err := svc.FindMatches(context.Background(), model.Order{SubjectID: 1}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{3, 6, 9}
	for i, id := range want {
		if matches[i].ExpertID != id {
			t.Errorf("matches[%d].ExpertID = %d; want %d", i, matches[i].ExpertID, id)
		}
	}
}

func TestAvailability(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		activeOrders  int
		lastActivity  time.Time
		stats         model.ExpertStatistics
		wantAvailable bool
		wantGoodStats bool
	}{
		{
			name:          "free and recently active",
			activeOrders:  0,
			lastActivity:  now.Add(-time.Hour),
			stats:         model.ExpertStatistics{SuccessRate: 90, AverageRating: 4.5},
			wantAvailable: true,
			wantGoodStats: true,
		},
		{
			name:          "overloaded",
			activeOrders:  5,
			lastActivity:  now.Add(-time.Hour),
			stats:         model.ExpertStatistics{SuccessRate: 90, AverageRating: 4.5},
			wantAvailable: false,
			wantGoodStats: true,
		},
		{
			name:          "inactive for a day",
			activeOrders:  1,
			lastActivity:  now.Add(-25 * time.Hour),
			stats:         model.ExpertStatistics{SuccessRate: 90, AverageRating: 4.5},
			wantAvailable: false,
			wantGoodStats: true,
		},
		{
			name:          "weak stats",
			activeOrders:  1,
			lastActivity:  now.Add(-time.Hour),
			stats:         model.ExpertStatistics{SuccessRate: 60, AverageRating: 4.5},
			wantAvailable: true,
			wantGoodStats: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := &fakeStorage{
				activeOrders: tt.activeOrders,
				lastActivity: tt.lastActivity,
				stats:        tt.stats,
			}
			svc := NewService(storage)
			svc.now = func() time.Time { return now }

			av, err := svc.Availability(context.Background(), 1)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if av.IsAvailable != tt.wantAvailable {
				t.Errorf("IsAvailable = %v; want %v", av.IsAvailable, tt.wantAvailable)
			}
			if av.HasGoodStats != tt.wantGoodStats {
				t.Errorf("HasGoodStats = %v; want %v", av.HasGoodStats, tt.wantGoodStats)
			}

			wantStart := now
			if tt.activeOrders > 0 {
				wantStart = now.AddDate(0, 0, tt.activeOrders)
			}
			if !av.EstimatedStart.Equal(wantStart) {
				t.Errorf("EstimatedStart = %v; want %v", av.EstimatedStart, wantStart)
			}
		})
	}
}
