package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/and161185/workmarket/internal/model"
)

// MaxWorkload — с такой загрузкой эксперт больше не подбирается.
const MaxWorkload = 5

// Веса релевантности. Зафиксированы: рейтинг доминирует, success_rate
// ужат из шкалы 0-100, загрузка штрафует линейно.
const (
	weightRating     = 0.4
	weightSuccess    = 0.003
	weightExperience = 0.2
	weightWorkload   = 0.1
)

const recentActivityWindow = 24 * time.Hour

// Candidate — проверенная специализация вместе со статистикой и загрузкой.
type Candidate struct {
	Specialization model.Specialization
	Stats          model.ExpertStatistics
	Workload       int
}

type Match struct {
	ExpertID       int                  `json:"expert_id"`
	Specialization model.Specialization `json:"specialization"`
	Workload       int                  `json:"workload"`
	Score          float64              `json:"score"`
}

type Availability struct {
	IsAvailable    bool      `json:"is_available"`
	ActiveOrders   int       `json:"active_orders"`
	LastActive     time.Time `json:"last_active"`
	HasGoodStats   bool      `json:"has_good_stats"`
	EstimatedStart time.Time `json:"estimated_start_time"`
}

type Storage interface {
	// Кандидаты: верифицированные специализации активных экспертов по предмету.
	ListCandidates(ctx context.Context, subjectID int) ([]Candidate, error)
	CountActiveOrders(ctx context.Context, expertID int) (int, error)
	GetExpertStatistics(ctx context.Context, expertID int) (model.ExpertStatistics, error)
	GetLastActivity(ctx context.Context, expertID int) (time.Time, error)
}

type Service struct {
	storage Storage
	now     func() time.Time
}

func NewService(storage Storage) *Service {
	return &Service{storage: storage, now: time.Now}
}

// FindMatches подбирает экспертов под заказ и ранжирует по релевантности.
func (s *Service) FindMatches(ctx context.Context, order model.Order, limit int) ([]Match, error) {
	candidates, err := s.storage.ListCandidates(ctx, order.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c.Workload >= MaxWorkload {
			continue
		}
		matches = append(matches, Match{
			ExpertID:       c.Specialization.ExpertID,
			Specialization: c.Specialization,
			Workload:       c.Workload,
			Score:          Score(c),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ExpertID < matches[j].ExpertID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Score — релевантность кандидата с фиксированными коэффициентами.
func Score(c Candidate) float64 {
	return weightRating*c.Stats.AverageRating +
		weightSuccess*c.Stats.SuccessRate +
		weightExperience*float64(c.Specialization.ExperienceYears) +
		weightWorkload*(1-float64(c.Workload)*0.02)
}

// Availability — доступен ли эксперт для новых заказов.
func (s *Service) Availability(ctx context.Context, expertID int) (Availability, error) {
	active, err := s.storage.CountActiveOrders(ctx, expertID)
	if err != nil {
		return Availability{}, fmt.Errorf("count active orders: %w", err)
	}
	lastActive, err := s.storage.GetLastActivity(ctx, expertID)
	if err != nil {
		return Availability{}, fmt.Errorf("get last activity: %w", err)
	}
	stats, err := s.storage.GetExpertStatistics(ctx, expertID)
	if err != nil {
		return Availability{}, fmt.Errorf("get expert statistics: %w", err)
	}

	now := s.now()
	estimatedStart := now
	if active > 0 {
		// линейная оценка очереди: день на каждый активный заказ
		estimatedStart = now.AddDate(0, 0, active)
	}

	return Availability{
		IsAvailable:    active < MaxWorkload && now.Sub(lastActive) < recentActivityWindow,
		ActiveOrders:   active,
		LastActive:     lastActive,
		HasGoodStats:   stats.SuccessRate >= 70 && stats.AverageRating >= 4.0,
		EstimatedStart: estimatedStart,
	}, nil
}
