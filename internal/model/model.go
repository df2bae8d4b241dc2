package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleClient Role = "client"
	RoleExpert Role = "expert"
	RoleAdmin  Role = "admin"
)

type User struct {
	ID    int  `json:"id"`
	Login string `json:"login"`
	Role  Role `json:"role"`
}

type OrderStatus string

const (
	StatusNew            OrderStatus = "new"
	StatusWaitingPayment OrderStatus = "waiting_payment"
	StatusInProgress     OrderStatus = "in_progress"
	StatusReview         OrderStatus = "review"
	StatusRevision       OrderStatus = "revision"
	StatusCompleted      OrderStatus = "completed"
	StatusCancelled      OrderStatus = "cancelled"
	StatusDisputed       OrderStatus = "disputed"
)

// Terminal — из этих статусов заказ уже не переходит дальше.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ActiveStatuses — заказы, которые считаются текущей загрузкой эксперта.
var ActiveStatuses = []OrderStatus{StatusInProgress, StatusRevision}

type WorkType struct {
	ID             int             `json:"id"`
	Name           string          `json:"name"`
	BasePrice      decimal.Decimal `json:"base_price"`
	EstimatedHours int             `json:"estimated_hours"`
	IsActive       bool            `json:"is_active"`
}

type Complexity struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Multiplier decimal.Decimal `json:"multiplier"`
	IsActive   bool            `json:"is_active"`
}

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "percentage"
	DiscountFixed      DiscountKind = "fixed"
)

type DiscountRule struct {
	ID            int             `json:"id"`
	Name          string          `json:"name"`
	Kind          DiscountKind    `json:"kind"`
	Value         decimal.Decimal `json:"value"`
	MinOrders     int             `json:"min_orders"`
	MinTotalSpent decimal.Decimal `json:"min_total_spent"`
	ValidFrom     time.Time       `json:"valid_from"`
	ValidUntil    *time.Time      `json:"valid_until,omitempty"`
	IsActive      bool            `json:"is_active"`
	// Пустой список типов работ означает "для всех".
	WorkTypeIDs []int `json:"work_type_ids,omitempty"`
}

// AppliesTo проверяет, покрывает ли правило данный тип работы.
func (r DiscountRule) AppliesTo(workTypeID int) bool {
	if len(r.WorkTypeIDs) == 0 {
		return true
	}
	for _, id := range r.WorkTypeIDs {
		if id == workTypeID {
			return true
		}
	}
	return false
}

type Order struct {
	ID             int               `json:"id"`
	ClientID       int               `json:"client_id"`
	ExpertID       *int              `json:"expert_id,omitempty"`
	SubjectID      int               `json:"subject_id"`
	TopicID        int               `json:"topic_id,omitempty"`
	WorkTypeID     int               `json:"work_type_id"`
	ComplexityID   int               `json:"complexity_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	Requirements   map[string]string `json:"requirements,omitempty"`
	Deadline       time.Time         `json:"deadline"`
	Budget         decimal.Decimal   `json:"budget"`
	Status         OrderStatus       `json:"status"`
	DiscountID     *int              `json:"discount_id,omitempty"`
	OriginalPrice  *decimal.Decimal  `json:"original_price,omitempty"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	FinalPrice     *decimal.Decimal  `json:"final_price,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type Bid struct {
	ID        int             `json:"id"`
	OrderID   int             `json:"order_id"`
	ExpertID  int             `json:"expert_id"`
	Amount    decimal.Decimal `json:"amount"`
	Comment   string          `json:"comment,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Specialization struct {
	ID              int             `json:"id"`
	ExpertID        int             `json:"expert_id"`
	SubjectID       int             `json:"subject_id"`
	ExperienceYears int             `json:"experience_years"`
	HourlyRate      decimal.Decimal `json:"hourly_rate"`
	IsVerified      bool            `json:"is_verified"`
	VerifiedBy      *int            `json:"verified_by,omitempty"`
}

// ExpertStatistics — производные данные, пересчитываются агрегатором.
type ExpertStatistics struct {
	ExpertID        int             `json:"expert_id"`
	TotalOrders     int             `json:"total_orders"`
	CompletedOrders int             `json:"completed_orders"`
	CancelledOrders int             `json:"cancelled_orders"`
	InProgress      int             `json:"in_progress"`
	AverageRating   float64         `json:"average_rating"`
	SuccessRate     float64         `json:"success_rate"`
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	AvgResponse     time.Duration   `json:"avg_response"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderCounts — срез заказов эксперта по статусам.
type OrderCounts struct {
	Total      int
	Completed  int
	Cancelled  int
	InProgress int
}

// ClientStats — сколько клиент выполнил заказов и потратил, вход для скидок.
type ClientStats struct {
	CompletedOrders int             `json:"completed_orders"`
	TotalSpent      decimal.Decimal `json:"total_spent"`
}

type Review struct {
	ID          int       `json:"id"`
	OrderID     int       `json:"order_id"`
	ExpertID    int       `json:"expert_id"`
	ClientID    int       `json:"client_id"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	IsPublished bool      `json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`
}

type TransactionType string

const (
	TransactionHold       TransactionType = "hold"
	TransactionRelease    TransactionType = "release"
	TransactionPayout     TransactionType = "payout"
	TransactionCommission TransactionType = "commission"
	TransactionRefund     TransactionType = "refund"
)

type Transaction struct {
	ID        int             `json:"id"`
	UserID    int             `json:"user_id"`
	OrderID   int             `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
}

type Dispute struct {
	ID           int       `json:"id"`
	OrderID      int       `json:"order_id"`
	AuthorID     int       `json:"author_id"`
	Reason       string    `json:"reason"`
	Resolved     bool      `json:"resolved"`
	Result       string    `json:"result,omitempty"`
	ArbitratorID *int      `json:"arbitrator_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
