package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     Role   `json:"role,omitempty"`
}

type QuoteRequest struct {
	WorkTypeID   int               `json:"work_type_id"`
	ComplexityID int               `json:"complexity_id"`
	Deadline     time.Time         `json:"deadline"`
	Requirements map[string]string `json:"requirements,omitempty"`
}

type CreateOrderRequest struct {
	SubjectID    int               `json:"subject_id"`
	TopicID      int               `json:"topic_id,omitempty"`
	WorkTypeID   int               `json:"work_type_id"`
	ComplexityID int               `json:"complexity_id"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Requirements map[string]string `json:"requirements,omitempty"`
	Deadline     time.Time         `json:"deadline"`
}

type BidRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Comment string          `json:"comment,omitempty"`
}

type AcceptBidRequest struct {
	BidID int `json:"bid_id"`
}

type ApplyDiscountRequest struct {
	DiscountID int `json:"discount_id"`
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Result string      `json:"result"`
	Status OrderStatus `json:"status"`
}

type ReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}
