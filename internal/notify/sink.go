package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/and161185/workmarket/internal/model"
	"go.uber.org/zap"
)

// События, отправляемые во внешний сервис уведомлений.
const (
	EventOrderCreated      = "order.created"
	EventStatusChanged     = "order.status_changed"
	EventBidPlaced         = "order.bid_placed"
	EventUpcomingDiscounts = "discounts.upcoming"
)

const requestTimeout = 5 * time.Second

type StatusChange struct {
	Order     model.Order       `json:"order"`
	OldStatus model.OrderStatus `json:"old_status"`
}

type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Sink шлет события во внешний сервис уведомлений. Доставка best-effort:
// ошибки логируются и не влияют на вызывающего.
type Sink struct {
	address string
	client  *http.Client
	logger  *zap.SugaredLogger
}

func NewSink(address string, logger *zap.SugaredLogger) *Sink {
	return &Sink{
		address: address,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

func (s *Sink) Notify(ctx context.Context, event string, payload any) {
	if s.address == "" {
		s.logger.Infow("notification", "event", event)
		return
	}

	body, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		s.logger.Errorw("marshal notification", "event", event, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.address+"/api/events", bytes.NewReader(body))
	if err != nil {
		s.logger.Errorw("build notification request", "event", event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Errorw("send notification", "event", event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		s.logger.Errorw("send notification", "event", event, "error", fmt.Errorf("status %d", resp.StatusCode))
	}
}
