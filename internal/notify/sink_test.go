package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/and161185/workmarket/internal/model"
	"go.uber.org/zap/zaptest"
)

func TestSinkNotify(t *testing.T) {
	var gotPath string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, zaptest.NewLogger(t).Sugar())
	sink.Notify(context.Background(), EventStatusChanged, StatusChange{
		Order:     model.Order{ID: 42, Status: model.StatusInProgress},
		OldStatus: model.StatusNew,
	})

	if gotPath != "/api/events" {
		t.Errorf("path = %s; want /api/events", gotPath)
	}

	var env struct {
		Event   string `json:"event"`
		Payload struct {
			OldStatus model.OrderStatus `json:"old_status"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if env.Event != EventStatusChanged {
		t.Errorf("event = %s; want %s", env.Event, EventStatusChanged)
	}
	if env.Payload.OldStatus != model.StatusNew {
		t.Errorf("old_status = %s; want new", env.Payload.OldStatus)
	}
}

func TestSinkNotifyNoAddress(t *testing.T) {
	// без адреса события только логируются, паники и ошибок быть не должно
	sink := NewSink("", zaptest.NewLogger(t).Sugar())
	sink.Notify(context.Background(), EventOrderCreated, model.Order{ID: 1})
}

func TestSinkNotifyServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	sink := NewSink(srv.URL, zaptest.NewLogger(t).Sugar())
	// недоступный сервис не должен ронять вызывающего
	sink.Notify(context.Background(), EventBidPlaced, model.Bid{ID: 1})
}
