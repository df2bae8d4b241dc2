package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/and161185/workmarket/internal/auth"
	"github.com/and161185/workmarket/internal/config"
	"github.com/and161185/workmarket/internal/deps"
	"github.com/and161185/workmarket/internal/errs"
	"github.com/and161185/workmarket/internal/middleware"
	"github.com/and161185/workmarket/internal/mocks"
	"github.com/and161185/workmarket/internal/model"
	"github.com/and161185/workmarket/internal/pricing"
	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type serverMocks struct {
	storage  *mocks.MockStorage
	pricer   *mocks.MockPricer
	orders   *mocks.MockOrders
	matcher  *mocks.MockMatcher
	stats    *mocks.MockStats
	notifier *mocks.MockNotifier
}

func setup(t *testing.T) (*Server, *serverMocks) {
	t.Helper()

	ctrl := gomock.NewController(t)
	m := &serverMocks{
		storage:  mocks.NewMockStorage(ctrl),
		pricer:   mocks.NewMockPricer(ctrl),
		orders:   mocks.NewMockOrders(ctrl),
		matcher:  mocks.NewMockMatcher(ctrl),
		stats:    mocks.NewMockStats(ctrl),
		notifier: mocks.NewMockNotifier(ctrl),
	}

	logger := zaptest.NewLogger(t)
	cfg := &config.Config{}
	deps := &deps.Deps{
		TokenManager: auth.NewTokenManager("testsecret"),
		Logger:       logger.Sugar(),
	}

	srv := NewServer(m.storage, m.pricer, m.orders, m.matcher, m.stats, m.notifier, cfg, deps)

	return srv, m
}

func newAuthenticatedRequest(method, path, token string, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// подкладывает пользователя и {id} так, как это сделали бы middleware и роутер
func asUser(req *http.Request, user model.User, orderID string) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.UserContextKey, user)
	if orderID != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", orderID)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func TestRegisterHandler(t *testing.T) {
	srv, m := setup(t)

	m.storage.EXPECT().
		CreateUser(gomock.Any(), "user", gomock.Any(), model.RoleClient).
		Return(nil)

	m.storage.EXPECT().
		GetUserByLogin(gomock.Any(), "user").
		Return(model.User{ID: 1, Login: "user", Role: model.RoleClient}, "", nil)

	payload := `{"login":"user","password":"pass"}`
	req := httptest.NewRequest("POST", "/api/user/register", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.RegisterHandler(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	authHeader := resp.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		t.Errorf("missing token")
	}
}

func TestRegisterHandlerRejectsAdmin(t *testing.T) {
	srv, _ := setup(t)

	payload := `{"login":"boss","password":"pass","role":"admin"}`
	req := httptest.NewRequest("POST", "/api/user/register", strings.NewReader(payload))
	w := httptest.NewRecorder()

	srv.RegisterHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestLoginHandler(t *testing.T) {
	srv, m := setup(t)

	pw, _ := bcryptHash("pass")
	m.storage.EXPECT().
		GetUserByLogin(gomock.Any(), "user").
		Return(model.User{ID: 1, Login: "user", Role: model.RoleClient}, pw, nil)

	payload := `{"login":"user","password":"pass"}`
	req := httptest.NewRequest("POST", "/api/user/login", strings.NewReader(payload))
	w := httptest.NewRecorder()

	srv.LoginHandler(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200")
	}
}

func TestLoginHandlerWrongPassword(t *testing.T) {
	srv, m := setup(t)

	pw, _ := bcryptHash("pass")
	m.storage.EXPECT().
		GetUserByLogin(gomock.Any(), "user").
		Return(model.User{ID: 1, Login: "user"}, pw, nil)

	payload := `{"login":"user","password":"wrong"}`
	req := httptest.NewRequest("POST", "/api/user/login", strings.NewReader(payload))
	w := httptest.NewRecorder()

	srv.LoginHandler(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestQuoteHandler(t *testing.T) {
	srv, m := setup(t)

	m.storage.EXPECT().
		GetWorkType(gomock.Any(), 1).
		Return(model.WorkType{ID: 1, Name: "essay"}, nil)
	m.storage.EXPECT().
		GetComplexity(gomock.Any(), 2).
		Return(model.Complexity{ID: 2, Name: "hard"}, nil)
	m.pricer.EXPECT().
		Breakdown(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), nil, gomock.Any()).
		Return(pricing.Breakdown{}, nil)

	payload := `{"work_type_id":1,"complexity_id":2,"deadline":"2026-12-01T00:00:00Z"}`
	req := httptest.NewRequest("POST", "/api/price/quote", strings.NewReader(payload))
	w := httptest.NewRecorder()

	srv.QuoteHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestCreateOrderHandler(t *testing.T) {
	srv, m := setup(t)

	m.orders.EXPECT().
		Create(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(model.Order{ID: 7, Status: model.StatusNew}, nil)

	payload := `{"title":"Term paper","work_type_id":1,"complexity_id":2,"deadline":"2026-12-01T00:00:00Z"}`
	req := httptest.NewRequest("POST", "/api/orders", strings.NewReader(payload))
	req = asUser(req, model.User{ID: 1, Role: model.RoleClient}, "")

	w := httptest.NewRecorder()
	srv.CreateOrderHandler(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
}

func TestCreateOrderHandlerNoTitle(t *testing.T) {
	srv, _ := setup(t)

	req := httptest.NewRequest("POST", "/api/orders", strings.NewReader(`{"work_type_id":1}`))
	req = asUser(req, model.User{ID: 1, Role: model.RoleClient}, "")

	w := httptest.NewRecorder()
	srv.CreateOrderHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestTakeOrderHandler(t *testing.T) {
	srv, m := setup(t)

	m.orders.EXPECT().
		Take(gomock.Any(), gomock.Any(), 7).
		Return(model.Order{ID: 7, Status: model.StatusInProgress}, nil)

	req := httptest.NewRequest("POST", "/api/orders/7/take", nil)
	req = asUser(req, model.User{ID: 2, Role: model.RoleExpert}, "7")

	w := httptest.NewRecorder()
	srv.TakeOrderHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestTransitionErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"precondition", errs.ErrPreconditionFailed, http.StatusConflict},
		{"forbidden", errs.ErrForbidden, http.StatusForbidden},
		{"not found", errs.ErrOrderNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, m := setup(t)

			m.orders.EXPECT().
				Take(gomock.Any(), gomock.Any(), 7).
				Return(model.Order{}, tt.err)

			req := httptest.NewRequest("POST", "/api/orders/7/take", nil)
			req = asUser(req, model.User{ID: 2, Role: model.RoleExpert}, "7")

			w := httptest.NewRecorder()
			srv.TakeOrderHandler(w, req)

			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAcceptBidHandler(t *testing.T) {
	srv, m := setup(t)

	m.orders.EXPECT().
		AcceptBid(gomock.Any(), gomock.Any(), 7, 3).
		Return(model.Order{ID: 7, Status: model.StatusInProgress}, nil)

	req := httptest.NewRequest("POST", "/api/orders/7/accept-bid", strings.NewReader(`{"bid_id":3}`))
	req = asUser(req, model.User{ID: 1, Role: model.RoleClient}, "7")

	w := httptest.NewRecorder()
	srv.AcceptBidHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestDisputeHandlerEmptyReason(t *testing.T) {
	srv, _ := setup(t)

	req := httptest.NewRequest("POST", "/api/orders/7/dispute", strings.NewReader(`{"reason":""}`))
	req = asUser(req, model.User{ID: 1, Role: model.RoleClient}, "7")

	w := httptest.NewRecorder()
	srv.DisputeHandler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetOrdersHandlerNoContent(t *testing.T) {
	srv, m := setup(t)

	m.storage.EXPECT().
		GetClientOrders(gomock.Any(), 1).
		Return(nil, nil)

	req := httptest.NewRequest("GET", "/api/orders", nil)
	req = asUser(req, model.User{ID: 1, Role: model.RoleClient}, "")

	w := httptest.NewRecorder()
	srv.GetOrdersHandler(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestAvailableDiscountsHandler(t *testing.T) {
	srv, m := setup(t)

	validUntil := time.Now().Add(time.Hour)
	m.storage.EXPECT().
		ListDiscountRules(gomock.Any()).
		Return([]model.DiscountRule{
			{ID: 1, Name: "loyal", IsActive: true, ValidFrom: time.Now().Add(-time.Hour), ValidUntil: &validUntil},
		}, nil)
	m.storage.EXPECT().
		GetClientStats(gomock.Any(), 1).
		Return(model.ClientStats{CompletedOrders: 10}, nil)

	req := httptest.NewRequest("GET", "/api/discounts/available", nil)
	req = asUser(req, model.User{ID: 1, Role: model.RoleClient}, "")

	w := httptest.NewRecorder()
	srv.AvailableDiscountsHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRecomputeHandler(t *testing.T) {
	srv, m := setup(t)

	m.stats.EXPECT().
		RecomputeAll(gomock.Any()).
		Return(5, nil)

	req := httptest.NewRequest("POST", "/api/admin/recompute", nil)
	req = asUser(req, model.User{ID: 9, Role: model.RoleAdmin}, "")

	w := httptest.NewRecorder()
	srv.RecomputeHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"updated":5`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

// через роутер: без токена не пускаем, с токеном ходим в хранилище
func TestRouterAuth(t *testing.T) {
	srv, m := setup(t)
	router := srv.buildRouter()

	req := httptest.NewRequest("GET", "/api/orders", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}

	m.storage.EXPECT().
		GetUserByID(gomock.Any(), 1).
		Return(model.User{ID: 1, Role: model.RoleClient}, nil)
	m.storage.EXPECT().
		GetClientOrders(gomock.Any(), 1).
		Return([]model.Order{{ID: 7, Status: model.StatusNew}}, nil)

	token, _ := srv.deps.TokenManager.GenerateToken(1)
	req = newAuthenticatedRequest("GET", "/api/orders", token, "")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
}

func TestRouterResolveRequiresAdmin(t *testing.T) {
	srv, m := setup(t)
	router := srv.buildRouter()

	m.storage.EXPECT().
		GetUserByID(gomock.Any(), 1).
		Return(model.User{ID: 1, Role: model.RoleClient}, nil)

	token, _ := srv.deps.TokenManager.GenerateToken(1)
	req := newAuthenticatedRequest("POST", "/api/orders/7/resolve", token, `{"result":"refund","status":"cancelled"}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", w.Code)
	}
}

func bcryptHash(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), 10)
	return string(hash), err
}
