package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/and161185/workmarket/internal/auth"
	"github.com/and161185/workmarket/internal/errs"
	"github.com/and161185/workmarket/internal/model"
)

type mockStorage struct {
	GetUserFunc func(ctx context.Context, id int) (model.User, error)
}

func (m *mockStorage) GetUserByID(ctx context.Context, id int) (model.User, error) {
	return m.GetUserFunc(ctx, id)
}

func TestAuthMiddleware(t *testing.T) {
	tm := auth.NewTokenManager("test-secret")
	validToken, _ := tm.GenerateToken(1)

	tests := []struct {
		name           string
		authHeader     string
		storage        Storage
		expectedStatus int
	}{
		{
			name:           "no header",
			authHeader:     "",
			storage:        &mockStorage{},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid token",
			authHeader:     "Bearer invalidtoken",
			storage:        &mockStorage{},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:       "user not found",
			authHeader: "Bearer " + validToken,
			storage: &mockStorage{
				GetUserFunc: func(ctx context.Context, id int) (model.User, error) {
					return model.User{}, errs.ErrUserNotFound
				},
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:       "storage error",
			authHeader: "Bearer " + validToken,
			storage: &mockStorage{
				GetUserFunc: func(ctx context.Context, id int) (model.User, error) {
					return model.User{}, errors.New("some db error")
				},
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:       "ok",
			authHeader: "Bearer " + validToken,
			storage: &mockStorage{
				GetUserFunc: func(ctx context.Context, id int) (model.User, error) {
					return model.User{ID: 1, Login: "test", Role: model.RoleClient}, nil
				},
			},
			expectedStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rr := httptest.NewRecorder()
			mw := AuthMiddleware(tt.storage, tm)
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, ok := UserFromContext(r.Context()); !ok {
					t.Error("пользователь должен лежать в контексте")
				}
				w.WriteHeader(http.StatusOK)
			}))

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	tm := auth.NewTokenManager("test-secret")
	validToken, _ := tm.GenerateToken(1)
	storage := &mockStorage{
		GetUserFunc: func(ctx context.Context, id int) (model.User, error) {
			return model.User{ID: 1, Login: "test", Role: model.RoleClient}, nil
		},
	}

	tests := []struct {
		name       string
		authHeader string
		wantUser   bool
	}{
		{"anonymous", "", false},
		{"bad token is still anonymous", "Bearer garbage", false},
		{"authorized", "Bearer " + validToken, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rr := httptest.NewRecorder()
			handler := OptionalAuthMiddleware(storage, tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, ok := UserFromContext(r.Context())
				if ok != tt.wantUser {
					t.Errorf("user in context = %v; want %v", ok, tt.wantUser)
				}
				w.WriteHeader(http.StatusOK)
			}))

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("анонимный запрос не должен отклоняться: %d", rr.Code)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name           string
		user           *model.User
		role           model.Role
		expectedStatus int
	}{
		{"admin ok", &model.User{ID: 1, Role: model.RoleAdmin}, model.RoleAdmin, http.StatusOK},
		{"client is not admin", &model.User{ID: 1, Role: model.RoleClient}, model.RoleAdmin, http.StatusForbidden},
		{"no user", nil, model.RoleAdmin, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(context.WithValue(req.Context(), UserContextKey, *tt.user))
			}

			rr := httptest.NewRecorder()
			handler := RequireRole(tt.role)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("expected %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}
}
