package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/and161185/workmarket/internal/auth"
	"github.com/and161185/workmarket/internal/errs"
	"github.com/and161185/workmarket/internal/model"
)

type Storage interface {
	GetUserByID(ctx context.Context, id int) (model.User, error)
}

type contextKey string

const UserContextKey contextKey = "user"

// UserFromContext достает авторизованного пользователя, положенного
// AuthMiddleware.
func UserFromContext(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(UserContextKey).(model.User)
	return user, ok
}

func AuthMiddleware(store Storage, tm *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authenticate(r, store, tm)
			if err != nil {
				if errors.Is(err, errs.ErrInvalidToken) || errors.Is(err, errs.ErrUserNotFound) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthMiddleware кладет пользователя в контекст, если токен есть
// и валиден, иначе пропускает запрос анонимно. Нужен для расчета цены:
// авторизованным учитываются скидки.
func OptionalAuthMiddleware(store Storage, tm *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, err := authenticate(r, store, tm); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), UserContextKey, user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(r *http.Request, store Storage, tm *auth.TokenManager) (model.User, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return model.User{}, errs.ErrInvalidToken
	}

	userID, err := tm.ParseToken(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		return model.User{}, err
	}
	return store.GetUserByID(r.Context(), userID)
}

// RequireRole пускает дальше только пользователей с нужной ролью.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok || user.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
