package auth

import (
	"time"

	"github.com/and161185/workmarket/internal/errs"
	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour // токен на сутки

type TokenManager struct {
	secretKey []byte
}

func NewTokenManager(secretKey string) *TokenManager {
	return &TokenManager{[]byte(secretKey)}
}

type claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

func (tm *TokenManager) GenerateToken(userID int) (string, error) {
	now := time.Now()
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(tm.secretKey)
}

func (tm *TokenManager) ParseToken(tokenStr string) (int, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errs.ErrInvalidToken
		}
		return tm.secretKey, nil
	})

	if err != nil || !token.Valid || c.UserID == 0 {
		return 0, errs.ErrInvalidToken
	}
	return c.UserID, nil
}
