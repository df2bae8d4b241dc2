package deps

import (
	"github.com/and161185/workmarket/internal/auth"
	"go.uber.org/zap"
)

type Deps struct {
	Logger       *zap.SugaredLogger
	TokenManager *auth.TokenManager
}

// NewDependencies собирает контейнер вокруг уже настроенного логгера,
// второй логгер поверх конфигового не создается.
func NewDependencies(secretKey string, logger *zap.SugaredLogger) *Deps {
	return &Deps{Logger: logger, TokenManager: auth.NewTokenManager(secretKey)}
}
