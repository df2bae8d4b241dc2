package pricing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/workmarket/internal/discount"
	"github.com/and161185/workmarket/internal/errs"
	"github.com/and161185/workmarket/internal/model"
	"github.com/and161185/workmarket/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const CacheTTL = time.Hour

// Ключи дополнительных требований в заказе.
const (
	ReqUniqueness   = "uniqueness"
	ReqFormatting   = "formatting"
	ReqMaterials    = "additional_materials"
	ReqPresentation = "presentation"
)

// Cache — внешний KV: недоступность кэша не ломает расчет.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

type Storage interface {
	ListDiscountRules(ctx context.Context) ([]model.DiscountRule, error)
	GetClientStats(ctx context.Context, userID int) (model.ClientStats, error)
}

type Breakdown struct {
	BasePrice              decimal.Decimal `json:"base_price"`
	ComplexityAdjustment   decimal.Decimal `json:"complexity_adjustment"`
	UrgencyAdjustment      decimal.Decimal `json:"urgency_adjustment"`
	RequirementsAdjustment decimal.Decimal `json:"requirements_adjustment"`
	DiscountAmount         decimal.Decimal `json:"discount_amount"`
	DiscountID             int             `json:"discount_id,omitempty"`
	DiscountName           string          `json:"discount_name,omitempty"`
	FinalPrice             decimal.Decimal `json:"final_price"`
}

type Engine struct {
	storage Storage
	cache   Cache
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewEngine(storage Storage, cache Cache, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		storage: storage,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// Quote считает итоговую цену заказа. Пользователь опционален: без него
// скидки не применяются.
func (e *Engine) Quote(ctx context.Context, wt model.WorkType, cx model.Complexity, deadline time.Time, user *model.User, reqs map[string]string) (decimal.Decimal, error) {
	key := cacheKey(wt.ID, cx.ID, deadline, reqs, userID(user))

	if cached, ok := e.cacheGet(ctx, key); ok {
		if price, err := decimal.NewFromString(cached); err == nil {
			return price, nil
		}
	}

	bd, err := e.compute(ctx, wt, cx, deadline, user, reqs)
	if err != nil {
		return decimal.Decimal{}, err
	}

	e.cacheSet(ctx, key, bd.FinalPrice.String())
	return bd.FinalPrice, nil
}

// Breakdown возвращает постатейную разбивку той же цены.
func (e *Engine) Breakdown(ctx context.Context, wt model.WorkType, cx model.Complexity, deadline time.Time, user *model.User, reqs map[string]string) (Breakdown, error) {
	key := "breakdown:" + cacheKey(wt.ID, cx.ID, deadline, reqs, userID(user))

	if cached, ok := e.cacheGet(ctx, key); ok {
		var bd Breakdown
		if err := json.Unmarshal([]byte(cached), &bd); err == nil {
			return bd, nil
		}
	}

	bd, err := e.compute(ctx, wt, cx, deadline, user, reqs)
	if err != nil {
		return Breakdown{}, err
	}

	if raw, err := json.Marshal(bd); err == nil {
		e.cacheSet(ctx, key, string(raw))
	}
	return bd, nil
}

// Invalidate чистит кэш цен после изменения каталога. Удаление по префиксу
// не умеет выбирать только сложность, поэтому без типа работы чистим все.
func (e *Engine) Invalidate(ctx context.Context, workTypeID int) {
	prefix := "price:"
	if workTypeID != 0 {
		prefix = fmt.Sprintf("price:wt_%d:", workTypeID)
	}
	if err := e.cache.DeleteByPrefix(ctx, prefix); err != nil {
		e.logger.Errorw("invalidate price cache", "error", err)
	}
	if err := e.cache.DeleteByPrefix(ctx, "breakdown:"+prefix); err != nil {
		e.logger.Errorw("invalidate breakdown cache", "error", err)
	}
}

func (e *Engine) compute(ctx context.Context, wt model.WorkType, cx model.Complexity, deadline time.Time, user *model.User, reqs map[string]string) (Breakdown, error) {
	hoursLeft := deadline.Sub(e.now()).Hours()
	if hoursLeft <= 0 {
		return Breakdown{}, errs.ErrPastDeadline
	}

	base := wt.BasePrice
	complexityPrice := base.Mul(cx.Multiplier)
	urgencyPrice := complexityPrice.Mul(urgencyMultiplier(hoursLeft, wt.EstimatedHours))
	preDiscount := urgencyPrice.Mul(requirementsMultiplier(reqs))

	bd := Breakdown{
		BasePrice:              base,
		ComplexityAdjustment:   complexityPrice.Sub(base),
		UrgencyAdjustment:      urgencyPrice.Sub(complexityPrice),
		RequirementsAdjustment: preDiscount.Sub(urgencyPrice),
		DiscountAmount:         decimal.Zero,
	}

	if user != nil {
		stats, err := e.storage.GetClientStats(ctx, user.ID)
		if err != nil {
			return Breakdown{}, fmt.Errorf("get client stats: %w", err)
		}
		rules, err := e.storage.ListDiscountRules(ctx)
		if err != nil {
			return Breakdown{}, fmt.Errorf("list discount rules: %w", err)
		}
		if applied, ok := discount.Best(rules, wt.ID, stats, preDiscount, e.now()); ok {
			bd.DiscountAmount = applied.Amount
			bd.DiscountID = applied.Rule.ID
			bd.DiscountName = applied.Rule.Name
		}
	}

	bd.FinalPrice = money.RoundToHundred(preDiscount.Sub(bd.DiscountAmount))
	return bd, nil
}

// urgencyMultiplier: при нехватке времени линейно растет до 2.0,
// при двойном запасе дает скидку 0.9.
func urgencyMultiplier(hoursLeft float64, estimatedHours int) decimal.Decimal {
	estimated := float64(estimatedHours)

	if hoursLeft < estimated {
		urgency := 2.0 - hoursLeft/estimated
		if urgency > 2.0 {
			urgency = 2.0
		}
		if urgency < 1.0 {
			urgency = 1.0
		}
		return decimal.NewFromFloat(urgency)
	}
	if hoursLeft > estimated*2 {
		return decimal.RequireFromString("0.9")
	}
	return decimal.NewFromInt(1)
}

func requirementsMultiplier(reqs map[string]string) decimal.Decimal {
	m := decimal.NewFromInt(1)

	if v, ok := reqs[ReqUniqueness]; ok {
		if uniqueness, err := strconv.Atoi(v); err == nil {
			switch {
			case uniqueness > 90:
				m = m.Mul(decimal.RequireFromString("1.2"))
			case uniqueness > 80:
				m = m.Mul(decimal.RequireFromString("1.1"))
			}
		}
	}
	if flagSet(reqs[ReqFormatting]) {
		m = m.Mul(decimal.RequireFromString("1.1"))
	}
	if flagSet(reqs[ReqMaterials]) {
		m = m.Mul(decimal.RequireFromString("1.15"))
	}
	if flagSet(reqs[ReqPresentation]) {
		m = m.Mul(decimal.RequireFromString("1.25"))
	}
	return m
}

func flagSet(v string) bool {
	return v != "" && v != "0" && !strings.EqualFold(v, "false")
}

func cacheKey(workTypeID, complexityID int, deadline time.Time, reqs map[string]string, userID int) string {
	parts := []string{
		"price",
		fmt.Sprintf("wt_%d", workTypeID),
		fmt.Sprintf("cx_%d", complexityID),
		fmt.Sprintf("dl_%d", deadline.Unix()),
	}
	if h := hashRequirements(reqs); h != "" {
		parts = append(parts, "req_"+h)
	}
	if userID != 0 {
		parts = append(parts, fmt.Sprintf("user_%d", userID))
	}
	return strings.Join(parts, ":")
}

// hashRequirements — стабильный отпечаток требований: пары сортируются
// по ключу, поэтому порядок в запросе не влияет на ключ кэша.
func hashRequirements(reqs map[string]string) string {
	if len(reqs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(reqs))
	for k := range reqs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+reqs[k])
	}
	sum := sha256.Sum256([]byte(strings.Join(pairs, ":")))
	return hex.EncodeToString(sum[:8])
}

func (e *Engine) cacheGet(ctx context.Context, key string) (string, bool) {
	value, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		// кэш — только оптимизация, при сбое пересчитываем
		e.logger.Warnw("price cache get", "key", key, "error", err)
		return "", false
	}
	return value, ok
}

func (e *Engine) cacheSet(ctx context.Context, key, value string) {
	if err := e.cache.Set(ctx, key, value, CacheTTL); err != nil {
		e.logger.Warnw("price cache set", "key", key, "error", err)
	}
}

func userID(user *model.User) int {
	if user == nil {
		return 0
	}
	return user.ID
}
