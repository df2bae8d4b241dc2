package discount

import (
	"sort"
	"time"

	"github.com/and161185/workmarket/internal/model"
	"github.com/and161185/workmarket/internal/money"
	"github.com/shopspring/decimal"
)

// Пороги "почти доступной" скидки для уведомлений.
const (
	NearlyOrdersThreshold = 3
	NearlySpentThreshold  = 5000
)

// Скидки, стартующие дальше этого горизонта, в уведомления не попадают.
const NearlyStartHorizon = 30 * 24 * time.Hour

var percentBase = decimal.NewFromInt(100)

// Valid проверяет, что правило активно и действует прямо сейчас.
// Окно действия: [ValidFrom, ValidUntil), пустой ValidUntil — бессрочно.
func Valid(rule model.DiscountRule, now time.Time) bool {
	if !rule.IsActive {
		return false
	}
	if now.Before(rule.ValidFrom) {
		return false
	}
	if rule.ValidUntil != nil && !now.Before(*rule.ValidUntil) {
		return false
	}
	return true
}

// Eligible — Valid плюс пороги пользователя по заказам и тратам.
func Eligible(rule model.DiscountRule, stats model.ClientStats, now time.Time) bool {
	if !Valid(rule, now) {
		return false
	}
	if stats.CompletedOrders < rule.MinOrders {
		return false
	}
	if stats.TotalSpent.LessThan(rule.MinTotalSpent) {
		return false
	}
	return true
}

// Amount считает сумму скидки для цены.
// Никогда не возвращает отрицательное значение и не превышает цену.
func Amount(rule model.DiscountRule, price decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch rule.Kind {
	case model.DiscountPercentage:
		amount = price.Mul(rule.Value).Div(percentBase)
	case model.DiscountFixed:
		amount = rule.Value
	default:
		return decimal.Zero
	}
	return money.Clamp(amount, price)
}

type Applied struct {
	Rule   model.DiscountRule
	Amount decimal.Decimal
}

// Best выбирает скидку с максимальной фактической суммой.
// Кандидаты обходятся по убыванию номинала (при равных номиналах — по id),
// выигрывает строго большая сумма — тай-брейк детерминирован.
func Best(rules []model.DiscountRule, workTypeID int, stats model.ClientStats, price decimal.Decimal, now time.Time) (Applied, bool) {
	candidates := make([]model.DiscountRule, len(rules))
	copy(candidates, rules)
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Value.Equal(candidates[j].Value) {
			return candidates[i].Value.GreaterThan(candidates[j].Value)
		}
		return candidates[i].ID < candidates[j].ID
	})

	var best Applied
	found := false
	for _, rule := range candidates {
		if !rule.AppliesTo(workTypeID) {
			continue
		}
		if !Eligible(rule, stats, now) {
			continue
		}
		amount := Amount(rule, price)
		if !found || amount.GreaterThan(best.Amount) {
			best = Applied{Rule: rule, Amount: amount}
			found = true
		}
	}
	if !found || best.Amount.IsZero() {
		return Applied{}, false
	}
	return best, true
}

// Available — все скидки, доступные пользователю сейчас.
func Available(rules []model.DiscountRule, stats model.ClientStats, now time.Time) []model.DiscountRule {
	var out []model.DiscountRule
	for _, rule := range rules {
		if Eligible(rule, stats, now) {
			out = append(out, rule)
		}
	}
	return out
}

type Upcoming struct {
	Rule            model.DiscountRule `json:"rule"`
	OrdersRemaining int                `json:"orders_remaining"`
	SpentRemaining  decimal.Decimal    `json:"spent_remaining"`
}

// NearlyAvailable — активные скидки, до которых пользователю осталось
// не больше NearlyOrdersThreshold заказов или NearlySpentThreshold по сумме.
func NearlyAvailable(rules []model.DiscountRule, stats model.ClientStats, now time.Time) []Upcoming {
	spentThreshold := decimal.NewFromInt(NearlySpentThreshold)

	var out []Upcoming
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.ValidUntil != nil && !now.Before(*rule.ValidUntil) {
			continue
		}
		if rule.ValidFrom.After(now.Add(NearlyStartHorizon)) {
			continue
		}
		if Eligible(rule, stats, now) {
			continue
		}

		ordersRemaining := rule.MinOrders - stats.CompletedOrders
		if ordersRemaining < 0 {
			ordersRemaining = 0
		}
		spentRemaining := rule.MinTotalSpent.Sub(stats.TotalSpent)
		if spentRemaining.IsNegative() {
			spentRemaining = decimal.Zero
		}

		closeByOrders := ordersRemaining > 0 && ordersRemaining <= NearlyOrdersThreshold
		closeBySpent := spentRemaining.IsPositive() && spentRemaining.LessThanOrEqual(spentThreshold)
		if closeByOrders || closeBySpent {
			out = append(out, Upcoming{
				Rule:            rule,
				OrdersRemaining: ordersRemaining,
				SpentRemaining:  spentRemaining,
			})
		}
	}
	return out
}
