package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RoundToHundred округляет цену до сотен: половина — вверх.
// Итоговое правило прайсинга, промежуточные расчеты не округляются.
func RoundToHundred(price decimal.Decimal) decimal.Decimal {
	return price.DivRound(hundred, 0).Mul(hundred)
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Clamp ограничивает сумму диапазоном [0, limit].
func Clamp(amount, limit decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return Min(amount, limit)
}
