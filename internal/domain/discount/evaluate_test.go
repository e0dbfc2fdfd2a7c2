package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func cart(items ...LineItem) Order {
	return Order{Items: items, ShippingCost: 799, Email: "shopper@example.com"}.Normalize()
}

func withSubtotal(subtotal int64) Order {
	return Order{Subtotal: subtotal, ShippingCost: 799, Email: "shopper@example.com"}.Normalize()
}

func save10Plus() *Code {
	return &Code{
		Code:   "SAVE10PLUS",
		Active: true,
		Tiered: true,
		Rules: []Rule{
			Percentage{Value: pct(15), MinOrderAmount: 5000},
			Percentage{Value: pct(10), MinOrderAmount: 2000},
		},
	}
}

func TestEvaluateTiers(t *testing.T) {
	for _, tt := range []struct {
		name       string
		subtotal   int64
		want       int64
		applicable bool
		label      string
	}{
		{name: "UpperTier", subtotal: 6000, want: 900, applicable: true, label: "15% off your order!"},
		{name: "ExactlyUpperThreshold", subtotal: 5000, want: 750, applicable: true, label: "15% off your order!"},
		{name: "LowerTier", subtotal: 3000, want: 300, applicable: true, label: "10% off your order!"},
		{name: "BelowEveryTier", subtotal: 1000, want: 0, applicable: false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := Evaluate(save10Plus(), withSubtotal(tt.subtotal))
			assert.Equal(t, tt.want, c.Merchandise)
			assert.Equal(t, tt.applicable, c.Applicable)
			assert.Equal(t, tt.label, c.Label)
		})
	}
}

func TestEvaluateTiersMonotonic(t *testing.T) {
	code := save10Plus()
	var prev int64
	for subtotal := int64(0); subtotal <= 20000; subtotal += 250 {
		got := Evaluate(code, withSubtotal(subtotal)).Merchandise
		assert.GreaterOrEqual(t, got, prev, "subtotal %d", subtotal)
		prev = got
	}
}

func TestEvaluateMerchandise(t *testing.T) {
	for _, tt := range []struct {
		name     string
		code     *Code
		order    Order
		wantKind Kind
		want     int64
		label    string
	}{
		{
			name:     "Percentage",
			code:     &Code{Rules: []Rule{Percentage{Value: pct(10)}}},
			order:    withSubtotal(4550),
			wantKind: KindPercentage,
			want:     455,
			label:    "10% off your order!",
		},
		{
			name:     "PercentageRuleCap",
			code:     &Code{Rules: []Rule{Percentage{Value: pct(10), MaxDiscount: 1000}}},
			order:    withSubtotal(20000),
			wantKind: KindPercentage,
			want:     1000,
		},
		{
			name:     "CodeCap",
			code:     &Code{MaxDiscountAmount: 700, Rules: []Rule{Percentage{Value: pct(25)}}},
			order:    withSubtotal(4000),
			wantKind: KindPercentage,
			want:     700,
		},
		{
			name:     "FixedNeverExceedsSubtotal",
			code:     &Code{Rules: []Rule{FixedAmount{Value: 500}}},
			order:    withSubtotal(300),
			wantKind: KindFixedAmount,
			want:     300,
			label:    "$5.00 off your order!",
		},
		{
			name:     "RuleMinimumSkipsToNextRule",
			code:     &Code{Rules: []Rule{Percentage{Value: pct(20), MinOrderAmount: 10000}, FixedAmount{Value: 500, Priority: 1}}},
			order:    withSubtotal(4000),
			wantKind: KindFixedAmount,
			want:     500,
		},
		{
			name:     "RulePriorityOrder",
			code:     &Code{Rules: []Rule{FixedAmount{Value: 500, Priority: 2}, Percentage{Value: pct(10), Priority: 1}}},
			order:    withSubtotal(4000),
			wantKind: KindPercentage,
			want:     400,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c := Evaluate(tt.code, tt.order)
			assert.True(t, c.Applicable)
			assert.Equal(t, tt.wantKind, c.Kind)
			assert.Equal(t, tt.want, c.Merchandise)
			assert.Zero(t, c.Shipping)
			if tt.label != "" {
				assert.Equal(t, tt.label, c.Label)
			}
		})
	}
}

func TestEvaluateBOGO(t *testing.T) {
	rule := BOGO{BuySKU: "CORN-30", BuyQuantity: 2, GetSKU: "SALSA-VERDE", GetQuantity: 1, GetDiscountPct: 100}
	code := &Code{Rules: []Rule{rule}}

	for _, tt := range []struct {
		name  string
		order Order
		rule  BOGO
		want  int64
	}{
		{
			name:  "Unlocked",
			order: cart(LineItem{SKU: "CORN-30", Quantity: 2, UnitPrice: 899}, LineItem{SKU: "SALSA-VERDE", Quantity: 1, UnitPrice: 650}),
			rule:  rule,
			want:  650,
		},
		{
			name:  "NotEnoughBought",
			order: cart(LineItem{SKU: "CORN-30", Quantity: 1, UnitPrice: 899}, LineItem{SKU: "SALSA-VERDE", Quantity: 1, UnitPrice: 650}),
			rule:  rule,
			want:  0,
		},
		{
			name:  "GetSKUMissing",
			order: cart(LineItem{SKU: "CORN-30", Quantity: 4, UnitPrice: 899}),
			rule:  rule,
			want:  0,
		},
		{
			name:  "CappedByGetQuantityInCart",
			order: cart(LineItem{SKU: "CORN-30", Quantity: 6, UnitPrice: 899}, LineItem{SKU: "SALSA-VERDE", Quantity: 2, UnitPrice: 650}),
			rule:  rule,
			want:  1300,
		},
		{
			name:  "HalfOff",
			order: cart(LineItem{SKU: "CORN-30", Quantity: 2, UnitPrice: 899}, LineItem{SKU: "SALSA-VERDE", Quantity: 1, UnitPrice: 650}),
			rule:  BOGO{BuySKU: "CORN-30", BuyQuantity: 2, GetSKU: "SALSA-VERDE", GetQuantity: 1, GetDiscountPct: 50},
			want:  325,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			code.Rules = []Rule{tt.rule}
			c := Evaluate(code, tt.order)
			assert.Equal(t, tt.want, c.Merchandise)
			assert.Equal(t, tt.want > 0, c.Applicable)
		})
	}
}

func TestEvaluateShippingAndBonus(t *testing.T) {
	t.Run("FreeShipping", func(t *testing.T) {
		c := Evaluate(&Code{Rules: []Rule{FreeShipping{}}}, withSubtotal(2000))
		assert.True(t, c.Applicable)
		assert.True(t, c.ShippingWaived)
		assert.Equal(t, KindFreeShipping, c.Kind)
		assert.Equal(t, int64(799), c.Shipping)
		assert.Zero(t, c.Merchandise)
		assert.Equal(t, "Free shipping applied!", c.Label)
	})
	t.Run("FreeShippingBelowMinimum", func(t *testing.T) {
		c := Evaluate(&Code{Rules: []Rule{FreeShipping{MinOrderAmount: 3500}}}, withSubtotal(2000))
		assert.False(t, c.Applicable)
		assert.False(t, c.ShippingWaived)
	})
	t.Run("FreeShippingOnFreeShippingOrder", func(t *testing.T) {
		o := withSubtotal(2000)
		o.ShippingCost = 0
		c := Evaluate(&Code{Rules: []Rule{FreeShipping{}}}, o)
		assert.True(t, c.Applicable)
		assert.Zero(t, c.Total())
	})
	t.Run("ProductCredit", func(t *testing.T) {
		c := Evaluate(&Code{Rules: []Rule{ProductCredit{SKU: "HEB-GREEN-SAUCE", Quantity: 1, Value: 1200}}}, withSubtotal(2000))
		assert.True(t, c.Applicable)
		assert.Equal(t, KindProductCredit, c.Kind)
		assert.Equal(t, []BonusItem{{SKU: "HEB-GREEN-SAUCE", Quantity: 1, Value: 1200}}, c.BonusItems)
		assert.Zero(t, c.Total())
	})
	t.Run("MerchandiseAndShipping", func(t *testing.T) {
		c := Evaluate(&Code{Rules: []Rule{Percentage{Value: pct(10)}, FreeShipping{}}}, withSubtotal(5000))
		assert.Equal(t, KindPercentage, c.Kind)
		assert.Equal(t, int64(500), c.Merchandise)
		assert.Equal(t, int64(799), c.Shipping)
	})
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "$5.00", FormatAmount(500))
	assert.Equal(t, "$0.99", FormatAmount(99))
	assert.Equal(t, "$123.45", FormatAmount(12345))
}
