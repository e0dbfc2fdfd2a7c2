package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

// ruleRow is the flat discount_rules representation of a discount.Rule.
// value holds the percentage, the fixed amount or the credit value.
type ruleRow struct {
	Code           string
	Type           string
	Value          decimal.Decimal
	MaxDiscount    int64
	MinOrderAmount int64
	BuySKU         string
	BuyQuantity    int
	GetSKU         string
	GetQuantity    int
	GetDiscountPct int
	SKU            string
	Quantity       int
	Priority       int
}

func encodeRule(code string, r discount.Rule) ruleRow {
	row := ruleRow{Code: code, Type: string(r.Kind()), Value: decimal.Zero, Priority: r.Order()}
	switch r := r.(type) {
	case discount.Percentage:
		row.Value = r.Value
		row.MaxDiscount = r.MaxDiscount
		row.MinOrderAmount = r.MinOrderAmount
	case discount.FixedAmount:
		row.Value = decimal.NewFromInt(r.Value)
		row.MinOrderAmount = r.MinOrderAmount
	case discount.FreeShipping:
		row.MinOrderAmount = r.MinOrderAmount
	case discount.BOGO:
		row.BuySKU = r.BuySKU
		row.BuyQuantity = r.BuyQuantity
		row.GetSKU = r.GetSKU
		row.GetQuantity = r.GetQuantity
		row.GetDiscountPct = r.GetDiscountPct
	case discount.ProductCredit:
		row.Value = decimal.NewFromInt(r.Value)
		row.SKU = r.SKU
		row.Quantity = r.Quantity
	}
	return row
}

func (row ruleRow) decode() (discount.Rule, error) {
	switch discount.Kind(row.Type) {
	case discount.KindPercentage:
		return discount.Percentage{
			Value:          row.Value,
			MaxDiscount:    row.MaxDiscount,
			MinOrderAmount: row.MinOrderAmount,
			Priority:       row.Priority,
		}, nil
	case discount.KindFixedAmount:
		return discount.FixedAmount{
			Value:          row.Value.IntPart(),
			MinOrderAmount: row.MinOrderAmount,
			Priority:       row.Priority,
		}, nil
	case discount.KindFreeShipping:
		return discount.FreeShipping{MinOrderAmount: row.MinOrderAmount, Priority: row.Priority}, nil
	case discount.KindBOGO:
		return discount.BOGO{
			BuySKU:         row.BuySKU,
			BuyQuantity:    row.BuyQuantity,
			GetSKU:         row.GetSKU,
			GetQuantity:    row.GetQuantity,
			GetDiscountPct: row.GetDiscountPct,
			Priority:       row.Priority,
		}, nil
	case discount.KindProductCredit:
		return discount.ProductCredit{
			SKU:      row.SKU,
			Quantity: row.Quantity,
			Value:    row.Value.IntPart(),
			Priority: row.Priority,
		}, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q for code %q", row.Type, row.Code)
	}
}

func scanRuleRow(row pgx.CollectableRow) (ruleRow, error) {
	var r ruleRow
	err := row.Scan(
		&r.Code, &r.Type, &r.Value, &r.MaxDiscount, &r.MinOrderAmount,
		&r.BuySKU, &r.BuyQuantity, &r.GetSKU, &r.GetQuantity, &r.GetDiscountPct,
		&r.SKU, &r.Quantity, &r.Priority,
	)
	return r, err
}
