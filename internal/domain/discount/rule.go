package discount

import "github.com/shopspring/decimal"

// Kind enumerates the supported rule strategies.
type Kind string

const (
	KindPercentage    Kind = "PERCENTAGE"
	KindFixedAmount   Kind = "FIXED_AMOUNT"
	KindFreeShipping  Kind = "FREE_SHIPPING"
	KindBOGO          Kind = "BOGO"
	KindProductCredit Kind = "PRODUCT_CREDIT"
)

// Rule is one discount computation strategy attached to a code. The set of
// implementations is closed: Percentage, FixedAmount, FreeShipping, BOGO and
// ProductCredit.
type Rule interface {
	Kind() Kind
	// Order is the rule's evaluation priority within its code; lower first.
	Order() int
	rule()
}

// Percentage takes a percentage off the merchandise subtotal.
type Percentage struct {
	Value decimal.Decimal
	// MaxDiscount caps the computed amount. Zero means no cap.
	MaxDiscount int64
	// MinOrderAmount gates the rule and defines the threshold of a tier.
	MinOrderAmount int64
	Priority       int
}

// FixedAmount takes a fixed amount off the merchandise subtotal.
type FixedAmount struct {
	Value          int64
	MinOrderAmount int64
	Priority       int
}

// FreeShipping waives the shipping cost.
type FreeShipping struct {
	MinOrderAmount int64
	Priority       int
}

// BOGO discounts GetSKU units contingent on the purchase of BuySKU units.
type BOGO struct {
	BuySKU      string
	BuyQuantity int
	GetSKU      string
	GetQuantity int
	// GetDiscountPct is the percentage off each eligible unit; 100 is free.
	GetDiscountPct int
	Priority       int
}

// ProductCredit grants a product at no charge as a bonus line.
type ProductCredit struct {
	SKU      string
	Quantity int
	// Value is the retail value of the credit, for receipts.
	Value    int64
	Priority int
}

func (Percentage) Kind() Kind    { return KindPercentage }
func (FixedAmount) Kind() Kind   { return KindFixedAmount }
func (FreeShipping) Kind() Kind  { return KindFreeShipping }
func (BOGO) Kind() Kind          { return KindBOGO }
func (ProductCredit) Kind() Kind { return KindProductCredit }

func (r Percentage) Order() int    { return r.Priority }
func (r FixedAmount) Order() int   { return r.Priority }
func (r FreeShipping) Order() int  { return r.Priority }
func (r BOGO) Order() int          { return r.Priority }
func (r ProductCredit) Order() int { return r.Priority }

func (Percentage) rule()    {}
func (FixedAmount) rule()   {}
func (FreeShipping) rule()  {}
func (BOGO) rule()          {}
func (ProductCredit) rule() {}

// Line is the order component a rule discounts.
type Line string

const (
	LineMerchandise Line = "merchandise"
	LineShipping    Line = "shipping"
	LineBonus       Line = "bonus"
)

// LineOf returns the order component a rule of kind k contributes to.
func LineOf(k Kind) Line {
	switch k {
	case KindFreeShipping:
		return LineShipping
	case KindProductCredit:
		return LineBonus
	default:
		return LineMerchandise
	}
}
