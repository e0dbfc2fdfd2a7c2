package discount

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Candidate is the discount a single code would yield for an order, before
// stacking.
type Candidate struct {
	// Kind is the kind of the governing rule.
	Kind        Kind
	Merchandise int64
	Shipping    int64
	// ShippingWaived is set when a free-shipping rule applies, even if the
	// order ships for free anyway.
	ShippingWaived bool
	BonusItems     []BonusItem
	// Applicable is false when no rule yields anything for this order. The
	// code is still valid; it is simply inapplicable at this subtotal or cart.
	Applicable bool
	Label      string
}

// Total returns the combined merchandise and shipping amount.
func (c Candidate) Total() int64 {
	return c.Merchandise + c.Shipping
}

// Evaluate computes the candidate discount of code for order. It is pure and
// never fails: malformed rules are rejected at creation, and rules that do
// not apply simply yield zero. The order is expected to be normalized.
func Evaluate(code *Code, order Order) Candidate {
	var c Candidate
	if len(code.Rules) == 0 {
		return c
	}

	rules := sortedRules(code.Rules)

	if code.Tiered {
		c = evaluateTiers(rules, order)
	} else {
		c = evaluateMerchandise(rules, order)
	}

	for _, r := range rules {
		switch r := r.(type) {
		case FreeShipping:
			if r.MinOrderAmount > 0 && order.Subtotal < r.MinOrderAmount {
				continue
			}
			c.ShippingWaived = true
			c.Shipping = clamp(order.ShippingCost, order.ShippingCost)
		case ProductCredit:
			c.BonusItems = append(c.BonusItems, BonusItem{
				SKU:      r.SKU,
				Quantity: r.Quantity,
				Value:    r.Value,
			})
		}
	}

	if code.MaxDiscountAmount > 0 && c.Merchandise > code.MaxDiscountAmount {
		c.Merchandise = code.MaxDiscountAmount
	}
	c.Merchandise = clamp(c.Merchandise, order.Subtotal)

	if c.Kind == "" {
		switch {
		case c.ShippingWaived:
			c.Kind = KindFreeShipping
			c.Label = "Free shipping applied!"
		case len(c.BonusItems) > 0:
			c.Kind = KindProductCredit
			c.Label = bonusLabel(c.BonusItems)
		default:
			c.Kind = code.Rules[0].Kind()
		}
	}
	c.Applicable = c.Merchandise > 0 || c.ShippingWaived || len(c.BonusItems) > 0

	return c
}

// evaluateTiers treats the PERCENTAGE rules as a threshold schedule and
// applies the highest tier whose threshold the subtotal reaches.
func evaluateTiers(rules []Rule, order Order) Candidate {
	var tiers []Percentage
	for _, r := range rules {
		if p, ok := r.(Percentage); ok {
			tiers = append(tiers, p)
		}
	}
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinOrderAmount < tiers[j].MinOrderAmount
	})

	for i := len(tiers) - 1; i >= 0; i-- {
		if order.Subtotal >= tiers[i].MinOrderAmount {
			amount := percentOf(order.Subtotal, tiers[i].Value, tiers[i].MaxDiscount)
			return Candidate{
				Kind:        KindPercentage,
				Merchandise: amount,
				Label:       fmt.Sprintf("%s%% off your order!", tiers[i].Value),
			}
		}
	}
	return Candidate{}
}

// evaluateMerchandise applies the first merchandise rule, in rule priority
// order, that yields a positive amount.
func evaluateMerchandise(rules []Rule, order Order) Candidate {
	for _, r := range rules {
		var (
			amount int64
			label  string
		)
		switch r := r.(type) {
		case Percentage:
			if r.MinOrderAmount > 0 && order.Subtotal < r.MinOrderAmount {
				continue
			}
			amount = percentOf(order.Subtotal, r.Value, r.MaxDiscount)
			label = fmt.Sprintf("%s%% off your order!", r.Value)
		case FixedAmount:
			if r.MinOrderAmount > 0 && order.Subtotal < r.MinOrderAmount {
				continue
			}
			amount = min(r.Value, order.Subtotal)
			label = fmt.Sprintf("%s off your order!", FormatAmount(r.Value))
		case BOGO:
			amount = bogoAmount(r, order)
			label = bogoLabel(r)
		case FreeShipping, ProductCredit:
			continue
		}
		if amount > 0 {
			return Candidate{Kind: r.Kind(), Merchandise: amount, Label: label}
		}
	}
	return Candidate{}
}

// bogoAmount discounts the get-SKU units unlocked by complete groups of
// buy-SKU units, capped by the get-SKU quantity actually in the cart.
func bogoAmount(r BOGO, order Order) int64 {
	if r.BuyQuantity <= 0 || r.GetQuantity <= 0 {
		return 0
	}
	bought := order.quantityOf(r.BuySKU)
	if bought < r.BuyQuantity {
		return 0
	}
	price, ok := order.unitPriceOf(r.GetSKU)
	if !ok {
		return 0
	}

	eligible := (bought / r.BuyQuantity) * r.GetQuantity
	eligible = min(eligible, order.quantityOf(r.GetSKU))

	pct := r.GetDiscountPct
	if pct <= 0 {
		pct = 100
	}
	value := decimal.NewFromInt(price * int64(eligible))
	return value.Mul(decimal.NewFromInt(int64(pct))).Div(hundred).Round(0).IntPart()
}

func percentOf(subtotal int64, pct decimal.Decimal, limit int64) int64 {
	amount := decimal.NewFromInt(subtotal).Mul(pct).Div(hundred).Round(0).IntPart()
	if limit > 0 && amount > limit {
		amount = limit
	}
	return amount
}

// sortedRules returns rules ordered by rule priority, keeping declaration
// order for equal priorities.
func sortedRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order() < out[j].Order()
	})
	return out
}

// clamp bounds v to [0, limit].
func clamp(v, limit int64) int64 {
	if v < 0 || limit < 0 {
		return 0
	}
	return min(v, limit)
}

func bogoLabel(r BOGO) string {
	if r.GetDiscountPct <= 0 || r.GetDiscountPct >= 100 {
		return fmt.Sprintf("Buy %d, get %d free!", r.BuyQuantity, r.GetQuantity)
	}
	return fmt.Sprintf("Buy %d, get %d at %d%% off!", r.BuyQuantity, r.GetQuantity, r.GetDiscountPct)
}

func bonusLabel(items []BonusItem) string {
	if len(items) == 1 {
		return fmt.Sprintf("%d× %s added free!", items[0].Quantity, items[0].SKU)
	}
	return fmt.Sprintf("%d bonus items added free!", len(items))
}

// FormatAmount renders minor units as dollars, e.g. 500 as "$5.00".
func FormatAmount(v int64) string {
	return "$" + decimal.New(v, -2).StringFixed(2)
}
