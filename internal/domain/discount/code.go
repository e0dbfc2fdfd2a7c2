package discount

import (
	"strings"
	"time"
)

// Source identifies the subsystem that minted a discount code.
type Source string

const (
	// SourceAdmin marks codes created through the admin registry.
	SourceAdmin Source = "ADMIN"
	// SourceSpinWheel marks prizes won on the spin-the-wheel promotion.
	SourceSpinWheel Source = "SPIN_WHEEL"
	// SourceFeedback marks thank-you rewards issued after post-purchase feedback.
	SourceFeedback Source = "FEEDBACK"
	// SourceDrip marks codes embedded in scheduled drip campaign emails.
	SourceDrip Source = "DRIP"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceAdmin, SourceSpinWheel, SourceFeedback, SourceDrip:
		return true
	default:
		return false
	}
}

// Code is the normalized, evaluable shape of a discount code. Registry codes
// and reward codes produced by the adapters share this representation.
type Code struct {
	Code        string
	Name        string
	Description string
	Source      Source
	Active      bool

	StartsAt  *time.Time
	ExpiresAt *time.Time

	// MinOrderAmount is the minimum merchandise subtotal in minor units.
	// Zero means no minimum.
	MinOrderAmount int64
	// MaxDiscountAmount caps the merchandise discount. Zero means no cap.
	MaxDiscountAmount int64

	// MaxUsageTotal is the global redemption cap; nil means unlimited.
	MaxUsageTotal    *int
	MaxUsagePerEmail int
	// CurrentUsageCount only ever grows, through redemption.
	CurrentUsageCount int

	FirstOrderOnly bool
	Stackable      bool
	// Priority orders codes for stacking and breaks ties; lower wins.
	Priority int
	// Tiered marks the PERCENTAGE rules as one threshold schedule.
	Tiered bool
	// OwnerEmail binds a code to a single customer when set.
	OwnerEmail string

	Rules        []Rule
	Restrictions []Restriction

	CreatedBy string
	CreatedAt time.Time
}

// UsageCapped reports whether the code has a global redemption cap.
func (c *Code) UsageCapped() bool {
	return c.MaxUsageTotal != nil
}

// RestrictionType enumerates the gating conditions a code may carry.
type RestrictionType string

const (
	RestrictProductSKU  RestrictionType = "PRODUCT_SKU"
	RestrictEmailDomain RestrictionType = "EMAIL_DOMAIN"
)

// Restriction narrows which orders a code applies to. Include restrictions
// form an allow-list, exclude restrictions a deny-list.
type Restriction struct {
	Type    RestrictionType
	Value   string
	Include bool
}

// LineItem is a single cart line.
type LineItem struct {
	SKU       string
	Quantity  int
	UnitPrice int64
}

// Order is the read-only context a discount is evaluated against. All
// amounts are in minor currency units.
type Order struct {
	Items        []LineItem
	Subtotal     int64
	Email        string
	FirstOrder   bool
	ShippingCost int64
}

// Normalize returns a copy with a lower-cased email and, when Subtotal is
// zero, a subtotal computed from the line items.
func (o Order) Normalize() Order {
	o.Email = NormalizeEmail(o.Email)
	if o.Subtotal == 0 {
		o.Subtotal = lineTotal(o.Items)
	}
	return o
}

// EmailDomain returns the part of the email after the last '@'.
func (o Order) EmailDomain() string {
	i := strings.LastIndexByte(o.Email, '@')
	if i < 0 {
		return ""
	}
	return o.Email[i+1:]
}

// quantityOf returns the total quantity of sku across cart lines.
func (o Order) quantityOf(sku string) int {
	n := 0
	for _, it := range o.Items {
		if it.SKU == sku {
			n += it.Quantity
		}
	}
	return n
}

// unitPriceOf returns the unit price of the first line carrying sku.
func (o Order) unitPriceOf(sku string) (int64, bool) {
	for _, it := range o.Items {
		if it.SKU == sku {
			return it.UnitPrice, true
		}
	}
	return 0, false
}

func lineTotal(items []LineItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.UnitPrice * int64(it.Quantity)
	}
	return sum
}

// NormalizeCode trims and upper-cases a code string.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Usage is the per-customer redemption history for one code, gathered
// before evaluation.
type Usage struct {
	// EmailRedemptions counts prior redemptions of the code by the order's email.
	EmailRedemptions int
	// OrderRedeemed is set when the order being redeemed already consumed the
	// code, so its own use does not count against the caps.
	OrderRedeemed bool
}

// Redemption records one consumed use of a code.
type Redemption struct {
	ID         string
	Code       string
	Source     Source
	OrderID    string
	Email      string
	Amount     int64
	RedeemedAt time.Time
}

// UsageStats aggregates redemptions of a single code for the admin surface.
type UsageStats struct {
	Code          string
	TotalUses     int
	UniqueEmails  int
	TotalDiscount int64
	Recent        []Redemption
}

// ListFilter narrows ListCodes results.
type ListFilter struct {
	Source         Source
	Active         *bool
	IncludeExpired bool
	Limit          int
	Offset         int
}

// BonusItem is a product added to the order at no charge.
type BonusItem struct {
	SKU      string
	Quantity int
	Value    int64
}
