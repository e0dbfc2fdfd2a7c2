package discount

import (
	"slices"
	"strings"
	"time"
)

// CheckEligibility validates code against the order and the customer's usage
// history at time now. Checks run in a fixed order and stop at the first
// failure, so the reported reason is deterministic. A nil result means the
// code may be evaluated; the returned error otherwise is an *IneligibleError
// wrapping one of the eligibility sentinels.
//
// The result is advisory: caps are re-checked atomically at redemption.
func CheckEligibility(code *Code, order Order, usage Usage, now time.Time) error {
	if err := checkEligibility(code, order, usage, now); err != nil {
		return &IneligibleError{Code: code.Code, Err: err}
	}
	return nil
}

func checkEligibility(code *Code, order Order, usage Usage, now time.Time) error {
	if !code.Active {
		return ErrInactive
	}
	if code.StartsAt != nil && now.Before(*code.StartsAt) {
		return ErrNotStarted
	}
	if code.ExpiresAt != nil && now.After(*code.ExpiresAt) {
		return ErrExpired
	}
	if code.MinOrderAmount > 0 && order.Subtotal < code.MinOrderAmount {
		return ErrBelowMinimum
	}
	if !restrictionsPass(code, order) {
		return ErrRestrictionViolated
	}
	if code.FirstOrderOnly && !order.FirstOrder {
		return ErrFirstOrderOnly
	}
	if usage.OrderRedeemed {
		return nil
	}
	if code.MaxUsageTotal != nil && code.CurrentUsageCount >= *code.MaxUsageTotal {
		return ErrUsageCapReached
	}
	perEmail := code.MaxUsagePerEmail
	if perEmail <= 0 {
		perEmail = 1
	}
	if usage.EmailRedemptions >= perEmail {
		return ErrPerEmailCapReached
	}
	return nil
}

// restrictionsPass reports whether every restriction on code admits order.
// Include restrictions of one type are grouped: an allow-list passes when any
// of its entries matches.
func restrictionsPass(code *Code, order Order) bool {
	if code.OwnerEmail != "" && NormalizeEmail(code.OwnerEmail) != order.Email {
		return false
	}

	var (
		includeSKUs    []string
		includeDomains []string
	)
	domain := order.EmailDomain()

	for _, r := range code.Restrictions {
		switch r.Type {
		case RestrictProductSKU:
			if r.Include {
				includeSKUs = append(includeSKUs, r.Value)
				continue
			}
			if order.quantityOf(r.Value) > 0 {
				return false
			}
		case RestrictEmailDomain:
			value := strings.ToLower(strings.TrimPrefix(r.Value, "@"))
			if r.Include {
				includeDomains = append(includeDomains, value)
				continue
			}
			if domain == value {
				return false
			}
		}
	}

	if len(includeSKUs) > 0 && !cartHasAny(order, includeSKUs) {
		return false
	}
	if len(includeDomains) > 0 && !slices.Contains(includeDomains, domain) {
		return false
	}
	return true
}

func cartHasAny(order Order, skus []string) bool {
	for _, sku := range skus {
		if order.quantityOf(sku) > 0 {
			return true
		}
	}
	return false
}
