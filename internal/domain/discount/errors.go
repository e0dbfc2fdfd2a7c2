package discount

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Eligibility failures. They are expected outcomes, reported per code.
var (
	ErrInactive            = errors.New("code inactive")
	ErrNotStarted          = errors.New("code not started")
	ErrExpired             = errors.New("code expired")
	ErrBelowMinimum        = errors.New("order below minimum")
	ErrRestrictionViolated = errors.New("restriction violated")
	ErrFirstOrderOnly      = errors.New("first order only")
	ErrUsageCapReached     = errors.New("usage cap reached")
	ErrPerEmailCapReached  = errors.New("per-email cap reached")
	// ErrNotCombinable marks an eligible code displaced by a non-stackable one.
	ErrNotCombinable = errors.New("cannot be combined with other codes")
)

var (
	// ErrUnknownCode is returned when no provider recognises a code.
	ErrUnknownCode = errors.New("unknown code")
	// ErrNoLongerAvailable is returned by redemption when a cap was reached
	// between quote and commit. Checkout should re-quote without the code.
	ErrNoLongerAvailable = errors.New("code no longer available")
	// ErrDuplicateCode is returned by CreateCode when the code already exists.
	ErrDuplicateCode = errors.New("duplicate code")
	// ErrInvalidRule is returned by CreateCode for a malformed code spec.
	ErrInvalidRule = errors.New("invalid rule")
)

// IneligibleError attributes an eligibility failure to a code.
type IneligibleError struct {
	Code string
	Err  error
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("code %s: %s", e.Code, e.Err)
}

func (e *IneligibleError) Unwrap() error { return e.Err }

// RuleError describes why a code spec was rejected at creation.
type RuleError struct {
	Field  string
	Reason string
}

func (e *RuleError) Error() string {
	if e.Field == "" {
		return "invalid rule: " + e.Reason
	}
	return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Reason)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRule }

// ShopperMessage maps a per-code failure to the text shown at checkout.
func ShopperMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownCode):
		return "Invalid discount code"
	case errors.Is(err, ErrInactive):
		return "This discount code is no longer active"
	case errors.Is(err, ErrNotStarted):
		return "This discount code is not yet active"
	case errors.Is(err, ErrExpired):
		return "This discount code has expired"
	case errors.Is(err, ErrBelowMinimum):
		return "Your order does not meet the minimum for this discount"
	case errors.Is(err, ErrRestrictionViolated):
		return "This discount code is not valid for this order"
	case errors.Is(err, ErrFirstOrderOnly):
		return "This discount code is only valid for first-time orders"
	case errors.Is(err, ErrUsageCapReached):
		return "This discount code has reached its usage limit"
	case errors.Is(err, ErrPerEmailCapReached):
		return "You have already used this discount code"
	case errors.Is(err, ErrNotCombinable):
		return "This discount code cannot be combined with your other discount"
	case errors.Is(err, ErrNoLongerAvailable):
		return "This discount code is no longer available"
	default:
		return "This discount code could not be applied"
	}
}
