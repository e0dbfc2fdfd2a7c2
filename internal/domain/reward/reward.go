// Package reward adapts the promotional code producers (spin wheel, feedback
// thank-you coupons, drip campaign emails) to the discount engine. Each
// adapter owns a code prefix, mints its codes, and exposes them as
// discount.Provider so checkout never special-cases a source.
package reward

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

// alphabet excludes characters that are easy to misread (I, L, O, 0, 1).
const alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// mintAttempts bounds retries when a generated code collides.
const mintAttempts = 5

// ErrCodeSpaceExhausted is returned when every minting attempt collided.
var ErrCodeSpaceExhausted = errors.New("could not mint a unique code")

// Use is the single-use state shared by every reward row.
type Use struct {
	Used    bool
	UsedAt  *time.Time
	OrderID string
}

// randomString returns n characters drawn from alphabet.
func randomString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}

// mint calls create with freshly generated codes until one does not collide.
func mint(ctx context.Context, generate func() string, create func(ctx context.Context, code string) error) (string, error) {
	for range mintAttempts {
		code := generate()
		err := create(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, discount.ErrDuplicateCode) {
			return "", err
		}
	}
	return "", ErrCodeSpaceExhausted
}

// singleUse builds the evaluable view shared by reward codes: active, one
// redemption in total, non-stackable unless the caller says otherwise.
func singleUse(code string, source discount.Source, use Use, rule discount.Rule) *discount.Code {
	one := 1
	c := &discount.Code{
		Code:             code,
		Source:           source,
		Active:           true,
		MaxUsageTotal:    &one,
		MaxUsagePerEmail: 1,
		Rules:            []discount.Rule{rule},
	}
	if use.Used {
		c.CurrentUsageCount = 1
	}
	return c
}

// usedBy reports how many times email redeemed a single-use reward row.
func usedBy(owner, email string, use Use) int {
	if use.Used && discount.NormalizeEmail(owner) == discount.NormalizeEmail(email) {
		return 1
	}
	return 0
}

// redeemedFor reports whether orderID consumed a single-use reward row.
func redeemedFor(use Use, orderID string) bool {
	return use.Used && orderID != "" && use.OrderID == orderID
}

// hasPrefix reports whether code starts with prefix, ignoring case.
func hasPrefix(code, prefix string) bool {
	return strings.HasPrefix(discount.NormalizeCode(code), prefix)
}
