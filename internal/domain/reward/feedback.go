package reward

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

// FeedbackPrefix marks thank-you coupons issued for post-purchase feedback.
const FeedbackPrefix = "THANKS-"

// DefaultFeedbackTTL is how long a thank-you coupon stays redeemable.
const DefaultFeedbackTTL = 30 * 24 * time.Hour

var (
	// ErrInvalidRating is returned by Issue for a rating outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	// ErrFeedbackExists is returned by FeedbackStore when the order already
	// has a coupon.
	ErrFeedbackExists = errors.New("feedback already recorded for order")
)

// FeedbackCoupon is a thank-you coupon bound to the customer who left
// feedback for an order.
type FeedbackCoupon struct {
	Code        string
	Email       string
	OrderNumber string
	Rating      int
	ExpiresAt   time.Time
	CreatedAt   time.Time
	Use
}

// FeedbackStore persists thank-you coupons.
type FeedbackStore interface {
	// CreateFeedbackCoupon stores c. It returns discount.ErrDuplicateCode on
	// a code collision and ErrFeedbackExists when the order has a coupon.
	CreateFeedbackCoupon(ctx context.Context, c *FeedbackCoupon) error
	// FindFeedbackCoupon returns the coupon for code or discount.ErrUnknownCode.
	FindFeedbackCoupon(ctx context.Context, code string) (*FeedbackCoupon, error)
	// FindFeedbackByOrder returns the coupon issued for an order or
	// discount.ErrUnknownCode.
	FindFeedbackByOrder(ctx context.Context, orderNumber string) (*FeedbackCoupon, error)
	// ListFeedbackCoupons has the same contract as SpinStore.ListSpins.
	ListFeedbackCoupons(ctx context.Context, f discount.ListFilter, now time.Time) ([]FeedbackCoupon, error)
	// MarkFeedbackUsed has the same contract as SpinStore.MarkSpinUsed.
	MarkFeedbackUsed(ctx context.Context, code, orderID string, at time.Time) error
}

var feedbackRule = discount.Percentage{Value: decimal.NewFromInt(10)}

var (
	_ discount.Provider = (*Feedback)(nil)
	_ discount.Catalog  = (*Feedback)(nil)
)

// Feedback issues and resolves THANKS- codes.
type Feedback struct {
	store FeedbackStore
	ttl   time.Duration
	now   func() time.Time
}

// NewFeedback creates a Feedback adapter. A non-positive ttl uses
// DefaultFeedbackTTL.
func NewFeedback(store FeedbackStore, ttl time.Duration) *Feedback {
	if ttl <= 0 {
		ttl = DefaultFeedbackTTL
	}
	return &Feedback{store: store, ttl: ttl, now: time.Now}
}

// Issue records feedback for an order and returns its coupon. Feedback is
// accepted once per order; repeats return the coupon already issued.
func (f *Feedback) Issue(ctx context.Context, email, orderNumber string, rating int) (*FeedbackCoupon, bool, error) {
	if rating < 1 || rating > 5 {
		return nil, false, ErrInvalidRating
	}
	prev, err := f.store.FindFeedbackByOrder(ctx, orderNumber)
	switch {
	case err == nil:
		return prev, true, nil
	case !errors.Is(err, discount.ErrUnknownCode):
		return nil, false, errors.Wrap(err, "find feedback")
	}

	now := f.now()
	c := &FeedbackCoupon{
		Email:       discount.NormalizeEmail(email),
		OrderNumber: orderNumber,
		Rating:      rating,
		ExpiresAt:   now.Add(f.ttl),
		CreatedAt:   now,
	}
	code, err := mint(ctx, FeedbackCode, func(ctx context.Context, code string) error {
		c.Code = code
		return f.store.CreateFeedbackCoupon(ctx, c)
	})
	if errors.Is(err, ErrFeedbackExists) {
		// A concurrent submission for the same order won.
		prev, err := f.store.FindFeedbackByOrder(ctx, orderNumber)
		if err != nil {
			return nil, false, errors.Wrap(err, "find feedback")
		}
		return prev, true, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "create feedback coupon")
	}
	c.Code = code
	return c, false, nil
}

// FeedbackCode mints a code of the form THANKS-XXXXXX.
func FeedbackCode() string {
	return FeedbackPrefix + randomString(6)
}

// Source implements discount.Provider.
func (f *Feedback) Source() discount.Source { return discount.SourceFeedback }

// Owns implements discount.Provider.
func (f *Feedback) Owns(code string) bool { return hasPrefix(code, FeedbackPrefix) }

// Lookup implements discount.Provider.
func (f *Feedback) Lookup(ctx context.Context, code string) (*discount.Code, error) {
	fc, err := f.store.FindFeedbackCoupon(ctx, discount.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	return feedbackView(fc), nil
}

// Prefix implements discount.Catalog.
func (f *Feedback) Prefix() string { return FeedbackPrefix }

// ListCodes implements discount.Catalog.
func (f *Feedback) ListCodes(ctx context.Context, filter discount.ListFilter, now time.Time) ([]discount.Code, error) {
	if filter.Active != nil && !*filter.Active {
		return nil, nil
	}
	coupons, err := f.store.ListFeedbackCoupons(ctx, filter, now)
	if err != nil {
		return nil, errors.Wrap(err, "list feedback coupons")
	}
	out := make([]discount.Code, 0, len(coupons))
	for i := range coupons {
		out = append(out, *feedbackView(&coupons[i]))
	}
	return out, nil
}

func feedbackView(fc *FeedbackCoupon) *discount.Code {
	c := singleUse(fc.Code, discount.SourceFeedback, fc.Use, feedbackRule)
	c.Name = "Thank you: 10% off"
	c.Description = "Thanks for your feedback on order " + fc.OrderNumber
	c.OwnerEmail = fc.Email
	expires := fc.ExpiresAt
	c.ExpiresAt = &expires
	c.CreatedAt = fc.CreatedAt
	return c
}

// Redemptions implements discount.Provider.
func (f *Feedback) Redemptions(ctx context.Context, code, email string) (int, error) {
	fc, err := f.store.FindFeedbackCoupon(ctx, discount.NormalizeCode(code))
	if err != nil {
		return 0, err
	}
	return usedBy(fc.Email, email, fc.Use), nil
}

// RedeemedBy implements discount.Provider.
func (f *Feedback) RedeemedBy(ctx context.Context, code, orderID string) (bool, error) {
	fc, err := f.store.FindFeedbackCoupon(ctx, discount.NormalizeCode(code))
	if err != nil {
		return false, err
	}
	return redeemedFor(fc.Use, orderID), nil
}

// Redeem implements discount.Provider.
func (f *Feedback) Redeem(ctx context.Context, r discount.Redemption) error {
	return f.store.MarkFeedbackUsed(ctx, discount.NormalizeCode(r.Code), r.OrderID, r.RedeemedAt)
}
