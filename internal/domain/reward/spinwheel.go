package reward

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

// SpinPrefix marks codes won on the spin wheel.
const SpinPrefix = "SPIN-"

// DefaultSpinTTL is how long a won prize stays redeemable.
const DefaultSpinTTL = 15 * time.Minute

var (
	// ErrUnknownPrize is returned by Grant for a prize id not in the table.
	ErrUnknownPrize = errors.New("unknown prize")
	// ErrAlreadySpun is returned when the email already used or let expire
	// its one spin.
	ErrAlreadySpun = errors.New("email already spun")
)

// Prize is one wheel segment. Weight is its share out of 100; zero-weight
// prizes are only awarded when requested explicitly.
type Prize struct {
	ID          string
	Name        string
	Description string
	Weight      int
	Rule        discount.Rule
}

var prizes = []Prize{
	{
		ID: "ten_percent", Name: "10% OFF", Description: "10% off your order (up to $10 max)!", Weight: 5,
		Rule: discount.Percentage{Value: decimal.NewFromInt(10), MaxDiscount: 1000},
	},
	{
		ID: "free_sauce", Name: "Free Green Sauce", Description: "H-E-B That Green Sauce added to your order!", Weight: 8,
		Rule: discount.ProductCredit{SKU: "HEB-GREEN-SAUCE", Quantity: 1, Value: 1200},
	},
	{
		ID: "free_shipping", Name: "FREE Shipping", Description: "Free shipping on this order!", Weight: 22,
		Rule: discount.FreeShipping{},
	},
	{
		ID: "bonus_tortillas", Name: "10 Bonus Tortillas", Description: "10 extra tortillas added FREE!", Weight: 25,
		Rule: discount.ProductCredit{SKU: "BONUS-TORTILLAS-10", Quantity: 1, Value: 500},
	},
	{
		ID: "five_off", Name: "$5 OFF", Description: "$5 off your order!", Weight: 40,
		Rule: discount.FixedAmount{Value: 500},
	},
	{
		ID: "jackpot", Name: "25% OFF", Description: "25% off your order!",
		Rule: discount.Percentage{Value: decimal.NewFromInt(25)},
	},
}

// Prizes returns the wheel segments.
func Prizes() []Prize {
	out := make([]Prize, len(prizes))
	copy(out, prizes)
	return out
}

// PrizeByID returns the prize with the given id.
func PrizeByID(id string) (Prize, bool) {
	for _, p := range prizes {
		if p.ID == id {
			return p, true
		}
	}
	return Prize{}, false
}

// SpinEntry is one email's spin and the prize it won.
type SpinEntry struct {
	Code      string
	Email     string
	Prize     string
	ExpiresAt time.Time
	CreatedAt time.Time
	Use
}

// SpinStore persists spin entries.
type SpinStore interface {
	// CreateSpin stores e. Returns discount.ErrDuplicateCode on a code
	// collision and ErrAlreadySpun when the email already has an entry.
	CreateSpin(ctx context.Context, e *SpinEntry) error
	// FindSpin returns the entry for code or discount.ErrUnknownCode.
	FindSpin(ctx context.Context, code string) (*SpinEntry, error)
	// FindSpinByEmail returns the email's entry or discount.ErrUnknownCode.
	FindSpinByEmail(ctx context.Context, email string) (*SpinEntry, error)
	// ListSpins returns entries newest first, honoring f.IncludeExpired,
	// f.Limit and f.Offset.
	ListSpins(ctx context.Context, f discount.ListFilter, now time.Time) ([]SpinEntry, error)
	// MarkSpinUsed flips the entry to used if it is not already. It returns
	// nil when orderID already used it and discount.ErrNoLongerAvailable
	// when another order did.
	MarkSpinUsed(ctx context.Context, code, orderID string, at time.Time) error
}

// SpinResult is the outcome of a spin request.
type SpinResult struct {
	Entry *SpinEntry
	Prize Prize
	// AlreadySpun is set when an earlier, still redeemable spin was returned.
	AlreadySpun bool
}

var (
	_ discount.Provider = (*SpinWheel)(nil)
	_ discount.Catalog  = (*SpinWheel)(nil)
)

// SpinWheel awards one prize per email and resolves SPIN- codes.
type SpinWheel struct {
	store SpinStore
	ttl   time.Duration
	now   func() time.Time
	roll  func() int
}

// NewSpinWheel creates a SpinWheel. A non-positive ttl uses DefaultSpinTTL.
func NewSpinWheel(store SpinStore, ttl time.Duration) *SpinWheel {
	if ttl <= 0 {
		ttl = DefaultSpinTTL
	}
	return &SpinWheel{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		roll:  func() int { return rand.IntN(100) },
	}
}

// Spin awards a prize to email. prizeID, when it names a segment on the
// wheel, keeps the award in sync with the wheel the shopper saw; any other
// value, off-wheel prizes included, falls back to a weighted draw. Each email
// spins once: a previous unused, unexpired spin is returned as is.
func (w *SpinWheel) Spin(ctx context.Context, email, prizeID string) (*SpinResult, error) {
	prize, ok := PrizeByID(prizeID)
	if !ok || prize.Weight == 0 {
		prize = w.draw()
	}
	return w.award(ctx, email, prize)
}

// Grant awards a specific prize, including off-wheel ones like the jackpot.
// It backs staff tooling and must never take shopper input.
func (w *SpinWheel) Grant(ctx context.Context, email, prizeID string) (*SpinResult, error) {
	prize, ok := PrizeByID(prizeID)
	if !ok {
		return nil, ErrUnknownPrize
	}
	return w.award(ctx, email, prize)
}

func (w *SpinWheel) award(ctx context.Context, email string, prize Prize) (*SpinResult, error) {
	email = discount.NormalizeEmail(email)
	now := w.now()

	prev, err := w.store.FindSpinByEmail(ctx, email)
	switch {
	case err == nil:
		if prev.Used || !now.Before(prev.ExpiresAt) {
			return nil, ErrAlreadySpun
		}
		p, ok := PrizeByID(prev.Prize)
		if !ok {
			return nil, discount.ErrUnknownCode
		}
		return &SpinResult{Entry: prev, Prize: p, AlreadySpun: true}, nil
	case !errors.Is(err, discount.ErrUnknownCode):
		return nil, errors.Wrap(err, "find spin")
	}

	entry := &SpinEntry{
		Email:     email,
		Prize:     prize.ID,
		ExpiresAt: now.Add(w.ttl),
		CreatedAt: now,
	}
	code, err := mint(ctx, func() string { return SpinCode(prize.ID) }, func(ctx context.Context, code string) error {
		entry.Code = code
		return w.store.CreateSpin(ctx, entry)
	})
	if err != nil {
		return nil, errors.Wrap(err, "create spin")
	}
	entry.Code = code
	return &SpinResult{Entry: entry, Prize: prize}, nil
}

// draw picks a wheel segment by weight.
func (w *SpinWheel) draw() Prize {
	n := w.roll()
	cumulative := 0
	var last Prize
	for _, p := range prizes {
		if p.Weight == 0 {
			continue
		}
		last = p
		cumulative += p.Weight
		if n < cumulative {
			return p
		}
	}
	return last
}

// SpinCode mints a code of the form SPIN-{PRIZE}-{8 hex}.
func SpinCode(prizeID string) string {
	short := strings.ToUpper(strings.Replace(prizeID, "_", "", 1))
	return SpinPrefix + short + "-" + strings.ToUpper(uuid.NewString()[:8])
}

// Source implements discount.Provider.
func (w *SpinWheel) Source() discount.Source { return discount.SourceSpinWheel }

// Owns implements discount.Provider.
func (w *SpinWheel) Owns(code string) bool { return hasPrefix(code, SpinPrefix) }

// Lookup implements discount.Provider.
func (w *SpinWheel) Lookup(ctx context.Context, code string) (*discount.Code, error) {
	e, err := w.store.FindSpin(ctx, discount.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	c, ok := spinView(e)
	if !ok {
		return nil, discount.ErrUnknownCode
	}
	return c, nil
}

// Prefix implements discount.Catalog.
func (w *SpinWheel) Prefix() string { return SpinPrefix }

// ListCodes implements discount.Catalog. Entries whose prize left the table
// are skipped.
func (w *SpinWheel) ListCodes(ctx context.Context, f discount.ListFilter, now time.Time) ([]discount.Code, error) {
	if f.Active != nil && !*f.Active {
		return nil, nil
	}
	entries, err := w.store.ListSpins(ctx, f, now)
	if err != nil {
		return nil, errors.Wrap(err, "list spins")
	}
	out := make([]discount.Code, 0, len(entries))
	for i := range entries {
		if c, ok := spinView(&entries[i]); ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func spinView(e *SpinEntry) (*discount.Code, bool) {
	prize, ok := PrizeByID(e.Prize)
	if !ok {
		return nil, false
	}
	c := singleUse(e.Code, discount.SourceSpinWheel, e.Use, prize.Rule)
	c.Name = prize.Name
	c.Description = prize.Description
	expires := e.ExpiresAt
	c.ExpiresAt = &expires
	c.CreatedAt = e.CreatedAt
	return c, true
}

// Redemptions implements discount.Provider.
func (w *SpinWheel) Redemptions(ctx context.Context, code, email string) (int, error) {
	e, err := w.store.FindSpin(ctx, discount.NormalizeCode(code))
	if err != nil {
		return 0, err
	}
	return usedBy(e.Email, email, e.Use), nil
}

// RedeemedBy implements discount.Provider.
func (w *SpinWheel) RedeemedBy(ctx context.Context, code, orderID string) (bool, error) {
	e, err := w.store.FindSpin(ctx, discount.NormalizeCode(code))
	if err != nil {
		return false, err
	}
	return redeemedFor(e.Use, orderID), nil
}

// Redeem implements discount.Provider.
func (w *SpinWheel) Redeem(ctx context.Context, r discount.Redemption) error {
	return w.store.MarkSpinUsed(ctx, discount.NormalizeCode(r.Code), r.OrderID, r.RedeemedAt)
}
