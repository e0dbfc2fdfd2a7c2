package reward

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

// DripPrefix marks codes embedded in drip campaign emails.
const DripPrefix = "DRIP-"

// DripType is the discount token carried in a drip code.
type DripType string

const (
	Drip10Off    DripType = "10OFF"
	Drip5Off     DripType = "5OFF"
	DripFreeShip DripType = "FREESHIP"
)

// ErrUnknownDripType is returned by Issue for an unsupported token.
var ErrUnknownDripType = errors.New("unknown drip discount type")

// DripCode is a code sent in one campaign email.
type DripCode struct {
	Code        string
	Email       string
	CampaignID  string
	EmailNumber int
	Type        DripType
	SentAt      time.Time
	// ExpiresAt is optional; drip codes do not expire unless the campaign
	// sets a date.
	ExpiresAt *time.Time
	Use
}

// DripStore persists drip codes.
type DripStore interface {
	// CreateDripCode stores c, or returns discount.ErrDuplicateCode on a
	// code collision.
	CreateDripCode(ctx context.Context, c *DripCode) error
	// FindDripCode returns the row for code or discount.ErrUnknownCode.
	FindDripCode(ctx context.Context, code string) (*DripCode, error)
	// ListDripCodes has the same contract as SpinStore.ListSpins; codes
	// without an expiry never count as expired.
	ListDripCodes(ctx context.Context, f discount.ListFilter, now time.Time) ([]DripCode, error)
	// MarkDripUsed has the same contract as SpinStore.MarkSpinUsed.
	MarkDripUsed(ctx context.Context, code, orderID string, at time.Time) error
}

// DripIssue describes a drip code to mint.
type DripIssue struct {
	Email       string
	CampaignID  string
	EmailNumber int
	Type        DripType
	ExpiresAt   *time.Time
}

var (
	_ discount.Provider = (*Drip)(nil)
	_ discount.Catalog  = (*Drip)(nil)
)

// Drip issues and resolves DRIP- codes.
type Drip struct {
	store DripStore
	now   func() time.Time
}

// NewDrip creates a Drip adapter.
func NewDrip(store DripStore) *Drip {
	return &Drip{store: store, now: time.Now}
}

// Issue mints a drip code for one campaign email.
func (d *Drip) Issue(ctx context.Context, in DripIssue) (*DripCode, error) {
	if in.Type == "" {
		in.Type = Drip10Off
	}
	if _, ok := dripRule(in.Type); !ok {
		return nil, ErrUnknownDripType
	}
	c := &DripCode{
		Email:       discount.NormalizeEmail(in.Email),
		CampaignID:  in.CampaignID,
		EmailNumber: in.EmailNumber,
		Type:        in.Type,
		SentAt:      d.now(),
		ExpiresAt:   in.ExpiresAt,
	}
	code, err := mint(ctx, func() string { return DripCodeFor(in.Type) }, func(ctx context.Context, code string) error {
		c.Code = code
		return d.store.CreateDripCode(ctx, c)
	})
	if err != nil {
		return nil, errors.Wrap(err, "create drip code")
	}
	c.Code = code
	return c, nil
}

// DripCodeFor mints a code of the form DRIP-{TYPE}-XXXXXX.
func DripCodeFor(t DripType) string {
	return DripPrefix + string(t) + "-" + randomString(6)
}

// ParseDripType extracts the discount token from a drip code.
func ParseDripType(code string) (DripType, bool) {
	parts := strings.Split(discount.NormalizeCode(code), "-")
	if len(parts) < 3 || parts[0]+"-" != DripPrefix {
		return "", false
	}
	t := DripType(parts[1])
	if _, ok := dripRule(t); !ok {
		return "", false
	}
	return t, true
}

func dripRule(t DripType) (discount.Rule, bool) {
	switch t {
	case Drip10Off:
		return discount.Percentage{Value: decimal.NewFromInt(10)}, true
	case Drip5Off:
		return discount.FixedAmount{Value: 500}, true
	case DripFreeShip:
		return discount.FreeShipping{}, true
	default:
		return nil, false
	}
}

func dripName(t DripType) string {
	switch t {
	case Drip5Off:
		return "$5 off your order"
	case DripFreeShip:
		return "Free shipping"
	default:
		return "10% off your order"
	}
}

// Source implements discount.Provider.
func (d *Drip) Source() discount.Source { return discount.SourceDrip }

// Owns implements discount.Provider.
func (d *Drip) Owns(code string) bool { return hasPrefix(code, DripPrefix) }

// Lookup implements discount.Provider. A malformed token is an unknown code
// even if a row exists.
func (d *Drip) Lookup(ctx context.Context, code string) (*discount.Code, error) {
	if _, ok := ParseDripType(code); !ok {
		return nil, discount.ErrUnknownCode
	}
	dc, err := d.store.FindDripCode(ctx, discount.NormalizeCode(code))
	if err != nil {
		return nil, err
	}
	c, ok := dripView(dc)
	if !ok {
		return nil, discount.ErrUnknownCode
	}
	return c, nil
}

// Prefix implements discount.Catalog.
func (d *Drip) Prefix() string { return DripPrefix }

// ListCodes implements discount.Catalog. Rows with a malformed token are
// skipped.
func (d *Drip) ListCodes(ctx context.Context, f discount.ListFilter, now time.Time) ([]discount.Code, error) {
	if f.Active != nil && !*f.Active {
		return nil, nil
	}
	rows, err := d.store.ListDripCodes(ctx, f, now)
	if err != nil {
		return nil, errors.Wrap(err, "list drip codes")
	}
	out := make([]discount.Code, 0, len(rows))
	for i := range rows {
		if c, ok := dripView(&rows[i]); ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func dripView(dc *DripCode) (*discount.Code, bool) {
	t, ok := ParseDripType(dc.Code)
	if !ok {
		return nil, false
	}
	rule, _ := dripRule(t)
	c := singleUse(dc.Code, discount.SourceDrip, dc.Use, rule)
	c.Name = dripName(t)
	c.Description = "Campaign " + dc.CampaignID
	c.ExpiresAt = dc.ExpiresAt
	c.CreatedAt = dc.SentAt
	// Free shipping combines with other savings.
	c.Stackable = t == DripFreeShip
	return c, true
}

// Redemptions implements discount.Provider.
func (d *Drip) Redemptions(ctx context.Context, code, email string) (int, error) {
	dc, err := d.store.FindDripCode(ctx, discount.NormalizeCode(code))
	if err != nil {
		return 0, err
	}
	return usedBy(dc.Email, email, dc.Use), nil
}

// RedeemedBy implements discount.Provider.
func (d *Drip) RedeemedBy(ctx context.Context, code, orderID string) (bool, error) {
	dc, err := d.store.FindDripCode(ctx, discount.NormalizeCode(code))
	if err != nil {
		return false, err
	}
	return redeemedFor(dc.Use, orderID), nil
}

// Redeem implements discount.Provider.
func (d *Drip) Redeem(ctx context.Context, r discount.Redemption) error {
	return d.store.MarkDripUsed(ctx, discount.NormalizeCode(r.Code), r.OrderID, r.RedeemedAt)
}
