package discount

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Repository persists registry codes and their redemptions.
type Repository interface {
	// Create stores the code with its rules and restrictions atomically.
	// Returns ErrDuplicateCode when the code exists.
	Create(ctx context.Context, c *Code) error
	// FindByCode returns the code (case-insensitive) or ErrUnknownCode.
	FindByCode(ctx context.Context, code string) (*Code, error)
	// List returns codes matching f, newest first.
	List(ctx context.Context, f ListFilter, now time.Time) ([]Code, error)
	// Deactivate soft-deletes a code. Returns ErrUnknownCode when absent.
	Deactivate(ctx context.Context, code string) error
	// CountRedemptions counts redemptions of code by email.
	CountRedemptions(ctx context.Context, code, email string) (int, error)
	// OrderRedeemed reports whether orderID has a redemption of code.
	OrderRedeemed(ctx context.Context, code, orderID string) (bool, error)
	// Redeem increments the usage counter only while the code is active and
	// below both caps, and records the redemption, in one atomic step.
	Redeem(ctx context.Context, r Redemption) error
	// UsageStats aggregates redemptions of code.
	UsageStats(ctx context.Context, code string) (*UsageStats, error)
}

// CodeSpec is the admin input for creating a registry code.
type CodeSpec struct {
	Code              string
	Name              string
	Description       string
	Source            Source
	Active            *bool
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	MinOrderAmount    int64
	MaxDiscountAmount int64
	MaxUsageTotal     *int
	MaxUsagePerEmail  int
	FirstOrderOnly    bool
	Stackable         bool
	Priority          int
	Tiered            bool
	Rules             []Rule
	Restrictions      []Restriction
	CreatedBy         string
}

const defaultListLimit = 50

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,64}$`)

var _ Provider = (*Registry)(nil)

// Registry is the source of truth for admin-created codes. It also acts as
// the fallback Provider for codes no reward adapter claims.
type Registry struct {
	repo     Repository
	catalogs []Catalog
	now      func() time.Time
}

// NewRegistry creates a Registry backed by repo. Attached catalogs are listed
// by ListCodes and reserve their prefixes.
func NewRegistry(repo Repository, catalogs ...Catalog) *Registry {
	return &Registry{repo: repo, catalogs: catalogs, now: time.Now}
}

// CreateCode validates spec and persists it as a new code.
func (r *Registry) CreateCode(ctx context.Context, spec CodeSpec) (*Code, error) {
	c, err := buildCode(spec, r.now())
	if err != nil {
		return nil, err
	}
	for _, cat := range r.catalogs {
		if strings.HasPrefix(c.Code, cat.Prefix()) {
			return nil, &RuleError{Field: "code", Reason: "prefix " + cat.Prefix() + " is reserved for " + string(cat.Source()) + " codes"}
		}
	}
	if err := r.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode
		}
		return nil, errors.Wrap(err, "create code")
	}
	return c, nil
}

// FindByCode returns the registry code, or ErrUnknownCode.
func (r *Registry) FindByCode(ctx context.Context, code string) (*Code, error) {
	c, err := r.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrUnknownCode) {
			return nil, ErrUnknownCode
		}
		return nil, errors.Wrap(err, "find code")
	}
	return c, nil
}

// ListCodes returns codes matching f, newest first. A reward source is read
// from its catalog; an empty source merges admin codes with every catalog.
func (r *Registry) ListCodes(ctx context.Context, f ListFilter) ([]Code, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	now := r.now()

	switch f.Source {
	case SourceAdmin:
		codes, err := r.repo.List(ctx, f, now)
		if err != nil {
			return nil, errors.Wrap(err, "list codes")
		}
		return codes, nil
	case "":
	default:
		for _, cat := range r.catalogs {
			if cat.Source() != f.Source {
				continue
			}
			codes, err := cat.ListCodes(ctx, f, now)
			if err != nil {
				return nil, errors.Wrapf(err, "list %s codes", f.Source)
			}
			return codes, nil
		}
		return nil, nil
	}

	// Every source contributes its first Offset+Limit rows; the merged page
	// is cut from their union.
	window := f
	window.Source = SourceAdmin
	window.Offset, window.Limit = 0, f.Offset+f.Limit
	codes, err := r.repo.List(ctx, window, now)
	if err != nil {
		return nil, errors.Wrap(err, "list codes")
	}
	for _, cat := range r.catalogs {
		more, err := cat.ListCodes(ctx, window, now)
		if err != nil {
			return nil, errors.Wrapf(err, "list %s codes", cat.Source())
		}
		codes = append(codes, more...)
	}
	sort.SliceStable(codes, func(i, j int) bool {
		if !codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].CreatedAt.After(codes[j].CreatedAt)
		}
		return codes[i].Code < codes[j].Code
	})
	if f.Offset >= len(codes) {
		return nil, nil
	}
	codes = codes[f.Offset:]
	if len(codes) > f.Limit {
		codes = codes[:f.Limit]
	}
	return codes, nil
}

// Deactivate soft-deletes a code; redeemed codes are never removed.
func (r *Registry) Deactivate(ctx context.Context, code string) error {
	if err := r.repo.Deactivate(ctx, NormalizeCode(code)); err != nil {
		if errors.Is(err, ErrUnknownCode) {
			return ErrUnknownCode
		}
		return errors.Wrap(err, "deactivate code")
	}
	return nil
}

// UsageStats aggregates redemptions of a code.
func (r *Registry) UsageStats(ctx context.Context, code string) (*UsageStats, error) {
	code = NormalizeCode(code)
	if _, err := r.FindByCode(ctx, code); err != nil {
		return nil, err
	}
	stats, err := r.repo.UsageStats(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "usage stats")
	}
	return stats, nil
}

// Source implements Provider.
func (r *Registry) Source() Source { return SourceAdmin }

// Owns implements Provider. The registry accepts any code string, so it must
// be consulted after the reward adapters.
func (r *Registry) Owns(string) bool { return true }

// Lookup implements Provider.
func (r *Registry) Lookup(ctx context.Context, code string) (*Code, error) {
	return r.FindByCode(ctx, code)
}

// Redemptions implements Provider.
func (r *Registry) Redemptions(ctx context.Context, code, email string) (int, error) {
	n, err := r.repo.CountRedemptions(ctx, NormalizeCode(code), NormalizeEmail(email))
	if err != nil {
		return 0, errors.Wrap(err, "count redemptions")
	}
	return n, nil
}

// RedeemedBy implements Provider.
func (r *Registry) RedeemedBy(ctx context.Context, code, orderID string) (bool, error) {
	ok, err := r.repo.OrderRedeemed(ctx, NormalizeCode(code), orderID)
	if err != nil {
		return false, errors.Wrap(err, "order redeemed")
	}
	return ok, nil
}

// Redeem implements Provider.
func (r *Registry) Redeem(ctx context.Context, rd Redemption) error {
	rd.Code = NormalizeCode(rd.Code)
	rd.Email = NormalizeEmail(rd.Email)
	if err := r.repo.Redeem(ctx, rd); err != nil {
		if errors.Is(err, ErrNoLongerAvailable) {
			return ErrNoLongerAvailable
		}
		return errors.Wrap(err, "redeem code")
	}
	return nil
}

// buildCode validates spec and converts it to a Code with defaults applied.
func buildCode(spec CodeSpec, now time.Time) (*Code, error) {
	code := NormalizeCode(spec.Code)
	if !codePattern.MatchString(code) {
		return nil, &RuleError{Field: "code", Reason: "must be 3-64 characters of A-Z, 0-9, '-' or '_'"}
	}
	if spec.Name == "" {
		spec.Name = code
	}
	if spec.Source == "" {
		spec.Source = SourceAdmin
	}
	if spec.Source != SourceAdmin {
		return nil, &RuleError{Field: "source", Reason: "only ADMIN codes can be created, got " + string(spec.Source)}
	}
	if len(spec.Rules) == 0 {
		return nil, &RuleError{Field: "rules", Reason: "at least one rule is required"}
	}
	for i, rule := range spec.Rules {
		if err := validateRule(rule); err != nil {
			err.Field = "rules[" + strconv.Itoa(i) + "]." + err.Field
			return nil, err
		}
	}
	if spec.Tiered {
		if err := validateTiers(spec.Rules); err != nil {
			return nil, err
		}
	}
	for i, res := range spec.Restrictions {
		if res.Value == "" || (res.Type != RestrictProductSKU && res.Type != RestrictEmailDomain) {
			return nil, &RuleError{Field: "restrictions[" + strconv.Itoa(i) + "]", Reason: "needs PRODUCT_SKU or EMAIL_DOMAIN type and a value"}
		}
	}
	if spec.MinOrderAmount < 0 || spec.MaxDiscountAmount < 0 {
		return nil, &RuleError{Field: "amounts", Reason: "must not be negative"}
	}
	if spec.MaxUsageTotal != nil && *spec.MaxUsageTotal < 1 {
		return nil, &RuleError{Field: "maxUsageTotal", Reason: "must be at least 1 when set"}
	}
	if spec.MaxUsagePerEmail == 0 {
		spec.MaxUsagePerEmail = 1
	}
	if spec.MaxUsagePerEmail < 1 {
		return nil, &RuleError{Field: "maxUsagePerEmail", Reason: "must be at least 1"}
	}
	if spec.StartsAt != nil && spec.ExpiresAt != nil && !spec.ExpiresAt.After(*spec.StartsAt) {
		return nil, &RuleError{Field: "expiresAt", Reason: "must be after startsAt"}
	}

	active := true
	if spec.Active != nil {
		active = *spec.Active
	}

	return &Code{
		Code:              code,
		Name:              spec.Name,
		Description:       spec.Description,
		Source:            spec.Source,
		Active:            active,
		StartsAt:          spec.StartsAt,
		ExpiresAt:         spec.ExpiresAt,
		MinOrderAmount:    spec.MinOrderAmount,
		MaxDiscountAmount: spec.MaxDiscountAmount,
		MaxUsageTotal:     spec.MaxUsageTotal,
		MaxUsagePerEmail:  spec.MaxUsagePerEmail,
		FirstOrderOnly:    spec.FirstOrderOnly,
		Stackable:         spec.Stackable,
		Priority:          spec.Priority,
		Tiered:            spec.Tiered,
		Rules:             spec.Rules,
		Restrictions:      spec.Restrictions,
		CreatedBy:         spec.CreatedBy,
		CreatedAt:         now,
	}, nil
}

func validateRule(rule Rule) *RuleError {
	switch r := rule.(type) {
	case Percentage:
		if r.Value.LessThan(decimal.NewFromInt(1)) || r.Value.GreaterThan(hundred) {
			return &RuleError{Field: "value", Reason: "percentage must be between 1 and 100"}
		}
		if r.MaxDiscount < 0 || r.MinOrderAmount < 0 {
			return &RuleError{Field: "value", Reason: "amounts must not be negative"}
		}
	case FixedAmount:
		if r.Value <= 0 {
			return &RuleError{Field: "value", Reason: "fixed amount must be positive"}
		}
	case FreeShipping:
		if r.MinOrderAmount < 0 {
			return &RuleError{Field: "minOrderAmount", Reason: "must not be negative"}
		}
	case BOGO:
		if r.BuySKU == "" || r.GetSKU == "" || r.BuyQuantity <= 0 || r.GetQuantity <= 0 {
			return &RuleError{Field: "bogo", Reason: "buy SKU, buy quantity, get SKU and get quantity are required"}
		}
		if r.GetDiscountPct < 0 || r.GetDiscountPct > 100 {
			return &RuleError{Field: "getDiscountPct", Reason: "must be between 1 and 100"}
		}
	case ProductCredit:
		if r.SKU == "" || r.Quantity <= 0 {
			return &RuleError{Field: "productCredit", Reason: "SKU and a positive quantity are required"}
		}
	case nil:
		return &RuleError{Field: "type", Reason: "missing rule"}
	default:
		return &RuleError{Field: "type", Reason: "unsupported rule type"}
	}
	return nil
}

// validateTiers checks that a tiered code is a schedule of at least two
// PERCENTAGE rules with distinct positive thresholds.
func validateTiers(rules []Rule) *RuleError {
	thresholds := make(map[int64]struct{})
	for _, rule := range rules {
		switch r := rule.(type) {
		case Percentage:
			if r.MinOrderAmount <= 0 {
				return &RuleError{Field: "tiers", Reason: "every tier needs a positive minOrderAmount"}
			}
			if _, dup := thresholds[r.MinOrderAmount]; dup {
				return &RuleError{Field: "tiers", Reason: "tier thresholds must be distinct"}
			}
			thresholds[r.MinOrderAmount] = struct{}{}
		case FixedAmount, BOGO:
			return &RuleError{Field: "tiers", Reason: "a tiered code holds only PERCENTAGE merchandise rules"}
		}
	}
	if len(thresholds) < 2 {
		return &RuleError{Field: "tiers", Reason: "a tiered code needs at least two PERCENTAGE rules"}
	}
	return nil
}
