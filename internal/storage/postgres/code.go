package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
)

const (
	codeColumns = `code, name, description, source, is_active, starts_at, expires_at,
		min_order_amount, max_discount_amount, max_usage_total, max_usage_per_email,
		current_usage_count, first_order_only, stackable, priority, tiered, owner_email,
		created_by, created_at`

	insertCodeSQL = `INSERT INTO discount_codes (` + codeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	insertRuleSQL = `INSERT INTO discount_rules (code, position, rule_type, value, max_discount,
		min_order_amount, buy_sku, buy_quantity, get_sku, get_quantity, get_discount_pct,
		sku, quantity, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertRestrictionSQL = `INSERT INTO discount_restrictions (code, restriction_type, value, is_include)
		VALUES ($1, $2, $3, $4)`

	getCodeSQL = `SELECT ` + codeColumns + ` FROM discount_codes WHERE code = UPPER($1)`

	listRulesSQL = `SELECT code, rule_type, value, max_discount, min_order_amount,
		buy_sku, buy_quantity, get_sku, get_quantity, get_discount_pct, sku, quantity, priority
		FROM discount_rules WHERE code = ANY($1) ORDER BY code, position`

	listRestrictionsSQL = `SELECT code, restriction_type, value, is_include
		FROM discount_restrictions WHERE code = ANY($1) ORDER BY code, id`

	deactivateCodeSQL = `UPDATE discount_codes SET is_active = FALSE WHERE code = $1`

	countRedemptionsSQL = `SELECT count(*) FROM discount_redemptions WHERE code = $1 AND email = $2`

	lockCodeSQL = `SELECT is_active, max_usage_total, max_usage_per_email, current_usage_count
		FROM discount_codes WHERE code = $1 FOR UPDATE`

	redeemedByOrderSQL = `SELECT EXISTS (SELECT 1 FROM discount_redemptions WHERE code = $1 AND order_id = $2)`

	insertRedemptionSQL = `INSERT INTO discount_redemptions (id, code, source, order_id, email, amount, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	incrementUsageSQL = `UPDATE discount_codes SET current_usage_count = current_usage_count + 1 WHERE code = $1`

	usageTotalsSQL = `SELECT count(*), count(DISTINCT email), COALESCE(sum(amount), 0)
		FROM discount_redemptions WHERE code = $1`

	recentRedemptionsSQL = `SELECT id, code, source, order_id, email, amount, redeemed_at
		FROM discount_redemptions WHERE code = $1 ORDER BY redeemed_at DESC LIMIT 10`
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ discount.Repository = (*CodeRepository)(nil)

// CodeRepository implements discount.Repository backed by PostgreSQL.
type CodeRepository struct {
	pool *pgxpool.Pool
}

// NewCodeRepository returns a CodeRepository that uses the given pool.
func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{pool: pool}
}

// Create inserts the code with its rules and restrictions in one transaction.
func (r *CodeRepository) Create(ctx context.Context, c *discount.Code) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning create of %q: %w", c.Code, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertCodeSQL,
		c.Code, c.Name, c.Description, string(c.Source), c.Active, c.StartsAt, c.ExpiresAt,
		c.MinOrderAmount, c.MaxDiscountAmount, c.MaxUsageTotal, c.MaxUsagePerEmail,
		c.CurrentUsageCount, c.FirstOrderOnly, c.Stackable, c.Priority, c.Tiered, c.OwnerEmail,
		c.CreatedBy, c.CreatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return discount.ErrDuplicateCode
		}
		return fmt.Errorf("inserting code %q: %w", c.Code, err)
	}

	for i, rule := range c.Rules {
		row := encodeRule(c.Code, rule)
		_, err := tx.Exec(ctx, insertRuleSQL,
			row.Code, i, row.Type, row.Value, row.MaxDiscount, row.MinOrderAmount,
			row.BuySKU, row.BuyQuantity, row.GetSKU, row.GetQuantity, row.GetDiscountPct,
			row.SKU, row.Quantity, row.Priority,
		)
		if err != nil {
			return fmt.Errorf("inserting rule %d of %q: %w", i, c.Code, err)
		}
	}
	for i, res := range c.Restrictions {
		if _, err := tx.Exec(ctx, insertRestrictionSQL, c.Code, string(res.Type), res.Value, res.Include); err != nil {
			return fmt.Errorf("inserting restriction %d of %q: %w", i, c.Code, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing code %q: %w", c.Code, err)
	}
	return nil
}

// FindByCode loads a code with its rules and restrictions.
// Returns discount.ErrUnknownCode when no such code exists.
func (r *CodeRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	rows, err := r.pool.Query(ctx, getCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrUnknownCode
		}
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}

	codes := []*discount.Code{&c}
	if err := loadDetails(ctx, r.pool, codes); err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns codes matching f, newest first.
func (r *CodeRepository) List(ctx context.Context, f discount.ListFilter, now time.Time) ([]discount.Code, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Source != "" {
		where = append(where, "source = "+arg(string(f.Source)))
	}
	if f.Active != nil {
		where = append(where, "is_active = "+arg(*f.Active))
	}
	if !f.IncludeExpired {
		where = append(where, "(expires_at IS NULL OR expires_at >= "+arg(now)+")")
	}

	sql := `SELECT ` + codeColumns + ` FROM discount_codes`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at DESC, code LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, scanCode)
	if err != nil {
		return nil, fmt.Errorf("listing codes: %w", err)
	}

	ptrs := make([]*discount.Code, len(codes))
	for i := range codes {
		ptrs[i] = &codes[i]
	}
	if err := loadDetails(ctx, r.pool, ptrs); err != nil {
		return nil, err
	}
	return codes, nil
}

// Deactivate marks a code inactive. Returns discount.ErrUnknownCode when no
// row matched.
func (r *CodeRepository) Deactivate(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, deactivateCodeSQL, code)
	if err != nil {
		return fmt.Errorf("deactivating code %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrUnknownCode
	}
	return nil
}

// CountRedemptions counts redemptions of code by email.
func (r *CodeRepository) CountRedemptions(ctx context.Context, code, email string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countRedemptionsSQL, code, email).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting redemptions of %q: %w", code, err)
	}
	return n, nil
}

// OrderRedeemed reports whether orderID already redeemed code.
func (r *CodeRepository) OrderRedeemed(ctx context.Context, code, orderID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, redeemedByOrderSQL, code, orderID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking redemption of %q by order %q: %w", code, orderID, err)
	}
	return ok, nil
}

// Redeem records a redemption under a row lock on the code, so concurrent
// redemptions serialize on the cap checks. A repeat for the same order is a
// no-op; a code that became inactive or capped since the quote yields
// discount.ErrNoLongerAvailable.
func (r *CodeRepository) Redeem(ctx context.Context, rd discount.Redemption) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning redemption of %q: %w", rd.Code, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		active   bool
		maxTotal *int
		perEmail int
		current  int
	)
	if err := tx.QueryRow(ctx, lockCodeSQL, rd.Code).Scan(&active, &maxTotal, &perEmail, &current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return discount.ErrUnknownCode
		}
		return fmt.Errorf("locking code %q: %w", rd.Code, err)
	}

	var done bool
	if err := tx.QueryRow(ctx, redeemedByOrderSQL, rd.Code, rd.OrderID).Scan(&done); err != nil {
		return fmt.Errorf("checking redemption of %q: %w", rd.Code, err)
	}
	if done {
		return nil
	}

	if !active || (maxTotal != nil && current >= *maxTotal) {
		return discount.ErrNoLongerAvailable
	}
	var used int
	if err := tx.QueryRow(ctx, countRedemptionsSQL, rd.Code, rd.Email).Scan(&used); err != nil {
		return fmt.Errorf("counting redemptions of %q: %w", rd.Code, err)
	}
	if used >= max(perEmail, 1) {
		return discount.ErrNoLongerAvailable
	}

	if _, err := tx.Exec(ctx, insertRedemptionSQL,
		rd.ID, rd.Code, string(rd.Source), rd.OrderID, rd.Email, rd.Amount, rd.RedeemedAt,
	); err != nil {
		return fmt.Errorf("inserting redemption of %q: %w", rd.Code, err)
	}
	if _, err := tx.Exec(ctx, incrementUsageSQL, rd.Code); err != nil {
		return fmt.Errorf("incrementing usage of %q: %w", rd.Code, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing redemption of %q: %w", rd.Code, err)
	}
	return nil
}

// UsageStats aggregates the redemptions of code.
func (r *CodeRepository) UsageStats(ctx context.Context, code string) (*discount.UsageStats, error) {
	stats := &discount.UsageStats{Code: code}
	if err := r.pool.QueryRow(ctx, usageTotalsSQL, code).Scan(
		&stats.TotalUses, &stats.UniqueEmails, &stats.TotalDiscount,
	); err != nil {
		return nil, fmt.Errorf("usage totals of %q: %w", code, err)
	}

	rows, err := r.pool.Query(ctx, recentRedemptionsSQL, code)
	if err != nil {
		return nil, fmt.Errorf("recent redemptions of %q: %w", code, err)
	}
	stats.Recent, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (discount.Redemption, error) {
		var (
			rd     discount.Redemption
			source string
		)
		err := row.Scan(&rd.ID, &rd.Code, &source, &rd.OrderID, &rd.Email, &rd.Amount, &rd.RedeemedAt)
		rd.Source = discount.Source(source)
		return rd, err
	})
	if err != nil {
		return nil, fmt.Errorf("recent redemptions of %q: %w", code, err)
	}
	return stats, nil
}

// loadDetails fills Rules and Restrictions of codes with two batched queries.
func loadDetails(ctx context.Context, q querier, codes []*discount.Code) error {
	if len(codes) == 0 {
		return nil
	}
	byCode := make(map[string]*discount.Code, len(codes))
	keys := make([]string, len(codes))
	for i, c := range codes {
		byCode[c.Code] = c
		keys[i] = c.Code
	}

	rows, err := q.Query(ctx, listRulesSQL, keys)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	ruleRows, err := pgx.CollectRows(rows, scanRuleRow)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	for _, row := range ruleRows {
		rule, err := row.decode()
		if err != nil {
			return err
		}
		c := byCode[row.Code]
		c.Rules = append(c.Rules, rule)
	}

	rows, err = q.Query(ctx, listRestrictionsSQL, keys)
	if err != nil {
		return fmt.Errorf("loading restrictions: %w", err)
	}
	type restrictionRow struct {
		code string
		res  discount.Restriction
	}
	resRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (restrictionRow, error) {
		var (
			rr  restrictionRow
			typ string
		)
		err := row.Scan(&rr.code, &typ, &rr.res.Value, &rr.res.Include)
		rr.res.Type = discount.RestrictionType(typ)
		return rr, err
	})
	if err != nil {
		return fmt.Errorf("loading restrictions: %w", err)
	}
	for _, rr := range resRows {
		c := byCode[rr.code]
		c.Restrictions = append(c.Restrictions, rr.res)
	}
	return nil
}

func scanCode(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c      discount.Code
		source string
	)
	err := row.Scan(
		&c.Code, &c.Name, &c.Description, &source, &c.Active, &c.StartsAt, &c.ExpiresAt,
		&c.MinOrderAmount, &c.MaxDiscountAmount, &c.MaxUsageTotal, &c.MaxUsagePerEmail,
		&c.CurrentUsageCount, &c.FirstOrderOnly, &c.Stackable, &c.Priority, &c.Tiered, &c.OwnerEmail,
		&c.CreatedBy, &c.CreatedAt,
	)
	c.Source = discount.Source(source)
	return c, err
}
