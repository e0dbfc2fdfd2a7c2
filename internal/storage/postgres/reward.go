package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
)

const (
	spinColumns = `code, email, prize, expires_at, created_at, used, used_at, used_order_id`

	insertSpinSQL = `INSERT INTO spin_wheel_entries (code, email, prize, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	getSpinSQL        = `SELECT ` + spinColumns + ` FROM spin_wheel_entries WHERE code = $1`
	getSpinByEmailSQL = `SELECT ` + spinColumns + ` FROM spin_wheel_entries WHERE email = $1`
	listSpinsSQL      = `SELECT ` + spinColumns + ` FROM spin_wheel_entries
		WHERE $1 OR expires_at >= $2
		ORDER BY created_at DESC, code LIMIT $3 OFFSET $4`

	feedbackColumns = `code, email, order_number, rating, expires_at, created_at, used, used_at, used_order_id`

	insertFeedbackSQL = `INSERT INTO feedback_coupons (code, email, order_number, rating, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	getFeedbackSQL        = `SELECT ` + feedbackColumns + ` FROM feedback_coupons WHERE code = $1`
	getFeedbackByOrderSQL = `SELECT ` + feedbackColumns + ` FROM feedback_coupons WHERE order_number = $1`
	listFeedbackSQL       = `SELECT ` + feedbackColumns + ` FROM feedback_coupons
		WHERE $1 OR expires_at >= $2
		ORDER BY created_at DESC, code LIMIT $3 OFFSET $4`

	dripColumns = `code, email, campaign_id, email_number, discount_type, sent_at, expires_at, used, used_at, used_order_id`

	insertDripSQL = `INSERT INTO drip_codes (code, email, campaign_id, email_number, discount_type, sent_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	getDripSQL   = `SELECT ` + dripColumns + ` FROM drip_codes WHERE code = $1`
	listDripsSQL = `SELECT ` + dripColumns + ` FROM drip_codes
		WHERE $1 OR expires_at IS NULL OR expires_at >= $2
		ORDER BY sent_at DESC, code LIMIT $3 OFFSET $4`
)

const (
	spinEmailConstraint     = "spin_wheel_entries_email_key"
	feedbackOrderConstraint = "feedback_coupons_order_number_key"
)

var (
	_ reward.SpinStore     = (*RewardRepository)(nil)
	_ reward.FeedbackStore = (*RewardRepository)(nil)
	_ reward.DripStore     = (*RewardRepository)(nil)
)

// RewardRepository stores spin, feedback and drip codes in PostgreSQL.
type RewardRepository struct {
	pool *pgxpool.Pool
}

// NewRewardRepository returns a RewardRepository that uses the given pool.
func NewRewardRepository(pool *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{pool: pool}
}

// CreateSpin inserts a spin entry.
func (r *RewardRepository) CreateSpin(ctx context.Context, e *reward.SpinEntry) error {
	_, err := r.pool.Exec(ctx, insertSpinSQL, e.Code, e.Email, e.Prize, e.ExpiresAt, e.CreatedAt)
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == spinEmailConstraint {
			return reward.ErrAlreadySpun
		}
		return discount.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("inserting spin %q: %w", e.Code, err)
	}
	return nil
}

// FindSpin looks up a spin entry by code.
func (r *RewardRepository) FindSpin(ctx context.Context, code string) (*reward.SpinEntry, error) {
	return findOne(ctx, r.pool, getSpinSQL, code, scanSpin)
}

// FindSpinByEmail looks up the spin entry of an email.
func (r *RewardRepository) FindSpinByEmail(ctx context.Context, email string) (*reward.SpinEntry, error) {
	return findOne(ctx, r.pool, getSpinByEmailSQL, email, scanSpin)
}

// ListSpins returns a page of spin entries, newest first.
func (r *RewardRepository) ListSpins(ctx context.Context, f discount.ListFilter, now time.Time) ([]reward.SpinEntry, error) {
	return listPage(ctx, r.pool, listSpinsSQL, f, now, scanSpin)
}

// MarkSpinUsed flips a spin entry to used.
func (r *RewardRepository) MarkSpinUsed(ctx context.Context, code, orderID string, at time.Time) error {
	return r.markUsed(ctx, "spin_wheel_entries", code, orderID, at)
}

// CreateFeedbackCoupon inserts a thank-you coupon.
func (r *RewardRepository) CreateFeedbackCoupon(ctx context.Context, c *reward.FeedbackCoupon) error {
	_, err := r.pool.Exec(ctx, insertFeedbackSQL, c.Code, c.Email, c.OrderNumber, c.Rating, c.ExpiresAt, c.CreatedAt)
	if constraint, ok := uniqueConstraint(err); ok {
		if constraint == feedbackOrderConstraint {
			return reward.ErrFeedbackExists
		}
		return discount.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("inserting feedback coupon %q: %w", c.Code, err)
	}
	return nil
}

// FindFeedbackCoupon looks up a thank-you coupon by code.
func (r *RewardRepository) FindFeedbackCoupon(ctx context.Context, code string) (*reward.FeedbackCoupon, error) {
	return findOne(ctx, r.pool, getFeedbackSQL, code, scanFeedback)
}

// FindFeedbackByOrder looks up the thank-you coupon issued for an order.
func (r *RewardRepository) FindFeedbackByOrder(ctx context.Context, orderNumber string) (*reward.FeedbackCoupon, error) {
	return findOne(ctx, r.pool, getFeedbackByOrderSQL, orderNumber, scanFeedback)
}

// ListFeedbackCoupons returns a page of thank-you coupons, newest first.
func (r *RewardRepository) ListFeedbackCoupons(ctx context.Context, f discount.ListFilter, now time.Time) ([]reward.FeedbackCoupon, error) {
	return listPage(ctx, r.pool, listFeedbackSQL, f, now, scanFeedback)
}

// MarkFeedbackUsed flips a thank-you coupon to used.
func (r *RewardRepository) MarkFeedbackUsed(ctx context.Context, code, orderID string, at time.Time) error {
	return r.markUsed(ctx, "feedback_coupons", code, orderID, at)
}

// CreateDripCode inserts a drip code.
func (r *RewardRepository) CreateDripCode(ctx context.Context, c *reward.DripCode) error {
	_, err := r.pool.Exec(ctx, insertDripSQL,
		c.Code, c.Email, c.CampaignID, c.EmailNumber, string(c.Type), c.SentAt, c.ExpiresAt,
	)
	if _, ok := uniqueConstraint(err); ok {
		return discount.ErrDuplicateCode
	}
	if err != nil {
		return fmt.Errorf("inserting drip code %q: %w", c.Code, err)
	}
	return nil
}

// FindDripCode looks up a drip code.
func (r *RewardRepository) FindDripCode(ctx context.Context, code string) (*reward.DripCode, error) {
	return findOne(ctx, r.pool, getDripSQL, code, scanDrip)
}

// ListDripCodes returns a page of drip codes, newest first.
func (r *RewardRepository) ListDripCodes(ctx context.Context, f discount.ListFilter, now time.Time) ([]reward.DripCode, error) {
	return listPage(ctx, r.pool, listDripsSQL, f, now, scanDrip)
}

// MarkDripUsed flips a drip code to used.
func (r *RewardRepository) MarkDripUsed(ctx context.Context, code, orderID string, at time.Time) error {
	return r.markUsed(ctx, "drip_codes", code, orderID, at)
}

// markUsed sets the single-use marker with a conditional update. When no row
// changed it reads back who used the code to tell a replay of the same order
// from a lost race.
func (r *RewardRepository) markUsed(ctx context.Context, table, code, orderID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE `+table+` SET used = TRUE, used_at = $3, used_order_id = $2 WHERE code = $1 AND NOT used`,
		code, orderID, at,
	)
	if err != nil {
		return fmt.Errorf("marking %s %q used: %w", table, code, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var usedBy string
	err = r.pool.QueryRow(ctx, `SELECT used_order_id FROM `+table+` WHERE code = $1`, code).Scan(&usedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return discount.ErrUnknownCode
		}
		return fmt.Errorf("reading %s %q: %w", table, code, err)
	}
	if usedBy == orderID {
		return nil
	}
	return discount.ErrNoLongerAvailable
}

func findOne[T any](ctx context.Context, pool *pgxpool.Pool, sql, key string, scan pgx.RowToFunc[T]) (*T, error) {
	rows, err := pool.Query(ctx, sql, key)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", key, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrUnknownCode
		}
		return nil, fmt.Errorf("querying %q: %w", key, err)
	}
	return &v, nil
}

func listPage[T any](ctx context.Context, pool *pgxpool.Pool, sql string, f discount.ListFilter, now time.Time, scan pgx.RowToFunc[T]) ([]T, error) {
	limit := any(nil)
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := pool.Query(ctx, sql, f.IncludeExpired, now, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing rewards: %w", err)
	}
	out, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("listing rewards: %w", err)
	}
	return out, nil
}

func scanSpin(row pgx.CollectableRow) (reward.SpinEntry, error) {
	var e reward.SpinEntry
	err := row.Scan(&e.Code, &e.Email, &e.Prize, &e.ExpiresAt, &e.CreatedAt, &e.Used, &e.UsedAt, &e.OrderID)
	return e, err
}

func scanFeedback(row pgx.CollectableRow) (reward.FeedbackCoupon, error) {
	var c reward.FeedbackCoupon
	err := row.Scan(
		&c.Code, &c.Email, &c.OrderNumber, &c.Rating, &c.ExpiresAt, &c.CreatedAt,
		&c.Used, &c.UsedAt, &c.OrderID,
	)
	return c, err
}

func scanDrip(row pgx.CollectableRow) (reward.DripCode, error) {
	var (
		c   reward.DripCode
		typ string
	)
	err := row.Scan(
		&c.Code, &c.Email, &c.CampaignID, &c.EmailNumber, &typ, &c.SentAt, &c.ExpiresAt,
		&c.Used, &c.UsedAt, &c.OrderID,
	)
	c.Type = reward.DripType(typ)
	return c, err
}
