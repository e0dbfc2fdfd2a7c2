// Package memory provides in-process implementations of the discount and
// reward stores. It backs development runs without a database and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
)

const recentRedemptions = 10

var (
	_ discount.Repository  = (*Store)(nil)
	_ reward.SpinStore     = (*Store)(nil)
	_ reward.FeedbackStore = (*Store)(nil)
	_ reward.DripStore     = (*Store)(nil)
)

// Store keeps every table in maps guarded by one mutex, so redemption's
// check-then-increment is atomic just as the database transaction is.
type Store struct {
	mu          sync.Mutex
	codes       map[string]*discount.Code
	redemptions []discount.Redemption

	spins    map[string]*reward.SpinEntry
	feedback map[string]*reward.FeedbackCoupon
	drips    map[string]*reward.DripCode
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		codes:    make(map[string]*discount.Code),
		spins:    make(map[string]*reward.SpinEntry),
		feedback: make(map[string]*reward.FeedbackCoupon),
		drips:    make(map[string]*reward.DripCode),
	}
}

// Create implements discount.Repository.
func (s *Store) Create(_ context.Context, c *discount.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[c.Code]; ok {
		return discount.ErrDuplicateCode
	}
	s.codes[c.Code] = cloneCode(c)
	return nil
}

// FindByCode implements discount.Repository.
func (s *Store) FindByCode(_ context.Context, code string) (*discount.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[discount.NormalizeCode(code)]
	if !ok {
		return nil, discount.ErrUnknownCode
	}
	return cloneCode(c), nil
}

// List implements discount.Repository.
func (s *Store) List(_ context.Context, f discount.ListFilter, now time.Time) ([]discount.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []discount.Code
	for _, c := range s.codes {
		if f.Source != "" && c.Source != f.Source {
			continue
		}
		if f.Active != nil && c.Active != *f.Active {
			continue
		}
		if !f.IncludeExpired && c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, *cloneCode(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Deactivate implements discount.Repository.
func (s *Store) Deactivate(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return discount.ErrUnknownCode
	}
	c.Active = false
	return nil
}

// CountRedemptions implements discount.Repository.
func (s *Store) CountRedemptions(_ context.Context, code, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.countLocked(code, email), nil
}

func (s *Store) countLocked(code, email string) int {
	n := 0
	for _, r := range s.redemptions {
		if r.Code == code && r.Email == email {
			n++
		}
	}
	return n
}

// OrderRedeemed implements discount.Repository.
func (s *Store) OrderRedeemed(_ context.Context, code, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.redemptions {
		if r.Code == code && r.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

// Redeem implements discount.Repository.
func (s *Store) Redeem(_ context.Context, r discount.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[r.Code]
	if !ok {
		return discount.ErrUnknownCode
	}
	for _, prev := range s.redemptions {
		if prev.Code == r.Code && prev.OrderID == r.OrderID {
			return nil
		}
	}
	if !c.Active {
		return discount.ErrNoLongerAvailable
	}
	if c.MaxUsageTotal != nil && c.CurrentUsageCount >= *c.MaxUsageTotal {
		return discount.ErrNoLongerAvailable
	}
	perEmail := max(c.MaxUsagePerEmail, 1)
	if s.countLocked(r.Code, r.Email) >= perEmail {
		return discount.ErrNoLongerAvailable
	}

	c.CurrentUsageCount++
	s.redemptions = append(s.redemptions, r)
	return nil
}

// UsageStats implements discount.Repository.
func (s *Store) UsageStats(_ context.Context, code string) (*discount.UsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &discount.UsageStats{Code: code}
	emails := make(map[string]struct{})
	var rs []discount.Redemption
	for _, r := range s.redemptions {
		if r.Code != code {
			continue
		}
		stats.TotalUses++
		stats.TotalDiscount += r.Amount
		emails[r.Email] = struct{}{}
		rs = append(rs, r)
	}
	stats.UniqueEmails = len(emails)

	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].RedeemedAt.After(rs[j].RedeemedAt)
	})
	if len(rs) > recentRedemptions {
		rs = rs[:recentRedemptions]
	}
	stats.Recent = rs
	return stats, nil
}

func cloneCode(c *discount.Code) *discount.Code {
	out := *c
	out.Rules = slices.Clone(c.Rules)
	out.Restrictions = slices.Clone(c.Restrictions)
	if c.MaxUsageTotal != nil {
		v := *c.MaxUsageTotal
		out.MaxUsageTotal = &v
	}
	return &out
}
