package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
)

// CreateSpin implements reward.SpinStore.
func (s *Store) CreateSpin(_ context.Context, e *reward.SpinEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.spins[e.Code]; ok {
		return discount.ErrDuplicateCode
	}
	for _, prev := range s.spins {
		if prev.Email == e.Email {
			return reward.ErrAlreadySpun
		}
	}
	cp := *e
	s.spins[e.Code] = &cp
	return nil
}

// FindSpin implements reward.SpinStore.
func (s *Store) FindSpin(_ context.Context, code string) (*reward.SpinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.spins[code]
	if !ok {
		return nil, discount.ErrUnknownCode
	}
	cp := *e
	return &cp, nil
}

// FindSpinByEmail implements reward.SpinStore.
func (s *Store) FindSpinByEmail(_ context.Context, email string) (*reward.SpinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.spins {
		if e.Email == email {
			cp := *e
			return &cp, nil
		}
	}
	return nil, discount.ErrUnknownCode
}

// ListSpins implements reward.SpinStore.
func (s *Store) ListSpins(_ context.Context, f discount.ListFilter, now time.Time) ([]reward.SpinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reward.SpinEntry
	for _, e := range s.spins {
		if !f.IncludeExpired && e.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, *e)
	}
	return page(out, f, func(e reward.SpinEntry) (time.Time, string) { return e.CreatedAt, e.Code }), nil
}

// MarkSpinUsed implements reward.SpinStore.
func (s *Store) MarkSpinUsed(_ context.Context, code, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.spins[code]
	if !ok {
		return discount.ErrUnknownCode
	}
	return markUsed(&e.Use, orderID, at)
}

// CreateFeedbackCoupon implements reward.FeedbackStore.
func (s *Store) CreateFeedbackCoupon(_ context.Context, c *reward.FeedbackCoupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.feedback[c.Code]; ok {
		return discount.ErrDuplicateCode
	}
	for _, prev := range s.feedback {
		if prev.OrderNumber == c.OrderNumber {
			return reward.ErrFeedbackExists
		}
	}
	cp := *c
	s.feedback[c.Code] = &cp
	return nil
}

// FindFeedbackCoupon implements reward.FeedbackStore.
func (s *Store) FindFeedbackCoupon(_ context.Context, code string) (*reward.FeedbackCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.feedback[code]
	if !ok {
		return nil, discount.ErrUnknownCode
	}
	cp := *c
	return &cp, nil
}

// FindFeedbackByOrder implements reward.FeedbackStore.
func (s *Store) FindFeedbackByOrder(_ context.Context, orderNumber string) (*reward.FeedbackCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.feedback {
		if c.OrderNumber == orderNumber {
			cp := *c
			return &cp, nil
		}
	}
	return nil, discount.ErrUnknownCode
}

// ListFeedbackCoupons implements reward.FeedbackStore.
func (s *Store) ListFeedbackCoupons(_ context.Context, f discount.ListFilter, now time.Time) ([]reward.FeedbackCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reward.FeedbackCoupon
	for _, c := range s.feedback {
		if !f.IncludeExpired && c.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, *c)
	}
	return page(out, f, func(c reward.FeedbackCoupon) (time.Time, string) { return c.CreatedAt, c.Code }), nil
}

// MarkFeedbackUsed implements reward.FeedbackStore.
func (s *Store) MarkFeedbackUsed(_ context.Context, code, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.feedback[code]
	if !ok {
		return discount.ErrUnknownCode
	}
	return markUsed(&c.Use, orderID, at)
}

// CreateDripCode implements reward.DripStore.
func (s *Store) CreateDripCode(_ context.Context, c *reward.DripCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drips[c.Code]; ok {
		return discount.ErrDuplicateCode
	}
	cp := *c
	s.drips[c.Code] = &cp
	return nil
}

// FindDripCode implements reward.DripStore.
func (s *Store) FindDripCode(_ context.Context, code string) (*reward.DripCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.drips[code]
	if !ok {
		return nil, discount.ErrUnknownCode
	}
	cp := *c
	return &cp, nil
}

// ListDripCodes implements reward.DripStore.
func (s *Store) ListDripCodes(_ context.Context, f discount.ListFilter, now time.Time) ([]reward.DripCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reward.DripCode
	for _, c := range s.drips {
		if !f.IncludeExpired && c.ExpiresAt != nil && c.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, *c)
	}
	return page(out, f, func(c reward.DripCode) (time.Time, string) { return c.SentAt, c.Code }), nil
}

// MarkDripUsed implements reward.DripStore.
func (s *Store) MarkDripUsed(_ context.Context, code, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.drips[code]
	if !ok {
		return discount.ErrUnknownCode
	}
	return markUsed(&c.Use, orderID, at)
}

func markUsed(u *reward.Use, orderID string, at time.Time) error {
	if u.Used {
		if u.OrderID == orderID {
			return nil
		}
		return discount.ErrNoLongerAvailable
	}
	u.Used = true
	u.UsedAt = &at
	u.OrderID = orderID
	return nil
}

// page orders rows newest first and cuts the f.Offset/f.Limit window.
func page[T any](rows []T, f discount.ListFilter, key func(T) (time.Time, string)) []T {
	sort.Slice(rows, func(i, j int) bool {
		ti, ci := key(rows[i])
		tj, cj := key(rows[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ci < cj
	})
	if f.Offset >= len(rows) {
		return nil
	}
	rows = rows[f.Offset:]
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows
}
