package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
)

func capped(code string, total, perEmail int) *discount.Code {
	return &discount.Code{
		Code:             code,
		Source:           discount.SourceAdmin,
		Active:           true,
		MaxUsageTotal:    &total,
		MaxUsagePerEmail: perEmail,
		Rules:            []discount.Rule{discount.FixedAmount{Value: 500}},
	}
}

func TestStoreRedeem(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, capped("TWICE", 2, 1)))
	require.ErrorIs(t, s.Create(ctx, capped("TWICE", 2, 1)), discount.ErrDuplicateCode)

	r := discount.Redemption{ID: "r1", Code: "TWICE", OrderID: "o1", Email: "a@example.com", Amount: 500, RedeemedAt: time.Now()}
	require.NoError(t, s.Redeem(ctx, r))
	require.NoError(t, s.Redeem(ctx, r), "same order is a no-op")

	r2 := r
	r2.ID, r2.OrderID = "r2", "o2"
	require.ErrorIs(t, s.Redeem(ctx, r2), discount.ErrNoLongerAvailable, "per-email cap")

	r3 := r2
	r3.ID, r3.Email = "r3", "b@example.com"
	require.NoError(t, s.Redeem(ctx, r3))

	r4 := r3
	r4.ID, r4.OrderID, r4.Email = "r4", "o4", "c@example.com"
	require.ErrorIs(t, s.Redeem(ctx, r4), discount.ErrNoLongerAvailable, "total cap")

	c, err := s.FindByCode(ctx, "twice")
	require.NoError(t, err)
	assert.Equal(t, 2, c.CurrentUsageCount)

	ok, err := s.OrderRedeemed(ctx, "TWICE", "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.OrderRedeemed(ctx, "TWICE", "o4")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Deactivate(ctx, "TWICE"))
	require.ErrorIs(t, s.Deactivate(ctx, "NOPE"), discount.ErrUnknownCode)
	require.ErrorIs(t, s.Redeem(ctx, discount.Redemption{Code: "NOPE", OrderID: "o9"}), discount.ErrUnknownCode)
}

func TestStoreRedeemRace(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, capped("RACE", 3, 1)))

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Redeem(ctx, discount.Redemption{
				ID:      fmt.Sprint(i),
				Code:    "RACE",
				OrderID: fmt.Sprintf("o%d", i),
				Email:   fmt.Sprintf("%d@example.com", i),
			})
			switch {
			case err == nil:
				won.Add(1)
			case !errors.Is(err, discount.ErrNoLongerAvailable):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), won.Load())
	stats, err := s.UsageStats(ctx, "RACE")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalUses)
	assert.Equal(t, 3, stats.UniqueEmails)
	assert.Equal(t, int64(0), stats.TotalDiscount)
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(48 * time.Hour)
	past := base

	for i, c := range []*discount.Code{
		{Code: "OLDEST", Source: discount.SourceAdmin, Active: true},
		{Code: "EXPIRED", Source: discount.SourceAdmin, Active: true, ExpiresAt: &past},
		{Code: "PAUSED", Source: discount.SourceAdmin, Active: false},
		{Code: "PARTNER", Source: discount.SourceDrip, Active: true},
		{Code: "NEWEST", Source: discount.SourceAdmin, Active: true},
	} {
		c.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.Create(ctx, c))
	}

	active := true
	for _, tt := range []struct {
		name   string
		filter discount.ListFilter
		want   []string
	}{
		{name: "Default", want: []string{"NEWEST", "PARTNER", "PAUSED", "OLDEST"}},
		{name: "IncludeExpired", filter: discount.ListFilter{IncludeExpired: true}, want: []string{"NEWEST", "PARTNER", "PAUSED", "EXPIRED", "OLDEST"}},
		{name: "Source", filter: discount.ListFilter{Source: discount.SourceDrip}, want: []string{"PARTNER"}},
		{name: "ActiveOnly", filter: discount.ListFilter{Active: &active}, want: []string{"NEWEST", "PARTNER", "OLDEST"}},
		{name: "Page", filter: discount.ListFilter{Limit: 2, Offset: 1}, want: []string{"PARTNER", "PAUSED"}},
		{name: "PastEnd", filter: discount.ListFilter{Offset: 10}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter, now)
			require.NoError(t, err)
			var codes []string
			for _, c := range got {
				codes = append(codes, c.Code)
			}
			assert.Equal(t, tt.want, codes)
		})
	}
}

func TestStoreClonesCodes(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := capped("CLONE", 5, 1)
	require.NoError(t, s.Create(ctx, c))

	*c.MaxUsageTotal = 99
	c.Rules[0] = discount.FreeShipping{}

	got, err := s.FindByCode(ctx, "CLONE")
	require.NoError(t, err)
	assert.Equal(t, 5, *got.MaxUsageTotal)
	assert.Equal(t, discount.FixedAmount{Value: 500}, got.Rules[0])
}

func TestStoreSpinPerEmail(t *testing.T) {
	ctx := context.Background()
	s := New()
	e := &reward.SpinEntry{Code: "SPIN-A", Email: "a@example.com", Prize: "five_off"}
	require.NoError(t, s.CreateSpin(ctx, e))
	require.ErrorIs(t, s.CreateSpin(ctx, e), discount.ErrDuplicateCode)

	other := &reward.SpinEntry{Code: "SPIN-B", Email: "a@example.com", Prize: "jackpot"}
	require.ErrorIs(t, s.CreateSpin(ctx, other), reward.ErrAlreadySpun)

	require.NoError(t, s.MarkSpinUsed(ctx, "SPIN-A", "o1", time.Now()))
	require.NoError(t, s.MarkSpinUsed(ctx, "SPIN-A", "o1", time.Now()))
	require.ErrorIs(t, s.MarkSpinUsed(ctx, "SPIN-A", "o2", time.Now()), discount.ErrNoLongerAvailable)
	require.ErrorIs(t, s.MarkSpinUsed(ctx, "SPIN-Z", "o1", time.Now()), discount.ErrUnknownCode)
}

func TestStoreFeedbackPerOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := &reward.FeedbackCoupon{Code: "THANKS-AAAAAA", OrderNumber: "ORD-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateFeedbackCoupon(ctx, c))
	require.ErrorIs(t, s.CreateFeedbackCoupon(ctx, c), discount.ErrDuplicateCode)

	other := &reward.FeedbackCoupon{Code: "THANKS-BBBBBB", OrderNumber: "ORD-1"}
	require.ErrorIs(t, s.CreateFeedbackCoupon(ctx, other), reward.ErrFeedbackExists)
}

func TestStoreListRewards(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	for i, e := range []*reward.SpinEntry{
		{Code: "SPIN-A", Email: "a@example.com", ExpiresAt: now.Add(time.Hour)},
		{Code: "SPIN-B", Email: "b@example.com", ExpiresAt: past},
		{Code: "SPIN-C", Email: "c@example.com", ExpiresAt: now.Add(time.Hour)},
	} {
		e.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateSpin(ctx, e))
	}
	require.NoError(t, s.CreateDripCode(ctx, &reward.DripCode{Code: "DRIP-5OFF-AAAAAA", SentAt: now}))
	require.NoError(t, s.CreateDripCode(ctx, &reward.DripCode{Code: "DRIP-5OFF-BBBBBB", SentAt: now, ExpiresAt: &past}))

	spinCodes := func(f discount.ListFilter) []string {
		t.Helper()
		got, err := s.ListSpins(ctx, f, now)
		require.NoError(t, err)
		var out []string
		for _, e := range got {
			out = append(out, e.Code)
		}
		return out
	}
	assert.Equal(t, []string{"SPIN-C", "SPIN-A"}, spinCodes(discount.ListFilter{}))
	assert.Equal(t, []string{"SPIN-C", "SPIN-B", "SPIN-A"}, spinCodes(discount.ListFilter{IncludeExpired: true}))
	assert.Equal(t, []string{"SPIN-B"}, spinCodes(discount.ListFilter{IncludeExpired: true, Offset: 1, Limit: 1}))

	drips, err := s.ListDripCodes(ctx, discount.ListFilter{}, now)
	require.NoError(t, err)
	require.Len(t, drips, 1)
	assert.Equal(t, "DRIP-5OFF-AAAAAA", drips[0].Code)
}
