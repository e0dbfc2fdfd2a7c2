//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
	"github.com/xenking/tortilla-discounts/internal/storage/postgres"
	"github.com/xenking/tortilla-discounts/internal/storage/rediscache"
)

var (
	pool     *pgxpool.Pool
	redisURL string
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "discount",
				"POSTGRES_PASSWORD": "discount",
				"POSTGRES_DB":       "discount",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pg.Terminate(context.Background()) }()

	rd, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("redis container: %v", err)
	}
	defer func() { _ = rd.Terminate(context.Background()) }()

	pgURL := endpoint(ctx, pg, "5432/tcp", "postgres://discount:discount@%s:%s/discount?sslmode=disable")
	redisURL = endpoint(ctx, rd, "6379/tcp", "redis://%s:%s/0")

	pool, err = postgres.NewPool(ctx, pgURL)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	// The schema is idempotent.
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations rerun: %v", err)
	}
	return m.Run()
}

func endpoint(ctx context.Context, c testcontainers.Container, port, format string) string {
	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf(format, host, mapped.Port())
}

func tieredSpec(code string) discount.CodeSpec {
	total := 1
	return discount.CodeSpec{
		Code:          code,
		Name:          "Spend more, save more",
		Tiered:        true,
		MaxUsageTotal: &total,
		Rules: []discount.Rule{
			discount.Percentage{Value: decimal.RequireFromString("15"), MinOrderAmount: 5000},
			discount.Percentage{Value: decimal.RequireFromString("10"), MinOrderAmount: 2000},
		},
		Restrictions: []discount.Restriction{
			{Type: discount.RestrictEmailDomain, Value: "mailinator.com"},
			{Type: discount.RestrictProductSKU, Value: "GIFT-CARD"},
		},
		CreatedBy: "integration",
	}
}

func TestCodeRepository(t *testing.T) {
	ctx := context.Background()
	reg := discount.NewRegistry(postgres.NewCodeRepository(pool))

	created, err := reg.CreateCode(ctx, tieredSpec("PGTIERS"))
	require.NoError(t, err)
	_, err = reg.CreateCode(ctx, tieredSpec("pgtiers"))
	require.ErrorIs(t, err, discount.ErrDuplicateCode)

	got, err := reg.FindByCode(ctx, "pgtiers")
	require.NoError(t, err)
	assert.Equal(t, created.Code, got.Code)
	assert.True(t, got.Tiered)
	require.Len(t, got.Rules, 2)
	first, ok := got.Rules[0].(discount.Percentage)
	require.True(t, ok)
	assert.True(t, first.Value.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, int64(5000), first.MinOrderAmount)
	assert.ElementsMatch(t, created.Restrictions, got.Restrictions)

	_, err = reg.FindByCode(ctx, "MISSING")
	require.ErrorIs(t, err, discount.ErrUnknownCode)

	codes, err := reg.ListCodes(ctx, discount.ListFilter{Source: discount.SourceAdmin})
	require.NoError(t, err)
	assert.NotEmpty(t, codes)
}

func TestCodeRepositoryRedeemRace(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewCodeRepository(pool)
	reg := discount.NewRegistry(repo)
	_, err := reg.CreateCode(ctx, tieredSpec("PGRACE"))
	require.NoError(t, err)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won []string
	)
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orderID := fmt.Sprintf("race-%d", i)
			err := reg.Redeem(ctx, discount.Redemption{
				ID:         fmt.Sprintf("00000000-0000-0000-0000-%012d", i),
				Code:       "PGRACE",
				Source:     discount.SourceAdmin,
				OrderID:    orderID,
				Email:      fmt.Sprintf("r%d@example.com", i),
				Amount:     300,
				RedeemedAt: time.Now(),
			})
			if err == nil {
				mu.Lock()
				won = append(won, orderID)
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, discount.ErrNoLongerAvailable)
		}()
	}
	wg.Wait()
	require.Len(t, won, 1)

	// Retrying the winning order is a no-op.
	require.NoError(t, reg.Redeem(ctx, discount.Redemption{
		ID:         "00000000-0000-0000-0000-999999999999",
		Code:       "PGRACE",
		OrderID:    won[0],
		Email:      "someone@example.com",
		RedeemedAt: time.Now(),
	}))

	done, err := reg.RedeemedBy(ctx, "PGRACE", won[0])
	require.NoError(t, err)
	assert.True(t, done)

	stats, err := reg.UsageStats(ctx, "PGRACE")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalUses)
	assert.Equal(t, int64(300), stats.TotalDiscount)

	c, err := reg.FindByCode(ctx, "PGRACE")
	require.NoError(t, err)
	assert.Equal(t, 1, c.CurrentUsageCount)
}

func TestRewardRepository(t *testing.T) {
	ctx := context.Background()
	rewards := postgres.NewRewardRepository(pool)

	wheel := reward.NewSpinWheel(rewards, 0)
	res, err := wheel.Spin(ctx, "pg-spin@example.com", "five_off")
	require.NoError(t, err)
	again, err := wheel.Spin(ctx, "PG-SPIN@example.com", "")
	require.NoError(t, err)
	assert.True(t, again.AlreadySpun)
	assert.Equal(t, res.Entry.Code, again.Entry.Code)

	r := discount.Redemption{Code: res.Entry.Code, OrderID: "pg-order-1", Email: "pg-spin@example.com", RedeemedAt: time.Now()}
	require.NoError(t, wheel.Redeem(ctx, r))
	require.NoError(t, wheel.Redeem(ctx, r))
	r.OrderID = "pg-order-2"
	require.ErrorIs(t, wheel.Redeem(ctx, r), discount.ErrNoLongerAvailable)

	fb := reward.NewFeedback(rewards, 0)
	coupon, repeated, err := fb.Issue(ctx, "pg-fb@example.com", "PG-ORD-1", 5)
	require.NoError(t, err)
	assert.False(t, repeated)
	same, repeated, err := fb.Issue(ctx, "pg-fb@example.com", "PG-ORD-1", 2)
	require.NoError(t, err)
	assert.True(t, repeated)
	assert.Equal(t, coupon.Code, same.Code)

	// A second coupon for the same order hits the order constraint, not the
	// code one.
	err = rewards.CreateFeedbackCoupon(ctx, &reward.FeedbackCoupon{
		Code: "THANKS-ZZZZZZ", Email: "pg-fb@example.com", OrderNumber: "PG-ORD-1", Rating: 4,
		ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	})
	require.ErrorIs(t, err, reward.ErrFeedbackExists)

	drip := reward.NewDrip(rewards)
	dc, err := drip.Issue(ctx, reward.DripIssue{Email: "pg-drip@example.com", CampaignID: "welcome", EmailNumber: 3, Type: reward.DripFreeShip})
	require.NoError(t, err)
	def, err := drip.Lookup(ctx, dc.Code)
	require.NoError(t, err)
	assert.True(t, def.Stackable)
	assert.Nil(t, def.ExpiresAt)

	listed := func(cat discount.Catalog) []string {
		t.Helper()
		codes, err := cat.ListCodes(ctx, discount.ListFilter{Limit: 100}, time.Now())
		require.NoError(t, err)
		var out []string
		for _, c := range codes {
			assert.Equal(t, cat.Source(), c.Source)
			out = append(out, c.Code)
		}
		return out
	}
	assert.Contains(t, listed(wheel), res.Entry.Code)
	assert.Contains(t, listed(fb), coupon.Code)
	assert.Contains(t, listed(drip), dc.Code)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	rdb, err := rediscache.Dial(ctx, redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	cached := rediscache.New(postgres.NewCodeRepository(pool), rdb, time.Minute, zaptest.NewLogger(t))
	reg := discount.NewRegistry(cached)
	_, err = reg.CreateCode(ctx, discount.CodeSpec{
		Code:  "PGCACHE",
		Rules: []discount.Rule{discount.FixedAmount{Value: 500}},
	})
	require.NoError(t, err)

	c, err := reg.FindByCode(ctx, "PGCACHE")
	require.NoError(t, err)
	assert.True(t, c.Active)

	n, err := rdb.Exists(ctx, "discount:code:PGCACHE").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Deactivation evicts, so the next read sees the change.
	require.NoError(t, reg.Deactivate(ctx, "PGCACHE"))
	c, err = reg.FindByCode(ctx, "PGCACHE")
	require.NoError(t, err)
	assert.False(t, c.Active)

	_, err = reg.FindByCode(ctx, "PGCACHE-MISSING")
	require.ErrorIs(t, err, discount.ErrUnknownCode)
}
