package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
	"github.com/xenking/tortilla-discounts/internal/storage/postgres"
)

const seedAuthor = "seed-db"

func main() {
	var (
		databaseURL string
		demoEmail   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&demoEmail, "demo-email", "demo@tortilla.shop", "shopper email the sample reward codes are issued to")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, demoEmail); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, demoEmail string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rewards := postgres.NewRewardRepository(pool)
	registry := discount.NewRegistry(postgres.NewCodeRepository(pool),
		reward.NewSpinWheel(rewards, 0), reward.NewFeedback(rewards, 0), reward.NewDrip(rewards),
	)
	if err := seedCodes(ctx, registry); err != nil {
		return errors.Wrap(err, "seed codes")
	}

	if err := seedRewards(ctx, rewards, demoEmail); err != nil {
		return errors.Wrap(err, "seed rewards")
	}

	return nil
}

func sampleCodes() []discount.CodeSpec {
	cap500 := 500
	return []discount.CodeSpec{
		{
			Code:        "WELCOME10",
			Name:        "Welcome 10%",
			Description: "10% off your first order",
			Rules: []discount.Rule{
				discount.Percentage{Value: decimal.NewFromInt(10), MaxDiscount: 2000},
			},
			FirstOrderOnly:   true,
			MaxUsagePerEmail: 1,
		},
		{
			Code:        "SAVE10PLUS",
			Name:        "Spend more, save more",
			Description: "10% off $20+, 15% off $50+",
			Tiered:      true,
			Rules: []discount.Rule{
				discount.Percentage{Value: decimal.NewFromInt(15), MinOrderAmount: 5000},
				discount.Percentage{Value: decimal.NewFromInt(10), MinOrderAmount: 2000},
			},
		},
		{
			Code:           "SHIPFREE",
			Name:           "Free shipping",
			Description:    "Free shipping on orders over $35",
			MinOrderAmount: 3500,
			Stackable:      true,
			Priority:       10,
			Rules:          []discount.Rule{discount.FreeShipping{}},
		},
		{
			Code:        "TACOTUESDAY",
			Name:        "Taco Tuesday",
			Description: "Buy 2 packs of corn tortillas, get 1 free",
			Rules: []discount.Rule{
				discount.BOGO{BuySKU: "CORN-TORTILLAS-30", BuyQuantity: 2, GetSKU: "CORN-TORTILLAS-30", GetQuantity: 1, GetDiscountPct: 100},
			},
		},
		{
			Code:          "FIVEOFF",
			Name:          "$5 off",
			Description:   "$5 off orders over $25, limited run",
			MaxUsageTotal: &cap500,
			Rules:         []discount.Rule{discount.FixedAmount{Value: 500, MinOrderAmount: 2500}},
			Restrictions: []discount.Restriction{
				{Type: discount.RestrictEmailDomain, Value: "mailinator.com", Include: false},
			},
		},
	}
}

func seedCodes(ctx context.Context, registry *discount.Registry) error {
	specs := sampleCodes()
	slog.Info("seeding discount codes", slog.Int("count", len(specs)))

	for _, spec := range specs {
		spec.CreatedBy = seedAuthor
		c, err := registry.CreateCode(ctx, spec)
		switch {
		case errors.Is(err, discount.ErrDuplicateCode):
			slog.Info("code already present", slog.String("code", spec.Code))
		case err != nil:
			return errors.Wrapf(err, "create code %s", spec.Code)
		default:
			slog.Info("created code", slog.String("code", c.Code), slog.String("name", c.Name))
		}
	}

	return nil
}

func seedRewards(ctx context.Context, repo *postgres.RewardRepository, email string) error {
	slog.Info("seeding reward codes", slog.String("email", email))

	spin, err := reward.NewSpinWheel(repo, 24*time.Hour).Spin(ctx, email, "five_off")
	switch {
	case errors.Is(err, reward.ErrAlreadySpun):
		slog.Info("spin already consumed", slog.String("email", email))
	case err != nil:
		return errors.Wrap(err, "spin")
	default:
		slog.Info("spin-wheel code", slog.String("code", spin.Entry.Code), slog.Bool("already_spun", spin.AlreadySpun))
	}

	coupon, _, err := reward.NewFeedback(repo, reward.DefaultFeedbackTTL).Issue(ctx, email, "SEED-ORDER-1", 5)
	if err != nil {
		return errors.Wrap(err, "feedback coupon")
	}
	slog.Info("feedback code", slog.String("code", coupon.Code))

	drip := reward.NewDrip(repo)
	for i, t := range []reward.DripType{reward.Drip10Off, reward.Drip5Off, reward.DripFreeShip} {
		c, err := drip.Issue(ctx, reward.DripIssue{
			Email:       email,
			CampaignID:  "seed-welcome-series",
			EmailNumber: i + 1,
			Type:        t,
		})
		if err != nil {
			return errors.Wrapf(err, "drip code %s", t)
		}
		slog.Info("drip code", slog.String("code", c.Code), slog.String("type", string(t)))
	}

	return nil
}
